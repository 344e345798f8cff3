package domain

import "testing"

func TestHealthRecordAggregate(t *testing.T) {
	tests := []struct {
		name             string
		containerRunning bool
		pipesExist       bool
		want             bool
	}{
		{"both up", true, true, true},
		{"container down", false, true, false},
		{"pipes missing", true, false, false},
		{"both down", false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &HealthRecord{ContainerRunning: tt.containerRunning, PipesExist: tt.pipesExist}
			rec.Aggregate()
			if rec.Healthy != tt.want {
				t.Errorf("Healthy = %v, want %v", rec.Healthy, tt.want)
			}
		})
	}
}
