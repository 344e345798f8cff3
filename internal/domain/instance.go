// Package domain holds the wire/storage-stable types shared across the
// bridge: instance records, conversation turns, session state, and health
// records.
package domain

import (
	"regexp"
	"time"
)

// Variant is the closed set of instance transports.
type Variant string

const (
	VariantTerminal  Variant = "tmux"
	VariantContainer Variant = "docker"
)

// CommMode is the closed set of container communication protocols.
type CommMode string

const (
	CommFIFO CommMode = "fifo"
	CommExec CommMode = "exec"
)

// Status is the instance lifecycle status.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusCrashed Status = "crashed"
)

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,63}$`)

var reservedNames = map[string]struct{}{
	"all": {}, "none": {}, "default": {}, "system": {},
}

// ValidName reports whether name satisfies the instance-name invariant in
// spec.md §3: letters/digits/_/-, <=64 chars, starting with a letter, and
// not a reserved word.
func ValidName(name string) bool {
	if !namePattern.MatchString(name) {
		return false
	}
	_, reserved := reservedNames[name]
	return !reserved
}

// Instance is the persisted record for one Claude Code instance, tagged by
// Variant per the "terminal fields present iff terminal" invariant.
type Instance struct {
	Name    string  `json:"name"`
	Variant Variant `json:"instance_type"`
	Status  Status  `json:"status"`

	CreatedAt    time.Time  `json:"created_at"`
	LastActivity *time.Time `json:"last_activity,omitempty"`

	// Terminal-variant fields (present iff Variant == VariantTerminal).
	TmuxSession string `json:"tmux_session,omitempty"`
	PID         int    `json:"pid,omitempty"`
	Cwd         string `json:"cwd,omitempty"`

	// Container-variant fields (present iff Variant == VariantContainer).
	ContainerID   string   `json:"container_id,omitempty"`
	ContainerName string   `json:"container_name,omitempty"`
	ImageName     string   `json:"image_name,omitempty"`
	DockerNetwork string   `json:"docker_network,omitempty"`
	CommMode      CommMode `json:"communication_mode,omitempty"`
}

// Valid reports whether the instance satisfies the variant-field invariant.
func (i Instance) Valid() bool {
	switch i.Variant {
	case VariantTerminal:
		return i.TmuxSession != "" && i.ContainerID == ""
	case VariantContainer:
		return i.ContainerID != "" && i.TmuxSession == ""
	default:
		return false
	}
}

// Touch stamps LastActivity with the given time.
func (i *Instance) Touch(at time.Time) {
	i.LastActivity = &at
}
