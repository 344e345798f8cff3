package pipe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestChannelCreateExistClose(t *testing.T) {
	dir := t.TempDir()
	c := New("claude-1", dir)

	if c.Exist() {
		t.Fatal("Exist() should be false before Create")
	}
	if err := c.Create(); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !c.Exist() {
		t.Fatal("Exist() should be true after Create")
	}

	if got := c.InPath; got != filepath.Join(dir, "claude-1.in.fifo") {
		t.Fatalf("InPath = %q, want %s", got, filepath.Join(dir, "claude-1.in.fifo"))
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.Exist() {
		t.Fatal("Exist() should be false after Close")
	}
}

func TestChannelCreateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	c := New("claude-1", dir)

	if err := c.Create(); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}
	if err := c.Create(); err != nil {
		t.Fatalf("second Create() error = %v, want a clean re-create", err)
	}
}

func TestChannelWriteCommandAndReadCommands(t *testing.T) {
	dir := t.TempDir()
	c := New("claude-1", dir)
	if err := c.Create(); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.WriteCommand(ctx, "hello instance", 2*time.Second)
	}()

	var got string
	for line, err := range c.ReadCommands(ctx, 2*time.Second) {
		if err != nil {
			t.Fatalf("ReadCommands() error = %v", err)
		}
		got = line
		break
	}

	if err := <-errCh; err != nil {
		t.Fatalf("WriteCommand() error = %v", err)
	}
	if got != "hello instance" {
		t.Fatalf("ReadCommands() first line = %q, want %q", got, "hello instance")
	}
}

func TestChannelWriteCommandTimesOutWithoutReader(t *testing.T) {
	dir := t.TempDir()
	c := New("claude-1", dir)
	if err := c.Create(); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer c.Close()

	err := c.WriteCommand(context.Background(), "nobody home", 150*time.Millisecond)
	if err == nil {
		t.Fatal("WriteCommand() should time out when nothing reads the input pipe")
	}
}

func TestChannelExistFalseWhenOneFifoMissing(t *testing.T) {
	dir := t.TempDir()
	c := New("claude-1", dir)
	if err := c.Create(); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := os.Remove(c.OutPath); err != nil {
		t.Fatalf("os.Remove() error = %v", err)
	}
	if c.Exist() {
		t.Fatal("Exist() should be false when only one fifo is present")
	}
}
