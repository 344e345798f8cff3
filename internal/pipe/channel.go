// Package pipe implements the named-pipe (FIFO) channel used to talk to a
// Claude instance running inside a container in daemon mode: one FIFO pair
// per instance, newline-framed commands in, free-form text out.
package pipe

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cc-bridge/cc-bridge/internal/bridgeerr"
)

const (
	pipeMode      = 0o660
	openRetryWait = 100 * time.Millisecond
	readChunkSize = 4096
)

// Channel is a directional FIFO pair for one instance: <dir>/<name>.in.fifo
// (host writes, container reads) and <dir>/<name>.out.fifo (container
// writes, host reads).
type Channel struct {
	InstanceName string
	Dir          string
	InPath       string
	OutPath      string

	logger *slog.Logger
}

// New builds a Channel descriptor without creating the underlying FIFOs.
func New(instanceName, dir string) *Channel {
	return &Channel{
		InstanceName: instanceName,
		Dir:          dir,
		InPath:       filepath.Join(dir, instanceName+".in.fifo"),
		OutPath:      filepath.Join(dir, instanceName+".out.fifo"),
		logger:       slog.Default().With("instance", instanceName),
	}
}

// Create makes both FIFO files, removing any pre-existing ones first
// (destructive-idempotent, per spec.md §4.1).
func (c *Channel) Create() error {
	if err := os.MkdirAll(c.Dir, 0o770); err != nil {
		return bridgeerr.Wrap(bridgeerr.Transport, "create pipe directory", err)
	}

	for _, p := range []string{c.InPath, c.OutPath} {
		if _, err := os.Stat(p); err == nil {
			if rmErr := os.Remove(p); rmErr != nil {
				return bridgeerr.Wrap(bridgeerr.Transport, "remove stale pipe", rmErr)
			}
		}
		if err := syscall.Mkfifo(p, pipeMode); err != nil {
			return bridgeerr.Wrap(bridgeerr.Transport, fmt.Sprintf("create pipe %s", p), err)
		}
	}
	c.logger.Info("named pipes created", "in", c.InPath, "out", c.OutPath)
	return nil
}

// Exist reports whether both FIFO files are present (used by the health
// monitor's pipes_exist check).
func (c *Channel) Exist() bool {
	_, inErr := os.Stat(c.InPath)
	_, outErr := os.Stat(c.OutPath)
	return inErr == nil && outErr == nil
}

// Close unlinks both FIFO files and best-effort removes the directory if
// it is left empty.
func (c *Channel) Close() error {
	for _, p := range []string{c.InPath, c.OutPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("failed to remove pipe", "path", p, "error", err)
		}
	}
	if entries, err := os.ReadDir(c.Dir); err == nil && len(entries) == 0 {
		_ = os.Remove(c.Dir)
	}
	return nil
}

// WriteCommand opens the input FIFO non-blocking for writing, retrying
// until a reader attaches or timeout elapses, then writes text+"\n" and
// closes. The open never blocks: each attempt that finds no reader (ENXIO)
// waits openRetryWait, or returns early when ctx is done.
func (c *Channel) WriteCommand(ctx context.Context, text string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data := []byte(text + "\n")

	for {
		fd, err := openNonblockWrite(c.InPath)
		if err == nil {
			_, writeErr := syscall.Write(fd, data)
			closeErr := syscall.Close(fd)
			if writeErr != nil {
				return bridgeerr.Wrap(bridgeerr.Transport, "write pipe", writeErr)
			}
			if closeErr != nil {
				c.logger.Warn("failed to close input pipe fd", "error", closeErr)
			}
			c.logger.Debug("command written", "bytes", len(data))
			return nil
		}

		if !errors.Is(err, syscall.ENXIO) {
			return bridgeerr.Wrap(bridgeerr.Transport, "open pipe for write", err)
		}

		select {
		case <-ctx.Done():
			return bridgeerr.New(bridgeerr.Timeout, fmt.Sprintf("no reader on pipe %s", c.InPath))
		case <-time.After(openRetryWait):
		}
	}
}

// ReadResponse opens the output FIFO non-blocking for reading and yields
// newline-delimited chunks until EOF (writer closed) or timeout. It is a
// finite, non-restartable iterator per spec.md §4.1.
func (c *Channel) ReadResponse(ctx context.Context, timeout time.Duration) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		fd, err := openNonblockRead(c.OutPath)
		if err != nil {
			yield("", bridgeerr.Wrap(bridgeerr.Transport, "open pipe for read", err))
			return
		}
		defer syscall.Close(fd)

		var buf []byte
		chunk := make([]byte, readChunkSize)

		for {
			select {
			case <-ctx.Done():
				if len(buf) > 0 {
					yield(string(buf), nil)
				}
				yield("", bridgeerr.New(bridgeerr.Timeout, "read timeout"))
				return
			default:
			}

			n, readErr := syscall.Read(fd, chunk)
			switch {
			case readErr != nil && errors.Is(readErr, syscall.EAGAIN):
				time.Sleep(openRetryWait)
				continue
			case readErr != nil:
				yield("", bridgeerr.Wrap(bridgeerr.Transport, "read pipe", readErr))
				return
			case n == 0:
				// EOF: writer closed. Flush any trailing partial line.
				if len(buf) > 0 {
					yield(string(buf), nil)
				}
				return
			}

			buf = append(buf, chunk[:n]...)
			for {
				idx := indexByte(buf, '\n')
				if idx < 0 {
					break
				}
				line := buf[:idx]
				buf = buf[idx+1:]
				if len(line) > 0 {
					if !yield(string(line), nil) {
						return
					}
				}
			}
		}
	}
}

// SendAndReceive writes command then streams the response. Not safe for
// concurrent invocation on the same Channel; callers (the adapter) must
// serialize with a per-instance lock.
func (c *Channel) SendAndReceive(ctx context.Context, command string, timeout time.Duration) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := c.WriteCommand(ctx, command, timeout); err != nil {
			yield("", err)
			return
		}
		for line, err := range c.ReadResponse(ctx, timeout) {
			if !yield(line, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}

// Interrupt writes a single 0x03 byte (Ctrl-C equivalent) to the input pipe.
func (c *Channel) Interrupt(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		fd, err := openNonblockWrite(c.InPath)
		if err == nil {
			_, writeErr := syscall.Write(fd, []byte{0x03})
			_ = syscall.Close(fd)
			if writeErr != nil {
				return bridgeerr.Wrap(bridgeerr.Transport, "write interrupt byte", writeErr)
			}
			return nil
		}
		if !errors.Is(err, syscall.ENXIO) {
			return bridgeerr.Wrap(bridgeerr.Transport, "open pipe for interrupt", err)
		}
		select {
		case <-ctx.Done():
			return bridgeerr.New(bridgeerr.Timeout, "no reader for interrupt")
		case <-time.After(openRetryWait):
		}
	}
}

// ReadCommands is the container-side counterpart of WriteCommand: it opens
// the input FIFO non-blocking for reading and yields newline-delimited
// commands until EOF or timeout. The in-container supervisor uses this to
// pull host-issued commands off the pipe.
func (c *Channel) ReadCommands(ctx context.Context, timeout time.Duration) iter.Seq2[string, error] {
	return c.readLines(ctx, c.InPath, timeout)
}

// WriteResponse is the container-side counterpart of ReadResponse: it opens
// the output FIFO non-blocking for writing and writes text+"\n".
func (c *Channel) WriteResponse(ctx context.Context, text string, timeout time.Duration) error {
	return c.writeLine(ctx, c.OutPath, text, timeout)
}

func (c *Channel) readLines(ctx context.Context, path string, timeout time.Duration) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		fd, err := openNonblockRead(path)
		if err != nil {
			yield("", bridgeerr.Wrap(bridgeerr.Transport, "open pipe for read", err))
			return
		}
		defer syscall.Close(fd)

		var buf []byte
		chunk := make([]byte, readChunkSize)

		for {
			select {
			case <-ctx.Done():
				if len(buf) > 0 {
					yield(string(buf), nil)
				}
				yield("", bridgeerr.New(bridgeerr.Timeout, "read timeout"))
				return
			default:
			}

			n, readErr := syscall.Read(fd, chunk)
			switch {
			case readErr != nil && errors.Is(readErr, syscall.EAGAIN):
				time.Sleep(openRetryWait)
				continue
			case readErr != nil:
				yield("", bridgeerr.Wrap(bridgeerr.Transport, "read pipe", readErr))
				return
			case n == 0:
				if len(buf) > 0 {
					yield(string(buf), nil)
				}
				return
			}

			buf = append(buf, chunk[:n]...)
			for {
				idx := indexByte(buf, '\n')
				if idx < 0 {
					break
				}
				line := buf[:idx]
				buf = buf[idx+1:]
				if len(line) > 0 {
					if !yield(string(line), nil) {
						return
					}
				}
			}
		}
	}
}

func (c *Channel) writeLine(ctx context.Context, path, text string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data := []byte(text + "\n")

	for {
		fd, err := openNonblockWrite(path)
		if err == nil {
			_, writeErr := syscall.Write(fd, data)
			closeErr := syscall.Close(fd)
			if writeErr != nil {
				return bridgeerr.Wrap(bridgeerr.Transport, "write pipe", writeErr)
			}
			if closeErr != nil {
				c.logger.Warn("failed to close pipe fd", "error", closeErr)
			}
			return nil
		}

		if !errors.Is(err, syscall.ENXIO) {
			return bridgeerr.Wrap(bridgeerr.Transport, "open pipe for write", err)
		}

		select {
		case <-ctx.Done():
			return bridgeerr.New(bridgeerr.Timeout, fmt.Sprintf("no reader on pipe %s", path))
		case <-time.After(openRetryWait):
		}
	}
}

func openNonblockWrite(path string) (int, error) {
	return syscall.Open(path, syscall.O_WRONLY|syscall.O_NONBLOCK, 0)
}

func openNonblockRead(path string) (int, error) {
	return syscall.Open(path, syscall.O_RDONLY|syscall.O_NONBLOCK, 0)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
