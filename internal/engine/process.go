package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// maxMessageSize bounds a single inbound message. Engine updates for
	// large documents can run to megabytes.
	maxMessageSize = 16 << 20

	// stopGrace is how long Stop waits after closing stdin before killing
	// the process.
	stopGrace = 3 * time.Second
)

// Config describes how to start the engine process.
type Config struct {
	// Path is the engine executable.
	Path string

	// Args are command-line arguments.
	Args []string

	// Env are additional environment variables, appended to the parent's.
	Env map[string]string

	// WorkDir is the working directory. Defaults to the parent's.
	WorkDir string

	// InboundBuffer is the capacity of the inbound message channel
	// (default 64). The channel must be drained or the reader stalls.
	InboundBuffer int
}

// Info is a snapshot of a running engine process.
type Info struct {
	ID   string
	Path string
	PID  int
}

// Process is a running engine subprocess. Its stdin is the rpc.Peer write
// side; its stdout is exposed through Inbound.
type Process struct {
	id  string
	cfg Config
	log *zap.Logger
	cmd *exec.Cmd

	writeMu     sync.Mutex
	stdin       io.WriteCloser
	stdinClosed bool

	inbound    chan json.RawMessage
	readDone   chan struct{}
	stderrDone chan struct{}

	waitOnce sync.Once
	waitErr  error
}

// Start spawns the engine process and begins pumping its pipes. The
// returned Process is live immediately; messages may arrive on Inbound
// before Start's caller runs another line.
func Start(ctx context.Context, cfg Config, log *zap.Logger) (*Process, error) {
	if cfg.Path == "" {
		return nil, ErrNoCommand
	}
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = 64
	}
	if log == nil {
		log = zap.NewNop()
	}

	cmd := exec.CommandContext(ctx, cfg.Path, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine %q: %w", cfg.Path, err)
	}

	p := &Process{
		id:         uuid.NewString(),
		cfg:        cfg,
		cmd:        cmd,
		stdin:      stdin,
		inbound:    make(chan json.RawMessage, cfg.InboundBuffer),
		readDone:   make(chan struct{}),
		stderrDone: make(chan struct{}),
	}
	p.log = log.With(zap.String("engine_id", p.id))

	go p.readLoop(stdout)
	go p.drainStderr(stderr)

	p.log.Info("engine started",
		zap.String("path", cfg.Path), zap.Int("pid", cmd.Process.Pid))
	return p, nil
}

// Send writes one message to the engine's stdin, newline-terminated, as a
// single write so frames never interleave. Implements rpc.Peer.
func (p *Process) Send(msg []byte) error {
	frame := make([]byte, 0, len(msg)+1)
	frame = append(frame, msg...)
	frame = append(frame, '\n')

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.stdinClosed {
		return ErrNotRunning
	}
	if _, err := p.stdin.Write(frame); err != nil {
		return fmt.Errorf("write to engine: %w", err)
	}
	return nil
}

// Inbound returns the stream of raw messages from the engine's stdout. The
// channel closes when the engine exits or its stdout otherwise ends.
func (p *Process) Inbound() <-chan json.RawMessage {
	return p.inbound
}

// Info returns a snapshot of the process identity.
func (p *Process) Info() Info {
	return Info{ID: p.id, Path: p.cfg.Path, PID: p.cmd.Process.Pid}
}

// Wait blocks until the engine process has exited and its pipes are fully
// drained, then returns the process's exit error, if any. Safe to call more
// than once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		<-p.readDone
		<-p.stderrDone
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// Stop asks the engine to exit by closing its stdin, waits briefly, and
// kills it if it lingers. Returns the process's exit error.
func (p *Process) Stop() error {
	p.closeStdin()

	done := make(chan error, 1)
	go func() { done <- p.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(stopGrace):
		p.log.Warn("engine did not exit after stdin close, killing")
		_ = p.cmd.Process.Kill()
		return <-done
	}
}

func (p *Process) closeStdin() {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if !p.stdinClosed {
		p.stdinClosed = true
		_ = p.stdin.Close()
	}
}

// readLoop scans stdout for newline-delimited messages. Lines that are not
// valid JSON are logged and skipped; the loop ends at EOF, closing the
// inbound channel.
func (p *Process) readLoop(stdout io.Reader) {
	defer close(p.readDone)
	defer close(p.inbound)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			p.log.Warn("discarding malformed engine message",
				zap.Int("bytes", len(line)))
			continue
		}
		// The scanner reuses its buffer; hand off a copy.
		msg := make(json.RawMessage, len(line))
		copy(msg, line)
		p.inbound <- msg
	}
	if err := scanner.Err(); err != nil {
		p.log.Warn("engine stdout read ended", zap.Error(err))
	}
}

// drainStderr forwards engine stderr lines to the log.
func (p *Process) drainStderr(stderr io.Reader) {
	defer close(p.stderrDone)

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		if line := bytes.TrimSpace(scanner.Bytes()); len(line) > 0 {
			p.log.Warn("engine stderr", zap.ByteString("line", line))
		}
	}
}
