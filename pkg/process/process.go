// Package process starts long-lived helper programs (browsers, tunnel
// clients) in their own process group and streams their output line by line.
package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/entrhq/authrelay/pkg/logging"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("process")
	if err != nil {
		debugLog.Warnf("Failed to initialize process logger, using stderr fallback: %v", err)
	}
}

const (
	// StreamStdout tags lines read from standard output
	StreamStdout = "stdout"
	// StreamStderr tags lines read from standard error
	StreamStderr = "stderr"

	lineBuffer  = 256
	tailSize    = 50
	maxLineSize = 1024 * 1024
)

// ErrEmptyPath is returned when a Spec has no program path.
var ErrEmptyPath = errors.New("process: empty program path")

// Spec describes a program to start.
type Spec struct {
	// Name labels the process in logs; defaults to Path
	Name string
	Path string
	Args []string
	// Env entries are added on top of the current environment
	Env map[string]string
	Dir string
}

// Line is one line of output from a child process.
type Line struct {
	Stream string
	Text   string
}

// Spawner starts processes.
type Spawner struct{}

// NewSpawner creates a spawner.
func NewSpawner() *Spawner {
	return &Spawner{}
}

// Process is a running child. Its output must be consumed through Lines,
// otherwise the child eventually blocks writing to a full pipe.
type Process struct {
	name string
	cmd  *exec.Cmd

	lines chan Line
	done  chan struct{}
	err   error

	tailMu sync.Mutex
	tail   []Line

	stopOnce sync.Once
	stopErr  error
}

// Start launches spec in a new process group and begins streaming its
// combined output.
func (s *Spawner) Start(spec Spec) (*Process, error) {
	if spec.Path == "" {
		return nil, ErrEmptyPath
	}
	name := spec.Name
	if name == "" {
		name = spec.Path
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	setProcessGroup(cmd)

	// Plain os pipes: EOF arrives only once every holder of the write end
	// (including grandchildren) has exited, so no output is dropped.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	// The child holds its own copies now
	stdoutW.Close()
	stderrW.Close()

	p := &Process{
		name:  name,
		cmd:   cmd,
		lines: make(chan Line, lineBuffer),
		done:  make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.stream(stdoutR, StreamStdout)
	}()
	go func() {
		defer wg.Done()
		p.stream(stderrR, StreamStderr)
	}()
	go func() {
		wg.Wait()
		close(p.lines)
	}()

	go func() {
		p.err = cmd.Wait()
		close(p.done)
		debugLog.Debugf("%s (pid %d) exited: %v", name, cmd.Process.Pid, p.err)
	}()

	debugLog.Debugf("Started %s (pid %d)", name, cmd.Process.Pid)
	return p, nil
}

func (p *Process) stream(r io.ReadCloser, stream string) {
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := Line{Stream: stream, Text: scanner.Text()}

		p.tailMu.Lock()
		p.tail = append(p.tail, line)
		if len(p.tail) > tailSize {
			p.tail = p.tail[len(p.tail)-tailSize:]
		}
		p.tailMu.Unlock()

		p.lines <- line
	}
}

// Pid returns the operating system process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Lines returns combined stdout and stderr output. The channel is closed
// once both streams reach EOF.
func (p *Process) Lines() <-chan Line {
	return p.lines
}

// Done is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit status once Done is closed, nil before.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Tail returns up to n of the most recent output lines.
func (p *Process) Tail(n int) []Line {
	p.tailMu.Lock()
	defer p.tailMu.Unlock()

	if n <= 0 || n > len(p.tail) {
		n = len(p.tail)
	}
	out := make([]Line, n)
	copy(out, p.tail[len(p.tail)-n:])
	return out
}

// Stop asks the process group to terminate and forcibly kills it after
// grace. It blocks until the process has exited. Only the first call acts;
// later calls wait for it and return the same result.
func (p *Process) Stop(grace time.Duration) error {
	p.stopOnce.Do(func() {
		p.stopErr = p.stop(grace)
	})
	<-p.done
	return p.stopErr
}

// Kill stops the process group immediately.
func (p *Process) Kill() error {
	return p.Stop(0)
}

func (p *Process) stop(grace time.Duration) error {
	if p.Exited() {
		// The group may still hold stragglers
		_ = signalGroup(p.cmd, killSignal)
		return nil
	}

	if grace > 0 {
		if err := signalGroup(p.cmd, terminateSignal); err != nil && !p.Exited() {
			debugLog.Warnf("Failed to terminate %s (pid %d): %v", p.name, p.Pid(), err)
		}

		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-p.done:
			_ = signalGroup(p.cmd, killSignal)
			return nil
		case <-timer.C:
			debugLog.Debugf("%s (pid %d) ignored terminate for %v, killing", p.name, p.Pid(), grace)
		}
	}

	if err := signalGroup(p.cmd, killSignal); err != nil && !p.Exited() {
		return fmt.Errorf("failed to kill %s (pid %d): %w", p.name, p.Pid(), err)
	}
	return nil
}

// mergeEnv overlays extra onto base; later keys win.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := append([]string(nil), base...)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
