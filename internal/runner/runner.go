// Package runner launches and supervises external child processes such as
// ffmpeg, ffprobe and the audio downloader. It provides a one-shot Run for
// tools that produce their result on stdout, and Spawn for long-lived
// children whose pipes the caller streams.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// stderrRingSize bounds the retained stderr history per child.
	stderrRingSize = 100

	// DefaultGracePeriod is how long Terminate waits between SIGTERM and
	// SIGKILL.
	DefaultGracePeriod = 3 * time.Second

	// scanner buffer sizing for stderr lines; ffmpeg progress lines can be
	// long but never pathological.
	stderrScanBuf = 64 * 1024
	stderrScanMax = 256 * 1024
)

// ProcessError reports a child process that exited non-zero. Stderr holds
// the tail of the captured stream, bounded to the last hundred lines.
type ProcessError struct {
	Program  string
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", filepath.Base(e.Program), e.ExitCode)
	if line := lastNonEmptyLine(e.Stderr); line != "" {
		msg += ": " + line
	}
	return msg
}

// Option configures Run and Spawn.
type Option func(*options)

type options struct {
	dir          string
	grace        time.Duration
	onStderrLine func(string)
	monitor      bool
	interval     time.Duration
}

func newOptions(opts []Option) options {
	o := options{
		grace:    DefaultGracePeriod,
		interval: defaultSampleInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithDir sets the working directory of the child.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithGracePeriod overrides the SIGTERM-to-SIGKILL grace used by Terminate.
func WithGracePeriod(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.grace = d
		}
	}
}

// WithStderrLineFunc registers a callback invoked for every stderr line the
// child emits. The callback runs on the capture goroutine and must not block.
func WithStderrLineFunc(fn func(line string)) Option {
	return func(o *options) { o.onStderrLine = fn }
}

// WithMonitor attaches a resource monitor to the spawned child, sampling CPU
// and memory usage until the process exits.
func WithMonitor() Option {
	return func(o *options) { o.monitor = true }
}

// WithSampleInterval overrides the monitor sampling interval.
func WithSampleInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// Run executes program to completion and returns its captured stdout and
// stderr. A non-zero exit yields a *ProcessError carrying the exit code and
// the stderr tail; both byte slices are still returned for callers that want
// partial output.
func Run(ctx context.Context, program string, args []string, opts ...Option) ([]byte, []byte, error) {
	o := newOptions(opts)

	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = o.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return stdout.Bytes(), stderr.Bytes(), ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), stderr.Bytes(), &ProcessError{
				Program:  program,
				Args:     args,
				ExitCode: exitErr.ExitCode(),
				Stderr:   tailLines(stderr.String(), stderrRingSize),
			}
		}
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("run %s: %w", program, err)
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

// Proc is a handle to a spawned child process. Stdout must be fully consumed
// before Wait is called; Wait reaps the child and joins the stderr capture
// goroutine.
type Proc struct {
	program string
	args    []string
	cmd     *exec.Cmd

	stdin  io.WriteCloser
	stdout io.ReadCloser

	startedAt time.Time
	grace     time.Duration

	stderrMu     sync.Mutex
	stderrLines  []string
	onStderrLine func(string)
	stderrDone   chan struct{}

	monitor *Monitor

	waitOnce sync.Once
	waitErr  error
	done     chan struct{}
}

// Spawn starts program with its three standard streams piped. The stderr
// pipe is consumed internally into a bounded line ring (see StderrTail);
// stdin and stdout belong to the caller.
func Spawn(ctx context.Context, program string, args []string, opts ...Option) (*Proc, error) {
	o := newOptions(opts)

	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = o.dir

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

	p := &Proc{
		program:      program,
		args:         args,
		cmd:          cmd,
		stdin:        stdin,
		stdout:       stdout,
		grace:        o.grace,
		onStderrLine: o.onStderrLine,
		stderrDone:   make(chan struct{}),
		done:         make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", program, err)
	}
	p.startedAt = time.Now()

	go p.captureStderr(stderr)

	if o.monitor {
		p.monitor = NewMonitor(int32(cmd.Process.Pid))
		p.monitor.SetInterval(o.interval)
		p.monitor.Start()
	}

	return p, nil
}

// captureStderr drains the stderr pipe line by line into the bounded ring.
func (p *Proc) captureStderr(r io.Reader) {
	defer close(p.stderrDone)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, stderrScanBuf), stderrScanMax)
	for scanner.Scan() {
		p.pushStderrLine(scanner.Text())
	}
}

func (p *Proc) pushStderrLine(line string) {
	p.stderrMu.Lock()
	p.stderrLines = append(p.stderrLines, line)
	if len(p.stderrLines) > stderrRingSize {
		p.stderrLines = p.stderrLines[len(p.stderrLines)-stderrRingSize:]
	}
	cb := p.onStderrLine
	p.stderrMu.Unlock()

	if cb != nil {
		cb(line)
	}
}

// Pid returns the OS process ID of the child.
func (p *Proc) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Stdin returns the child's standard input pipe. Callers streaming into the
// child must close it to signal EOF.
func (p *Proc) Stdin() io.WriteCloser { return p.stdin }

// Stdout returns the child's standard output pipe. Callers must finish
// reading before calling Wait.
func (p *Proc) Stdout() io.Reader { return p.stdout }

// StderrTail returns a copy of the retained stderr lines, oldest first.
func (p *Proc) StderrTail() []string {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()

	lines := make([]string, len(p.stderrLines))
	copy(lines, p.stderrLines)
	return lines
}

// LastStderrLine returns the most recent stderr line, or "".
func (p *Proc) LastStderrLine() string {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()

	if len(p.stderrLines) == 0 {
		return ""
	}
	return p.stderrLines[len(p.stderrLines)-1]
}

// Uptime reports how long the child has been running.
func (p *Proc) Uptime() time.Duration {
	if p.startedAt.IsZero() {
		return 0
	}
	return time.Since(p.startedAt)
}

// Stats returns the latest resource sample when a monitor is attached.
func (p *Proc) Stats() (ProcessStats, bool) {
	if p.monitor == nil {
		return ProcessStats{}, false
	}
	return p.monitor.Stats(), true
}

// Monitor returns the attached resource monitor, or nil when the process
// was spawned without one.
func (p *Proc) Monitor() *Monitor { return p.monitor }

// Running reports whether the child has not yet been reaped.
func (p *Proc) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return p.cmd.Process != nil
	}
}

// Wait reaps the child and joins stderr capture. It is safe to call from
// multiple goroutines; all callers observe the same result. A non-zero exit
// is reported as a *ProcessError.
func (p *Proc) Wait() error {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		<-p.stderrDone
		if p.monitor != nil {
			p.monitor.Stop()
		}
		p.waitErr = p.translateExit(err)
		close(p.done)
	})
	<-p.done
	return p.waitErr
}

func (p *Proc) translateExit(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ProcessError{
			Program:  p.program,
			Args:     p.args,
			ExitCode: exitErr.ExitCode(),
			Stderr:   strings.Join(p.stderrTailLocked(), "\n"),
		}
	}
	return fmt.Errorf("wait %s: %w", p.program, err)
}

func (p *Proc) stderrTailLocked() []string {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()
	return append([]string(nil), p.stderrLines...)
}

// Signal delivers sig to the child.
func (p *Proc) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return errors.New("process not started")
	}
	return p.cmd.Process.Signal(sig)
}

// Kill sends SIGKILL to the child. The caller still needs Wait to reap it.
func (p *Proc) Kill() error {
	if p.cmd.Process == nil {
		return errors.New("process not started")
	}
	return p.cmd.Process.Kill()
}

// Terminate asks the child to exit with SIGTERM and escalates to SIGKILL if
// it has not been reaped within the grace period. A concurrent or subsequent
// Wait call is required to collect the exit status.
func (p *Proc) Terminate() {
	select {
	case <-p.done:
		return
	default:
	}
	if p.cmd.Process == nil {
		return
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	go func() {
		timer := time.NewTimer(p.grace)
		defer timer.Stop()
		select {
		case <-p.done:
		case <-timer.C:
			_ = p.cmd.Process.Kill()
		}
	}()
}

// tailLines returns the last n lines of s.
func tailLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
