// Package sink publishes rendered audio to an RTMP endpoint through a
// persistent ffmpeg ingest child fed over a named pipe. Clips are decoded
// one at a time into signed 16-bit 48 kHz stereo PCM and appended to the
// pipe, so the encoder sees a single gapless stream across clip
// boundaries.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/airwav/airwav/internal/observability"
	"github.com/airwav/airwav/internal/runner"
)

// FIFOName is the pipe node created under the work directory.
const FIFOName = "live.pcm"

const (
	// openRetryInterval paces the non-blocking FIFO open loop while the
	// ingest process has not opened its read end yet.
	openRetryInterval = 100 * time.Millisecond

	eventBufSize = 32
)

var (
	// ErrPublisherExited reports a push against a sink whose ingest
	// process is gone.
	ErrPublisherExited = errors.New("ffmpeg ingest exited")

	// ErrBusy reports a PushFile while another transcode is in flight.
	ErrBusy = errors.New("transcode already in flight")

	// ErrAborted reports a transcode cut short by AbortCurrent or Stop.
	ErrAborted = errors.New("transcode aborted")
)

// EventKind classifies sink lifecycle events.
type EventKind string

const (
	EventStarted EventKind = "started"
	EventStopped EventKind = "stopped"
	EventError   EventKind = "error"
)

// Event is a lifecycle notification consumed by the engine. The sink never
// touches runtime state itself.
type Event struct {
	Kind     EventKind
	RTMPURL  string
	Message  string
	ExitCode int
	Err      error
}

// Config carries the sink knobs.
type Config struct {
	WorkDir string
	RTMPURL string
	FFmpeg  string // resolved ffmpeg binary
}

// transcode tracks one in-flight clip decode.
type transcode struct {
	proc    *runner.Proc
	aborted atomic.Bool
}

// Sink owns the FIFO node and the single ffmpeg ingest child reading it.
type Sink struct {
	cfg    Config
	logger *slog.Logger

	events chan Event

	mu          sync.Mutex
	running     bool
	stopping    bool
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	writer      *os.File
	writerReady chan struct{}
	ingest      *runner.Proc
	current     *transcode
}

// New returns a stopped sink. Start launches the publisher.
func New(cfg Config, logger *slog.Logger) *Sink {
	return &Sink{
		cfg:    cfg,
		logger: observability.WithComponent(logger, "sink"),
		events: make(chan Event, eventBufSize),
	}
}

// Events returns the lifecycle event stream. The channel is never closed;
// events that would overflow the buffer are dropped.
func (s *Sink) Events() <-chan Event { return s.events }

// FIFOPath returns the pipe node the sink writes through.
func (s *Sink) FIFOPath() string { return filepath.Join(s.cfg.WorkDir, FIFOName) }

// Running reports whether the ingest process is believed alive.
func (s *Sink) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Busy reports whether a clip transcode is in flight.
func (s *Sink) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Start creates the FIFO, spawns the ingest encoder against it and begins
// opening the pipe's write end in the background. ctx bounds the sink's
// lifetime; cancelling it kills the ingest child.
func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("sink already started")
	}
	if s.writer != nil {
		// Leftover writer from a run whose ingest died before Stop.
		_ = s.writer.Close()
		s.writer = nil
	}

	fifo := filepath.Join(s.cfg.WorkDir, FIFOName)
	if err := os.Remove(fifo); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale fifo: %w", err)
	}
	if err := syscall.Mkfifo(fifo, 0o644); err != nil {
		return fmt.Errorf("creating fifo %s: %w", fifo, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	ingest, err := runner.Spawn(sctx, s.cfg.FFmpeg, ingestArgs(fifo, s.cfg.RTMPURL),
		runner.WithMonitor(),
		runner.WithStderrLineFunc(func(line string) {
			s.logger.Debug("ingest stderr", slog.String("line", line))
		}))
	if err != nil {
		cancel()
		return fmt.Errorf("starting ingest: %w", err)
	}

	s.ctx = sctx
	s.cancel = cancel
	s.ingest = ingest
	s.running = true
	s.stopping = false
	s.writerReady = make(chan struct{})

	s.wg.Add(2)
	go s.openWriter(sctx, fifo, s.writerReady)
	go s.superviseIngest(ingest)

	s.logger.Info("sink started",
		slog.String("rtmp_url", s.cfg.RTMPURL),
		slog.String("fifo", fifo),
		slog.Int("ingest_pid", ingest.Pid()))
	s.emit(Event{Kind: EventStarted, RTMPURL: s.cfg.RTMPURL})
	return nil
}

// openWriter opens the FIFO write end without committing to a blocking
// open syscall: ENXIO means the ingest has not opened its read end yet, so
// the loop retries until it does or the sink shuts down.
func (s *Sink) openWriter(ctx context.Context, fifo string, ready chan struct{}) {
	defer s.wg.Done()

	for {
		f, err := os.OpenFile(fifo, os.O_WRONLY|syscall.O_NONBLOCK, 0)
		if err == nil {
			s.mu.Lock()
			if !s.running || s.ctx != ctx {
				s.mu.Unlock()
				_ = f.Close()
				return
			}
			s.writer = f
			s.mu.Unlock()
			close(ready)
			s.logger.Debug("fifo writer open", slog.String("fifo", fifo))
			return
		}
		if !errors.Is(err, syscall.ENXIO) {
			s.logger.Error("opening fifo writer",
				slog.String("fifo", fifo),
				slog.Any("error", err))
			s.emit(Event{Kind: EventError, Message: "opening fifo writer", Err: err})
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(openRetryInterval):
		}
	}
}

// superviseIngest reaps the ingest child. An exit outside Stop marks the
// sink down and surfaces the failure; there is no automatic restart.
func (s *Sink) superviseIngest(p *runner.Proc) {
	defer s.wg.Done()

	err := p.Wait()

	s.mu.Lock()
	stopping := s.stopping
	if !stopping {
		s.running = false
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()
	if stopping {
		return
	}

	code := 0
	var procErr *runner.ProcessError
	if errors.As(err, &procErr) {
		code = procErr.ExitCode
	}
	s.logger.Error("ffmpeg ingest exited",
		slog.Int("exit_code", code),
		slog.String("last_stderr", p.LastStderrLine()))
	s.emit(Event{Kind: EventError, Message: "ffmpeg ingest exited", ExitCode: code, Err: ErrPublisherExited})
}

// PushFile decodes one rendered clip to PCM and appends it to the FIFO.
// The pipe stays open across clips so the ingest encoder never sees EOF
// between them. At most one transcode runs at a time; a concurrent call
// returns ErrBusy. The first push blocks until the publisher has opened
// the pipe.
func (s *Sink) PushFile(ctx context.Context, path string) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrPublisherExited
	}
	if s.current != nil {
		s.mu.Unlock()
		return ErrBusy
	}
	tc := &transcode{}
	// Claim the slot before waiting for the writer so a concurrent push
	// still observes ErrBusy.
	s.current = tc
	ready := s.writerReady
	sctx := s.ctx
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		if s.current == tc {
			s.current = nil
		}
		s.mu.Unlock()
	}

	select {
	case <-ready:
	case <-ctx.Done():
		release()
		return ctx.Err()
	case <-sctx.Done():
		release()
		if tc.aborted.Load() {
			return ErrAborted
		}
		return ErrPublisherExited
	}
	if tc.aborted.Load() {
		release()
		return ErrAborted
	}

	s.mu.Lock()
	writer := s.writer
	var monitor *runner.Monitor
	if s.ingest != nil {
		monitor = s.ingest.Monitor()
	}
	s.mu.Unlock()
	if writer == nil {
		release()
		return ErrPublisherExited
	}

	proc, err := runner.Spawn(ctx, s.cfg.FFmpeg, transcodeArgs(path))
	if err != nil {
		release()
		return fmt.Errorf("starting transcode: %w", err)
	}
	s.mu.Lock()
	tc.proc = proc
	aborted := tc.aborted.Load()
	s.mu.Unlock()
	_ = proc.Stdin().Close()
	if aborted {
		proc.Terminate()
	}

	s.logger.Debug("transcoding clip",
		slog.String("path", path),
		slog.Int("pid", proc.Pid()))

	_, copyErr := io.Copy(runner.NewCountingWriter(writer, monitor), proc.Stdout())
	if copyErr != nil && !tc.aborted.Load() {
		// Nothing drains stdout anymore; put the decoder down before it
		// blocks on a full pipe.
		proc.Terminate()
	}
	waitErr := proc.Wait()
	release()

	switch {
	case tc.aborted.Load():
		return ErrAborted
	case ctx.Err() != nil:
		return ctx.Err()
	case waitErr != nil:
		return waitErr
	case copyErr != nil:
		return fmt.Errorf("writing pcm to fifo: %w", copyErr)
	default:
		return nil
	}
}

// AbortCurrent terminates the in-flight transcode, reporting whether one
// was in flight. The FIFO and the ingest process are untouched.
func (s *Sink) AbortCurrent() bool {
	s.mu.Lock()
	tc := s.current
	var proc *runner.Proc
	if tc != nil {
		tc.aborted.Store(true)
		proc = tc.proc
	}
	s.mu.Unlock()

	if tc == nil {
		return false
	}
	if proc != nil {
		proc.Terminate()
	}
	return true
}

// Stop aborts any in-flight transcode, closes the pipe writer and
// terminates the ingest process. When it returns no child processes
// remain.
func (s *Sink) Stop() {
	s.mu.Lock()
	if s.ctx == nil || s.stopping {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stopping = true
	ingest := s.ingest
	cancel := s.cancel
	tc := s.current
	s.mu.Unlock()

	if tc != nil {
		tc.aborted.Store(true)
		s.mu.Lock()
		proc := tc.proc
		s.mu.Unlock()
		if proc != nil {
			proc.Terminate()
			_ = proc.Wait()
		}
	}

	cancel()

	s.mu.Lock()
	writer := s.writer
	s.writer = nil
	s.mu.Unlock()
	if writer != nil {
		_ = writer.Close()
	}

	if ingest != nil {
		ingest.Terminate()
		_ = ingest.Wait()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.ingest = nil
	s.ctx = nil
	s.cancel = nil
	s.stopping = false
	s.mu.Unlock()

	s.logger.Info("sink stopped")
	s.emit(Event{Kind: EventStopped})
}

// IngestStats returns the latest resource sample for the ingest child,
// including the PCM byte throughput pushed through the pipe.
func (s *Sink) IngestStats() (runner.ProcessStats, bool) {
	s.mu.Lock()
	p := s.ingest
	s.mu.Unlock()
	if p == nil {
		return runner.ProcessStats{}, false
	}
	return p.Stats()
}

// IngestStderr returns the retained stderr tail of the ingest child.
func (s *Sink) IngestStderr() []string {
	s.mu.Lock()
	p := s.ingest
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.StderrTail()
}

func (s *Sink) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Debug("sink event dropped", slog.String("kind", string(ev.Kind)))
	}
}

// ingestArgs assembles the persistent encoder invocation: raw PCM from the
// pipe, AAC inside FLV to the RTMP endpoint, paced at realtime.
func ingestArgs(fifo, rtmpURL string) []string {
	return []string{
		"-re",
		"-f", "s16le", "-ar", "48000", "-ac", "2",
		"-i", fifo,
		"-c:a", "aac", "-b:a", "192k",
		"-f", "flv", rtmpURL,
	}
}

// transcodeArgs decodes one clip to the stream's PCM format on stdout.
func transcodeArgs(path string) []string {
	return []string{"-i", path, "-f", "s16le", "-ar", "48000", "-ac", "2", "-"}
}
