package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRun_CapturesBothStreams(t *testing.T) {
	stdout, stderr, err := Run(context.Background(), "sh", []string{"-c", "echo out; echo err 1>&2"})

	require.NoError(t, err)
	assert.Equal(t, "out\n", string(stdout))
	assert.Equal(t, "err\n", string(stderr))
}

func TestRun_NonZeroExit(t *testing.T) {
	_, stderr, err := Run(context.Background(), "sh", []string{"-c", "echo boom 1>&2; exit 3"})

	require.Error(t, err)
	var procErr *ProcessError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, "sh", procErr.Program)
	assert.Equal(t, 3, procErr.ExitCode)
	assert.Contains(t, procErr.Stderr, "boom")
	assert.Contains(t, string(stderr), "boom")
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := Run(ctx, "sh", []string{"-c", "sleep 10"})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_MissingBinary(t *testing.T) {
	_, _, err := Run(context.Background(), "/nonexistent/not-a-real-tool", nil)

	require.Error(t, err)
	var procErr *ProcessError
	assert.False(t, errors.As(err, &procErr), "start failures are not process errors")
}

func TestRun_WorkingDir(t *testing.T) {
	dir := t.TempDir()

	stdout, _, err := Run(context.Background(), "sh", []string{"-c", "pwd"}, WithDir(dir))

	require.NoError(t, err)
	assert.Contains(t, string(stdout), dir)
}

func TestSpawn_StreamsStdout(t *testing.T) {
	proc, err := Spawn(context.Background(), "sh", []string{"-c", "printf hello"})
	require.NoError(t, err)

	out, err := io.ReadAll(proc.Stdout())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))

	require.NoError(t, proc.Wait())
	assert.False(t, proc.Running())
}

func TestSpawn_StdinRoundTrip(t *testing.T) {
	proc, err := Spawn(context.Background(), "cat", nil)
	require.NoError(t, err)

	_, err = io.WriteString(proc.Stdin(), "ping")
	require.NoError(t, err)
	require.NoError(t, proc.Stdin().Close())

	out, err := io.ReadAll(proc.Stdout())
	require.NoError(t, err)
	assert.Equal(t, "ping", string(out))

	require.NoError(t, proc.Wait())
}

func TestSpawn_StderrRingBounded(t *testing.T) {
	script := `i=1; while [ $i -le 150 ]; do echo "line $i" 1>&2; i=$((i+1)); done`
	proc, err := Spawn(context.Background(), "sh", []string{"-c", script})
	require.NoError(t, err)
	require.NoError(t, proc.Wait())

	tail := proc.StderrTail()
	require.Len(t, tail, stderrRingSize)
	assert.Equal(t, "line 51", tail[0])
	assert.Equal(t, "line 150", tail[len(tail)-1])
	assert.Equal(t, "line 150", proc.LastStderrLine())
}

func TestSpawn_StderrCallback(t *testing.T) {
	var mu sync.Mutex
	var lines []string

	proc, err := Spawn(context.Background(), "sh", []string{"-c", "echo a 1>&2; echo b 1>&2"},
		WithStderrLineFunc(func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		}))
	require.NoError(t, err)
	require.NoError(t, proc.Wait())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestSpawn_NonZeroExitIsProcessError(t *testing.T) {
	proc, err := Spawn(context.Background(), "sh", []string{"-c", "echo dying 1>&2; exit 7"})
	require.NoError(t, err)

	err = proc.Wait()
	require.Error(t, err)
	var procErr *ProcessError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, 7, procErr.ExitCode)
	assert.Contains(t, procErr.Stderr, "dying")
}

func TestSpawn_Terminate(t *testing.T) {
	proc, err := Spawn(context.Background(), "sh", []string{"-c", "sleep 30"},
		WithGracePeriod(500*time.Millisecond))
	require.NoError(t, err)
	assert.NotZero(t, proc.Pid())

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	proc.Terminate()

	select {
	case err := <-done:
		require.Error(t, err)
		var procErr *ProcessError
		require.ErrorAs(t, err, &procErr)
		assert.Equal(t, -1, procErr.ExitCode, "signalled exit reports -1")
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after Terminate")
	}
}

func TestSpawn_WaitIdempotent(t *testing.T) {
	proc, err := Spawn(context.Background(), "sh", []string{"-c", "exit 0"})
	require.NoError(t, err)

	require.NoError(t, proc.Wait())
	require.NoError(t, proc.Wait())
}

func TestProcessError_Message(t *testing.T) {
	err := &ProcessError{
		Program:  "/usr/bin/ffmpeg",
		Args:     []string{"-i", "in.wav"},
		ExitCode: 1,
		Stderr:   "header\nConversion failed!",
	}

	msg := err.Error()
	assert.Contains(t, msg, "ffmpeg")
	assert.Contains(t, msg, "code 1")
	assert.Contains(t, msg, "Conversion failed!")
}

func TestTailLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "empty", in: "", n: 3, want: ""},
		{name: "under limit", in: "a\nb", n: 3, want: "a\nb"},
		{name: "over limit", in: "a\nb\nc\nd", n: 2, want: "c\nd"},
		{name: "trailing newline", in: "a\nb\n", n: 2, want: "a\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tailLines(tt.in, tt.n))
		})
	}
}

func TestLastNonEmptyLine(t *testing.T) {
	assert.Equal(t, "last", lastNonEmptyLine("first\nlast\n\n"))
	assert.Equal(t, "", lastNonEmptyLine("\n\n"))
}

func TestMonitor_TracksBytes(t *testing.T) {
	monitor := NewMonitor(int32(os.Getpid()))
	monitor.SetInterval(10 * time.Millisecond)
	monitor.Start()
	defer monitor.Stop()

	var buf bytes.Buffer
	w := NewCountingWriter(&buf, monitor)
	payload := []byte("0123456789")
	for i := 0; i < 10; i++ {
		_, err := w.Write(payload)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		stats := monitor.Stats()
		return stats.BytesWritten == 100 && !stats.SampledAt.IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	stats := monitor.Stats()
	assert.Equal(t, int32(os.Getpid()), stats.PID)
	assert.Equal(t, "0123456789", buf.String()[:10])
	assert.NotZero(t, stats.MemoryRSSBytes, "own process should report RSS")
}

func TestMonitor_StopTwice(t *testing.T) {
	monitor := NewMonitor(int32(os.Getpid()))
	monitor.Start()
	monitor.Stop()
	monitor.Stop()
}

func TestSpawn_MonitorAttached(t *testing.T) {
	proc, err := Spawn(context.Background(), "sh", []string{"-c", "sleep 0.2"},
		WithMonitor(), WithSampleInterval(20*time.Millisecond))
	require.NoError(t, err)

	stats, ok := proc.Stats()
	require.True(t, ok)
	assert.Equal(t, int32(proc.Pid()), stats.PID)

	require.NoError(t, proc.Wait())

	_, ok = proc.Stats()
	assert.True(t, ok, "stats remain readable after exit")
}
