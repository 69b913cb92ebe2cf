package render

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwav/airwav/internal/runner"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeFakeFFmpeg drops a shell script standing in for ffmpeg. It records
// its arguments one per line and exits with the given code.
func writeFakeFFmpeg(t *testing.T, exitCode int) (binPath, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args.txt")
	binPath = filepath.Join(dir, "ffmpeg")
	script := fmt.Sprintf("#!/bin/sh\nprintf '%%s\\n' \"$@\" > %q\nexit %d\n", argsFile, exitCode)
	require.NoError(t, os.WriteFile(binPath, []byte(script), 0o755))
	return binPath, argsFile
}

func recordedArgs(t *testing.T, argsFile string) []string {
	t.Helper()
	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func newTestRenderer(t *testing.T, exitCode int) (*Renderer, string) {
	t.Helper()
	binPath, argsFile := writeFakeFFmpeg(t, exitCode)
	return New(binPath, testLogger()), argsFile
}

func TestClipChain(t *testing.T) {
	tests := []struct {
		name     string
		clip     Clip
		expected string
	}{
		{
			name:     "bare clip",
			clip:     Clip{Path: "a.wav"},
			expected: "asetpts=PTS-STARTPTS",
		},
		{
			name:     "trimmed with offset",
			clip:     Clip{Path: "a.wav", SourceOffsetSec: 1.5, DurationSec: 2},
			expected: "atrim=start=1.500:end=3.500,asetpts=PTS-STARTPTS",
		},
		{
			name:     "offset only",
			clip:     Clip{Path: "a.wav", SourceOffsetSec: 4},
			expected: "atrim=start=4.000,asetpts=PTS-STARTPTS",
		},
		{
			name:     "constant gain",
			clip:     Clip{Path: "a.wav", Gain: 0.15},
			expected: "asetpts=PTS-STARTPTS,volume=0.1500",
		},
		{
			name:     "unity gain omitted",
			clip:     Clip{Path: "a.wav", Gain: 1},
			expected: "asetpts=PTS-STARTPTS",
		},
		{
			name: "ramp",
			clip: Clip{Path: "a.wav", Ramp: &Ramp{From: 0.65, To: 1.35, Seconds: 3.5}},
			expected: "asetpts=PTS-STARTPTS," +
				"volume='0.6500+(1.3500-0.6500)*min(t/3.500,1)':eval=frame",
		},
		{
			name:     "fades need duration for the tail",
			clip:     Clip{Path: "a.wav", DurationSec: 10, FadeInSec: 0.4, FadeOutSec: 0.9},
			expected: "atrim=start=0.000:end=10.000,asetpts=PTS-STARTPTS,afade=t=in:st=0:d=0.400,afade=t=out:st=9.100:d=0.900",
		},
		{
			name:     "fade out dropped without duration",
			clip:     Clip{Path: "a.wav", FadeOutSec: 0.9},
			expected: "asetpts=PTS-STARTPTS",
		},
		{
			name:     "delay onto timeline",
			clip:     Clip{Path: "a.wav", StartSec: 12.345},
			expected: "asetpts=PTS-STARTPTS,adelay=12345|12345",
		},
		{
			name: "everything",
			clip: Clip{
				Path:            "a.wav",
				StartSec:        2,
				SourceOffsetSec: 0.5,
				DurationSec:     3,
				Gain:            0.8,
				FadeInSec:       0.25,
				FadeOutSec:      0.5,
			},
			expected: "atrim=start=0.500:end=3.500,asetpts=PTS-STARTPTS,volume=0.8000," +
				"afade=t=in:st=0:d=0.250,afade=t=out:st=2.500:d=0.500,adelay=2000|2000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, clipChain(tt.clip))
		})
	}
}

func TestBuildFilterGraph(t *testing.T) {
	clips := []Clip{
		{Path: "a.wav", DurationSec: 5},
		{Path: "b.wav", StartSec: 3, DurationSec: 5},
	}

	t.Run("plain mix", func(t *testing.T) {
		graph := buildFilterGraph(clips, false)
		assert.Contains(t, graph, "[0:a]")
		assert.Contains(t, graph, "[1:a]")
		assert.Contains(t, graph, "[c0][c1]amix=inputs=2:duration=longest:normalize=0[mix]")
		assert.True(t, strings.HasSuffix(graph, "[mix]anull[out]"))
		assert.NotContains(t, graph, "loudnorm")
	})

	t.Run("mastered mix", func(t *testing.T) {
		graph := buildFilterGraph(clips, true)
		assert.Contains(t, graph, "loudnorm=I=-14:TP=-1.5:LRA=11,acompressor,alimiter")
		assert.True(t, strings.HasSuffix(graph, "[out]"))
	})
}

func TestRampVolume(t *testing.T) {
	t.Run("zero length ramp degenerates to target", func(t *testing.T) {
		assert.Equal(t, "volume=1.3500", rampVolume(Ramp{From: 0.65, To: 1.35}))
	})
}

func TestRendererRender(t *testing.T) {
	ctx := context.Background()

	t.Run("no clips", func(t *testing.T) {
		r, _ := newTestRenderer(t, 0)
		err := r.Render(ctx, nil, "out.wav", false)
		var renderErr *RenderError
		require.ErrorAs(t, err, &renderErr)
	})

	t.Run("invokes ffmpeg with graph and output format", func(t *testing.T) {
		r, argsFile := newTestRenderer(t, 0)
		out := filepath.Join(t.TempDir(), "mix.wav")
		clips := []Clip{{Path: "a.wav", DurationSec: 2}, {Path: "b.wav", DurationSec: 2}}
		require.NoError(t, r.Render(ctx, clips, out, true))

		args := recordedArgs(t, argsFile)
		joined := strings.Join(args, " ")
		assert.Contains(t, joined, "-i a.wav")
		assert.Contains(t, joined, "-i b.wav")
		assert.Contains(t, joined, "-filter_complex")
		assert.Contains(t, joined, "loudnorm=I=-14")
		assert.Contains(t, joined, "-map [out]")
		assert.Contains(t, joined, "-ar 48000 -ac 2 -c:a pcm_s16le")
		assert.Equal(t, out, args[len(args)-1])
	})

	t.Run("ffmpeg failure yields RenderError wrapping ProcessError", func(t *testing.T) {
		r, _ := newTestRenderer(t, 1)
		err := r.Render(ctx, []Clip{{Path: "a.wav"}}, "out.wav", false)

		var renderErr *RenderError
		require.ErrorAs(t, err, &renderErr)
		var procErr *runner.ProcessError
		require.ErrorAs(t, err, &procErr)
		assert.Equal(t, 1, procErr.ExitCode)
	})

	t.Run("missing binary still yields RenderError", func(t *testing.T) {
		r := New(filepath.Join(t.TempDir(), "missing-ffmpeg"), testLogger())
		err := r.Render(ctx, []Clip{{Path: "a.wav"}}, "out.wav", false)
		var renderErr *RenderError
		require.ErrorAs(t, err, &renderErr)
	})
}

func TestRendererEdgeFades(t *testing.T) {
	r, argsFile := newTestRenderer(t, 0)
	require.NoError(t, r.EdgeFades(context.Background(), "in.wav", "out.wav", 0.4, 0.9, 60))

	args := recordedArgs(t, argsFile)
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-af afade=t=in:st=0:d=0.400,afade=t=out:st=59.100:d=0.900")
}

func TestRendererVoice(t *testing.T) {
	r, argsFile := newTestRenderer(t, 0)
	require.NoError(t, r.Voice(context.Background(), "talk-raw.wav", "talk-fx.wav"))

	args := recordedArgs(t, argsFile)
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "volume=1.9")
	assert.Contains(t, joined, "loudnorm=I=-15")
	assert.Contains(t, joined, "afade=t=in:st=0:d=0.25")
}

func TestWriteSilenceWAV(t *testing.T) {
	t.Run("produces decodable silence", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "silence.wav")
		require.NoError(t, WriteSilenceWAV(path, 2))

		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()

		dec := wav.NewDecoder(f)
		dec.ReadInfo()
		require.True(t, dec.IsValidFile())
		assert.Equal(t, uint32(48000), dec.SampleRate)
		assert.Equal(t, uint16(2), dec.NumChans)
		assert.Equal(t, uint16(16), dec.BitDepth)

		dur, err := dec.Duration()
		require.NoError(t, err)
		assert.InDelta(t, 2.0, dur.Seconds(), 0.01)
	})

	t.Run("fractional seconds", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "short.wav")
		require.NoError(t, WriteSilenceWAV(path, 0.25))

		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()

		dec := wav.NewDecoder(f)
		dur, err := dec.Duration()
		require.NoError(t, err)
		assert.InDelta(t, 0.25, dur.Seconds(), 0.01)
	})

	t.Run("rejects non-positive duration", func(t *testing.T) {
		err := WriteSilenceWAV(filepath.Join(t.TempDir(), "bad.wav"), 0)
		require.Error(t, err)
	})
}
