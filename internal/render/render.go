// Package render turns placed audio clips into mixed WAV files by driving
// ffmpeg filter graphs. It also generates silence without a child process
// for the paths that must not fail.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"

	"github.com/airwav/airwav/internal/observability"
	"github.com/airwav/airwav/internal/runner"
)

// Output format shared by every rendered file and the broadcast chain.
const (
	SampleRate = 48000
	Channels   = 2
	BitDepth   = 16
)

// masterChain is applied to the final mix when mastering is requested.
const masterChain = "loudnorm=I=-14:TP=-1.5:LRA=11,acompressor,alimiter"

// voiceChain polishes spoken-word audio so it sits above the music bed.
const voiceChain = "volume=1.9,loudnorm=I=-15,afade=t=in:st=0:d=0.25"

// Ramp is a linear gain sweep from From to To over the first Seconds of a
// clip, holding To afterwards.
type Ramp struct {
	From    float64
	To      float64
	Seconds float64
}

// Clip is one audio source placed on the output timeline.
type Clip struct {
	Path            string
	StartSec        float64 // offset on the output timeline
	SourceOffsetSec float64 // seek into the source file
	DurationSec     float64 // 0 means natural length
	Gain            float64 // constant gain, 0 means unity; ignored when Ramp is set
	Ramp            *Ramp
	FadeInSec       float64
	FadeOutSec      float64
}

// RenderError reports a failed ffmpeg render.
type RenderError struct {
	OutPath string
	Err     error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("rendering %s: %v", filepath.Base(e.OutPath), e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Renderer runs ffmpeg renders.
type Renderer struct {
	ffmpegPath string
	logger     *slog.Logger
}

// New creates a Renderer using the given ffmpeg binary.
func New(ffmpegPath string, logger *slog.Logger) *Renderer {
	return &Renderer{
		ffmpegPath: ffmpegPath,
		logger:     observability.WithComponent(logger, "render"),
	}
}

// Render mixes clips into a single 48 kHz stereo PCM WAV at outPath. Each
// clip is trimmed, gained, faded and delayed onto the output timeline, then
// everything is summed without renormalization so the planned gains hold.
// When master is true the mastering chain is applied to the mix.
func (r *Renderer) Render(ctx context.Context, clips []Clip, outPath string, master bool) error {
	if len(clips) == 0 {
		return &RenderError{OutPath: outPath, Err: errors.New("no clips to render")}
	}

	args := []string{"-y"}
	for _, clip := range clips {
		args = append(args, "-i", clip.Path)
	}
	args = append(args,
		"-filter_complex", buildFilterGraph(clips, master),
		"-map", "[out]",
	)
	args = append(args, outputArgs(outPath)...)

	r.logger.Debug("rendering mix",
		slog.Int("clips", len(clips)),
		slog.Bool("master", master),
		slog.String("out", filepath.Base(outPath)),
	)

	if _, _, err := runner.Run(ctx, r.ffmpegPath, args); err != nil {
		return &RenderError{OutPath: outPath, Err: err}
	}
	return nil
}

// EdgeFades re-encodes inPath with an entry and exit fade. durationSec is
// the known length of the source and anchors the exit fade.
func (r *Renderer) EdgeFades(ctx context.Context, inPath, outPath string, fadeIn, fadeOut, durationSec float64) error {
	var parts []string
	if fadeIn > 0 {
		parts = append(parts, fmt.Sprintf("afade=t=in:st=0:d=%.3f", fadeIn))
	}
	if fadeOut > 0 && durationSec > 0 {
		start := durationSec - fadeOut
		if start < 0 {
			start = 0
		}
		parts = append(parts, fmt.Sprintf("afade=t=out:st=%.3f:d=%.3f", start, fadeOut))
	}
	if len(parts) == 0 {
		parts = append(parts, "anull")
	}
	return r.filterFile(ctx, inPath, outPath, strings.Join(parts, ","))
}

// Voice applies the spoken-word chain: gain boost, loudness normalization
// and a short fade-in that hides TTS onset clicks.
func (r *Renderer) Voice(ctx context.Context, inPath, outPath string) error {
	return r.filterFile(ctx, inPath, outPath, voiceChain)
}

func (r *Renderer) filterFile(ctx context.Context, inPath, outPath, filter string) error {
	args := []string{"-y", "-i", inPath, "-af", filter}
	args = append(args, outputArgs(outPath)...)

	r.logger.Debug("rendering file",
		slog.String("in", filepath.Base(inPath)),
		slog.String("out", filepath.Base(outPath)),
		slog.String("filter", filter),
	)

	if _, _, err := runner.Run(ctx, r.ffmpegPath, args); err != nil {
		return &RenderError{OutPath: outPath, Err: err}
	}
	return nil
}

func outputArgs(outPath string) []string {
	return []string{
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-ac", fmt.Sprintf("%d", Channels),
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// buildFilterGraph labels one chain per input, mixes them and finishes with
// the mastering chain or a passthrough.
func buildFilterGraph(clips []Clip, master bool) string {
	var sb strings.Builder
	for i, clip := range clips {
		fmt.Fprintf(&sb, "[%d:a]%s[c%d];", i, clipChain(clip), i)
	}
	for i := range clips {
		fmt.Fprintf(&sb, "[c%d]", i)
	}
	fmt.Fprintf(&sb, "amix=inputs=%d:duration=longest:normalize=0[mix];", len(clips))
	if master {
		sb.WriteString("[mix]" + masterChain + "[out]")
	} else {
		sb.WriteString("[mix]anull[out]")
	}
	return sb.String()
}

func clipChain(clip Clip) string {
	var parts []string

	if clip.DurationSec > 0 {
		parts = append(parts, fmt.Sprintf("atrim=start=%.3f:end=%.3f",
			clip.SourceOffsetSec, clip.SourceOffsetSec+clip.DurationSec))
	} else if clip.SourceOffsetSec > 0 {
		parts = append(parts, fmt.Sprintf("atrim=start=%.3f", clip.SourceOffsetSec))
	}
	parts = append(parts, "asetpts=PTS-STARTPTS")

	switch {
	case clip.Ramp != nil:
		parts = append(parts, rampVolume(*clip.Ramp))
	case clip.Gain != 0 && clip.Gain != 1:
		parts = append(parts, fmt.Sprintf("volume=%.4f", clip.Gain))
	}

	if clip.FadeInSec > 0 {
		parts = append(parts, fmt.Sprintf("afade=t=in:st=0:d=%.3f", clip.FadeInSec))
	}
	if clip.FadeOutSec > 0 && clip.DurationSec > 0 {
		start := clip.DurationSec - clip.FadeOutSec
		if start < 0 {
			start = 0
		}
		parts = append(parts, fmt.Sprintf("afade=t=out:st=%.3f:d=%.3f", start, clip.FadeOutSec))
	}

	if ms := int(math.Round(clip.StartSec * 1000)); ms > 0 {
		parts = append(parts, fmt.Sprintf("adelay=%d|%d", ms, ms))
	}

	return strings.Join(parts, ",")
}

// rampVolume renders the sweep as a per-frame volume expression. The
// expression is single-quoted so its comma survives graph parsing.
func rampVolume(ramp Ramp) string {
	if ramp.Seconds <= 0 {
		return fmt.Sprintf("volume=%.4f", ramp.To)
	}
	return fmt.Sprintf("volume='%.4f+(%.4f-%.4f)*min(t/%.3f,1)':eval=frame",
		ramp.From, ramp.To, ramp.From, ramp.Seconds)
}
