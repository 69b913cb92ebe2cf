package render

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteSilenceWAV writes seconds of 48 kHz stereo 16-bit silence to path.
// It needs no child process, so recovery and fallback paths can always
// produce playable audio.
func WriteSilenceWAV(path string, seconds float64) error {
	if seconds <= 0 {
		return fmt.Errorf("silence duration must be positive, got %v", seconds)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating silence file: %w", err)
	}

	enc := wav.NewEncoder(out, SampleRate, BitDepth, Channels, 1)
	format := &audio.Format{NumChannels: Channels, SampleRate: SampleRate}

	// Write in one-second blocks so long stretches stay cheap.
	remaining := int(math.Round(seconds * SampleRate))
	block := make([]int, SampleRate*Channels)
	for remaining > 0 {
		frames := remaining
		if frames > SampleRate {
			frames = SampleRate
		}
		buf := &audio.IntBuffer{
			Format:         format,
			Data:           block[:frames*Channels],
			SourceBitDepth: BitDepth,
		}
		if err := enc.Write(buf); err != nil {
			out.Close()
			return fmt.Errorf("writing silence: %w", err)
		}
		remaining -= frames
	}

	if err := enc.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finalizing silence file: %w", err)
	}
	return out.Close()
}
