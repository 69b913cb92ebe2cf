// Package ffmpeg resolves the external audio toolchain (ffmpeg, ffprobe and
// the track downloader) and provides media duration probing.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/airwav/airwav/internal/runner"
)

// ErrDependencyMissing indicates a required external tool could not be found.
var ErrDependencyMissing = errors.New("required external tool not found")

// Environment overrides consulted before the PATH lookup.
const (
	EnvFFmpegBinary     = "AIRWAV_FFMPEG_BINARY"
	EnvFFprobeBinary    = "AIRWAV_FFPROBE_BINARY"
	EnvDownloaderBinary = "AIRWAV_YTDLP_BINARY"
)

// Downloader is the resolved track download command. BaseArgs precede
// per-invocation arguments so the `python3 -m yt_dlp` fallback composes the
// same way as a native yt-dlp binary.
type Downloader struct {
	Program  string
	BaseArgs []string
}

// Command splits a full invocation into program and argument list.
func (d *Downloader) Command(args ...string) (string, []string) {
	full := make([]string, 0, len(d.BaseArgs)+len(args))
	full = append(full, d.BaseArgs...)
	full = append(full, args...)
	return d.Program, full
}

// Tools holds resolved paths for the external audio tools.
type Tools struct {
	FFmpeg     string
	FFprobe    string
	Downloader *Downloader
}

// HasProber reports whether duration probing is available.
func (t *Tools) HasProber() bool { return t.FFprobe != "" }

// HasDownloader reports whether track fetching is available.
func (t *Tools) HasDownloader() bool { return t.Downloader != nil }

// Resolve locates the toolchain. ffmpeg is required and its absence is an
// ErrDependencyMissing; ffprobe and the downloader are optional and their
// absence degrades duration probing and track fetching respectively.
//
// Explicitly configured paths win; empty ones fall back to an environment
// override, a binary next to the working directory, then PATH. The
// downloader resolves yt-dlp first and falls back to `python3 -m yt_dlp`
// when the python module is importable.
func Resolve(ctx context.Context, ffmpegPath, ffprobePath, downloaderPath string) (*Tools, error) {
	tools := &Tools{}

	resolved, err := resolvePath(ffmpegPath, "ffmpeg", EnvFFmpegBinary)
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg (%v)", ErrDependencyMissing, err)
	}
	tools.FFmpeg = resolved

	if probe, err := resolvePath(ffprobePath, "ffprobe", EnvFFprobeBinary); err == nil {
		tools.FFprobe = probe
	}

	tools.Downloader = resolveDownloader(ctx, downloaderPath)

	return tools, nil
}

// resolvePath resolves one tool. A non-empty explicit path must point at an
// executable file; otherwise resolution falls through FindBinary.
func resolvePath(explicit, name, envVar string) (string, error) {
	if explicit != "" {
		if isExecutableFile(explicit) {
			return explicit, nil
		}
		return "", fmt.Errorf("configured path %q is not an executable file", explicit)
	}
	return FindBinary(name, envVar)
}

// resolveDownloader picks the track download command, or nil when no
// candidate works.
func resolveDownloader(ctx context.Context, explicit string) *Downloader {
	if explicit != "" && isExecutableFile(explicit) {
		return &Downloader{Program: explicit}
	}

	if path, err := FindBinary("yt-dlp", EnvDownloaderBinary); err == nil {
		return &Downloader{Program: path}
	}

	python, err := exec.LookPath("python3")
	if err != nil {
		return nil
	}
	if _, _, err := runner.Run(ctx, python, []string{"-m", "yt_dlp", "--version"}); err != nil {
		return nil
	}
	return &Downloader{Program: python, BaseArgs: []string{"-m", "yt_dlp"}}
}

// FindBinary locates a binary by name. Search order: the environment
// variable override, a binary of that name in the current working
// directory, then PATH. Invalid overrides fall through silently.
func FindBinary(name, envVar string) (string, error) {
	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" && isExecutableFile(envPath) {
			return envPath, nil
		}
	}

	if cwd, err := os.Getwd(); err == nil {
		local := filepath.Join(cwd, name)
		if isExecutableFile(local) {
			return local, nil
		}
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("binary %q not found in PATH: %w", name, err)
	}
	return path, nil
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0111 != 0
}

// Version reports the ffmpeg version string, e.g. "7.1".
func Version(ctx context.Context, ffmpegPath string) (string, error) {
	stdout, _, err := runner.Run(ctx, ffmpegPath, []string{"-version"})
	if err != nil {
		return "", fmt.Errorf("getting ffmpeg version: %w", err)
	}

	// First line looks like "ffmpeg version 7.1 Copyright ...".
	line, _, _ := strings.Cut(string(stdout), "\n")
	fields := strings.Fields(line)
	if len(fields) >= 3 && fields[0] == "ffmpeg" && fields[1] == "version" {
		return fields[2], nil
	}
	return "", errors.New("failed to parse ffmpeg version output")
}
