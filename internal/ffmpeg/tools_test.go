package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeTool drops an executable shell script into dir.
func writeFakeTool(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func TestFindBinary(t *testing.T) {
	t.Run("finds executable binary via environment variable", func(t *testing.T) {
		fake := writeFakeTool(t, t.TempDir(), "some-tool", "exit 0")
		t.Setenv("TEST_BINARY_PATH", fake)

		path, err := FindBinary("nonexistent-binary", "TEST_BINARY_PATH")
		require.NoError(t, err)
		assert.Equal(t, fake, path)
	})

	t.Run("env var takes priority over PATH", func(t *testing.T) {
		fake := writeFakeTool(t, t.TempDir(), "fake-ls", "exit 0")
		t.Setenv("TEST_BINARY_PATH", fake)

		path, err := FindBinary("ls", "TEST_BINARY_PATH")
		require.NoError(t, err)
		assert.Equal(t, fake, path)
	})

	t.Run("finds binary on PATH when no env var", func(t *testing.T) {
		path, err := FindBinary("ls", "")
		require.NoError(t, err)
		assert.Contains(t, path, "ls")
	})

	t.Run("returns error when binary not found", func(t *testing.T) {
		path, err := FindBinary("definitely-nonexistent-binary-12345", "")
		assert.Error(t, err)
		assert.Empty(t, path)
	})

	t.Run("ignores env var if file does not exist", func(t *testing.T) {
		t.Setenv("TEST_BINARY_PATH", "/nonexistent/path/to/binary")

		path, err := FindBinary("ls", "TEST_BINARY_PATH")
		require.NoError(t, err)
		assert.NotEqual(t, "/nonexistent/path/to/binary", path)
	})

	t.Run("ignores env var if file is not executable", func(t *testing.T) {
		dir := t.TempDir()
		flat := filepath.Join(dir, "not-executable")
		require.NoError(t, os.WriteFile(flat, []byte("data"), 0o644))
		t.Setenv("TEST_BINARY_PATH", flat)

		path, err := FindBinary("ls", "TEST_BINARY_PATH")
		require.NoError(t, err)
		assert.NotEqual(t, flat, path)
	})

	t.Run("ignores directory even if executable", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("TEST_BINARY_PATH", dir)

		path, err := FindBinary("ls", "TEST_BINARY_PATH")
		require.NoError(t, err)
		assert.NotEqual(t, dir, path)
	})
}

func TestResolve_FFmpegRequired(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := Resolve(context.Background(), "", "", "")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDependencyMissing)
}

func TestResolve_FromPath(t *testing.T) {
	dir := t.TempDir()
	writeFakeTool(t, dir, "ffmpeg", "exit 0")
	writeFakeTool(t, dir, "ffprobe", "exit 0")
	t.Setenv("PATH", dir)

	tools, err := Resolve(context.Background(), "", "", "")

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ffmpeg"), tools.FFmpeg)
	assert.Equal(t, filepath.Join(dir, "ffprobe"), tools.FFprobe)
	assert.True(t, tools.HasProber())
	assert.False(t, tools.HasDownloader(), "no downloader candidates on fake PATH")
}

func TestResolve_MissingProbeDegrades(t *testing.T) {
	dir := t.TempDir()
	writeFakeTool(t, dir, "ffmpeg", "exit 0")
	t.Setenv("PATH", dir)

	tools, err := Resolve(context.Background(), "", "", "")

	require.NoError(t, err)
	assert.False(t, tools.HasProber())
}

func TestResolve_ExplicitPaths(t *testing.T) {
	dir := t.TempDir()
	ffmpegPath := writeFakeTool(t, dir, "my-ffmpeg", "exit 0")
	t.Setenv("PATH", t.TempDir())

	tools, err := Resolve(context.Background(), ffmpegPath, "", "")

	require.NoError(t, err)
	assert.Equal(t, ffmpegPath, tools.FFmpeg)
}

func TestResolve_ExplicitPathInvalid(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := Resolve(context.Background(), "/does/not/exist", "", "")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDependencyMissing)
}

func TestResolve_DownloaderBinary(t *testing.T) {
	dir := t.TempDir()
	writeFakeTool(t, dir, "ffmpeg", "exit 0")
	writeFakeTool(t, dir, "yt-dlp", "exit 0")
	t.Setenv("PATH", dir)

	tools, err := Resolve(context.Background(), "", "", "")

	require.NoError(t, err)
	require.True(t, tools.HasDownloader())
	assert.Equal(t, filepath.Join(dir, "yt-dlp"), tools.Downloader.Program)
	assert.Empty(t, tools.Downloader.BaseArgs)
}

func TestResolve_DownloaderPythonFallback(t *testing.T) {
	dir := t.TempDir()
	writeFakeTool(t, dir, "ffmpeg", "exit 0")
	writeFakeTool(t, dir, "python3", "exit 0")
	t.Setenv("PATH", dir)

	tools, err := Resolve(context.Background(), "", "", "")

	require.NoError(t, err)
	require.True(t, tools.HasDownloader())
	assert.Equal(t, filepath.Join(dir, "python3"), tools.Downloader.Program)
	assert.Equal(t, []string{"-m", "yt_dlp"}, tools.Downloader.BaseArgs)
}

func TestResolve_DownloaderPythonWithoutModule(t *testing.T) {
	dir := t.TempDir()
	writeFakeTool(t, dir, "ffmpeg", "exit 0")
	writeFakeTool(t, dir, "python3", "exit 1")
	t.Setenv("PATH", dir)

	tools, err := Resolve(context.Background(), "", "", "")

	require.NoError(t, err)
	assert.False(t, tools.HasDownloader())
}

func TestDownloader_Command(t *testing.T) {
	plain := &Downloader{Program: "/usr/bin/yt-dlp"}
	program, args := plain.Command("-x", "url")
	assert.Equal(t, "/usr/bin/yt-dlp", program)
	assert.Equal(t, []string{"-x", "url"}, args)

	fallback := &Downloader{Program: "/usr/bin/python3", BaseArgs: []string{"-m", "yt_dlp"}}
	program, args = fallback.Command("-x", "url")
	assert.Equal(t, "/usr/bin/python3", program)
	assert.Equal(t, []string{"-m", "yt_dlp", "-x", "url"}, args)
}

func TestVersion(t *testing.T) {
	dir := t.TempDir()
	ffmpegPath := writeFakeTool(t, dir, "ffmpeg",
		`echo "ffmpeg version 7.1.1 Copyright (c) 2000-2024 the FFmpeg developers"`)

	version, err := Version(context.Background(), ffmpegPath)

	require.NoError(t, err)
	assert.Equal(t, "7.1.1", version)
}

func TestVersion_UnparseableOutput(t *testing.T) {
	dir := t.TempDir()
	ffmpegPath := writeFakeTool(t, dir, "ffmpeg", `echo "garbage"`)

	_, err := Version(context.Background(), ffmpegPath)

	assert.Error(t, err)
}
