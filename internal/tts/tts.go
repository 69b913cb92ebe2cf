// Package tts adapts an external text-to-speech HTTP service. The service
// contract is loose on purpose: different backends answer POST /generate
// with raw audio, a URL, a server-local path or inline base64, and the
// adapter normalizes all of them into a WAV file on disk.
package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/airwav/airwav/internal/httpclient"
	"github.com/airwav/airwav/internal/observability"
)

// Error reports a failed exchange with the speech service.
type Error struct {
	Status int // HTTP status, 0 when the request never completed
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("tts request failed with status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("tts request failed: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UnsupportedPayloadError means the service answered with JSON the adapter
// cannot interpret. Keys lists what the response actually carried.
type UnsupportedPayloadError struct {
	Keys []string
}

func (e *UnsupportedPayloadError) Error() string {
	return fmt.Sprintf("unsupported tts payload, response keys: %s", strings.Join(e.Keys, ", "))
}

// payloadKind classifies how a JSON response delivers its audio.
type payloadKind int

const (
	payloadNone payloadKind = iota
	payloadURL
	payloadPath
	payloadBase64
)

// payloadProbes are checked in order; the first present non-empty string
// key wins.
var payloadProbes = []struct {
	kind payloadKind
	keys []string
}{
	{payloadURL, []string{"audio_url", "url", "file_url", "download_url"}},
	{payloadPath, []string{"audio_path", "file_path", "path", "output_path"}},
	{payloadBase64, []string{"audio_base64", "wav_base64", "base64", "audio"}},
}

// Client talks to one speech service endpoint.
type Client struct {
	baseURL string
	http    *httpclient.Client
	logger  *slog.Logger
}

// New creates a Client for the service at baseURL.
func New(baseURL string, hc *httpclient.Client, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		logger:  observability.WithComponent(logger, "tts"),
	}
}

type generateRequest struct {
	Text string `json:"text"`
}

// Synthesize speaks text and writes the result to outPath as delivered by
// the service.
func (c *Client) Synthesize(ctx context.Context, text, outPath string) error {
	body, err := json.Marshal(generateRequest{Text: text})
	if err != nil {
		return fmt.Errorf("encoding tts request: %w", err)
	}

	c.logger.Debug("synthesizing speech",
		slog.Int("text_len", len(text)),
		slog.String("out", filepath.Base(outPath)),
	)

	resp, err := c.http.Post(ctx, c.baseURL+"/generate", "application/json", body)
	if err != nil {
		return &Error{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &Error{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", strings.TrimSpace(string(detail))),
		}
	}

	contentType := resp.Header.Get(httpclient.HeaderContentType)
	if strings.HasPrefix(contentType, "audio/") {
		return writeStream(outPath, resp.Body)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Err: fmt.Errorf("reading response: %w", err)}
	}
	return c.resolvePayload(ctx, raw, outPath)
}

// resolvePayload interprets a JSON response and lands the audio at outPath.
func (c *Client) resolvePayload(ctx context.Context, raw []byte, outPath string) error {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return &Error{Err: fmt.Errorf("decoding response: %w", err)}
	}

	kind, value := classifyPayload(fields)
	switch kind {
	case payloadURL:
		return c.fetchURL(ctx, value, outPath)
	case payloadPath:
		return copyFile(value, outPath)
	case payloadBase64:
		return writeBase64(value, outPath)
	default:
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return &UnsupportedPayloadError{Keys: keys}
	}
}

func classifyPayload(fields map[string]any) (payloadKind, string) {
	for _, probe := range payloadProbes {
		for _, key := range probe.keys {
			if v, ok := fields[key].(string); ok && v != "" {
				return probe.kind, v
			}
		}
	}
	return payloadNone, ""
}

func (c *Client) fetchURL(ctx context.Context, audioURL, outPath string) error {
	resp, err := c.http.Get(ctx, audioURL)
	if err != nil {
		return &Error{Err: fmt.Errorf("fetching audio url: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Error{Status: resp.StatusCode, Err: fmt.Errorf("fetching audio url %s", audioURL)}
	}
	return writeStream(outPath, resp.Body)
}

func copyFile(srcPath, outPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening tts output file: %w", err)
	}
	defer src.Close()
	return writeStream(outPath, src)
}

func writeBase64(encoded, outPath string) error {
	// Data-URI responses carry a "data:audio/wav;base64," prefix.
	if idx := strings.Index(encoded, "base64,"); idx >= 0 {
		encoded = encoded[idx+len("base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return fmt.Errorf("decoding base64 audio: %w", err)
	}
	return os.WriteFile(outPath, data, 0o644)
}

func writeStream(outPath string, r io.Reader) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating audio file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("writing audio file: %w", err)
	}
	return out.Close()
}
