// Package commentary produces the host links spoken between tracks.
//
// Text comes from an OpenAI-compatible chat-completion endpoint. When no
// API key is configured, the call fails, or the model returns nothing,
// a deterministic hand-off line is substituted so the show never stalls
// waiting on an upstream.
package commentary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/airwav/airwav/internal/catalog"
	"github.com/airwav/airwav/internal/observability"
)

// historySize bounds the retained output window.
const historySize = 6

const systemPrompt = "You are the on-air host of an internet radio station. " +
	"You speak in short, rhythmic, broadcast-ready sentences with real radio energy. " +
	"Keep it PG-13, never mention being an AI, and never use stage directions or emoji. " +
	"Two to four sentences, then out."

// CommentaryError reports a failure the generator does not paper over
// with fallback text, such as the caller's context expiring.
type CommentaryError struct {
	Err error
}

func (e *CommentaryError) Error() string {
	return fmt.Sprintf("generating commentary: %v", e.Err)
}

func (e *CommentaryError) Unwrap() error { return e.Err }

// Request describes the on-air moment the next host link has to cover.
type Request struct {
	StationName string
	// Recent holds the most recently played tracks, oldest first.
	Recent []catalog.Track
	// Upcoming is the track cued next, nil when the rotation has not
	// decided yet.
	Upcoming *catalog.Track
}

// Generator turns playout context into short spoken host links.
type Generator struct {
	client  oai.Client
	model   string
	haveKey bool
	logger  *slog.Logger

	mu      sync.Mutex
	history []string
}

// New builds a Generator talking to an OpenAI-compatible endpoint.
// apiKey may be empty, in which case Generate always returns the
// deterministic fallback line. httpClient is optional; passing the
// resilient client's StandardClient puts retries and the circuit
// breaker under the completion calls as well.
func New(apiKey, baseURL, model string, httpClient *http.Client, logger *slog.Logger) *Generator {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retry policy comes from the injected HTTP client, not the SDK.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Generator{
		client:  oai.NewClient(opts...),
		model:   model,
		haveKey: apiKey != "",
		logger:  observability.WithComponent(logger, "commentary"),
	}
}

// Generate returns the next host link. Upstream trouble degrades to the
// deterministic fallback rather than an error; the only failure mode is
// a *CommentaryError when ctx is done.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &CommentaryError{Err: err}
	}

	if g.haveKey {
		text, err := g.complete(ctx, req)
		switch {
		case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
			return "", &CommentaryError{Err: err}
		case err != nil:
			g.logger.Warn("commentary completion failed, using fallback", "error", err)
		case text != "":
			g.remember(text)
			return text, nil
		default:
			g.logger.Warn("commentary completion returned no text, using fallback")
		}
	} else {
		g.logger.Debug("no llm api key configured, using fallback commentary")
	}

	text := Fallback(req)
	g.remember(text)
	return text, nil
}

func (g *Generator) complete(ctx context.Context, req Request) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(userPrompt(req)),
		},
	}
	params.Temperature = param.NewOpt(1.5)
	params.MaxTokens = param.NewOpt(int64(2000))

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Station: %s.\n", req.StationName)

	if len(req.Recent) > 0 {
		titles := make([]string, 0, len(req.Recent))
		for _, t := range req.Recent {
			titles = append(titles, t.Title)
		}
		fmt.Fprintf(&b, "Recently played: %s.\n", strings.Join(titles, ", "))
	}

	if req.Upcoming != nil {
		fmt.Fprintf(&b, "Up next: %q by %s.\n", req.Upcoming.Title, req.Upcoming.Artist)
	} else {
		b.WriteString("Up next: a surprise drop.\n")
	}

	fmt.Fprintf(&b, "Vibe: %s.\n", vibeTag(req.Upcoming))
	b.WriteString("Write the link you would speak right now.")
	return b.String()
}

// vibeTag maps the upcoming track onto one of three delivery cues.
func vibeTag(t *catalog.Track) string {
	if t != nil {
		if t.Energy >= 0.8 {
			return "high-energy anthem"
		}
		if strings.Contains(strings.ToLower(t.Mood), "chill") {
			return "smooth laid-back"
		}
	}
	return "rhythmic momentum"
}

// Fallback returns the deterministic hand-off line used when the model
// is unavailable. Empty slots read as "that last track", "our next
// song", and "the station".
func Fallback(req Request) string {
	last := "that last track"
	if n := len(req.Recent); n > 0 {
		last = trackPhrase(req.Recent[n-1], last)
	}
	next := "our next song"
	if req.Upcoming != nil {
		next = trackPhrase(*req.Upcoming, next)
	}
	station := req.StationName
	if station == "" {
		station = "the station"
	}
	return fmt.Sprintf("That was %s. Now we roll into %s. You are listening to %s.", last, next, station)
}

func trackPhrase(t catalog.Track, empty string) string {
	switch {
	case t.Title != "" && t.Artist != "":
		return fmt.Sprintf("%s by %s", t.Title, t.Artist)
	case t.Title != "":
		return t.Title
	default:
		return empty
	}
}

func (g *Generator) remember(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = append(g.history, text)
	if len(g.history) > historySize {
		g.history = g.history[len(g.history)-historySize:]
	}
}

// History returns the retained host links, oldest first. The window is
// bounded; it feeds phrase-frequency diagnostics on the dashboard.
func (g *Generator) History() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.history))
	copy(out, g.history)
	return out
}
