package commentary

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/airwav/airwav/internal/catalog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMockedGenerator(t *testing.T, apiKey string) *Generator {
	t.Helper()
	base := &http.Client{}
	httpmock.ActivateNonDefault(base)
	t.Cleanup(httpmock.DeactivateAndReset)
	return New(apiKey, "https://llm.test/v1", "gpt-4o-mini", base, testLogger())
}

func completionBody(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  "gpt-4o-mini",
		"choices": []map[string]any{
			{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
			},
		},
	}
}

func sampleRequest() Request {
	return Request{
		StationName: "AIRWAV",
		Recent: []catalog.Track{
			{ID: "t1", Title: "Neon Drive", Artist: "Halide"},
			{ID: "t2", Title: "Midnight Sun", Artist: "Kavara"},
		},
		Upcoming: &catalog.Track{ID: "t3", Title: "Gravity", Artist: "Sable", Energy: 0.9},
	}
}

func TestGenerateUsesCompletion(t *testing.T) {
	g := newMockedGenerator(t, "test-key")

	var captured map[string]any
	var auth string
	httpmock.RegisterResponder(http.MethodPost, `=~/chat/completions$`,
		func(req *http.Request) (*http.Response, error) {
			auth = req.Header.Get("Authorization")
			defer req.Body.Close()
			if err := json.NewDecoder(req.Body).Decode(&captured); err != nil {
				return nil, err
			}
			return httpmock.NewJsonResponse(http.StatusOK, completionBody("  Buckle up, Gravity is about to pull us in!  "))
		})

	text, err := g.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Equal(t, "Buckle up, Gravity is about to pull us in!", text)
	require.Equal(t, "Bearer test-key", auth)

	require.Equal(t, "gpt-4o-mini", captured["model"])
	require.Equal(t, 1.5, captured["temperature"])
	require.Equal(t, float64(2000), captured["max_tokens"])

	messages, ok := captured["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)

	system := messages[0].(map[string]any)
	require.Equal(t, "system", system["role"])
	require.Contains(t, system["content"], "PG-13")

	user := messages[1].(map[string]any)
	require.Equal(t, "user", user["role"])
	prompt := user["content"].(string)
	require.Contains(t, prompt, "Station: AIRWAV.")
	require.Contains(t, prompt, "Recently played: Neon Drive, Midnight Sun.")
	require.Contains(t, prompt, `Up next: "Gravity" by Sable.`)
	require.Contains(t, prompt, "Vibe: high-energy anthem.")

	require.Equal(t, []string{"Buckle up, Gravity is about to pull us in!"}, g.History())
}

func TestGenerateFallsBackOnServerError(t *testing.T) {
	g := newMockedGenerator(t, "test-key")
	httpmock.RegisterResponder(http.MethodPost, `=~/chat/completions$`,
		httpmock.NewStringResponder(http.StatusInternalServerError, `{"error":{"message":"overloaded"}}`))

	req := sampleRequest()
	text, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, Fallback(req), text)
	require.Equal(t, "That was Midnight Sun by Kavara. Now we roll into Gravity by Sable. You are listening to AIRWAV.", text)
}

func TestGenerateFallsBackOnEmptyContent(t *testing.T) {
	g := newMockedGenerator(t, "test-key")
	httpmock.RegisterResponder(http.MethodPost, `=~/chat/completions$`,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, completionBody("   ")))

	req := sampleRequest()
	text, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, Fallback(req), text)
}

func TestGenerateWithoutKeySkipsEndpoint(t *testing.T) {
	g := newMockedGenerator(t, "")
	httpmock.RegisterResponder(http.MethodPost, `=~/chat/completions$`,
		httpmock.NewStringResponder(http.StatusOK, "should not be called"))

	text, err := g.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Equal(t, "That was Midnight Sun by Kavara. Now we roll into Gravity by Sable. You are listening to AIRWAV.", text)
	require.Zero(t, httpmock.GetTotalCallCount())
}

func TestGenerateCanceledContext(t *testing.T) {
	g := newMockedGenerator(t, "test-key")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	text, err := g.Generate(ctx, sampleRequest())
	require.Empty(t, text)
	var cerr *CommentaryError
	require.ErrorAs(t, err, &cerr)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, g.History())
}

func TestFallback(t *testing.T) {
	upcoming := &catalog.Track{Title: "Gravity", Artist: "Sable"}
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{
			name: "all slots filled",
			req: Request{
				StationName: "AIRWAV",
				Recent:      []catalog.Track{{Title: "Neon Drive", Artist: "Halide"}},
				Upcoming:    upcoming,
			},
			want: "That was Neon Drive by Halide. Now we roll into Gravity by Sable. You are listening to AIRWAV.",
		},
		{
			name: "nothing played yet",
			req:  Request{StationName: "AIRWAV", Upcoming: upcoming},
			want: "That was that last track. Now we roll into Gravity by Sable. You are listening to AIRWAV.",
		},
		{
			name: "nothing cued",
			req: Request{
				StationName: "AIRWAV",
				Recent:      []catalog.Track{{Title: "Neon Drive", Artist: "Halide"}},
			},
			want: "That was Neon Drive by Halide. Now we roll into our next song. You are listening to AIRWAV.",
		},
		{
			name: "unnamed station",
			req:  Request{},
			want: "That was that last track. Now we roll into our next song. You are listening to the station.",
		},
		{
			name: "track without artist",
			req: Request{
				StationName: "AIRWAV",
				Recent:      []catalog.Track{{Title: "Untitled Demo"}},
				Upcoming:    upcoming,
			},
			want: "That was Untitled Demo. Now we roll into Gravity by Sable. You are listening to AIRWAV.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Fallback(tt.req))
		})
	}
}

func TestVibeTag(t *testing.T) {
	tests := []struct {
		name  string
		track *catalog.Track
		want  string
	}{
		{"no upcoming track", nil, "rhythmic momentum"},
		{"energy at threshold", &catalog.Track{Energy: 0.8}, "high-energy anthem"},
		{"energy beats mood", &catalog.Track{Energy: 0.9, Mood: "chill"}, "high-energy anthem"},
		{"chill mood substring", &catalog.Track{Energy: 0.3, Mood: "Chillwave"}, "smooth laid-back"},
		{"neither", &catalog.Track{Energy: 0.3, Mood: "upbeat"}, "rhythmic momentum"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, vibeTag(tt.track))
		})
	}
}

func TestUserPromptSurpriseDrop(t *testing.T) {
	prompt := userPrompt(Request{StationName: "AIRWAV"})
	require.Contains(t, prompt, "Up next: a surprise drop.")
	require.Contains(t, prompt, "Vibe: rhythmic momentum.")
	require.NotContains(t, prompt, "Recently played")
}

func TestHistoryBounded(t *testing.T) {
	g := New("", "", "gpt-4o-mini", nil, testLogger())

	for i := 0; i < 8; i++ {
		_, err := g.Generate(context.Background(), Request{StationName: fmt.Sprintf("station-%d", i)})
		require.NoError(t, err)
	}

	history := g.History()
	require.Len(t, history, 6)
	require.Contains(t, history[0], "station-2")
	require.Contains(t, history[5], "station-7")

	history[0] = "mutated"
	require.Contains(t, g.History()[0], "station-2")
}
