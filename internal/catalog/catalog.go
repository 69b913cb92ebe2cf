// Package catalog loads the station's track catalog from a JSON file and
// keeps it fresh when the file changes on disk.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrCatalogInvalid marks any catalog that could not be loaded: unreadable
// file, malformed JSON, failed validation, or an empty track list.
var ErrCatalogInvalid = errors.New("catalog invalid")

// CatalogError describes why a catalog file was rejected. It matches both
// ErrCatalogInvalid and its underlying cause with errors.Is.
type CatalogError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CatalogError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("catalog %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("catalog %s: %s", e.Path, e.Reason)
}

func (e *CatalogError) Unwrap() []error {
	errs := []error{ErrCatalogInvalid}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Track is one catalog entry. Read-only after load.
type Track struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Artist      string   `json:"artist"`
	URL         string   `json:"url"`
	DurationSec int      `json:"duration_sec"`
	Tags        []string `json:"tags"`
	Energy      float64  `json:"energy"`
	Mood        string   `json:"mood"`
	Language    string   `json:"language"`
}

func (t *Track) validate() error {
	switch {
	case t.ID == "":
		return errors.New("missing id")
	case t.Title == "":
		return errors.New("missing title")
	case t.URL == "":
		return errors.New("missing url")
	case t.DurationSec <= 0:
		return errors.New("duration_sec must be a positive integer")
	case t.Energy < 0 || t.Energy > 1:
		return errors.New("energy must be within [0, 1]")
	}
	return nil
}

func (t *Track) applyDefaults() {
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Mood == "" {
		t.Mood = "neutral"
	}
	if t.Language == "" {
		t.Language = "en"
	}
}

// Load reads and validates a catalog file. Returned tracks have defaults
// applied: empty tag list, mood "neutral", language "en". Track IDs must be
// unique; they key the on-disk audio cache.
func Load(path string) ([]Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CatalogError{Path: path, Reason: "read failed", Err: err}
	}

	var tracks []Track
	if err := json.Unmarshal(data, &tracks); err != nil {
		return nil, &CatalogError{Path: path, Reason: "parse failed", Err: err}
	}
	if len(tracks) == 0 {
		return nil, &CatalogError{Path: path, Reason: "no tracks"}
	}

	seen := make(map[string]struct{}, len(tracks))
	for i := range tracks {
		track := &tracks[i]
		if err := track.validate(); err != nil {
			return nil, &CatalogError{
				Path:   path,
				Reason: fmt.Sprintf("track %d (id %q)", i, track.ID),
				Err:    err,
			}
		}
		if _, dup := seen[track.ID]; dup {
			return nil, &CatalogError{Path: path, Reason: fmt.Sprintf("duplicate track id %q", track.ID)}
		}
		seen[track.ID] = struct{}{}
		track.applyDefaults()
	}

	return tracks, nil
}
