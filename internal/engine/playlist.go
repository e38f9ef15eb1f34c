package engine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/iconidentify/streamfetch/internal/domain"
)

type flatPlaylist struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Type    string `json:"_type"`
	Entries []struct {
		ID           string `json:"id"`
		Title        string `json:"title"`
		URL          string `json:"url"`
		Availability string `json:"availability"`
	} `json:"entries"`
}

// unavailableTitles are the placeholders the platform lists in place of
// entries the viewer cannot access.
var unavailableTitles = map[string]string{
	"[private video]":     "private",
	"[deleted video]":     "deleted",
	"[unavailable video]": "unavailable",
}

// ListPlaylist lists a playlist with --flat-playlist, using creds when given.
func (y *YTDLP) ListPlaylist(ctx context.Context, url string, creds *domain.CredentialSet) (*Playlist, error) {
	out, err := y.dumpJSON(ctx, url, creds, "--flat-playlist", "--yes-playlist")
	if err != nil {
		return nil, err
	}
	return parseFlatPlaylist(out, url)
}

func parseFlatPlaylist(data []byte, url string) (*Playlist, error) {
	var raw flatPlaylist
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Kind: domain.FailureFatal, Message: "Unexpected engine failure", Detail: "decode playlist: " + err.Error()}
	}
	if raw.Type != "" && raw.Type != "playlist" {
		return nil, &Error{Kind: domain.FailureNotFound, Message: "This URL is not a playlist"}
	}

	pl := &Playlist{
		ID:      raw.ID,
		Title:   raw.Title,
		URL:     url,
		Entries: make([]PlaylistEntry, 0, len(raw.Entries)),
	}
	for _, e := range raw.Entries {
		entry := PlaylistEntry{
			SourceID: e.ID,
			Title:    e.Title,
			URL:      e.URL,
		}
		if entry.URL == "" && entry.SourceID != "" {
			entry.URL = WatchURL(entry.SourceID)
		}

		switch {
		case entry.SourceID == "":
			entry.Unavailable, entry.Reason = true, "missing id"
		case unavailableTitles[strings.ToLower(strings.TrimSpace(e.Title))] != "":
			entry.Unavailable, entry.Reason = true, unavailableTitles[strings.ToLower(strings.TrimSpace(e.Title))]
		case e.Availability == "private":
			entry.Unavailable, entry.Reason = true, "private"
		}
		pl.Entries = append(pl.Entries, entry)
	}
	return pl, nil
}
