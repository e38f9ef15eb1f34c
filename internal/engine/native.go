package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ytget/ytdlp/v2"

	"github.com/iconidentify/streamfetch/internal/domain"
)

// NativeLister lists public playlists in-process, without the yt-dlp
// binary. It cannot use credentials; authenticated listings fall back to
// the configured fallback lister.
type NativeLister struct {
	timeout  time.Duration
	fallback Lister
	logger   *slog.Logger
}

// NewNativeLister creates a lister. fallback may be nil.
func NewNativeLister(timeout time.Duration, fallback Lister, logger *slog.Logger) *NativeLister {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &NativeLister{
		timeout:  timeout,
		fallback: fallback,
		logger:   logger.With("component", "native_lister"),
	}
}

// ListPlaylist implements Lister.
func (n *NativeLister) ListPlaylist(ctx context.Context, rawURL string, creds *domain.CredentialSet) (*Playlist, error) {
	if !creds.IsEmpty() && n.fallback != nil {
		return n.fallback.ListPlaylist(ctx, rawURL, creds)
	}

	playlistID := PlaylistID(rawURL)
	if playlistID == "" {
		return nil, fmt.Errorf("list playlist %q: %w", rawURL, domain.ErrInvalidURL)
	}

	listCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	items, err := ytdlp.New().GetPlaylistItemsAll(listCtx, playlistID, 0)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("list playlist: %w", ctx.Err())
		}
		if listCtx.Err() != nil && n.fallback != nil {
			n.logger.Warn("native listing timed out, falling back", "playlist_id", playlistID)
			return n.fallback.ListPlaylist(ctx, rawURL, creds)
		}
		classified := ClassifyOutput(err.Error())
		n.logger.Debug("native listing failed", "playlist_id", playlistID, "error", err)
		return nil, classified
	}

	pl := &Playlist{
		ID:      playlistID,
		URL:     rawURL,
		Entries: make([]PlaylistEntry, 0, len(items)),
	}
	for _, it := range items {
		entry := PlaylistEntry{
			SourceID: it.VideoID,
			Title:    it.Title,
		}
		if it.VideoID == "" {
			entry.Unavailable, entry.Reason = true, "missing id"
		} else {
			entry.URL = WatchURL(it.VideoID)
		}
		if reason, ok := unavailableTitles[strings.ToLower(strings.TrimSpace(it.Title))]; ok {
			entry.Unavailable, entry.Reason = true, reason
		}
		pl.Entries = append(pl.Entries, entry)
	}
	return pl, nil
}

// PlaylistID extracts the list= parameter of a playlist URL.
func PlaylistID(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return u.Query().Get("list")
}
