// Package engine adapts external extraction tools to the download core.
package engine

import (
	"context"

	"github.com/iconidentify/streamfetch/internal/domain"
)

// Format is one downloadable rendition of a source.
type Format struct {
	ID           string `json:"id"`
	Ext          string `json:"ext"`
	Height       int    `json:"height,omitempty"`
	Note         string `json:"note,omitempty"`
	SizeEstimate int64  `json:"size_estimate,omitempty"`
	VideoOnly    bool   `json:"video_only,omitempty"`
	AudioOnly    bool   `json:"audio_only,omitempty"`
}

// DownloadRequest describes a single transfer.
type DownloadRequest struct {
	JobID       domain.JobID
	URL         string
	Format      domain.FormatSelection
	Credentials *domain.CredentialSet // nil for anonymous access
	OutputDir   string
}

// DownloadResult is returned by a successful transfer.
type DownloadResult struct {
	OutputPath string
	Title      string
}

// ProgressFunc receives raw progress samples during a transfer.
type ProgressFunc func(domain.ProgressEvent)

// Engine performs metadata resolution and transfers.
type Engine interface {
	ResolveFormats(ctx context.Context, url string, creds *domain.CredentialSet) ([]Format, error)
	Download(ctx context.Context, req DownloadRequest, onProgress ProgressFunc) (*DownloadResult, error)
}

// PlaylistEntry is one item of a listed playlist.
type PlaylistEntry struct {
	SourceID string
	URL      string
	Title    string
	// Unavailable entries are reported to the user but never enqueued.
	Unavailable bool
	Reason      string
}

// Playlist is the result of listing a playlist URL.
type Playlist struct {
	ID      string
	Title   string
	URL     string
	Entries []PlaylistEntry
}

// Lister enumerates playlist entries.
type Lister interface {
	ListPlaylist(ctx context.Context, url string, creds *domain.CredentialSet) (*Playlist, error)
}

// WatchURL returns the canonical watch URL for a video id.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
