// Package expander turns submitted URLs into download jobs.
package expander

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/iconidentify/streamfetch/internal/domain"
	"github.com/iconidentify/streamfetch/internal/engine"
)

// Kind tells single items from playlists.
type Kind string

const (
	KindSingle   Kind = "single"
	KindPlaylist Kind = "playlist"
)

// Source is a classified submission URL.
type Source struct {
	Kind Kind
	// URL is the normalized form handed to the engine.
	URL string
	// SourceID is the video id, the normalized URL for foreign single
	// items, or the list id for playlists.
	SourceID string
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

var platformHosts = map[string]bool{
	"youtube.com":          true,
	"m.youtube.com":        true,
	"music.youtube.com":    true,
	"youtube-nocookie.com": true,
}

// Classify parses rawURL and decides how it expands. The result is
// derived from the URL alone.
func Classify(rawURL string) (Source, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Source{}, fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Source{}, fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return Source{}, fmt.Errorf("%w: missing host", domain.ErrInvalidURL)
	}
	host = strings.TrimPrefix(host, "www.")

	switch {
	case host == "youtu.be":
		return single(strings.Trim(u.Path, "/"))
	case platformHosts[host]:
		return classifyPlatform(u)
	}

	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	normalized := u.String()
	return Source{Kind: KindSingle, URL: normalized, SourceID: normalized}, nil
}

func classifyPlatform(u *url.URL) (Source, error) {
	q := u.Query()
	path := strings.TrimSuffix(u.Path, "/")

	if v := q.Get("v"); v != "" {
		return single(v)
	}
	for _, prefix := range []string{"/shorts/", "/live/", "/embed/"} {
		if strings.HasPrefix(path, prefix) {
			return single(strings.SplitN(strings.TrimPrefix(path, prefix), "/", 2)[0])
		}
	}
	if list := q.Get("list"); list != "" {
		return Source{
			Kind:     KindPlaylist,
			URL:      "https://www.youtube.com/playlist?list=" + url.QueryEscape(list),
			SourceID: list,
		}, nil
	}
	if path == "/playlist" {
		return Source{}, fmt.Errorf("%w: playlist URL without a list id", domain.ErrInvalidURL)
	}
	return Source{}, fmt.Errorf("%w: no video or playlist id in %s", domain.ErrInvalidURL, u.Path)
}

func single(id string) (Source, error) {
	if !videoIDPattern.MatchString(id) {
		return Source{}, fmt.Errorf("%w: malformed video id %q", domain.ErrInvalidURL, id)
	}
	return Source{Kind: KindSingle, URL: engine.WatchURL(id), SourceID: id}, nil
}
