package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/iconidentify/streamfetch/internal/domain"
)

// BrowserCapture captures a logged-in session from an installed browser
// profile with yt-dlp --cookies-from-browser.
type BrowserCapture struct {
	y       *YTDLP
	browser string
	domains []string
	timeout time.Duration
}

// NewBrowserCapture creates a capturer reading cookies from browser
// (chrome, edge, firefox, ...), keeping only cookies for domains.
func NewBrowserCapture(y *YTDLP, browser string, domains []string) *BrowserCapture {
	if browser == "" {
		browser = "chrome"
	}
	return &BrowserCapture{
		y:       y,
		browser: browser,
		domains: domains,
		timeout: 30 * time.Second,
	}
}

// CaptureLogin implements auth.LoginCapturer.
func (b *BrowserCapture) CaptureLogin(ctx context.Context) (*domain.CredentialSet, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	f, err := os.CreateTemp("", "streamfetch-capture-*.txt")
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	args := b.y.baseArgs()
	args = append(args,
		"--cookies-from-browser", b.browser,
		"--cookies", path,
		"--skip-download",
		"--", "https://www.youtube.com",
	)

	cmd := exec.CommandContext(ctx, b.y.cfg.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.New("cookie extraction timed out")
		}
		return nil, ctx.Err()
	}

	data, err := os.ReadFile(path)
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		if runErr != nil {
			return nil, fmt.Errorf("extract cookies from %s: %s", b.browser, firstLine(stderr.String()))
		}
		return nil, fmt.Errorf("extract cookies from %s: no cookies written", b.browser)
	}

	set, err := domain.ParseNetscapeCookies(string(data))
	if err != nil {
		return nil, fmt.Errorf("extract cookies from %s: %w", b.browser, err)
	}
	set.FilterDomains(b.domains)
	if set.IsEmpty() {
		return nil, fmt.Errorf("no site cookies found in %s", b.browser)
	}
	set.Source = "browser:" + b.browser
	set.Label = "Logged in (" + b.browser + ")"
	return set, nil
}

// Prober checks credentials by fetching a page that requires login.
type Prober struct {
	y   *YTDLP
	url string
}

// NewProber creates a prober against probeURL.
func NewProber(y *YTDLP, probeURL string) *Prober {
	return &Prober{y: y, url: probeURL}
}

// Probe implements auth.Prober. It returns an error matching
// domain.ErrUnauthorized when the platform rejects the session.
func (p *Prober) Probe(ctx context.Context, creds *domain.CredentialSet) error {
	if creds.IsEmpty() {
		return fmt.Errorf("probe: %w", domain.ErrUnauthorized)
	}
	_, err := p.y.dumpJSON(ctx, p.url, creds, "--flat-playlist", "--playlist-items", "1")
	return err
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
