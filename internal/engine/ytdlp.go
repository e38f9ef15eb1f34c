package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iconidentify/streamfetch/internal/domain"
)

const (
	progressMarker = "[sfprog]"
	pathMarker     = "[sfpath]"

	progressTemplate = "download:" + progressMarker +
		" %(progress.downloaded_bytes)s %(progress.total_bytes)s %(progress.total_bytes_estimate)s %(progress.speed)s %(progress.eta)s"
	pathTemplate = "after_move:" + pathMarker + " %(filepath)s"

	maxKeptOutput = 8192
)

// YTDLPConfig configures the yt-dlp adapter.
type YTDLPConfig struct {
	Binary          string
	UserAgent       string
	SocketTimeout   time.Duration
	MergeFormat     string
	OutputTemplate  string
	FragmentRetries int
}

// YTDLP drives the yt-dlp command line tool.
type YTDLP struct {
	cfg    YTDLPConfig
	logger *slog.Logger
}

// NewYTDLP creates an adapter.
func NewYTDLP(cfg YTDLPConfig, logger *slog.Logger) *YTDLP {
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	if cfg.MergeFormat == "" {
		cfg.MergeFormat = "mp4"
	}
	if cfg.OutputTemplate == "" {
		cfg.OutputTemplate = "%(title)s [%(id)s].%(ext)s"
	}
	if cfg.FragmentRetries <= 0 {
		cfg.FragmentRetries = 10
	}
	return &YTDLP{cfg: cfg, logger: logger.With("component", "ytdlp")}
}

// Available reports whether the binary can be found.
func (y *YTDLP) Available() bool {
	_, err := exec.LookPath(y.cfg.Binary)
	return err == nil
}

func (y *YTDLP) baseArgs() []string {
	args := []string{"--no-warnings", "--no-color"}
	if y.cfg.UserAgent != "" {
		args = append(args, "--user-agent", y.cfg.UserAgent)
	}
	args = append(args, "--add-header", "Accept-Language:en-us,en;q=0.5")
	if y.cfg.SocketTimeout > 0 {
		args = append(args, "--socket-timeout", strconv.Itoa(int(y.cfg.SocketTimeout.Seconds())))
	}
	return args
}

func (y *YTDLP) downloadArgs(req DownloadRequest, cookiesPath string) []string {
	args := y.baseArgs()
	args = append(args,
		"--no-playlist",
		"--newline",
		"--progress",
		"--no-simulate",
		"--progress-template", progressTemplate,
		"--print", pathTemplate,
		"--fragment-retries", strconv.Itoa(y.cfg.FragmentRetries),
		"-f", req.Format.Selector(),
		"-P", req.OutputDir,
		"-o", y.cfg.OutputTemplate,
	)
	if !req.Format.AudioOnly {
		container := req.Format.Container
		if container == "" {
			container = y.cfg.MergeFormat
		}
		args = append(args, "--merge-output-format", container)
	}
	if cookiesPath != "" {
		args = append(args, "--cookies", cookiesPath)
	}
	return append(args, "--", req.URL)
}

// Download runs one transfer. Cancelling ctx kills the subprocess; the
// returned error then wraps ctx.Err().
func (y *YTDLP) Download(ctx context.Context, req DownloadRequest, onProgress ProgressFunc) (*DownloadResult, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, fmt.Errorf("download: %w", domain.ErrInvalidURL)
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		return nil, errors.New("download: output directory is required")
	}

	cookiesPath, cleanup, err := writeCookiesFile(req.Credentials)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	result := &DownloadResult{}
	emit := func(ev domain.ProgressEvent) {
		if onProgress == nil {
			return
		}
		ev.JobID = req.JobID
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		onProgress(ev)
	}
	emit(domain.ProgressEvent{Phase: domain.PhaseMetadata, ETA: -1})

	var lastBytes, lastTotal int64
	err = y.run(ctx, y.downloadArgs(req, cookiesPath), func(line string) {
		switch {
		case strings.HasPrefix(line, progressMarker):
			if ev, ok := parseProgressLine(line); ok {
				lastBytes, lastTotal = ev.Bytes, ev.TotalBytes
				emit(ev)
			}
		case strings.HasPrefix(line, pathMarker):
			result.OutputPath = strings.TrimSpace(strings.TrimPrefix(line, pathMarker))
		case strings.HasPrefix(line, "[Merger]"), strings.HasPrefix(line, "[ExtractAudio]"), strings.HasPrefix(line, "[VideoConvertor]"):
			emit(domain.ProgressEvent{Phase: domain.PhaseMerging, Bytes: lastBytes, TotalBytes: lastTotal, ETA: -1})
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type formatsResponse struct {
	Title   string `json:"title"`
	Formats []struct {
		FormatID       string   `json:"format_id"`
		Ext            string   `json:"ext"`
		Height         *int     `json:"height"`
		VCodec         string   `json:"vcodec"`
		ACodec         string   `json:"acodec"`
		FormatNote     string   `json:"format_note"`
		Filesize       *int64   `json:"filesize"`
		FilesizeApprox *float64 `json:"filesize_approx"`
	} `json:"formats"`
}

// ResolveFormats lists the renditions available for a single video.
func (y *YTDLP) ResolveFormats(ctx context.Context, url string, creds *domain.CredentialSet) ([]Format, error) {
	out, err := y.dumpJSON(ctx, url, creds, "--no-playlist")
	if err != nil {
		return nil, err
	}

	var resp formatsResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, &Error{Kind: domain.FailureFatal, Message: "Unexpected engine failure", Detail: "decode formats: " + err.Error()}
	}

	formats := make([]Format, 0, len(resp.Formats))
	for _, f := range resp.Formats {
		format := Format{
			ID:        f.FormatID,
			Ext:       f.Ext,
			Note:      f.FormatNote,
			VideoOnly: f.ACodec == "none" && f.VCodec != "none",
			AudioOnly: f.VCodec == "none" && f.ACodec != "none",
		}
		if f.Height != nil {
			format.Height = *f.Height
		}
		switch {
		case f.Filesize != nil:
			format.SizeEstimate = *f.Filesize
		case f.FilesizeApprox != nil:
			format.SizeEstimate = int64(*f.FilesizeApprox)
		}
		formats = append(formats, format)
	}
	return formats, nil
}

// dumpJSON runs yt-dlp -J and returns stdout.
func (y *YTDLP) dumpJSON(ctx context.Context, url string, creds *domain.CredentialSet, extra ...string) ([]byte, error) {
	cookiesPath, cleanup, err := writeCookiesFile(creds)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	args := y.baseArgs()
	args = append(args, "-J", "--skip-download")
	args = append(args, extra...)
	if cookiesPath != "" {
		args = append(args, "--cookies", cookiesPath)
	}
	args = append(args, "--", url)

	cmd := exec.CommandContext(ctx, y.cfg.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("yt-dlp: %w", ctx.Err())
		}
		classified := ClassifyOutput(stderr.String())
		y.logger.Debug("yt-dlp metadata failed", "url", url, "kind", classified.Kind, "detail", classified.Detail)
		return nil, classified
	}
	if stdout.Len() == 0 {
		return nil, &Error{Kind: domain.FailureFatal, Message: "Unexpected engine failure", Detail: "yt-dlp returned empty output"}
	}
	return stdout.Bytes(), nil
}

// run starts yt-dlp, feeds every output line to onLine and classifies a
// non-zero exit from the collected output.
func (y *YTDLP) run(ctx context.Context, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, y.cfg.Binary, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("setup stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return &Error{Kind: domain.FailureFatal, Message: "yt-dlp is not installed or not on PATH", Detail: err.Error()}
	}

	var mu sync.Mutex
	var errBuf strings.Builder
	var wg sync.WaitGroup

	read := func(r io.Reader, keep bool) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			if keep {
				mu.Lock()
				appendLimited(&errBuf, line)
				mu.Unlock()
			}
			if ctx.Err() == nil {
				onLine(line)
			}
		}
	}

	// Child processes such as ffmpeg may keep the pipes open after the
	// kill; closing them unblocks the readers.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stdoutPipe.Close()
			stderrPipe.Close()
		case <-done:
		}
	}()

	wg.Add(2)
	go read(stdoutPipe, false)
	go read(stderrPipe, true)
	wg.Wait()
	close(done)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("yt-dlp: %w", ctx.Err())
		}
		mu.Lock()
		classified := ClassifyOutput(errBuf.String())
		mu.Unlock()
		y.logger.Debug("yt-dlp failed", "kind", classified.Kind, "detail", classified.Detail)
		return classified
	}
	return nil
}

// parseProgressLine parses one line produced by progressTemplate.
// yt-dlp prints NA for unknown values.
func parseProgressLine(line string) (domain.ProgressEvent, bool) {
	fields := strings.Fields(strings.TrimPrefix(line, progressMarker))
	if len(fields) != 5 {
		return domain.ProgressEvent{}, false
	}

	num := func(s string) float64 {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			return 0
		}
		return v
	}

	ev := domain.ProgressEvent{
		Bytes: int64(num(fields[0])),
		Rate:  num(fields[3]),
		Phase: domain.PhaseDownloading,
		ETA:   -1,
	}
	ev.TotalBytes = int64(num(fields[1]))
	if ev.TotalBytes == 0 {
		ev.TotalBytes = int64(num(fields[2]))
	}
	if eta, err := strconv.ParseFloat(fields[4], 64); err == nil && eta >= 0 {
		ev.ETA = time.Duration(eta * float64(time.Second))
	}
	return ev, true
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// appendLimited keeps the last maxKeptOutput bytes; errors come last.
func appendLimited(b *strings.Builder, line string) {
	s := b.String() + line + "\n"
	if len(s) > maxKeptOutput {
		s = s[len(s)-maxKeptOutput:]
	}
	b.Reset()
	b.WriteString(s)
}

// writeCookiesFile writes creds to a private temp file for --cookies.
// yt-dlp rewrites the jar on exit, so every invocation gets its own copy.
func writeCookiesFile(creds *domain.CredentialSet) (string, func(), error) {
	if creds.IsEmpty() {
		return "", func() {}, nil
	}

	f, err := os.CreateTemp("", "streamfetch-cookies-*.txt")
	if err != nil {
		return "", nil, fmt.Errorf("create cookies file: %w", err)
	}
	path := f.Name()
	cleanup := func() { os.Remove(path) }

	if _, err := f.WriteString(creds.Netscape()); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write cookies file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close cookies file: %w", err)
	}
	return path, cleanup, nil
}
