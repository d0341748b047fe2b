// Package ytdlp implements the source adapter on top of the yt-dlp CLI.
package ytdlp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"vidkeep/internal/config"
	"vidkeep/internal/source"
)

// Executor abstracts command execution for testability. Implementations must
// deliver stdout and stderr lines serially: callbacks never run concurrently
// with each other.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout, onStderr func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps yt-dlp CLI interactions. All calls are rate limited by a
// minimum interval between process invocations, shared across goroutines.
type Client struct {
	binary       string
	listTimeout  time.Duration
	fetchTimeout time.Duration
	minInterval  time.Duration
	exec         Executor

	mu          sync.Mutex
	lastRequest time.Time
}

// New constructs a yt-dlp client from configuration.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	binary := strings.TrimSpace(cfg.Source.YtdlpBinary)
	if binary == "" {
		return nil, errors.New("yt-dlp binary required")
	}
	client := &Client{
		binary:       binary,
		listTimeout:  time.Duration(cfg.Source.ListTimeout) * time.Second,
		fetchTimeout: time.Duration(cfg.Source.FetchTimeout) * time.Second,
		minInterval:  time.Duration(cfg.Source.MinRequestInterval * float64(time.Second)),
		exec:         commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

var _ source.Adapter = (*Client)(nil)

// waitMinInterval blocks until the configured gap since the previous
// invocation has passed, or the context ends.
func (c *Client) waitMinInterval(ctx context.Context) error {
	c.mu.Lock()
	wait := c.minInterval - time.Since(c.lastRequest)
	if wait <= 0 {
		c.lastRequest = time.Now()
		c.mu.Unlock()
		return nil
	}
	// Reserve the slot before sleeping so concurrent callers queue up.
	c.lastRequest = time.Now().Add(wait)
	c.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ListRecentItems lists the newest items behind sourceURL without
// downloading media.
func (c *Client) ListRecentItems(ctx context.Context, sourceURL string, maxItems int) ([]source.Item, error) {
	if sourceURL == "" {
		return nil, source.Wrap(source.ErrFetchFailed, "list recent items", "source url required", nil)
	}
	if maxItems <= 0 {
		maxItems = 20
	}
	if err := c.waitMinInterval(ctx); err != nil {
		return nil, source.Wrap(source.ErrTimeout, "list recent items", sourceURL, err)
	}

	listCtx := ctx
	if c.listTimeout > 0 {
		var cancel context.CancelFunc
		listCtx, cancel = context.WithTimeout(ctx, c.listTimeout)
		defer cancel()
	}

	args := []string{
		"--dump-json",
		"--ignore-errors",
		"--no-download",
		"--playlist-end", strconv.Itoa(maxItems),
		sourceURL,
	}

	var (
		items      []source.Item
		classifier outputClassifier
	)
	err := c.exec.Run(listCtx, c.binary, args, func(line string) {
		if item, ok := parseItemJSON(line); ok {
			items = append(items, item)
		}
	}, classifier.observe)
	if err != nil {
		return nil, classifier.classify(listCtx, "list recent items", sourceURL, err)
	}
	return items, nil
}

// ResolveItem fetches metadata for one content URL.
func (c *Client) ResolveItem(ctx context.Context, url string) (*source.Item, error) {
	if url == "" {
		return nil, source.Wrap(source.ErrFetchFailed, "resolve item", "url required", nil)
	}
	if err := c.waitMinInterval(ctx); err != nil {
		return nil, source.Wrap(source.ErrTimeout, "resolve item", url, err)
	}

	resolveCtx := ctx
	if c.listTimeout > 0 {
		var cancel context.CancelFunc
		resolveCtx, cancel = context.WithTimeout(ctx, c.listTimeout)
		defer cancel()
	}

	args := []string{"--dump-json", "--no-download", "--no-playlist", url}

	var (
		item       *source.Item
		classifier outputClassifier
	)
	err := c.exec.Run(resolveCtx, c.binary, args, func(line string) {
		if parsed, ok := parseItemJSON(line); ok && item == nil {
			item = &parsed
		}
	}, classifier.observe)
	if err != nil {
		return nil, classifier.classify(resolveCtx, "resolve item", url, err)
	}
	if item == nil {
		return nil, source.Wrap(source.ErrNotFound, "resolve item", url, nil)
	}
	return item, nil
}

// FetchItem downloads one item into opts.DestDir.
func (c *Client) FetchItem(ctx context.Context, externalID string, opts source.FetchOptions, progress func(source.ProgressUpdate)) (*source.FetchResult, error) {
	if externalID == "" {
		return nil, source.Wrap(source.ErrFetchFailed, "fetch item", "external id required", nil)
	}
	if opts.DestDir == "" {
		return nil, source.Wrap(source.ErrFetchFailed, "fetch item", "destination directory required", nil)
	}
	if err := os.MkdirAll(opts.DestDir, 0o755); err != nil {
		return nil, source.Wrap(source.ErrFetchFailed, "fetch item", "create destination", err)
	}
	if err := c.waitMinInterval(ctx); err != nil {
		return nil, source.Wrap(source.ErrTimeout, "fetch item", externalID, err)
	}

	fetchCtx := ctx
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}

	args := []string{
		"--newline",
		"--no-playlist",
		"--format", FormatSelector(opts.Quality),
		"--output", filepath.Join(opts.DestDir, "%(id)s.%(ext)s"),
	}
	if len(opts.SubtitleLanguages) > 0 {
		args = append(args, "--write-subs", "--sub-langs", strings.Join(opts.SubtitleLanguages, ","))
		if opts.EmbedSubtitles {
			args = append(args, "--embed-subs")
		}
	}
	if opts.WriteThumbnail {
		args = append(args, "--write-thumbnail")
	}
	args = append(args, "--", externalID)

	var classifier outputClassifier
	err := c.exec.Run(fetchCtx, c.binary, args, func(line string) {
		if progress == nil {
			return
		}
		if update, ok := parseProgress(line); ok {
			progress(update)
		}
	}, classifier.observe)
	if err != nil {
		return nil, classifier.classify(fetchCtx, "fetch item", externalID, err)
	}

	result, err := locateMediaFile(opts.DestDir, externalID)
	if err != nil {
		return nil, source.Wrap(source.ErrFetchFailed, "fetch item", externalID, err)
	}
	return result, nil
}

// locateMediaFile returns the largest media file produced for externalID.
// Subtitle and metadata side files are ignored.
func locateMediaFile(dir, externalID string) (*source.FetchResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("inspect fetch output: %w", err)
	}
	var best *source.FetchResult
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, externalID+".") {
			continue
		}
		if isSideFile(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if best == nil || info.Size() > best.FileSize {
			best = &source.FetchResult{
				FilePath: filepath.Join(dir, name),
				FileSize: info.Size(),
			}
		}
	}
	if best == nil {
		return nil, errors.New("no media file produced")
	}
	return best, nil
}

func isSideFile(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range []string{".vtt", ".srt", ".json", ".jpg", ".jpeg", ".png", ".webp", ".part", ".ytdl"} {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout, onStderr func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	// Both pipes are drained concurrently, but callbacks mutate caller state,
	// so line delivery is serialized behind one mutex.
	var deliverMu sync.Mutex

	scan := func(r io.Reader, onLine func(string)) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			if onLine == nil {
				continue
			}
			deliverMu.Lock()
			onLine(scanner.Text())
			deliverMu.Unlock()
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout, onStdout)
	go scan(stderr, onStderr)

	wg.Wait()
	if scanErr != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("scan output: %w", scanErr)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
