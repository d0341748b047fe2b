package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"vidkeep/internal/source"
)

// FakeAdapter is an in-memory source.Adapter for worker tests.
type FakeAdapter struct {
	mu sync.Mutex

	Items      []source.Item
	ListErr    error
	ResolveErr error
	FetchErr   error

	// FetchDelay lets tests hold a fetch open until the context ends.
	FetchBlocks bool
	FetchSize   int64

	listCalls  int
	fetchCalls int
}

var _ source.Adapter = (*FakeAdapter)(nil)

// ListRecentItems returns the configured items, capped at maxItems.
func (f *FakeAdapter) ListRecentItems(ctx context.Context, _ string, maxItems int) ([]source.Item, error) {
	f.mu.Lock()
	f.listCalls++
	items, err := f.Items, f.ListErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	return items, nil
}

// ResolveItem returns the first configured item matching the URL suffix, or
// the first item when none match.
func (f *FakeAdapter) ResolveItem(ctx context.Context, url string) (*source.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ResolveErr != nil {
		return nil, f.ResolveErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i := range f.Items {
		if f.Items[i].WebpageURL == url {
			return &f.Items[i], nil
		}
	}
	if len(f.Items) == 0 {
		return nil, source.ErrNotFound
	}
	return &f.Items[0], nil
}

// FetchItem writes a placeholder media file into opts.DestDir and reports a
// couple of progress updates.
func (f *FakeAdapter) FetchItem(ctx context.Context, externalID string, opts source.FetchOptions, progress func(source.ProgressUpdate)) (*source.FetchResult, error) {
	f.mu.Lock()
	f.fetchCalls++
	fetchErr := f.FetchErr
	blocks := f.FetchBlocks
	size := f.FetchSize
	f.mu.Unlock()

	if fetchErr != nil {
		return nil, fetchErr
	}
	if progress != nil {
		progress(source.ProgressUpdate{Percent: 25})
	}
	if blocks {
		<-ctx.Done()
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 1024
	}
	path := filepath.Join(opts.DestDir, externalID+".mp4")
	if err := os.MkdirAll(opts.DestDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, make([]byte, int(size)), 0o644); err != nil {
		return nil, err
	}
	if opts.WriteThumbnail {
		thumb := filepath.Join(opts.DestDir, externalID+".jpg")
		if err := os.WriteFile(thumb, []byte("thumb"), 0o644); err != nil {
			return nil, err
		}
	}
	if progress != nil {
		progress(source.ProgressUpdate{Percent: 100})
	}
	return &source.FetchResult{FilePath: path, FileSize: size}, nil
}

// ListCalls reports how many list calls the adapter served.
func (f *FakeAdapter) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// FetchCalls reports how many fetch calls the adapter served.
func (f *FakeAdapter) FetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}
