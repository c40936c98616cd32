package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jackzampolin/ocrfuse/internal/fusion"
)

// WatchOptions controls Watch.
type WatchOptions struct {
	// Settle is how long a file must go without writes before it is read.
	Settle time.Duration
	// IncludeExisting also delivers files already in the directory.
	IncludeExisting bool
}

// Handler receives the pages of each new file along with any inputs that
// were rejected. It runs on the watch goroutine, one file at a time.
type Handler func(ctx context.Context, file string, pages []fusion.PageInput, rejected []fusion.RejectedInput)

// Watch delivers every .json file that lands in dir until ctx is done. Each
// file is delivered once. A file that fails to load is delivered with no
// pages and a single rejection.
func (l *Loader) Watch(ctx context.Context, dir string, opts WatchOptions, fn Handler) error {
	if opts.Settle <= 0 {
		opts.Settle = 250 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	l.logger.Info("watching for page files", "dir", dir)

	ready := make(chan string, 16)
	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
	)
	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := pending[path]; ok {
			t.Reset(opts.Settle)
			return
		}
		pending[path] = time.AfterFunc(opts.Settle, func() {
			mu.Lock()
			delete(pending, path)
			mu.Unlock()
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}
	defer func() {
		mu.Lock()
		for _, t := range pending {
			t.Stop()
		}
		mu.Unlock()
	}()

	if opts.IncludeExisting {
		existing, err := filepath.Glob(filepath.Join(dir, "*.json"))
		if err != nil {
			return err
		}
		for _, path := range sortPageFiles(existing) {
			schedule(path)
		}
	}

	done := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("watch stopped", "dir", dir, "files", len(done))
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(ev.Name) != ".json" || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			schedule(ev.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("watch error", "error", err)

		case path := <-ready:
			if done[path] {
				continue
			}
			done[path] = true
			pages, rejected, err := l.LoadFile(path)
			if err != nil {
				l.logger.Warn("page file rejected", "file", path, "error", err)
				rejected = []fusion.RejectedInput{{Source: path, Reason: err.Error()}}
			}
			fn(ctx, path, pages, rejected)
		}
	}
}
