// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unzip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// copyBufferPool holds buffers for streaming entries to disk.
var copyBufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 32*1024)
		return &buf
	},
}

// extractTask is one file entry scheduled for extraction.
type extractTask struct {
	entry  Entry
	target string
}

// ExtractAll extracts every entry of the archive at path into dest using up to
// workers goroutines. Each worker opens its own Archive.
//
// Entries whose names would land outside dest are rejected with ErrInsecurePath
// before anything is written. Directories are created upfront; permission bits
// and modification times are restored on a best-effort basis. Symbolic link
// entries are written as regular files holding the link target.
// Failures of individual entries are joined into the returned error.
func ExtractAll(ctx context.Context, path, dest string, workers int, opts ...Option) error {
	workers = max(workers, 1)
	dest, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("resolve destination: %w", err)
	}

	cfg := newConfig(opts)
	tasks, dirs, err := planExtraction(path, dest, opts)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Create directories upfront to avoid race conditions
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d.target, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", d.entry.Name, err)
		}
	}
	for _, t := range tasks {
		if err := os.MkdirAll(filepath.Dir(t.target), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", t.entry.Name, err)
		}
	}

	shards := make([]map[uint64]extractTask, workers)
	for i := range shards {
		shards[i] = make(map[uint64]extractTask)
	}
	n := 0
	for index, t := range tasks {
		shards[n%workers][index] = t
		n++
	}

	cfg.logger.Debug("extracting archive",
		slog.String("path", path),
		slog.String("dest", dest),
		slog.Int("files", len(tasks)),
		slog.Int("dirs", len(dirs)),
		slog.Int("workers", workers))

	results := make([]error, workers)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for w, shard := range shards {
		if len(shard) == 0 {
			continue
		}
		eg.Go(func() error {
			failures, err := extractShard(ctx, path, opts, shard)
			results[w] = errors.Join(failures...)
			return err
		})
	}
	waitErr := eg.Wait()

	for i := len(dirs) - 1; i >= 0; i-- {
		restoreMetadata(dirs[i].target, dirs[i].entry)
	}

	if waitErr != nil {
		return waitErr
	}
	return errors.Join(results...)
}

// planExtraction lists the archive and maps entries to paths under dest.
// Files are keyed by entry index.
func planExtraction(path, dest string, opts []Option) (map[uint64]extractTask, []extractTask, error) {
	a, err := Open(path, opts...)
	if err != nil {
		return nil, nil, err
	}
	defer a.Close()

	tasks := make(map[uint64]extractTask)
	var dirs []extractTask
	var errs []error

	var index uint64
	for e, err := range a.Entries() {
		if err != nil {
			return nil, nil, err
		}
		index++

		target, ok := resolveTarget(dest, e.Name)
		if !ok {
			errs = append(errs, newOpError("extract", e.Name, CodeParam, ErrInsecurePath, fmt.Errorf("resolves to %s", target)))
			continue
		}
		if target == dest {
			// "./" and similar name the destination itself
			continue
		}

		if e.IsDir() {
			dirs = append(dirs, extractTask{entry: e, target: target})
			continue
		}
		tasks[index-1] = extractTask{entry: e, target: target}
	}

	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}
	return tasks, dirs, nil
}

// resolveTarget joins name onto dest and reports whether the result stays inside dest.
// dest must be absolute and clean.
func resolveTarget(dest, name string) (string, bool) {
	target := filepath.Join(dest, filepath.FromSlash(name))

	// Zip Slip Protection
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return target, false
	}
	return target, true
}

// extractShard walks the archive with a private handle and extracts the entries in shard.
// Per-entry failures are collected; err is reserved for cancellation and
// failures that stop the worker.
func extractShard(ctx context.Context, path string, opts []Option, shard map[uint64]extractTask) (failures []error, err error) {
	a, err := Open(path, opts...)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	remaining := len(shard)

	ok, err := a.GotoFirstEntry()
	for ; ok && err == nil && remaining > 0; ok, err = a.GotoNextEntry() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		t, mine := shard[a.index]
		if !mine {
			continue
		}
		remaining--

		if err := extractFile(ctx, a, t); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			failures = append(failures, fmt.Errorf("failed to extract %s: %w", t.entry.Name, err))
		}
	}
	if err != nil {
		return failures, err
	}
	return failures, nil
}

// extractFile streams the entry under the cursor to t.target.
func extractFile(ctx context.Context, a *Archive, t extractTask) (err error) {
	src, err := a.OpenEntry()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := src.Close(); err == nil {
			err = closeErr
		}
	}()

	dst, err := os.Create(t.target) //nolint:gosec // target is checked against the destination
	if err != nil {
		return err
	}

	bufPtr := copyBufferPool.Get().(*[]byte)
	_, err = io.CopyBuffer(dst, &contextReader{ctx: ctx, r: src}, *bufPtr)
	copyBufferPool.Put(bufPtr)

	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	restoreMetadata(t.target, t.entry)
	return nil
}

// restoreMetadata applies permission bits and the modification time.
// Errors are ignored as they may occur on file systems that don't support these operations.
func restoreMetadata(target string, e Entry) {
	perm := e.Mode() & fs.ModePerm
	if perm == 0 {
		if e.IsDir() {
			perm = 0o755
		} else {
			perm = 0o644
		}
	}
	_ = os.Chmod(target, perm) //nolint:errcheck // best effort
	if mtime := e.ModTime(); !mtime.IsZero() {
		_ = os.Chtimes(target, time.Now(), mtime) //nolint:errcheck // best effort
	}
}

// contextReader wraps an io.Reader to make it respect context cancellation.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (n int, err error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
