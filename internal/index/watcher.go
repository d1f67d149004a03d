package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/foxtales/internal/checksum"
	"github.com/starford/foxtales/internal/storage"
)

// EventCallback is called after a watcher-driven index change.
// kind is one of "created", "updated", "deleted"; id is the book id.
type EventCallback func(kind string, id string)

// Watch starts an fsnotify watcher on the books root and every book
// directory below it and processes change events until ctx is cancelled.
// It calls cb (if non-nil) after each index mutation. Writes that leave
// meta.json unchanged (for example those already indexed by the reader
// service) produce no callback.
//
// Rename events trigger a debounced reconciliation pass against the disk.
func Watch(ctx context.Context, db *DB, store storage.Provider, root string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addBookDirs(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	// reconcileTimer is used to debounce rename reconciliation.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	notify := func(kind, id string) {
		logger.Debug("watcher: "+kind, slog.String("id", id))
		if cb != nil {
			cb(kind, id)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcile(db, store, logger, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			id, file, ok := splitBookPath(root, ev.Name)
			if !ok {
				continue
			}

			// Book directory itself.
			if file == "" {
				switch {
				case ev.Op&fsnotify.Create != 0:
					if info, statErr := os.Stat(ev.Name); statErr != nil || !info.IsDir() {
						continue
					}
					if addErr := w.Add(ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
						continue
					}
					// meta.json may have been written before the watch was added.
					if kind, changed := indexIfChanged(db, store, id, logger); changed {
						notify(kind, id)
					}
				case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
					if removed, delErr := db.DeleteComic(id); delErr != nil {
						logger.Warn("watcher: delete failed", slog.String("id", id), slog.String("error", delErr.Error()))
					} else if removed {
						notify("deleted", id)
					}
					if ev.Op&fsnotify.Rename != 0 {
						scheduleReconcile()
					}
				}
				continue
			}

			if file != storage.MetaFile {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if kind, changed := indexIfChanged(db, store, id, logger); changed {
					notify(kind, id)
				}

			case ev.Op&fsnotify.Remove != 0:
				if removed, delErr := db.DeleteComic(id); delErr != nil {
					logger.Warn("watcher: delete failed", slog.String("id", id), slog.String("error", delErr.Error()))
				} else if removed {
					notify("deleted", id)
				}

			case ev.Op&fsnotify.Rename != 0:
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// indexIfChanged re-indexes book id if its meta.json differs from the index.
// kind is "created" for books new to the index, else "updated".
func indexIfChanged(db *DB, store storage.Provider, id string, logger *slog.Logger) (string, bool) {
	data, err := store.Read(MetaPath(id))
	if err != nil {
		return "", false
	}
	old, err := db.GetChecksum(id)
	if err != nil {
		logger.Warn("watcher: checksum lookup failed", slog.String("id", id), slog.String("error", err.Error()))
		return "", false
	}
	if old == checksum.Sum(data) {
		return "", false
	}
	if err := IndexMeta(db, id, data); err != nil {
		logger.Warn("watcher: index failed", slog.String("id", id), slog.String("error", err.Error()))
		return "", false
	}
	if old == "" {
		return "created", true
	}
	return "updated", true
}

// reconcile does a lightweight sync using batch lookups: it removes index
// entries without a book on disk and indexes books that are new or changed.
func reconcile(db *DB, store storage.Provider, logger *slog.Logger, cb EventCallback) {
	checksums, err := db.AllChecksums()
	if err != nil {
		logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}

	entries, err := store.List()
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]string, len(entries))
	for _, e := range entries {
		disk[e.ID] = e.Checksum
	}

	for id := range checksums {
		if _, ok := disk[id]; !ok {
			if removed, delErr := db.DeleteComic(id); delErr == nil && removed {
				logger.Debug("reconcile: removed stale", slog.String("id", id))
				if cb != nil {
					cb("deleted", id)
				}
			}
		}
	}

	for id, cs := range disk {
		old, seen := checksums[id]
		if old == cs {
			continue
		}
		data, readErr := store.Read(MetaPath(id))
		if readErr != nil {
			continue
		}
		if idxErr := IndexMeta(db, id, data); idxErr == nil {
			kind := "updated"
			if !seen {
				kind = "created"
			}
			logger.Debug("reconcile: indexed", slog.String("id", id), slog.String("op", kind))
			if cb != nil {
				cb(kind, id)
			}
		}
	}
}

// splitBookPath maps an absolute path to a book id and, for files inside a
// book directory, the file name. Paths at other depths are rejected.
func splitBookPath(root, abs string) (id, file string, ok bool) {
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if strings.HasPrefix(parts[0], ".") {
		return "", "", false
	}
	switch len(parts) {
	case 1:
		return parts[0], "", true
	case 2:
		return parts[0], parts[1], true
	}
	return "", "", false
}

// addBookDirs adds root and the book directories directly below it.
func addBookDirs(w *fsnotify.Watcher, root string) error {
	if err := w.Add(root); err != nil {
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			if err := w.Add(filepath.Join(root, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
