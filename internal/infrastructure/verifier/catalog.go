// catalog.go loads the verifier catalog from YAML and keeps it hot-reloaded
// via fsnotify, mirroring the teacher's internal/infrastructure/plugin.Loader
// watcher pattern rather than the polling approach seen elsewhere in the
// teacher (internal/domain/service/config_watcher.go) — fsnotify's
// watch-a-directory, swap-a-pointer shape is the closer fit for a catalog
// that changes rarely but must take effect immediately.
package verifier

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// CatalogLoader watches a verifiers.yaml file and serves the latest parsed
// Catalog to concurrent readers without locking on the hot path.
type CatalogLoader struct {
	path    string
	logger  *zap.Logger
	current atomic.Value // holds Catalog

	watcher *fsnotify.Watcher
	closeMu sync.Mutex
	closed  bool
}

func loadCatalogFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read verifier catalog: %w", err)
	}
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("parse verifier catalog: %w", err)
	}
	return catalog, nil
}

// NewCatalogLoader loads path once, then starts a watcher that reloads it
// on every write.
func NewCatalogLoader(path string, logger *zap.Logger) (*CatalogLoader, error) {
	catalog, err := loadCatalogFile(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create catalog watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch catalog dir: %w", err)
	}

	l := &CatalogLoader{path: path, logger: logger, watcher: watcher}
	l.current.Store(catalog)

	go l.watch()
	return l, nil
}

func (l *CatalogLoader) watch() {
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			catalog, err := loadCatalogFile(l.path)
			if err != nil {
				if l.logger != nil {
					l.logger.Warn("verifier catalog reload failed", zap.Error(err))
				}
				continue
			}
			l.current.Store(catalog)
			if l.logger != nil {
				l.logger.Info("verifier catalog reloaded", zap.String("path", l.path))
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			if l.logger != nil {
				l.logger.Warn("verifier catalog watcher error", zap.Error(err))
			}
		}
	}
}

// Current returns the latest successfully loaded catalog.
func (l *CatalogLoader) Current() Catalog {
	return l.current.Load().(Catalog)
}

// Close stops the underlying watcher.
func (l *CatalogLoader) Close() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.watcher.Close()
}
