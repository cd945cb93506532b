package directory

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Observer receives store outcomes, typically to feed metrics.
type Observer interface {
	// ObserveStoreError is called with op "load" or "save" for every failed store call.
	ObserveStoreError(op string, err error)
	// ObserveGroups is called with the group count after every successful load or save.
	ObserveGroups(count int)
	// ObserveReload is called when an external change invalidates the cached directory.
	ObserveReload()
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger used for watcher diagnostics.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(service *Service) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// WithObserver sets the store outcome observer.
func WithObserver(observer Observer) ServiceOption {
	return func(service *Service) {
		if observer != nil {
			service.observer = observer
		}
	}
}

// Service is the single runtime owner of a Store.
//
// All loads and saves go through one mutex, so an Update's load, mutation, and
// save happen without interleaving with any other Update. While Watch is
// running, the last loaded directory is cached and reads skip the store until
// the backing file changes.
type Service struct {
	store    Store
	logger   *slog.Logger
	observer Observer

	mu       sync.Mutex
	cached   *Directory
	watching bool
}

// NewService creates a service owning store.
func NewService(store Store, options ...ServiceOption) *Service {
	service := &Service{
		store:    store,
		logger:   slog.Default(),
		observer: nopObserver{},
	}
	for _, option := range options {
		option(service)
	}

	return service
}

// Snapshot returns a copy of the current directory.
func (s *Service) Snapshot(ctx context.Context) (Directory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return s.cached.Clone(), nil
	}

	directory, err := s.loadLocked(ctx)
	if err != nil {
		return Directory{}, err
	}

	return directory.Clone(), nil
}

// Update loads the directory, applies mutate, and saves the result as one
// atomic unit. When mutate returns an error nothing is saved and the error is
// returned wrapped. When the save fails the persisted and cached state are
// left as they were.
func (s *Service) Update(ctx context.Context, mutate func(*Directory) error) error {
	if mutate == nil {
		return fmt.Errorf("update directory: nil mutation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Mutations always start from the persisted state, never from the cache.
	directory, err := s.loadLocked(ctx)
	if err != nil {
		return fmt.Errorf("update directory: %w", err)
	}

	working := directory.Clone()
	if err := mutate(&working); err != nil {
		return fmt.Errorf("update directory: %w", err)
	}

	if err := s.store.Save(ctx, working); err != nil {
		s.observer.ObserveStoreError("save", err)
		return fmt.Errorf("update directory: %w", err)
	}
	s.remember(working)

	return nil
}

// Invalidate drops the cached directory so the next read goes to the store.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Watch caches snapshots and invalidates the cache whenever path changes on
// disk. It blocks until ctx is canceled or the watcher fails.
func (s *Service) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch directory %s: %w", path, err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	// Watch the parent: atomic saves replace the file, which drops a watch
	// placed on the file itself.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch directory %s: %w", path, err)
	}

	s.mu.Lock()
	s.watching = true
	s.cached = nil
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.watching = false
		s.cached = nil
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			s.Invalidate()
			s.observer.ObserveReload()
			s.logger.DebugContext(ctx, "group directory changed on disk", "path", target, "op", event.Op.String())
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.WarnContext(ctx, "group directory watcher error", "path", target, "error", watchErr)
		}
	}
}

func (s *Service) loadLocked(ctx context.Context) (Directory, error) {
	directory, err := s.store.Load(ctx)
	if err != nil {
		// A failed load never leaves a stale cache behind, so an operator
		// repair is picked up on the next call.
		s.cached = nil
		s.observer.ObserveStoreError("load", err)
		return Directory{}, err
	}
	s.remember(directory)

	return directory, nil
}

func (s *Service) remember(directory Directory) {
	s.observer.ObserveGroups(directory.Len())
	if !s.watching {
		s.cached = nil
		return
	}
	cached := directory.Clone()
	s.cached = &cached
}

type nopObserver struct{}

func (nopObserver) ObserveStoreError(string, error) {}
func (nopObserver) ObserveGroups(int)               {}
func (nopObserver) ObserveReload()                  {}
