package flowstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-flows/internal/models"
)

// ErrInvalidFlow reports a flow document that fails validation.
var ErrInvalidFlow = errors.New("invalid flow document")

const defaultDebounce = 200 * time.Millisecond

// Parse decodes a YAML or JSON flow document.
func Parse(data []byte) (models.Flow, error) {
	var flow models.Flow
	if err := yaml.Unmarshal(data, &flow); err != nil {
		return models.Flow{}, fmt.Errorf("decode flow: %w", err)
	}
	if err := Validate(flow); err != nil {
		return models.Flow{}, err
	}
	return flow, nil
}

// Validate checks ids and signal types. Guids are not checked here: a
// malformed guid only drops its own signal.
func Validate(flow models.Flow) error {
	if flow.ID == "" {
		return fmt.Errorf("%w: flow id is required", ErrInvalidFlow)
	}
	stageIDs := map[string]struct{}{}
	for _, stage := range flow.Stages {
		if err := uniqueID(stageIDs, "stage", stage.ID); err != nil {
			return err
		}
		levelIDs := map[string]struct{}{}
		for _, level := range stage.Levels {
			if err := uniqueID(levelIDs, "level", level.ID); err != nil {
				return err
			}
			stepIDs := map[string]struct{}{}
			for _, step := range level.Steps {
				if err := uniqueID(stepIDs, "step", step.ID); err != nil {
					return err
				}
				queryIDs := map[string]struct{}{}
				for _, q := range step.Queries {
					if err := uniqueID(queryIDs, "query", q.ID); err != nil {
						return err
					}
					if !q.Type.Valid() {
						return fmt.Errorf("%w: query %s has unknown type %q", ErrInvalidFlow, q.ID, q.Type)
					}
				}
				for _, sig := range step.Signals {
					if !sig.Type.Valid() {
						return fmt.Errorf("%w: signal %s in step %s has unknown type %q", ErrInvalidFlow, sig.GUID, step.ID, sig.Type)
					}
				}
			}
		}
	}
	return nil
}

func uniqueID(seen map[string]struct{}, kind, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s id is required", ErrInvalidFlow, kind)
	}
	if _, dup := seen[id]; dup {
		return fmt.Errorf("%w: duplicate %s id %q", ErrInvalidFlow, kind, id)
	}
	seen[id] = struct{}{}
	return nil
}

// Store reads the flow document from disk and keeps the last valid copy.
type Store struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration

	mu   sync.RWMutex
	flow models.Flow
}

// New constructs a store for path.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: filepath.Clean(path), logger: logger, debounce: defaultDebounce}
}

// Load reads and validates the document, replacing the held flow on success.
func (s *Store) Load() (models.Flow, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return models.Flow{}, fmt.Errorf("read flow %s: %w", s.path, err)
	}
	flow, err := Parse(data)
	if err != nil {
		return models.Flow{}, err
	}
	s.mu.Lock()
	s.flow = flow
	s.mu.Unlock()
	return flow, nil
}

// Flow returns the last successfully loaded flow.
func (s *Store) Flow() models.Flow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flow
}

// Watch reloads the document whenever it changes and passes each valid
// version to onChange. Invalid versions are logged and ignored. The parent
// directory is watched so editors that replace the file are handled. Watch
// blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func(models.Flow)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	reload := func() {
		flow, err := s.Load()
		if err != nil {
			s.logger.Warn("flow reload failed; keeping previous flow", slog.String("path", s.path), slog.Any("error", err))
			return
		}
		s.logger.Info("flow document reloaded", slog.String("flow", flow.ID))
		if onChange != nil {
			onChange(flow)
		}
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			s.logger.Debug("flow document event", slog.String("op", event.Op.String()))
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.debounce, reload)
			timerMu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("fsnotify error", slog.Any("error", err))
		}
	}
}
