package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// settleTime is how long the watcher waits for file events to stop before
// reloading.
const settleTime = 200 * time.Millisecond

// Loader reads selection policies from .rego and .json files.
//
// A .rego file becomes one policy named after the file. A .json file holds
// either a single Policy or a PolicyBundle.
type Loader struct {
	logger zerolog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewLoader returns a loader logging to logger.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "policy_loader").Logger()}
}

// LoadFromPaths loads every policy under paths. A path is either a policy
// file or a directory whose policy files are read. A missing path is an
// error; a broken file inside a directory is logged and skipped.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var out []Policy
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", p, err)
		}

		var loaded []Policy
		if info.IsDir() {
			loaded, err = l.loadDir(p)
		} else {
			loaded, err = l.loadFromFile(p)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, loaded...)
	}

	l.logger.Debug().Int("policies", len(out)).Strs("paths", paths).Msg("Read policy files")
	return out, nil
}

func (l *Loader) loadDir(dir string) ([]Policy, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy directory %s: %w", dir, err)
	}

	var out []Policy
	for _, e := range entries {
		if e.IsDir() || !isPolicyFile(e.Name()) {
			continue
		}
		file := filepath.Join(dir, e.Name())
		loaded, err := l.loadFromFile(file)
		if err != nil {
			l.logger.Warn().Err(err).Str("file", file).Msg("Skipping policy file")
			continue
		}
		out = append(out, loaded...)
	}
	return out, nil
}

func isPolicyFile(name string) bool {
	switch filepath.Ext(name) {
	case ".rego", ".json":
		return true
	}
	return false
}

func (l *Loader) loadFromFile(file string) ([]Policy, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	now := time.Now()
	switch filepath.Ext(file) {
	case ".rego":
		src := string(data)
		return []Policy{{
			Name:        strings.TrimSuffix(filepath.Base(file), ".rego"),
			Description: leadingComment(src),
			Rego:        src,
			Enabled:     true,
			Metadata:    map[string]interface{}{"source": file},
			CreatedAt:   now,
			UpdatedAt:   now,
		}}, nil
	case ".json":
		policies, err := decodePolicyJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		for i := range policies {
			policies[i].Enabled = true
			if policies[i].CreatedAt.IsZero() {
				policies[i].CreatedAt = now
			}
			policies[i].UpdatedAt = now
		}
		return policies, nil
	default:
		return nil, fmt.Errorf("unsupported policy file: %s", file)
	}
}

// decodePolicyJSON accepts a bundle first, then a single policy.
func decodePolicyJSON(data []byte) ([]Policy, error) {
	var bundle PolicyBundle
	if err := json.Unmarshal(data, &bundle); err == nil && len(bundle.Policies) > 0 {
		return bundle.Policies, nil
	}

	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid policy JSON: %w", err)
	}
	if p.Name == "" || p.Rego == "" {
		return nil, errors.New("policy needs a name and rego source")
	}
	return []Policy{p}, nil
}

// leadingComment returns the first "#" comment line of a Rego module, which
// serves as its description.
func leadingComment(src string) string {
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			return ""
		}
		return strings.TrimSpace(strings.TrimPrefix(line, "#"))
	}
	return ""
}

// Watch calls reload with freshly loaded policies whenever a file under
// paths changes. It returns once the watches are in place; watching stops
// when ctx is done or StopWatching is called.
func (l *Loader) Watch(ctx context.Context, paths []string, reload func([]Policy) error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	for _, p := range paths {
		if err := w.Add(p); err != nil {
			_ = w.Close()
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
	}

	l.mu.Lock()
	if l.watcher != nil {
		_ = l.watcher.Close()
	}
	l.watcher = w
	l.mu.Unlock()

	go l.watch(ctx, w, paths, reload)

	l.logger.Info().Strs("paths", paths).Msg("Watching policy files")
	return nil
}

func (l *Loader) watch(ctx context.Context, w *fsnotify.Watcher, paths []string, reload func([]Policy) error) {
	defer func() { _ = w.Close() }()

	settle := time.NewTimer(settleTime)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !isPolicyFile(ev.Name) || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			l.logger.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("Policy file changed")
			settle.Reset(settleTime)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.logger.Warn().Err(err).Msg("Policy watcher error")

		case <-settle.C:
			policies, err := l.LoadFromPaths(ctx, paths)
			if err == nil {
				err = reload(policies)
			}
			if err != nil {
				l.logger.Error().Err(err).Msg("Policy reload failed")
				continue
			}
			l.logger.Info().Int("policies", len(policies)).Msg("Policies reloaded")
		}
	}
}

// StopWatching stops a watch started by Watch.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.watcher = nil
	return err
}
