package filter

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the filter script whenever its file is written, until ctx is
// done. A script that fails to load leaves the previous one in place.
func (f *Filter) Watch(ctx context.Context) error {
	if !f.Enabled() || f.config.Script == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory.
	script := filepath.Clean(f.config.Script)
	if err := watcher.Add(filepath.Dir(script)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", script, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != script {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := f.loadScript(); err != nil {
				f.logger.Warnf("Keeping previous filter script: %v", err)
				continue
			}
			f.logger.Infof("Reloaded filter script: %s", script)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Errorf("fsnotify error: %v", err)
		}
	}
}
