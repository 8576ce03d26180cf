package escalate

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/linnemanlabs/go-core/log"
)

// Watch monitors the policy file and calls onChange with the reloaded set
// each time the file is written. It runs until ctx is cancelled.
//
// If a reload fails (unreadable file, invalid YAML, invalid policy), the
// error is logged and the previous policy remains active.
func Watch(ctx context.Context, path string, logger log.Logger, onChange func(*PolicySet)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(path); err != nil {
		return err
	}

	logger.Info(ctx, "watching escalation policy file", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename. An atomic save replaces the
			// watched inode, which arrives as Rename or Remove, so those
			// events also need the watch re-added against the new file.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}

			// Re-add before reloading so the replaced inode stays watched
			// even when the new content fails validation.
			if err := rewatch(watcher, path); err != nil {
				logger.Error(ctx, err, "policy re-watch failed, hot-reload degraded", "path", path)
			}

			ps, err := Load(path)
			if err != nil {
				logger.Error(ctx, err, "policy reload failed, keeping previous policy", "path", path)
				continue
			}

			logger.Info(ctx, "escalation policy reloaded", "path", path)
			onChange(ps)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error(ctx, err, "policy watcher error")
		}
	}
}

// rewatch re-adds path to the watcher. After a remove-then-recreate save
// the new file may not exist yet, so a few short retries cover the gap.
func rewatch(watcher *fsnotify.Watcher, path string) error {
	var err error
	for i := 0; i < 5; i++ {
		if err = watcher.Add(path); err == nil {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return err
}
