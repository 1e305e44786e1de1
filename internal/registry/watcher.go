package registry

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// debounceDelay is how long to wait for more filesystem changes before
// reloading the registry.
const debounceDelay = 500 * time.Millisecond

// Watch reloads the registry whenever a category document under dir changes.
// It watches every subdirectory, debounces bursts of events, and stops when
// ctx is cancelled. Intended for debug mode only.
func (r *Registry) Watch(ctx context.Context, dir string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	addAll := func() {
		filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err == nil && d.IsDir() {
				fsw.Add(path)
			}
			return nil
		})
	}
	addAll()

	go func() {
		defer fsw.Close()
		var timer *time.Timer
		reload := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if !relevant(ev) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounceDelay, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Category watcher error")
			case <-reload:
				if err := r.Load(dir); err != nil {
					log.Error().Err(err).Msg("Category reload failed")
				}
				// New subdirectories need explicit watches.
				addAll()
			}
		}
	}()

	log.Info().Str("dir", dir).Msg("Watching categories for changes")
	return nil
}

func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, "_") {
		return false
	}
	ext := filepath.Ext(base)
	return ext == ".yaml" || ext == ".yml" || ext == ""
}
