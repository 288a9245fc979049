package build

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch rebuilds whenever a file under cfg.ContentDir changes, until ctx
// is canceled. Each successful build's Result is sent on the returned
// channel; the channel is closed when the watcher stops. Grounded on
// the teacher's supervisor shutdown idiom: a context-canceled select
// arm tears everything down instead of a sentinel stop channel.
func (p *Pipeline) Watch(ctx context.Context) (<-chan *Result, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := addRecursive(watcher, p.cfg.ContentDir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	out := make(chan *Result, 1)

	go func() {
		defer watcher.Close()
		defer close(out)

		p.runBuildAndEmit(ctx, out)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				p.drainPendingEvents(watcher)
				p.runBuildAndEmit(ctx, out)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.log.Warn().Err(err).Msg("watch error")
			}
		}
	}()

	return out, nil
}

// drainPendingEvents coalesces a burst of filesystem events (e.g. an
// editor's save-via-rename sequence) into the single rebuild that
// follows, rather than rebuilding once per individual event.
func (p *Pipeline) drainPendingEvents(watcher *fsnotify.Watcher) {
	for {
		select {
		case <-watcher.Events:
		default:
			return
		}
	}
}

func (p *Pipeline) runBuildAndEmit(ctx context.Context, out chan<- *Result) {
	result, err := p.Build(ctx)
	if err != nil {
		p.log.Error().Err(err).Msg("build failed")
		return
	}
	select {
	case out <- result:
	case <-ctx.Done():
	}
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
