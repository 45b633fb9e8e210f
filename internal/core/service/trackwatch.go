package service

import (
	"context"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// trackWatcher polls tracks that have no change notifications and reports
// transitions. One watcher runs per stream.
type trackWatcher struct {
	cancel context.CancelFunc
}

type trackStatus struct {
	muted bool
	ended bool
}

// watchTracks starts a watcher. Its goroutine is counted on wg until every
// track ended or Stop was called.
func watchTracks(wg *sync.WaitGroup, interval time.Duration, remote bool, tracks []port.MediaTrack, emit func(domain.TrackEvent)) *trackWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &trackWatcher{cancel: cancel}

	last := make([]trackStatus, len(tracks))
	for i, t := range tracks {
		last[i] = trackStatus{muted: t.Muted(), ended: t.ReadyState() == domain.ReadyEnded}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			live := 0
			for i, t := range tracks {
				if last[i].ended {
					continue
				}
				cur := trackStatus{muted: t.Muted(), ended: t.ReadyState() == domain.ReadyEnded}
				ev := domain.TrackEvent{
					Kind:     t.Kind(),
					TrackID:  t.ID(),
					StreamID: t.StreamID(),
					Remote:   remote,
				}
				switch {
				case cur.ended:
					ev.Type = domain.TrackEnded
					emit(ev)
				case cur.muted && !last[i].muted:
					ev.Type = domain.TrackMuted
					emit(ev)
				case !cur.muted && last[i].muted:
					ev.Type = domain.TrackUnmuted
					emit(ev)
				}
				last[i] = cur
				if !cur.ended {
					live++
				}
			}
			if live == 0 {
				return
			}
		}
	}()
	return w
}

func (w *trackWatcher) Stop() {
	w.cancel()
}
