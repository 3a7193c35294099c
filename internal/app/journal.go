package app

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"adaptived/internal/eventbus"
	"adaptived/internal/storage"
	"adaptived/internal/task/engine"
	logx "adaptived/pkg/logx"
)

const journalWriteTimeout = 2 * time.Second

// journalLoop appends every finished or failed run to the store. Events
// already buffered when ctx ends are still written.
func (a *App) journalLoop(ctx context.Context) error {
	defer a.unsubJournal()
	warn := rate.NewLimiter(rate.Every(time.Minute), 1)
	write := func(ev eventbus.Event) {
		rec, ok := runRecord(ev)
		if !ok {
			return
		}
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalWriteTimeout)
		defer cancel()
		if err := a.store.AppendRun(wctx, rec); err != nil && warn.Allow() {
			a.log.Warn("run journal write failed", logx.String("run", rec.RunID), logx.Err(err))
		}
	}
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev, ok := <-a.journal:
					if !ok {
						return nil
					}
					write(ev)
				default:
					return nil
				}
			}
		case ev, ok := <-a.journal:
			if !ok {
				return nil
			}
			write(ev)
		}
	}
}

// runRecord maps a finished/failed task event to a journal record.
func runRecord(ev eventbus.Event) (storage.RunRecord, bool) {
	if ev.Type != engine.EventFinished && ev.Type != engine.EventFailed {
		return storage.RunRecord{}, false
	}
	te, ok := ev.Data.(engine.TaskEvent)
	if !ok {
		return storage.RunRecord{}, false
	}
	return storage.RunRecord{
		RunID:    te.RunID,
		TaskID:   te.TaskID,
		Category: te.Category,
		Priority: te.Priority,
		Started:  te.Started,
		Duration: te.Duration,
		OK:       ev.Type == engine.EventFinished,
		Error:    te.Error,
		TimedOut: te.TimedOut,
	}, true
}
