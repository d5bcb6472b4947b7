package game

import (
	"sync"
	"time"
)

// loop is the cancellable scheduled task driving one match. Stop is
// idempotent; done closes only after the tick goroutine has exited, so
// callers can await a match that has truly stopped ticking.
type loop struct {
	interval  time.Duration
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
}

func newLoop(interval time.Duration) *loop {
	return &loop{
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (l *loop) start(fn func()) {
	l.startOnce.Do(func() {
		go l.run(fn)
	})
}

func (l *loop) run(fn func()) {
	defer close(l.done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (l *loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

func (l *loop) Done() <-chan struct{} {
	return l.done
}
