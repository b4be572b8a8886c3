package cdp

import (
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
)

// Event is a CDP event received from the browser.
type Event struct {
	Name cdproto.MethodType
	Data any

	sessionID target.SessionID
}

type subscription struct {
	sessionID target.SessionID
	events    map[cdproto.MethodType]bool
	ch        chan *Event
}

type eventWatcher struct {
	subsMu sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

func newEventWatcher() *eventWatcher {
	return &eventWatcher{
		subs: make(map[*subscription]struct{}),
	}
}

func (w *eventWatcher) subscribe(sessionID string, events ...cdproto.MethodType) (<-chan *Event, func()) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()

	sub := &subscription{
		sessionID: target.SessionID(sessionID),
		events:    make(map[cdproto.MethodType]bool, len(events)),
		ch:        make(chan *Event, 16),
	}
	for _, evt := range events {
		sub.events[evt] = true
	}
	if w.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	w.subs[sub] = struct{}{}

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			w.subsMu.Lock()
			defer w.subsMu.Unlock()
			if _, ok := w.subs[sub]; ok {
				delete(w.subs, sub)
				close(sub.ch)
			}
		})
	}
}

// notify delivers evt to matching subscribers. Slow subscribers miss events.
func (w *eventWatcher) notify(evt *Event) bool {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()

	dropped := false
	for sub := range w.subs {
		if sub.sessionID != evt.sessionID || !sub.events[evt.Name] {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			dropped = true
		}
	}
	return !dropped
}

func (w *eventWatcher) close() {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()

	for sub := range w.subs {
		close(sub.ch)
		delete(w.subs, sub)
	}
	w.closed = true
}
