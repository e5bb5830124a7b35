package main

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/obsidianstack/sessionbus/client/internal/session"
	"github.com/obsidianstack/sessionbus/pkg/types"
)

// tracker keeps the current session's subscriptions equal to a desired
// channel set that may change at any time (config reload) and survives
// reconnects (Attach with a new session).
type tracker struct {
	log *slog.Logger

	mu      sync.Mutex
	want    []types.Channel
	sess    *session.Session
	current map[types.Channel]types.SubscriptionID
}

func newTracker(log *slog.Logger) *tracker {
	return &tracker{log: log, current: make(map[types.Channel]types.SubscriptionID)}
}

// Attach subscribes the desired channels on a newly opened session.
func (t *tracker) Attach(s *session.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sess = s
	t.current = make(map[types.Channel]types.SubscriptionID)
	for _, ch := range t.want {
		t.subscribeLocked(ch)
	}
	t.log.Info("listen: session attached", "session", s.ID(), "channels", len(t.current))
}

// SetChannels replaces the desired channel set and applies the difference
// to the attached session, if any.
func (t *tracker) SetChannels(chs []types.Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.want = slices.Clone(chs)
	if t.sess == nil || !t.sess.IsOpen() {
		return
	}

	for ch, id := range t.current {
		if slices.Contains(t.want, ch) {
			continue
		}
		if err := t.sess.Unsubscribe(id); err != nil {
			t.log.Warn("listen: unsubscribe failed", "channel", string(ch), "err", err)
		}
		delete(t.current, ch)
		t.log.Info("listen: unsubscribed", "channel", string(ch))
	}
	for _, ch := range t.want {
		if _, ok := t.current[ch]; !ok {
			t.subscribeLocked(ch)
		}
	}
}

// Channels returns the desired channel set.
func (t *tracker) Channels() []types.Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.want)
}

func (t *tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.want)
}

// Subscribed returns the channels subscribed on the attached session, sorted.
func (t *tracker) Subscribed() []types.Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.Channel, 0, len(t.current))
	for ch := range t.current {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

func (t *tracker) subscribeLocked(ch types.Channel) {
	id, err := t.sess.Subscribe(ch, t.logEvent)
	if err != nil {
		t.log.Warn("listen: subscribe failed", "channel", string(ch), "err", err)
		return
	}
	t.current[ch] = id
	t.log.Info("listen: subscribed", "channel", string(ch), "subscription", uint64(id))
}

func (t *tracker) logEvent(ev types.Event) error {
	args := make([]any, len(ev.Args))
	for i, v := range ev.Args {
		args[i] = v.Interface()
	}
	t.log.Info("event", "channel", string(ev.Channel), "args", args)
	return nil
}
