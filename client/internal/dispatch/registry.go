package dispatch

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/obsidianstack/sessionbus/client/internal/metrics"
	"github.com/obsidianstack/sessionbus/pkg/types"
)

// Handler receives one event. Its Args slice is a private copy.
type Handler func(types.Event) error

type subscription struct {
	id      types.SubscriptionID
	channel types.Channel
	handler Handler
	active  atomic.Bool
}

// Result summarises one Dispatch call.
type Result struct {
	Matched int            // subscriptions registered on the channel at dispatch time
	Invoked int            // handlers actually called
	Failed  int            // handlers that returned an error or panicked
	Errors  []*HandlerError
}

// Registry maps subscription ids and channels to handlers.
type Registry struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	next      types.SubscriptionID
	byID      map[types.SubscriptionID]*subscription
	byChannel map[types.Channel][]*subscription
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for handler failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithMetrics records dispatch outcomes on m. A nil m disables metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New returns an empty Registry. Ids start at 1.
func New(opts ...Option) *Registry {
	r := &Registry{
		log:       slog.Default(),
		byID:      make(map[types.SubscriptionID]*subscription),
		byChannel: make(map[types.Channel][]*subscription),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Add registers h on ch and returns its id. first reports whether ch had
// no subscription before this one. h must not be nil.
func (r *Registry) Add(ch types.Channel, h Handler) (id types.SubscriptionID, first bool) {
	r.mu.Lock()
	r.next++
	sub := &subscription{id: r.next, channel: ch, handler: h}
	sub.active.Store(true)
	first = len(r.byChannel[ch]) == 0
	r.byID[sub.id] = sub
	r.byChannel[ch] = append(r.byChannel[ch], sub)
	r.mu.Unlock()

	r.metrics.SubscriptionsChanged(1)
	return sub.id, first
}

// Remove unregisters id. A dispatch already in progress skips the handler
// if it has not reached it yet; a handler removed from inside a dispatch on
// the same goroutine is never called afterwards. last reports whether ch
// has no subscription left.
func (r *Registry) Remove(id types.SubscriptionID) (ch types.Channel, last bool, err error) {
	r.mu.Lock()
	sub, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return "", false, &UnknownSubscriptionError{ID: id}
	}
	sub.active.Store(false)
	delete(r.byID, id)

	subs := r.byChannel[sub.channel]
	// Copy on write: dispatch may be iterating a snapshot of the old slice.
	rest := make([]*subscription, 0, len(subs)-1)
	for _, s := range subs {
		if s != sub {
			rest = append(rest, s)
		}
	}
	if len(rest) == 0 {
		delete(r.byChannel, sub.channel)
		last = true
	} else {
		r.byChannel[sub.channel] = rest
	}
	r.mu.Unlock()

	r.metrics.SubscriptionsChanged(-1)
	return sub.channel, last, nil
}

// Clear removes every subscription and returns how many there were.
// The id counter is not reset.
func (r *Registry) Clear() int {
	r.mu.Lock()
	n := len(r.byID)
	for _, sub := range r.byID {
		sub.active.Store(false)
	}
	r.byID = make(map[types.SubscriptionID]*subscription)
	r.byChannel = make(map[types.Channel][]*subscription)
	r.mu.Unlock()

	r.metrics.SubscriptionsChanged(-n)
	return n
}

// Len returns the number of registered subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Channels returns the channels with at least one subscription, sorted.
func (r *Registry) Channels() []types.Channel {
	r.mu.Lock()
	out := make([]types.Channel, 0, len(r.byChannel))
	for ch := range r.byChannel {
		out = append(out, ch)
	}
	r.mu.Unlock()
	slices.Sort(out)
	return out
}

// Lookup returns the channel id is registered on.
func (r *Registry) Lookup(id types.SubscriptionID) (types.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return sub.channel, true
}

// Dispatch invokes every handler on ev.Channel in registration order.
// Handlers run on the caller's goroutine, outside the registry lock, so
// they may add or remove subscriptions; additions made during a dispatch
// are not called for that event.
func (r *Registry) Dispatch(ev types.Event) Result {
	r.mu.Lock()
	snapshot := r.byChannel[ev.Channel]
	r.mu.Unlock()

	res := Result{Matched: len(snapshot)}
	for _, sub := range snapshot {
		if !sub.active.Load() {
			continue
		}
		res.Invoked++
		if herr := sub.invoke(ev); herr != nil {
			res.Failed++
			res.Errors = append(res.Errors, herr)
			r.log.Warn("dispatch: handler failed",
				"channel", string(ev.Channel),
				"subscription", uint64(sub.id),
				"err", herr,
			)
		}
	}
	if res.Matched == 0 {
		r.log.Debug("dispatch: no subscription", "channel", string(ev.Channel))
	}
	r.metrics.Dispatched(res.Matched, res.Invoked, res.Failed)
	return res
}

func (s *subscription) invoke(ev types.Event) (herr *HandlerError) {
	defer func() {
		if p := recover(); p != nil {
			herr = &HandlerError{Channel: s.channel, SubscriptionID: s.id, Panic: p}
		}
	}()
	ev.Args = slices.Clone(ev.Args)
	if err := s.handler(ev); err != nil {
		return &HandlerError{Channel: s.channel, SubscriptionID: s.id, Err: err}
	}
	return nil
}
