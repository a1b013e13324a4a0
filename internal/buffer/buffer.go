// Package buffer implements the indirect channel: a keyed publish/subscribe
// store that lets nodes exchange values without a direct graph edge.
//
// # Why Channel Exists
//
// Direct connections must be acyclic. Automations routinely need feedback
// ("turn the light off if it was turned on by the motion sensor") or wiring
// between distant parts of a large graph. The channel carries those values
// out of band: a writer publishes under a key, readers subscribed to the
// key are notified and request their own re-evaluation on the next tick.
//
// One Channel is created per runtime and handed to nodes through their
// environment. It is never a package-level global, so several runtimes can
// coexist in one process.
//
// # Keys
//
// Keys are conventionally namespaced by the shape of the published value
// (see TaggedKey), so a boolean "kitchen" and a numeric "kitchen" never
// collide.
package buffer

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/tickgraph/internal/clock"
	"github.com/specialistvlad/tickgraph/internal/value"
)

// DefaultFreshness is how long a write is attributed to its publisher.
const DefaultFreshness = 3 * time.Second

// Entry is a stored channel value.
type Entry struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	// Retracted is set on the notification sent when a key is removed.
	Retracted bool `json:"retracted,omitempty"`
}

// Handler receives change notifications for a subscribed key.
type Handler func(Entry)

// Subscription identifies a registered handler.
type Subscription struct {
	Key string
	ID  string
}

// Channel is the keyed store. All methods are safe for concurrent use;
// handlers are invoked after the channel's lock is released.
type Channel struct {
	clk       clock.Clock
	freshness time.Duration

	mu      sync.Mutex
	entries map[string]Entry
	subs    map[string]map[string]Handler
	order   map[string][]string
	taps    []Handler
}

// Option configures a Channel.
type Option func(*Channel)

// WithFreshness overrides the provenance window.
func WithFreshness(d time.Duration) Option {
	return func(c *Channel) { c.freshness = d }
}

// New creates an empty channel.
func New(clk clock.Clock, opts ...Option) *Channel {
	c := &Channel{
		clk:       clk,
		freshness: DefaultFreshness,
		entries:   make(map[string]Entry),
		subs:      make(map[string]map[string]Handler),
		order:     make(map[string][]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TaggedKey namespaces name by the shape of v, e.g. "[Boolean]kitchen".
func TaggedKey(name string, v any) string {
	return KeyFor(value.TagOf(v), name)
}

// KeyFor builds the key for name under tag.
func KeyFor(tag value.Tag, name string) string {
	return fmt.Sprintf("[%s]%s", tag, name)
}

// SplitKey is the inverse of KeyFor. ok is false for untagged keys.
func SplitKey(key string) (tag value.Tag, name string, ok bool) {
	if !strings.HasPrefix(key, "[") {
		return "", key, false
	}
	end := strings.Index(key, "]")
	if end < 0 {
		return "", key, false
	}
	return value.Tag(key[1:end]), key[end+1:], true
}

// Publish stores v under key if it differs structurally from the current
// value, and notifies subscribers. An unchanged value is a no-op: the
// stored source and timestamp are kept. It reports whether anything
// changed.
func (c *Channel) Publish(key string, v any, source string) bool {
	c.mu.Lock()
	if cur, ok := c.entries[key]; ok && value.Equal(cur.Value, v) {
		c.mu.Unlock()
		return false
	}
	e := Entry{Key: key, Value: v, Source: source, Timestamp: c.clk.Now()}
	c.entries[key] = e
	handlers := c.handlersLocked(key)
	c.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
	return true
}

// Retract removes key and notifies its subscribers with a retracted entry.
func (c *Channel) Retract(key string, source string) bool {
	c.mu.Lock()
	if _, ok := c.entries[key]; !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.entries, key)
	e := Entry{Key: key, Source: source, Timestamp: c.clk.Now(), Retracted: true}
	handlers := c.handlersLocked(key)
	c.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
	return true
}

func (c *Channel) handlersLocked(key string) []Handler {
	out := make([]Handler, 0, len(c.order[key])+len(c.taps))
	for _, id := range c.order[key] {
		out = append(out, c.subs[key][id])
	}
	return append(out, c.taps...)
}

// Subscribe registers h for changes to key. Handlers for one key run in
// subscription order.
func (c *Channel) Subscribe(key string, h Handler) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := uuid.NewString()
	if c.subs[key] == nil {
		c.subs[key] = make(map[string]Handler)
	}
	c.subs[key][id] = h
	c.order[key] = append(c.order[key], id)
	return Subscription{Key: key, ID: id}
}

// Unsubscribe removes a handler. Unknown subscriptions are ignored.
func (c *Channel) Unsubscribe(s Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[s.Key][s.ID]; !ok {
		return
	}
	delete(c.subs[s.Key], s.ID)
	ids := c.order[s.Key]
	for i, id := range ids {
		if id == s.ID {
			c.order[s.Key] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(c.subs[s.Key]) == 0 {
		delete(c.subs, s.Key)
		delete(c.order, s.Key)
	}
}

// Subscribers returns the number of handlers registered for key.
func (c *Channel) Subscribers(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs[key])
}

// Tap registers an observer for every publish and retract. Taps cannot be
// removed; they live as long as the channel.
func (c *Channel) Tap(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taps = append(c.taps, h)
}

// Get returns the stored entry for key.
func (c *Channel) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// Provenance returns the label of the last publisher of key if the write
// happened within the freshness window. It is meant for attribution in
// logs and UIs only.
func (c *Channel) Provenance(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.clk.Now().Sub(e.Timestamp) > c.freshness {
		return "", false
	}
	return e.Source, true
}

// Keys returns the stored keys in sorted order.
func (c *Channel) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of every stored entry.
func (c *Channel) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Reset drops every entry. Subscriptions survive; they belong to nodes and
// are removed when those nodes are destroyed.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}
