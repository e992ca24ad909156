// Package caption maintains the live caption board of a call: the latest
// transcript line per speaker together with its translation state. New
// lines from a speaker overwrite the old ones, so the board never grows
// past the participant count.
package caption

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/RaviKiran093/multilingual-video-call/internal/metrics"
)

// FailedText replaces the translation when the translator gives up. It is
// an explicit marker, distinct from a translation still in flight.
const FailedText = "Translation failed."

// State tracks where a caption line is in the translation pipeline.
type State int

const (
	StatePending State = iota
	StateTranslated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateTranslated:
		return "translated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is one speaker's current caption line.
type Entry struct {
	ConnectionID string
	Username     string
	Text         string
	Lang         string
	Translated   string
	State        State
}

// Translator turns text from one language into another. Implementations
// must honor ctx cancellation.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Coordinator owns the caption board and drives translations without ever
// blocking the caller. A newer line from the same speaker cancels the
// translation of the older one.
type Coordinator struct {
	log        *slog.Logger
	metrics    *metrics.Metrics
	translator Translator
	targetLang string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]Entry
	gens    map[string]uint64
	cancels map[string]context.CancelFunc
	onSet   func(Entry)
}

func NewCoordinator(logger *slog.Logger, m *metrics.Metrics, translator Translator, targetLang string) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		log:        logger,
		metrics:    m,
		translator: translator,
		targetLang: targetLang,
		ctx:        ctx,
		cancel:     cancel,
		entries:    make(map[string]Entry),
		gens:       make(map[string]uint64),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// OnUpdate registers a callback invoked with every board mutation. Must be
// set before captions start flowing.
func (c *Coordinator) OnUpdate(fn func(Entry)) {
	c.mu.Lock()
	c.onSet = fn
	c.mu.Unlock()
}

// Publish records a new caption line for a speaker and kicks off its
// translation. The line shows as pending until the translation settles.
func (c *Coordinator) Publish(connID, username, text, lang string) {
	entry := Entry{
		ConnectionID: connID,
		Username:     username,
		Text:         text,
		Lang:         lang,
		State:        StatePending,
	}
	if lang == c.targetLang {
		// Nothing to translate; settle immediately.
		entry.Translated = text
		entry.State = StateTranslated
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	if cancel, ok := c.cancels[connID]; ok {
		cancel()
		delete(c.cancels, connID)
	}
	c.gens[connID]++
	gen := c.gens[connID]
	c.entries[connID] = entry
	notify := c.onSet
	var tctx context.Context
	if entry.State == StatePending {
		var cancel context.CancelFunc
		tctx, cancel = context.WithCancel(c.ctx)
		c.cancels[connID] = cancel
	}
	c.mu.Unlock()

	if notify != nil {
		notify(entry)
	}
	if entry.State != StatePending {
		return
	}
	go c.translate(tctx, gen, entry)
}

func (c *Coordinator) translate(ctx context.Context, gen uint64, entry Entry) {
	translated, err := c.translator.Translate(ctx, entry.Text, entry.Lang, c.targetLang)
	if err != nil {
		if ctx.Err() != nil {
			// Superseded by a newer line or shut down; the board
			// already moved on.
			return
		}
		c.metrics.Inc(metrics.TranslateFailure)
		c.log.Warn("translation failed", "speaker", entry.Username, "err", err)
		c.settle(gen, entry.ConnectionID, FailedText, StateFailed)
		return
	}
	c.settle(gen, entry.ConnectionID, translated, StateTranslated)
}

// settle writes the translation outcome unless a newer line took over.
func (c *Coordinator) settle(gen uint64, connID, translated string, state State) {
	c.mu.Lock()
	if c.gens[connID] != gen {
		c.mu.Unlock()
		return
	}
	entry, ok := c.entries[connID]
	if !ok {
		c.mu.Unlock()
		return
	}
	entry.Translated = translated
	entry.State = state
	c.entries[connID] = entry
	delete(c.cancels, connID)
	notify := c.onSet
	c.mu.Unlock()

	if notify != nil {
		notify(entry)
	}
}

// Remove drops a speaker's line, canceling any in-flight translation.
// Called when the speaker leaves the call.
func (c *Coordinator) Remove(connID string) {
	c.mu.Lock()
	if cancel, ok := c.cancels[connID]; ok {
		cancel()
		delete(c.cancels, connID)
	}
	delete(c.entries, connID)
	delete(c.gens, connID)
	c.mu.Unlock()
}

// Entry returns the current line for one speaker.
func (c *Coordinator) Entry(connID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[connID]
	return entry, ok
}

// Entries returns a board snapshot ordered by connection ID.
func (c *Coordinator) Entries() []Entry {
	c.mu.Lock()
	all := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		all = append(all, entry)
	}
	c.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].ConnectionID < all[j].ConnectionID })
	return all
}

// Close cancels every in-flight translation and stops accepting lines.
func (c *Coordinator) Close() {
	c.cancel()
	c.mu.Lock()
	for id, cancel := range c.cancels {
		cancel()
		delete(c.cancels, id)
	}
	c.mu.Unlock()
}
