package caption

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RaviKiran093/multilingual-video-call/internal/metrics"
)

type fakeTranslator struct {
	mu      sync.Mutex
	results map[string]string
	err     error
	gate    chan struct{}
}

func (f *fakeTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if out, ok := f.results[text]; ok {
		return out, nil
	}
	return "[" + targetLang + "] " + text, nil
}

func newTestCoordinator(t *testing.T, tr Translator) (*Coordinator, chan Entry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewCoordinator(logger, metrics.New(), tr, "en")
	t.Cleanup(c.Close)
	updates := make(chan Entry, 16)
	c.OnUpdate(func(e Entry) { updates <- e })
	return c, updates
}

func waitUpdate(t *testing.T, updates chan Entry) Entry {
	t.Helper()
	select {
	case e := <-updates:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for board update")
		return Entry{}
	}
}

func TestPublishSettlesAsync(t *testing.T) {
	tr := &fakeTranslator{results: map[string]string{"hola": "hello"}}
	c, updates := newTestCoordinator(t, tr)

	c.Publish("c1", "Alice", "hola", "es")

	first := waitUpdate(t, updates)
	assert.Equal(t, StatePending, first.State)
	assert.Equal(t, "hola", first.Text)
	assert.Empty(t, first.Translated)

	second := waitUpdate(t, updates)
	assert.Equal(t, StateTranslated, second.State)
	assert.Equal(t, "hello", second.Translated)

	entry, ok := c.Entry("c1")
	require.True(t, ok)
	assert.Equal(t, "Alice", entry.Username)
	assert.Equal(t, "hello", entry.Translated)
}

func TestFailureLeavesExplicitMarker(t *testing.T) {
	tr := &fakeTranslator{err: errors.New("upstream down")}
	c, updates := newTestCoordinator(t, tr)

	c.Publish("c1", "Alice", "hola", "es")
	waitUpdate(t, updates) // pending

	settled := waitUpdate(t, updates)
	assert.Equal(t, StateFailed, settled.State)
	assert.Equal(t, FailedText, settled.Translated)
	// The original transcript stays readable next to the marker.
	assert.Equal(t, "hola", settled.Text)
}

func TestNewerLineOverwritesAndCancelsOlder(t *testing.T) {
	gate := make(chan struct{})
	tr := &fakeTranslator{gate: gate, results: map[string]string{
		"uno": "one",
		"dos": "two",
	}}
	c, updates := newTestCoordinator(t, tr)

	c.Publish("c1", "Alice", "uno", "es")
	waitUpdate(t, updates) // uno pending
	c.Publish("c1", "Alice", "dos", "es")
	waitUpdate(t, updates) // dos pending

	close(gate)
	settled := waitUpdate(t, updates)
	assert.Equal(t, "two", settled.Translated)
	assert.Equal(t, StateTranslated, settled.State)

	entry, ok := c.Entry("c1")
	require.True(t, ok)
	assert.Equal(t, "dos", entry.Text)
	assert.Equal(t, "two", entry.Translated)

	// The canceled translation never resurfaces.
	select {
	case e := <-updates:
		t.Fatalf("unexpected late update: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTargetLanguageSkipsTranslation(t *testing.T) {
	tr := &fakeTranslator{}
	c, updates := newTestCoordinator(t, tr)

	c.Publish("c1", "Alice", "hello there", "en")
	entry := waitUpdate(t, updates)
	assert.Equal(t, StateTranslated, entry.State)
	assert.Equal(t, "hello there", entry.Translated)
}

func TestBoardKeepsOneLinePerSpeaker(t *testing.T) {
	tr := &fakeTranslator{}
	c, _ := newTestCoordinator(t, tr)

	c.Publish("c1", "Alice", "hola", "es")
	c.Publish("c2", "Bob", "bonjour", "fr")
	c.Publish("c1", "Alice", "adios", "es")

	require.Eventually(t, func() bool {
		board := c.Entries()
		if len(board) != 2 {
			return false
		}
		for _, e := range board {
			if e.State != StateTranslated {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	board := c.Entries()
	require.Len(t, board, 2)
	assert.Equal(t, "c1", board[0].ConnectionID)
	assert.Equal(t, "adios", board[0].Text)
	assert.Equal(t, "c2", board[1].ConnectionID)
}

func TestRemoveDropsSpeaker(t *testing.T) {
	gate := make(chan struct{})
	tr := &fakeTranslator{gate: gate}
	c, updates := newTestCoordinator(t, tr)

	c.Publish("c1", "Alice", "hola", "es")
	waitUpdate(t, updates)
	c.Remove("c1")

	_, ok := c.Entry("c1")
	assert.False(t, ok)

	// The canceled translation must not re-create the entry.
	close(gate)
	select {
	case e := <-updates:
		t.Fatalf("unexpected update after remove: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Empty(t, c.Entries())
}
