// ABOUTME: Debounce-buffered aggregation of media-group bursts
// ABOUTME: Collects items per group id and finalizes exactly once after quiescence

package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chatrelay/chatrelay/internal/conversation"
	"github.com/chatrelay/chatrelay/internal/extract"
	"github.com/chatrelay/chatrelay/internal/store"
)

// Item kinds
const (
	KindPhoto    = "photo"
	KindDocument = "document"
)

// Content length caps applied during document-group assembly, in runes.
const (
	DocumentTextLimit = 20000
	CombinedTextLimit = 40000
)

const (
	documentTruncatedMarker = "\n... (document text truncated)"
	combinedTruncatedMarker = "\n... (combined file text truncated)"
)

// finalizeTimeout bounds the file downloads and hand-off for one group.
const finalizeTimeout = 2 * time.Minute

// Item is one raw inbound element of a media group.
type Item struct {
	GroupID   string
	ChatID    string
	MessageID int64
	Kind      string
	FileID    string
	FileName  string
	Caption   string
}

// Fetcher downloads the payload bytes of an inbound file.
type Fetcher interface {
	FetchFile(ctx context.Context, fileID string) ([]byte, error)
}

// Sink receives the assembled content of a finalized group.
type Sink interface {
	HandleContent(ctx context.Context, addr conversation.Address, content store.Content) error
}

// Notifier posts transient status messages while a group is being processed.
type Notifier interface {
	// Announce posts a status message and returns its message id.
	Announce(ctx context.Context, chatID, text string) (int64, error)
	// Remove deletes a previously announced status message.
	Remove(ctx context.Context, chatID string, messageID int64) error
}

// pendingGroup buffers the items of one in-flight media group.
// gen identifies the currently armed timer: a fire whose generation does not
// match was superseded by a later arrival and must not finalize.
type pendingGroup struct {
	items []Item
	timer *time.Timer
	gen   int
}

// Aggregator buffers items per group id and hands each group to the sink
// exactly once, after the group has been quiet for the debounce delay.
// Groups are not persisted: items in flight at process exit are lost.
type Aggregator struct {
	mu     sync.Mutex
	groups map[string]*pendingGroup
	closed bool

	delay    time.Duration
	fetcher  Fetcher
	sink     Sink
	notifier Notifier
	logger   *slog.Logger

	// inflight tracks running finalizations so Close can drain them.
	inflight sync.WaitGroup
}

// New creates an aggregator with the given debounce delay.
func New(delay time.Duration, fetcher Fetcher, sink Sink, notifier Notifier, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		groups:   make(map[string]*pendingGroup),
		delay:    delay,
		fetcher:  fetcher,
		sink:     sink,
		notifier: notifier,
		logger:   logger.With("component", "aggregate"),
	}
}

// Add records an item under its group id. The first item of a group arms the
// debounce timer; every further item restarts it, so the group finalizes only
// after delay of silence. Items are kept in arrival order.
func (a *Aggregator) Add(item Item) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}

	g, ok := a.groups[item.GroupID]
	if !ok {
		g = &pendingGroup{items: []Item{item}}
		a.groups[item.GroupID] = g
	} else {
		g.items = append(g.items, item)
		g.timer.Stop()
	}

	g.gen++
	gen := g.gen
	groupID := item.GroupID
	g.timer = time.AfterFunc(a.delay, func() {
		a.fire(groupID, gen)
	})
}

// fire claims the group for finalization. The generation check makes the
// claim race-free: a timer that was superseded while it was firing finds a
// newer generation and backs off, and two timers can never both pass the
// check for the same group.
func (a *Aggregator) fire(groupID string, gen int) {
	a.mu.Lock()
	g, ok := a.groups[groupID]
	if !ok || g.gen != gen {
		a.mu.Unlock()
		return
	}
	delete(a.groups, groupID)
	a.inflight.Add(1)
	a.mu.Unlock()

	defer a.inflight.Done()

	// Finalization runs on its own context: downloads and hand-off must not
	// be cut short by whatever triggered the timer.
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	a.finalize(ctx, g.items)
}

// Close stops all pending timers, discards buffered groups and waits for
// in-flight finalizations to complete.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	for id, g := range a.groups {
		g.timer.Stop()
		delete(a.groups, id)
	}
	a.mu.Unlock()

	a.inflight.Wait()
}

// finalize classifies the group by its first item and assembles one logical
// payload for the sink. The first item also provides the reply address.
func (a *Aggregator) finalize(ctx context.Context, items []Item) {
	if len(items) == 0 {
		return
	}
	first := items[0]
	addr := conversation.Address{ChatID: first.ChatID, MessageID: first.MessageID}

	a.logger.Debug("finalizing group",
		"group_id", first.GroupID,
		"chat_id", first.ChatID,
		"kind", first.Kind,
		"items", len(items))

	var content store.Content
	var ok bool
	switch first.Kind {
	case KindPhoto:
		content, ok = a.assemblePhotos(ctx, items)
	case KindDocument:
		content, ok = a.assembleDocuments(ctx, items)
	default:
		a.logger.Warn("group with unknown item kind dropped", "group_id", first.GroupID, "kind", first.Kind)
		return
	}
	if !ok {
		return
	}

	if err := a.sink.HandleContent(ctx, addr, content); err != nil {
		a.logger.Error("group hand-off failed",
			"group_id", first.GroupID,
			"chat_id", first.ChatID,
			"error", err)
	}
}

// assemblePhotos builds a fragment sequence: caption text first (empty when
// the group has none), then one inline image per item. A failed download or
// encode aborts the whole group with a visible error.
func (a *Aggregator) assemblePhotos(ctx context.Context, items []Item) (store.Content, bool) {
	first := items[0]
	status := a.announce(ctx, first.ChatID, fmt.Sprintf("Processing %d images...", len(items)))

	frags := []store.Fragment{store.TextFragment(first.Caption)}
	for _, item := range items {
		if item.Kind != KindPhoto {
			continue
		}
		data, err := a.fetcher.FetchFile(ctx, item.FileID)
		if err != nil {
			a.clear(ctx, first.ChatID, status)
			a.announce(ctx, first.ChatID, fmt.Sprintf("Error: could not load images: %v", err))
			a.logger.Warn("image group aborted", "group_id", first.GroupID, "error", err)
			return store.Content{}, false
		}
		frags = append(frags, store.ImageFragment(extract.ImageDataURL(data, item.FileName)))
	}

	a.clear(ctx, first.ChatID, status)
	return store.Fragments(frags), true
}

// assembleDocuments extracts each document's text and concatenates them under
// a header listing the file names and the group caption. A failure on one
// item degrades to an inline note; the rest of the group still goes through.
func (a *Aggregator) assembleDocuments(ctx context.Context, items []Item) (store.Content, bool) {
	first := items[0]
	status := a.announce(ctx, first.ChatID, fmt.Sprintf("Processing %d documents...", len(items)))

	var names []string
	var texts []string
	for _, item := range items {
		if item.Kind != KindDocument {
			continue
		}
		names = append(names, item.FileName)

		text, err := a.extractDocument(ctx, item)
		if err != nil {
			texts = append(texts, fmt.Sprintf("\n\n--- Could not extract text from file %s ---", item.FileName))
			a.logger.Warn("document in group failed",
				"group_id", first.GroupID,
				"file", item.FileName,
				"error", err)
			continue
		}
		text = extract.Truncate(text, DocumentTextLimit, documentTruncatedMarker)
		texts = append(texts, fmt.Sprintf("\n\n--- Text from file %s ---\n%s", item.FileName, text))
	}

	a.clear(ctx, first.ChatID, status)

	combined := ""
	if first.Caption != "" {
		combined = first.Caption + "\n"
	}
	combined += fmt.Sprintf("[Processed files: %s]", strings.Join(names, ", "))
	for _, t := range texts {
		combined += t
	}
	combined = extract.Truncate(combined, CombinedTextLimit, combinedTruncatedMarker)

	return store.Text(combined), true
}

func (a *Aggregator) extractDocument(ctx context.Context, item Item) (string, error) {
	data, err := a.fetcher.FetchFile(ctx, item.FileID)
	if err != nil {
		return "", err
	}
	text, err := extract.Text(data, item.FileName)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("no text content")
	}
	return text, nil
}

// announce posts a status message, tolerating notifier failures.
func (a *Aggregator) announce(ctx context.Context, chatID, text string) int64 {
	id, err := a.notifier.Announce(ctx, chatID, text)
	if err != nil {
		a.logger.Debug("status announce failed", "chat_id", chatID, "error", err)
		return 0
	}
	return id
}

// clear removes a status message previously posted by announce.
func (a *Aggregator) clear(ctx context.Context, chatID string, messageID int64) {
	if messageID == 0 {
		return
	}
	if err := a.notifier.Remove(ctx, chatID, messageID); err != nil {
		a.logger.Debug("status remove failed", "chat_id", chatID, "error", err)
	}
}
