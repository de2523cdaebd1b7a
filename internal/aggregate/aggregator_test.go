// ABOUTME: Tests for debounce-buffered media group aggregation
// ABOUTME: Covers exactly-once finalization, ordering and content assembly

package aggregate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/conversation"
	"github.com/chatrelay/chatrelay/internal/store"
)

const testDelay = 30 * time.Millisecond

type fakeFetcher struct {
	mu    sync.Mutex
	files map[string][]byte
	fails map[string]bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{files: make(map[string][]byte), fails: make(map[string]bool)}
}

func (f *fakeFetcher) FetchFile(_ context.Context, fileID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails[fileID] {
		return nil, fmt.Errorf("download failed")
	}
	data, ok := f.files[fileID]
	if !ok {
		return nil, fmt.Errorf("unknown file %s", fileID)
	}
	return data, nil
}

type sinkCall struct {
	addr    conversation.Address
	content store.Content
}

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *fakeSink) HandleContent(_ context.Context, addr conversation.Address, content store.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{addr: addr, content: content})
	return nil
}

func (s *fakeSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *fakeSink) call(i int) sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}

type fakeNotifier struct {
	mu        sync.Mutex
	announced []string
	removed   []int64
	nextID    int64
}

func (n *fakeNotifier) Announce(_ context.Context, _ string, text string) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.announced = append(n.announced, text)
	n.nextID++
	return n.nextID, nil
}

func (n *fakeNotifier) Remove(_ context.Context, _ string, messageID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.removed = append(n.removed, messageID)
	return nil
}

func (n *fakeNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.announced...)
}

func newTestAggregator(fetcher *fakeFetcher) (*Aggregator, *fakeSink, *fakeNotifier) {
	sink := &fakeSink{}
	notifier := &fakeNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(testDelay, fetcher, sink, notifier, logger), sink, notifier
}

func photoItem(group, fileID, caption string) Item {
	return Item{
		GroupID:   group,
		ChatID:    "100",
		MessageID: 1,
		Kind:      KindPhoto,
		FileID:    fileID,
		FileName:  fileID + ".jpg",
		Caption:   caption,
	}
}

func docItem(group, fileID, name, caption string) Item {
	return Item{
		GroupID:   group,
		ChatID:    "100",
		MessageID: 1,
		Kind:      KindDocument,
		FileID:    fileID,
		FileName:  name,
		Caption:   caption,
	}
}

func waitForCalls(t *testing.T, sink *fakeSink, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sink.callCount() == want
	}, time.Second, 5*time.Millisecond)
}

func TestBurstFinalizesOnce(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.files["a"] = []byte("img-a")
	fetcher.files["b"] = []byte("img-b")
	fetcher.files["c"] = []byte("img-c")
	agg, sink, _ := newTestAggregator(fetcher)
	defer agg.Close()

	agg.Add(photoItem("g1", "a", "look at these"))
	time.Sleep(testDelay / 3)
	agg.Add(photoItem("g1", "b", ""))
	time.Sleep(testDelay / 3)
	agg.Add(photoItem("g1", "c", ""))

	waitForCalls(t, sink, 1)

	// No second finalize after another full debounce window.
	time.Sleep(2 * testDelay)
	assert.Equal(t, 1, sink.callCount())

	call := sink.call(0)
	assert.Equal(t, "100", call.addr.ChatID)
	require.True(t, call.content.IsMulti())
	frags := call.content.FragmentList()
	require.Len(t, frags, 4)
	assert.Equal(t, store.FragmentText, frags[0].Kind)
	assert.Equal(t, "look at these", frags[0].Text)
	for _, f := range frags[1:] {
		assert.Equal(t, store.FragmentImage, f.Kind)
	}
}

func TestPhotoOrderPreserved(t *testing.T) {
	fetcher := newFakeFetcher()
	// Distinct payloads give distinct data URLs, so order is observable.
	fetcher.files["a"] = []byte("first")
	fetcher.files["b"] = []byte("second")
	agg, sink, _ := newTestAggregator(fetcher)
	defer agg.Close()

	agg.Add(photoItem("g1", "a", ""))
	agg.Add(photoItem("g1", "b", ""))
	waitForCalls(t, sink, 1)

	frags := sink.call(0).content.FragmentList()
	require.Len(t, frags, 3)
	assert.NotEqual(t, frags[1].DataURL, frags[2].DataURL)
}

func TestGapProducesTwoGroups(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.files["a"] = []byte("img-a")
	fetcher.files["b"] = []byte("img-b")
	agg, sink, _ := newTestAggregator(fetcher)
	defer agg.Close()

	agg.Add(photoItem("g1", "a", ""))
	waitForCalls(t, sink, 1)

	agg.Add(photoItem("g1", "b", ""))
	waitForCalls(t, sink, 2)

	require.Len(t, sink.call(0).content.FragmentList(), 2)
	require.Len(t, sink.call(1).content.FragmentList(), 2)
}

func TestIndependentGroups(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.files["a"] = []byte("img-a")
	fetcher.files["b"] = []byte("img-b")
	agg, sink, _ := newTestAggregator(fetcher)
	defer agg.Close()

	agg.Add(photoItem("g1", "a", ""))
	agg.Add(photoItem("g2", "b", ""))
	waitForCalls(t, sink, 2)
}

func TestPhotoGroupEmptyCaption(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.files["a"] = []byte("img-a")
	agg, sink, _ := newTestAggregator(fetcher)
	defer agg.Close()

	agg.Add(photoItem("g1", "a", ""))
	waitForCalls(t, sink, 1)

	frags := sink.call(0).content.FragmentList()
	require.Len(t, frags, 2)
	assert.Equal(t, store.FragmentText, frags[0].Kind)
	assert.Equal(t, "", frags[0].Text)
}

func TestPhotoGroupDownloadFailureAborts(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.files["a"] = []byte("img-a")
	fetcher.fails["b"] = true
	agg, sink, notifier := newTestAggregator(fetcher)
	defer agg.Close()

	agg.Add(photoItem("g1", "a", ""))
	agg.Add(photoItem("g1", "b", ""))

	require.Eventually(t, func() bool {
		for _, msg := range notifier.messages() {
			if strings.HasPrefix(msg, "Error:") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, sink.callCount())
}

func TestDocumentGroupAssembly(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.files["a"] = []byte("alpha contents")
	fetcher.files["b"] = []byte("beta contents")
	agg, sink, _ := newTestAggregator(fetcher)
	defer agg.Close()

	agg.Add(docItem("g1", "a", "alpha.txt", "please review"))
	agg.Add(docItem("g1", "b", "beta.txt", ""))
	waitForCalls(t, sink, 1)

	text := sink.call(0).content.PlainText()
	assert.True(t, strings.HasPrefix(text, "please review\n[Processed files: alpha.txt, beta.txt]"))
	assert.Contains(t, text, "--- Text from file alpha.txt ---\nalpha contents")
	assert.Contains(t, text, "--- Text from file beta.txt ---\nbeta contents")
	idxA := strings.Index(text, "alpha contents")
	idxB := strings.Index(text, "beta contents")
	assert.Less(t, idxA, idxB)
}

func TestDocumentGroupPartialFailure(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.files["a"] = []byte("alpha contents")
	fetcher.fails["b"] = true
	fetcher.files["c"] = []byte("binary") // unsupported extension below
	agg, sink, _ := newTestAggregator(fetcher)
	defer agg.Close()

	agg.Add(docItem("g1", "a", "alpha.txt", ""))
	agg.Add(docItem("g1", "b", "beta.txt", ""))
	agg.Add(docItem("g1", "c", "gamma.pdf", ""))
	waitForCalls(t, sink, 1)

	text := sink.call(0).content.PlainText()
	assert.Contains(t, text, "--- Text from file alpha.txt ---")
	assert.Contains(t, text, "--- Could not extract text from file beta.txt ---")
	assert.Contains(t, text, "--- Could not extract text from file gamma.pdf ---")
	assert.Contains(t, text, "[Processed files: alpha.txt, beta.txt, gamma.pdf]")
}

func TestDocumentTruncation(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.files["a"] = []byte(strings.Repeat("x", DocumentTextLimit+500))
	agg, sink, _ := newTestAggregator(fetcher)
	defer agg.Close()

	agg.Add(docItem("g1", "a", "big.txt", ""))
	waitForCalls(t, sink, 1)

	text := sink.call(0).content.PlainText()
	assert.Contains(t, text, "... (document text truncated)")
	assert.NotContains(t, text, strings.Repeat("x", DocumentTextLimit+1))
}

func TestCombinedTruncation(t *testing.T) {
	fetcher := newFakeFetcher()
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("f%d", i)
		fetcher.files[id] = []byte(strings.Repeat("y", DocumentTextLimit-100))
	}
	agg, sink, _ := newTestAggregator(fetcher)
	defer agg.Close()

	for i := 0; i < 3; i++ {
		agg.Add(docItem("g1", fmt.Sprintf("f%d", i), fmt.Sprintf("doc%d.txt", i), ""))
	}
	waitForCalls(t, sink, 1)

	text := sink.call(0).content.PlainText()
	assert.Contains(t, text, "... (combined file text truncated)")
	assert.LessOrEqual(t, len([]rune(text)), CombinedTextLimit+len([]rune(combinedTruncatedMarker)))
}

func TestStatusMessageLifecycle(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.files["a"] = []byte("img-a")
	agg, sink, notifier := newTestAggregator(fetcher)
	defer agg.Close()

	agg.Add(photoItem("g1", "a", ""))
	agg.Add(photoItem("g1", "a", ""))
	waitForCalls(t, sink, 1)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.announced, 1)
	assert.Equal(t, "Processing 2 images...", notifier.announced[0])
	assert.Equal(t, []int64{1}, notifier.removed)
}

func TestCloseDiscardsPendingGroups(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.files["a"] = []byte("img-a")
	agg, sink, _ := newTestAggregator(fetcher)

	agg.Add(photoItem("g1", "a", ""))
	agg.Close()

	time.Sleep(2 * testDelay)
	assert.Equal(t, 0, sink.callCount())

	// Add after Close is a no-op.
	agg.Add(photoItem("g2", "a", ""))
	time.Sleep(2 * testDelay)
	assert.Equal(t, 0, sink.callCount())
}

func TestUnknownKindDropped(t *testing.T) {
	fetcher := newFakeFetcher()
	agg, sink, _ := newTestAggregator(fetcher)
	defer agg.Close()

	agg.Add(Item{GroupID: "g1", ChatID: "100", Kind: "sticker"})
	time.Sleep(2 * testDelay)
	assert.Equal(t, 0, sink.callCount())
}

func TestConcurrentAddsFinalizeOnce(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.files["a"] = []byte("img-a")
	agg, sink, _ := newTestAggregator(fetcher)
	defer agg.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.Add(photoItem("g1", "a", ""))
		}()
	}
	wg.Wait()

	waitForCalls(t, sink, 1)
	time.Sleep(2 * testDelay)
	assert.Equal(t, 1, sink.callCount())
	// All ten items landed in the single finalized group.
	assert.Len(t, sink.call(0).content.FragmentList(), 11)
}
