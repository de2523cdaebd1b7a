// Package aggregate turns media-group bursts into single logical messages.
//
// # Overview
//
// Telegram delivers an album as a burst of separate messages sharing a
// media_group_id, with no marker for the last one. The aggregator buffers
// items per group id and treats a quiet period as the end of the group: every
// arrival restarts a debounce timer, and when the timer finally fires the
// whole group is finalized in one shot.
//
// # Usage
//
//	agg := aggregate.New(2*time.Second, fetcher, sink, notifier, logger)
//	defer agg.Close()
//
//	agg.Add(aggregate.Item{GroupID: "...", Kind: aggregate.KindPhoto, ...})
//
// Add never blocks on I/O; downloads and extraction happen at finalization
// time on the timer goroutine.
//
// # Finalization
//
// Each group finalizes exactly once, classified by its first item:
//
//   - Photo groups become a fragment sequence: the group caption (possibly
//     empty) followed by one inline image per photo. A failed download
//     aborts the group with a visible error.
//   - Document groups become one text block: caption, a header listing the
//     file names, then each file's extracted text. A failed item degrades to
//     an inline note; per-document and combined length caps apply.
//
// The assembled content is handed to the sink addressed at the group's first
// message, so the reply lands where the album started.
package aggregate
