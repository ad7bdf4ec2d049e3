// Package progress defines the snapshot shape the download manager emits
// and a small channel-based sink for consumers (the CLI, or any future
// front-end) to observe it without the manager holding a reference back
// to its caller.
package progress

// Snapshot is a point-in-time view of a download, populated from the
// real parsed metainfo and live scheduler state - never placeholder
// strings or zeroed counts.
type Snapshot struct {
	TotalPieces        int
	CompletedPieces    int
	Peers              int
	SpeedMBps          float64
	Downloading        bool
	IsFetchingMetadata bool
	StatusMessage      string
	Error              error
	TotalBytes         int64
	DownloadedBytes    int64
}

// Sink receives Snapshots from a running download. Emit never blocks
// indefinitely on a full channel; it drops the snapshot rather than stall
// the scheduler, since a slow consumer shouldn't throttle the transfer.
type Sink struct {
	ch chan Snapshot
}

// NewSink creates a sink buffering up to capacity snapshots.
func NewSink(capacity int) *Sink {
	return &Sink{ch: make(chan Snapshot, capacity)}
}

// Emit publishes a snapshot, dropping it if the channel is full.
func (s *Sink) Emit(snap Snapshot) {
	select {
	case s.ch <- snap:
	default:
	}
}

// Snapshots exposes the receive side for consumers to range over.
func (s *Sink) Snapshots() <-chan Snapshot {
	return s.ch
}

// Close signals that no further snapshots will be emitted.
func (s *Sink) Close() {
	close(s.ch)
}
