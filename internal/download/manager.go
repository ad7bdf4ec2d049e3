// Package download implements the engine's core scheduler: a tracker
// re-announce loop, a peer connection pool, and the per-peer worker that
// claims pieces, pipelines block requests, verifies, and hands finished
// pieces to storage.
package download

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"leech/internal/metainfo"
	"leech/internal/peerconn"
	"leech/internal/peerwire"
	"leech/internal/piece"
	"leech/internal/progress"
	"leech/internal/storage"
	"leech/internal/tracker"
	"leech/internal/xlog"
)

const (
	pieceChannelCapacity = 500
	maxActivePeers       = 200

	initialReannounceDelay           = 10 * time.Second
	activeThresholdForFastReannounce = 50
	fastReannounceInterval           = 45 * time.Second
	slowReannounceInterval           = 300 * time.Second

	connectionPollInterval = time.Second
	desperateActiveCeiling = 10
	desperateKnownFloor    = 15
	desperateRetryDelay    = time.Second
	politeRetryDelay       = 5 * time.Second

	unchokeWaitTimeout = 30 * time.Second
	receiveTimeout     = 30 * time.Second
	noPieceSleep       = 2 * time.Second
	progressInterval   = time.Second

	pipelineStart       = 3
	pipelineMin         = 1
	pipelineMax         = 20
	fastStreakThreshold = 5
	fastBlockThreshold  = 500 * time.Millisecond
	slowBlockThreshold  = 2 * time.Second
)

type pieceResult struct {
	index int
	data  []byte
}

// IncompleteError is returned when the peer supply is exhausted before
// every piece has verified. Callers may retry with a fresh tracker
// announce rather than treat it as a fatal failure.
type IncompleteError struct {
	Done, Total int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("download: incomplete, %d/%d pieces", e.Done, e.Total)
}

// Manager owns the piece table, the storage layer, and the scheduler
// loops for a single torrent.
type Manager struct {
	mi      *metainfo.Metainfo
	peerID  [20]byte
	port    uint16
	storage *storage.Storage
	sink    *progress.Sink
	tracker *tracker.Client

	piecesMu sync.Mutex
	pieces   []*piece.Piece
}

// NewManager allocates the piece table from mi and opens the output
// files under outputDir.
func NewManager(mi *metainfo.Metainfo, outputDir string, peerID [20]byte, port uint16, sink *progress.Sink) (*Manager, error) {
	st, err := storage.New(mi, outputDir)
	if err != nil {
		return nil, err
	}

	numPieces := mi.NumPieces()
	pieces := make([]*piece.Piece, numPieces)
	for i := 0; i < numPieces; i++ {
		hash, _ := mi.PieceHash(i)
		pieces[i] = piece.New(i, int(mi.PieceLength(i)), hash)
	}

	return &Manager{
		mi:      mi,
		peerID:  peerID,
		port:    port,
		storage: st,
		sink:    sink,
		tracker: tracker.NewClient(),
		pieces:  pieces,
	}, nil
}

// peerQueue is a mutex-guarded FIFO of peer addresses waiting to be
// tried. A plain slice under a mutex - it never gets hot enough for
// contention to matter.
type peerQueue struct {
	mu    sync.Mutex
	items []net.TCPAddr
}

func (q *peerQueue) push(addr net.TCPAddr) {
	q.mu.Lock()
	q.items = append(q.items, addr)
	q.mu.Unlock()
}

func (q *peerQueue) pop() (net.TCPAddr, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return net.TCPAddr{}, false
	}
	addr := q.items[0]
	q.items = q.items[1:]
	return addr, true
}

type knownPeers struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newKnownPeers() *knownPeers { return &knownPeers{seen: make(map[string]bool)} }

func (k *knownPeers) addIfNew(addr net.TCPAddr) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	key := addr.String()
	if k.seen[key] {
		return false
	}
	k.seen[key] = true
	return true
}

// Run contacts peers and drives the download to completion. It returns
// nil once every piece is verified and flushed to disk, or
// *IncompleteError if the peer supply runs dry first.
func (m *Manager) Run(ctx context.Context, initialPeers []net.TCPAddr) error {
	defer m.storage.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tx := make(chan pieceResult, pieceChannelCapacity)

	queue := &peerQueue{}
	known := newKnownPeers()
	for _, p := range initialPeers {
		if known.addIfNew(p) {
			queue.push(p)
		}
	}

	var activePeers atomic.Int64
	var totalKnownPeers atomic.Int64
	totalKnownPeers.Store(int64(len(initialPeers)))

	group, gctx := errgroup.WithContext(runCtx)

	group.Go(func() error {
		m.trackerReannounceLoop(gctx, queue, known, &activePeers, &totalKnownPeers)
		return nil
	})

	var workers sync.WaitGroup
	group.Go(func() error {
		m.connectionManagerLoop(gctx, queue, &activePeers, &totalKnownPeers, tx, &workers)
		return nil
	})

	drainErr := m.storageDrainLoop(gctx, tx, &activePeers)
	cancel()
	workers.Wait()
	_ = group.Wait()
	return drainErr
}

func (m *Manager) trackerReannounceLoop(ctx context.Context, queue *peerQueue, known *knownPeers, activePeers, totalKnownPeers *atomic.Int64) {
	if !sleepCtx(ctx, initialReannounceDelay) {
		return
	}

	for {
		interval := fastReannounceInterval
		if activePeers.Load() >= activeThresholdForFastReannounce {
			interval = slowReannounceInterval
		}
		if !sleepCtx(ctx, interval) {
			return
		}

		downloaded, left := m.progressBytes()
		req := tracker.Request{
			InfoHash:   m.mi.InfoHash,
			PeerID:     m.peerID,
			Port:       m.port,
			Downloaded: downloaded,
			Left:       left,
		}

		resp, err := m.tracker.Announce(m.mi.Announce, req)
		if err != nil {
			xlog.WithFields(xlog.Fields{"error": err}).Warn("tracker re-announce failed")
			continue
		}

		var newCount int64
		for _, addr := range resp.Peers {
			if known.addIfNew(addr) {
				queue.push(addr)
				newCount++
			}
		}
		if newCount > 0 {
			totalKnownPeers.Add(newCount)
		}
	}
}

func (m *Manager) connectionManagerLoop(ctx context.Context, queue *peerQueue, activePeers, totalKnownPeers *atomic.Int64, tx chan<- pieceResult, workers *sync.WaitGroup) {
	for {
		if ctx.Err() != nil {
			return
		}

		if activePeers.Load() >= maxActivePeers {
			if !sleepCtx(ctx, connectionPollInterval) {
				return
			}
			continue
		}

		addr, ok := queue.pop()
		if !ok {
			if !sleepCtx(ctx, connectionPollInterval) {
				return
			}
			continue
		}

		workers.Add(1)
		activePeers.Add(1)
		go func(addr net.TCPAddr) {
			defer workers.Done()
			m.downloadFromPeer(ctx, addr, tx)
			activePeers.Add(-1)

			delay := politeRetryDelay
			if activePeers.Load() < desperateActiveCeiling && totalKnownPeers.Load() > desperateKnownFloor {
				delay = desperateRetryDelay
			}
			if sleepCtx(ctx, delay) {
				queue.push(addr)
			}
		}(addr)
	}
}

func (m *Manager) downloadFromPeer(ctx context.Context, addr net.TCPAddr, tx chan<- pieceResult) {
	conn, err := peerconn.Connect(&addr, m.mi.InfoHash, m.peerID)
	if err != nil {
		xlog.WithFields(xlog.Fields{"peer": addr.String(), "error": err}).Debug("peer connect failed")
		return
	}
	defer conn.Close()

	// Read whatever the peer sends first (typically Bitfield) on a
	// best-effort basis; a peer that opens with something else is still
	// usable, it just starts out claiming no pieces.
	_, _ = conn.Receive(receiveTimeout)

	if err := conn.SendInterested(); err != nil {
		return
	}
	if !m.waitForUnchoke(conn) {
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		index, length, hash, ok := m.claimPiece(conn)
		if !ok {
			if !sleepCtx(ctx, noPieceSleep) {
				return
			}
			continue
		}

		if !m.downloadPiece(ctx, conn, index, length, hash, tx) {
			return
		}
	}
}

func (m *Manager) waitForUnchoke(conn *peerconn.Connection) bool {
	deadline := time.Now().Add(unchokeWaitTimeout)
	for {
		if !conn.IsChoking() {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if _, err := conn.Receive(remaining); err != nil {
			return false
		}
	}
}

// claimPiece picks the next piece to request from conn using the
// endpoints-priority scheme: piece 0 first (fast preview), the last
// piece second (duration/metadata for streaming), then first sequential
// match - never a piece already being fetched from another peer.
func (m *Manager) claimPiece(conn *peerconn.Connection) (index, length int, hash [20]byte, ok bool) {
	m.piecesMu.Lock()
	defer m.piecesMu.Unlock()

	n := len(m.pieces)
	if n == 0 {
		return 0, 0, hash, false
	}

	if first := m.pieces[0]; !first.IsComplete() && !first.InProgress && conn.HasPiece(0) {
		first.InProgress = true
		return first.Index, first.Length, first.Hash, true
	}
	if n > 1 {
		if last := m.pieces[n-1]; !last.IsComplete() && !last.InProgress && conn.HasPiece(last.Index) {
			last.InProgress = true
			return last.Index, last.Length, last.Hash, true
		}
	}
	for _, p := range m.pieces {
		if !p.IsComplete() && !p.InProgress && conn.HasPiece(p.Index) {
			p.InProgress = true
			return p.Index, p.Length, p.Hash, true
		}
	}
	return 0, 0, hash, false
}

// downloadPiece pipelines block requests for one piece against conn,
// adapting pipeline depth to observed round-trip time. It returns false
// when the connection itself should be abandoned (protocol error, peer
// gone), true when the peer is still usable even if this particular
// piece failed verification.
func (m *Manager) downloadPiece(ctx context.Context, conn *peerconn.Connection, index, length int, hash [20]byte, tx chan<- pieceResult) bool {
	p := piece.New(index, length, hash)

	pipelineSize := pipelineStart
	pending := 0
	fastStreak := 0

	for !p.IsComplete() {
		if ctx.Err() != nil {
			m.unclaim(index)
			return false
		}

		for !conn.IsChoking() && pending < pipelineSize {
			begin, blockLen, ok := p.NextBlockToRequest()
			if !ok {
				break
			}
			if err := conn.RequestPiece(uint32(index), uint32(begin), uint32(blockLen)); err != nil {
				break
			}
			pending++
		}

		start := time.Now()
		msg, err := conn.Receive(receiveTimeout)
		if err != nil {
			if isTimeout(err) {
				// No traffic for 30s: ping the peer so it doesn't drop
				// us for inactivity, then keep waiting. Any requests in
				// flight may have been lost, so let them be re-sent.
				if sendErr := conn.Send(nil); sendErr != nil {
					m.unclaim(index)
					return false
				}
				p.ResetRequested()
				pending = 0
				continue
			}
			m.unclaim(index)
			return false
		}
		if msg == nil {
			continue // keep-alive from the peer
		}

		switch msg.ID {
		case peerwire.MsgPiece:
			_, begin, block, err := peerwire.ParsePiece(msg)
			if err != nil {
				continue
			}
			if p.AddBlock(int(begin), block) {
				pending--
				elapsed := time.Since(start)
				switch {
				case elapsed < fastBlockThreshold:
					fastStreak++
					if fastStreak >= fastStreakThreshold {
						if pipelineSize < pipelineMax {
							pipelineSize++
						}
						fastStreak = 0
					}
				case elapsed > slowBlockThreshold:
					if pipelineSize > pipelineMin {
						pipelineSize /= 2
					}
					fastStreak = 0
				}
			}
		case peerwire.MsgChoke:
			// The peer drops our outstanding requests when it chokes;
			// clear the requested flags so they go out again once we
			// are unchoked.
			p.ResetRequested()
			pending = 0
			pipelineSize = pipelineMin
		}
	}

	if !p.Verify() {
		xlog.WithFields(xlog.Fields{"piece": index, "peer": conn.Addr().String()}).Warn("piece verification failed, rescheduling")
		m.unclaim(index)
		return true
	}

	data := p.Data()
	select {
	case tx <- pieceResult{index: index, data: data}:
	case <-ctx.Done():
		m.unclaim(index)
		return false
	}

	m.piecesMu.Lock()
	m.pieces[index].MarkComplete()
	m.piecesMu.Unlock()

	return true
}

func (m *Manager) unclaim(index int) {
	m.piecesMu.Lock()
	m.pieces[index].InProgress = false
	m.piecesMu.Unlock()
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) storageDrainLoop(ctx context.Context, tx chan pieceResult, activePeers *atomic.Int64) error {
	start := time.Now()
	var downloadedBytes int64
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case res := <-tx:
			if err := m.storage.WritePiece(res.index, res.data); err != nil {
				return fmt.Errorf("download: write piece %d: %w", res.index, err)
			}
			downloadedBytes += int64(len(res.data))

		case <-ticker.C:
			completed, total := m.progress()
			if completed >= total {
				return m.finish(tx, start, &downloadedBytes, activePeers.Load(), total)
			}
			m.emitProgress(start, downloadedBytes, activePeers.Load(), completed, total)
			if activePeers.Load() == 0 && len(tx) == 0 {
				xlog.Warn("peer supply exhausted before completion")
				err := &IncompleteError{Done: completed, Total: total}
				m.emitError(completed, total, downloadedBytes, activePeers.Load(), err)
				return err
			}

		case <-ctx.Done():
			completed, total := m.progress()
			if completed >= total {
				return m.finish(tx, start, &downloadedBytes, activePeers.Load(), total)
			}
			err := &IncompleteError{Done: completed, Total: total}
			m.emitError(completed, total, downloadedBytes, activePeers.Load(), err)
			return err
		}
	}
}

// finish drains whatever verified pieces are still buffered in the channel
// and writes them out. A worker sends a piece before marking it complete,
// so seeing every piece complete guarantees every send already happened -
// but not that this loop has read them all yet.
func (m *Manager) finish(tx chan pieceResult, start time.Time, downloadedBytes *int64, activePeers int64, total int) error {
	for {
		select {
		case res := <-tx:
			if err := m.storage.WritePiece(res.index, res.data); err != nil {
				return fmt.Errorf("download: write piece %d: %w", res.index, err)
			}
			*downloadedBytes += int64(len(res.data))
		default:
			xlog.Info("download complete, all pieces verified and flushed")
			m.emitProgress(start, *downloadedBytes, activePeers, total, total)
			return nil
		}
	}
}

func (m *Manager) emitError(completed, total int, downloadedBytes, activePeers int64, err error) {
	m.sink.Emit(progress.Snapshot{
		TotalPieces:     total,
		CompletedPieces: completed,
		Peers:           int(activePeers),
		Downloading:     false,
		StatusMessage:   "download failed",
		Error:           err,
		TotalBytes:      m.mi.Info.TotalLength,
		DownloadedBytes: downloadedBytes,
	})
}

func (m *Manager) emitProgress(start time.Time, downloadedBytes, activePeers int64, completed, total int) {
	elapsed := time.Since(start).Seconds()
	speed := 0.0
	if elapsed > 0 {
		speed = (float64(downloadedBytes) / elapsed) / (1024 * 1024)
	}
	status := "downloading"
	if completed >= total {
		status = "Complete"
	} else if activePeers == 0 {
		status = "searching for peers"
	}
	m.sink.Emit(progress.Snapshot{
		TotalPieces:     total,
		CompletedPieces: completed,
		Peers:           int(activePeers),
		SpeedMBps:       speed,
		Downloading:     completed < total,
		StatusMessage:   status,
		TotalBytes:      m.mi.Info.TotalLength,
		DownloadedBytes: downloadedBytes,
	})
}

func (m *Manager) progress() (completed, total int) {
	m.piecesMu.Lock()
	defer m.piecesMu.Unlock()
	total = len(m.pieces)
	for _, p := range m.pieces {
		if p.IsComplete() {
			completed++
		}
	}
	return completed, total
}

// progressBytes reports (downloaded, left) as completed pieces times the
// nominal piece length. The short final piece makes this an overestimate
// of at most one piece, which trackers tolerate.
func (m *Manager) progressBytes() (downloaded, left int64) {
	completed, _ := m.progress()
	downloaded = int64(completed) * m.mi.Info.PieceLength
	left = m.mi.Info.TotalLength - downloaded
	if left < 0 {
		left = 0
	}
	return downloaded, left
}
