package progress

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitDropsWhenChannelFull(t *testing.T) {
	sink := NewSink(1)
	defer sink.Close()

	sink.Emit(Snapshot{CompletedPieces: 1})
	sink.Emit(Snapshot{CompletedPieces: 2}) // dropped, channel already full

	got := <-sink.Snapshots()
	require.Equal(t, 1, got.CompletedPieces)

	select {
	case <-sink.Snapshots():
		t.Fatal("expected no second snapshot, channel should have been drained")
	default:
	}
}
