package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

// loadAccount rebuilds an account aggregate from the event store, starting
// from the latest snapshot when one exists. Replay from a snapshot only reads
// events past the snapshot version, which keeps reconstruction cost bounded
// for long-lived streams.
func loadAccount(ctx context.Context, es store.EventStore, streamID string) (*domain.Account, error) {
	snap, err := es.GetSnapshot(ctx, streamID)
	if err != nil && !errors.Is(err, store.ErrSnapshotNotFound) {
		return nil, fmt.Errorf("load snapshot for %s: %w", streamID, err)
	}

	if snap == nil {
		events, err := es.Read(ctx, streamID, 0)
		if err != nil {
			return nil, fmt.Errorf("read stream %s: %w", streamID, err)
		}
		if len(events) == 0 {
			return nil, store.ErrAccountNotFound
		}
		return domain.ReplayAccount(streamID, events)
	}

	var state domain.AccountSnapshot
	if err := json.Unmarshal(snap.Data, &state); err != nil {
		return nil, fmt.Errorf("decode snapshot for %s: %w", streamID, err)
	}

	events, err := es.Read(ctx, streamID, snap.Version)
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", streamID, err)
	}
	return domain.ReplayAccountFromSnapshot(state, events)
}
