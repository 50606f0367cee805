package cache

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/titanx-dash/holder-api/internal/adapter"
	"github.com/titanx-dash/holder-api/internal/domain"
	"github.com/titanx-dash/holder-api/internal/logger"
)

// StateTracker persists per-contract population progress through the
// store's "state" prefix.
type StateTracker struct {
	store *Store
	clock adapter.Clock
}

// NewStateTracker creates a tracker over the given store.
func NewStateTracker(store *Store, clock adapter.Clock) *StateTracker {
	return &StateTracker{store: store, clock: clock}
}

// LoadState returns the persisted progress for a contract. A missing
// record yields a fresh idle state. A corrupt record is salvaged field
// by field so durable values like the last processed block survive.
func (t *StateTracker) LoadState(ctx context.Context, contractKey string) domain.ProgressState {
	var state domain.ProgressState
	found, err := t.store.Get(ctx, PrefixState, contractKey, &state)
	if err == nil {
		if !found {
			return idleState()
		}
		if state.Step == "" {
			state.Step = domain.StepIdle
		}
		return state
	}

	logger.WarnCtx(ctx, "progress record unreadable, salvaging durable fields",
		zap.String("contract", contractKey), zap.Error(err))
	return t.salvageState(contractKey)
}

// SaveState persists the progress record, stamping the update time and
// mirroring the last processed block into the nested sync record.
func (t *StateTracker) SaveState(ctx context.Context, contractKey string, state domain.ProgressState) error {
	state.LastUpdated = t.clock.Now()
	state.EventSync.LastProcessedBlock = state.LastProcessedBlock
	return t.store.Set(ctx, PrefixState, contractKey, state)
}

func idleState() domain.ProgressState {
	return domain.ProgressState{Step: domain.StepIdle}
}

// salvageState re-reads the raw record and recovers whatever known
// fields still decode, starting from a fresh idle state.
func (t *StateTracker) salvageState(contractKey string) domain.ProgressState {
	state := idleState()

	raw, found, err := t.store.GetRaw(PrefixState, contractKey)
	if err != nil || !found {
		return state
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return state
	}

	salvage := func(name string, into interface{}) {
		if v, ok := fields[name]; ok {
			// Per-field failures leave the zero value in place.
			_ = json.Unmarshal(v, into)
		}
	}
	salvage("last_processed_block", &state.LastProcessedBlock)
	salvage("event_sync", &state.EventSync)
	salvage("error_log", &state.ErrorLog)

	if state.LastProcessedBlock == 0 {
		state.LastProcessedBlock = state.EventSync.LastProcessedBlock
	}
	return state
}
