package resonance

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/hexbound/constella/internal/store"
)

// stateKey is version-tagged; a format change bumps the suffix so old
// blobs load as empty state instead of being misread.
const stateKey = "resonance:state:v1"

// persistedState is the durable slice of engine state: score histories
// keep the adaptive threshold warm across restarts, last bundles keep
// IsAligned answerable. The 24h bundle cache is deliberately not
// persisted — a restart recomputes.
type persistedState struct {
	Histories map[string][]float64 `json:"histories"`
	Last      map[string]*Bundle   `json:"last"`
}

// SaveState writes score histories and last bundles to the blob store.
func (e *Engine) SaveState(db *store.DB) error {
	e.mu.Lock()
	state := persistedState{
		Histories: e.histories,
		Last:      e.last,
	}
	data, err := json.Marshal(state)
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal resonance state: %w", err)
	}
	return db.SaveBlob(stateKey, data)
}

// LoadState restores score histories and last bundles from the blob
// store. A missing or undecodable blob leaves the engine empty — never
// an error.
func (e *Engine) LoadState(db *store.DB) {
	data, err := db.LoadBlob(stateKey)
	if err != nil {
		log.Printf("resonance: load state: %v", err)
		return
	}
	if data == nil {
		return
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Printf("resonance: discarding undecodable state blob: %v", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if state.Histories != nil {
		e.histories = state.Histories
	}
	if state.Last != nil {
		e.last = state.Last
	}
}
