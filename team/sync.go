package team

import (
	"fmt"

	"github.com/localfirst/teamgraph/graph"
	"github.com/localfirst/teamgraph/internal/metrics"
)

// Merge combines an incoming graph (e.g. received via a MISSING_LINKS
// sync round) into this team's chain and re-reduces
// state from scratch over the merged result.
func (t *Team) Merge(incoming *graph.Graph) error {
	t.mu.Lock()
	merged, err := graph.Merge(t.chain, incoming)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("team: merge: %w", err)
	}
	changed := merged.Head != t.chain.Head
	t.chain = merged
	t.reduceAll()
	t.mu.Unlock()
	metrics.GraphMerges.Inc()
	if changed {
		t.notify()
	}
	return nil
}

// Save serializes the team's full graph for persistence or transport (see
// pkg/storage's ShareRecord, which stores these bytes alongside the local
// keyring sealed by coordinator.SealKeyring).
func (t *Team) Save() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return graph.Serialize(t.chain)
}
