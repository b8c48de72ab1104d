// Package prevent implements the prevention half of the pipeline: mitigation
// rule evaluation with cooldown and attempt-window semantics, and idempotent,
// partially-failable action dispatch.
package prevent

import (
	"sync"

	"warden/metrics"
)

// BlockSet is the concurrent set of blocked targets. Adds are idempotent.
type BlockSet struct {
	mu      sync.RWMutex
	targets map[string]struct{}
}

// NewBlockSet creates an empty block-set.
func NewBlockSet() *BlockSet {
	return &BlockSet{targets: make(map[string]struct{})}
}

// Add inserts a target and reports whether it was newly blocked. Re-adding an
// already-blocked target is a no-op.
func (b *BlockSet) Add(target string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.targets[target]; exists {
		return false
	}
	b.targets[target] = struct{}{}
	metrics.BlockSetSize.Set(float64(len(b.targets)))
	return true
}

// Remove unblocks a target.
func (b *BlockSet) Remove(target string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.targets[target]; !exists {
		return false
	}
	delete(b.targets, target)
	metrics.BlockSetSize.Set(float64(len(b.targets)))
	return true
}

// Contains reports whether a target is blocked.
func (b *BlockSet) Contains(target string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.targets[target]
	return exists
}

// Size returns the number of blocked targets.
func (b *BlockSet) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.targets)
}
