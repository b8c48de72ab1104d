// Package catalog loads the pattern and mitigation rule catalogs from YAML
// and holds them for the engine. The catalog is immutable between reloads;
// Reload swaps the whole set atomically.
package catalog

import (
	"sync/atomic"
	"time"

	"warden/core"
)

// Catalog is one immutable snapshot of the loaded patterns and rules.
type Catalog struct {
	Patterns []core.Pattern
	Rules    []*core.MitigationRule
	LoadedAt time.Time
}

// EnabledRules returns the enabled mitigation rules.
func (c *Catalog) EnabledRules() []*core.MitigationRule {
	rules := make([]*core.MitigationRule, 0, len(c.Rules))
	for _, r := range c.Rules {
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	return rules
}

// Holder hands out the current catalog snapshot. Readers never block a reload
// and a reload never blocks readers.
type Holder struct {
	current atomic.Pointer[Catalog]
}

// NewHolder creates a holder seeded with the given catalog.
func NewHolder(c *Catalog) *Holder {
	h := &Holder{}
	h.current.Store(c)
	return h
}

// Current returns the active catalog snapshot.
func (h *Holder) Current() *Catalog {
	return h.current.Load()
}

// Swap replaces the active catalog. In-flight evaluations keep the snapshot
// they started with.
func (h *Holder) Swap(c *Catalog) {
	h.current.Store(c)
}
