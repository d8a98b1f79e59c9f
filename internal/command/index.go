package command

import (
	"sort"
	"sync"
)

// LookupIndex maps entity ids to device ids. It only grows: an entity that
// disappears from the catalog keeps its entry and simply resolves to a
// device that is no longer there.
type LookupIndex struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewLookupIndex() *LookupIndex {
	return &LookupIndex{entries: map[string]string{}}
}

// Register binds entityID to deviceID. An existing binding is kept and
// Register reports false.
func (x *LookupIndex) Register(entityID, deviceID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.entries[entityID]; ok {
		return false
	}
	x.entries[entityID] = deviceID
	return true
}

func (x *LookupIndex) Resolve(entityID string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	deviceID, ok := x.entries[entityID]
	return deviceID, ok
}

func (x *LookupIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// EntityIDs returns registered entity ids in sorted order.
func (x *LookupIndex) EntityIDs() []string {
	x.mu.RLock()
	out := make([]string, 0, len(x.entries))
	for id := range x.entries {
		out = append(out, id)
	}
	x.mu.RUnlock()
	sort.Strings(out)
	return out
}
