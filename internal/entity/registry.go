package entity

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/micro-ha/hive-bridge/internal/catalog"
	"github.com/micro-ha/hive-bridge/internal/command"
	"github.com/micro-ha/hive-bridge/internal/model"
)

// CatalogSource yields the current snapshot.
type CatalogSource interface {
	Catalog() *catalog.Catalog
}

type registered struct {
	entityID   string
	uniqueID   string
	deviceID   string
	domain     string
	name       string
	capability model.Capability
}

// Registry assigns entity ids to catalog records and keeps them for the
// lifetime of the process. Entities are only ever added.
type Registry struct {
	source CatalogSource
	index  *command.LookupIndex

	mu       sync.RWMutex
	entities []registered
	byUnique map[string]int
	byEntity map[string]int
}

func NewRegistry(source CatalogSource, index *command.LookupIndex) *Registry {
	return &Registry{
		source:   source,
		index:    index,
		byUnique: map[string]int{},
		byEntity: map[string]int{},
	}
}

// Sync registers every record of cat that has no entity yet and returns
// the number of new entities.
func (r *Registry) Sync(cat *catalog.Catalog) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, rec := range cat.Records() {
		domain, ok := Domain(rec.Capability)
		if !ok {
			continue
		}
		uniqueID := rec.UniqueID()
		if _, ok := r.byUnique[uniqueID]; ok {
			continue
		}
		name := displayName(rec)
		entityID := r.freeEntityID(domain, name, rec.ID)
		r.entities = append(r.entities, registered{
			entityID:   entityID,
			uniqueID:   uniqueID,
			deviceID:   rec.ID,
			domain:     domain,
			name:       name,
			capability: rec.Capability,
		})
		r.byUnique[uniqueID] = len(r.entities) - 1
		r.byEntity[entityID] = len(r.entities) - 1
		r.index.Register(entityID, rec.ID)
		added++
	}
	return added
}

// Views returns every registered entity in registration order, re-read from
// the current catalog. Entities whose device has left the catalog are
// reported unavailable.
func (r *Registry) Views() []View {
	cat := r.source.Catalog()
	r.mu.RLock()
	entities := append([]registered(nil), r.entities...)
	r.mu.RUnlock()

	out := make([]View, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.view(cat))
	}
	return out
}

// View returns one entity.
func (r *Registry) View(entityID string) (View, error) {
	r.mu.RLock()
	idx, ok := r.byEntity[entityID]
	var e registered
	if ok {
		e = r.entities[idx]
	}
	r.mu.RUnlock()
	if !ok {
		return View{}, fmt.Errorf("%w: %s", model.ErrUnknownEntity, entityID)
	}
	return e.view(r.source.Catalog()), nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

func (e registered) view(cat *catalog.Catalog) View {
	rec, err := cat.ByID(e.deviceID)
	if err != nil || rec.UniqueID() != e.uniqueID {
		return View{
			EntityID: e.entityID,
			UniqueID: e.uniqueID,
			DeviceID: e.deviceID,
			Domain:   e.domain,
			Name:     e.name,
			State:    StateUnavailable,
		}
	}
	return Adapt(e.entityID, rec)
}

func (r *Registry) freeEntityID(domain, name, deviceID string) string {
	slug := Slugify(name)
	if slug == "" {
		slug = Slugify(deviceID)
	}
	base := domain + "." + slug
	candidate := base
	for n := 2; ; n++ {
		if _, taken := r.byEntity[candidate]; !taken {
			if _, bound := r.index.Resolve(candidate); !bound {
				return candidate
			}
		}
		candidate = fmt.Sprintf("%s_%d", base, n)
	}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and joins its alphanumeric runs with underscores.
func Slugify(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "_"), "_")
}
