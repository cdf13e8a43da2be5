package upsert

import (
	"context"
	"errors"
	"fmt"

	"github.com/patrickmn/go-cache"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
)

// ResolveEntity finds the entity with sighting's natural key, creating it
// on first sighting. Empty fields of a stored entity are filled from the
// sighting; populated fields are never overwritten. Only one writer per key
// runs at a time, and a creation conflict re-reads the winner.
func (e *Engine) ResolveEntity(ctx context.Context, sighting filing.Entity) (filing.Entity, error) {
	if sighting.Key.IsZero() {
		return filing.Entity{}, fmt.Errorf("%w: entity without name", internalerr.ErrInvalidInput)
	}
	key := sighting.Key.String()

	if v, ok := e.entities.Get(key); ok {
		cached := v.(filing.Entity)
		if !cached.Merge(sighting) {
			return cached, nil
		}
	}

	unlock, err := e.locker.Lock(ctx, "entity:"+key)
	if err != nil {
		return filing.Entity{}, fmt.Errorf("lock entity %s: %w", key, err)
	}
	defer unlock()

	stored, found, err := e.store.FindEntity(ctx, sighting.Key)
	if err != nil {
		return filing.Entity{}, err
	}
	if !found {
		created, err := e.store.CreateEntity(ctx, sighting)
		if err == nil {
			e.logger.Debug("entity created", "entity", key, "entity_id", created.ID)
			e.entities.Set(key, created, cache.DefaultExpiration)
			return created, nil
		}
		if !errors.Is(err, internalerr.ErrDuplicate) {
			return filing.Entity{}, err
		}
		// Another worker won the race.
		stored, found, err = e.store.FindEntity(ctx, sighting.Key)
		if err != nil {
			return filing.Entity{}, err
		}
		if !found {
			return filing.Entity{}, fmt.Errorf("entity %s: conflict but not found: %w", key, internalerr.ErrNotFound)
		}
	}

	if stored.Merge(sighting) {
		if err := e.store.UpdateEntity(ctx, stored); err != nil {
			return filing.Entity{}, err
		}
	}
	e.entities.Set(key, stored, cache.DefaultExpiration)
	return stored, nil
}
