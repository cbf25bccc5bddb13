package vectorstore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Gateway unifies the authoritative Qdrant store with the local SQLite
// shadow copy behind the single Store interface. A failure writing to the
// authoritative store is returned to the caller; a failure writing to the
// shadow store is only logged, since losing the local mirror never loses
// data the authoritative store still holds.
type Gateway struct {
	authoritative Store
	shadow        Store
}

// NewGateway wires an authoritative store to its shadow mirror. shadow may
// be nil, in which case the gateway behaves as a thin passthrough.
func NewGateway(authoritative, shadow Store) *Gateway {
	return &Gateway{authoritative: authoritative, shadow: shadow}
}

// BootstrapAll bootstraps every fixed collection on both stores. Called
// once at process startup.
func (g *Gateway) BootstrapAll(ctx context.Context) error {
	for _, collection := range AllCollections {
		if err := g.authoritative.Bootstrap(ctx, collection); err != nil {
			return fmt.Errorf("vectorstore: bootstrap %s on authoritative store: %w", collection, err)
		}
		if g.shadow != nil {
			if err := g.shadow.Bootstrap(ctx, collection); err != nil {
				log.Warn().Err(err).Str("collection", string(collection)).Msg("vectorstore_shadow_bootstrap_failed")
			}
		}
	}
	return nil
}

func (g *Gateway) Bootstrap(ctx context.Context, collection Collection) error {
	if err := g.authoritative.Bootstrap(ctx, collection); err != nil {
		return fmt.Errorf("vectorstore: bootstrap %s: %w", collection, err)
	}
	g.shadowWrite(ctx, collection, func() error { return g.shadow.Bootstrap(ctx, collection) })
	return nil
}

func (g *Gateway) Upsert(ctx context.Context, collection Collection, points []Point) error {
	if err := g.authoritative.Upsert(ctx, collection, points); err != nil {
		return fmt.Errorf("vectorstore: upsert %s: %w", collection, err)
	}
	g.shadowWrite(ctx, collection, func() error { return g.shadow.Upsert(ctx, collection, points) })
	return nil
}

func (g *Gateway) Delete(ctx context.Context, collection Collection, ids []string) error {
	if err := g.authoritative.Delete(ctx, collection, ids); err != nil {
		return fmt.Errorf("vectorstore: delete from %s: %w", collection, err)
	}
	g.shadowWrite(ctx, collection, func() error { return g.shadow.Delete(ctx, collection, ids) })
	return nil
}

func (g *Gateway) DeleteByFilter(ctx context.Context, collection Collection, filter Filter) error {
	if err := g.authoritative.DeleteByFilter(ctx, collection, filter); err != nil {
		return fmt.Errorf("vectorstore: delete by filter from %s: %w", collection, err)
	}
	g.shadowWrite(ctx, collection, func() error { return g.shadow.DeleteByFilter(ctx, collection, filter) })
	return nil
}

// Search always reads from the authoritative store. The shadow store
// exists for resilience, not for read load-shedding.
func (g *Gateway) Search(ctx context.Context, collection Collection, vector []float32, limit int, filter Filter) ([]SearchHit, error) {
	return g.authoritative.Search(ctx, collection, vector, limit, filter)
}

func (g *Gateway) Scroll(ctx context.Context, collection Collection, filter Filter, limit int, cursor string) ([]Point, string, error) {
	return g.authoritative.Scroll(ctx, collection, filter, limit, cursor)
}

func (g *Gateway) Count(ctx context.Context, collection Collection, filter Filter) (int64, error) {
	return g.authoritative.Count(ctx, collection, filter)
}

// Authoritative exposes the authoritative backend directly, for read paths
// (e.g. the dual-store search endpoint) that need to report authoritative
// and shadow hits separately rather than through the unified Store
// interface.
func (g *Gateway) Authoritative() Store { return g.authoritative }

// Shadow exposes the shadow backend directly, or nil if none is wired.
func (g *Gateway) Shadow() Store { return g.shadow }

func (g *Gateway) Close() error {
	if g.shadow != nil {
		if err := g.shadow.Close(); err != nil {
			log.Warn().Err(err).Msg("vectorstore_shadow_close_failed")
		}
	}
	return g.authoritative.Close()
}

func (g *Gateway) shadowWrite(ctx context.Context, collection Collection, write func() error) {
	if g.shadow == nil {
		return
	}
	if err := write(); err != nil {
		log.Warn().Err(err).Str("collection", string(collection)).Msg("vectorstore_shadow_write_failed")
	}
}
