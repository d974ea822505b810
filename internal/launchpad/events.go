package launchpad

import (
	"context"
	"time"

	"github.com/leafsii/launchpad/internal/domain"
)

// Event announces a recorded state change. Exactly one of Asset and Pool is set.
type Event struct {
	Op    string                `json:"op"`
	Asset *domain.Asset         `json:"asset,omitempty"`
	Pool  *domain.LiquidityPool `json:"pool,omitempty"`
	At    time.Time             `json:"at"`
}

// Topic is "asset:<address>" or "pool:<id>".
func (e Event) Topic() string {
	switch {
	case e.Asset != nil:
		return "asset:" + e.Asset.Address
	case e.Pool != nil:
		return "pool:" + e.Pool.ID
	default:
		return ""
	}
}

// Publisher receives events after the registry write. Publish must not block.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}

// WithPublisher sets where recorded state changes are announced.
func WithPublisher(p Publisher) Option {
	return func(o *options) { o.events = p }
}

func (o *options) publishAsset(ctx context.Context, op string, a *domain.Asset) {
	o.events.Publish(ctx, Event{Op: op, Asset: a, At: o.now()})
}

func (o *options) publishPool(ctx context.Context, op string, p *domain.LiquidityPool) {
	o.events.Publish(ctx, Event{Op: op, Pool: p, At: o.now()})
}
