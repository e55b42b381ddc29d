package accesscontrol

import (
	"context"
	"strings"

	"clinical-access-control/internal/platform/logger"
	"clinical-access-control/internal/ports/auth"
	"clinical-access-control/internal/ports/ledger"
)

// Observer recibe el resultado de cada operación (lo implementa metrics.Metrics).
type Observer interface {
	ObserveOperation(op, outcome string)
	ObserveCheck(allowed bool)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, string) {}
func (nopObserver) ObserveCheck(bool)               {}

// Controller es la única entrada al motor de acceso. Cada método corre en
// una sola transacción del ledger: si devuelve error, no queda nada escrito.
type Controller struct {
	ledger ledger.Ledger
	authz  auth.Authorizer
	log    logger.Logger
	obs    Observer
}

type Option func(*Controller)

func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.obs = o
		}
	}
}

func NewController(l ledger.Ledger, authz auth.Authorizer, opts ...Option) *Controller {
	c := &Controller{
		ledger: l,
		authz:  authz,
		log:    logger.Nop(),
		obs:    nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) update(ctx context.Context, op string, fields map[string]any, fn func(tx ledger.Tx) error) error {
	err := c.ledger.Update(ctx, fn)
	c.record(ctx, op, fields, err, true)
	return err
}

func (c *Controller) view(ctx context.Context, op string, fields map[string]any, fn func(tx ledger.Tx) error) error {
	err := c.ledger.View(ctx, fn)
	c.record(ctx, op, fields, err, false)
	return err
}

func (c *Controller) record(ctx context.Context, op string, fields map[string]any, err error, mutation bool) {
	out := outcome(err)
	c.obs.ObserveOperation(op, out)

	log := logger.FromContext(ctx, c.log).With(fields)
	switch out {
	case "ok":
		if mutation {
			log.Info(op, nil)
		} else {
			log.Debug(op, nil)
		}
	case "error":
		log.Error(op+" failed", map[string]any{"error": err.Error()})
	default:
		log.Warn(op+" rejected", map[string]any{"error": err.Error(), "outcome": out})
	}
}

// requireCaller consulta la primitiva de autorización externa.
func (c *Controller) requireCaller(ctx context.Context, identity string) error {
	if c.authz == nil || !c.authz.IsAuthorized(ctx, identity) {
		return ErrUnauthorized
	}
	return nil
}

func cleanIDs(ids ...*string) error {
	for _, id := range ids {
		*id = strings.TrimSpace(*id)
		if *id == "" {
			return ErrInvalidParameter
		}
	}
	return nil
}
