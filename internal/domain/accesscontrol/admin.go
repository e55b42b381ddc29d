package accesscontrol

import (
	"context"

	"clinical-access-control/internal/ports/ledger"
)

func loadAdmin(ctx context.Context, tx ledger.Tx) (string, bool, error) {
	var admin string
	ok, err := getRecord(ctx, tx, adminKey(), &admin)
	if err != nil || !ok {
		return "", false, err
	}
	return admin, true, nil
}

// requireInitialized: sin admin el sistema no acepta ninguna operación.
func requireInitialized(ctx context.Context, tx ledger.Tx) (string, error) {
	admin, ok, err := loadAdmin(ctx, tx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotInitialized
	}
	return admin, nil
}

// requireAdmin exige que caller sea el admin guardado y que la primitiva
// externa confirme la llamada.
func (c *Controller) requireAdmin(ctx context.Context, tx ledger.Tx, caller string) error {
	admin, err := requireInitialized(ctx, tx)
	if err != nil {
		return err
	}
	if caller != admin {
		return ErrUnauthorized
	}
	return c.requireCaller(ctx, caller)
}

// Initialize fija el admin una única vez.
func (c *Controller) Initialize(ctx context.Context, admin string) error {
	if err := cleanIDs(&admin); err != nil {
		return err
	}

	return c.update(ctx, "initialize", map[string]any{"admin_id": admin}, func(tx ledger.Tx) error {
		if _, ok, err := loadAdmin(ctx, tx); err != nil {
			return err
		} else if ok {
			return ErrAlreadyInitialized
		}
		if err := c.requireCaller(ctx, admin); err != nil {
			return err
		}
		return putRecord(ctx, tx, adminKey(), admin)
	})
}

// Admin devuelve la identidad del admin.
func (c *Controller) Admin(ctx context.Context) (string, error) {
	var admin string
	err := c.view(ctx, "get_admin", nil, func(tx ledger.Tx) error {
		var err error
		admin, err = requireInitialized(ctx, tx)
		return err
	})
	return admin, err
}
