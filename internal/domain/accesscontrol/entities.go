package accesscontrol

import (
	"context"
	"strings"

	"clinical-access-control/internal/ports/ledger"
)

func loadEntity(ctx context.Context, tx ledger.Tx, id string) (Entity, error) {
	var e Entity
	ok, err := getRecord(ctx, tx, entityKey(id), &e)
	if err != nil {
		return Entity{}, err
	}
	if !ok {
		return Entity{}, ErrNotFound
	}
	return e, nil
}

// RegisterEntity es auto-registro: el caller tiene que ser in.ID.
// Un ID registrado no se puede volver a registrar nunca.
func (c *Controller) RegisterEntity(ctx context.Context, in RegisterInput, now uint64) (Entity, error) {
	if err := cleanIDs(&in.ID); err != nil {
		return Entity{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Entity{}, ErrInvalidParameter
	}
	typ, err := ParseEntityType(string(in.Type))
	if err != nil {
		return Entity{}, err
	}

	e := Entity{
		ID:           in.ID,
		Type:         typ,
		Name:         name,
		Metadata:     in.Metadata,
		Active:       true,
		RegisteredAt: now,
	}

	fields := map[string]any{"entity_id": e.ID, "entity_type": string(typ)}
	err = c.update(ctx, "register_entity", fields, func(tx ledger.Tx) error {
		if _, err := requireInitialized(ctx, tx); err != nil {
			return err
		}
		if err := c.requireCaller(ctx, e.ID); err != nil {
			return err
		}

		if _, err := loadEntity(ctx, tx, e.ID); err == nil {
			return ErrAlreadyRegistered
		} else if err != ErrNotFound {
			return err
		}
		return putRecord(ctx, tx, entityKey(e.ID), e)
	})
	if err != nil {
		return Entity{}, err
	}
	return e, nil
}

func (c *Controller) GetEntity(ctx context.Context, id string) (Entity, error) {
	if err := cleanIDs(&id); err != nil {
		return Entity{}, err
	}

	var e Entity
	err := c.view(ctx, "get_entity", map[string]any{"entity_id": id}, func(tx ledger.Tx) error {
		if _, err := requireInitialized(ctx, tx); err != nil {
			return err
		}
		var err error
		e, err = loadEntity(ctx, tx, id)
		return err
	})
	if err != nil {
		return Entity{}, err
	}
	return e, nil
}

// UpdateEntity solo cambia metadata. No hay bypass de admin.
func (c *Controller) UpdateEntity(ctx context.Context, id, metadata string) (Entity, error) {
	if err := cleanIDs(&id); err != nil {
		return Entity{}, err
	}

	var e Entity
	err := c.update(ctx, "update_entity", map[string]any{"entity_id": id}, func(tx ledger.Tx) error {
		if _, err := requireInitialized(ctx, tx); err != nil {
			return err
		}
		if err := c.requireCaller(ctx, id); err != nil {
			return err
		}

		var err error
		e, err = loadEntity(ctx, tx, id)
		if err != nil {
			return err
		}
		e.Metadata = metadata
		return putRecord(ctx, tx, entityKey(id), e)
	})
	if err != nil {
		return Entity{}, err
	}
	return e, nil
}

// DeactivateEntity es solo para el admin y no tiene vuelta atrás.
// Los grants existentes de la entidad no se tocan.
func (c *Controller) DeactivateEntity(ctx context.Context, caller, target string) (Entity, error) {
	if err := cleanIDs(&caller, &target); err != nil {
		return Entity{}, err
	}

	var e Entity
	fields := map[string]any{"caller_id": caller, "entity_id": target}
	err := c.update(ctx, "deactivate_entity", fields, func(tx ledger.Tx) error {
		if err := c.requireAdmin(ctx, tx, caller); err != nil {
			return err
		}

		var err error
		e, err = loadEntity(ctx, tx, target)
		if err != nil {
			return err
		}
		// Idempotente
		if !e.Active {
			return nil
		}
		e.Active = false
		return putRecord(ctx, tx, entityKey(target), e)
	})
	if err != nil {
		return Entity{}, err
	}
	return e, nil
}
