package accesscontrol

import (
	"context"
	"fmt"

	"clinical-access-control/internal/ports/ledger"

	"github.com/google/uuid"
)

func loadGrant(ctx context.Context, tx ledger.Tx, resource, grantee string) (Grant, error) {
	var g Grant
	ok, err := getRecord(ctx, tx, grantKey(resource, grantee), &g)
	if err != nil {
		return Grant{}, err
	}
	if !ok {
		return Grant{}, ErrNotFound
	}
	return g, nil
}

// putGrant escribe el grant y lo agrega a ambos índices inversos.
func putGrant(ctx context.Context, tx ledger.Tx, g Grant) error {
	if err := putRecord(ctx, tx, grantKey(g.ResourceID, g.GranteeID), g); err != nil {
		return err
	}
	if err := addToSet(ctx, tx, partiesKey(g.ResourceID), g.GranteeID); err != nil {
		return err
	}
	return addToSet(ctx, tx, permissionsKey(g.GranteeID), g.ResourceID)
}

func deleteGrant(ctx context.Context, tx ledger.Tx, resource, grantee string) error {
	if err := removeRecord(ctx, tx, grantKey(resource, grantee)); err != nil {
		return err
	}
	if err := removeFromSet(ctx, tx, partiesKey(resource), grantee); err != nil {
		return err
	}
	return removeFromSet(ctx, tx, permissionsKey(grantee), resource)
}

// scanGrants recorre todos los grants guardados.
func scanGrants(ctx context.Context, tx ledger.Tx, fn func(g Grant) error) error {
	keys, err := tx.Scan(ctx, ledger.Prefix(nsGrant))
	if err != nil {
		return fmt.Errorf("scan grants: %w", err)
	}
	for _, k := range keys {
		var g Grant
		ok, err := getRecord(ctx, tx, k, &g)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := fn(g); err != nil {
			return err
		}
	}
	return nil
}

// GrantAccess crea o reemplaza el grant de (recurso, grantee).
// El caller tiene que ser el granter y ambas partes tienen que estar registradas.
func (c *Controller) GrantAccess(ctx context.Context, in GrantInput, now uint64) (Grant, error) {
	if err := cleanIDs(&in.GranterID, &in.GranteeID, &in.ResourceID); err != nil {
		return Grant{}, err
	}
	if in.GranterID == in.GranteeID {
		return Grant{}, ErrInvalidParameter
	}
	if in.ExpiresAt != 0 && in.ExpiresAt <= now {
		return Grant{}, ErrInvalidParameter
	}

	g := Grant{
		ID:         uuid.NewString(),
		ResourceID: in.ResourceID,
		GranteeID:  in.GranteeID,
		GranterID:  in.GranterID,
		ExpiresAt:  in.ExpiresAt,
		CreatedAt:  now,
	}

	fields := map[string]any{
		"granter_id":  g.GranterID,
		"grantee_id":  g.GranteeID,
		"resource_id": g.ResourceID,
		"expires_at":  g.ExpiresAt,
	}
	err := c.update(ctx, "grant_access", fields, func(tx ledger.Tx) error {
		if _, err := requireInitialized(ctx, tx); err != nil {
			return err
		}
		if err := c.requireCaller(ctx, g.GranterID); err != nil {
			return err
		}

		granter, err := loadEntity(ctx, tx, g.GranterID)
		if err != nil {
			return err
		}
		if !granter.Active {
			return ErrUnauthorized
		}
		if _, err := loadEntity(ctx, tx, g.GranteeID); err != nil {
			return err
		}
		return putGrant(ctx, tx, g)
	})
	if err != nil {
		return Grant{}, err
	}
	return g, nil
}

// RevokeAccess borra el grant y sus entradas en los índices.
// Solo el granter que figura en el grant puede revocarlo; si no existe, ErrNotFound.
func (c *Controller) RevokeAccess(ctx context.Context, granter, grantee, resource string) error {
	if err := cleanIDs(&granter, &grantee, &resource); err != nil {
		return err
	}

	fields := map[string]any{"granter_id": granter, "grantee_id": grantee, "resource_id": resource}
	return c.update(ctx, "revoke_access", fields, func(tx ledger.Tx) error {
		if _, err := requireInitialized(ctx, tx); err != nil {
			return err
		}
		if err := c.requireCaller(ctx, granter); err != nil {
			return err
		}

		g, err := loadGrant(ctx, tx, resource, grantee)
		if err != nil {
			return err
		}
		if g.GranterID != granter {
			return ErrUnauthorized
		}
		return deleteGrant(ctx, tx, resource, grantee)
	})
}

// CheckAccess no modifica nada: un grant vencido sigue guardado y devuelve false.
func (c *Controller) CheckAccess(ctx context.Context, grantee, resource string, now uint64) (bool, error) {
	if err := cleanIDs(&grantee, &resource); err != nil {
		return false, err
	}

	var allowed bool
	fields := map[string]any{"grantee_id": grantee, "resource_id": resource, "at": now}
	err := c.view(ctx, "check_access", fields, func(tx ledger.Tx) error {
		if _, err := requireInitialized(ctx, tx); err != nil {
			return err
		}
		g, err := loadGrant(ctx, tx, resource, grantee)
		if err == ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		allowed = g.ValidAt(now)
		return nil
	})
	if err != nil {
		return false, err
	}
	c.obs.ObserveCheck(allowed)
	return allowed, nil
}

// GetGrant devuelve el registro guardado, vencido o no.
func (c *Controller) GetGrant(ctx context.Context, grantee, resource string) (Grant, error) {
	if err := cleanIDs(&grantee, &resource); err != nil {
		return Grant{}, err
	}

	var g Grant
	fields := map[string]any{"grantee_id": grantee, "resource_id": resource}
	err := c.view(ctx, "get_grant", fields, func(tx ledger.Tx) error {
		if _, err := requireInitialized(ctx, tx); err != nil {
			return err
		}
		var err error
		g, err = loadGrant(ctx, tx, resource, grantee)
		return err
	})
	if err != nil {
		return Grant{}, err
	}
	return g, nil
}

// GetAuthorizedParties lista los grantees con grant guardado para el recurso,
// sin filtrar vencidos.
func (c *Controller) GetAuthorizedParties(ctx context.Context, resource string) ([]string, error) {
	return c.readSet(ctx, "get_authorized_parties", resource, partiesKey)
}

// GetEntityPermissions lista los recursos con grant guardado para el grantee,
// sin filtrar vencidos.
func (c *Controller) GetEntityPermissions(ctx context.Context, grantee string) ([]string, error) {
	return c.readSet(ctx, "get_entity_permissions", grantee, permissionsKey)
}

func (c *Controller) readSet(ctx context.Context, op, id string, key func(string) string) ([]string, error) {
	if err := cleanIDs(&id); err != nil {
		return nil, err
	}

	var out []string
	err := c.view(ctx, op, map[string]any{"id": id}, func(tx ledger.Tx) error {
		if _, err := requireInitialized(ctx, tx); err != nil {
			return err
		}
		var err error
		out, err = loadSet(ctx, tx, key(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RebuildIndexes reconstruye ambos índices inversos a partir de los grants.
func (c *Controller) RebuildIndexes(ctx context.Context, caller string) (RebuildResult, error) {
	if err := cleanIDs(&caller); err != nil {
		return RebuildResult{}, err
	}

	var res RebuildResult
	err := c.update(ctx, "rebuild_indexes", map[string]any{"caller_id": caller}, func(tx ledger.Tx) error {
		if err := c.requireAdmin(ctx, tx, caller); err != nil {
			return err
		}

		for _, ns := range []string{nsParties, nsPermissions} {
			keys, err := tx.Scan(ctx, ledger.Prefix(ns))
			if err != nil {
				return fmt.Errorf("scan %s: %w", ns, err)
			}
			for _, k := range keys {
				if err := removeRecord(ctx, tx, k); err != nil {
					return err
				}
			}
		}

		resources := map[string]struct{}{}
		grantees := map[string]struct{}{}
		err := scanGrants(ctx, tx, func(g Grant) error {
			res.Grants++
			resources[g.ResourceID] = struct{}{}
			grantees[g.GranteeID] = struct{}{}
			if err := addToSet(ctx, tx, partiesKey(g.ResourceID), g.GranteeID); err != nil {
				return err
			}
			return addToSet(ctx, tx, permissionsKey(g.GranteeID), g.ResourceID)
		})
		if err != nil {
			return err
		}
		res.Resources = len(resources)
		res.Grantees = len(grantees)
		return nil
	})
	if err != nil {
		return RebuildResult{}, err
	}
	return res, nil
}

// PurgeExpired borra los grants vencidos en now. Solo admin.
func (c *Controller) PurgeExpired(ctx context.Context, caller string, now uint64) (PurgeResult, error) {
	if err := cleanIDs(&caller); err != nil {
		return PurgeResult{}, err
	}

	var res PurgeResult
	err := c.update(ctx, "purge_expired", map[string]any{"caller_id": caller, "at": now}, func(tx ledger.Tx) error {
		if err := c.requireAdmin(ctx, tx, caller); err != nil {
			return err
		}
		var err error
		res, err = purgeExpired(ctx, tx, now)
		return err
	})
	if err != nil {
		return PurgeResult{}, err
	}
	return res, nil
}

// sweepExpired es la variante interna del Sweeper: sin caller, y sin error
// si todavía no hay admin.
func (c *Controller) sweepExpired(ctx context.Context, now uint64) (PurgeResult, error) {
	var res PurgeResult
	err := c.ledger.Update(ctx, func(tx ledger.Tx) error {
		if _, ok, err := loadAdmin(ctx, tx); err != nil || !ok {
			return err
		}
		var err error
		res, err = purgeExpired(ctx, tx, now)
		return err
	})
	// un barrido sin bajas no cambió nada: va a Debug
	c.record(ctx, "sweep_expired", map[string]any{"at": now, "removed": res.Removed}, err, res.Removed > 0)
	if err != nil {
		return PurgeResult{}, err
	}
	return res, nil
}

func purgeExpired(ctx context.Context, tx ledger.Tx, now uint64) (PurgeResult, error) {
	var (
		res     PurgeResult
		expired []Grant
	)
	err := scanGrants(ctx, tx, func(g Grant) error {
		res.Scanned++
		if !g.ValidAt(now) {
			expired = append(expired, g)
		}
		return nil
	})
	if err != nil {
		return PurgeResult{}, err
	}

	for _, g := range expired {
		if err := deleteGrant(ctx, tx, g.ResourceID, g.GranteeID); err != nil {
			return PurgeResult{}, err
		}
		res.Removed++
	}
	return res, nil
}
