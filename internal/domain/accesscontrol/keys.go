package accesscontrol

import (
	"context"
	"fmt"
	"sort"

	"clinical-access-control/internal/platform/codec"
	"clinical-access-control/internal/ports/ledger"
)

// Layout del ledger:
//
//	admin                          -> string (CBOR)
//	entity/<id>                    -> Entity
//	grant/<resource>/<grantee>     -> Grant
//	parties/<resource>             -> []string grantees (ordenado)
//	permissions/<grantee>          -> []string recursos (ordenado)
const (
	nsAdmin       = "admin"
	nsEntity      = "entity"
	nsGrant       = "grant"
	nsParties     = "parties"
	nsPermissions = "permissions"
)

func adminKey() string                         { return ledger.Key(nsAdmin) }
func entityKey(id string) string               { return ledger.Key(nsEntity, id) }
func grantKey(resource, grantee string) string { return ledger.Key(nsGrant, resource, grantee) }
func partiesKey(resource string) string        { return ledger.Key(nsParties, resource) }
func permissionsKey(grantee string) string     { return ledger.Key(nsPermissions, grantee) }

func getRecord(ctx context.Context, tx ledger.Tx, key string, v any) (bool, error) {
	raw, ok, err := tx.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := codec.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func putRecord(ctx context.Context, tx ledger.Tx, key string, v any) error {
	raw, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := tx.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func removeRecord(ctx context.Context, tx ledger.Tx, key string) error {
	if err := tx.Remove(ctx, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// loadSet nunca devuelve nil, así las respuestas serializan [] y no null.
func loadSet(ctx context.Context, tx ledger.Tx, key string) ([]string, error) {
	var members []string
	if _, err := getRecord(ctx, tx, key, &members); err != nil {
		return nil, err
	}
	if members == nil {
		members = []string{}
	}
	return members, nil
}

func addToSet(ctx context.Context, tx ledger.Tx, key, member string) error {
	members, err := loadSet(ctx, tx, key)
	if err != nil {
		return err
	}
	i := sort.SearchStrings(members, member)
	if i < len(members) && members[i] == member {
		return nil
	}
	members = append(members, "")
	copy(members[i+1:], members[i:])
	members[i] = member
	return putRecord(ctx, tx, key, members)
}

// removeFromSet borra la clave cuando el set queda vacío.
func removeFromSet(ctx context.Context, tx ledger.Tx, key, member string) error {
	members, err := loadSet(ctx, tx, key)
	if err != nil {
		return err
	}
	i := sort.SearchStrings(members, member)
	if i >= len(members) || members[i] != member {
		return nil
	}
	members = append(members[:i], members[i+1:]...)
	if len(members) == 0 {
		return removeRecord(ctx, tx, key)
	}
	return putRecord(ctx, tx, key, members)
}
