package accesscontrol

import "strings"

type EntityType string

const (
	EntityHospital   EntityType = "hospital"
	EntityDoctor     EntityType = "doctor"
	EntityPatient    EntityType = "patient"
	EntityDevice     EntityType = "device"
	EntityLaboratory EntityType = "laboratory"
	EntityPharmacy   EntityType = "pharmacy"
	EntityInsurer    EntityType = "insurer"
)

var entityTypes = map[EntityType]struct{}{
	EntityHospital:   {},
	EntityDoctor:     {},
	EntityPatient:    {},
	EntityDevice:     {},
	EntityLaboratory: {},
	EntityPharmacy:   {},
	EntityInsurer:    {},
}

func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := entityTypes[t]; !ok {
		return "", ErrInvalidParameter
	}
	return t, nil
}

// Entity es un participante registrado. Type y Name quedan fijos al registrar;
// solo Metadata y Active cambian después.
type Entity struct {
	ID           string     `cbor:"id"`
	Type         EntityType `cbor:"type"`
	Name         string     `cbor:"name"`
	Metadata     string     `cbor:"metadata"`
	Active       bool       `cbor:"active"`
	RegisteredAt uint64     `cbor:"registered_at"`
}

// Grant autoriza a GranteeID sobre ResourceID. Hay a lo sumo uno por par
// (recurso, grantee); ExpiresAt == 0 significa que no vence.
type Grant struct {
	ID         string `cbor:"id"`
	ResourceID string `cbor:"resource_id"`
	GranteeID  string `cbor:"grantee_id"`
	GranterID  string `cbor:"granter_id"`
	ExpiresAt  uint64 `cbor:"expires_at"`
	CreatedAt  uint64 `cbor:"created_at"`
}

// ValidAt: el vencimiento es exclusivo, en now == ExpiresAt ya no vale.
func (g Grant) ValidAt(now uint64) bool {
	return g.ExpiresAt == 0 || now < g.ExpiresAt
}

type RegisterInput struct {
	ID       string
	Type     EntityType
	Name     string
	Metadata string
}

type GrantInput struct {
	GranterID  string
	GranteeID  string
	ResourceID string
	ExpiresAt  uint64
}

type RebuildResult struct {
	Grants    int
	Resources int
	Grantees  int
}

type PurgeResult struct {
	Scanned int
	Removed int
}
