package accesscontrol

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"clinical-access-control/internal/adapters/storage/memory"
	"clinical-access-control/internal/platform/clock"
	"clinical-access-control/internal/platform/logger"
	"clinical-access-control/internal/ports/ledger"
)

// -------------------------
// Fakes
// -------------------------

// fakeAuthz autoriza todo salvo que se restrinja con only().
type fakeAuthz struct {
	ids map[string]bool
}

func (f *fakeAuthz) IsAuthorized(_ context.Context, identity string) bool {
	if f.ids == nil {
		return true
	}
	return f.ids[identity]
}

func (f *fakeAuthz) only(ids ...string) {
	f.ids = map[string]bool{}
	for _, id := range ids {
		f.ids[id] = true
	}
}

func (f *fakeAuthz) all() { f.ids = nil }

type fakeObserver struct {
	ops    map[string]int
	checks map[bool]int
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{ops: map[string]int{}, checks: map[bool]int{}}
}

func (o *fakeObserver) ObserveOperation(op, outcome string) { o.ops[op+":"+outcome]++ }
func (o *fakeObserver) ObserveCheck(allowed bool)           { o.checks[allowed]++ }

const (
	admin    = "admin-1"
	hospital = "hospital-1"
	doctor   = "doctor-1"
	patient  = "patient-1"
)

type fixture struct {
	ctrl   *Controller
	ledger *memory.Ledger
	authz  *fakeAuthz
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := memory.NewLedger()
	a := &fakeAuthz{}
	return &fixture{ctrl: NewController(l, a), ledger: l, authz: a}
}

// seeded: admin inicializado + hospital, doctor y patient registrados.
func seeded(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	ctx := context.Background()

	if err := f.ctrl.Initialize(ctx, admin); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	for _, in := range []RegisterInput{
		{ID: hospital, Type: EntityHospital, Name: "City Hospital", Metadata: "General Hospital"},
		{ID: doctor, Type: EntityDoctor, Name: "Dr. Smith", Metadata: "cardiology"},
		{ID: patient, Type: EntityPatient, Name: "Jane Doe"},
	} {
		if _, err := f.ctrl.RegisterEntity(ctx, in, 1); err != nil {
			t.Fatalf("RegisterEntity(%s): %v", in.ID, err)
		}
	}
	return f
}

func mustCheck(t *testing.T, c *Controller, grantee, resource string, now uint64) bool {
	t.Helper()
	ok, err := c.CheckAccess(context.Background(), grantee, resource, now)
	if err != nil {
		t.Fatalf("CheckAccess(%s,%s,%d): %v", grantee, resource, now, err)
	}
	return ok
}

func mustParties(t *testing.T, c *Controller, resource string) []string {
	t.Helper()
	out, err := c.GetAuthorizedParties(context.Background(), resource)
	if err != nil {
		t.Fatalf("GetAuthorizedParties: %v", err)
	}
	return out
}

func mustPermissions(t *testing.T, c *Controller, grantee string) []string {
	t.Helper()
	out, err := c.GetEntityPermissions(context.Background(), grantee)
	if err != nil {
		t.Fatalf("GetEntityPermissions: %v", err)
	}
	return out
}

// -------------------------
// Admin
// -------------------------

func TestInitialize_OnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.ctrl.Initialize(ctx, admin); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := f.ctrl.Initialize(ctx, "other-admin"); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}

	got, err := f.ctrl.Admin(ctx)
	if err != nil || got != admin {
		t.Fatalf("expected admin %q, got %q err=%v", admin, got, err)
	}
}

func TestInitialize_RequiresAuthorizedAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.authz.only("someone-else")
	if err := f.ctrl.Initialize(ctx, admin); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.ctrl.Initialize(ctx, "  "); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
	if f.ledger.Len() != 0 {
		t.Fatalf("rejected initialize must not write, got %d keys", f.ledger.Len())
	}
}

func TestOperations_FailBeforeInitialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ctrl.RegisterEntity(ctx, RegisterInput{ID: hospital, Type: EntityHospital, Name: "H"}, 1)
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("RegisterEntity: expected ErrNotInitialized, got %v", err)
	}
	if _, err := f.ctrl.GetEntity(ctx, hospital); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("GetEntity: expected ErrNotInitialized, got %v", err)
	}
	if _, err := f.ctrl.CheckAccess(ctx, doctor, "rec", 1); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("CheckAccess: expected ErrNotInitialized, got %v", err)
	}
	if _, err := f.ctrl.GetAuthorizedParties(ctx, "rec"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("GetAuthorizedParties: expected ErrNotInitialized, got %v", err)
	}
	if _, err := f.ctrl.Admin(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Admin: expected ErrNotInitialized, got %v", err)
	}
}

// -------------------------
// Entities
// -------------------------

func TestRegisterEntity_TwiceFails(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()

	_, err := f.ctrl.RegisterEntity(ctx, RegisterInput{ID: hospital, Type: EntityHospital, Name: "Again"}, 5)
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	e, err := f.ctrl.GetEntity(ctx, hospital)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	want := Entity{ID: hospital, Type: EntityHospital, Name: "City Hospital", Metadata: "General Hospital", Active: true, RegisteredAt: 1}
	if e != want {
		t.Fatalf("expected %+v, got %+v", want, e)
	}
}

func TestRegisterEntity_RequiresSelf(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()

	f.authz.only(hospital)
	_, err := f.ctrl.RegisterEntity(ctx, RegisterInput{ID: "device-1", Type: EntityDevice, Name: "Monitor"}, 2)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.ctrl.GetEntity(ctx, "device-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterEntity_InvalidInput(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()

	cases := []RegisterInput{
		{ID: "", Type: EntityDoctor, Name: "x"},
		{ID: "x", Type: "surgeon", Name: "x"},
		{ID: "x", Type: EntityDoctor, Name: "  "},
	}
	for _, in := range cases {
		if _, err := f.ctrl.RegisterEntity(ctx, in, 2); !errors.Is(err, ErrInvalidParameter) {
			t.Fatalf("%+v: expected ErrInvalidParameter, got %v", in, err)
		}
	}

	if typ, err := ParseEntityType(" Pharmacy "); err != nil || typ != EntityPharmacy {
		t.Fatalf("expected pharmacy, got %q err=%v", typ, err)
	}
}

func TestUpdateEntity_MetadataOnly(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()

	e, err := f.ctrl.UpdateEntity(ctx, doctor, "neurology")
	if err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}
	if e.Metadata != "neurology" || e.Name != "Dr. Smith" || e.Type != EntityDoctor || !e.Active {
		t.Fatalf("unexpected entity after update: %+v", e)
	}

	f.authz.only(hospital)
	if _, err := f.ctrl.UpdateEntity(ctx, doctor, "hijack"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	f.authz.all()
	if _, err := f.ctrl.UpdateEntity(ctx, "ghost", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, _ := f.ctrl.GetEntity(ctx, doctor)
	if got.Metadata != "neurology" {
		t.Fatalf("unauthorized update must not persist, got %q", got.Metadata)
	}
}

func TestDeactivateEntity_AdminOnly(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()

	if _, err := f.ctrl.DeactivateEntity(ctx, hospital, doctor); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if e, _ := f.ctrl.GetEntity(ctx, doctor); !e.Active {
		t.Fatalf("failed deactivate must leave entity active")
	}

	// admin correcto pero sin autorización externa
	f.authz.only(hospital)
	if _, err := f.ctrl.DeactivateEntity(ctx, admin, doctor); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without external auth, got %v", err)
	}
	f.authz.all()

	e, err := f.ctrl.DeactivateEntity(ctx, admin, doctor)
	if err != nil {
		t.Fatalf("DeactivateEntity: %v", err)
	}
	if e.Active {
		t.Fatalf("expected inactive entity")
	}

	// Idempotente
	if _, err := f.ctrl.DeactivateEntity(ctx, admin, doctor); err != nil {
		t.Fatalf("second deactivate: %v", err)
	}
	if _, err := f.ctrl.DeactivateEntity(ctx, admin, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeactivateEntity_DoesNotCascadeToGrants(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()

	if _, err := f.ctrl.GrantAccess(ctx, GrantInput{GranterID: hospital, GranteeID: doctor, ResourceID: "rec"}, 10); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}
	if _, err := f.ctrl.DeactivateEntity(ctx, admin, hospital); err != nil {
		t.Fatalf("DeactivateEntity: %v", err)
	}
	if !mustCheck(t, f.ctrl, doctor, "rec", 20) {
		t.Fatalf("existing grant must survive granter deactivation")
	}

	// pero una entidad inactiva ya no otorga nuevos grants
	_, err := f.ctrl.GrantAccess(ctx, GrantInput{GranterID: hospital, GranteeID: patient, ResourceID: "rec"}, 30)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for inactive granter, got %v", err)
	}
}

// -------------------------
// Grants
// -------------------------

func TestScenario_GrantCheckRevoke(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()

	if _, err := f.ctrl.GrantAccess(ctx, GrantInput{GranterID: hospital, GranteeID: doctor, ResourceID: "patient-123"}, 10); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}
	if !mustCheck(t, f.ctrl, doctor, "patient-123", 11) {
		t.Fatalf("expected access after grant")
	}
	if got := mustParties(t, f.ctrl, "patient-123"); !reflect.DeepEqual(got, []string{doctor}) {
		t.Fatalf("unexpected parties %v", got)
	}
	if got := mustPermissions(t, f.ctrl, doctor); !reflect.DeepEqual(got, []string{"patient-123"}) {
		t.Fatalf("unexpected permissions %v", got)
	}

	if err := f.ctrl.RevokeAccess(ctx, hospital, doctor, "patient-123"); err != nil {
		t.Fatalf("RevokeAccess: %v", err)
	}
	if mustCheck(t, f.ctrl, doctor, "patient-123", 12) {
		t.Fatalf("expected no access after revoke")
	}
	if got := mustParties(t, f.ctrl, "patient-123"); len(got) != 0 {
		t.Fatalf("expected no parties after revoke, got %v", got)
	}
	if got := mustPermissions(t, f.ctrl, doctor); len(got) != 0 {
		t.Fatalf("expected no permissions after revoke, got %v", got)
	}
	if _, err := f.ctrl.GetGrant(ctx, doctor, "patient-123"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected grant to be gone, got %v", err)
	}
}

func TestScenario_ExpirationBoundary(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()

	if _, err := f.ctrl.GrantAccess(ctx, GrantInput{GranterID: hospital, GranteeID: doctor, ResourceID: "rec", ExpiresAt: 100}, 0); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}

	cases := []struct {
		at   uint64
		want bool
	}{
		{0, true},
		{50, true},
		{99, true},
		{100, false},
		{200, false},
	}
	for _, tc := range cases {
		if got := mustCheck(t, f.ctrl, doctor, "rec", tc.at); got != tc.want {
			t.Fatalf("at %d: expected %v, got %v", tc.at, tc.want, got)
		}
	}

	// vencido pero no purgado: sigue en los índices y en storage
	if got := mustParties(t, f.ctrl, "rec"); !reflect.DeepEqual(got, []string{doctor}) {
		t.Fatalf("expired grant must remain indexed, got %v", got)
	}
	if _, err := f.ctrl.GetGrant(ctx, doctor, "rec"); err != nil {
		t.Fatalf("expired grant must remain stored: %v", err)
	}
}

func TestGrantAccess_NonExpiring(t *testing.T) {
	f := seeded(t)

	if _, err := f.ctrl.GrantAccess(context.Background(), GrantInput{GranterID: hospital, GranteeID: doctor, ResourceID: "rec"}, 10); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}
	if !mustCheck(t, f.ctrl, doctor, "rec", ^uint64(0)) {
		t.Fatalf("non-expiring grant must always be valid")
	}
	if mustCheck(t, f.ctrl, patient, "rec", 10) {
		t.Fatalf("other grantee must not have access")
	}
}

func TestGrantAccess_OverwriteKeepsSingleEntry(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()

	first, err := f.ctrl.GrantAccess(ctx, GrantInput{GranterID: hospital, GranteeID: doctor, ResourceID: "rec", ExpiresAt: 500}, 10)
	if err != nil {
		t.Fatalf("first grant: %v", err)
	}
	second, err := f.ctrl.GrantAccess(ctx, GrantInput{GranterID: hospital, GranteeID: doctor, ResourceID: "rec", ExpiresAt: 50}, 20)
	if err != nil {
		t.Fatalf("second grant: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("overwrite must issue a new grant id")
	}

	if got := mustParties(t, f.ctrl, "rec"); !reflect.DeepEqual(got, []string{doctor}) {
		t.Fatalf("expected single party, got %v", got)
	}
	if got := mustPermissions(t, f.ctrl, doctor); !reflect.DeepEqual(got, []string{"rec"}) {
		t.Fatalf("expected single permission, got %v", got)
	}

	g, err := f.ctrl.GetGrant(ctx, doctor, "rec")
	if err != nil {
		t.Fatalf("GetGrant: %v", err)
	}
	if g.ExpiresAt != 50 || g.CreatedAt != 20 || g.ID != second.ID {
		t.Fatalf("expected latest grant, got %+v", g)
	}
	if mustCheck(t, f.ctrl, doctor, "rec", 60) {
		t.Fatalf("latest expiration must apply")
	}
}

func TestGrantAccess_Validation(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   GrantInput
		now  uint64
		want error
	}{
		{"empty resource", GrantInput{GranterID: hospital, GranteeID: doctor}, 10, ErrInvalidParameter},
		{"self grant", GrantInput{GranterID: hospital, GranteeID: hospital, ResourceID: "rec"}, 10, ErrInvalidParameter},
		{"expiration in the past", GrantInput{GranterID: hospital, GranteeID: doctor, ResourceID: "rec", ExpiresAt: 5}, 10, ErrInvalidParameter},
		{"expiration equal now", GrantInput{GranterID: hospital, GranteeID: doctor, ResourceID: "rec", ExpiresAt: 10}, 10, ErrInvalidParameter},
		{"unknown grantee", GrantInput{GranterID: hospital, GranteeID: "ghost", ResourceID: "rec"}, 10, ErrNotFound},
		{"unknown granter", GrantInput{GranterID: "ghost", GranteeID: doctor, ResourceID: "rec"}, 10, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := f.ledger.Len()
			if _, err := f.ctrl.GrantAccess(ctx, tc.in, tc.now); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if f.ledger.Len() != before {
				t.Fatalf("failed grant must not write anything")
			}
		})
	}
}

func TestGrantAccess_RequiresGranterAuthorization(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()

	f.authz.only(doctor)
	_, err := f.ctrl.GrantAccess(ctx, GrantInput{GranterID: hospital, GranteeID: doctor, ResourceID: "rec"}, 10)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	f.authz.all()
	if mustCheck(t, f.ctrl, doctor, "rec", 11) {
		t.Fatalf("unauthorized grant must not take effect")
	}
}

func TestRevokeAccess_Policy(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()

	if err := f.ctrl.RevokeAccess(ctx, hospital, doctor, "rec"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing grant, got %v", err)
	}

	if _, err := f.ctrl.GrantAccess(ctx, GrantInput{GranterID: hospital, GranteeID: doctor, ResourceID: "rec"}, 10); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}

	// otro granter no puede revocar
	if err := f.ctrl.RevokeAccess(ctx, patient, doctor, "rec"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	// el granter correcto sin autorización externa tampoco
	f.authz.only(patient)
	if err := f.ctrl.RevokeAccess(ctx, hospital, doctor, "rec"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	f.authz.all()

	if !mustCheck(t, f.ctrl, doctor, "rec", 11) {
		t.Fatalf("rejected revoke must leave grant intact")
	}
}

func TestIndexes_MultipleGrants(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()

	grants := []GrantInput{
		{GranterID: hospital, GranteeID: doctor, ResourceID: "rec-b"},
		{GranterID: hospital, GranteeID: doctor, ResourceID: "rec-a"},
		{GranterID: hospital, GranteeID: patient, ResourceID: "rec-a"},
		{GranterID: patient, GranteeID: doctor, ResourceID: "patient/1/vitals"},
	}
	for _, in := range grants {
		if _, err := f.ctrl.GrantAccess(ctx, in, 10); err != nil {
			t.Fatalf("GrantAccess(%+v): %v", in, err)
		}
	}

	if got := mustParties(t, f.ctrl, "rec-a"); !reflect.DeepEqual(got, []string{doctor, patient}) {
		t.Fatalf("unexpected parties %v", got)
	}
	if got := mustPermissions(t, f.ctrl, doctor); !reflect.DeepEqual(got, []string{"patient/1/vitals", "rec-a", "rec-b"}) {
		t.Fatalf("unexpected permissions %v", got)
	}

	if err := f.ctrl.RevokeAccess(ctx, hospital, doctor, "rec-a"); err != nil {
		t.Fatalf("RevokeAccess: %v", err)
	}
	if got := mustParties(t, f.ctrl, "rec-a"); !reflect.DeepEqual(got, []string{patient}) {
		t.Fatalf("unexpected parties after revoke %v", got)
	}
	if !mustCheck(t, f.ctrl, doctor, "patient/1/vitals", 11) {
		t.Fatalf("resource ids with slashes must work")
	}
}

// -------------------------
// Mantenimiento
// -------------------------

func TestRebuildIndexes_RepairsFromGrants(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()

	for _, in := range []GrantInput{
		{GranterID: hospital, GranteeID: doctor, ResourceID: "rec-a"},
		{GranterID: hospital, GranteeID: patient, ResourceID: "rec-a"},
	} {
		if _, err := f.ctrl.GrantAccess(ctx, in, 10); err != nil {
			t.Fatalf("GrantAccess: %v", err)
		}
	}

	// romper los índices a mano
	err := f.ledger.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.Remove(ctx, partiesKey("rec-a")); err != nil {
			return err
		}
		return putRecord(ctx, tx, permissionsKey(doctor), []string{"stale"})
	})
	if err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	if _, err := f.ctrl.RebuildIndexes(ctx, hospital); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-admin, got %v", err)
	}

	res, err := f.ctrl.RebuildIndexes(ctx, admin)
	if err != nil {
		t.Fatalf("RebuildIndexes: %v", err)
	}
	if res != (RebuildResult{Grants: 2, Resources: 1, Grantees: 2}) {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := mustParties(t, f.ctrl, "rec-a"); !reflect.DeepEqual(got, []string{doctor, patient}) {
		t.Fatalf("unexpected parties %v", got)
	}
	if got := mustPermissions(t, f.ctrl, doctor); !reflect.DeepEqual(got, []string{"rec-a"}) {
		t.Fatalf("unexpected permissions %v", got)
	}
}

func TestPurgeExpired(t *testing.T) {
	f := seeded(t)
	ctx := context.Background()

	for _, in := range []GrantInput{
		{GranterID: hospital, GranteeID: doctor, ResourceID: "old", ExpiresAt: 50},
		{GranterID: hospital, GranteeID: doctor, ResourceID: "forever"},
		{GranterID: hospital, GranteeID: patient, ResourceID: "later", ExpiresAt: 500},
	} {
		if _, err := f.ctrl.GrantAccess(ctx, in, 10); err != nil {
			t.Fatalf("GrantAccess: %v", err)
		}
	}

	if _, err := f.ctrl.PurgeExpired(ctx, doctor, 100); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	res, err := f.ctrl.PurgeExpired(ctx, admin, 100)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if res != (PurgeResult{Scanned: 3, Removed: 1}) {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := mustParties(t, f.ctrl, "old"); len(got) != 0 {
		t.Fatalf("purged grant must leave the index, got %v", got)
	}
	if got := mustPermissions(t, f.ctrl, doctor); !reflect.DeepEqual(got, []string{"forever"}) {
		t.Fatalf("unexpected permissions %v", got)
	}
}

func TestSweeper_SweepOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := &Sweeper{
		Controller: f.ctrl,
		Clock:      clock.Func(func() time.Time { return time.Unix(1000, 0) }),
		Interval:   time.Minute,
	}

	// sin admin no es error: no hay nada que barrer
	if res, err := s.SweepOnce(ctx); err != nil || res.Removed != 0 {
		t.Fatalf("expected empty sweep, got %+v err=%v", res, err)
	}

	f = seeded(t)
	s.Controller = f.ctrl
	if _, err := f.ctrl.GrantAccess(ctx, GrantInput{GranterID: hospital, GranteeID: doctor, ResourceID: "rec", ExpiresAt: 999}, 10); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}

	res, err := s.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if res.Removed != 1 {
		t.Fatalf("expected 1 removed, got %+v", res)
	}
}

func TestSweeper_EmptySweepLogsAtDebug(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Options{Level: logger.Info, Output: &buf})
	ctrl := NewController(memory.NewLedger(), &fakeAuthz{}, WithLogger(log))
	ctx := context.Background()

	if err := ctrl.Initialize(ctx, admin); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	for _, in := range []RegisterInput{
		{ID: hospital, Type: EntityHospital, Name: "City Hospital"},
		{ID: doctor, Type: EntityDoctor, Name: "Dr. Smith"},
	} {
		if _, err := ctrl.RegisterEntity(ctx, in, 1); err != nil {
			t.Fatalf("RegisterEntity: %v", err)
		}
	}
	if _, err := ctrl.GrantAccess(ctx, GrantInput{GranterID: hospital, GranteeID: doctor, ResourceID: "rec", ExpiresAt: 500}, 10); err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}

	at := int64(100)
	s := &Sweeper{Controller: ctrl, Clock: clock.Func(func() time.Time { return time.Unix(at, 0) })}

	buf.Reset()
	if res, err := s.SweepOnce(ctx); err != nil || res.Removed != 0 {
		t.Fatalf("expected nothing removed, got %+v err=%v", res, err)
	}
	if strings.Contains(buf.String(), "sweep_expired") {
		t.Fatalf("empty sweep must not log at info, got %q", buf.String())
	}

	at = 600
	if res, err := s.SweepOnce(ctx); err != nil || res.Removed != 1 {
		t.Fatalf("expected 1 removed, got %+v err=%v", res, err)
	}
	if !strings.Contains(buf.String(), "msg=sweep_expired") || !strings.Contains(buf.String(), "removed=1") {
		t.Fatalf("sweep with removals must log at info, got %q", buf.String())
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	f := seeded(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		(&Sweeper{Controller: f.ctrl, Interval: time.Millisecond}).Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop")
	}
}

func TestObserver_RecordsOutcomes(t *testing.T) {
	obs := newFakeObserver()
	l := memory.NewLedger()
	ctrl := NewController(l, &fakeAuthz{}, WithObserver(obs))
	ctx := context.Background()

	_ = ctrl.Initialize(ctx, admin)
	_ = ctrl.Initialize(ctx, admin)
	_, _ = ctrl.CheckAccess(ctx, doctor, "rec", 1)

	if obs.ops["initialize:ok"] != 1 || obs.ops["initialize:conflict"] != 1 {
		t.Fatalf("unexpected ops %v", obs.ops)
	}
	if obs.ops["check_access:ok"] != 1 || obs.checks[false] != 1 {
		t.Fatalf("unexpected checks ops=%v checks=%v", obs.ops, obs.checks)
	}
}
