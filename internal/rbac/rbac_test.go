package rbac_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente-care/aim-core/internal/audit"
	"github.com/lavente-care/aim-core/internal/cache/memcache"
	"github.com/lavente-care/aim-core/internal/clock"
	"github.com/lavente-care/aim-core/internal/rbac"
	"github.com/lavente-care/aim-core/internal/store"
	"github.com/lavente-care/aim-core/internal/store/memstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, now time.Time) (*rbac.Service, *memstore.Store) {
	t.Helper()
	frozen := clock.Frozen{At: now}
	st := memstore.New()
	auditSvc := audit.NewService(st, frozen, discardLogger())
	svc := rbac.NewService(st, memcache.New(), auditSvc, frozen)
	return svc, st
}

func TestCreateRole_RejectsInvalidNameAndDuplicates(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newFixture(t, now)
	actorID := uuid.New()

	_, err := svc.CreateRole(context.Background(), rbac.CreateRoleParams{Name: "not-valid"}, actorID, nil)
	require.Error(t, err)

	_, err = svc.CreateRole(context.Background(), rbac.CreateRoleParams{Name: "EDITOR"}, actorID, nil)
	require.NoError(t, err)

	_, err = svc.CreateRole(context.Background(), rbac.CreateRoleParams{Name: "EDITOR"}, actorID, nil)
	require.Error(t, err)
}

func TestCreateRole_InheritsAncestorsWhenAttachedUnderParent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st := newFixture(t, now)
	actorID := uuid.New()

	grandparent, err := svc.CreateRole(context.Background(), rbac.CreateRoleParams{Name: "ADMIN"}, actorID, nil)
	require.NoError(t, err)
	parent, err := svc.CreateRole(context.Background(), rbac.CreateRoleParams{Name: "MANAGER", ParentRoleID: &grandparent.ID}, actorID, nil)
	require.NoError(t, err)
	child, err := svc.CreateRole(context.Background(), rbac.CreateRoleParams{Name: "TEAM_LEAD", ParentRoleID: &parent.ID}, actorID, nil)
	require.NoError(t, err)

	ancestors, err := st.GetAncestors(context.Background(), child.ID)
	require.NoError(t, err)
	ids := map[uuid.UUID]bool{}
	for _, a := range ancestors {
		ids[a.AncestorRoleID] = true
	}
	assert.True(t, ids[grandparent.ID])
	assert.True(t, ids[parent.ID])
	assert.True(t, ids[child.ID])
}

func TestAssignRoleAndGetEffectivePermissions_ResolvesInheritedPermissions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st := newFixture(t, now)
	actorID := uuid.New()
	userID := uuid.New()

	parent, err := svc.CreateRole(context.Background(), rbac.CreateRoleParams{Name: "BASE"}, actorID, nil)
	require.NoError(t, err)
	perm := &store.Permission{ID: uuid.New(), Resource: "documents", Action: "read", IsActive: true, CreatedAt: now}
	require.NoError(t, st.CreatePermission(context.Background(), perm))
	require.NoError(t, svc.UpdateRolePermissions(context.Background(), parent.ID, []uuid.UUID{perm.ID}, actorID))

	child, err := svc.CreateRole(context.Background(), rbac.CreateRoleParams{Name: "DERIVED", ParentRoleID: &parent.ID}, actorID, nil)
	require.NoError(t, err)

	require.NoError(t, svc.AssignRole(context.Background(), rbac.AssignRoleParams{UserID: userID, RoleID: child.ID, Reason: "onboarding"}, actorID))

	ok, err := svc.CheckPermission(context.Background(), userID, "documents", "read")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CheckPermission(context.Background(), userID, "documents", "delete")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRevokeRole_RejectsRevokingLastActiveRole(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newFixture(t, now)
	actorID := uuid.New()
	userID := uuid.New()

	role, err := svc.CreateRole(context.Background(), rbac.CreateRoleParams{Name: "VIEWER"}, actorID, nil)
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(context.Background(), rbac.AssignRoleParams{UserID: userID, RoleID: role.ID, Reason: "onboarding"}, actorID))

	err = svc.RevokeRole(context.Background(), userID, role.ID, actorID, "no longer needed")
	require.Error(t, err)
}

func TestDeleteRole_RejectsWhenRoleHasActiveAssignments(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newFixture(t, now)
	actorID := uuid.New()
	userID := uuid.New()

	role, err := svc.CreateRole(context.Background(), rbac.CreateRoleParams{Name: "VIEWER"}, actorID, nil)
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(context.Background(), rbac.AssignRoleParams{UserID: userID, RoleID: role.ID, Reason: "onboarding"}, actorID))

	err = svc.DeleteRole(context.Background(), role.ID, actorID)
	require.Error(t, err)
}

func TestUpdateRole_RejectsSelfReferentialParent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newFixture(t, now)
	actorID := uuid.New()

	role, err := svc.CreateRole(context.Background(), rbac.CreateRoleParams{Name: "VIEWER"}, actorID, nil)
	require.NoError(t, err)

	_, err = svc.UpdateRole(context.Background(), rbac.UpdateRoleParams{RoleID: role.ID, ParentRoleID: &role.ID}, actorID)
	require.Error(t, err)
}
