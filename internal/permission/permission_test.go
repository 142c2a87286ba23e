package permission_test

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
	"github.com/lavente-care/aim-core/internal/permission"
	"github.com/lavente-care/aim-core/internal/store"
	"github.com/lavente-care/aim-core/internal/store/memstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, now time.Time) (*permission.Service, *memstore.Store) {
	t.Helper()
	frozen := clock.Frozen{At: now}
	st := memstore.New()
	auditSvc := audit.NewService(st, frozen, discardLogger())
	svc := permission.NewService(st, memcache.New(), auditSvc, frozen)
	return svc, st
}

func TestCreate_RejectsInvalidFormatAndDuplicates(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newFixture(t, now)
	actorID := uuid.New()

	_, err := svc.Create(context.Background(), permission.CreateParams{Resource: "Documents", Action: "read"}, actorID)
	require.Error(t, err)

	_, err = svc.Create(context.Background(), permission.CreateParams{Resource: "documents", Action: "read"}, actorID)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), permission.CreateParams{Resource: "documents", Action: "read"}, actorID)
	require.Error(t, err)
}

func TestDeactivate_RejectsWhenReferenced(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st := newFixture(t, now)
	actorID := uuid.New()

	perm, err := svc.Create(context.Background(), permission.CreateParams{Resource: "documents", Action: "write"}, actorID)
	require.NoError(t, err)

	userID := uuid.New()
	require.NoError(t, svc.AssignToUser(context.Background(), permission.AssignToUserParams{UserID: userID, PermissionID: perm.ID}, actorID))

	err = svc.Deactivate(context.Background(), perm.ID, actorID)
	require.Error(t, err)

	require.NoError(t, svc.RevokeFromUser(context.Background(), userID, perm.ID, actorID))
	err = svc.Deactivate(context.Background(), perm.ID, actorID)
	require.NoError(t, err)

	_, _ = st.GetPermissionByID(context.Background(), perm.ID)
}

func TestAssignToUser_RejectsDuplicateAssignment(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newFixture(t, now)
	actorID := uuid.New()
	userID := uuid.New()

	perm, err := svc.Create(context.Background(), permission.CreateParams{Resource: "documents", Action: "read"}, actorID)
	require.NoError(t, err)

	require.NoError(t, svc.AssignToUser(context.Background(), permission.AssignToUserParams{UserID: userID, PermissionID: perm.ID}, actorID))
	err = svc.AssignToUser(context.Background(), permission.AssignToUserParams{UserID: userID, PermissionID: perm.ID}, actorID)
	require.Error(t, err)
}

func TestBulkAssign_ToRoleAddsThenRemoves(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, st := newFixture(t, now)
	actorID := uuid.New()
	roleID := uuid.New()
	require.NoError(t, st.CreateRole(context.Background(), &store.Role{ID: roleID, Name: "EDITOR", IsActive: true, CreatedAt: now, UpdatedAt: now}))

	perm1, err := svc.Create(context.Background(), permission.CreateParams{Resource: "documents", Action: "read"}, actorID)
	require.NoError(t, err)
	perm2, err := svc.Create(context.Background(), permission.CreateParams{Resource: "documents", Action: "write"}, actorID)
	require.NoError(t, err)

	err = svc.BulkAssign(context.Background(), permission.BulkAssignParams{
		TargetType: permission.BulkTargetRole, TargetID: roleID,
		PermissionIDs: []uuid.UUID{perm1.ID, perm2.ID}, Operation: permission.BulkOperationAdd,
	}, actorID)
	require.NoError(t, err)

	keys, err := st.GetRolePermissionKeys(context.Background(), []uuid.UUID{roleID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"documents:read", "documents:write"}, keys[roleID.String()])

	err = svc.BulkAssign(context.Background(), permission.BulkAssignParams{
		TargetType: permission.BulkTargetRole, TargetID: roleID,
		PermissionIDs: []uuid.UUID{perm2.ID}, Operation: permission.BulkOperationRemove,
	}, actorID)
	require.NoError(t, err)

	keys, err = st.GetRolePermissionKeys(context.Background(), []uuid.UUID{roleID})
	require.NoError(t, err)
	assert.Equal(t, []string{"documents:read"}, keys[roleID.String()])
}

func TestBulkAssign_RejectsUnknownPermissionAtomically(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newFixture(t, now)
	actorID := uuid.New()
	roleID := uuid.New()

	err := svc.BulkAssign(context.Background(), permission.BulkAssignParams{
		TargetType: permission.BulkTargetRole, TargetID: roleID,
		PermissionIDs: []uuid.UUID{uuid.New()}, Operation: permission.BulkOperationAdd,
	}, actorID)
	require.Error(t, err)
}

func TestCheckWithContext_EvaluatesOwnOrganizationCondition(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newFixture(t, now)
	actorID := uuid.New()
	userID := uuid.New()
	orgID := uuid.New()

	perm, err := svc.Create(context.Background(), permission.CreateParams{Resource: "invoices", Action: "read"}, actorID)
	require.NoError(t, err)
	require.NoError(t, svc.AssignToUser(context.Background(), permission.AssignToUserParams{
		UserID: userID, PermissionID: perm.ID,
		Conditions: []store.Condition{{Type: store.ConditionOwnOrganization, Value: map[string]any{"orgId": orgID.String()}}},
	}, actorID))

	result, err := svc.CheckWithContext(context.Background(), userID, "invoices", "read", permission.CheckContext{OrganizationID: &orgID})
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	otherOrg := uuid.New()
	result, err = svc.CheckWithContext(context.Background(), userID, "invoices", "read", permission.CheckContext{OrganizationID: &otherOrg})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}
