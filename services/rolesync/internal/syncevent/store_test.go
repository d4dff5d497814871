package syncevent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/rolebridge/pkg/config"
	"github.com/rolebridge/pkg/database"
	"github.com/rolebridge/pkg/errors"
	"github.com/rolebridge/pkg/logger"
	"github.com/rolebridge/services/rolesync/internal/model"
	"github.com/rolebridge/services/rolesync/internal/rolemap"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{Driver: "sqlite"}, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.All()...))
	t.Cleanup(func() { database.Close(db) })
	return db
}

func assigned(user, project string) *Event {
	return &Event{
		SourceApp: AppA,
		TargetApp: AppB,
		UserID:    user,
		ProjectID: project,
		Payload: RoleAssigned{
			Resolution: Resolution{
				SourceRole:  "MEMBER",
				TargetRole:  rolemap.RoleAssociateProducer,
				Hierarchy:   60,
				Permissions: rolemap.PermissionsFor(60, rolemap.TierPro),
				Tier:        rolemap.TierPro,
			},
			AssignedBy: "u-admin",
		},
	}
}

func TestAppend_AssignsIdentityAndPending(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewGormStore(newTestDB(t), WithClock(func() time.Time { return fixed }), WithLogger(logger.Nop()))

	id, err := store.Append(ctx, assigned("u1", "p1"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TypeRoleAssigned, got.Type)
	assert.Equal(t, StatusPending, got.Status)
	assert.True(t, got.Timestamp.Equal(fixed))
	assert.Equal(t, 0, got.Attempts)

	p, ok := got.Payload.(RoleAssigned)
	require.True(t, ok)
	assert.Equal(t, rolemap.RoleAssociateProducer, p.TargetRole)
	assert.Equal(t, 60, p.Hierarchy)
	assert.True(t, p.Permissions.CanManageProjects)
	assert.Equal(t, "u-admin", p.AssignedBy)
}

func TestAppend_TimestampsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewGormStore(newTestDB(t), WithClock(func() time.Time { return fixed }), WithLogger(logger.Nop()))

	first := assigned("u1", "p1")
	second := assigned("u1", "p1")
	_, err := store.Append(ctx, first)
	require.NoError(t, err)
	_, err = store.Append(ctx, second)
	require.NoError(t, err)

	assert.True(t, second.Timestamp.After(first.Timestamp))
}

func TestAppend_Rejects(t *testing.T) {
	ctx := context.Background()
	store := NewGormStore(newTestDB(t), WithLogger(logger.Nop()))

	sameApp := assigned("u1", "p1")
	sameApp.TargetApp = AppA
	_, err := store.Append(ctx, sameApp)
	assert.True(t, errors.Is(err, errors.ErrInvalidEvent))

	noUser := assigned("", "p1")
	_, err = store.Append(ctx, noUser)
	assert.True(t, errors.Is(err, errors.ErrInvalidEvent))

	badApp := assigned("u1", "p1")
	badApp.TargetApp = "appC"
	_, err = store.Append(ctx, badApp)
	assert.True(t, errors.Is(err, errors.ErrUnknownApp))

	noPayload := &Event{SourceApp: AppA, TargetApp: AppB, UserID: "u1", ProjectID: "p1"}
	_, err = store.Append(ctx, noPayload)
	assert.True(t, errors.Is(err, errors.ErrInvalidEvent))
}

func TestTransitions_TerminalIsFinal(t *testing.T) {
	ctx := context.Background()
	store := NewGormStore(newTestDB(t), WithLogger(logger.Nop()))

	id, err := store.Append(ctx, assigned("u1", "p1"))
	require.NoError(t, err)

	ok, err := store.MarkProcessing(ctx, id, "node-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.MarkProcessing(ctx, id, "node-2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.MarkCompleted(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.MarkCompleted(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = store.MarkFailed(ctx, id, "late failure")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = store.MarkProcessing(ctx, id, "node-3")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "node-2", got.ProcessedBy)
	assert.Empty(t, got.Error)
}

func TestMarkFailed_RecordsReason(t *testing.T) {
	ctx := context.Background()
	store := NewGormStore(newTestDB(t), WithLogger(logger.Nop()))

	id, err := store.Append(ctx, assigned("u1", "p1"))
	require.NoError(t, err)

	ok, err := store.MarkFailed(ctx, id, "destination unavailable")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "destination unavailable", got.Error)
}

func TestTransitions_UnknownEvent(t *testing.T) {
	store := NewGormStore(newTestDB(t), WithLogger(logger.Nop()))

	_, err := store.MarkCompleted(context.Background(), "missing")
	assert.True(t, errors.Is(err, errors.ErrEventNotFound))

	_, err = store.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, errors.ErrEventNotFound))
}

func TestListPending_OrderAndStaleRecovery(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewGormStore(newTestDB(t), WithClock(func() time.Time { return now }), WithLogger(logger.Nop()))

	first, err := store.Append(ctx, assigned("u1", "p1"))
	require.NoError(t, err)
	now = now.Add(time.Minute)
	second, err := store.Append(ctx, assigned("u2", "p1"))
	require.NoError(t, err)
	now = now.Add(time.Minute)
	done, err := store.Append(ctx, assigned("u3", "p1"))
	require.NoError(t, err)
	_, err = store.MarkCompleted(ctx, done)
	require.NoError(t, err)

	_, err = store.MarkProcessing(ctx, first, "node-1")
	require.NoError(t, err)

	pending, err := store.ListPending(ctx, 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second, pending[0].ID)

	pending, err = store.ListPending(ctx, 10, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first, pending[0].ID)
	assert.Equal(t, second, pending[1].ID)

	pending, err = store.ListPending(ctx, 1, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestListByUserProject(t *testing.T) {
	ctx := context.Background()
	store := NewGormStore(newTestDB(t), WithLogger(logger.Nop()))

	a, err := store.Append(ctx, assigned("u1", "p1"))
	require.NoError(t, err)
	_, err = store.Append(ctx, assigned("u1", "p2"))
	require.NoError(t, err)
	b, err := store.Append(ctx, &Event{
		SourceApp: AppB,
		TargetApp: AppA,
		UserID:    "u1",
		ProjectID: "p1",
		Payload:   RoleRemoved{RemovedBy: "u-admin"},
	})
	require.NoError(t, err)

	events, err := store.ListByUserProject(ctx, "u1", "p1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, a, events[0].ID)
	assert.Equal(t, b, events[1].ID)
	assert.Equal(t, TypeRoleRemoved, events[1].Type)
}

func TestDecodePayload_UnknownType(t *testing.T) {
	_, err := DecodePayload("ROLE_RENAMED", "{}")
	assert.True(t, errors.Is(err, errors.ErrUnknownEventType))

	_, err = DecodePayload(TypeHierarchyChanged, "{not json")
	assert.True(t, errors.Is(err, errors.ErrInvalidEvent))
}
