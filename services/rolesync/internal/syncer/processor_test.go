package syncer

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/rolebridge/pkg/config"
	"github.com/rolebridge/pkg/database"
	"github.com/rolebridge/pkg/logger"
	"github.com/rolebridge/services/rolesync/internal/destination"
	"github.com/rolebridge/services/rolesync/internal/model"
	"github.com/rolebridge/services/rolesync/internal/rolemap"
	"github.com/rolebridge/services/rolesync/internal/syncevent"
)

type testEnv struct {
	db     *gorm.DB
	events *syncevent.GormStore
	dest   *destination.GormStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{Driver: "sqlite"}, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.All()...))
	t.Cleanup(func() { database.Close(db) })
	return &testEnv{
		db:     db,
		events: syncevent.NewGormStore(db, syncevent.WithLogger(logger.Nop())),
		dest:   destination.NewGormStore(db, destination.NewResolver(config.ConflictHierarchyBased)),
	}
}

func fastOptions() Options {
	return Options{
		NodeID:         "node-test",
		BatchSize:      10,
		RetryAttempts:  2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func (env *testEnv) processor(t *testing.T, opts Options) *Processor {
	t.Helper()
	p := NewProcessor(env.events, nil, opts, logger.Nop())
	NewHandlers(env.dest, nil).Register(p)
	t.Cleanup(p.Close)
	return p
}

func (env *testEnv) append(t *testing.T, user, project string, payload syncevent.Payload) *syncevent.Event {
	t.Helper()
	e, err := syncevent.New(syncevent.AppA, syncevent.AppB, user, project, "org-1", payload)
	require.NoError(t, err)
	_, err = env.events.Append(context.Background(), e)
	require.NoError(t, err)
	return e
}

func (env *testEnv) status(t *testing.T, id string) *syncevent.Event {
	t.Helper()
	e, err := env.events.Get(context.Background(), id)
	require.NoError(t, err)
	return e
}

func assignedPayload(m rolemap.Mapping) syncevent.RoleAssigned {
	return syncevent.RoleAssigned{Resolution: syncevent.ResolutionFromMapping(m), AssignedBy: "u-admin"}
}

func TestProcessor_CompletesAndWritesDestination(t *testing.T) {
	env := newTestEnv(t)
	p := env.processor(t, fastOptions())

	m := rolemap.NewEngine().Map("MEMBER", nil, rolemap.TierPro)
	e := env.append(t, "u1", "p1", assignedPayload(m))

	require.Equal(t, 1, p.Enqueue(e))
	p.Wait()

	got := env.status(t, e.ID)
	assert.Equal(t, syncevent.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "node-test", got.ProcessedBy)

	a, err := env.dest.GetAssignment(context.Background(), destination.Key{App: "appB", UserID: "u1", ProjectID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, rolemap.RoleAssociateProducer, a.ResolvedRole)
	assert.Equal(t, 60, a.Hierarchy)
	assert.True(t, a.EnhancedPermissions.CanManageProjects)
	assert.False(t, a.EnhancedPermissions.CanViewFinancials)

	stats := p.Stats()
	assert.EqualValues(t, 1, stats.Completed)
	assert.EqualValues(t, 0, stats.Failed)
	assert.False(t, stats.Draining)
}

func TestProcessor_EnqueueIgnoresDuplicatesAndTerminal(t *testing.T) {
	env := newTestEnv(t)
	p := NewProcessor(env.events, nil, fastOptions(), logger.Nop())
	t.Cleanup(p.Close)

	release := make(chan struct{})
	p.Handle(syncevent.TypeRoleRemoved, func(ctx context.Context, e *syncevent.Event) error {
		<-release
		return nil
	})

	e := env.append(t, "u1", "p1", syncevent.RoleRemoved{RemovedBy: "u-admin"})
	assert.Equal(t, 1, p.Enqueue(e, e))
	assert.Equal(t, 0, p.Enqueue(e))
	assert.Equal(t, 0, p.Enqueue(&syncevent.Event{ID: "done", Status: syncevent.StatusCompleted}))

	close(release)
	p.Wait()
	assert.EqualValues(t, 1, p.Stats().Completed)
}

func TestProcessor_FailureIsolatedWithinBatch(t *testing.T) {
	env := newTestEnv(t)
	p := env.processor(t, fastOptions())

	var calls int
	var mu sync.Mutex
	p.Handle(syncevent.TypeRoleRemoved, func(ctx context.Context, e *syncevent.Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return stderrors.New("destination unavailable")
	})

	engine := rolemap.NewEngine()
	ok1 := env.append(t, "u1", "p1", assignedPayload(engine.Map("ADMIN", nil, rolemap.TierEnterprise)))
	bad := env.append(t, "u2", "p1", syncevent.RoleRemoved{RemovedBy: "u-admin"})
	ok2 := env.append(t, "u3", "p1", assignedPayload(engine.Map("VIEWER", nil, rolemap.TierEnterprise)))

	p.Enqueue(ok1, bad, ok2)
	p.Wait()

	assert.Equal(t, syncevent.StatusCompleted, env.status(t, ok1.ID).Status)
	assert.Equal(t, syncevent.StatusCompleted, env.status(t, ok2.ID).Status)

	failed := env.status(t, bad.ID)
	assert.Equal(t, syncevent.StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "destination unavailable")

	// 首次尝试加两次重试
	assert.Equal(t, 3, calls)
	stats := p.Stats()
	assert.EqualValues(t, 2, stats.Retries)
	assert.EqualValues(t, 1, stats.Failed)
	assert.EqualValues(t, 2, stats.Completed)
}

func TestProcessor_PermanentErrorNotRetried(t *testing.T) {
	env := newTestEnv(t)
	p := env.processor(t, fastOptions())

	// 没有分配记录时调整层级属于业务错误
	e := env.append(t, "u1", "p1", syncevent.HierarchyChanged{Hierarchy: 80, Tier: rolemap.TierPro, ChangedBy: "u-admin"})
	p.Enqueue(e)
	p.Wait()

	got := env.status(t, e.ID)
	assert.Equal(t, syncevent.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "1 attempt")
	assert.EqualValues(t, 0, p.Stats().Retries)
}

func TestProcessor_MissingHandlerFails(t *testing.T) {
	env := newTestEnv(t)
	p := NewProcessor(env.events, nil, fastOptions(), logger.Nop())
	t.Cleanup(p.Close)

	e := env.append(t, "u1", "p1", syncevent.PermissionsUpdated{UpdatedBy: "u-admin"})
	p.Enqueue(e)
	p.Wait()

	got := env.status(t, e.ID)
	assert.Equal(t, syncevent.StatusFailed, got.Status)
	assert.NotEmpty(t, got.Error)
}

func TestProcessor_SyncTimeout(t *testing.T) {
	env := newTestEnv(t)
	opts := fastOptions()
	opts.SyncTimeout = 50 * time.Millisecond
	p := NewProcessor(env.events, nil, opts, logger.Nop())
	t.Cleanup(p.Close)

	p.Handle(syncevent.TypeRoleRemoved, func(ctx context.Context, e *syncevent.Event) error {
		<-ctx.Done()
		return ctx.Err()
	})

	e := env.append(t, "u1", "p1", syncevent.RoleRemoved{RemovedBy: "u-admin"})
	p.Enqueue(e)
	p.Wait()

	assert.Equal(t, syncevent.StatusFailed, env.status(t, e.ID).Status)
}

func TestProcessor_SingleDrain(t *testing.T) {
	env := newTestEnv(t)
	p := NewProcessor(env.events, nil, fastOptions(), logger.Nop())
	t.Cleanup(p.Close)

	started := make(chan struct{})
	release := make(chan struct{})
	p.Handle(syncevent.TypeRoleRemoved, func(ctx context.Context, e *syncevent.Event) error {
		close(started)
		<-release
		return nil
	})

	e := env.append(t, "u1", "p1", syncevent.RoleRemoved{RemovedBy: "u-admin"})
	p.Enqueue(e)
	<-started

	assert.True(t, p.Stats().Draining)
	assert.False(t, p.Drain(context.Background()))

	close(release)
	p.Wait()
	assert.False(t, p.Stats().Draining)
	assert.True(t, p.Drain(context.Background()))
}

func TestProcessor_PartitionOrderedByTimestamp(t *testing.T) {
	env := newTestEnv(t)
	p := NewProcessor(env.events, nil, fastOptions(), logger.Nop())
	t.Cleanup(p.Close)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(ctx context.Context, e *syncevent.Event) error {
		mu.Lock()
		defer mu.Unlock()
		if e.UserID == "u1" {
			order = append(order, e.ID)
		}
		return nil
	}
	p.Handle(syncevent.TypeRoleRemoved, record)
	p.Handle(syncevent.TypeHierarchyChanged, record)

	first := env.append(t, "u1", "p1", syncevent.HierarchyChanged{Hierarchy: 50, ChangedBy: "a"})
	other := env.append(t, "u2", "p1", syncevent.RoleRemoved{RemovedBy: "a"})
	second := env.append(t, "u1", "p1", syncevent.RoleRemoved{RemovedBy: "a"})

	// 入队顺序与时间顺序相反
	p.Enqueue(second, other, first)
	p.Wait()

	assert.Equal(t, []string{first.ID, second.ID}, order)
}

func TestPartition(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ev := func(id, user string, offset time.Duration) *syncevent.Event {
		return &syncevent.Event{ID: id, UserID: user, ProjectID: "p1", Timestamp: t0.Add(offset)}
	}
	parts := partition([]*syncevent.Event{
		ev("a2", "a", time.Second),
		ev("b1", "b", 0),
		ev("a1", "a", 0),
	})

	require.Len(t, parts, 2)
	assert.Equal(t, "a1", parts[0][0].ID)
	assert.Equal(t, "a2", parts[0][1].ID)
	assert.Equal(t, "b1", parts[1][0].ID)
}

type heldClaimer struct{}

func (heldClaimer) TryClaim(context.Context, string) (bool, error) { return false, nil }
func (heldClaimer) Release(context.Context, string) error         { return nil }

func TestProcessor_SkipsEventClaimedElsewhere(t *testing.T) {
	env := newTestEnv(t)
	p := NewProcessor(env.events, heldClaimer{}, fastOptions(), logger.Nop())
	NewHandlers(env.dest, nil).Register(p)
	t.Cleanup(p.Close)

	e := env.append(t, "u1", "p1", syncevent.RoleRemoved{RemovedBy: "u-admin"})
	p.Enqueue(e)
	p.Wait()

	assert.Equal(t, syncevent.StatusPending, env.status(t, e.ID).Status)
	assert.EqualValues(t, 1, p.Stats().Skipped)
}

// 两个进程同时处理同一事件：目标记录收敛，事件只完成一次
func TestProcessor_ConcurrentProcessesConverge(t *testing.T) {
	env := newTestEnv(t)

	var arrived sync.WaitGroup
	arrived.Add(2)
	handlers := NewHandlers(env.dest, nil)
	newProc := func(node string) *Processor {
		opts := fastOptions()
		opts.NodeID = node
		p := NewProcessor(env.events, nil, opts, logger.Nop())
		handlers.Register(p)
		assign := handlers.roleAssigned
		p.Handle(syncevent.TypeRoleAssigned, func(ctx context.Context, e *syncevent.Event) error {
			arrived.Done()
			arrived.Wait()
			return assign(ctx, e)
		})
		t.Cleanup(p.Close)
		return p
	}
	a, b := newProc("node-a"), newProc("node-b")

	m := rolemap.NewEngine().Map("MEMBER", nil, rolemap.TierEnterprise)
	e := env.append(t, "u1", "p1", assignedPayload(m))
	seen, err := env.events.Get(context.Background(), e.ID)
	require.NoError(t, err)

	a.Enqueue(e)
	b.Enqueue(seen)
	a.Wait()
	b.Wait()

	got := env.status(t, e.ID)
	assert.Equal(t, syncevent.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.EqualValues(t, 1, a.Stats().Completed+b.Stats().Completed)

	var count int64
	require.NoError(t, env.db.Model(&model.ProjectAssignment{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	asg, err := env.dest.GetAssignment(context.Background(), destination.Key{App: "appB", UserID: "u1", ProjectID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, rolemap.RoleAssociateProducer, asg.ResolvedRole)
	assert.Equal(t, e.Version(), asg.SyncMetadata.SyncVersion)
}
