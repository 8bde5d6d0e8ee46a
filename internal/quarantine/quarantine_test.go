package quarantine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChokorKassem/web-client-detector/internal/audit"
	"github.com/ChokorKassem/web-client-detector/internal/config"
	"github.com/ChokorKassem/web-client-detector/internal/platform"
	"github.com/ChokorKassem/web-client-detector/internal/queue"
	"github.com/ChokorKassem/web-client-detector/internal/snapshot"
	"github.com/ChokorKassem/web-client-detector/pkg/chat"
	"github.com/ChokorKassem/web-client-detector/pkg/chat/chatfake"
)

const (
	intakeChannel = int64(10)
	chatChannel   = int64(11)
	logChannel    = int64(12)
)

type fixture struct {
	gw    *chatfake.Fake
	cfg   *config.Config
	cache *snapshot.Cache
	queue *queue.Queue
	mgr   *Manager
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gw := chatfake.New(100)
	gw.AddChannel(intakeChannel)
	gw.AddChannel(chatChannel)
	gw.AddChannel(logChannel)

	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.json"), config.Defaults(logChannel))
	require.NoError(t, err)

	cache := snapshot.NewCache(snapshot.OpenFileStore(filepath.Join(t.TempDir(), "snap.json")))
	q := queue.New(func() time.Duration { return time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go q.Run(ctx)

	mgr := New(gw, cfg, cache, q, audit.New(gw, cfg, 0), "Sus", intakeChannel, chatChannel)
	mgr.Settle = 0
	return &fixture{gw: gw, cfg: cfg, cache: cache, queue: q, mgr: mgr}
}

func webOnlyMember(id int64) *chat.Member {
	return &chat.Member{
		ID:          id,
		Tag:         "suspect#1",
		DisplayName: "Suspect",
		Presence:    &chat.Presence{WebStatus: "online"},
	}
}

func TestEnsureRole_CreatesAndPersists(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	roleID, err := f.mgr.EnsureRole(ctx)
	require.NoError(t, err)
	assert.NotZero(t, roleID)
	assert.Equal(t, roleID, f.mgr.RoleID())

	// visibility: intake and quarantine chat allowed, log channel hidden
	visible, set := f.gw.Visibility(intakeChannel, roleID)
	assert.True(t, set)
	assert.True(t, visible)
	visible, set = f.gw.Visibility(chatChannel, roleID)
	assert.True(t, set)
	assert.True(t, visible)
	visible, set = f.gw.Visibility(logChannel, roleID)
	assert.True(t, set)
	assert.False(t, visible)
}

func TestEnsureRole_ReusesExistingByName(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	existing, err := f.gw.CreateRole(ctx, "Sus", "")
	require.NoError(t, err)

	roleID, err := f.mgr.EnsureRole(ctx)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, roleID)
}

func TestQueueAdd_AppliesTagAndSnapshots(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	roleID, err := f.mgr.EnsureRole(ctx)
	require.NoError(t, err)

	m := webOnlyMember(7)
	f.gw.AddMember(m)
	f.mgr.QueueAdd(ctx, m, "Detected web-only on join")

	require.Eventually(t, f.queue.Idle, time.Second, 5*time.Millisecond)

	assert.True(t, f.gw.MemberState(7).HasRole(roleID))

	surfaces, ok := f.cache.Fresh(ctx, 7)
	require.True(t, ok)
	assert.Equal(t, []platform.Surface{platform.SurfaceWeb}, surfaces)

	// audit line landed in the log channel
	logs := f.gw.Messages(logChannel)
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[len(logs)-1].Content, "Detected web-only on join")

	// moderation notice landed in the intake channel
	intake := f.gw.Messages(intakeChannel)
	require.Len(t, intake, 1)
	assert.Contains(t, intake[0].Content, "<@7>")
}

func TestQueueAdd_AlreadyQuarantinedShortCircuits(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	roleID, err := f.mgr.EnsureRole(ctx)
	require.NoError(t, err)

	m := webOnlyMember(7)
	m.RoleIDs = []int64{roleID}
	f.gw.AddMember(m)

	f.mgr.QueueAdd(ctx, m, "again")
	require.Eventually(t, f.queue.Idle, time.Second, 5*time.Millisecond)

	mutations := f.gw.RoleMutations()
	assert.Empty(t, mutations, "no mutation may be enqueued for an already-tagged member")
	logs := f.gw.Messages(logChannel)
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[len(logs)-1].Content, "already quarantined")
}

func TestQueueRemove_LiftsTagAndClearsSnapshot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	roleID, err := f.mgr.EnsureRole(ctx)
	require.NoError(t, err)

	m := webOnlyMember(7)
	f.gw.AddMember(m)
	f.mgr.QueueAdd(ctx, m, "flagged")
	require.Eventually(t, f.queue.Idle, time.Second, 5*time.Millisecond)

	lifted := f.gw.MemberState(7)
	f.mgr.QueueRemove(ctx, lifted, 99, "Verified via challenge")
	require.Eventually(t, f.queue.Idle, time.Second, 5*time.Millisecond)

	assert.False(t, f.gw.MemberState(7).HasRole(roleID))
	_, ok := f.cache.Fresh(ctx, 7)
	assert.False(t, ok, "snapshot must be cleared when quarantine is lifted")

	logs := f.gw.Messages(logChannel)
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[len(logs)-1].Content, "by <@99>")
}

func TestQueueRemove_UntaggedMemberOnlyClearsSnapshot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.mgr.EnsureRole(ctx)
	require.NoError(t, err)

	m := webOnlyMember(7)
	f.gw.AddMember(m)
	f.cache.Put(ctx, 7, []platform.Surface{platform.SurfaceWeb})

	f.mgr.QueueRemove(ctx, m, 0, "Manual")
	require.Eventually(t, f.queue.Idle, time.Second, 5*time.Millisecond)

	assert.Empty(t, f.gw.RoleMutations())
	_, ok := f.cache.Fresh(ctx, 7)
	assert.False(t, ok)
}

func TestAddThenRemove_NetStateIsNotQuarantined(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	roleID, err := f.mgr.EnsureRole(ctx)
	require.NoError(t, err)

	m := webOnlyMember(7)
	f.gw.AddMember(m)

	// rapid add then remove; the remove sees the post-add state once the
	// queue applies it, so hand it the member as it will be after the add
	f.mgr.QueueAdd(ctx, m, "flagged")
	tagged := *m
	tagged.RoleIDs = []int64{roleID}
	f.mgr.QueueRemove(ctx, &tagged, 0, "appeal accepted")

	require.Eventually(t, f.queue.Idle, 2*time.Second, 5*time.Millisecond)

	assert.False(t, f.gw.MemberState(7).HasRole(roleID))
	mutations := f.gw.RoleMutations()
	require.Len(t, mutations, 2)
	assert.True(t, mutations[0].Add)
	assert.False(t, mutations[1].Add)
}

func TestQueueAdd_MutationFailureDoesNotBlockQueue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.mgr.EnsureRole(ctx)
	require.NoError(t, err)

	m1 := webOnlyMember(1)
	m2 := webOnlyMember(2)
	f.gw.AddMember(m1)
	f.gw.AddMember(m2)

	f.gw.FailRoleMutations = true
	f.mgr.QueueAdd(ctx, m1, "first")
	require.Eventually(t, f.queue.Idle, time.Second, 5*time.Millisecond)

	f.gw.FailRoleMutations = false
	f.mgr.QueueAdd(ctx, m2, "second")
	require.Eventually(t, f.queue.Idle, time.Second, 5*time.Millisecond)

	assert.True(t, f.gw.MemberState(2).HasRole(f.mgr.RoleID()))
}
