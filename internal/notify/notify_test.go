package notify

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChokorKassem/web-client-detector/internal/audit"
	"github.com/ChokorKassem/web-client-detector/internal/config"
	"github.com/ChokorKassem/web-client-detector/pkg/chat"
	"github.com/ChokorKassem/web-client-detector/pkg/chat/chatfake"
)

const (
	intakeChannel = int64(10)
	logChannel    = int64(20)
	quarantineRole = int64(777)
)

type fixture struct {
	gw     *chatfake.Fake
	cfg    *config.Config
	n      *Notifier
	slept  []time.Duration
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gw := chatfake.New(100)
	gw.AddChannel(intakeChannel)
	gw.AddChannel(logChannel)

	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.json"), config.Defaults(logChannel))
	require.NoError(t, err)
	require.NoError(t, cfg.Update(func(d *config.Document) {
		id := quarantineRole
		d.QuarantineRoleID = &id
	}))

	f := &fixture{gw: gw, cfg: cfg}
	f.n = New(gw, cfg, audit.New(gw, cfg, 0), intakeChannel, time.UTC)
	f.n.sleep = func(d time.Duration) { f.slept = append(f.slept, d) }
	return f
}

func (f *fixture) addQuarantined(id int64) {
	f.gw.AddMember(&chat.Member{
		ID:      id,
		Tag:     fmt.Sprintf("user%d#0", id),
		RoleIDs: []int64{quarantineRole},
	})
}

func TestSweep_DisabledIsNoop(t *testing.T) {
	f := setup(t)
	f.addQuarantined(1)
	require.NoError(t, f.cfg.Update(func(d *config.Document) {
		d.PeriodicNotifyEnabled = false
	}))

	f.n.Sweep(context.Background())

	assert.Empty(t, f.gw.Messages(intakeChannel))
	assert.Empty(t, f.gw.Messages(logChannel))
}

func TestSweep_NoRoleIsNoop(t *testing.T) {
	f := setup(t)
	f.addQuarantined(1)
	require.NoError(t, f.cfg.Update(func(d *config.Document) {
		d.QuarantineRoleID = nil
	}))

	f.n.Sweep(context.Background())
	assert.Empty(t, f.gw.Messages(logChannel))
}

func TestSweep_NoQuarantinedUsersIsNoop(t *testing.T) {
	f := setup(t)
	f.gw.AddMember(&chat.Member{ID: 1, Tag: "clean#0"})

	bot := &chat.Member{ID: 2, Tag: "bot#0", Bot: true, RoleIDs: []int64{quarantineRole}}
	f.gw.AddMember(bot)

	f.n.Sweep(context.Background())
	assert.Empty(t, f.gw.Messages(intakeChannel))
	assert.Empty(t, f.gw.Messages(logChannel))
}

func TestSweep_MentionsAndDeletes(t *testing.T) {
	f := setup(t)
	f.addQuarantined(5)
	f.addQuarantined(3)

	f.n.Sweep(context.Background())

	// the reminder itself is gone, only the audit summary remains
	assert.Empty(t, f.gw.Messages(intakeChannel))
	logs := f.gw.Messages(logChannel)
	require.Len(t, logs, 1)
	assert.Equal(t, "Periodic notifier triggered: mentioned 2 quarantined members.", logs[0].Content)

	// default lifetime is 30s
	require.Len(t, f.slept, 1)
	assert.Equal(t, 30*time.Second, f.slept[0])
}

func TestSweep_MentionOrderAndContent(t *testing.T) {
	f := setup(t)
	f.addQuarantined(9)
	f.addQuarantined(2)

	var sent string
	f.n.sleep = func(time.Duration) {
		// capture the reminder before the sweep deletes it
		msgs := f.gw.Messages(intakeChannel)
		if len(msgs) > 0 {
			sent = msgs[len(msgs)-1].Content
		}
	}

	f.n.Sweep(context.Background())

	assert.True(t, strings.HasPrefix(sent, "<@2> <@9> "), sent)
	assert.Contains(t, sent, "Please complete verification to regain access")
}

func TestSweep_ChunksOfFifty(t *testing.T) {
	f := setup(t)
	for id := int64(1); id <= 120; id++ {
		f.addQuarantined(id)
	}

	var chunks []int
	f.n.sleep = func(time.Duration) {
		msgs := f.gw.Messages(intakeChannel)
		require.NotEmpty(t, msgs)
		chunks = append(chunks, strings.Count(msgs[len(msgs)-1].Content, "<@"))
	}

	f.n.Sweep(context.Background())

	assert.Equal(t, []int{50, 50, 20}, chunks)
	logs := f.gw.Messages(logChannel)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Content, "mentioned 120")
}

func TestSweep_SendFailureSkipsDeleteAndContinues(t *testing.T) {
	f := setup(t)
	f.addQuarantined(1)
	f.gw.FailSends = true

	f.n.Sweep(context.Background())

	assert.Empty(t, f.slept, "no lifetime wait when the send failed")
}

func TestStart_RejectsBadCronSpec(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.cfg.Update(func(d *config.Document) {
		d.PeriodicNotifyCron = "not a cron spec"
	}))

	err := f.n.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cron spec")
}

func TestStart_AcceptsDefaultSpec(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.n.Start(context.Background()))
	f.n.Stop()
}
