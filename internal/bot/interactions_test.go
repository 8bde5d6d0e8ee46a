package bot

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChokorKassem/web-client-detector/internal/challenge"
	"github.com/ChokorKassem/web-client-detector/internal/config"
	"github.com/ChokorKassem/web-client-detector/internal/platform"
	"github.com/ChokorKassem/web-client-detector/pkg/chat"
)

func (h *harness) setMethods(methods ...config.Method) {
	require.NoError(h.t, h.cfg.Update(func(d *config.Document) {
		d.VerificationMethods = methods
	}))
}

func (h *harness) lastReply() chat.Reply {
	replies := h.gw.Replies()
	require.NotEmpty(h.t, replies)
	return replies[len(replies)-1].Reply
}

func (h *harness) click(userID int64, customID string) {
	h.e.handleInteraction(h.ctx, &chat.Interaction{
		ID:          "i-click",
		Type:        chat.InteractionComponent,
		CustomID:    customID,
		UserID:      userID,
		CommunityID: communityID,
		ChannelID:   intakeChannel,
	})
}

func (h *harness) submitAnswer(userID int64, answer string) {
	h.e.handleInteraction(h.ctx, &chat.Interaction{
		ID:          "i-dialog",
		Type:        chat.InteractionDialog,
		CustomID:    "verify_answer",
		UserID:      userID,
		CommunityID: communityID,
		ChannelID:   intakeChannel,
		Input:       answer,
	})
}

func TestVerifyButton_ButtonOnlyLiftsQuarantine(t *testing.T) {
	h := newHarness(t)
	roleID := h.ensureRole()
	h.gw.AddMember(&chat.Member{ID: 500, Tag: "sus#0", RoleIDs: []int64{roleID}})

	h.click(500, "verify_button")
	h.drain()

	r := h.lastReply()
	assert.True(t, r.Private)
	assert.Equal(t, "You have been verified. ✅", r.Content)
	assert.False(t, h.gw.MemberState(500).HasRole(roleID))
}

func TestVerifyButton_NotQuarantined(t *testing.T) {
	h := newHarness(t)
	h.ensureRole()

	h.click(plainUser, "verify_button")
	h.drain()

	assert.Equal(t, "You are not marked for verification.", h.lastReply().Content)
	assert.Empty(t, h.gw.RoleMutations())
}

func TestVerifyButton_IssuesChallenge(t *testing.T) {
	h := newHarness(t)
	h.ensureRole()
	h.setMethods(config.MethodWord)

	h.click(plainUser, "verify_button")

	r := h.lastReply()
	assert.True(t, r.Private)
	assert.Contains(t, r.Content, "Private challenge")
	require.Len(t, r.Components, 1)
	assert.Equal(t, fmt.Sprintf("open_modal_%d", plainUser), r.Components[0].CustomID)

	key := challenge.Key{CommunityID: communityID, UserID: plainUser}
	ch, ok := h.chals.Active(key)
	require.True(t, ok)
	assert.Equal(t, challenge.KindWord, ch.Kind)
	assert.Len(t, ch.Answer, 6)
}

func TestOpenDialog_WrongUserRejected(t *testing.T) {
	h := newHarness(t)
	h.setMethods(config.MethodWord)
	h.click(plainUser, "verify_button")

	h.click(adminUser, fmt.Sprintf("open_modal_%d", plainUser))

	assert.Equal(t, "This button is not for you.", h.lastReply().Content)
	assert.Empty(t, h.gw.Dialogs())
}

func TestOpenDialog_OpensAnswerForm(t *testing.T) {
	h := newHarness(t)
	h.setMethods(config.MethodMath)
	h.click(plainUser, "verify_button")

	h.click(plainUser, fmt.Sprintf("open_modal_%d", plainUser))

	dialogs := h.gw.Dialogs()
	require.Len(t, dialogs, 1)
	assert.Equal(t, "verify_answer", dialogs[0].CustomID)
	assert.Equal(t, "Enter your answer (private)", dialogs[0].Title)
	assert.Contains(t, dialogs[0].Label, "Solve")
}

func TestOpenDialog_NoChallenge(t *testing.T) {
	h := newHarness(t)

	h.click(plainUser, fmt.Sprintf("open_modal_%d", plainUser))

	assert.Equal(t, "No active challenge found. Click Verify again.", h.lastReply().Content)
}

func TestAnswerSubmission_CorrectLiftsQuarantine(t *testing.T) {
	h := newHarness(t)
	roleID := h.ensureRole()
	h.gw.AddMember(&chat.Member{
		ID:       501,
		Tag:      "chall#0",
		RoleIDs:  []int64{roleID},
		Presence: &chat.Presence{WebStatus: "online"},
	})
	h.setMethods(config.MethodWord)

	h.click(501, "verify_button")
	key := challenge.Key{CommunityID: communityID, UserID: 501}
	ch, ok := h.chals.Active(key)
	require.True(t, ok)

	h.submitAnswer(501, "  "+strings.ToUpper(ch.Answer)+"  ")
	h.drain()

	assert.Equal(t, "✅ Correct — you are verified and can now access the server.", h.lastReply().Content)
	assert.False(t, h.gw.MemberState(501).HasRole(roleID))

	_, stillActive := h.chals.Active(key)
	assert.False(t, stillActive)

	var sawAudit bool
	for _, m := range h.gw.Messages(logChannel) {
		if strings.Contains(m.Content, "verified via challenge") &&
			strings.Contains(m.Content, platform.Join(ch.Surfaces, ", ")) {
			sawAudit = true
		}
	}
	assert.True(t, sawAudit, "audit line must carry the surfaces captured at issuance")
}

func TestAnswerSubmission_WrongStaysPending(t *testing.T) {
	h := newHarness(t)
	roleID := h.ensureRole()
	h.gw.AddMember(&chat.Member{ID: 502, Tag: "wrong#0", RoleIDs: []int64{roleID}})
	h.setMethods(config.MethodWord)

	h.click(502, "verify_button")
	key := challenge.Key{CommunityID: communityID, UserID: 502}
	ch, ok := h.chals.Active(key)
	require.True(t, ok)

	h.submitAnswer(502, "definitely-wrong")
	assert.Contains(t, h.lastReply().Content, "Incorrect answer")

	// still answerable: a correct retry succeeds
	h.submitAnswer(502, ch.Answer)
	h.drain()
	assert.False(t, h.gw.MemberState(502).HasRole(roleID))
}

func TestAnswerSubmission_NoChallenge(t *testing.T) {
	h := newHarness(t)
	h.submitAnswer(plainUser, "42")
	assert.Contains(t, h.lastReply().Content, "No active challenge found or it expired")
}

func TestInitSetup_DeniedForRegularUser(t *testing.T) {
	h := newHarness(t)
	h.click(plainUser, "init_setup")
	assert.Equal(t, "You are not allowed to configure verification.", h.lastReply().Content)
	assert.Empty(t, h.gw.Messages(intakeChannel))
}

func TestMarkSus_ConfirmAppliesTag(t *testing.T) {
	h := newHarness(t)
	roleID := h.ensureRole()
	h.gw.AddMember(&chat.Member{ID: 503, Tag: "target#0", Presence: &chat.Presence{WebStatus: "online"}})

	h.click(adminUser, "mark_sus_confirm:503")
	h.drain()

	assert.True(t, h.gw.MemberState(503).HasRole(roleID))
	r := h.lastReply()
	assert.True(t, r.EditOriginal)
	assert.Contains(t, r.Content, "has been marked Sus")

	muts := h.gw.RoleMutations()
	require.Len(t, muts, 1)
	assert.Contains(t, muts[0].Reason, "Marked Sus via manual scan by admin#0")
}

func TestMarkSus_ConfirmRequiresPrivilege(t *testing.T) {
	h := newHarness(t)
	h.ensureRole()
	h.gw.AddMember(&chat.Member{ID: 504, Tag: "target#0"})

	h.click(plainUser, "mark_sus_confirm:504")
	h.drain()

	assert.Contains(t, h.lastReply().Content, "Only configured admins may confirm")
	assert.Empty(t, h.gw.RoleMutations())
}

func TestMarkSus_Cancel(t *testing.T) {
	h := newHarness(t)

	h.click(adminUser, "mark_sus_cancel")

	r := h.lastReply()
	assert.True(t, r.EditOriginal)
	assert.Equal(t, "Cancelled — no action taken.", r.Content)
}

func TestSetupFlow_ConfigureAndRepost(t *testing.T) {
	h := newHarness(t)

	// stale bot message that the flow must clear
	_, err := h.gw.SendMessage(h.ctx, intakeChannel, "old bot message", nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.e.runSetup(h.ctx, adminUser)
	}()

	var promptID int64
	require.Eventually(t, func() bool {
		for _, m := range h.gw.Messages(intakeChannel) {
			if strings.Contains(m.Content, "choose verification method(s)") {
				promptID = m.ID
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	// method selection, then confirm
	h.e.handleInteraction(h.ctx, &chat.Interaction{
		ID: "sel", Type: chat.InteractionComponent, CustomID: "setup_methods",
		UserID: adminUser, CommunityID: communityID, ChannelID: intakeChannel,
		MessageID: promptID, Values: []string{"word", "math"},
	})
	h.e.handleInteraction(h.ctx, &chat.Interaction{
		ID: "conf", Type: chat.InteractionComponent, CustomID: "setup_confirm",
		UserID: adminUser, CommunityID: communityID, ChannelID: intakeChannel,
		MessageID: promptID,
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("setup flow did not finish")
	}

	doc := h.cfg.Snapshot()
	assert.Equal(t, []config.Method{config.MethodWord, config.MethodMath}, doc.VerificationMethods)
	require.NotNil(t, doc.VerifyMessageID)
	require.NotNil(t, doc.QuarantineRoleID)

	msgs := h.gw.Messages(intakeChannel)
	require.Len(t, msgs, 1, "old bot messages and the prompt are removed")
	assert.Equal(t, *doc.VerifyMessageID, msgs[0].ID)
	assert.Contains(t, msgs[0].Content, "Methods enabled: word, math")
}

func TestSetupFlow_IgnoresOtherUsersAndConfirmNeedsSelection(t *testing.T) {
	h := newHarness(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.e.runSetup(h.ctx, adminUser)
	}()

	var promptID int64
	require.Eventually(t, func() bool {
		msgs := h.gw.Messages(intakeChannel)
		if len(msgs) == 0 {
			return false
		}
		promptID = msgs[0].ID
		return true
	}, 2*time.Second, 5*time.Millisecond)

	// interloper selection is dropped
	h.e.handleInteraction(h.ctx, &chat.Interaction{
		ID: "other", Type: chat.InteractionComponent, CustomID: "setup_methods",
		UserID: plainUser, CommunityID: communityID, ChannelID: intakeChannel,
		MessageID: promptID, Values: []string{"button"},
	})
	// confirm without a selection is rejected
	h.e.handleInteraction(h.ctx, &chat.Interaction{
		ID: "conf", Type: chat.InteractionComponent, CustomID: "setup_confirm",
		UserID: adminUser, CommunityID: communityID, ChannelID: intakeChannel,
		MessageID: promptID,
	})

	require.Eventually(t, func() bool {
		for _, r := range h.gw.Replies() {
			if strings.Contains(r.Reply.Content, "choose at least one method") {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	// cancel ends the flow and removes the prompt
	h.e.handleInteraction(h.ctx, &chat.Interaction{
		ID: "cancel", Type: chat.InteractionComponent, CustomID: "setup_cancel",
		UserID: adminUser, CommunityID: communityID, ChannelID: intakeChannel,
		MessageID: promptID,
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("setup flow did not finish")
	}
	assert.Empty(t, h.gw.Messages(intakeChannel))
	assert.Equal(t, []config.Method{config.MethodButton}, h.cfg.Snapshot().VerificationMethods)
}

func TestSetupFlow_TimesOut(t *testing.T) {
	h := newHarness(t)
	h.e.SetupTimeout = 50 * time.Millisecond

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.e.runSetup(h.ctx, adminUser)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("setup flow did not time out")
	}

	msgs := h.gw.Messages(intakeChannel)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "Setup timed out (no response).")
}
