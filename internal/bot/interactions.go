package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/ChokorKassem/web-client-detector/internal/challenge"
	"github.com/ChokorKassem/web-client-detector/internal/config"
	"github.com/ChokorKassem/web-client-detector/internal/platform"
	"github.com/ChokorKassem/web-client-detector/pkg/chat"
)

// handleInteraction routes a component click or dialog submission. A
// pending setup flow claims every interaction on its prompt message.
func (e *Engine) handleInteraction(ctx context.Context, i *chat.Interaction) {
	if i.MessageID != 0 {
		e.mu.Lock()
		waiter, ok := e.waiters[i.MessageID]
		e.mu.Unlock()
		if ok {
			select {
			case waiter <- i:
			default:
				log.Printf("[Bot] Setup flow busy, dropping interaction %s", i.ID)
			}
			return
		}
	}

	if i.Type == chat.InteractionDialog {
		if i.CustomID == "verify_answer" {
			e.handleAnswerSubmission(ctx, i)
		}
		return
	}

	switch {
	case i.CustomID == "verify_button":
		e.handleVerifyClick(ctx, i)
	case strings.HasPrefix(i.CustomID, "open_modal_"):
		e.handleOpenDialog(ctx, i)
	case i.CustomID == "init_setup":
		e.handleInitSetup(ctx, i)
	case strings.HasPrefix(i.CustomID, "mark_sus_confirm:"):
		e.handleMarkSusConfirm(ctx, i)
	case i.CustomID == "mark_sus_cancel":
		e.respond(ctx, i, chat.Reply{Content: "Cancelled — no action taken.", EditOriginal: true})
	default:
		log.Printf("[Bot] Unhandled interaction custom id %q", i.CustomID)
	}
}

func (e *Engine) respond(ctx context.Context, i *chat.Interaction, r chat.Reply) {
	if err := e.gw.Respond(ctx, i, r); err != nil {
		log.Printf("[Bot] Failed to respond to interaction %s: %v", i.ID, err)
	}
}

func (e *Engine) privateReply(ctx context.Context, i *chat.Interaction, text string) {
	e.respond(ctx, i, chat.Reply{Content: text, Private: true})
}

// handleVerifyClick runs the self-service release flow. Button-only mode
// lifts quarantine immediately; otherwise a challenge is issued.
func (e *Engine) handleVerifyClick(ctx context.Context, i *chat.Interaction) {
	member, err := e.gw.Member(ctx, i.UserID)
	if err != nil {
		e.privateReply(ctx, i, "Could not fetch your member record.")
		return
	}

	doc := e.cfg.Snapshot()
	if doc.ButtonOnly() {
		if e.quarantine.IsQuarantined(member) {
			e.quarantine.QueueRemove(ctx, member, 0, "Verified via button")
			e.privateReply(ctx, i, "You have been verified. ✅")
		} else {
			e.privateReply(ctx, i, "You are not marked for verification.")
		}
		return
	}

	methods := doc.ChallengeMethods()
	if len(methods) == 0 {
		e.privateReply(ctx, i, "No verification methods are enabled; contact an admin.")
		return
	}

	key := challenge.Key{CommunityID: e.gw.CommunityID(), UserID: i.UserID}
	ch, err := e.challenges.Issue(key, methods, platform.Detect(member))
	if err != nil {
		log.Printf("[Bot] Failed to issue challenge for user %d: %v", i.UserID, err)
		e.privateReply(ctx, i, "Could not start a challenge; try again later.")
		return
	}

	e.respond(ctx, i, chat.Reply{
		Content: fmt.Sprintf("🔒 **Private challenge** — %s\n\nClick **Submit Answer** to open the secure answer dialog. Your answer will be private and visible only to you.", ch.Prompt),
		Private: true,
		Components: []chat.Component{
			{CustomID: fmt.Sprintf("open_modal_%d", i.UserID), Label: "Submit Answer", Style: "primary"},
		},
	})
}

// handleOpenDialog opens the private answer dialog for the clicking user.
func (e *Engine) handleOpenDialog(ctx context.Context, i *chat.Interaction) {
	targetID, err := strconv.ParseInt(strings.TrimPrefix(i.CustomID, "open_modal_"), 10, 64)
	if err != nil {
		e.privateReply(ctx, i, "Invalid button target.")
		return
	}
	if i.UserID != targetID {
		e.privateReply(ctx, i, "This button is not for you.")
		return
	}

	key := challenge.Key{CommunityID: e.gw.CommunityID(), UserID: i.UserID}
	ch, ok := e.challenges.Active(key)
	if !ok {
		e.privateReply(ctx, i, "No active challenge found. Click Verify again.")
		return
	}

	label := ch.Prompt
	if len(label) > 100 {
		label = label[:100]
	}
	if err := e.gw.OpenDialog(ctx, i, chat.Dialog{
		CustomID:    "verify_answer",
		Title:       "Enter your answer (private)",
		Label:       label,
		Placeholder: "Type your answer here",
	}); err != nil {
		log.Printf("[Bot] Failed to open answer dialog for user %d: %v", i.UserID, err)
	}
}

// handleAnswerSubmission validates a submitted challenge answer. Success
// lifts quarantine and emits an audit line with the surfaces captured at
// issuance.
func (e *Engine) handleAnswerSubmission(ctx context.Context, i *chat.Interaction) {
	key := challenge.Key{CommunityID: e.gw.CommunityID(), UserID: i.UserID}
	ch, result := e.challenges.Submit(key, i.Input)

	switch result {
	case challenge.ResultNone:
		e.privateReply(ctx, i, "No active challenge found or it expired. Click Verify again.")
	case challenge.ResultExpired:
		e.privateReply(ctx, i, "Challenge expired. Click Verify again to start a new one.")
	case challenge.ResultWrong:
		e.privateReply(ctx, i, "❌ Incorrect answer. Click Verify again to try another challenge.")
	case challenge.ResultSuccess:
		member, err := e.gw.Member(ctx, i.UserID)
		if err != nil {
			e.privateReply(ctx, i, "Member record not found.")
			return
		}
		e.quarantine.QueueRemove(ctx, member, i.UserID, "Verified via challenge")
		e.audit.Emit(ctx, fmt.Sprintf(
			"✅\nUser: %s\nServer Nickname: %s\nID: %d\nMention: <@%d>\nPlatform(s): %s\nAction: verified via challenge",
			member.Tag, member.DisplayName, member.ID, member.ID, platform.Join(ch.Surfaces, ", ")))
		e.privateReply(ctx, i, "✅ Correct — you are verified and can now access the server.")
	}
}

// handleInitSetup starts the interactive setup flow from the admin prompt.
func (e *Engine) handleInitSetup(ctx context.Context, i *chat.Interaction) {
	if !e.isPrivileged(ctx, i.UserID) {
		e.privateReply(ctx, i, "You are not allowed to configure verification.")
		return
	}
	e.privateReply(ctx, i, "Opening interactive setup in this channel...")
	e.runSetup(ctx, i.UserID)
}

// handleMarkSusConfirm applies the manual quarantine offered after a
// single-user scan.
func (e *Engine) handleMarkSusConfirm(ctx context.Context, i *chat.Interaction) {
	if !e.isPrivileged(ctx, i.UserID) {
		e.privateReply(ctx, i, "Only configured admins may confirm marking Sus.")
		return
	}
	targetID, err := strconv.ParseInt(strings.TrimPrefix(i.CustomID, "mark_sus_confirm:"), 10, 64)
	if err != nil {
		e.privateReply(ctx, i, "Invalid confirm target.")
		return
	}
	target, err := e.gw.Member(ctx, targetID)
	if err != nil {
		e.privateReply(ctx, i, "Target member not found.")
		return
	}

	invoker, _ := e.gw.Member(ctx, i.UserID)
	actor := fmt.Sprintf("<@%d>", i.UserID)
	if invoker != nil {
		actor = invoker.Tag
	}
	e.quarantine.QueueAdd(ctx, target, fmt.Sprintf("Marked Sus via manual scan by %s", actor))
	e.respond(ctx, i, chat.Reply{
		Content:      fmt.Sprintf("✅ <@%d> has been marked Sus and logged.", targetID),
		EditOriginal: true,
	})
}

// runSetup drives the interactive setup conversation in the intake
// channel: a method multi-select with confirm/cancel, each response
// awaited for at most SetupTimeout.
func (e *Engine) runSetup(ctx context.Context, invokerID int64) {
	menu := &chat.SelectMenu{
		CustomID:    "setup_methods",
		Placeholder: "Select verification methods",
		MinValues:   1,
		MaxValues:   3,
		Options: []chat.SelectOption{
			{Label: "Quick Verify Button", Value: "button", Description: "One-click verify (fast)"},
			{Label: "Per-user typed word", Value: "word", Description: "User types generated word (modal)"},
			{Label: "Math problem", Value: "math", Description: "User solves math problem (modal)"},
		},
	}
	buttons := []chat.Component{
		{CustomID: "setup_confirm", Label: "Confirm", Style: "success"},
		{CustomID: "setup_cancel", Label: "Cancel", Style: "secondary"},
	}

	prompt, err := e.gw.SendMessage(ctx, e.set.IntakeChannelID,
		fmt.Sprintf("<@%d>, choose verification method(s) to enable.", invokerID),
		&chat.SendOptions{SilentMentions: true, Select: menu, Components: buttons})
	if err != nil {
		log.Printf("[Bot] Failed to post setup prompt: %v", err)
		return
	}

	waiter := make(chan *chat.Interaction, 8)
	e.mu.Lock()
	e.waiters[prompt.ID] = waiter
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.waiters, prompt.ID)
		e.mu.Unlock()
	}()

	var selected []string
	for {
		var i *chat.Interaction
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.SetupTimeout):
			if m, err := e.gw.FetchMessage(ctx, e.set.IntakeChannelID, prompt.ID); err == nil {
				_ = e.gw.EditMessage(ctx, e.set.IntakeChannelID, prompt.ID, m.Content+"\n\nSetup timed out (no response).")
			}
			return
		case i = <-waiter:
		}
		if i.UserID != invokerID {
			continue
		}

		if len(i.Values) > 0 {
			selected = i.Values
			e.respond(ctx, i, chat.Reply{
				Content:      fmt.Sprintf("Selected: %s. Click Confirm to apply.", strings.Join(selected, ", ")),
				EditOriginal: true,
				Components:   buttons,
				Select:       menu,
			})
			continue
		}

		switch i.CustomID {
		case "setup_confirm":
			if len(selected) == 0 {
				e.privateReply(ctx, i, "Please choose at least one method before confirming.")
				continue
			}
			e.finishSetup(ctx, i, selected)
			return
		case "setup_cancel":
			_ = e.gw.DeleteMessage(ctx, e.set.IntakeChannelID, prompt.ID)
			e.privateReply(ctx, i, "Setup cancelled.")
			return
		default:
			e.privateReply(ctx, i, "Unhandled component.")
		}
	}
}

// finishSetup persists the chosen methods, clears old bot messages from
// the intake channel (the setup prompt included), re-ensures the
// quarantine role, and posts the fresh persistent verify control.
func (e *Engine) finishSetup(ctx context.Context, i *chat.Interaction, selected []string) {
	methods := make([]config.Method, 0, len(selected))
	for _, v := range selected {
		if m := config.Method(v); config.KnownMethod(m) {
			methods = append(methods, m)
		}
	}

	if err := e.cfg.Update(func(d *config.Document) {
		d.VerificationMethods = methods
		d.VerifyMessageID = nil
		d.AdminPromptMessageID = nil
	}); err != nil {
		log.Printf("[Bot] Failed to persist verification methods: %v", err)
		e.privateReply(ctx, i, "Failed to save the configuration.")
		return
	}

	e.deleteBotMessages(ctx, e.set.IntakeChannelID)

	if _, err := e.quarantine.EnsureRole(ctx); err != nil {
		log.Printf("[Bot] Setup: failed to ensure quarantine role: %v", err)
	}

	msg, err := e.gw.SendMessage(ctx, e.set.IntakeChannelID, verifyMessageText(e.cfg.Snapshot()), &chat.SendOptions{
		Components: []chat.Component{
			{CustomID: "verify_button", Label: "Verify", Style: "primary"},
		},
	})
	if err != nil {
		log.Printf("[Bot] Failed to post persistent verify message: %v", err)
	} else if err := e.cfg.Update(func(d *config.Document) {
		id := msg.ID
		d.VerifyMessageID = &id
	}); err != nil {
		log.Printf("[Bot] Failed to persist verify message id: %v", err)
	}

	e.privateReply(ctx, i, "Verification configured and previous bot messages removed. New persistent verify message created.")
	e.logEvent("setup_complete", map[string]interface{}{
		"methods": strings.Join(selected, ","),
	})
}

// deleteBotMessages removes this process's recent messages from a channel.
func (e *Engine) deleteBotMessages(ctx context.Context, channelID int64) {
	msgs, err := e.gw.ChannelMessages(ctx, channelID, historySweepLimit)
	if err != nil {
		log.Printf("[Bot] Failed to list channel %d for cleanup: %v", channelID, err)
		return
	}
	for _, m := range msgs {
		if m.AuthorID != e.gw.BotUserID() {
			continue
		}
		if err := e.gw.DeleteMessage(ctx, channelID, m.ID); err != nil {
			log.Printf("[Bot] Failed to delete message %d during cleanup: %v", m.ID, err)
		}
	}
}
