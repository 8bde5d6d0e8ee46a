// Package quarantine applies and lifts the restricted access tag. Every tag
// change goes through the mutation queue; this package only builds the
// operations and their side-effect chain.
package quarantine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ChokorKassem/web-client-detector/internal/audit"
	"github.com/ChokorKassem/web-client-detector/internal/config"
	"github.com/ChokorKassem/web-client-detector/internal/platform"
	"github.com/ChokorKassem/web-client-detector/internal/queue"
	"github.com/ChokorKassem/web-client-detector/internal/snapshot"
	"github.com/ChokorKassem/web-client-detector/pkg/chat"
)

// settleDelay gives the platform time to propagate permission overwrites
// after a tag add, before the follow-up member refresh.
const settleDelay = 500 * time.Millisecond

// Manager owns the quarantine-tag lifecycle.
type Manager struct {
	gw    chat.Gateway
	cfg   *config.Config
	cache *snapshot.Cache
	queue *queue.Queue
	audit *audit.Logger

	roleName        string
	intakeChannelID int64
	chatChannelID   int64 // quarantine chat, 0 when not configured

	// Settle is the post-add propagation wait. Tests shorten it.
	Settle time.Duration
}

func New(gw chat.Gateway, cfg *config.Config, cache *snapshot.Cache, q *queue.Queue, auditLog *audit.Logger, roleName string, intakeChannelID, chatChannelID int64) *Manager {
	return &Manager{
		gw:              gw,
		cfg:             cfg,
		cache:           cache,
		queue:           q,
		audit:           auditLog,
		roleName:        roleName,
		intakeChannelID: intakeChannelID,
		chatChannelID:   chatChannelID,
		Settle:          settleDelay,
	}
}

// RoleID returns the configured quarantine role, 0 when not yet resolved.
func (m *Manager) RoleID() int64 {
	if doc := m.cfg.Snapshot(); doc.QuarantineRoleID != nil {
		return *doc.QuarantineRoleID
	}
	return 0
}

// IsQuarantined reports whether the member currently carries the tag.
func (m *Manager) IsQuarantined(member *chat.Member) bool {
	roleID := m.RoleID()
	return roleID != 0 && member.HasRole(roleID)
}

// EnsureRole resolves the quarantine role — by configured id, then by name,
// then by creating it — persists the id, and applies channel visibility
// overwrites: the intake and quarantine-chat channels stay visible to the
// tag, everything else is hidden.
func (m *Manager) EnsureRole(ctx context.Context) (int64, error) {
	var role *chat.Role

	if id := m.RoleID(); id != 0 {
		if r, err := m.gw.RoleByID(ctx, id); err == nil {
			role = r
		}
	}
	if role == nil {
		if r, err := m.gw.RoleByName(ctx, m.roleName); err == nil {
			role = r
		}
	}
	if role == nil {
		r, err := m.gw.CreateRole(ctx, m.roleName, "Create quarantine role for verification")
		if err != nil {
			return 0, fmt.Errorf("failed to create quarantine role: %w", err)
		}
		role = r
	}

	if err := m.cfg.Update(func(d *config.Document) {
		id := role.ID
		d.QuarantineRoleID = &id
	}); err != nil {
		return 0, fmt.Errorf("failed to persist quarantine role id: %w", err)
	}

	m.applyOverwrites(ctx, role.ID)
	return role.ID, nil
}

func (m *Manager) applyOverwrites(ctx context.Context, roleID int64) {
	channels, err := m.gw.ChannelIDs(ctx)
	if err != nil {
		log.Printf("[Quarantine] Failed to list channels for overwrites: %v", err)
		return
	}
	allowed := map[int64]bool{m.intakeChannelID: true}
	if m.chatChannelID != 0 {
		allowed[m.chatChannelID] = true
	}
	for _, ch := range channels {
		if err := m.gw.SetChannelRoleVisibility(ctx, ch, roleID, allowed[ch]); err != nil {
			log.Printf("[Quarantine] Failed to set visibility on channel %d: %v", ch, err)
		}
	}
}

// QueueAdd snapshots the member's surfaces and enqueues the tag add. A
// member already carrying the tag is skipped with an audit line.
func (m *Manager) QueueAdd(ctx context.Context, member *chat.Member, reason string) {
	roleID := m.RoleID()
	if roleID == 0 {
		log.Printf("[Quarantine] No quarantine role configured, skipping add for user %d", member.ID)
		return
	}
	if member.HasRole(roleID) {
		m.audit.Emit(ctx, fmt.Sprintf("User already quarantined: %s (id %d)", member.Tag, member.ID))
		return
	}

	// snapshot surfaces before the tag add
	snapshotSurfaces := platform.Detect(member)
	m.cache.Put(ctx, member.ID, snapshotSurfaces)

	userID := member.ID
	tag, displayName := member.Tag, member.DisplayName
	m.queue.Enqueue(queue.Operation{
		UserID: userID,
		Kind:   queue.KindAddTag,
		Reason: reason,
		Run: func(ctx context.Context) error {
			if err := m.gw.AddRole(ctx, userID, roleID, reason); err != nil {
				return fmt.Errorf("failed to add quarantine tag: %w", err)
			}

			select {
			case <-time.After(m.Settle):
			case <-ctx.Done():
				return ctx.Err()
			}

			surfacesNow := snapshotSurfaces
			if refreshed, err := m.gw.RefreshMember(ctx, userID); err == nil {
				if live := platform.Detect(refreshed); len(live) > 0 {
					surfacesNow = live
				}
			}

			m.audit.Emit(ctx, fmt.Sprintf(
				"User: %s\nServer Nickname: %s\nID: %d\nMention: <@%d>\nPlatform(s): %s\nAction: %s",
				tag, displayName, userID, userID, platform.Join(surfacesNow, ", "), reason))

			m.sendQuarantineNotice(ctx, userID)
			return nil
		},
	})
}

// sendQuarantineNotice posts a moderation-visible, non-alerting mention in
// the intake channel and schedules its deletion after the configured TTL.
func (m *Manager) sendQuarantineNotice(ctx context.Context, userID int64) {
	content := fmt.Sprintf("<@%d> (moderation note) You were placed into verification. Please verify.", userID)
	msg, err := m.gw.SendMessage(ctx, m.intakeChannelID, content, &chat.SendOptions{SilentMentions: true})
	if err != nil {
		log.Printf("[Quarantine] Failed to send quarantine notice for user %d: %v", userID, err)
		return
	}
	ttl := time.Duration(m.cfg.Snapshot().MentionDeleteSeconds) * time.Second
	channelID, messageID := msg.ChannelID, msg.ID
	time.AfterFunc(ttl, func() {
		if err := m.gw.DeleteMessage(context.Background(), channelID, messageID); err != nil {
			log.Printf("[Quarantine] Failed to delete quarantine notice %d: %v", messageID, err)
		}
	})
}

// QueueRemove enqueues the tag removal. A member without the tag only gets
// its snapshot cleared.
func (m *Manager) QueueRemove(ctx context.Context, member *chat.Member, byUserID int64, reason string) {
	roleID := m.RoleID()
	if roleID == 0 {
		return
	}
	if !member.HasRole(roleID) {
		m.cache.Forget(ctx, member.ID)
		return
	}

	userID := member.ID
	tag, displayName := member.Tag, member.DisplayName
	surfaces := platform.Detect(member)
	m.queue.Enqueue(queue.Operation{
		UserID: userID,
		Kind:   queue.KindRemoveTag,
		Reason: reason,
		Run: func(ctx context.Context) error {
			actor := "system"
			if byUserID != 0 {
				actor = fmt.Sprintf("<@%d>", byUserID)
			}
			if err := m.gw.RemoveRole(ctx, userID, roleID, fmt.Sprintf("%s by %s", reason, actor)); err != nil {
				return fmt.Errorf("failed to remove quarantine tag: %w", err)
			}
			m.cache.Forget(ctx, userID)
			m.audit.Emit(ctx, fmt.Sprintf(
				"✅\nUser: %s\nServer Nickname: %s\nID: %d\nMention: <@%d>\nPlatform(s): %s\nAction: %s by %s",
				tag, displayName, userID, userID, platform.Join(surfaces, ", "), reason, actor))
			return nil
		},
	})
}
