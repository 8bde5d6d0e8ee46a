// Package notify runs the periodic reminder sweep for quarantined users.
package notify

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ChokorKassem/web-client-detector/internal/audit"
	"github.com/ChokorKassem/web-client-detector/internal/config"
	"github.com/ChokorKassem/web-client-detector/pkg/chat"
)

// chunkSize bounds how many users one reminder message mentions.
const chunkSize = 50

// Notifier mentions every quarantined user on a cron cadence. Reminder
// messages never alert and self-delete after the configured lifetime.
type Notifier struct {
	gw        chat.Gateway
	cfg       *config.Config
	audit     *audit.Logger
	channelID int64 // intake channel the reminders land in
	loc       *time.Location
	cron      *cron.Cron

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

func New(gw chat.Gateway, cfg *config.Config, auditLog *audit.Logger, intakeChannelID int64, loc *time.Location) *Notifier {
	return &Notifier{
		gw:        gw,
		cfg:       cfg,
		audit:     auditLog,
		channelID: intakeChannelID,
		loc:       loc,
		sleep:     time.Sleep,
	}
}

// Start schedules the sweep using the configured cron spec. The spec is
// read once; changing it requires a restart.
func (n *Notifier) Start(ctx context.Context) error {
	spec := n.cfg.Snapshot().PeriodicNotifyCron
	c := cron.New(cron.WithLocation(n.loc))
	if _, err := c.AddFunc(spec, func() { n.Sweep(ctx) }); err != nil {
		return fmt.Errorf("invalid reminder cron spec %q: %w", spec, err)
	}
	c.Start()
	n.cron = c
	log.Printf("[Notify] Reminder sweep scheduled (spec=%q tz=%s)", spec, n.loc)
	return nil
}

// Stop halts the schedule. A sweep already running completes.
func (n *Notifier) Stop() {
	if n.cron != nil {
		n.cron.Stop()
	}
}

// Sweep runs one reminder pass. No-op when reminders are disabled, no
// quarantine role is configured, or nobody is quarantined.
func (n *Notifier) Sweep(ctx context.Context) {
	doc := n.cfg.Snapshot()
	if !doc.PeriodicNotifyEnabled {
		return
	}
	if doc.QuarantineRoleID == nil || *doc.QuarantineRoleID == 0 {
		return
	}
	roleID := *doc.QuarantineRoleID

	suspects := n.quarantined(ctx, roleID)
	if len(suspects) == 0 {
		return
	}

	ttl := time.Duration(doc.MentionDeleteSeconds) * time.Second
	log.Printf("[Notify] Reminding %d quarantined users in chunks of %d", len(suspects), chunkSize)

	for start := 0; start < len(suspects); start += chunkSize {
		end := start + chunkSize
		if end > len(suspects) {
			end = len(suspects)
		}
		n.remind(ctx, suspects[start:end], ttl)
	}

	n.audit.Emit(ctx, fmt.Sprintf("Periodic notifier triggered: mentioned %d quarantined members.", len(suspects)))
}

// quarantined lists non-bot members carrying the role, sorted by id so
// chunk boundaries are stable across sweeps.
func (n *Notifier) quarantined(ctx context.Context, roleID int64) []*chat.Member {
	members := n.gw.CachedMembers()
	if len(members) == 0 {
		fetched, err := n.gw.FetchMembers(ctx)
		if err != nil {
			log.Printf("[Notify] Member enumeration failed, skipping sweep: %v", err)
			return nil
		}
		members = fetched
	}

	var out []*chat.Member
	for _, m := range members {
		if m == nil || m.Bot {
			continue
		}
		if m.HasRole(roleID) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// remind sends one chunk, waits out the display lifetime, then deletes
// the message. Failures are logged and the sweep moves on.
func (n *Notifier) remind(ctx context.Context, chunk []*chat.Member, ttl time.Duration) {
	mentions := make([]string, len(chunk))
	for i, m := range chunk {
		mentions[i] = fmt.Sprintf("<@%d>", m.ID)
	}
	text := strings.Join(mentions, " ") + " Please complete verification to regain access. Click **Verify** below."

	sent, err := n.gw.SendMessage(ctx, n.channelID, text, &chat.SendOptions{SilentMentions: true})
	if err != nil {
		log.Printf("[Notify] Failed to send reminder chunk: %v", err)
		return
	}
	n.sleep(ttl)
	if err := n.gw.DeleteMessage(ctx, n.channelID, sent.ID); err != nil {
		log.Printf("[Notify] Failed to delete reminder message %d: %v", sent.ID, err)
	}
}
