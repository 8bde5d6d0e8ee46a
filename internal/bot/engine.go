// Package bot is the dispatch engine: it consumes the gateway event stream
// and routes member joins, prefix commands, structured commands and
// component/dialog interactions to the domain components.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ChokorKassem/web-client-detector/internal/audit"
	"github.com/ChokorKassem/web-client-detector/internal/challenge"
	"github.com/ChokorKassem/web-client-detector/internal/config"
	"github.com/ChokorKassem/web-client-detector/internal/quarantine"
	"github.com/ChokorKassem/web-client-detector/internal/queue"
	"github.com/ChokorKassem/web-client-detector/internal/scan"
	"github.com/ChokorKassem/web-client-detector/internal/settings"
	"github.com/ChokorKassem/web-client-detector/internal/snapshot"
	"github.com/ChokorKassem/web-client-detector/pkg/chat"
)

const (
	// joinSettle gives the platform time to populate connection data for a
	// freshly joined member before detection runs.
	joinSettle = 2 * time.Second
	// setupTimeout bounds each wait for an admin response during the
	// interactive setup flow.
	setupTimeout = 120 * time.Second
	// historySweepLimit caps how many recent intake-channel messages the
	// setup flow inspects when clearing old bot messages.
	historySweepLimit = 500
)

// Deps are the collaborators the engine routes events to.
type Deps struct {
	Gateway    chat.Gateway
	Settings   *settings.Settings
	Config     *config.Config
	Cache      *snapshot.Cache
	Queue      *queue.Queue
	Audit      *audit.Logger
	Quarantine *quarantine.Manager
	Challenges *challenge.Engine
	Scanner    *scan.Engine
	Reporter   *scan.Reporter
}

// Engine owns the event loop. One engine per process.
type Engine struct {
	gw         chat.Gateway
	set        *settings.Settings
	cfg        *config.Config
	cache      *snapshot.Cache
	queue      *queue.Queue
	audit      *audit.Logger
	quarantine *quarantine.Manager
	challenges *challenge.Engine
	scanner    *scan.Engine
	reporter   *scan.Reporter

	// JoinSettle and SetupTimeout are shortened in tests.
	JoinSettle   time.Duration
	SetupTimeout time.Duration

	mu      sync.Mutex
	waiters map[int64]chan *chat.Interaction // setup prompt message id -> pending flow
}

func NewEngine(d Deps) *Engine {
	return &Engine{
		gw:           d.Gateway,
		set:          d.Settings,
		cfg:          d.Config,
		cache:        d.Cache,
		queue:        d.Queue,
		audit:        d.Audit,
		quarantine:   d.Quarantine,
		challenges:   d.Challenges,
		scanner:      d.Scanner,
		reporter:     d.Reporter,
		JoinSettle:   joinSettle,
		SetupTimeout: setupTimeout,
		waiters:      make(map[int64]chan *chat.Interaction),
	}
}

// Run reconciles startup state, then processes events until the context is
// cancelled or the gateway closes. Each event is handled on its own
// goroutine so a slow flow never stalls the loop.
func (e *Engine) Run(ctx context.Context) error {
	log.Printf("[Bot] Starting for community %d", e.gw.CommunityID())

	if _, err := e.quarantine.EnsureRole(ctx); err != nil {
		log.Printf("[Bot] Failed to ensure quarantine role: %v", err)
	}
	e.reconcileVerifyMessage(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Bot] Shutting down...")
			return nil
		case ev, ok := <-e.gw.Events():
			if !ok {
				log.Printf("[Bot] Gateway event stream closed")
				return nil
			}
			go e.dispatch(ctx, ev)
		}
	}
}

// dispatch routes one event. A panicking handler is logged and dropped;
// the loop must survive every event.
func (e *Engine) dispatch(ctx context.Context, ev chat.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Bot] Recovered from handler panic: %v", r)
		}
	}()

	switch ev.Type {
	case chat.EventMessage:
		if ev.Message != nil {
			e.handleMessage(ctx, ev.Message)
		}
	case chat.EventMemberJoin:
		if ev.Member != nil {
			e.handleMemberJoin(ctx, ev.Member)
		}
	case chat.EventInteraction:
		if ev.Interaction != nil {
			e.handleInteraction(ctx, ev.Interaction)
		}
	case chat.EventCommand:
		if ev.Command != nil {
			e.handleCommand(ctx, ev.Command)
		}
	}
}

// handleMemberJoin auto-scans a fresh member when autoscan is enabled:
// wait for connection data to settle, refresh, and quarantine on a
// suspicion match.
func (e *Engine) handleMemberJoin(ctx context.Context, m *chat.Member) {
	if m.Bot {
		return
	}
	if !e.cfg.Snapshot().AutoscanEnabled {
		return
	}

	select {
	case <-time.After(e.JoinSettle):
	case <-ctx.Done():
		return
	}

	if e.quarantine.RoleID() == 0 {
		if _, err := e.quarantine.EnsureRole(ctx); err != nil {
			log.Printf("[Bot] Join scan: failed to ensure quarantine role: %v", err)
			return
		}
	}

	fresh, err := e.gw.RefreshMember(ctx, m.ID)
	if err != nil {
		fresh = m
	}

	surfaces := e.scanner.ScanMember(ctx, fresh).Platforms
	e.logEvent("join_scan", map[string]interface{}{
		"user_id":   fresh.ID,
		"platforms": fmt.Sprintf("%v", surfaces),
	})
	if e.scanner.Suspicious(surfaces) {
		e.quarantine.QueueAdd(ctx, fresh, "Detected web-only on join")
	}
}

// isPrivileged reports whether a user may run mutating commands: community
// owner, platform administrator, or holder of a configured privileged role.
func (e *Engine) isPrivileged(ctx context.Context, userID int64) bool {
	if e.gw.IsOwner(userID) || e.gw.HasAdministrator(userID) {
		return true
	}
	m, err := e.gw.Member(ctx, userID)
	if err != nil {
		return false
	}
	for _, id := range m.RoleIDs {
		if e.set.IsPrivilegedRole(id) {
			return true
		}
	}
	return false
}

// reconcileVerifyMessage restores the persistent verify control after a
// restart: a still-valid message is refreshed in place, otherwise the
// admin setup prompt is posted once.
func (e *Engine) reconcileVerifyMessage(ctx context.Context) {
	doc := e.cfg.Snapshot()
	if !e.gw.ChannelExists(ctx, e.set.IntakeChannelID) {
		log.Printf("[Bot] Intake channel %d not found, skipping verify-message reconciliation", e.set.IntakeChannelID)
		return
	}

	if doc.VerifyMessageID != nil {
		if msg, err := e.gw.FetchMessage(ctx, e.set.IntakeChannelID, *doc.VerifyMessageID); err == nil {
			desired := verifyMessageText(doc)
			if msg.Content != desired {
				if err := e.gw.EditMessage(ctx, e.set.IntakeChannelID, msg.ID, desired); err != nil {
					log.Printf("[Bot] Failed to refresh verify message: %v", err)
				}
			}
			return
		}
	}

	if doc.AdminPromptMessageID != nil {
		if _, err := e.gw.FetchMessage(ctx, e.set.IntakeChannelID, *doc.AdminPromptMessageID); err == nil {
			log.Printf("[Bot] Admin setup prompt already exists")
			return
		}
	}
	e.postAdminPrompt(ctx)
}

// postAdminPrompt posts the non-alerting "configure verification" prompt
// in the intake channel and persists its id.
func (e *Engine) postAdminPrompt(ctx context.Context) {
	var mentions []string
	for _, id := range e.set.PrivilegedRoleIDs {
		mentions = append(mentions, fmt.Sprintf("<@&%d>", id))
	}
	prefix := ""
	if len(mentions) > 0 {
		prefix = strings.Join(mentions, " ") + " "
	}
	content := prefix + "Please configure verification for this server. Click **Configure Verification** or run `/setupverify` in this channel."

	msg, err := e.gw.SendMessage(ctx, e.set.IntakeChannelID, content, &chat.SendOptions{
		SilentMentions: true,
		Components: []chat.Component{
			{CustomID: "init_setup", Label: "Configure Verification", Style: "primary"},
		},
	})
	if err != nil {
		log.Printf("[Bot] Failed to post admin setup prompt: %v", err)
		return
	}
	if err := e.cfg.Update(func(d *config.Document) {
		id := msg.ID
		d.AdminPromptMessageID = &id
	}); err != nil {
		log.Printf("[Bot] Failed to persist admin prompt id: %v", err)
	}
	log.Printf("[Bot] Admin setup prompt posted (message %d)", msg.ID)
}

// verifyMessageText builds the persistent verify-control message body.
func verifyMessageText(doc config.Document) string {
	methods := make([]string, len(doc.VerificationMethods))
	for i, m := range doc.VerificationMethods {
		methods[i] = string(m)
	}
	return strings.Join([]string{
		"**Server verification — click Verify below to begin**",
		"",
		"You were placed into verification. Don’t worry — verifying will restore access if this was a mistake.",
		"",
		"Please click **Verify** in this channel and follow the private instructions to regain access.",
		"",
		"Methods enabled: " + strings.Join(methods, ", "),
	}, "\n")
}

// logEvent logs a structured event in JSON format.
func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "bot"
	data["event_type"] = eventType
	data["community_id"] = e.gw.CommunityID()

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Bot] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
