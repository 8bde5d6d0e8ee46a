package bot

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/ChokorKassem/web-client-detector/internal/config"
	"github.com/ChokorKassem/web-client-detector/internal/platform"
	"github.com/ChokorKassem/web-client-detector/internal/scan"
	"github.com/ChokorKassem/web-client-detector/pkg/chat"
)

var (
	channelRefPattern = regexp.MustCompile(`^<#?(\d{17,20})>?$`)
	userRefPattern    = regexp.MustCompile(`^<@!?(\d+)>$`)
	rawIDPattern      = regexp.MustCompile(`^\d{17,20}$`)
	isoBoundPattern   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
)

// responder abstracts the reply path: channel messages for prefix
// commands, private interaction replies for structured commands.
type responder struct {
	e           *Engine
	channelID   int64
	interaction *chat.Interaction
}

func (r responder) reply(ctx context.Context, text string) {
	r.send(ctx, text, nil)
}

func (r responder) send(ctx context.Context, text string, components []chat.Component) {
	if r.interaction != nil {
		if err := r.e.gw.Respond(ctx, r.interaction, chat.Reply{Content: text, Private: true, Components: components}); err != nil {
			log.Printf("[Bot] Failed to respond to interaction: %v", err)
		}
		return
	}
	if _, err := r.e.gw.SendMessage(ctx, r.channelID, text, &chat.SendOptions{SilentMentions: true, Components: components}); err != nil {
		log.Printf("[Bot] Failed to send command reply: %v", err)
	}
}

// handleMessage parses a prefix command out of a channel message.
func (e *Engine) handleMessage(ctx context.Context, msg *chat.Message) {
	if msg.AuthorID == e.gw.BotUserID() {
		return
	}
	if m, err := e.gw.Member(ctx, msg.AuthorID); err == nil && m.Bot {
		return
	}

	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, e.set.CommandPrefix) {
		return
	}
	body := strings.TrimSpace(strings.TrimPrefix(content, e.set.CommandPrefix))
	args := strings.Fields(body)
	if len(args) == 0 {
		return
	}

	name := strings.ToLower(args[0])
	log.Printf("[Bot] Prefix command %q from user %d (args=%v)", name, msg.AuthorID, args[1:])
	e.runCommand(ctx, name, args[1:], msg.AuthorID, responder{e: e, channelID: msg.ChannelID})
}

// handleCommand runs a structured command. Structured commands carry
// pre-parsed arguments but share the prefix-command handlers.
func (e *Engine) handleCommand(ctx context.Context, cmd *chat.Command) {
	var args []string
	for _, key := range []string{"channel", "user", "member", "duration", "start", "end", "action"} {
		if v, ok := cmd.Args[key]; ok && v != "" {
			args = append(args, v)
		}
	}
	if v, ok := cmd.Args["apply"]; ok && (v == "true" || v == "apply") {
		args = append(args, "apply")
	}

	log.Printf("[Bot] Structured command %q from user %d", cmd.Name, cmd.UserID)
	r := responder{e: e, channelID: cmd.ChannelID, interaction: cmd.Interaction}
	e.runCommand(ctx, strings.ToLower(cmd.Name), args, cmd.UserID, r)
}

func (e *Engine) runCommand(ctx context.Context, name string, args []string, userID int64, r responder) {
	switch name {
	case "help":
		e.cmdHelp(ctx, r)
	case "ping":
		r.reply(ctx, "pong")
	case "setlog":
		e.cmdSetLog(ctx, args, userID, r)
	case "scan":
		e.cmdScan(ctx, args, userID, r)
	case "setupverify":
		e.cmdSetupVerify(ctx, userID, r)
	case "verifyuser", "unsus":
		e.cmdUnsus(ctx, args, userID, r)
	case "autoscan":
		e.cmdAutoscan(ctx, args, userID, r)
	default:
		log.Printf("[Bot] Unknown command %q (no action taken)", name)
	}
}

func (e *Engine) cmdHelp(ctx context.Context, r responder) {
	p := e.set.CommandPrefix
	r.reply(ctx, strings.Join([]string{
		"Available prefix commands:",
		fmt.Sprintf("- `%sping` — quick ping test", p),
		fmt.Sprintf("- `%ssetlog #channel` — set log channel (admin)", p),
		fmt.Sprintf("- `%sscan [options]` — scan members (admin). Examples:", p),
		fmt.Sprintf("    - `%sscan` (bulk scan)", p),
		fmt.Sprintf("    - `%sscan last_day` (filter by join time)", p),
		fmt.Sprintf("    - `%sscan @user` (single user)", p),
		fmt.Sprintf("    - `%sscan last_day apply` (scan + mark web-only as Sus)", p),
		fmt.Sprintf("- `%ssetupverify` — open interactive setup (admin, run in verify channel)", p),
		fmt.Sprintf("- `%sverifyuser @user` / `%sunsus @user` — manually remove Sus (admin)", p, p),
		fmt.Sprintf("- `%sautoscan on|off` — toggle autoscan (admin)", p),
	}, "\n"))
}

func (e *Engine) cmdSetLog(ctx context.Context, args []string, userID int64, r responder) {
	if !e.isPrivileged(ctx, userID) {
		r.reply(ctx, "Only configured admin roles may run this command.")
		return
	}
	if len(args) < 1 {
		r.reply(ctx, fmt.Sprintf("Usage: %ssetlog #channel or %ssetlog CHANNEL_ID", e.set.CommandPrefix, e.set.CommandPrefix))
		return
	}
	m := channelRefPattern.FindStringSubmatch(args[0])
	if m == nil {
		r.reply(ctx, "Invalid channel mention/ID")
		return
	}
	channelID, _ := strconv.ParseInt(m[1], 10, 64)
	if !e.gw.ChannelExists(ctx, channelID) {
		r.reply(ctx, "Channel not found or not text-based.")
		return
	}
	if err := e.cfg.Update(func(d *config.Document) {
		d.LogChannelID = &channelID
	}); err != nil {
		log.Printf("[Bot] Failed to persist log channel: %v", err)
		r.reply(ctx, "Failed to save the log channel.")
		return
	}
	r.reply(ctx, fmt.Sprintf("Log channel updated to <#%d>", channelID))
}

func (e *Engine) cmdUnsus(ctx context.Context, args []string, userID int64, r responder) {
	if !e.isPrivileged(ctx, userID) {
		r.reply(ctx, "Only configured admin roles may run this command.")
		return
	}
	targetID, ok := parseUserRef(args)
	if !ok {
		r.reply(ctx, fmt.Sprintf("Mention a user: %sunsus @user", e.set.CommandPrefix))
		return
	}
	target, err := e.gw.Member(ctx, targetID)
	if err != nil {
		r.reply(ctx, "Target member not found.")
		return
	}
	e.quarantine.QueueRemove(ctx, target, userID, "Manual unsus via command")
	r.reply(ctx, fmt.Sprintf("Removed Sus role (if present) from <@%d>. Logged to the log channel.", targetID))
}

func (e *Engine) cmdAutoscan(ctx context.Context, args []string, userID int64, r responder) {
	if !e.isPrivileged(ctx, userID) {
		r.reply(ctx, "Only configured admins can run this.")
		return
	}
	if len(args) < 1 {
		r.reply(ctx, fmt.Sprintf("Usage: %sautoscan on|off", e.set.CommandPrefix))
		return
	}
	enabled := strings.EqualFold(args[0], "on")
	if err := e.cfg.Update(func(d *config.Document) {
		d.AutoscanEnabled = enabled
	}); err != nil {
		log.Printf("[Bot] Failed to persist autoscan flag: %v", err)
		r.reply(ctx, "Failed to save the autoscan setting.")
		return
	}
	state := "DISABLED"
	if enabled {
		state = "ENABLED"
	}
	r.reply(ctx, fmt.Sprintf("Auto-scan is now %s.", state))
}

func (e *Engine) cmdSetupVerify(ctx context.Context, userID int64, r responder) {
	if !e.isPrivileged(ctx, userID) {
		r.reply(ctx, "You are not allowed to configure verification.")
		return
	}
	if r.interaction == nil && r.channelID != e.set.IntakeChannelID {
		r.reply(ctx, fmt.Sprintf("Run this command inside the configured verify channel (ID %d).", e.set.IntakeChannelID))
		return
	}
	if r.interaction != nil && r.interaction.ChannelID != e.set.IntakeChannelID {
		r.reply(ctx, fmt.Sprintf("Run this command inside the configured verify channel (ID %d).", e.set.IntakeChannelID))
		return
	}
	r.reply(ctx, "Opening interactive setup in this channel...")
	e.runSetup(ctx, userID)
}

// cmdScan handles both single-user and bulk scans. Argument tokens:
// a user mention or raw id selects single-user mode; a duration bucket
// or explicit apply token tunes bulk mode.
func (e *Engine) cmdScan(ctx context.Context, args []string, userID int64, r responder) {
	if !e.isPrivileged(ctx, userID) {
		r.reply(ctx, "Only configured admins can run this.")
		return
	}

	var (
		targetID int64
		filters  scan.Filters
		apply    bool
	)
	for _, raw := range args {
		token := strings.Trim(strings.TrimSpace(raw), `\`)
		lower := strings.ToLower(token)
		switch {
		case lower == "apply" || lower == "--apply":
			apply = true
		case isDurationBucket(lower):
			filters.Duration = lower
		default:
			if m := userRefPattern.FindStringSubmatch(token); m != nil {
				targetID, _ = strconv.ParseInt(m[1], 10, 64)
			} else if rawIDPattern.MatchString(token) {
				targetID, _ = strconv.ParseInt(token, 10, 64)
			} else if isoBoundPattern.MatchString(token) {
				// bare ISO timestamps fill start then end
				if filters.Start == "" {
					filters.Start = token
				} else {
					filters.End = token
				}
			}
		}
	}

	if targetID != 0 {
		e.scanSingle(ctx, targetID, r)
		return
	}

	rows := e.scanner.ScanAll(ctx, filters)
	if len(rows) == 0 {
		r.reply(ctx, "No members matched the criteria.")
		return
	}
	exported, err := e.reporter.Report(ctx, rows)
	if err != nil {
		log.Printf("[Bot] Scan report failed: %v", err)
		r.reply(ctx, "Scan completed but the report could not be delivered.")
		return
	}
	if exported {
		r.reply(ctx, "Bulk scan complete and CSV uploaded to the log channel.")
	} else {
		r.reply(ctx, "Bulk scan complete and logged.")
	}

	if apply {
		n := e.scanner.Apply(ctx, rows, e.quarantine.QueueAdd, "Marked via scan applySus")
		if n > 0 {
			e.audit.Emit(ctx, fmt.Sprintf("Applied Sus to %d users (queued).", n))
			r.reply(ctx, fmt.Sprintf("Applied Sus to %d users (queued).", n))
		}
	}
}

// scanSingle reports one member and, when the member looks web-only,
// offers a confirm/cancel control to quarantine them.
func (e *Engine) scanSingle(ctx context.Context, targetID int64, r responder) {
	target, err := e.gw.Member(ctx, targetID)
	if err != nil {
		r.reply(ctx, "Member not found or has no presence info.")
		return
	}
	row := e.scanner.ScanMember(ctx, target)

	if e.scanner.Suspicious(row.Platforms) {
		r.send(ctx,
			fmt.Sprintf("User <@%d> appears to be web-only (%s). Mark as Sus?", targetID, platform.Join(row.Platforms, ", ")),
			[]chat.Component{
				{CustomID: fmt.Sprintf("mark_sus_confirm:%d", targetID), Label: "Confirm — mark as Sus", Style: "danger"},
				{CustomID: "mark_sus_cancel", Label: "Cancel", Style: "secondary"},
			})
		return
	}

	text := platform.Join(row.Platforms, ", ")
	if text == "" {
		text = "offline/no-presence"
	}
	joined := ""
	if !row.JoinedAt.IsZero() {
		joined = row.JoinedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	r.reply(ctx, fmt.Sprintf("Platforms for %s: %s\nID: %d\nJoined: %s", row.Tag, text, row.UserID, joined))
}

func parseUserRef(args []string) (int64, bool) {
	for _, a := range args {
		if m := userRefPattern.FindStringSubmatch(a); m != nil {
			id, err := strconv.ParseInt(m[1], 10, 64)
			return id, err == nil
		}
		if rawIDPattern.MatchString(a) {
			id, err := strconv.ParseInt(a, 10, 64)
			return id, err == nil
		}
	}
	return 0, false
}

func isDurationBucket(s string) bool {
	_, ok := scan.DurationWindow(s)
	return ok
}
