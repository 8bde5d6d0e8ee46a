// Package audit emits moderation audit lines to the configured log channel.
// Delivery is best-effort: when no channel is configured or the platform
// send fails, entries fall back to the process log and the caller proceeds.
package audit

import (
	"context"
	"log"

	"github.com/ChokorKassem/web-client-detector/internal/config"
	"github.com/ChokorKassem/web-client-detector/pkg/chat"
)

// Logger writes audit entries to a community channel.
type Logger struct {
	gw       chat.Gateway
	cfg      *config.Config
	fallback int64 // environment-default log channel, 0 when unset
}

// New creates a logger. fallbackChannelID is used whenever the config
// document carries no log channel.
func New(gw chat.Gateway, cfg *config.Config, fallbackChannelID int64) *Logger {
	return &Logger{gw: gw, cfg: cfg, fallback: fallbackChannelID}
}

// channelID resolves the active log destination, 0 when none is set.
func (l *Logger) channelID() int64 {
	if doc := l.cfg.Snapshot(); doc.LogChannelID != nil && *doc.LogChannelID != 0 {
		return *doc.LogChannelID
	}
	return l.fallback
}

// Emit sends one audit line. Mentions inside the text never notify.
func (l *Logger) Emit(ctx context.Context, text string) {
	l.send(ctx, text, "")
}

// EmitFile sends one audit line with a file attached.
func (l *Logger) EmitFile(ctx context.Context, text, attachmentPath string) {
	l.send(ctx, text, attachmentPath)
}

func (l *Logger) send(ctx context.Context, text, attachmentPath string) {
	channelID := l.channelID()
	if channelID == 0 {
		log.Printf("[Audit] %s", text)
		return
	}
	opts := &chat.SendOptions{SilentMentions: true}
	if _, err := l.gw.SendMessage(ctx, channelID, text, opts); err != nil {
		log.Printf("[Audit] Log channel unavailable, falling back to console: %s (%v)", text, err)
		return
	}
	if attachmentPath != "" {
		opts := &chat.SendOptions{SilentMentions: true, AttachmentPath: attachmentPath}
		if _, err := l.gw.SendMessage(ctx, channelID, "", opts); err != nil {
			log.Printf("[Audit] Failed to deliver attachment %s: %v", attachmentPath, err)
		}
	}
}
