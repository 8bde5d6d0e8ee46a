package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChokorKassem/web-client-detector/internal/audit"
	"github.com/ChokorKassem/web-client-detector/internal/bot"
	"github.com/ChokorKassem/web-client-detector/internal/challenge"
	"github.com/ChokorKassem/web-client-detector/internal/config"
	"github.com/ChokorKassem/web-client-detector/internal/notify"
	"github.com/ChokorKassem/web-client-detector/internal/printer"
	"github.com/ChokorKassem/web-client-detector/internal/quarantine"
	"github.com/ChokorKassem/web-client-detector/internal/queue"
	"github.com/ChokorKassem/web-client-detector/internal/scan"
	"github.com/ChokorKassem/web-client-detector/internal/settings"
	"github.com/ChokorKassem/web-client-detector/internal/snapshot"
	"github.com/ChokorKassem/web-client-detector/pkg/chat"

	// Registers the "memory" connector.
	_ "github.com/ChokorKassem/web-client-detector/pkg/chat/chatfake"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var runSettingsPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the detection bot",
	Long: `Run the detection bot against the configured community.

Connects through the configured chat connector, reconciles the persistent
verify message, then processes joins, commands, and verification
interactions until interrupted. Quarantine mutations go through the
serialized queue; the periodic reminder sweeps on its cron schedule.`,
	RunE: runBot,
}

func init() {
	runCmd.Flags().StringVar(&runSettingsPath, "settings", "detector.yml", "Path to the settings file")
	rootCmd.AddCommand(runCmd)
}

func runBot(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	set, err := settings.Load(runSettingsPath)
	if err != nil {
		return printer.Error(
			"Settings invalid",
			fmt.Sprintf("Could not load settings: %v", err),
			[]string{
				"Set GUILD_ID and VERIFY_CHANNEL_ID in the environment or .env",
				"Or provide a detector.yml and pass --settings",
			},
		)
	}
	if set.BotToken == "" && set.Connector != "memory" {
		return printer.Error(
			"Missing bot token",
			fmt.Sprintf("The %q connector needs credentials.", set.Connector),
			[]string{"Set BOT_TOKEN in the environment or .env"},
		)
	}
	printer.Step("Settings loaded (community %d, connector %q)\n", set.CommunityID, set.Connector)

	cfg, err := config.Load(set.ConfigPath, config.Defaults(set.LogChannelID))
	if err != nil {
		return printer.Error(
			"Config unavailable",
			fmt.Sprintf("Could not load %s: %v", set.ConfigPath, err),
			[]string{"Fix or remove the file; a fresh one is created with defaults"},
		)
	}

	store, cleanup, err := openSnapshotStore(ctx, set)
	if err != nil {
		return err
	}
	defer cleanup()
	cache := snapshot.NewCache(store)

	gw, err := chat.Open(ctx, set.Connector, chat.ConnectorOptions{
		Token:       set.BotToken,
		CommunityID: set.CommunityID,
	})
	if err != nil {
		return printer.Error(
			"Connector unavailable",
			fmt.Sprintf("Could not open connector %q: %v", set.Connector, err),
			[]string{"Check CONNECTOR and the bot token"},
		)
	}
	defer gw.Close()
	printer.Success("Connected as bot user %d\n", gw.BotUserID())

	q := queue.New(func() time.Duration {
		return time.Duration(cfg.Snapshot().ProcessDelayMS) * time.Millisecond
	})
	go q.Run(ctx)

	auditLog := audit.New(gw, cfg, set.LogChannelID)
	quar := quarantine.New(gw, cfg, cache, q, auditLog,
		set.QuarantineRoleName, set.IntakeChannelID, set.QuarantineChatChannelID)
	scanner := scan.New(gw, cache)

	notifier := notify.New(gw, cfg, auditLog, set.IntakeChannelID, set.Location())
	if err := notifier.Start(ctx); err != nil {
		return printer.Error(
			"Reminder schedule invalid",
			err.Error(),
			[]string{"Fix periodic_notify_cron in the config document"},
		)
	}
	defer notifier.Stop()

	engine := bot.NewEngine(bot.Deps{
		Gateway:    gw,
		Settings:   set,
		Config:     cfg,
		Cache:      cache,
		Queue:      q,
		Audit:      auditLog,
		Quarantine: quar,
		Challenges: challenge.NewEngine(),
		Scanner:    scanner,
		Reporter:   scan.NewReporter(auditLog),
	})

	printer.Info("Bot running. Press Ctrl+C to stop.\n")
	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("bot stopped: %w", err)
	}
	printer.Success("Shut down cleanly\n")
	return nil
}

// openSnapshotStore picks the Redis store when an address is configured and
// falls back to the JSON document store otherwise.
func openSnapshotStore(ctx context.Context, set *settings.Settings) (snapshot.Store, func(), error) {
	if set.SnapshotRedisAddr == "" {
		printer.Step("Using snapshot file %s\n", set.SnapshotPath)
		return snapshot.OpenFileStore(set.SnapshotPath), func() {}, nil
	}

	store, err := snapshot.NewRedisStore(&redis.Options{Addr: set.SnapshotRedisAddr}, set.CommunityID)
	if err != nil {
		return nil, nil, printer.Error(
			"Snapshot store unavailable",
			fmt.Sprintf("Could not create Redis snapshot store: %v", err),
			nil,
		)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = store.Close()
		return nil, nil, printer.Error(
			"Snapshot store unreachable",
			fmt.Sprintf("Redis at %s did not answer: %v", set.SnapshotRedisAddr, err),
			[]string{
				"Check snapshot_redis_addr in the settings file",
				"Or unset it to use the JSON snapshot file",
			},
		)
	}
	printer.Step("Using Redis snapshot store at %s\n", set.SnapshotRedisAddr)
	return store, func() { _ = store.Close() }, nil
}
