// Package settings loads the static process settings: credentials from the
// environment (optionally via a .env file) and deployment wiring from an
// optional detector.yml. Unlike the config document, settings never change
// at runtime.
package settings

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Settings is the static process configuration.
type Settings struct {
	Connector               string  `yaml:"connector"`
	CommunityID             int64   `yaml:"community_id"`
	IntakeChannelID         int64   `yaml:"intake_channel_id"`
	QuarantineChatChannelID int64   `yaml:"quarantine_chat_channel_id"`
	LogChannelID            int64   `yaml:"log_channel_id"`
	QuarantineRoleName      string  `yaml:"quarantine_role_name"`
	PrivilegedRoleIDs       []int64 `yaml:"privileged_role_ids"`
	CommandPrefix           string  `yaml:"command_prefix"`
	Timezone                string  `yaml:"timezone"`
	ConfigPath              string  `yaml:"config_path"`
	SnapshotPath            string  `yaml:"snapshot_path"`
	// SnapshotRedisAddr selects the Redis snapshot store instead of the
	// JSON document store when set.
	SnapshotRedisAddr string `yaml:"snapshot_redis_addr"`

	// BotToken comes from the environment only; it never lives in the yaml.
	BotToken string `yaml:"-"`
}

// Load reads settings from the optional yaml file at path, then applies
// environment overrides. A missing yaml file is not an error; a malformed
// one is.
func Load(path string) (*Settings, error) {
	// .env is a convenience for local runs; absence is fine.
	_ = godotenv.Load()

	s := &Settings{
		Connector:          "memory",
		QuarantineRoleName: "Sus",
		CommandPrefix:      "!",
		Timezone:           "Asia/Beirut",
		ConfigPath:         "config.json",
		SnapshotPath:       "sus_platforms.json",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults + env only
		case err != nil:
			return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, s); err != nil {
				return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
			}
		}
	}

	s.applyEnv()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) applyEnv() {
	s.BotToken = os.Getenv("BOT_TOKEN")
	if v := os.Getenv("CONNECTOR"); v != "" {
		s.Connector = v
	}
	if v, ok := envInt64("GUILD_ID"); ok {
		s.CommunityID = v
	}
	if v, ok := envInt64("VERIFY_CHANNEL_ID"); ok {
		s.IntakeChannelID = v
	}
	if v, ok := envInt64("SUS_CHAT_CHANNEL_ID"); ok {
		s.QuarantineChatChannelID = v
	}
	if v, ok := envInt64("SUS_LOG_CHANNEL_ID"); ok {
		s.LogChannelID = v
	}
	if v := os.Getenv("SUS_ROLE_NAME"); v != "" {
		s.QuarantineRoleName = v
	}
	if v := os.Getenv("COMMAND_PREFIX"); v != "" {
		s.CommandPrefix = v
	}
	if v := os.Getenv("ADMIN_ROLE_IDS"); v != "" {
		s.PrivilegedRoleIDs = parseRoleIDs(v)
	}
}

// parseRoleIDs parses a JSON-ish list of role ids ("[1,2]" or "1,2"),
// silently dropping anything non-numeric.
func parseRoleIDs(raw string) []int64 {
	raw = strings.Trim(strings.TrimSpace(raw), "[]")
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.Trim(strings.TrimSpace(part), `"`)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func envInt64(key string) (int64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate performs strict validation on the settings.
func (s *Settings) Validate() error {
	if s.CommunityID == 0 {
		return fmt.Errorf("community id is required (GUILD_ID or community_id)")
	}
	if s.IntakeChannelID == 0 {
		return fmt.Errorf("intake channel id is required (VERIFY_CHANNEL_ID or intake_channel_id)")
	}
	if s.Connector == "" {
		return fmt.Errorf("connector name is required")
	}
	if s.CommandPrefix == "" {
		return fmt.Errorf("command prefix must not be empty")
	}
	if _, err := timezoneLocation(s.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
	}
	return nil
}

// IsPrivilegedRole reports whether roleID is in the configured privileged set.
func (s *Settings) IsPrivilegedRole(roleID int64) bool {
	for _, id := range s.PrivilegedRoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}
