// Package config holds the process-wide mutable configuration document.
// The document is persisted as JSON; every mutation writes it back
// synchronously so a restart never loses an applied setting.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Method is a verification method offered to quarantined users.
type Method string

const (
	// MethodButton is the simple acknowledgment: one click, no challenge.
	MethodButton Method = "button"
	// MethodWord requires typing back a generated token.
	MethodWord Method = "word"
	// MethodMath requires solving a small arithmetic problem.
	MethodMath Method = "math"
)

// KnownMethod reports whether m is one of the supported methods.
func KnownMethod(m Method) bool {
	return m == MethodButton || m == MethodWord || m == MethodMath
}

// Document is the persisted configuration. Field names match the on-disk
// JSON document.
type Document struct {
	QuarantineRoleID      *int64   `json:"sus_role_id"`
	VerifyMessageID       *int64   `json:"verify_message_id"`
	AdminPromptMessageID  *int64   `json:"admin_prompt_message_id"`
	VerificationMethods   []Method `json:"verification_methods"`
	AutoscanEnabled       bool     `json:"autoscan_enabled"`
	LogChannelID          *int64   `json:"log_channel_id"`
	PeriodicNotifyEnabled bool     `json:"periodic_notify_enabled"`
	PeriodicNotifyCron    string   `json:"periodic_notify_cron"`
	MentionDeleteSeconds  int      `json:"periodic_mention_delete_seconds"`
	ProcessDelayMS        int      `json:"process_delay_ms"`
}

// Defaults returns a fresh default document. logChannelID of 0 means "no
// environment default".
func Defaults(logChannelID int64) Document {
	doc := Document{
		VerificationMethods:   []Method{MethodButton},
		AutoscanEnabled:       false,
		PeriodicNotifyEnabled: true,
		PeriodicNotifyCron:    "0,30 * * * *",
		MentionDeleteSeconds:  30,
		ProcessDelayMS:        800,
	}
	if logChannelID != 0 {
		id := logChannelID
		doc.LogChannelID = &id
	}
	return doc
}

// Config is the process-scoped configuration state. It is safe for
// concurrent use; reads get a copy and writes persist synchronously.
type Config struct {
	mu   sync.Mutex
	path string
	doc  Document
}

// Load reads the document at path, creating it with defaults when absent.
// An unreadable or malformed document is replaced with defaults rather than
// failing startup.
func Load(path string, defaults Document) (*Config, error) {
	c := &Config{path: path, doc: defaults}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := c.save(); err != nil {
			return nil, fmt.Errorf("failed to create config at %s: %w", path, err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config at %s: %w", path, err)
	default:
		var doc Document
		if jsonErr := json.Unmarshal(data, &doc); jsonErr != nil {
			// Malformed document: reset to defaults, matching the
			// "degrade, never crash" persistence policy.
			if err := c.save(); err != nil {
				return nil, fmt.Errorf("failed to rewrite malformed config at %s: %w", path, err)
			}
		} else {
			c.doc = normalize(doc, defaults)
		}
	}
	return c, nil
}

// normalize backfills zero-valued fields that must always carry a default.
func normalize(doc, defaults Document) Document {
	if len(doc.VerificationMethods) == 0 {
		doc.VerificationMethods = defaults.VerificationMethods
	}
	if doc.PeriodicNotifyCron == "" {
		doc.PeriodicNotifyCron = defaults.PeriodicNotifyCron
	}
	if doc.MentionDeleteSeconds <= 0 {
		doc.MentionDeleteSeconds = defaults.MentionDeleteSeconds
	}
	if doc.ProcessDelayMS <= 0 {
		doc.ProcessDelayMS = defaults.ProcessDelayMS
	}
	return doc
}

// Snapshot returns a copy of the current document.
func (c *Config) Snapshot() Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyDoc(c.doc)
}

// Update applies fn to the document and writes it back synchronously.
func (c *Config) Update(fn func(*Document)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.doc)
	return c.save()
}

// save must be called with c.mu held.
func (c *Config) save() error {
	data, err := json.MarshalIndent(c.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", c.path, err)
	}
	return nil
}

func copyDoc(doc Document) Document {
	cp := doc
	cp.VerificationMethods = append([]Method(nil), doc.VerificationMethods...)
	if doc.QuarantineRoleID != nil {
		v := *doc.QuarantineRoleID
		cp.QuarantineRoleID = &v
	}
	if doc.VerifyMessageID != nil {
		v := *doc.VerifyMessageID
		cp.VerifyMessageID = &v
	}
	if doc.AdminPromptMessageID != nil {
		v := *doc.AdminPromptMessageID
		cp.AdminPromptMessageID = &v
	}
	if doc.LogChannelID != nil {
		v := *doc.LogChannelID
		cp.LogChannelID = &v
	}
	return cp
}

// ChallengeMethods filters the enabled methods down to the ones that issue
// a private challenge.
func (d Document) ChallengeMethods() []Method {
	var out []Method
	for _, m := range d.VerificationMethods {
		if m == MethodWord || m == MethodMath {
			out = append(out, m)
		}
	}
	return out
}

// ButtonOnly reports whether the simple acknowledgment is the only enabled
// method.
func (d Document) ButtonOnly() bool {
	return len(d.VerificationMethods) == 1 && d.VerificationMethods[0] == MethodButton
}
