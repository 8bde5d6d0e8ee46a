package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_CreatesWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	c, err := Load(path, Defaults(42))
	require.NoError(t, err)

	doc := c.Snapshot()
	assert.Equal(t, []Method{MethodButton}, doc.VerificationMethods)
	assert.Equal(t, "0,30 * * * *", doc.PeriodicNotifyCron)
	assert.Equal(t, 30, doc.MentionDeleteSeconds)
	assert.Equal(t, 800, doc.ProcessDelayMS)
	assert.True(t, doc.PeriodicNotifyEnabled)
	assert.False(t, doc.AutoscanEnabled)
	require.NotNil(t, doc.LogChannelID)
	assert.Equal(t, int64(42), *doc.LogChannelID)

	// document exists on disk
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestLoad_ReadsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	existing := map[string]any{
		"sus_role_id":          77,
		"verification_methods": []string{"word", "math"},
		"autoscan_enabled":     true,
		"process_delay_ms":     100,
	}
	data, err := json.Marshal(existing)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	c, err := Load(path, Defaults(0))
	require.NoError(t, err)

	doc := c.Snapshot()
	require.NotNil(t, doc.QuarantineRoleID)
	assert.Equal(t, int64(77), *doc.QuarantineRoleID)
	assert.Equal(t, []Method{MethodWord, MethodMath}, doc.VerificationMethods)
	assert.True(t, doc.AutoscanEnabled)
	assert.Equal(t, 100, doc.ProcessDelayMS)
	// unspecified fields backfilled from defaults
	assert.Equal(t, "0,30 * * * *", doc.PeriodicNotifyCron)
	assert.Equal(t, 30, doc.MentionDeleteSeconds)
}

func TestLoad_MalformedResetsToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	c, err := Load(path, Defaults(0))
	require.NoError(t, err)
	assert.Equal(t, []Method{MethodButton}, c.Snapshot().VerificationMethods)

	// the rewrite left valid JSON behind
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc Document
	assert.NoError(t, json.Unmarshal(data, &doc))
}

func TestUpdate_PersistsSynchronously(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	c, err := Load(path, Defaults(0))
	require.NoError(t, err)

	err = c.Update(func(d *Document) {
		id := int64(123)
		d.QuarantineRoleID = &id
		d.AutoscanEnabled = true
	})
	require.NoError(t, err)

	// reload from disk and confirm the write landed
	c2, err := Load(path, Defaults(0))
	require.NoError(t, err)
	doc := c2.Snapshot()
	require.NotNil(t, doc.QuarantineRoleID)
	assert.Equal(t, int64(123), *doc.QuarantineRoleID)
	assert.True(t, doc.AutoscanEnabled)
}

func TestSnapshot_IsACopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	c, err := Load(path, Defaults(0))
	require.NoError(t, err)

	doc := c.Snapshot()
	doc.VerificationMethods[0] = MethodMath

	assert.Equal(t, []Method{MethodButton}, c.Snapshot().VerificationMethods)
}

func TestChallengeMethods(t *testing.T) {
	doc := Document{VerificationMethods: []Method{MethodButton, MethodWord, MethodMath}}
	assert.Equal(t, []Method{MethodWord, MethodMath}, doc.ChallengeMethods())

	doc = Document{VerificationMethods: []Method{MethodButton}}
	assert.Empty(t, doc.ChallengeMethods())
	assert.True(t, doc.ButtonOnly())
}
