package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestInitCommand(t *testing.T) {
	resetConfig(t)
	dbPath := filepath.Join(t.TempDir(), "test.db")

	t.Setenv("MODBOT_DATABASE_TYPE", "sqlite")
	t.Setenv("MODBOT_DATABASE", dbPath)
	t.Setenv("MODBOT_API_ENABLED", "true")

	currentOut := rootCmd.OutOrStdout()
	currentErr := rootCmd.OutOrStderr()
	t.Cleanup(
		func() {
			rootCmd.SetOut(currentOut)
			rootCmd.SetErr(currentErr)
		},
	)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)

	rootCmd.SetArgs([]string{"init"})
	require.NoError(t, rootCmd.Execute())

	output := out.String()
	assert.Contains(t, output, "Initialized sqlite database.")
	assert.Contains(t, output, "MODBOT_API_SECRET=")
	assert.Contains(t, output, "Initialization complete.")

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, table := range []string{
		"counters",
		"moderation_cases",
		"pending_role_assignments",
		"mod_mail_threads",
		"questions",
		"interaction_logs",
	} {
		assert.Truef(t, db.Migrator().HasTable(table), "expected table %s", table)
	}
}
