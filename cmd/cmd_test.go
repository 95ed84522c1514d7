package cmd

import (
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/lectio/internal/config"
	"github.com/abhisek/lectio/internal/quickcmd"
)

func TestParseMeta(t *testing.T) {
	assert.Nil(t, parseMeta(nil))

	got := parseMeta(map[string]string{
		"correct":        "true",
		"page":           "12",
		"expectedAnswer": "el mar",
	})
	assert.Equal(t, quickcmd.Metadata{
		"correct":        true,
		"page":           12,
		"expectedAnswer": "el mar",
	}, got)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "año", truncate("año nuevo", 3))
}

func TestFormatCost(t *testing.T) {
	assert.Equal(t, "$0.0012", formatCost(0.0012))
	assert.Equal(t, "$1.50", formatCost(1.5))
}

func newDBCmd(t *testing.T, db string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "test"}
	c.Flags().String("db", "", "")
	if db != "" {
		require.NoError(t, c.Flags().Set("db", db))
	}
	return c
}

func TestResolveDBPath(t *testing.T) {
	dir := t.TempDir()

	t.Run("flag wins", func(t *testing.T) {
		flag := filepath.Join(dir, "flag", "lectio.db")
		cfg := &config.Config{DB: config.DBConfig{Path: filepath.Join(dir, "cfg.db")}}
		got, err := resolveDBPath(newDBCmd(t, flag), cfg)
		require.NoError(t, err)
		assert.Equal(t, flag, got)
		assert.DirExists(t, filepath.Dir(flag))
	})

	t.Run("config path", func(t *testing.T) {
		p := filepath.Join(dir, "cfg", "lectio.db")
		got, err := resolveDBPath(newDBCmd(t, ""), &config.Config{DB: config.DBConfig{Path: p}})
		require.NoError(t, err)
		assert.Equal(t, p, got)
	})

	t.Run("environment default", func(t *testing.T) {
		p := filepath.Join(dir, "env", "lectio.db")
		t.Setenv("LECTIO_DB", p)
		got, err := resolveDBPath(newDBCmd(t, ""), nil)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	})
}

func TestRootCommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "content", "profile", "session", "usage", "version"} {
		assert.Contains(t, names, want)
	}
}
