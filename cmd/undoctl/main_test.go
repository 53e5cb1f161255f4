package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/INLOpen/atundo/config"
	"github.com/INLOpen/atundo/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "undoctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCreateLogger(t *testing.T) {
	logger, closer, err := createLogger(config.LoggingConfig{Level: "DEBUG", Output: "none"})
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.NotNil(t, logger)

	path := filepath.Join(t.TempDir(), "undoctl.log")
	logger, closer, err = createLogger(config.LoggingConfig{Level: "info", Output: "file", File: path})
	require.NoError(t, err)
	require.NotNil(t, closer)
	logger.Info("hello")
	require.NoError(t, closer.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)

	_, _, err = createLogger(config.LoggingConfig{Level: "trace", Output: "stdout"})
	assert.Error(t, err)
	_, _, err = createLogger(config.LoggingConfig{Level: "info", Output: "file"})
	assert.Error(t, err)
	_, _, err = createLogger(config.LoggingConfig{Level: "info", Output: "syslog"})
	assert.Error(t, err)
}

func TestInitTracerProvider(t *testing.T) {
	logger, _, err := createLogger(config.LoggingConfig{Level: "info", Output: "none"})
	require.NoError(t, err)

	tp, cleanup, err := initTracerProvider(config.TracingConfig{Enabled: false}, logger)
	require.NoError(t, err)
	require.NotNil(t, tp)
	cleanup()

	_, _, err = initTracerProvider(config.TracingConfig{Enabled: true, Protocol: "zipkin"}, logger)
	assert.Error(t, err)
}

func TestOpenDB(t *testing.T) {
	logger, _, _ := createLogger(config.LoggingConfig{Level: "info", Output: "none"})

	_, _, err := openDB(config.DatabaseConfig{DBType: "postgresql", DSN: "x"}, logger)
	assert.True(t, core.IsUnsupportedDBType(err))

	_, _, err = openDB(config.DatabaseConfig{DBType: "mysql", DSN: "not a dsn"}, logger)
	assert.Error(t, err)

	db, schema, err := openDB(config.DatabaseConfig{DBType: "MySQL", DSN: "u:p@tcp(127.0.0.1:1)/orders", MaxOpenConns: 2}, logger)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, "orders", schema)
}

func TestNewCodec(t *testing.T) {
	cfg := config.Default().Undo
	codec, err := newCodec(cfg)
	require.NoError(t, err)
	assert.Equal(t, "json", codec.Parser().Name())

	cfg.Serialization = "kryo"
	_, err = newCodec(cfg)
	assert.Error(t, err)

	cfg = config.Default().Undo
	cfg.Compression.Type = "gzip"
	_, err = newCodec(cfg)
	assert.Error(t, err)
}

func TestSchemaCommand(t *testing.T) {
	path := writeConfig(t, "undo:\n  table_name: branch_undo\nlogging:\n  output: none\n")

	out, err := runRoot(t, "--config", path, "schema")
	require.NoError(t, err)
	assert.Contains(t, out, "CREATE TABLE IF NOT EXISTS `branch_undo`")
	assert.Contains(t, out, "ux_undo_log")
}

func TestUndoCommand_RequiresXID(t *testing.T) {
	path := writeConfig(t, "logging:\n  output: none\n")

	_, err := runRoot(t, "--config", path, "undo", "--branch-id", "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--xid")

	_, err = runRoot(t, "--config", path, "commit", "--xid", "X1")
	require.Error(t, err)
}

func TestRootCommand_RejectsBadConfig(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: loud\n")
	_, err := runRoot(t, "--config", path, "schema")
	assert.Error(t, err)
}
