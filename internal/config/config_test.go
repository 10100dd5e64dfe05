package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/anvil-go/internal/reference"
)

func noEnv(string) (string, bool) { return "", false }

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("Defaults", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeFile(t, dir, "go.mod", "module example.com/app\n\ngo 1.26\n")

		cfg, err := Load(dir, "", noEnv)
		require.NoError(t, err)

		assert.Equal(t, "example.com/app", cfg.Module)
		assert.Equal(t, []string{"./..."}, cfg.Patterns)
		assert.Equal(t, reference.Semantic, cfg.ParsedBacking())
		assert.Equal(t, filepath.Join(dir, DefaultHintsPath), cfg.HintsDir())
		assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce)
	})

	t.Run("File", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeFile(t, dir, FileName, `
module: example.com/custom
patterns: [./cmd/..., ./internal/...]
backing: ssa
merge:
  jobs: 3
hints:
  path: /tmp/hints
  shared: [../upstream/.anvil/hints]
log:
  level: debug
  format: json
watch:
  debounce: 2s
`)
		cfg, err := Load(dir, "", noEnv)
		require.NoError(t, err)

		assert.Equal(t, "example.com/custom", cfg.Module)
		assert.Equal(t, []string{"./cmd/...", "./internal/..."}, cfg.Patterns)
		assert.Equal(t, reference.Lowered, cfg.ParsedBacking())
		assert.Equal(t, 3, cfg.Merge.Jobs)
		assert.Equal(t, "/tmp/hints", cfg.HintsDir())
		assert.Equal(t, []string{filepath.Join(dir, "../upstream/.anvil/hints")}, cfg.SharedDirs())
		assert.Equal(t, 2*time.Second, cfg.Watch.Debounce)
	})

	t.Run("EnvironmentOverridesFile", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeFile(t, dir, FileName, "backing: ssa\nmerge:\n  jobs: 3\n")
		env := map[string]string{"ANVIL_BACKING": "syntax", "ANVIL_JOBS": "8"}

		cfg, err := Load(dir, "", func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		})
		require.NoError(t, err)
		assert.Equal(t, reference.Syntactic, cfg.ParsedBacking())
		assert.Equal(t, 8, cfg.Merge.Jobs)
	})

	t.Run("DotEnv", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeFile(t, dir, ".env", "ANVIL_LOG_LEVEL=warn\nANVIL_HINTS_PATH=cache/hints\n")

		cfg, err := Load(dir, "", noEnv)
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, filepath.Join(dir, "cache/hints"), cfg.HintsDir())
	})

	t.Run("ExplicitMissingFile", func(t *testing.T) {
		t.Parallel()
		_, err := Load(t.TempDir(), "missing.yaml", noEnv)
		assert.Error(t, err)
	})

	t.Run("Invalid", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeFile(t, dir, FileName, "backing: bytecode\nmerge:\n  jobs: -1\nlog:\n  format: xml\n")

		_, err := Load(dir, "", noEnv)
		require.Error(t, err)
		assert.ErrorContains(t, err, "unknown backing")
		assert.ErrorContains(t, err, "merge.jobs")
		assert.ErrorContains(t, err, "log.format")
	})

	t.Run("MalformedYAML", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeFile(t, dir, FileName, "patterns: [\n")

		_, err := Load(dir, "", noEnv)
		assert.ErrorContains(t, err, "parsing")
	})
}

func TestConfig_NewLogger(t *testing.T) {
	t.Parallel()

	cfg := Default(t.TempDir())

	var buf bytes.Buffer
	log := cfg.NewLogger(&buf, false, false)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())

	assert.Equal(t, logrus.DebugLevel, cfg.NewLogger(&buf, true, false).GetLevel())
	assert.Equal(t, logrus.ErrorLevel, cfg.NewLogger(&buf, true, true).GetLevel())

	cfg.Log.Format = "json"
	cfg.NewLogger(&buf, false, false).WithField("scope", "app").Info("merged")
	assert.Contains(t, buf.String(), `"scope":"app"`)
}
