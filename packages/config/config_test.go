package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/go-sheetcalc/packages/csvio"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	opts, err := cfg.CSV.Options()
	require.NoError(t, err)
	assert.Equal(t, csvio.DefaultOptions(), opts)
	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	writeFile(t, path, `
[csv]
delimiter = "semicolon"
quote = "'"
anchor = "C3"

[document]
format = "msgpack"

[log]
level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "C3", cfg.CSV.Anchor)
	assert.False(t, cfg.CSV.Raw)
	assert.Equal(t, "msgpack", cfg.Document.Format)

	opts, err := cfg.CSV.Options()
	require.NoError(t, err)
	assert.Equal(t, csvio.Options{Delimiter: ';', Quote: '\'', Escape: '\\'}, opts)
	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	writeFile(t, path, "[log]\nlevel = \"debug\"\n")

	t.Setenv("SHEETCALC_LOG_LEVEL", "error")
	t.Setenv("SHEETCALC_CSV_DELIMITER", "comma")
	t.Setenv("SHEETCALC_CSV_ESCAPE", "none")
	t.Setenv("SHEETCALC_CSV_RAW", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.True(t, cfg.CSV.Raw)
	opts, err := cfg.CSV.Options()
	require.NoError(t, err)
	assert.Equal(t, csvio.Options{Delimiter: ',', Quote: '"'}, opts)
}

func TestLoadDotEnv(t *testing.T) {
	const key = "SHEETCALC_DOCUMENT_FORMAT"
	if _, set := os.LookupEnv(key); set {
		t.Skipf("%s is set in the environment", key)
	}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), key+"=msgpack\n")
	t.Chdir(dir)
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "msgpack", cfg.Document.Format)
	assert.Equal(t, Default().CSV, cfg.CSV)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	cases := map[string]string{
		"syntax":    "[csv\n",
		"delimiter": "[csv]\ndelimiter = \"ab\"\n",
		"anchor":    "[csv]\nanchor = \"1A\"\n",
		"format":    "[document]\nformat = \"json\"\n",
		"level":     "[log]\nlevel = \"loud\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".toml")
			writeFile(t, path, content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	t.Run("env", func(t *testing.T) {
		t.Setenv("SHEETCALC_CSV_RAW", "maybe")
		_, err := Load(filepath.Join(dir, "syntax.toml"))
		assert.Error(t, err)
		path := filepath.Join(dir, "ok.toml")
		writeFile(t, path, "")
		_, err = Load(path)
		assert.ErrorContains(t, err, "SHEETCALC_CSV_RAW")
	})
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	_, found, err := Find(nested)
	require.NoError(t, err)
	assert.False(t, found)

	writeFile(t, filepath.Join(root, FileName), "")
	path, found, err := Find(nested)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, filepath.Join(root, FileName), path)
}
