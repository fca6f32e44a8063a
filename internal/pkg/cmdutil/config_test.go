package cmdutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/endorses/fpengine/internal/pkg/fingerprint"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStringSliceConfig(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	assert.Equal(t, []string{"flag"}, GetStringSliceConfig(KeyLookupPaths, []string{"flag"}))
	assert.Empty(t, GetStringSliceConfig(KeyLookupPaths, nil))

	viper.Set(KeyLookupPaths, []string{"a.yaml", "b.yaml"})
	assert.Equal(t, []string{"a.yaml", "b.yaml"}, GetStringSliceConfig(KeyLookupPaths, nil))
	assert.Equal(t, []string{"flag"}, GetStringSliceConfig(KeyLookupPaths, []string{"flag"}))
}

func TestSetDefaultsAndLoadOptions(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	SetDefaults(viper.GetViper())
	assert.Equal(t, fingerprint.DefaultRegexTimeout, LoadOptions().RegexTimeout)
	assert.Equal(t, "text", viper.GetString(KeyOutputFormat))

	viper.Set(KeyRegexTimeoutMS, 250)
	assert.Equal(t, 250*time.Millisecond, LoadOptions().RegexTimeout)
}

func TestLoadFingerprints(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	dir := t.TempDir()
	doc := "name: Host\npayloads:\n  main:\n    always:\n      - direction: SOURCE\n        details: {role: HOST}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "host.yaml"), []byte(doc), 0o644))

	defs, errs, err := LoadFingerprints([]string{dir})
	require.NoError(t, err)
	assert.Empty(t, errs)
	require.Len(t, defs, 1)
	assert.Equal(t, "Host", defs[0].Name)

	_, _, err = LoadFingerprints([]string{t.TempDir()})
	assert.ErrorIs(t, err, fingerprint.ErrNoFingerprints)
}

func TestNewLookups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tables:\n  colors:\n    \"1\": red\n"), 0o644))

	p, err := NewLookups([]string{path})
	require.NoError(t, err)
	got, ok := p.Lookup("COLORS", "1")
	require.True(t, ok)
	assert.Equal(t, "red", got)

	_, err = NewLookups([]string{filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}
