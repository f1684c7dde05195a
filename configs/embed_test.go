package configs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbindex/internal/config"
)

func TestConfigTemplate_MatchesDefaults(t *testing.T) {
	// Given: the template written as kbindex.yaml
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kbindex.yaml"), []byte(ConfigTemplate), 0o644))

	// When: loading it
	cfg, err := config.Load(dir, "")

	// Then: it validates and equals the built-in defaults
	require.NoError(t, err)
	assert.Equal(t, config.NewConfig(), cfg)
}
