package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFlags(t *testing.T) {
	assert := assert.New(t)
	cfg, verbose, err := loadConfig([]string{
		"--source", "source", "--root", "virt",
		"--deny-deletes", "--negative-path-cache=false",
		"--pool-threads", "3", "-v",
	})
	require.NoError(t, err)
	assert.True(verbose)
	assert.Equal("source", cfg.Source)
	assert.Equal("virt", cfg.Root)
	assert.True(cfg.Provider.DenyDeletes)
	assert.False(cfg.Instance.NegativePathCache)
	assert.Equal(uint32(3), cfg.Instance.PoolThreads)
	assert.Equal(int64(4), cfg.Provider.Workers)
}

func TestLoadConfigOverride(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source: source
root: virt
provider:
  async_data: true
  workers: 2
`), 0o644))

	cfg, verbose, err := loadConfig([]string{"-c", path, "--root", "other"})
	require.NoError(t, err)
	assert.False(verbose)
	assert.Equal("source", cfg.Source)
	assert.Equal("other", cfg.Root)
	assert.True(cfg.Provider.AsyncData)
	assert.Equal(int64(2), cfg.Provider.Workers)
	assert.True(cfg.Instance.NegativePathCache)
}

func TestLoadConfigInvalid(t *testing.T) {
	assert := assert.New(t)
	_, _, err := loadConfig([]string{"--source", "source"})
	assert.Error(err)
	_, _, err = loadConfig([]string{"--unknown"})
	assert.Error(err)
	_, _, err = loadConfig([]string{"--help"})
	assert.ErrorIs(err, pflag.ErrHelp)
}

type shutdownRecorder struct {
	calls *[]string
}

func (r shutdownRecorder) Close() {
	*r.calls = append(*r.calls, "close")
}

func (r shutdownRecorder) Stop() {
	*r.calls = append(*r.calls, "stop")
}

func TestShutdownOrder(t *testing.T) {
	var calls []string
	recorder := shutdownRecorder{calls: &calls}
	shutdown(recorder, recorder)
	assert.Equal(t, []string{"close", "stop"}, calls)
}
