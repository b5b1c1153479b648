package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	assert.Nil(t, NewDefaultConfig().Validate())
	assert.Nil(t, NewTestConfig().Validate())
	assert.Equal(t, lock.TriState, NewDefaultConfig().Mode())
}

func TestValidate(t *testing.T) {
	c := NewTestConfig()
	c.LockingMode = "four-state"
	assert.NotNil(t, c.Validate())

	c = NewTestConfig()
	c.JITWidening = "table"
	assert.NotNil(t, c.Validate())

	c = NewTestConfig()
	c.Engine = EngineBadger
	c.DBPath = ""
	assert.NotNil(t, c.Validate())

	c = NewTestConfig()
	c.Engine = EngineMSSQL
	assert.NotNil(t, c.Validate())
	c.DSN = "sqlserver://sa@localhost?database=cronus"
	assert.Nil(t, c.Validate())

	c = NewTestConfig()
	c.LockTimeout = -1
	assert.NotNil(t, c.Validate())
}

func TestLoadFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "tinyrecord-config")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "tinyrecord.toml")
	content := `
log-level = "debug"
locking-mode = "two-state"
lock-timeout = "250ms"
jit-widening = "column"
engine = "memory"
`
	require.Nil(t, ioutil.WriteFile(path, []byte(content), 0644))

	c, err := LoadFile(path)
	require.Nil(t, err)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, lock.TwoState, c.Mode())
	assert.Equal(t, 250*time.Millisecond, time.Duration(c.LockTimeout))
	assert.Equal(t, WidenColumn, c.JITWidening)
	assert.Equal(t, EngineMemory, c.Engine)
	// Unset keys keep their defaults.
	assert.True(t, c.SyncWrites)

	require.Nil(t, ioutil.WriteFile(path, []byte(`engine = "oracle"`), 0644))
	_, err = LoadFile(path)
	assert.NotNil(t, err)
}
