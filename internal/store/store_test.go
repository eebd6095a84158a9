package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0needt0/goodies/switchyard/internal/config"
	"github.com/n0needt0/goodies/switchyard/internal/domain"
)

func TestFileStoreRoundTrip(t *testing.T) {
	s := &FileStore{Path: filepath.Join(t.TempDir(), "rules.json")}

	want := domain.FilterRules{
		Blacklist: []string{"10.0.0.1", "10.0.0.2"},
		Whitelist: []string{"192.168.1.1"},
	}
	require.NoError(t, s.Save(want))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// the temp file must not survive the rename
	_, err = os.Stat(s.Path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreLoadMissing(t *testing.T) {
	s := &FileStore{Path: filepath.Join(t.TempDir(), "absent.json")}

	rules, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, rules.Blacklist)
	assert.Empty(t, rules.Whitelist)
}

func TestFileStoreLoadGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s := &FileStore{Path: path}
	_, err := s.Load()
	assert.Error(t, err)
}

func TestFileStoreSaveCreatesDirectory(t *testing.T) {
	s := &FileStore{Path: filepath.Join(t.TempDir(), "nested", "deep", "rules.json")}

	require.NoError(t, s.Save(domain.FilterRules{Blacklist: []string{"10.0.0.1"}}))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1"}, got.Blacklist)
}

func TestNewRuleStoreDefaultsToFile(t *testing.T) {
	conf := &config.Config{}
	conf.Rules.Path = filepath.Join(t.TempDir(), "rules.json")

	st, err := NewRuleStore(conf)
	require.NoError(t, err)

	fs, ok := st.(*FileStore)
	require.True(t, ok)
	assert.Equal(t, conf.Rules.Path, fs.Path)
}
