package session

import (
    "os"
    "path/filepath"
    "testing"

    "github.com/google/uuid"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestGetOrCreate_StableAcrossCalls(t *testing.T) {
    p := NewProvider(filepath.Join(t.TempDir(), "session_id"))
    first := p.GetOrCreate()
    require.NotEmpty(t, first)
    _, err := uuid.Parse(first)
    assert.NoError(t, err, "fresh tokens are UUIDs")
    for i := 0; i < 10; i++ {
        assert.Equal(t, first, p.GetOrCreate())
    }
}

func TestGetOrCreate_PersistsAcrossProviders(t *testing.T) {
    path := filepath.Join(t.TempDir(), "session_id")
    first := NewProvider(path).GetOrCreate()

    // A new provider over the same file finds the same identity, the way a
    // restarted kiosk keeps its locks.
    again := NewProvider(path).GetOrCreate()
    assert.Equal(t, first, again)

    b, err := os.ReadFile(path)
    require.NoError(t, err)
    assert.Equal(t, first, string(b))
}

func TestClear_RegeneratesIdentity(t *testing.T) {
    path := filepath.Join(t.TempDir(), "session_id")
    p := NewProvider(path)
    first := p.GetOrCreate()

    p.Clear()
    _, err := os.Stat(path)
    assert.True(t, os.IsNotExist(err), "Clear removes the persisted token")

    second := p.GetOrCreate()
    assert.NotEmpty(t, second)
    assert.NotEqual(t, first, second)
}

func TestGetOrCreate_SurvivesUnwritablePath(t *testing.T) {
    // A directory that cannot be created: persistence fails but identity
    // must still be handed out.
    blocked := filepath.Join(t.TempDir(), "blocked")
    require.NoError(t, os.WriteFile(blocked, []byte("a file, not a dir"), 0o600))

    p := NewProvider(filepath.Join(blocked, "deeper", "session_id"))
    id := p.GetOrCreate()
    assert.NotEmpty(t, id)
    assert.Equal(t, id, p.GetOrCreate(), "in-memory identity stays stable")
}

func TestGetOrCreate_IgnoresBlankFile(t *testing.T) {
    path := filepath.Join(t.TempDir(), "session_id")
    require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o600))

    id := NewProvider(path).GetOrCreate()
    assert.NotEmpty(t, id, "a blank persisted file yields a fresh token")
}
