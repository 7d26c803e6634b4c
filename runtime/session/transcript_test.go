package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTranscript_OneLinePerUtterance(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	tr, err := OpenTranscript(dir, "MZ123")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "MZ123.txt"), tr.Path())

	require.NoError(t, tr.Append("Bonjour"))
	require.NoError(t, tr.Append("Au revoir"))
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close(), "close is idempotent")

	content, err := os.ReadFile(tr.Path())
	require.NoError(t, err)
	assert.Equal(t, "Bonjour\nAu revoir\n", string(content))

	assert.ErrorIs(t, tr.Append("late"), ErrTranscriptClosed)
}

func TestFileTranscript_TruncatesPrevious(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "S1.txt"), []byte("old\n"), 0o600))

	tr, err := OpenTranscript(dir, "S1")
	require.NoError(t, err)
	require.NoError(t, tr.Append("new"))
	require.NoError(t, tr.Close())

	content, err := os.ReadFile(filepath.Join(dir, "S1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(content))
}

func TestTranscriptName(t *testing.T) {
	assert.Equal(t, "S1.txt", transcriptName("S1"))
	assert.Equal(t, "a_b.txt", transcriptName("a/b"))
	assert.Equal(t, "session.txt", transcriptName(""))
	assert.Equal(t, "session.txt", transcriptName(".."))
}
