package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	defer f.Close()
	for _, l := range lines {
		_, err := f.WriteString(l + "\n")
		require.NoError(t, err)
	}
}

func TestSetup(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)
	path := filepath.Join(t.TempDir(), "app.log")

	require.NoError(t, Setup("DEBUG", path))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	logrus.WithField("user_id", "u1").Info("hello")

	chunk, err := Tail(path, 10)
	require.NoError(t, err)
	require.Len(t, chunk.Entries, 1)
	assert.Equal(t, "hello", chunk.Entries[0].Fields["msg"])
	assert.Equal(t, "u1", chunk.Entries[0].Fields["user_id"])

	assert.Error(t, Setup("loud", ""))
}

func TestTailReturnsLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	var lines []string
	for i := 0; i < 5000; i++ {
		lines = append(lines, fmt.Sprintf(`{"msg":"line %d"}`, i))
	}
	writeLines(t, path, lines...)

	chunk, err := Tail(path, 3)
	require.NoError(t, err)
	require.Len(t, chunk.Entries, 3)
	assert.Equal(t, "line 4997", chunk.Entries[0].Fields["msg"])
	assert.Equal(t, "line 4999", chunk.Entries[2].Fields["msg"])
	assert.Equal(t, chunk.Size, chunk.Offset)
}

func TestReadFromFollowsAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeLines(t, path, "first", "second")

	chunk, err := Tail(path, 100)
	require.NoError(t, err)
	assert.Len(t, chunk.Entries, 2)
	assert.Nil(t, chunk.Entries[0].Fields)

	writeLines(t, path, "third")
	// a partial line is not returned until it is terminated
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("fou")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	next, err := ReadFrom(path, chunk.Offset, 100)
	require.NoError(t, err)
	require.Len(t, next.Entries, 1)
	assert.Equal(t, "third", next.Entries[0].Raw)

	writeLines(t, path, "rth")
	last, err := ReadFrom(path, next.Offset, 100)
	require.NoError(t, err)
	require.Len(t, last.Entries, 1)
	assert.Equal(t, "fourth", last.Entries[0].Raw)
}

func TestReadFromRestartsAfterTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeLines(t, path, strings.Repeat("x", 100))
	require.NoError(t, os.Truncate(path, 0))
	writeLines(t, path, "fresh")

	chunk, err := ReadFrom(path, 101, 10)
	require.NoError(t, err)
	require.Len(t, chunk.Entries, 1)
	assert.Equal(t, "fresh", chunk.Entries[0].Raw)
}
