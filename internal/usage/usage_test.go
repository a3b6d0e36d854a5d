package usage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeroai-dev/zeroai/internal/chat"
)

func TestRecordAndSnapshot(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer func() {
		_ = s.Close()
	}()

	s.Record("openai/gpt-4o", chat.Usage{InputTokens: 10, OutputTokens: 5})
	s.Record("openai/gpt-4o", chat.Usage{InputTokens: 3, OutputTokens: 2})
	s.Record("anthropic/claude-sonnet-4-5", chat.Usage{InputTokens: 7, OutputTokens: 1})

	snapshot, err := s.Snapshot()
	require.NoError(t, err)
	require.Len(t, snapshot, 2)

	gpt := snapshot["openai/gpt-4o"]
	assert.Equal(t, int64(2), gpt.Requests)
	assert.Equal(t, int64(13), gpt.InputTokens)
	assert.Equal(t, int64(7), gpt.OutputTokens)

	claude := snapshot["anthropic/claude-sonnet-4-5"]
	assert.Equal(t, int64(1), claude.Requests)
}

func TestSnapshotEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer func() {
		_ = s.Close()
	}()

	snapshot, err := s.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snapshot)
}
