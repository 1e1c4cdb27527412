package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadResultPlainJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"item_id":"a","phase":"build","result":"phase_complete","summary":"done"}`), 0o644))

	result, err := readResult(path)
	require.NoError(t, err)
	require.Equal(t, "a", result.ItemID)
	require.Equal(t, "done", result.Summary)
}

func TestReadResultFencedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	content := "I finished the phase.\n```json\n{\"item_id\":\"a\",\"phase\":\"build\",\"result\":\"phase_complete\",\"summary\":\"done\"}\n```\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	result, err := readResult(path)
	require.NoError(t, err)
	require.Equal(t, "a", result.ItemID)
}

func TestReadResultUnparseable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0o644))

	_, err := readResult(path)
	require.Error(t, err)
}

func TestReadResultMissingFile(t *testing.T) {
	_, err := readResult(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
