package listing

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileCreatesParentDirs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "out", "jobs.json")
	scraped := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	in := []Listing{{
		Link:       "https://x.test/job/1",
		Position:   "Backend Engineer",
		Source:     "devboard",
		ScrapedAt:  scraped,
		IsValidURL: true,
	}}

	require.NoError(t, WriteFile(path, in))

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "[\n  {"), "output should be indented")
	assert.NotContains(t, string(raw), "jobDescription", "absent description must be omitted")

	out, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, in[0], out[0])
}

func TestWriteFileNilWritesEmptyArray(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "jobs.json")
	require.NoError(t, WriteFile(path, nil))

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func TestReadFileAcceptsMinimalRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "jobs.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"link":"https://x.test/1","source":"remoteok"}]`), 0o600))

	out, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "remoteok", out[0].Source)
	assert.Empty(t, out[0].JobDescription)
}

func TestReadFileErrors(t *testing.T) {
	t.Parallel()

	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not":"an array"}`), 0o600))
	_, err = ReadFile(path)
	require.Error(t, err)
}

func TestRoundTripKeepsUnknownKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "jobs.json")
	input := `[{"link":"https://x.test/job/1","source":"board","id":"abc123","salary":{"min":100000}}]`
	require.NoError(t, os.WriteFile(path, []byte(input), 0o600))

	jobs, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].ScrapedAt.IsZero())
	assert.JSONEq(t, `"abc123"`, string(jobs[0].Extra["id"]))
	assert.NotContains(t, jobs[0].Extra, "link")

	require.NoError(t, WriteFile(path, jobs))

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "[\n  {"), "output should stay indented")
	assert.NotContains(t, string(raw), "scrapedAt", "absent timestamp must stay absent")
	assert.NotContains(t, string(raw), "0001-01-01")

	var back []map[string]any
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Len(t, back, 1)
	assert.Equal(t, "abc123", back[0]["id"])
	assert.Equal(t, map[string]any{"min": float64(100000)}, back[0]["salary"])
	assert.Equal(t, "https://x.test/job/1", back[0]["link"])
}

func TestMarshalSkipsExtraShadowingKnownFields(t *testing.T) {
	t.Parallel()

	l := Listing{
		Link: "https://x.test/job/2",
		Extra: map[string]json.RawMessage{
			"Link":  json.RawMessage(`"https://elsewhere.test"`),
			"zeta":  json.RawMessage(`1`),
			"alpha": json.RawMessage(`true`),
		},
	}
	raw, err := json.Marshal(l)
	require.NoError(t, err)

	assert.NotContains(t, string(raw), "elsewhere.test")
	assert.Less(t, strings.Index(string(raw), `"alpha"`), strings.Index(string(raw), `"zeta"`))
}
