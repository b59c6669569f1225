package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestAddRepo_DuplicateUpserts(t *testing.T) {
	h := newTestHub(t)
	require.NoError(t, h.AddRepo(Repo{RepoID: "r1", Name: "first", RootPath: "/a"}))
	require.NoError(t, h.AddRepo(Repo{RepoID: "r1", Name: "second", RootPath: "/b"}))

	got, err := h.GetRepo("r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "second", got.Name)
	assert.Equal(t, "/b", got.RootPath)
}

func TestRemoveRepo_CascadesCrossRepoEdges(t *testing.T) {
	h := newTestHub(t)
	require.NoError(t, h.AddRepo(Repo{RepoID: "r1", Name: "one"}))
	require.NoError(t, h.AddRepo(Repo{RepoID: "r2", Name: "two"}))
	require.NoError(t, h.AddCrossRepoEdges([]CrossRepoEdge{
		{SourceEntityID: "e1", TargetEntityID: "e2", SourceRepoID: "r1", TargetRepoID: "r2", EdgeType: "IMPORTS"},
	}))

	require.NoError(t, h.RemoveRepo("r1"))

	deps, err := h.GetCrossRepoDependents([]string{"e2"})
	require.NoError(t, err)
	assert.Empty(t, deps)

	got, err := h.GetRepo("r1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetCrossRepoDependents_FiltersByTarget(t *testing.T) {
	h := newTestHub(t)
	require.NoError(t, h.AddCrossRepoEdges([]CrossRepoEdge{
		{SourceEntityID: "e1", TargetEntityID: "t1", SourceRepoID: "r1", TargetRepoID: "r2", EdgeType: "IMPORTS"},
		{SourceEntityID: "e2", TargetEntityID: "t2", SourceRepoID: "r1", TargetRepoID: "r3", EdgeType: "IMPORTS"},
	}))

	deps, err := h.GetCrossRepoDependents([]string{"t1"})
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "e1", deps[0].SourceEntityID)
}

func TestUpsertFeedback_AndQueryBySeverity(t *testing.T) {
	h := newTestHub(t)
	require.NoError(t, h.UpsertFeedback(Feedback{FeedbackID: "f1", RepoID: "r1", Severity: "error", Source: "lint", FilePath: "a.go"}))
	require.NoError(t, h.UpsertFeedback(Feedback{FeedbackID: "f2", RepoID: "r1", Severity: "warning", Source: "lint", FilePath: "b.go"}))

	errors, err := h.QueryFeedback(FeedbackFilter{Severity: "error"})
	require.NoError(t, err)
	require.Len(t, errors, 1)
	assert.Equal(t, "f1", errors[0].FeedbackID)
}

func TestUpsertFeedback_DuplicateIDOverwrites(t *testing.T) {
	h := newTestHub(t)
	require.NoError(t, h.UpsertFeedback(Feedback{FeedbackID: "f1", Severity: "warning", Source: "ci"}))
	require.NoError(t, h.UpsertFeedback(Feedback{FeedbackID: "f1", Severity: "error", Source: "ci"}))

	rows, err := h.QueryFeedback(FeedbackFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "error", rows[0].Severity)
}

func TestSummarizeFeedback_GroupedBySeverity(t *testing.T) {
	h := newTestHub(t)
	require.NoError(t, h.UpsertFeedback(Feedback{FeedbackID: "f1", Severity: "error", Source: "ci"}))
	require.NoError(t, h.UpsertFeedback(Feedback{FeedbackID: "f2", Severity: "error", Source: "ci"}))
	require.NoError(t, h.UpsertFeedback(Feedback{FeedbackID: "f3", Severity: "warning", Source: "ci"}))

	summary, err := h.SummarizeFeedback("severity")
	require.NoError(t, err)
	counts := map[string]int{}
	for _, s := range summary {
		counts[s.Key] = s.Count
	}
	assert.Equal(t, 2, counts["error"])
	assert.Equal(t, 1, counts["warning"])
}

func TestCacheQuery_ZeroTTLExpiresImmediately(t *testing.T) {
	h := newTestHub(t)
	require.NoError(t, h.CacheQuery("q1", `{"rows":[]}`, 0))

	_, found := h.GetCachedQuery("q1")
	assert.False(t, found)
}

func TestCacheQuery_RepeatOverwrites(t *testing.T) {
	h := newTestHub(t)
	require.NoError(t, h.CacheQuery("q1", "first", 60_000))
	require.NoError(t, h.CacheQuery("q1", "second", 60_000))

	got, found := h.GetCachedQuery("q1")
	require.True(t, found)
	assert.Equal(t, "second", got)
}

func TestClearCache_RemovesAllEntries(t *testing.T) {
	h := newTestHub(t)
	require.NoError(t, h.CacheQuery("q1", "v", 60_000))
	require.NoError(t, h.ClearCache())

	_, found := h.GetCachedQuery("q1")
	assert.False(t, found)
}

// TestEnableRemoteCache_UnreachableAddrFailsFast asserts EnableRemoteCache
// surfaces a connection error instead of silently leaving the hub on its
// local cache, and that the hub's cache keeps working through sqlite when
// the call is never made.
func TestEnableRemoteCache_UnreachableAddrFailsFast(t *testing.T) {
	h := newTestHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := h.EnableRemoteCache(ctx, "127.0.0.1:1", "")
	assert.Error(t, err)

	require.NoError(t, h.CacheQuery("q1", "v", 60_000))
	got, found := h.GetCachedQuery("q1")
	assert.True(t, found)
	assert.Equal(t, "v", got)
}

func TestWriteLock_SecondAcquireFails(t *testing.T) {
	h := newTestHub(t)
	require.True(t, h.IsWritable())
	require.NoError(t, h.AcquireWriteLock())
	require.False(t, h.IsWritable())

	err := h.AcquireWriteLock()
	assert.Error(t, err)

	require.NoError(t, h.ReleaseWriteLock())
	assert.True(t, h.IsWritable())
}
