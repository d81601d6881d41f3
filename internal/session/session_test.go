package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archivision/internal/domain"
)

func sampleSession() *Session {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New("s-1", now)
	s.State = StateSelected
	s.Prompt = "a warm library with walnut shelves"
	s.PromptHistory = []string{"a library"}
	s.RoomType = "Library"
	s.Batch = &domain.ImageBatch{
		ID:        "b-1",
		Origin:    domain.BatchOriginSubmission,
		Prompt:    s.Prompt,
		Requested: 3,
		Returned:  3,
		Images:    []domain.BatchImage{{Index: 0, PNG: []byte{1, 2}}, {Index: 2, PNG: []byte{3}}},
		Failures:  []domain.FetchFailure{{Index: 1, Reason: "http_404"}},
		CreatedAt: now,
	}
	sel := 2
	s.Selection = &sel
	s.Artifacts = []domain.SavedArtifact{{Key: "archivision_library_3.png", BatchID: "b-1", Index: 2, RoomType: "Library", SavedAt: now}}
	return s
}

func TestReplacePromptKeepsHistory(t *testing.T) {
	s := New("s", time.Now())
	s.ReplacePrompt("first")
	s.ReplacePrompt("first")
	s.ReplacePrompt("second")

	assert.Equal(t, "second", s.Prompt)
	assert.Equal(t, []string{"first"}, s.PromptHistory)
	assert.True(t, s.HasPrompt())
}

func TestSelectedImageUsesOriginalIndex(t *testing.T) {
	s := sampleSession()
	img, ok := s.SelectedImage()
	require.True(t, ok)
	assert.Equal(t, 2, img.Index)

	missing := 1
	s.Selection = &missing
	_, ok = s.SelectedImage()
	assert.False(t, ok)
}

func TestCloneIsDeep(t *testing.T) {
	s := sampleSession()
	c := s.Clone()
	*c.Selection = 0
	c.PromptHistory[0] = "changed"
	c.Batch.Images = c.Batch.Images[:1]

	assert.Equal(t, 2, *s.Selection)
	assert.Equal(t, "a library", s.PromptHistory[0])
	assert.Len(t, s.Batch.Images, 2)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	_, err := store.Load(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	s := sampleSession()
	require.NoError(t, store.Save(ctx, s))
	s.Prompt = "mutated after save"

	loaded, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "a warm library with walnut shelves", loaded.Prompt)
	assert.Equal(t, 1, store.Len())

	require.NoError(t, store.Delete(ctx, "s-1"))
	_, err = store.Load(ctx, "s-1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestMemoryStoreExpires(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(20 * time.Millisecond)
	require.NoError(t, store.Save(ctx, New("short", time.Now())))
	time.Sleep(40 * time.Millisecond)
	_, err := store.Load(ctx, "short")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	store := NewRedisStore(client, time.Hour)

	_, err := store.Load(ctx, "s-1")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	s := sampleSession()
	require.NoError(t, store.Save(ctx, s))
	assert.True(t, mr.Exists("archivision:session:s-1"))
	assert.Equal(t, time.Hour, mr.TTL("archivision:session:s-1"))

	loaded, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, StateSelected, loaded.State)
	assert.Equal(t, s.Prompt, loaded.Prompt)
	assert.Equal(t, s.PromptHistory, loaded.PromptHistory)
	require.NotNil(t, loaded.Selection)
	assert.Equal(t, 2, *loaded.Selection)
	img, ok := loaded.SelectedImage()
	require.True(t, ok)
	assert.Equal(t, []byte{3}, img.PNG)
	assert.Equal(t, s.Artifacts[0].Key, loaded.Artifacts[0].Key)

	mr.FastForward(2 * time.Hour)
	_, err = store.Load(ctx, "s-1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	require.NoError(t, store.Save(ctx, s))
	require.NoError(t, store.Delete(ctx, "s-1"))
	assert.False(t, mr.Exists("archivision:session:s-1"))
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	_ = client.Close()

	_, err = NewRedisClient(context.Background(), "not a url")
	assert.Error(t, err)
}
