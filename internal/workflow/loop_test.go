package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archivision/internal/domain"
	imageprovider "archivision/internal/providers/image"
	"archivision/internal/session"
	"archivision/internal/storage"
)

type stubText struct {
	mu     sync.Mutex
	calls  int
	prompt string
	err    error
	users  []string
}

func (s *stubText) GenerateDesignPrompt(_ context.Context, _, user string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.users = append(s.users, user)
	return s.prompt, s.err
}

type stubImages struct {
	mu       sync.Mutex
	calls    int
	requests []domain.GenerationRequest
	urls     []string
	err      error
}

func (s *stubImages) GenerateImages(_ context.Context, req domain.GenerationRequest) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return append([]string(nil), s.urls...), nil
}

// stubFetcher decodes every location except those listed in fail.
type stubFetcher struct {
	fail map[string]bool
}

func (s *stubFetcher) FetchBatch(_ context.Context, locations []string) imageprovider.Report {
	var r imageprovider.Report
	for i, loc := range locations {
		if s.fail[loc] {
			r.Failures = append(r.Failures, domain.FetchFailure{Index: i, SourceURL: loc, Reason: "http_404"})
			continue
		}
		r.Images = append(r.Images, domain.BatchImage{Index: i, SourceURL: loc, SourceFormat: "png", PNG: []byte(loc)})
	}
	return r
}

type harness struct {
	loop   *Loop
	text   *stubText
	images *stubImages
	fetch  *stubFetcher
	dir    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	files, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	h := &harness{
		text:   &stubText{prompt: "A minimalist living room with white oak floors"},
		images: &stubImages{urls: []string{"https://img/0.png", "https://img/1.png", "https://img/2.png"}},
		fetch:  &stubFetcher{fail: map[string]bool{}},
		dir:    dir,
	}
	h.loop, err = NewLoop(Options{
		Store:     session.NewMemoryStore(time.Hour),
		Text:      h.text,
		Images:    h.images,
		Fetcher:   h.fetch,
		Artifacts: files,
	})
	require.NoError(t, err)
	return h
}

func livingRoom() domain.DesignParameters {
	return domain.DesignParameters{RoomType: "Living room", Style: "Minimalist", Colors: "white, oak", Length: 5, Width: 4, CeilingHeight: 2.7}
}

func TestScenarioA_SubmitProducesSelectableBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.loop.Submit(ctx, "sid", livingRoom())
	require.NoError(t, err)
	assert.Equal(t, session.StateBatchReady, s.State)
	assert.Equal(t, "A minimalist living room with white oak floors", s.Prompt)
	require.NotNil(t, s.Batch)
	assert.Len(t, s.Batch.Images, 3)
	assert.Equal(t, domain.BatchOriginSubmission, s.Batch.Origin)
	assert.Nil(t, s.Selection)
	assert.Contains(t, h.text.users[0], "Living room")
	assert.Equal(t, s.Prompt, h.images.requests[0].Prompt)
	assert.Equal(t, domain.DefaultImageCount, h.images.requests[0].Count)

	for i := 0; i < 3; i++ {
		s, err = h.loop.Select(ctx, "sid", i)
		require.NoError(t, err)
		assert.Equal(t, session.StateSelected, s.State)
		assert.Equal(t, i, *s.Selection)
	}
	assert.Len(t, s.Artifacts, 3)
}

func TestGenerationFailureKeepsPriorPrompt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.text.err = domain.NewFailure(domain.KindGeneration, "openai", "http_500", errors.New("down"))
	s, err := h.loop.Submit(ctx, "fresh", livingRoom())
	require.True(t, domain.IsKind(err, domain.KindGeneration))
	assert.Empty(t, s.Prompt)
	assert.Equal(t, session.StateAwaitingSubmission, s.State)
	assert.NotEmpty(t, s.LastError)
	assert.Zero(t, h.images.calls, "image service must not be called after a text failure")

	h.text.err = nil
	s, err = h.loop.Submit(ctx, "sid", livingRoom())
	require.NoError(t, err)
	prior := s.Prompt
	callsBefore := h.images.calls

	h.text.err = domain.NewFailure(domain.KindGeneration, "openai", "http_429", errors.New("slow down"))
	h.text.prompt = "something else"
	s, err = h.loop.Submit(ctx, "sid", livingRoom())
	require.Error(t, err)
	assert.Equal(t, prior, s.Prompt)
	assert.Equal(t, session.StateBatchReady, s.State)
	assert.Len(t, s.Batch.Images, 3)
	assert.Equal(t, callsBefore, h.images.calls)
}

func TestEmptyGeneratedPromptNeverReachesImageService(t *testing.T) {
	h := newHarness(t)
	h.text.prompt = "   "
	_, err := h.loop.Submit(context.Background(), "sid", livingRoom())
	require.True(t, domain.IsKind(err, domain.KindGeneration))
	assert.Zero(t, h.images.calls)
}

func TestPartialFetchKeepsOriginalIndices(t *testing.T) {
	h := newHarness(t)
	h.fetch.fail["https://img/1.png"] = true
	ctx := context.Background()

	s, err := h.loop.Submit(ctx, "sid", livingRoom())
	require.NoError(t, err)
	require.Len(t, s.Batch.Images, 2)
	assert.Equal(t, 0, s.Batch.Images[0].Index)
	assert.Equal(t, 2, s.Batch.Images[1].Index)
	assert.Equal(t, "https://img/2.png", s.Batch.Images[1].SourceURL)
	require.Len(t, s.Batch.Failures, 1)
	assert.Equal(t, 1, s.Batch.Failures[0].Index)

	_, err = h.loop.Select(ctx, "sid", 1)
	assert.ErrorIs(t, err, domain.ErrNoSuchImage)

	s, err = h.loop.Select(ctx, "sid", 2)
	require.NoError(t, err)
	assert.Equal(t, "archivision_living_room_3.png", s.Artifacts[0].Key)
	data, err := os.ReadFile(filepath.Join(h.dir, s.Artifacts[0].Key))
	require.NoError(t, err)
	assert.Equal(t, "https://img/2.png", string(data))
}

func TestFewerOrNoURLs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.images.urls = h.images.urls[:1]
	s, err := h.loop.Submit(ctx, "sid", livingRoom())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Batch.Requested)
	assert.Equal(t, 1, s.Batch.Returned)
	assert.Len(t, s.Batch.Images, 1)

	h.fetch.fail["https://img/0.png"] = true
	s, err = h.loop.Submit(ctx, "sid", livingRoom())
	require.NoError(t, err)
	assert.True(t, s.Batch.Empty())
	assert.Equal(t, NoticeNoImages, s.Notice)
	assert.Equal(t, session.StateBatchReady, s.State)
}

func TestRegenerateClearsSelection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.loop.Submit(ctx, "sid", livingRoom())
	require.NoError(t, err)
	s, err := h.loop.Select(ctx, "sid", 0)
	require.NoError(t, err)
	oldBatch := s.Batch.ID

	s, err = h.loop.Regenerate(ctx, "sid", "")
	require.NoError(t, err)
	assert.Equal(t, session.StateBatchReady, s.State)
	assert.Nil(t, s.Selection)
	assert.NotEqual(t, oldBatch, s.Batch.ID)
	assert.Equal(t, domain.BatchOriginRegeneration, s.Batch.Origin)
}

func TestScenarioB_ImageServiceFailurePreservesPrompt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.loop.Submit(ctx, "sid", livingRoom())
	require.NoError(t, err)
	prompt := s.Prompt

	h.images.err = domain.NewFailure(domain.KindImageService, "replicate", "http_402", errors.New("insufficient credit"))
	s, err = h.loop.Submit(ctx, "sid", livingRoom())
	require.True(t, domain.IsKind(err, domain.KindImageService))
	assert.Equal(t, session.StateFailed, s.State)
	assert.Nil(t, s.Batch)
	assert.Nil(t, s.Selection)
	assert.Equal(t, prompt, s.Prompt)
	assert.NotEmpty(t, s.LastError)
	assert.Equal(t, domain.KindImageService, s.LastErrorKind)

	h.images.err = nil
	s, err = h.loop.Regenerate(ctx, "sid", "")
	require.NoError(t, err)
	assert.Equal(t, session.StateBatchReady, s.State)
	assert.Equal(t, prompt, h.images.requests[len(h.images.requests)-1].Prompt)
	assert.Empty(t, s.LastError)
}

func TestScenarioC_EditAndRegenerateKeepsArtifact(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.loop.Submit(ctx, "sid", livingRoom())
	require.NoError(t, err)
	s, err := h.loop.Select(ctx, "sid", 1)
	require.NoError(t, err)
	saved := filepath.Join(h.dir, s.Artifacts[0].Key)
	before, err := os.ReadFile(saved)
	require.NoError(t, err)
	original := s.Prompt

	s, err = h.loop.EditPrompt(ctx, "sid", "A minimalist living room at dusk")
	require.NoError(t, err)
	assert.Equal(t, session.StateEditing, s.State)
	assert.Equal(t, []string{original}, s.PromptHistory)

	h.images.urls = []string{"https://img/new0.png", "https://img/new1.png", "https://img/new2.png"}
	s, err = h.loop.Regenerate(ctx, "sid", "")
	require.NoError(t, err)
	assert.Equal(t, "A minimalist living room at dusk", h.images.requests[len(h.images.requests)-1].Prompt)
	assert.Equal(t, "https://img/new1.png", s.Batch.Images[1].SourceURL)
	assert.Nil(t, s.Selection)

	after, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	s, err = h.loop.Select(ctx, "sid", 1)
	require.NoError(t, err)
	assert.Equal(t, "archivision_living_room_2-2.png", s.Artifacts[1].Key)
}

func TestRegenerateWithTextEditsFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.loop.Submit(ctx, "sid", livingRoom())
	require.NoError(t, err)
	_, err = h.loop.Select(ctx, "sid", 0)
	require.NoError(t, err)

	s, err := h.loop.Regenerate(ctx, "sid", "  a loft with exposed brick ")
	require.NoError(t, err)
	assert.Equal(t, "a loft with exposed brick", s.Prompt)
	assert.Len(t, s.PromptHistory, 1)
}

func TestInvalidTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.loop.Select(ctx, "sid", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = h.loop.EditPrompt(ctx, "sid", "x")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = h.loop.Regenerate(ctx, "sid", "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = h.loop.Submit(ctx, "sid", livingRoom())
	require.NoError(t, err)
	_, err = h.loop.EditPrompt(ctx, "sid", "x")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "editing requires a selection")
	_, err = h.loop.Regenerate(ctx, "sid", "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = h.loop.Select(ctx, "sid", 0)
	require.NoError(t, err)
	_, err = h.loop.EditPrompt(ctx, "sid", "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyPrompt)

	_, err = h.loop.Submit(ctx, "sid", domain.DesignParameters{Length: -2})
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
}

func TestSnapshotAndEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.loop.Snapshot(ctx, "sid")
	require.NoError(t, err)
	assert.Equal(t, session.StateAwaitingSubmission, s.State)

	_, err = h.loop.Submit(ctx, "sid", livingRoom())
	require.NoError(t, err)
	s, err = h.loop.Select(ctx, "sid", 0)
	require.NoError(t, err)
	key := s.Artifacts[0].Key

	require.NoError(t, h.loop.End(ctx, "sid"))
	s, err = h.loop.Snapshot(ctx, "sid")
	require.NoError(t, err)
	assert.Equal(t, session.StateAwaitingSubmission, s.State)
	assert.Empty(t, s.Prompt)
	_, err = os.Stat(filepath.Join(h.dir, key))
	assert.NoError(t, err, "artifacts outlive the session")
}

func TestConcurrentActionsOnOneSessionAreSerialized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.loop.Submit(ctx, "sid", livingRoom())
		}()
	}
	wg.Wait()
	s, err := h.loop.Snapshot(ctx, "sid")
	require.NoError(t, err)
	assert.Equal(t, session.StateBatchReady, s.State)
	assert.Equal(t, 8, h.text.calls)
	assert.Equal(t, 8, h.images.calls)
}

func (l *Loop) waiters(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sl, ok := l.locks[id]; ok {
		return sl.refs
	}
	return 0
}

func TestEndDoesNotSplitQueuedActions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var active, peak int32
	critical := func() {
		unlock := h.loop.lock("sid")
		defer unlock()
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&active, -1)
	}

	hold := h.loop.lock("sid")
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, h.loop.End(ctx, "sid"))
		// Arrives after End while earlier actions are still queued.
		critical()
	}()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			critical()
		}()
	}
	require.Eventually(t, func() bool { return h.loop.waiters("sid") == 6 }, time.Second, time.Millisecond)
	hold()
	wg.Wait()

	assert.Equal(t, int32(1), peak)
	assert.Zero(t, h.loop.waiters("sid"))
}

func TestLocksAreReleasedAfterUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		_, err := h.loop.Snapshot(ctx, uuid.NewString())
		require.NoError(t, err)
	}
	h.loop.mu.Lock()
	defer h.loop.mu.Unlock()
	assert.Empty(t, h.loop.locks)
}
