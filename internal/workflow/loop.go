package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"archivision/internal/domain"
	imageprovider "archivision/internal/providers/image"
	"archivision/internal/providers/prompt"
	"archivision/internal/session"
	"archivision/internal/storage"
)

const (
	NoticePromptReady = "Prompt ready!"
	NoticeNoImages    = "no images returned"
)

// ArtifactWriter persists a selected image without overwriting earlier ones.
type ArtifactWriter interface {
	WriteNew(ctx context.Context, key string, data []byte) (string, error)
}

type Options struct {
	Store     session.Store
	Text      prompt.Generator
	Images    imageprovider.Generator
	Fetcher   imageprovider.BatchFetcher
	Artifacts ArtifactWriter
	Defaults  domain.GenerationDefaults
	Logger    *zerolog.Logger
	Now       func() time.Time
}

// Loop drives the design workflow of every session. Actions on one session
// are serialized; different sessions proceed independently.
type Loop struct {
	store     session.Store
	text      prompt.Generator
	images    imageprovider.Generator
	fetcher   imageprovider.BatchFetcher
	artifacts ArtifactWriter
	defaults  domain.GenerationDefaults
	logger    zerolog.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock is dropped from the map once no caller holds or awaits it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func NewLoop(opts Options) (*Loop, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("workflow: session store is required")
	case opts.Text == nil:
		return nil, errors.New("workflow: text generator is required")
	case opts.Images == nil:
		return nil, errors.New("workflow: image generator is required")
	case opts.Fetcher == nil:
		return nil, errors.New("workflow: image fetcher is required")
	case opts.Artifacts == nil:
		return nil, errors.New("workflow: artifact writer is required")
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Loop{
		store:     opts.Store,
		text:      opts.Text,
		images:    opts.Images,
		fetcher:   opts.Fetcher,
		artifacts: opts.Artifacts,
		defaults:  opts.Defaults.Normalize(),
		logger:    logger,
		now:       now,
		locks:     make(map[string]*sessionLock),
	}, nil
}

// Snapshot returns the session, creating it on first use.
func (l *Loop) Snapshot(ctx context.Context, id string) (*session.Session, error) {
	unlock := l.lock(id)
	defer unlock()
	return l.load(ctx, id)
}

// Submit compiles params into an instruction, asks the text service for a
// design prompt and runs one image batch with it. A generation failure leaves
// the session as it was apart from the error message.
func (l *Loop) Submit(ctx context.Context, id string, params domain.DesignParameters) (*session.Session, error) {
	unlock := l.lock(id)
	defer unlock()
	s, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	params = params.Trimmed()
	if err := params.Validate(); err != nil {
		return s, err
	}
	s.ClearMessages()

	text, err := l.text.GenerateDesignPrompt(ctx, prompt.SystemInstruction, prompt.Compile(params))
	if err == nil && strings.TrimSpace(text) == "" {
		err = domain.NewFailure(domain.KindGeneration, "submit", "empty_response", domain.ErrEmptyPrompt)
	}
	if err != nil {
		if !domain.IsKind(err, domain.KindGeneration) {
			err = domain.NewFailure(domain.KindGeneration, "submit", "unexpected", err)
		}
		l.recordFailure(s, err)
		l.logger.Warn().Err(err).Str("session_id", id).Str("state", string(s.State)).Msg("workflow: prompt generation failed")
		return s, l.saveAnd(ctx, s, err)
	}
	s.ReplacePrompt(text)
	s.RoomType = params.RoomType
	l.transition(s, session.StatePromptReady)
	s.Notice = NoticePromptReady

	batchErr := l.runBatch(ctx, s, domain.BatchOriginSubmission)
	return s, l.saveAnd(ctx, s, batchErr)
}

// Select persists the image at index of the current batch. Index is the
// original position in the provider's output.
func (l *Loop) Select(ctx context.Context, id string, index int) (*session.Session, error) {
	unlock := l.lock(id)
	defer unlock()
	s, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.State != session.StateBatchReady && s.State != session.StateSelected {
		return s, l.invalid(s, "select")
	}
	img, ok := s.Batch.Image(index)
	if !ok {
		return s, fmt.Errorf("%w: %d", domain.ErrNoSuchImage, index)
	}
	key, err := l.artifacts.WriteNew(ctx, storage.ArtifactName(s.RoomType, index), img.PNG)
	if err != nil {
		return s, fmt.Errorf("workflow: save artifact: %w", err)
	}
	s.ClearMessages()
	sel := index
	s.Selection = &sel
	s.Artifacts = append(s.Artifacts, domain.SavedArtifact{
		Key:      key,
		BatchID:  s.Batch.ID,
		Index:    index,
		RoomType: s.RoomType,
		SavedAt:  l.now(),
	})
	s.Notice = "Saved: " + key
	l.transition(s, session.StateSelected)
	l.logger.Info().Str("session_id", id).Str("artifact", key).Int("index", index).Msg("workflow: artifact saved")
	return s, l.saveAnd(ctx, s, nil)
}

// EditPrompt replaces the current prompt after a selection.
func (l *Loop) EditPrompt(ctx context.Context, id, text string) (*session.Session, error) {
	unlock := l.lock(id)
	defer unlock()
	s, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := l.edit(s, text); err != nil {
		return s, err
	}
	return s, l.saveAnd(ctx, s, nil)
}

// Regenerate runs a new batch with the current prompt, optionally editing it
// first. The new batch starts without a selection; saved artifacts stay.
func (l *Loop) Regenerate(ctx context.Context, id, text string) (*session.Session, error) {
	unlock := l.lock(id)
	defer unlock()
	s, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch s.State {
	case session.StateSelected, session.StateEditing:
	case session.StateFailed:
		if !s.HasPrompt() {
			return s, l.invalid(s, "regenerate")
		}
	default:
		return s, l.invalid(s, "regenerate")
	}
	if text = strings.TrimSpace(text); text != "" && text != s.Prompt {
		if s.State == session.StateFailed {
			s.ReplacePrompt(text)
		} else if err := l.edit(s, text); err != nil {
			return s, err
		}
	}
	s.ClearMessages()
	batchErr := l.runBatch(ctx, s, domain.BatchOriginRegeneration)
	return s, l.saveAnd(ctx, s, batchErr)
}

// End drops the session state. Saved artifacts are left on disk.
func (l *Loop) End(ctx context.Context, id string) error {
	unlock := l.lock(id)
	err := l.store.Delete(ctx, id)
	unlock()
	if err != nil {
		return fmt.Errorf("workflow: end session: %w", err)
	}
	l.logger.Info().Str("session_id", id).Msg("workflow: session ended")
	return nil
}

func (l *Loop) edit(s *session.Session, text string) error {
	if s.State != session.StateSelected && s.State != session.StateEditing {
		return l.invalid(s, "edit prompt")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ErrEmptyPrompt
	}
	s.ClearMessages()
	s.ReplacePrompt(text)
	l.transition(s, session.StateEditing)
	return nil
}

// runBatch asks for images with the current prompt and fetches them. The
// batch and selection are cleared when the image service fails.
func (l *Loop) runBatch(ctx context.Context, s *session.Session, origin domain.BatchOrigin) error {
	req := domain.NewGenerationRequest(s.Prompt, l.defaults)
	urls, err := l.images.GenerateImages(ctx, req)
	if err != nil {
		if !domain.IsKind(err, domain.KindImageService) {
			err = domain.NewFailure(domain.KindImageService, "generate", "unexpected", err)
		}
		s.Batch = nil
		s.Selection = nil
		l.recordFailure(s, err)
		l.transition(s, session.StateFailed)
		l.logger.Warn().Err(err).Str("session_id", s.ID).Msg("workflow: image generation failed")
		return err
	}
	report := l.fetcher.FetchBatch(ctx, urls)
	s.Batch = &domain.ImageBatch{
		ID:        uuid.NewString(),
		Origin:    origin,
		Prompt:    s.Prompt,
		Requested: req.Count,
		Returned:  len(urls),
		Images:    report.Images,
		Failures:  report.Failures,
		CreatedAt: l.now(),
	}
	s.Selection = nil
	l.transition(s, session.StateBatchReady)
	if s.Batch.Empty() {
		s.Notice = NoticeNoImages
	}
	l.logger.Info().
		Str("session_id", s.ID).
		Str("batch_id", s.Batch.ID).
		Str("origin", string(origin)).
		Int("requested", req.Count).
		Int("returned", len(urls)).
		Int("decoded", len(report.Images)).
		Msg("workflow: batch ready")
	return nil
}

func (l *Loop) recordFailure(s *session.Session, err error) {
	s.LastError = userMessage(err)
	s.LastErrorKind = domain.KindOf(err)
}

func (l *Loop) transition(s *session.Session, to session.State) {
	if s.State != to {
		l.logger.Debug().Str("session_id", s.ID).Str("from", string(s.State)).Str("to", string(to)).Msg("workflow: transition")
	}
	s.State = to
}

func (l *Loop) invalid(s *session.Session, action string) error {
	return fmt.Errorf("%w: cannot %s in state %s", domain.ErrInvalidTransition, action, s.State)
}

func (l *Loop) load(ctx context.Context, id string) (*session.Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("workflow: session id is required")
	}
	s, err := l.store.Load(ctx, id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		s = session.New(id, l.now())
		if err := l.store.Save(ctx, s); err != nil {
			return nil, fmt.Errorf("workflow: create session: %w", err)
		}
		l.logger.Debug().Str("session_id", id).Msg("workflow: session created")
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workflow: load session: %w", err)
	}
	return s, nil
}

// saveAnd persists s and returns cause, or the save error if there is no cause.
func (l *Loop) saveAnd(ctx context.Context, s *session.Session, cause error) error {
	s.UpdatedAt = l.now()
	if err := l.store.Save(ctx, s); err != nil {
		l.logger.Error().Err(err).Str("session_id", s.ID).Msg("workflow: save session failed")
		if cause == nil {
			return fmt.Errorf("workflow: save session: %w", err)
		}
	}
	return cause
}

func (l *Loop) lock(id string) func() {
	l.mu.Lock()
	sl, ok := l.locks[id]
	if !ok {
		sl = &sessionLock{}
		l.locks[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func userMessage(err error) string {
	switch domain.KindOf(err) {
	case domain.KindGeneration:
		return "The design prompt could not be generated. Please try again."
	case domain.KindImageService:
		return "The image service could not produce images. Please try again."
	}
	return "Something went wrong. Please try again."
}
