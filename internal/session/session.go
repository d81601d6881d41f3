package session

import (
	"context"
	"strings"
	"time"

	"archivision/internal/domain"
)

// State is the position of a session in the design workflow.
type State string

const (
	StateAwaitingSubmission State = "awaiting_submission"
	StatePromptReady        State = "prompt_ready"
	StateBatchReady         State = "batch_ready"
	StateSelected           State = "selected"
	StateEditing            State = "editing"
	StateFailed             State = "failed"
)

// Session is the per-user workflow state. It holds exactly one current
// prompt, at most one batch and at most one selection into that batch.
type Session struct {
	ID            string                 `json:"id"`
	State         State                  `json:"state"`
	Prompt        string                 `json:"prompt,omitempty"`
	PromptHistory []string               `json:"prompt_history,omitempty"`
	RoomType      string                 `json:"room_type,omitempty"`
	Batch         *domain.ImageBatch     `json:"batch,omitempty"`
	Selection     *int                   `json:"selection,omitempty"`
	Artifacts     []domain.SavedArtifact `json:"artifacts,omitempty"`
	LastError     string                 `json:"last_error,omitempty"`
	LastErrorKind domain.Kind            `json:"last_error_kind,omitempty"`
	Notice        string                 `json:"notice,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Store persists sessions between requests.
type Store interface {
	// Load returns domain.ErrSessionNotFound for unknown or expired ids.
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// New returns an empty session awaiting its first submission.
func New(id string, now time.Time) *Session {
	return &Session{ID: id, State: StateAwaitingSubmission, CreatedAt: now, UpdatedAt: now}
}

// HasPrompt reports whether a current prompt exists.
func (s *Session) HasPrompt() bool {
	return strings.TrimSpace(s.Prompt) != ""
}

// ReplacePrompt makes text the current prompt and pushes the previous one to
// the history. Replacing a prompt with itself is a no-op.
func (s *Session) ReplacePrompt(text string) {
	if text == s.Prompt {
		return
	}
	if s.Prompt != "" {
		s.PromptHistory = append(s.PromptHistory, s.Prompt)
	}
	s.Prompt = text
}

// SelectedImage returns the selected image of the current batch.
func (s *Session) SelectedImage() (domain.BatchImage, bool) {
	if s.Selection == nil {
		return domain.BatchImage{}, false
	}
	return s.Batch.Image(*s.Selection)
}

// LastArtifact returns the most recently saved artifact.
func (s *Session) LastArtifact() (domain.SavedArtifact, bool) {
	if len(s.Artifacts) == 0 {
		return domain.SavedArtifact{}, false
	}
	return s.Artifacts[len(s.Artifacts)-1], true
}

// ClearMessages drops the error and notice of the previous action.
func (s *Session) ClearMessages() {
	s.LastError = ""
	s.LastErrorKind = ""
	s.Notice = ""
}

// Clone returns a deep copy. Image payloads are shared since they are never
// mutated after decoding.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.PromptHistory = append([]string(nil), s.PromptHistory...)
	c.Artifacts = append([]domain.SavedArtifact(nil), s.Artifacts...)
	if s.Selection != nil {
		sel := *s.Selection
		c.Selection = &sel
	}
	if s.Batch != nil {
		b := *s.Batch
		b.Images = append([]domain.BatchImage(nil), s.Batch.Images...)
		b.Failures = append([]domain.FetchFailure(nil), s.Batch.Failures...)
		c.Batch = &b
	}
	return &c
}
