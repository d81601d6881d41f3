package handlers

import (
	"encoding/base64"
	"fmt"
	"path"
	"time"

	"archivision/internal/domain"
	"archivision/internal/session"
	"archivision/internal/storage"
)

type sessionView struct {
	ID            string         `json:"id"`
	State         session.State  `json:"state"`
	Prompt        string         `json:"prompt,omitempty"`
	PromptHistory []string       `json:"prompt_history"`
	RoomType      string         `json:"room_type,omitempty"`
	Batch         *batchView     `json:"batch,omitempty"`
	Selection     *int           `json:"selection,omitempty"`
	Artifacts     []artifactView `json:"artifacts"`
	Notice        string         `json:"notice,omitempty"`
	Error         *errorBody     `json:"error,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type batchView struct {
	ID        string             `json:"id"`
	Origin    domain.BatchOrigin `json:"origin"`
	Requested int                `json:"requested"`
	Returned  int                `json:"returned"`
	Images    []imageView        `json:"images"`
	Missing   []int              `json:"missing"`
}

type imageView struct {
	Index        int    `json:"index"`
	Caption      string `json:"caption"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	SourceFormat string `json:"source_format"`
	URL          string `json:"url"`
	Selected     bool   `json:"selected"`
}

type artifactView struct {
	Key     string    `json:"key"`
	Index   int       `json:"index"`
	SavedAt time.Time `json:"saved_at"`
}

func newSessionView(s *session.Session) sessionView {
	v := sessionView{
		ID:            s.ID,
		State:         s.State,
		Prompt:        s.Prompt,
		PromptHistory: append([]string{}, s.PromptHistory...),
		RoomType:      s.RoomType,
		Selection:     s.Selection,
		Artifacts:     []artifactView{},
		Notice:        s.Notice,
		UpdatedAt:     s.UpdatedAt,
	}
	if s.LastError != "" {
		v.Error = &errorBody{Code: string(s.LastErrorKind), Message: s.LastError}
	}
	for _, a := range s.Artifacts {
		v.Artifacts = append(v.Artifacts, artifactView{Key: a.Key, Index: a.Index, SavedAt: a.SavedAt})
	}
	if s.Batch != nil {
		b := &batchView{
			ID:        s.Batch.ID,
			Origin:    s.Batch.Origin,
			Requested: s.Batch.Requested,
			Returned:  s.Batch.Returned,
			Images:    []imageView{},
			Missing:   []int{},
		}
		for _, img := range s.Batch.Images {
			b.Images = append(b.Images, imageView{
				Index:        img.Index,
				Caption:      caption(s.Batch.Origin, img.Index),
				Width:        img.Width,
				Height:       img.Height,
				SourceFormat: img.SourceFormat,
				URL:          fmt.Sprintf("/images/%d", img.Index),
				Selected:     s.Selection != nil && *s.Selection == img.Index,
			})
		}
		for _, f := range s.Batch.Failures {
			b.Missing = append(b.Missing, f.Index)
		}
		v.Batch = b
	}
	return v
}

// caption numbers images from one by their original position.
func caption(origin domain.BatchOrigin, index int) string {
	if origin == domain.BatchOriginRegeneration {
		return fmt.Sprintf("Alternative %d", index+1)
	}
	return fmt.Sprintf("Image %d", index+1)
}

func dataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

// downloadName is the file name offered for the selected image. It matches
// the saved artifact when the selection belongs to the current batch.
func downloadName(s *session.Session) string {
	if s.Selection == nil {
		return ""
	}
	if a, ok := s.LastArtifact(); ok && s.Batch != nil && a.BatchID == s.Batch.ID && a.Index == *s.Selection {
		return path.Base(a.Key)
	}
	return storage.ArtifactName(s.RoomType, *s.Selection)
}
