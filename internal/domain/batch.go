package domain

import "time"

// BatchOrigin tells whether a batch came from a form submission or from a
// regeneration with an edited prompt.
type BatchOrigin string

const (
	BatchOriginSubmission   BatchOrigin = "submission"
	BatchOriginRegeneration BatchOrigin = "regeneration"
)

// BatchImage is one decoded image. Index is its position in the list of
// locations returned by the image service, not its position in the batch.
type BatchImage struct {
	Index        int    `json:"index"`
	SourceURL    string `json:"source_url"`
	SourceFormat string `json:"source_format"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	PNG          []byte `json:"png"`
}

// FetchFailure records a location that could not be turned into an image.
type FetchFailure struct {
	Index     int    `json:"index"`
	SourceURL string `json:"source_url"`
	Reason    string `json:"reason"`
}

// ImageBatch is produced from a single GenerationRequest.
type ImageBatch struct {
	ID        string         `json:"id"`
	Origin    BatchOrigin    `json:"origin"`
	Prompt    string         `json:"prompt"`
	Requested int            `json:"requested"`
	Returned  int            `json:"returned"`
	Images    []BatchImage   `json:"images"`
	Failures  []FetchFailure `json:"failures,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Image looks an image up by its original index.
func (b *ImageBatch) Image(index int) (BatchImage, bool) {
	if b == nil {
		return BatchImage{}, false
	}
	for _, img := range b.Images {
		if img.Index == index {
			return img, true
		}
	}
	return BatchImage{}, false
}

// Empty reports whether no image could be decoded.
func (b *ImageBatch) Empty() bool {
	return b == nil || len(b.Images) == 0
}

// SavedArtifact is a PNG written to durable storage after a selection.
type SavedArtifact struct {
	Key      string    `json:"key"`
	BatchID  string    `json:"batch_id"`
	Index    int       `json:"index"`
	RoomType string    `json:"room_type"`
	SavedAt  time.Time `json:"saved_at"`
}
