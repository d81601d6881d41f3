package image

import (
	"context"

	"archivision/internal/domain"
)

// Generator is the contract implemented by image-generation providers. It
// returns the remote locations of the generated images in provider order;
// callers must not assume one location per requested image.
type Generator interface {
	GenerateImages(ctx context.Context, req domain.GenerationRequest) ([]string, error)
}

// BatchFetcher resolves every location of a batch, keeping per-location failures.
type BatchFetcher interface {
	FetchBatch(ctx context.Context, locations []string) Report
}

// Report is the outcome of FetchBatch. Images keep the index of the location
// they came from; Failures list the locations that were skipped.
type Report struct {
	Images   []domain.BatchImage
	Failures []domain.FetchFailure
}
