package domain

import (
	"fmt"
	"math"
	"strings"
)

// AspectRatio is the output frame requested from the image service.
type AspectRatio string

var allowedAspectRatios = map[AspectRatio]struct{}{
	"1:1":  {},
	"16:9": {},
	"21:9": {},
	"3:2":  {},
	"2:3":  {},
	"4:5":  {},
	"5:4":  {},
	"3:4":  {},
	"4:3":  {},
	"9:16": {},
	"9:21": {},
}

const (
	// DefaultImageCount matches the three-column picker of the form.
	DefaultImageCount = 3
	// MaxImageCount is the provider-side ceiling for num_outputs.
	MaxImageCount = 4
	// DefaultAspectRatio is used when the configuration omits one.
	DefaultAspectRatio AspectRatio = "1:1"
	// DefaultGuidanceScale is the provider default for the designer model.
	DefaultGuidanceScale = 3.5
	// DefaultOutputQuality is the JPEG/WebP quality requested from the provider.
	DefaultOutputQuality = 90
)

// ParseAspectRatio normalizes s and reports whether it is supported.
func ParseAspectRatio(s string) (AspectRatio, bool) {
	ar := AspectRatio(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	_, ok := allowedAspectRatios[ar]
	return ar, ok
}

// GenerationRequest is one image-service invocation. It is built fresh for
// every call and never mutated afterwards.
type GenerationRequest struct {
	Prompt        string      `json:"prompt"`
	Count         int         `json:"count"`
	AspectRatio   AspectRatio `json:"aspect_ratio"`
	GuidanceScale float64     `json:"guidance_scale"`
	Quality       int         `json:"quality"`
}

// GenerationDefaults are the per-deployment knobs applied to every request.
type GenerationDefaults struct {
	Count         int
	AspectRatio   AspectRatio
	GuidanceScale float64
	Quality       int
}

// Normalize fills zero values with package defaults and clamps Count.
func (d GenerationDefaults) Normalize() GenerationDefaults {
	if d.Count <= 0 {
		d.Count = DefaultImageCount
	}
	if d.Count > MaxImageCount {
		d.Count = MaxImageCount
	}
	if d.AspectRatio == "" {
		d.AspectRatio = DefaultAspectRatio
	}
	if d.GuidanceScale <= 0 {
		d.GuidanceScale = DefaultGuidanceScale
	}
	if d.Quality <= 0 {
		d.Quality = DefaultOutputQuality
	}
	return d
}

// NewGenerationRequest binds prompt to the defaults.
func NewGenerationRequest(prompt string, d GenerationDefaults) GenerationRequest {
	d = d.Normalize()
	return GenerationRequest{
		Prompt:        prompt,
		Count:         d.Count,
		AspectRatio:   d.AspectRatio,
		GuidanceScale: d.GuidanceScale,
		Quality:       d.Quality,
	}
}

// Validate ensures the request satisfies the image service contract.
func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	if r.Count < 1 {
		return fmt.Errorf("%w: count must be at least 1", ErrInvalidParameters)
	}
	if r.AspectRatio != "" {
		if _, ok := allowedAspectRatios[r.AspectRatio]; !ok {
			return fmt.Errorf("%w: unsupported aspect_ratio %q", ErrInvalidParameters, r.AspectRatio)
		}
	}
	if math.IsNaN(r.GuidanceScale) || r.GuidanceScale < 0 {
		return fmt.Errorf("%w: guidance_scale must be non-negative", ErrInvalidParameters)
	}
	if r.Quality < 0 || r.Quality > 100 {
		return fmt.Errorf("%w: quality must be between 0 and 100", ErrInvalidParameters)
	}
	return nil
}
