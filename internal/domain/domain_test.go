package domain

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

func TestFailureClassification(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("submit: %w", NewFailure(KindGeneration, "openai", "http_request", cause))

	if got := KindOf(err); got != KindGeneration {
		t.Fatalf("KindOf = %q, want %q", got, KindGeneration)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("failure should unwrap to its cause")
	}
	if IsKind(err, KindImageService) {
		t.Fatalf("generation failure reported as image service failure")
	}
	if KindOf(cause) != "" {
		t.Fatalf("plain errors must not carry a kind")
	}
	var f *Failure
	if !errors.As(err, &f) || !f.Recoverable() {
		t.Fatalf("generation failure should be recoverable")
	}
	if NewFailure(KindConfiguration, "config", "", nil).Recoverable() {
		t.Fatalf("configuration failure must not be recoverable")
	}
}

func TestFailureMessage(t *testing.T) {
	err := Failuref(KindFetch, "fetch", "http_404", "GET %s", "https://x/1.png")
	want := "fetch: fetch_failure (http_404): GET https://x/1.png"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestGenerationRequestValidate(t *testing.T) {
	base := NewGenerationRequest("a calm room", GenerationDefaults{})
	cases := []struct {
		name    string
		mutate  func(r *GenerationRequest)
		wantErr error
	}{
		{name: "ok", mutate: func(r *GenerationRequest) {}},
		{name: "empty prompt", mutate: func(r *GenerationRequest) { r.Prompt = "  " }, wantErr: ErrEmptyPrompt},
		{name: "zero count", mutate: func(r *GenerationRequest) { r.Count = 0 }, wantErr: ErrInvalidParameters},
		{name: "bad ratio", mutate: func(r *GenerationRequest) { r.AspectRatio = "7:1" }, wantErr: ErrInvalidParameters},
		{name: "quality", mutate: func(r *GenerationRequest) { r.Quality = 101 }, wantErr: ErrInvalidParameters},
		{name: "guidance", mutate: func(r *GenerationRequest) { r.GuidanceScale = -1 }, wantErr: ErrInvalidParameters},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			err := req.Validate()
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestGenerationDefaultsNormalize(t *testing.T) {
	d := GenerationDefaults{Count: 10}.Normalize()
	if d.Count != MaxImageCount {
		t.Fatalf("Count = %d, want %d", d.Count, MaxImageCount)
	}
	if d.AspectRatio != DefaultAspectRatio || d.GuidanceScale != DefaultGuidanceScale || d.Quality != DefaultOutputQuality {
		t.Fatalf("defaults not applied: %#v", d)
	}
}

func TestParseAspectRatio(t *testing.T) {
	if ar, ok := ParseAspectRatio(" 16 : 9 "); !ok || ar != "16:9" {
		t.Fatalf("ParseAspectRatio = %q, %v", ar, ok)
	}
	if _, ok := ParseAspectRatio("square"); ok {
		t.Fatalf("square should be rejected")
	}
}

func TestDesignParametersValidate(t *testing.T) {
	if err := (DesignParameters{Length: 5, Width: 4, CeilingHeight: 2.8}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (DesignParameters{}).Validate(); err != nil {
		t.Fatalf("empty parameters should be valid: %v", err)
	}
	for _, p := range []DesignParameters{{Length: -1}, {Width: math.NaN()}, {CeilingHeight: math.Inf(1)}} {
		if err := p.Validate(); !errors.Is(err, ErrInvalidParameters) {
			t.Fatalf("Validate(%#v) = %v, want ErrInvalidParameters", p, err)
		}
	}
}

func TestImageBatchLookupByOriginalIndex(t *testing.T) {
	b := &ImageBatch{Images: []BatchImage{{Index: 0}, {Index: 2}}}
	if _, ok := b.Image(1); ok {
		t.Fatalf("index 1 should be missing")
	}
	img, ok := b.Image(2)
	if !ok || img.Index != 2 {
		t.Fatalf("Image(2) = %#v, %v", img, ok)
	}
	var nilBatch *ImageBatch
	if !nilBatch.Empty() {
		t.Fatalf("nil batch should be empty")
	}
}
