package domain

import (
	"fmt"
	"math"
	"strings"
)

// DesignParameters is the questionnaire submitted by the user. Every field is
// optional; numeric fields are meters and zero means "not given".
type DesignParameters struct {
	RoomType        string  `json:"room_type"`
	Style           string  `json:"style"`
	Colors          string  `json:"colors"`
	Ambiance        string  `json:"ambiance"`
	Length          float64 `json:"length"`
	Width           float64 `json:"width"`
	CeilingHeight   float64 `json:"ceiling_height"`
	Furniture       string  `json:"furniture"`
	Lighting        string  `json:"lighting"`
	Decor           string  `json:"decor"`
	SpecialFunction string  `json:"special_function"`
	View            string  `json:"view"`
	Constraints     string  `json:"constraints"`
}

// Trimmed returns a copy with surrounding whitespace removed from text fields.
func (p DesignParameters) Trimmed() DesignParameters {
	p.RoomType = strings.TrimSpace(p.RoomType)
	p.Style = strings.TrimSpace(p.Style)
	p.Colors = strings.TrimSpace(p.Colors)
	p.Ambiance = strings.TrimSpace(p.Ambiance)
	p.Furniture = strings.TrimSpace(p.Furniture)
	p.Lighting = strings.TrimSpace(p.Lighting)
	p.Decor = strings.TrimSpace(p.Decor)
	p.SpecialFunction = strings.TrimSpace(p.SpecialFunction)
	p.View = strings.TrimSpace(p.View)
	p.Constraints = strings.TrimSpace(p.Constraints)
	return p
}

// Validate only checks the numeric fields; text fields are free-form.
func (p DesignParameters) Validate() error {
	dims := map[string]float64{
		"length":         p.Length,
		"width":          p.Width,
		"ceiling_height": p.CeilingHeight,
	}
	for _, name := range []string{"length", "width", "ceiling_height"} {
		v := dims[name]
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %s must be a non-negative number", ErrInvalidParameters, name)
		}
	}
	return nil
}
