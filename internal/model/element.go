package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ElementType discriminates the drawable element union.
type ElementType string

const (
	ElementStroke    ElementType = "stroke"
	ElementRectangle ElementType = "rectangle"
	ElementCircle    ElementType = "circle"
	ElementText      ElementType = "text"
	ElementImage     ElementType = "image"
	ElementShape     ElementType = "shape"
	ElementTable     ElementType = "table"
	ElementChart     ElementType = "chart"
	ElementIcon      ElementType = "icon"
)

var (
	ErrMissingID      = errors.New("element id is required")
	ErrUnknownType    = errors.New("unknown element type")
	ErrDegenerateData = errors.New("element is missing required variant fields")
)

// Point 2D coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DrawingElement is one drawable object on a board. The Type field selects
// which variant-specific fields are meaningful; the rest stay at their zero
// value and are omitted on the wire.
type DrawingElement struct {
	ID          string      `json:"id"`
	Type        ElementType `json:"type"`
	Position    Point       `json:"position"`
	Color       string      `json:"color,omitempty"`
	StrokeWidth float64     `json:"strokeWidth,omitempty"`

	// stroke
	Points []Point `json:"points,omitempty"`

	// box-shaped variants (rectangle, circle, image, shape, chart)
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Src          string  `json:"src,omitempty"`
	Alt          string  `json:"alt,omitempty"`
	Opacity      float64 `json:"opacity,omitempty"`
	BorderRadius float64 `json:"borderRadius,omitempty"`

	// shape
	ShapeType string `json:"shapeType,omitempty"`
	FillColor string `json:"fillColor,omitempty"`

	// table
	Rows     int        `json:"rows,omitempty"`
	Cols     int        `json:"cols,omitempty"`
	CellData [][]string `json:"cellData,omitempty"`

	// chart
	ChartType string    `json:"chartType,omitempty"`
	Series    []float64 `json:"series,omitempty"`
	Colors    []string  `json:"colors,omitempty"`

	// icon
	Symbol string `json:"symbol,omitempty"`
}

// Validate checks that the variant-specific required fields are present and
// non-degenerate. Malformed elements are rejected at the boundary instead of
// entering the session or the durable store.
func (e *DrawingElement) Validate() error {
	if e.ID == "" {
		return ErrMissingID
	}

	switch e.Type {
	case ElementStroke:
		if len(e.Points) < 2 {
			return fmt.Errorf("%w: stroke needs at least 2 points, got %d", ErrDegenerateData, len(e.Points))
		}
	case ElementRectangle, ElementCircle, ElementShape:
		if e.Width == 0 || e.Height == 0 {
			return fmt.Errorf("%w: %s needs non-zero width and height", ErrDegenerateData, e.Type)
		}
	case ElementText:
		if e.Text == "" {
			return fmt.Errorf("%w: text element needs text content", ErrDegenerateData)
		}
	case ElementImage:
		if e.Src == "" {
			return fmt.Errorf("%w: image element needs src", ErrDegenerateData)
		}
		if e.Width == 0 || e.Height == 0 {
			return fmt.Errorf("%w: image needs non-zero width and height", ErrDegenerateData)
		}
	case ElementTable:
		if e.Rows <= 0 || e.Cols <= 0 {
			return fmt.Errorf("%w: table needs positive rows and cols", ErrDegenerateData)
		}
	case ElementChart:
		if e.ChartType == "" || len(e.Series) == 0 {
			return fmt.Errorf("%w: chart needs chartType and series", ErrDegenerateData)
		}
	case ElementIcon:
		if e.Symbol == "" {
			return fmt.Errorf("%w: icon element needs symbol", ErrDegenerateData)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}

	return nil
}

// ElementUpdates is a partial element: raw JSON per top-level key.
type ElementUpdates map[string]json.RawMessage

// ApplyUpdates merges updates into e by key union, last writer wins per key.
// Keys absent from updates keep their current value, matching object-spread
// merge semantics at element granularity.
func ApplyUpdates(e DrawingElement, updates ElementUpdates) (DrawingElement, error) {
	current, err := json.Marshal(e)
	if err != nil {
		return e, err
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(current, &fields); err != nil {
		return e, err
	}

	for key, value := range updates {
		fields[key] = value
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return e, err
	}

	var out DrawingElement
	if err := json.Unmarshal(merged, &out); err != nil {
		return e, fmt.Errorf("invalid element updates: %w", err)
	}

	// The id and type of an element are immutable once created.
	out.ID = e.ID
	out.Type = e.Type

	return out, nil
}
