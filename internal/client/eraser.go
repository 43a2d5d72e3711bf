package client

import (
	"math"

	"canvas-backend/internal/model"
	"canvas-backend/internal/protocol"
)

// eraserRadiusFactor scales the current stroke width into the eraser radius.
const eraserRadiusFactor = 4

// EraseResult reports what one eraser pass changed.
type EraseResult struct {
	// Updated strokes that lost points but survived.
	Updated []model.DrawingElement
	// Deleted element ids.
	Deleted []string
	// majorityTrimmed marks updated strokes that lost more than half their
	// points; those are persisted immediately instead of waiting for the
	// debounced writer.
	majorityTrimmed map[string]bool
}

// hitTestErase filters the element set against an eraser circle at (x, y).
// Strokes lose individual points and die below 2 remaining; box-shaped
// elements die when the eraser reaches their boundary.
func hitTestErase(elements []model.DrawingElement, x, y, radius float64) ([]model.DrawingElement, EraseResult) {
	result := EraseResult{majorityTrimmed: make(map[string]bool)}
	kept := make([]model.DrawingElement, 0, len(elements))

	for _, e := range elements {
		switch e.Type {
		case model.ElementStroke:
			remaining := make([]model.Point, 0, len(e.Points))
			for _, p := range e.Points {
				if math.Hypot(p.X-x, p.Y-y) > radius {
					remaining = append(remaining, p)
				}
			}

			if len(remaining) == len(e.Points) {
				kept = append(kept, e)
				continue
			}

			if len(remaining) < 2 {
				result.Deleted = append(result.Deleted, e.ID)
				continue
			}

			removed := len(e.Points) - len(remaining)
			trimmed := e
			trimmed.Points = remaining
			result.Updated = append(result.Updated, trimmed)
			if removed*2 > len(e.Points) {
				result.majorityTrimmed[e.ID] = true
			}
			kept = append(kept, trimmed)

		case model.ElementRectangle, model.ElementCircle, model.ElementText:
			if boundaryHit(e, x, y, radius) {
				result.Deleted = append(result.Deleted, e.ID)
				continue
			}
			kept = append(kept, e)

		default:
			kept = append(kept, e)
		}
	}

	return kept, result
}

// boundaryHit reports whether the eraser circle reaches the element.
func boundaryHit(e model.DrawingElement, x, y, radius float64) bool {
	switch e.Type {
	case model.ElementRectangle:
		// Closest point on the bounding box, then distance to it.
		cx := clamp(x, e.Position.X, e.Position.X+e.Width)
		cy := clamp(y, e.Position.Y, e.Position.Y+e.Height)
		return math.Hypot(cx-x, cy-y) <= radius

	case model.ElementCircle:
		// Distance from the center minus the circle radius gives the
		// distance to the circumference.
		centerX := e.Position.X + e.Width/2
		centerY := e.Position.Y + e.Height/2
		r := e.Width / 2
		return math.Abs(math.Hypot(centerX-x, centerY-y)-r) <= radius

	case model.ElementText:
		// Point distance to the anchor.
		return math.Hypot(e.Position.X-x, e.Position.Y-y) <= radius
	}

	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Erase runs the hit test at (x, y) with a radius derived from the stroke
// width, applies the result locally, broadcasts the deltas and persists.
// Deletions are durable fire-and-forget; the UI trusts local state for
// erasure, so store failures never roll it back.
func (c *BoardClient) Erase(x, y, strokeWidth float64) EraseResult {
	radius := strokeWidth * eraserRadiusFactor

	c.mu.Lock()
	kept, result := hitTestErase(c.elements, x, y, radius)
	if len(result.Updated) == 0 && len(result.Deleted) == 0 {
		c.mu.Unlock()
		return result
	}

	c.elements = kept
	c.pushSnapshotLocked()
	for _, e := range result.Updated {
		if !result.majorityTrimmed[e.ID] {
			c.pending[e.ID] = struct{}{}
		}
	}
	for _, id := range result.Deleted {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	for _, e := range result.Updated {
		points, err := pointsUpdate(e.Points)
		if err != nil {
			continue
		}
		c.emit(protocol.EventDrawingUpdate, protocol.DrawingUpdatePayload{
			BoardID:   c.boardID,
			ElementID: e.ID,
			Updates:   points,
		})

		// Heavily trimmed strokes are written through immediately; light
		// trims ride the debounced flush.
		if result.majorityTrimmed[e.ID] {
			c.persistUpdate(e.ID, points)
		}
	}

	for _, id := range result.Deleted {
		c.emit(protocol.EventElementDelete, protocol.ElementDeletePayload{
			BoardID:   c.boardID,
			ElementID: id,
		})
		c.persistDelete(id)
	}

	if len(result.Updated) > 0 {
		c.scheduleFlush()
	}

	return result
}
