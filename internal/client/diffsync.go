package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"sync"

	"canvas-backend/internal/model"
)

// Diff is the reconciliation plan between the local element set and the
// durable store's snapshot.
type Diff struct {
	ToCreate []model.DrawingElement
	ToUpdate []model.DrawingElement
	ToDelete []string
}

// Empty reports whether the two sets already converged.
func (d Diff) Empty() bool {
	return len(d.ToCreate) == 0 && len(d.ToUpdate) == 0 && len(d.ToDelete) == 0
}

// ComputeDiff compares the full local set against the saved snapshot:
// local-only ids are created, saved-only ids are deleted, ids in both are
// updated when a comparable field differs. Diffing the full snapshot rather
// than just the pending set guarantees convergence even when debounced
// writes were dropped.
func ComputeDiff(local, saved []model.DrawingElement) Diff {
	savedMap := make(map[string]model.DrawingElement, len(saved))
	for _, e := range saved {
		savedMap[e.ID] = e
	}
	localMap := make(map[string]model.DrawingElement, len(local))
	for _, e := range local {
		localMap[e.ID] = e
	}

	var diff Diff
	for _, e := range local {
		stored, ok := savedMap[e.ID]
		if !ok {
			diff.ToCreate = append(diff.ToCreate, e)
			continue
		}
		if elementsDiffer(e, stored) {
			diff.ToUpdate = append(diff.ToUpdate, e)
		}
	}
	for _, e := range saved {
		if _, ok := localMap[e.ID]; !ok {
			diff.ToDelete = append(diff.ToDelete, e.ID)
		}
	}

	return diff
}

// elementsDiffer compares the fields that matter for persistence: position,
// size, color, stroke width, points and text.
func elementsDiffer(a, b model.DrawingElement) bool {
	if a.Position != b.Position ||
		a.Width != b.Width ||
		a.Height != b.Height ||
		a.Color != b.Color ||
		a.StrokeWidth != b.StrokeWidth ||
		a.Text != b.Text {
		return true
	}
	return !reflect.DeepEqual(a.Points, b.Points)
}

// SyncResult summarizes one explicit save.
type SyncResult struct {
	Created int
	Updated int
	Deleted int
	Errors  []error
}

// Failed reports whether any store call failed; the caller surfaces a retry
// affordance scoped to this save attempt.
func (r SyncResult) Failed() bool {
	return len(r.Errors) > 0
}

// Save reconciles local state against the durable store. The three change
// sets apply concurrently; a failing call is logged and skipped, never
// retried within the same save. The pending set clears only when every call
// succeeded.
func (c *BoardClient) Save(ctx context.Context) (SyncResult, error) {
	if c.store == nil {
		return SyncResult{}, fmt.Errorf("no element store configured")
	}

	saved, err := c.store.ListElements(ctx, c.boardID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("fetch saved elements: %w", err)
	}

	diff := ComputeDiff(c.Elements(), saved)

	var (
		wg     sync.WaitGroup
		errMu  sync.Mutex
		result SyncResult
	)
	fail := func(err error) {
		errMu.Lock()
		result.Errors = append(result.Errors, err)
		errMu.Unlock()
		log.Printf("[Client %s] Save step failed: %v", c.boardID, err)
	}

	for _, e := range diff.ToCreate {
		wg.Add(1)
		go func(e model.DrawingElement) {
			defer wg.Done()
			if err := c.store.CreateElement(ctx, c.boardID, e); err != nil {
				fail(fmt.Errorf("create %s: %w", e.ID, err))
				return
			}
			errMu.Lock()
			result.Created++
			errMu.Unlock()
		}(e)
	}

	for _, e := range diff.ToUpdate {
		wg.Add(1)
		go func(e model.DrawingElement) {
			defer wg.Done()
			updates, err := fullElementUpdates(e)
			if err != nil {
				fail(fmt.Errorf("encode %s: %w", e.ID, err))
				return
			}
			if err := c.store.UpdateElement(ctx, e.ID, updates); err != nil {
				fail(fmt.Errorf("update %s: %w", e.ID, err))
				return
			}
			errMu.Lock()
			result.Updated++
			errMu.Unlock()
		}(e)
	}

	for _, id := range diff.ToDelete {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := c.store.DeleteElement(ctx, id); err != nil {
				fail(fmt.Errorf("delete %s: %w", id, err))
				return
			}
			errMu.Lock()
			result.Deleted++
			errMu.Unlock()
		}(id)
	}

	wg.Wait()

	if !result.Failed() {
		c.mu.Lock()
		c.pending = make(map[string]struct{})
		c.mu.Unlock()
	}

	return result, nil
}

// fullElementUpdates turns a whole element into a key-union update body.
func fullElementUpdates(e model.DrawingElement) (model.ElementUpdates, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var updates model.ElementUpdates
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}
