package client

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/bep/debounce"

	"canvas-backend/internal/model"
	"canvas-backend/internal/protocol"
)

const (
	// maxUndoSnapshots caps the local undo stack.
	maxUndoSnapshots = 50
	// saveDebounce is how long local edits settle before the pending-save
	// set is flushed to the durable store.
	saveDebounce = 400 * time.Millisecond
)

// BoardClient holds one user's local copy of a board and reconciles it with
// remote events. Local edits apply immediately, broadcast over the realtime
// channel, and flush to the durable store on a debounce; the three paths are
// independent, so editing keeps working when the transport is down.
type BoardClient struct {
	boardID string
	user    protocol.UserInfo
	sender  EventSender  // nil means local-only mode
	store   ElementStore // nil disables persistence

	mu       sync.Mutex
	elements []model.DrawingElement
	cursors  map[string]protocol.CursorState // socket id -> cursor

	undoStack [][]model.DrawingElement
	undoPos   int

	pending   map[string]struct{}
	debounced func(f func())
}

// NewBoardClient creates a client for one board view.
func NewBoardClient(boardID string, user protocol.UserInfo, sender EventSender, store ElementStore) *BoardClient {
	c := &BoardClient{
		boardID:   boardID,
		user:      user,
		sender:    sender,
		store:     store,
		elements:  make([]model.DrawingElement, 0),
		cursors:   make(map[string]protocol.CursorState),
		undoStack: [][]model.DrawingElement{{}},
		undoPos:   0,
		pending:   make(map[string]struct{}),
		debounced: debounce.New(saveDebounce),
	}
	return c
}

// Join announces this client on the realtime channel.
func (c *BoardClient) Join() {
	c.emit(protocol.EventJoinBoard, protocol.JoinBoardPayload{
		BoardID: c.boardID,
		User:    c.user,
	})
}

// Leave unsubscribes from the board and clears remote cursors. In-flight
// persistence calls are not cancelled.
func (c *BoardClient) Leave() {
	c.emit(protocol.EventLeaveBoard, struct{}{})

	c.mu.Lock()
	c.cursors = make(map[string]protocol.CursorState)
	c.mu.Unlock()
}

// =============================================================================
// Remote event reconciliation
// =============================================================================

// HandleEvent applies one server event to local state. Events that originate
// from this client's own user are discarded (echo suppression): the local
// action already applied.
func (c *BoardClient) HandleEvent(env protocol.Envelope) {
	switch env.Type {
	case protocol.EventBoardState:
		c.applyBoardState(env.Payload)
	case protocol.EventElementAdded:
		c.applyElementAdded(env.Payload)
	case protocol.EventElementUpdated:
		c.applyElementUpdated(env.Payload)
	case protocol.EventElementDeleted:
		c.applyElementDeleted(env.Payload)
	case protocol.EventUndoApplied:
		c.applyUndoApplied(env.Payload)
	case protocol.EventCursorUpdate:
		c.applyCursorUpdate(env.Payload)
	case protocol.EventUserLeft:
		c.applyUserLeft(env.Payload)
	}
}

// applyBoardState replaces local elements with the server snapshot. The
// snapshot is authoritative after join or reconnect; the undo stack and the
// pending-save set survive so in-flight local edits are not lost.
func (c *BoardClient) applyBoardState(payload json.RawMessage) {
	var state protocol.BoardStatePayload
	if err := json.Unmarshal(payload, &state); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.elements = state.Elements
	c.cursors = make(map[string]protocol.CursorState)
	for _, cur := range state.Cursors {
		c.cursors[cur.SocketID] = cur
	}
}

func (c *BoardClient) applyElementAdded(payload json.RawMessage) {
	var p protocol.ElementAddedPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.UserID == c.user.ID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Idempotent against duplicate delivery.
	if c.indexOf(p.Element.ID) >= 0 {
		return
	}
	c.elements = append(c.elements, p.Element)
}

func (c *BoardClient) applyElementUpdated(payload json.RawMessage) {
	var p protocol.ElementUpdatedPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.UserID == c.user.ID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(p.ElementID)
	if i < 0 {
		return
	}

	merged, err := model.ApplyUpdates(c.elements[i], p.Updates)
	if err != nil {
		return
	}
	c.elements[i] = merged
}

func (c *BoardClient) applyElementDeleted(payload json.RawMessage) {
	var p protocol.ElementDeletedPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.UserID == c.user.ID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeLocked(p.ElementID)
}

func (c *BoardClient) applyUndoApplied(payload json.RawMessage) {
	var p protocol.UndoAppliedPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.UserID == c.user.ID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch p.Action {
	case "add":
		// Undoing an add removes the element.
		c.removeLocked(p.ElementID)
	case "delete":
		// Undoing a delete re-inserts the element.
		if p.Element != nil && c.indexOf(p.Element.ID) < 0 {
			c.elements = append(c.elements, *p.Element)
		}
	case "update":
		// Restore hint: the pre-merge snapshot carried in the payload.
		if p.PreviousState != nil {
			if i := c.indexOf(p.PreviousState.ID); i >= 0 {
				c.elements[i] = *p.PreviousState
			}
		}
	}
}

func (c *BoardClient) applyCursorUpdate(payload json.RawMessage) {
	var p protocol.CursorState
	if err := json.Unmarshal(payload, &p); err != nil || p.UserID == c.user.ID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cursors[p.SocketID] = p
}

func (c *BoardClient) applyUserLeft(payload json.RawMessage) {
	var p protocol.UserLeftPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.cursors, p.SocketID)
}

// =============================================================================
// Local actions
// =============================================================================

// AddElement applies a locally drawn element, broadcasts it and schedules a
// debounced persistence write.
func (c *BoardClient) AddElement(element model.DrawingElement) error {
	if err := element.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	c.elements = append(c.elements, element)
	c.pushSnapshotLocked()
	c.pending[element.ID] = struct{}{}
	c.mu.Unlock()

	c.emit(protocol.EventDrawingStart, protocol.DrawingStartPayload{
		BoardID: c.boardID,
		Element: element,
	})
	c.scheduleFlush()
	return nil
}

// UpdateElement merges a partial update into the local element, broadcasts
// it and schedules persistence. Unknown ids are a no-op. A merge whose
// result is degenerate is rejected before touching local state or the
// pending-save set.
func (c *BoardClient) UpdateElement(elementID string, updates model.ElementUpdates) error {
	c.mu.Lock()
	i := c.indexOf(elementID)
	if i < 0 {
		c.mu.Unlock()
		return nil
	}

	merged, err := model.ApplyUpdates(c.elements[i], updates)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err := merged.Validate(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.elements[i] = merged
	c.pushSnapshotLocked()
	c.pending[elementID] = struct{}{}
	c.mu.Unlock()

	c.emit(protocol.EventDrawingUpdate, protocol.DrawingUpdatePayload{
		BoardID:   c.boardID,
		ElementID: elementID,
		Updates:   updates,
	})
	c.scheduleFlush()
	return nil
}

// DeleteElement removes a local element, broadcasts the delete and issues a
// fire-and-forget durable delete. Local removal is never rolled back.
func (c *BoardClient) DeleteElement(elementID string) {
	c.mu.Lock()
	if !c.removeLocked(elementID) {
		c.mu.Unlock()
		return
	}
	c.pushSnapshotLocked()
	delete(c.pending, elementID)
	c.mu.Unlock()

	c.emit(protocol.EventElementDelete, protocol.ElementDeletePayload{
		BoardID:   c.boardID,
		ElementID: elementID,
	})
	c.persistDelete(elementID)
}

// MoveCursor broadcasts the local cursor position.
func (c *BoardClient) MoveCursor(x, y float64) {
	c.emit(protocol.EventCursorMove, protocol.CursorMovePayload{
		BoardID: c.boardID,
		X:       x,
		Y:       y,
	})
}

// Undo restores the previous local snapshot. This is the per-client undo
// stack, independent of the server's shared history.
func (c *BoardClient) Undo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.undoPos == 0 {
		return false
	}
	c.undoPos--
	c.elements = cloneElements(c.undoStack[c.undoPos])
	return true
}

// Redo re-applies a snapshot undone by Undo.
func (c *BoardClient) Redo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.undoPos >= len(c.undoStack)-1 {
		return false
	}
	c.undoPos++
	c.elements = cloneElements(c.undoStack[c.undoPos])
	return true
}

// RequestSharedUndo asks the server to undo the most recent operation in the
// board's shared history. Other clients apply the broadcast inverse; this
// client relies on its own local stack.
func (c *BoardClient) RequestSharedUndo() {
	c.emit(protocol.EventUndo, protocol.UndoPayload{BoardID: c.boardID})
}

// =============================================================================
// State access
// =============================================================================

// Elements returns a copy of the local element set.
func (c *BoardClient) Elements() []model.DrawingElement {
	c.mu.Lock()
	defer c.mu.Unlock()

	return cloneElements(c.elements)
}

// Cursors returns the remote cursors by socket id.
func (c *BoardClient) Cursors() map[string]protocol.CursorState {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]protocol.CursorState, len(c.cursors))
	for k, v := range c.cursors {
		out[k] = v
	}
	return out
}

// PendingCount returns the number of element ids waiting for a flush.
func (c *BoardClient) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// =============================================================================
// Internals
// =============================================================================

// indexOf returns the element's position, -1 when absent. Caller holds the
// lock.
func (c *BoardClient) indexOf(elementID string) int {
	for i := range c.elements {
		if c.elements[i].ID == elementID {
			return i
		}
	}
	return -1
}

func (c *BoardClient) removeLocked(elementID string) bool {
	i := c.indexOf(elementID)
	if i < 0 {
		return false
	}
	c.elements = append(c.elements[:i], c.elements[i+1:]...)
	return true
}

// pushSnapshotLocked records the current element array for local undo,
// truncating any redo branch and capping the stack.
func (c *BoardClient) pushSnapshotLocked() {
	c.undoStack = c.undoStack[:c.undoPos+1]
	c.undoStack = append(c.undoStack, cloneElements(c.elements))
	if len(c.undoStack) > maxUndoSnapshots {
		c.undoStack = c.undoStack[len(c.undoStack)-maxUndoSnapshots:]
	}
	c.undoPos = len(c.undoStack) - 1
}

// emit sends an event when a transport is attached; local-only mode just
// skips the broadcast.
func (c *BoardClient) emit(eventType string, payload any) {
	if c.sender == nil {
		return
	}
	if err := c.sender.Send(eventType, payload); err != nil {
		log.Printf("[Client %s] Failed to send %s: %v", c.boardID, eventType, err)
	}
}

// scheduleFlush arms the debounced persistence writer.
func (c *BoardClient) scheduleFlush() {
	if c.store == nil {
		return
	}
	c.debounced(c.flushPending)
}

// flushPending writes every pending element to the durable store. Failed ids
// stay pending for the next flush or the next explicit save.
func (c *BoardClient) flushPending() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	snapshot := cloneElements(c.elements)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, id := range ids {
		var element *model.DrawingElement
		for i := range snapshot {
			if snapshot[i].ID == id {
				element = &snapshot[i]
				break
			}
		}
		if element == nil {
			// Deleted before the flush fired.
			c.mu.Lock()
			delete(c.pending, id)
			c.mu.Unlock()
			continue
		}

		if err := c.store.CreateElement(ctx, c.boardID, *element); err != nil {
			log.Printf("[Client %s] Failed to persist element %s: %v", c.boardID, id, err)
			continue
		}

		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}
}

// pointsUpdate builds a partial update that replaces only the points field.
func pointsUpdate(points []model.Point) (model.ElementUpdates, error) {
	data, err := json.Marshal(points)
	if err != nil {
		return nil, err
	}
	return model.ElementUpdates{"points": data}, nil
}

// persistUpdate issues a fire-and-forget durable partial update.
func (c *BoardClient) persistUpdate(elementID string, updates model.ElementUpdates) {
	if c.store == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := c.store.UpdateElement(ctx, elementID, updates); err != nil {
			log.Printf("[Client %s] Failed to update element %s in store: %v", c.boardID, elementID, err)
		}
	}()
}

// persistDelete issues a fire-and-forget durable delete. Failure does not
// roll back the local removal; the next explicit save converges the store.
func (c *BoardClient) persistDelete(elementID string) {
	if c.store == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := c.store.DeleteElement(ctx, elementID); err != nil {
			log.Printf("[Client %s] Failed to delete element %s from store: %v", c.boardID, elementID, err)
		}
	}()
}

// cloneElements copies the element array. Element inner slices are treated
// as immutable: every mutation path builds new slices instead of writing in
// place, so a struct copy is enough.
func cloneElements(elements []model.DrawingElement) []model.DrawingElement {
	out := make([]model.DrawingElement, len(elements))
	copy(out, elements)
	return out
}
