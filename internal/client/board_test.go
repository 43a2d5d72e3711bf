package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-backend/internal/model"
	"canvas-backend/internal/protocol"
)

// recordingSender captures emitted events in order.
type recordingSender struct {
	mu     sync.Mutex
	events []sentEvent
}

type sentEvent struct {
	Type    string
	Payload any
}

func (r *recordingSender) Send(eventType string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{Type: eventType, Payload: payload})
	return nil
}

func (r *recordingSender) ofType(eventType string) []sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentEvent
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// fakeStore is an in-memory ElementStore with per-call failure switches.
type fakeStore struct {
	mu       sync.Mutex
	elements map[string]model.DrawingElement
	failIDs  map[string]bool

	creates int
	updates int
	deletes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		elements: make(map[string]model.DrawingElement),
		failIDs:  make(map[string]bool),
	}
}

func (s *fakeStore) CreateElement(_ context.Context, _ string, element model.DrawingElement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIDs[element.ID] {
		return fmt.Errorf("store unavailable")
	}
	s.creates++
	s.elements[element.ID] = element
	return nil
}

func (s *fakeStore) ListElements(_ context.Context, _ string) ([]model.DrawingElement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DrawingElement, 0, len(s.elements))
	for _, e := range s.elements {
		out = append(out, e)
	}
	return out, nil
}

func (s *fakeStore) UpdateElement(_ context.Context, elementID string, updates model.ElementUpdates) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIDs[elementID] {
		return fmt.Errorf("store unavailable")
	}
	current, ok := s.elements[elementID]
	if !ok {
		return fmt.Errorf("element %s not found", elementID)
	}
	merged, err := model.ApplyUpdates(current, updates)
	if err != nil {
		return err
	}
	s.updates++
	s.elements[elementID] = merged
	return nil
}

func (s *fakeStore) DeleteElement(_ context.Context, elementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIDs[elementID] {
		return fmt.Errorf("store unavailable")
	}
	s.deletes++
	delete(s.elements, elementID)
	return nil
}

func (s *fakeStore) GetBoard(_ context.Context, boardID string) (*model.Board, error) {
	return &model.Board{ID: boardID}, nil
}

func (s *fakeStore) UpdateBoard(_ context.Context, _ string, _ string) error {
	return nil
}

func testElement(id string) model.DrawingElement {
	return model.DrawingElement{
		ID:   id,
		Type: model.ElementStroke,
		Points: []model.Point{
			{X: 0, Y: 0},
			{X: 10, Y: 10},
		},
	}
}

func newTestClient() (*BoardClient, *recordingSender) {
	sender := &recordingSender{}
	c := NewBoardClient("b1", protocol.UserInfo{ID: "me", Name: "Me"}, sender, nil)
	return c, sender
}

func remoteEnvelope(t *testing.T, eventType string, payload any) protocol.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return protocol.Envelope{Type: eventType, Payload: data}
}

func TestAddElementAppliesLocallyAndBroadcasts(t *testing.T) {
	c, sender := newTestClient()

	require.NoError(t, c.AddElement(testElement("s1")))

	assert.Len(t, c.Elements(), 1)
	starts := sender.ofType(protocol.EventDrawingStart)
	require.Len(t, starts, 1)
	assert.Equal(t, "s1", starts[0].Payload.(protocol.DrawingStartPayload).Element.ID)
}

func TestAddElementRejectsInvalid(t *testing.T) {
	c, sender := newTestClient()

	err := c.AddElement(model.DrawingElement{ID: "s1", Type: model.ElementStroke})
	assert.ErrorIs(t, err, model.ErrDegenerateData)
	assert.Empty(t, c.Elements())
	assert.Empty(t, sender.ofType(protocol.EventDrawingStart))
}

func TestEchoSuppression(t *testing.T) {
	c, _ := newTestClient()
	require.NoError(t, c.AddElement(testElement("s1")))

	// Every mutation event attributed to this user is discarded.
	c.HandleEvent(remoteEnvelope(t, protocol.EventElementAdded, protocol.ElementAddedPayload{
		Element: testElement("s1"), UserID: "me",
	}))
	assert.Len(t, c.Elements(), 1)

	c.HandleEvent(remoteEnvelope(t, protocol.EventElementUpdated, protocol.ElementUpdatedPayload{
		ElementID: "s1",
		Updates:   model.ElementUpdates{"color": json.RawMessage(`"#ff0000"`)},
		UserID:    "me",
	}))
	assert.Empty(t, c.Elements()[0].Color)

	c.HandleEvent(remoteEnvelope(t, protocol.EventElementDeleted, protocol.ElementDeletedPayload{
		ElementID: "s1", UserID: "me",
	}))
	assert.Len(t, c.Elements(), 1)

	c.HandleEvent(remoteEnvelope(t, protocol.EventCursorUpdate, protocol.CursorState{
		SocketID: "sock-1", UserID: "me", X: 1, Y: 2,
	}))
	assert.Empty(t, c.Cursors())
}

func TestRemoteAddIsIdempotent(t *testing.T) {
	c, _ := newTestClient()

	env := remoteEnvelope(t, protocol.EventElementAdded, protocol.ElementAddedPayload{
		Element: testElement("s1"), UserID: "peer",
	})
	c.HandleEvent(env)
	c.HandleEvent(env)

	assert.Len(t, c.Elements(), 1)
}

func TestRemoteUpdateAndDelete(t *testing.T) {
	c, _ := newTestClient()
	c.HandleEvent(remoteEnvelope(t, protocol.EventElementAdded, protocol.ElementAddedPayload{
		Element: testElement("s1"), UserID: "peer",
	}))

	c.HandleEvent(remoteEnvelope(t, protocol.EventElementUpdated, protocol.ElementUpdatedPayload{
		ElementID: "s1",
		Updates:   model.ElementUpdates{"color": json.RawMessage(`"#00ff00"`)},
		UserID:    "peer",
	}))
	assert.Equal(t, "#00ff00", c.Elements()[0].Color)

	// Update for an unknown id is dropped.
	c.HandleEvent(remoteEnvelope(t, protocol.EventElementUpdated, protocol.ElementUpdatedPayload{
		ElementID: "ghost",
		Updates:   model.ElementUpdates{"color": json.RawMessage(`"#fff"`)},
		UserID:    "peer",
	}))
	assert.Len(t, c.Elements(), 1)

	c.HandleEvent(remoteEnvelope(t, protocol.EventElementDeleted, protocol.ElementDeletedPayload{
		ElementID: "s1", UserID: "peer",
	}))
	assert.Empty(t, c.Elements())
}

func TestCursorUpsertAndUserLeft(t *testing.T) {
	c, _ := newTestClient()

	c.HandleEvent(remoteEnvelope(t, protocol.EventCursorUpdate, protocol.CursorState{
		SocketID: "sock-1", UserID: "peer", X: 1, Y: 2, Name: "Peer",
	}))
	c.HandleEvent(remoteEnvelope(t, protocol.EventCursorUpdate, protocol.CursorState{
		SocketID: "sock-1", UserID: "peer", X: 9, Y: 9, Name: "Peer",
	}))

	cursors := c.Cursors()
	require.Len(t, cursors, 1)
	assert.Equal(t, float64(9), cursors["sock-1"].X)

	c.HandleEvent(remoteEnvelope(t, protocol.EventUserLeft, protocol.UserLeftPayload{
		UserID: "peer", SocketID: "sock-1",
	}))
	assert.Empty(t, c.Cursors())
}

func TestBoardStateReplacesElementsKeepsPending(t *testing.T) {
	c, _ := newTestClient()
	require.NoError(t, c.AddElement(testElement("local-1")))
	assert.Equal(t, 1, c.PendingCount())

	c.HandleEvent(remoteEnvelope(t, protocol.EventBoardState, protocol.BoardStatePayload{
		Elements: []model.DrawingElement{testElement("server-1"), testElement("server-2")},
		Cursors: []protocol.CursorState{
			{SocketID: "sock-1", UserID: "peer", X: 3, Y: 4},
		},
	}))

	elements := c.Elements()
	require.Len(t, elements, 2)
	assert.Equal(t, "server-1", elements[0].ID)
	assert.Len(t, c.Cursors(), 1)

	// The pending-save set and the undo stack survive the snapshot swap.
	assert.Equal(t, 1, c.PendingCount())
	assert.True(t, c.Undo())
}

func TestUndoAppliedFromPeer(t *testing.T) {
	c, _ := newTestClient()
	c.HandleEvent(remoteEnvelope(t, protocol.EventElementAdded, protocol.ElementAddedPayload{
		Element: testElement("s1"), UserID: "peer",
	}))

	// Peer undid an add: the element disappears.
	c.HandleEvent(remoteEnvelope(t, protocol.EventUndoApplied, protocol.UndoAppliedPayload{
		Action: "add", ElementID: "s1", UserID: "peer",
	}))
	assert.Empty(t, c.Elements())

	// Peer undid a delete: the element comes back.
	restored := testElement("s1")
	c.HandleEvent(remoteEnvelope(t, protocol.EventUndoApplied, protocol.UndoAppliedPayload{
		Action: "delete", ElementID: "s1", Element: &restored, UserID: "peer",
	}))
	require.Len(t, c.Elements(), 1)

	// Peer undid an update: the hinted snapshot wins.
	previous := testElement("s1")
	previous.Color = "#123456"
	c.HandleEvent(remoteEnvelope(t, protocol.EventUndoApplied, protocol.UndoAppliedPayload{
		Action: "update", ElementID: "s1", PreviousState: &previous, UserID: "peer",
	}))
	assert.Equal(t, "#123456", c.Elements()[0].Color)
}

func TestLocalUndoRedo(t *testing.T) {
	c, _ := newTestClient()

	assert.False(t, c.Undo(), "empty stack")

	require.NoError(t, c.AddElement(testElement("s1")))
	require.NoError(t, c.AddElement(testElement("s2")))

	require.True(t, c.Undo())
	assert.Len(t, c.Elements(), 1)

	require.True(t, c.Redo())
	assert.Len(t, c.Elements(), 2)
	assert.False(t, c.Redo(), "nothing left to redo")

	// A new edit truncates the redo branch.
	require.True(t, c.Undo())
	require.NoError(t, c.AddElement(testElement("s3")))
	assert.False(t, c.Redo())

	elements := c.Elements()
	require.Len(t, elements, 2)
	assert.Equal(t, "s3", elements[1].ID)
}

func TestUndoStackCap(t *testing.T) {
	c, _ := newTestClient()

	for i := 0; i < maxUndoSnapshots+20; i++ {
		require.NoError(t, c.AddElement(testElement(fmt.Sprintf("s%d", i))))
	}

	undos := 0
	for c.Undo() {
		undos++
	}
	assert.Equal(t, maxUndoSnapshots-1, undos)
}

func TestUpdateElementRejectsDegenerateMerge(t *testing.T) {
	store := newFakeStore()
	sender := &recordingSender{}
	c := NewBoardClient("b1", protocol.UserInfo{ID: "me"}, sender, store)

	require.NoError(t, c.AddElement(testElement("s1")))

	err := c.UpdateElement("s1", model.ElementUpdates{
		"points": json.RawMessage(`[]`),
	})
	assert.ErrorIs(t, err, model.ErrDegenerateData)

	// Local state, the broadcast channel and the pending set are untouched.
	assert.Len(t, c.Elements()[0].Points, 2)
	assert.Empty(t, sender.ofType(protocol.EventDrawingUpdate))
	assert.Equal(t, 1, c.PendingCount())

	// The surviving pending id is the add, and it flushes clean.
	c.flushPending()
	assert.Equal(t, 0, c.PendingCount())
	stored, ok := store.elements["s1"]
	require.True(t, ok)
	assert.Len(t, stored.Points, 2)
}

func TestFlushPendingWritesAndRetains(t *testing.T) {
	store := newFakeStore()
	store.failIDs["s2"] = true
	c := NewBoardClient("b1", protocol.UserInfo{ID: "me"}, nil, store)

	require.NoError(t, c.AddElement(testElement("s1")))
	require.NoError(t, c.AddElement(testElement("s2")))

	c.flushPending()

	// The failed id stays pending for the next flush.
	assert.Equal(t, 1, c.PendingCount())
	_, ok := store.elements["s1"]
	assert.True(t, ok)

	store.mu.Lock()
	store.failIDs["s2"] = false
	store.mu.Unlock()

	c.flushPending()
	assert.Equal(t, 0, c.PendingCount())
	_, ok = store.elements["s2"]
	assert.True(t, ok)
}

func TestFlushDropsDeletedBeforeFlush(t *testing.T) {
	store := newFakeStore()
	c := NewBoardClient("b1", protocol.UserInfo{ID: "me"}, nil, store)

	require.NoError(t, c.AddElement(testElement("s1")))

	// Simulate a pending id whose element vanished before the flush fired.
	c.mu.Lock()
	c.pending["ghost"] = struct{}{}
	c.mu.Unlock()

	c.flushPending()

	assert.Equal(t, 0, c.PendingCount())
	_, ok := store.elements["ghost"]
	assert.False(t, ok)
}

func TestDeleteElementClearsPending(t *testing.T) {
	store := newFakeStore()
	sender := &recordingSender{}
	c := NewBoardClient("b1", protocol.UserInfo{ID: "me"}, sender, store)

	require.NoError(t, c.AddElement(testElement("s1")))
	c.DeleteElement("s1")

	assert.Empty(t, c.Elements())
	assert.Equal(t, 0, c.PendingCount())
	require.Len(t, sender.ofType(protocol.EventElementDelete), 1)

	// Deleting an unknown id is silent.
	c.DeleteElement("ghost")
	assert.Len(t, sender.ofType(protocol.EventElementDelete), 1)
}
