package handler

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-backend/internal/model"
	"canvas-backend/internal/protocol"
	"canvas-backend/internal/session"
)

// fakeConn captures everything the hub writes to a connection.
type fakeConn struct {
	mu       sync.Mutex
	messages [][]byte
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	f.messages = append(f.messages, buf)
	return nil
}

// envelopes decodes everything received so far.
func (f *fakeConn) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	envs := make([]protocol.Envelope, 0, len(f.messages))
	for _, msg := range f.messages {
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(msg, &env))
		envs = append(envs, env)
	}
	return envs
}

// lastOfType returns the most recent envelope of the given type.
func (f *fakeConn) lastOfType(t *testing.T, eventType string) (protocol.Envelope, bool) {
	t.Helper()
	envs := f.envelopes(t)
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Type == eventType {
			return envs[i], true
		}
	}
	return protocol.Envelope{}, false
}

func (f *fakeConn) countOfType(t *testing.T, eventType string) int {
	t.Helper()
	n := 0
	for _, env := range f.envelopes(t) {
		if env.Type == eventType {
			n++
		}
	}
	return n
}

func newTestHub() *BoardHub {
	return NewBoardHub(session.NewRegistry(), nil)
}

func dispatchEvent(t *testing.T, h *BoardHub, client *boardClient, eventType string, payload any) {
	t.Helper()
	env := protocol.NewEnvelope(eventType, payload)
	msg, err := json.Marshal(env)
	require.NoError(t, err)
	h.dispatch(client, msg)
}

func joinTestBoard(t *testing.T, h *BoardHub, boardID, userID, name string) (*boardClient, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	client := newBoardClient(conn)
	dispatchEvent(t, h, client, protocol.EventJoinBoard, protocol.JoinBoardPayload{
		BoardID: boardID,
		User:    protocol.UserInfo{ID: userID, Name: name},
	})
	require.True(t, client.joined)
	return client, conn
}

func TestJoinSendsSnapshotAndAnnouncesToOthers(t *testing.T) {
	h := newTestHub()

	_, connA := joinTestBoard(t, h, "b1", "alice", "Alice")

	// First joiner gets the (empty) snapshot and no join echo.
	stateEnv, ok := connA.lastOfType(t, protocol.EventBoardState)
	require.True(t, ok)
	var state protocol.BoardStatePayload
	require.NoError(t, json.Unmarshal(stateEnv.Payload, &state))
	assert.Empty(t, state.Elements)
	require.Len(t, state.Users, 1)
	assert.Equal(t, "alice", state.Users[0].User.ID)
	assert.Equal(t, 0, connA.countOfType(t, protocol.EventUserJoined))

	_, connB := joinTestBoard(t, h, "b1", "bob", "Bob")

	// The second joiner's snapshot includes both users; only the first
	// joiner hears the announcement.
	stateEnv, ok = connB.lastOfType(t, protocol.EventBoardState)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal(stateEnv.Payload, &state))
	assert.Len(t, state.Users, 2)

	joinEnv, ok := connA.lastOfType(t, protocol.EventUserJoined)
	require.True(t, ok)
	var joined protocol.UserJoinedPayload
	require.NoError(t, json.Unmarshal(joinEnv.Payload, &joined))
	assert.Equal(t, "bob", joined.User.ID)
	assert.Equal(t, 0, connB.countOfType(t, protocol.EventUserJoined))
}

func TestDoubleJoinRejected(t *testing.T) {
	h := newTestHub()
	client, conn := joinTestBoard(t, h, "b1", "alice", "Alice")

	dispatchEvent(t, h, client, protocol.EventJoinBoard, protocol.JoinBoardPayload{
		BoardID: "b2",
		User:    protocol.UserInfo{ID: "alice"},
	})

	errEnv, ok := conn.lastOfType(t, protocol.EventError)
	require.True(t, ok)
	var errPayload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(errEnv.Payload, &errPayload))
	assert.Equal(t, "already joined a board", errPayload.Message)
	assert.Equal(t, "b1", client.boardID)
}

func TestDrawEraseDeleteScenario(t *testing.T) {
	h := newTestHub()
	clientA, connA := joinTestBoard(t, h, "b1", "alice", "Alice")
	_, connB := joinTestBoard(t, h, "b1", "bob", "Bob")

	// Alice draws a three-point stroke.
	stroke := model.DrawingElement{
		ID:          "s1",
		Type:        model.ElementStroke,
		Color:       "#000000",
		StrokeWidth: 2,
		Points: []model.Point{
			{X: 0, Y: 0},
			{X: 10, Y: 10},
			{X: 20, Y: 20},
		},
	}
	dispatchEvent(t, h, clientA, protocol.EventDrawingStart, protocol.DrawingStartPayload{
		BoardID: "b1",
		Element: stroke,
	})

	addedEnv, ok := connB.lastOfType(t, protocol.EventElementAdded)
	require.True(t, ok)
	var added protocol.ElementAddedPayload
	require.NoError(t, json.Unmarshal(addedEnv.Payload, &added))
	assert.Equal(t, "s1", added.Element.ID)
	assert.Len(t, added.Element.Points, 3)
	assert.Equal(t, "alice", added.UserID)

	// The sender never receives its own mutation back.
	assert.Equal(t, 0, connA.countOfType(t, protocol.EventElementAdded))

	// Alice's eraser trims the stroke down to two points.
	dispatchEvent(t, h, clientA, protocol.EventDrawingUpdate, protocol.DrawingUpdatePayload{
		BoardID:   "b1",
		ElementID: "s1",
		Updates: model.ElementUpdates{
			"points": json.RawMessage(`[{"x":10,"y":10},{"x":20,"y":20}]`),
		},
	})

	updatedEnv, ok := connB.lastOfType(t, protocol.EventElementUpdated)
	require.True(t, ok)
	var updated protocol.ElementUpdatedPayload
	require.NoError(t, json.Unmarshal(updatedEnv.Payload, &updated))
	assert.Equal(t, "s1", updated.ElementID)

	sess, ok := h.registry.Get("b1")
	require.True(t, ok)
	current, found := sess.Element("s1")
	require.True(t, found)
	assert.Len(t, current.Points, 2)

	// A second pass erases the rest.
	dispatchEvent(t, h, clientA, protocol.EventElementDelete, protocol.ElementDeletePayload{
		BoardID:   "b1",
		ElementID: "s1",
	})

	deletedEnv, ok := connB.lastOfType(t, protocol.EventElementDeleted)
	require.True(t, ok)
	var deleted protocol.ElementDeletedPayload
	require.NoError(t, json.Unmarshal(deletedEnv.Payload, &deleted))
	assert.Equal(t, "s1", deleted.ElementID)
	assert.Equal(t, "alice", deleted.UserID)

	_, found = sess.Element("s1")
	assert.False(t, found)
}

func TestMalformedElementRejected(t *testing.T) {
	h := newTestHub()
	clientA, connA := joinTestBoard(t, h, "b1", "alice", "Alice")
	_, connB := joinTestBoard(t, h, "b1", "bob", "Bob")

	dispatchEvent(t, h, clientA, protocol.EventDrawingStart, protocol.DrawingStartPayload{
		BoardID: "b1",
		Element: model.DrawingElement{ID: "s1", Type: model.ElementStroke, Points: []model.Point{{X: 0, Y: 0}}},
	})

	_, ok := connA.lastOfType(t, protocol.EventError)
	assert.True(t, ok)
	assert.Equal(t, 0, connB.countOfType(t, protocol.EventElementAdded))

	sess, _ := h.registry.Get("b1")
	assert.Empty(t, sess.Elements())
}

func TestDegenerateUpdateRejected(t *testing.T) {
	h := newTestHub()
	clientA, connA := joinTestBoard(t, h, "b1", "alice", "Alice")
	_, connB := joinTestBoard(t, h, "b1", "bob", "Bob")

	dispatchEvent(t, h, clientA, protocol.EventDrawingStart, protocol.DrawingStartPayload{
		BoardID: "b1",
		Element: model.DrawingElement{
			ID:     "s1",
			Type:   model.ElementStroke,
			Points: []model.Point{{X: 0, Y: 0}, {X: 1, Y: 1}},
		},
	})

	// An update that would leave the stroke without points is rejected: the
	// sender gets an error, nothing is stored, nothing reaches peers.
	dispatchEvent(t, h, clientA, protocol.EventDrawingUpdate, protocol.DrawingUpdatePayload{
		BoardID:   "b1",
		ElementID: "s1",
		Updates:   model.ElementUpdates{"points": json.RawMessage(`[]`)},
	})

	_, ok := connA.lastOfType(t, protocol.EventError)
	assert.True(t, ok)
	assert.Equal(t, 0, connB.countOfType(t, protocol.EventElementUpdated))

	sess, _ := h.registry.Get("b1")
	current, found := sess.Element("s1")
	require.True(t, found)
	assert.Len(t, current.Points, 2)
	assert.Equal(t, 1, sess.HistoryLen())
}

func TestUpdateOnMissingElementIsSilent(t *testing.T) {
	h := newTestHub()
	clientA, _ := joinTestBoard(t, h, "b1", "alice", "Alice")
	_, connB := joinTestBoard(t, h, "b1", "bob", "Bob")

	dispatchEvent(t, h, clientA, protocol.EventDrawingUpdate, protocol.DrawingUpdatePayload{
		BoardID:   "b1",
		ElementID: "ghost",
		Updates:   model.ElementUpdates{"color": json.RawMessage(`"#fff"`)},
	})

	assert.Equal(t, 0, connB.countOfType(t, protocol.EventElementUpdated))
}

func TestCursorMoveFansOutToOthers(t *testing.T) {
	h := newTestHub()
	clientA, connA := joinTestBoard(t, h, "b1", "alice", "Alice")
	_, connB := joinTestBoard(t, h, "b1", "bob", "Bob")

	dispatchEvent(t, h, clientA, protocol.EventCursorMove, protocol.CursorMovePayload{
		BoardID: "b1",
		X:       42,
		Y:       7,
	})

	cursorEnv, ok := connB.lastOfType(t, protocol.EventCursorUpdate)
	require.True(t, ok)
	var cursor protocol.CursorState
	require.NoError(t, json.Unmarshal(cursorEnv.Payload, &cursor))
	assert.Equal(t, "alice", cursor.UserID)
	assert.Equal(t, float64(42), cursor.X)
	assert.Equal(t, float64(7), cursor.Y)
	assert.Equal(t, clientA.id, cursor.SocketID)

	assert.Equal(t, 0, connA.countOfType(t, protocol.EventCursorUpdate))
}

func TestUndoBroadcast(t *testing.T) {
	h := newTestHub()
	clientA, _ := joinTestBoard(t, h, "b1", "alice", "Alice")
	_, connB := joinTestBoard(t, h, "b1", "bob", "Bob")

	dispatchEvent(t, h, clientA, protocol.EventDrawingStart, protocol.DrawingStartPayload{
		BoardID: "b1",
		Element: model.DrawingElement{
			ID:     "s1",
			Type:   model.ElementStroke,
			Points: []model.Point{{X: 0, Y: 0}, {X: 1, Y: 1}},
		},
	})

	dispatchEvent(t, h, clientA, protocol.EventUndo, protocol.UndoPayload{BoardID: "b1"})

	undoEnv, ok := connB.lastOfType(t, protocol.EventUndoApplied)
	require.True(t, ok)
	var undo protocol.UndoAppliedPayload
	require.NoError(t, json.Unmarshal(undoEnv.Payload, &undo))
	assert.Equal(t, "add", undo.Action)
	assert.Equal(t, "s1", undo.ElementID)
	assert.Equal(t, "alice", undo.UserID)

	sess, _ := h.registry.Get("b1")
	_, found := sess.Element("s1")
	assert.False(t, found)

	// Empty history: further undo requests go nowhere.
	dispatchEvent(t, h, clientA, protocol.EventUndo, protocol.UndoPayload{BoardID: "b1"})
	assert.Equal(t, 1, connB.countOfType(t, protocol.EventUndoApplied))
}

func TestLeaveBoardAnnouncesAndUnbinds(t *testing.T) {
	h := newTestHub()
	clientA, _ := joinTestBoard(t, h, "b1", "alice", "Alice")
	_, connB := joinTestBoard(t, h, "b1", "bob", "Bob")

	dispatchEvent(t, h, clientA, protocol.EventLeaveBoard, struct{}{})

	leftEnv, ok := connB.lastOfType(t, protocol.EventUserLeft)
	require.True(t, ok)
	var left protocol.UserLeftPayload
	require.NoError(t, json.Unmarshal(leftEnv.Payload, &left))
	assert.Equal(t, "alice", left.UserID)

	assert.False(t, clientA.joined)

	sess, _ := h.registry.Get("b1")
	assert.Equal(t, 1, sess.ConnectionCount())

	// The connection can join another board afterwards.
	dispatchEvent(t, h, clientA, protocol.EventJoinBoard, protocol.JoinBoardPayload{
		BoardID: "b2",
		User:    protocol.UserInfo{ID: "alice", Name: "Alice"},
	})
	assert.True(t, clientA.joined)
	assert.Equal(t, "b2", clientA.boardID)
}

func TestEventsBeforeJoinIgnored(t *testing.T) {
	h := newTestHub()
	conn := &fakeConn{}
	client := newBoardClient(conn)

	dispatchEvent(t, h, client, protocol.EventCursorMove, protocol.CursorMovePayload{BoardID: "b1", X: 1, Y: 2})
	dispatchEvent(t, h, client, protocol.EventUndo, protocol.UndoPayload{BoardID: "b1"})

	assert.Empty(t, conn.envelopes(t))
}

func TestUnknownEventType(t *testing.T) {
	h := newTestHub()
	conn := &fakeConn{}
	client := newBoardClient(conn)

	h.dispatch(client, []byte(`{"type":"teleport","payload":{}}`))

	errEnv, ok := conn.lastOfType(t, protocol.EventError)
	require.True(t, ok)
	var errPayload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(errEnv.Payload, &errPayload))
	assert.Equal(t, "unknown event type", errPayload.Message)
}
