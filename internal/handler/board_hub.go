package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"canvas-backend/internal/cache"
	"canvas-backend/internal/protocol"
	"canvas-backend/internal/session"
)

// =============================================================================
// Board Hub - per-board WebSocket fan-out
// =============================================================================

// wsConn is the subset of the websocket connection the hub writes to.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
}

// boardClient is one realtime connection. A connection is bound to at most
// one board at a time.
type boardClient struct {
	id      string
	conn    wsConn
	writeMu sync.Mutex

	boardID string
	user    session.BoardUser
	joined  bool
}

// BoardHub routes realtime events between connections and board sessions.
// Session state lives in the injected registry; the hub only owns the
// connection handles needed for broadcasting.
type BoardHub struct {
	registry *session.Registry
	activity *cache.RedisClient // optional, nil when Redis is disabled

	mu    sync.RWMutex
	rooms map[string]map[string]*boardClient // board id -> connection id -> client
}

// NewBoardHub creates a hub backed by the given registry. activity may be nil.
func NewBoardHub(registry *session.Registry, activity *cache.RedisClient) *BoardHub {
	return &BoardHub{
		registry: registry,
		activity: activity,
		rooms:    make(map[string]map[string]*boardClient),
	}
}

// HandleWebSocket 보드 WebSocket 연결 처리
func (h *BoardHub) HandleWebSocket(c *websocket.Conn) {
	client := newBoardClient(c)
	log.Printf("[Hub] Connection opened: %s", client.id)

	defer func() {
		h.handleDisconnect(client)
		c.Close()
		log.Printf("[Hub] Connection closed: %s", client.id)
	}()

	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			break
		}
		h.dispatch(client, msgBytes)
	}
}

func newBoardClient(conn wsConn) *boardClient {
	return &boardClient{
		id:   uuid.New().String(),
		conn: conn,
	}
}

// dispatch parses one envelope and routes it to the event handler.
func (h *BoardHub) dispatch(client *boardClient, msgBytes []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(msgBytes, &env); err != nil {
		h.sendError(client, "invalid message")
		return
	}

	switch env.Type {
	case protocol.EventJoinBoard:
		h.handleJoinBoard(client, env.Payload)
	case protocol.EventCursorMove:
		h.handleCursorMove(client, env.Payload)
	case protocol.EventDrawingStart:
		h.handleDrawingStart(client, env.Payload)
	case protocol.EventDrawingUpdate:
		h.handleDrawingUpdate(client, env.Payload)
	case protocol.EventElementDelete:
		h.handleElementDelete(client, env.Payload)
	case protocol.EventUndo:
		h.handleUndo(client, env.Payload)
	case protocol.EventLeaveBoard:
		h.handleLeaveBoard(client)
	default:
		h.sendError(client, "unknown event type")
	}
}

// handleJoinBoard assigns the connection to a board room, replies with the
// full snapshot and announces the user to the room.
func (h *BoardHub) handleJoinBoard(client *boardClient, payload json.RawMessage) {
	if client.joined {
		h.sendError(client, "already joined a board")
		return
	}

	var req protocol.JoinBoardPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.BoardID == "" || req.User.ID == "" {
		h.sendError(client, "invalid join-board payload")
		return
	}

	sess := h.registry.GetOrCreate(req.BoardID)
	user := sess.Join(client.id, session.BoardUser{
		ID:    req.User.ID,
		Name:  req.User.Name,
		Email: req.User.Email,
	})

	client.boardID = req.BoardID
	client.user = user
	client.joined = true

	h.mu.Lock()
	room, ok := h.rooms[req.BoardID]
	if !ok {
		room = make(map[string]*boardClient)
		h.rooms[req.BoardID] = room
	}
	room[client.id] = client
	h.mu.Unlock()

	log.Printf("[Board %s] User %s joined (conn %s), connections: %d",
		req.BoardID, user.ID, client.id, sess.ConnectionCount())

	h.send(client, protocol.NewEnvelope(protocol.EventBoardState, boardStateOf(sess)))

	h.broadcast(req.BoardID, client.id, protocol.NewEnvelope(protocol.EventUserJoined, protocol.UserJoinedPayload{
		User:     protocol.UserInfo{ID: user.ID, Name: user.Name, Email: user.Email, Color: user.Color},
		SocketID: client.id,
	}))
}

func (h *BoardHub) handleCursorMove(client *boardClient, payload json.RawMessage) {
	if !client.joined {
		return
	}

	var req protocol.CursorMovePayload
	if err := json.Unmarshal(payload, &req); err != nil || req.BoardID != client.boardID {
		return
	}

	sess, ok := h.registry.Get(client.boardID)
	if !ok {
		return
	}

	cursor, ok := sess.SetCursor(client.id, req.X, req.Y)
	if !ok {
		return
	}

	h.broadcast(client.boardID, client.id, protocol.NewEnvelope(protocol.EventCursorUpdate, protocol.CursorState{
		SocketID: client.id,
		UserID:   cursor.UserID,
		X:        cursor.X,
		Y:        cursor.Y,
		Name:     cursor.Name,
		Color:    cursor.Color,
	}))
}

func (h *BoardHub) handleDrawingStart(client *boardClient, payload json.RawMessage) {
	if !client.joined {
		return
	}

	var req protocol.DrawingStartPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.BoardID != client.boardID {
		h.sendError(client, "invalid drawing-start payload")
		return
	}

	if err := req.Element.Validate(); err != nil {
		log.Printf("[Board %s] Rejected malformed element from %s: %v", client.boardID, client.user.ID, err)
		h.sendError(client, "invalid element")
		return
	}

	sess, ok := h.registry.Get(client.boardID)
	if !ok {
		return
	}

	sess.AddElement(req.Element, client.user.ID)
	h.recordActivity(client, "add", req.Element.ID)

	h.broadcast(client.boardID, client.id, protocol.NewEnvelope(protocol.EventElementAdded, protocol.ElementAddedPayload{
		Element: req.Element,
		UserID:  client.user.ID,
	}))
}

func (h *BoardHub) handleDrawingUpdate(client *boardClient, payload json.RawMessage) {
	if !client.joined {
		return
	}

	var req protocol.DrawingUpdatePayload
	if err := json.Unmarshal(payload, &req); err != nil || req.BoardID != client.boardID || req.ElementID == "" {
		h.sendError(client, "invalid drawing-update payload")
		return
	}

	sess, ok := h.registry.Get(client.boardID)
	if !ok {
		return
	}

	if _, err := sess.UpdateElement(req.ElementID, req.Updates, client.user.ID); err != nil {
		// Updating an element that no longer exists is an acceptable outcome
		// under last-writer-wins, not an error.
		if errors.Is(err, session.ErrElementNotFound) {
			return
		}
		log.Printf("[Board %s] Rejected malformed update for %s from %s: %v",
			client.boardID, req.ElementID, client.user.ID, err)
		h.sendError(client, "invalid element")
		return
	}

	h.broadcast(client.boardID, client.id, protocol.NewEnvelope(protocol.EventElementUpdated, protocol.ElementUpdatedPayload{
		ElementID: req.ElementID,
		Updates:   req.Updates,
		UserID:    client.user.ID,
	}))
}

func (h *BoardHub) handleElementDelete(client *boardClient, payload json.RawMessage) {
	if !client.joined {
		return
	}

	var req protocol.ElementDeletePayload
	if err := json.Unmarshal(payload, &req); err != nil || req.BoardID != client.boardID || req.ElementID == "" {
		return
	}

	sess, ok := h.registry.Get(client.boardID)
	if !ok {
		return
	}

	if _, ok := sess.RemoveElement(req.ElementID, client.user.ID); !ok {
		return
	}
	h.recordActivity(client, "delete", req.ElementID)

	h.broadcast(client.boardID, client.id, protocol.NewEnvelope(protocol.EventElementDeleted, protocol.ElementDeletedPayload{
		ElementID: req.ElementID,
		UserID:    client.user.ID,
	}))
}

func (h *BoardHub) handleUndo(client *boardClient, payload json.RawMessage) {
	if !client.joined {
		return
	}

	var req protocol.UndoPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.BoardID != client.boardID {
		return
	}

	sess, ok := h.registry.Get(client.boardID)
	if !ok {
		return
	}

	result, ok := sess.Undo()
	if !ok {
		return
	}
	h.recordActivity(client, "undo", result.ElementID)

	h.broadcast(client.boardID, client.id, protocol.NewEnvelope(protocol.EventUndoApplied, protocol.UndoAppliedPayload{
		Action:        string(result.Action),
		ElementID:     result.ElementID,
		Element:       result.Element,
		PreviousState: result.PreviousState,
		UserID:        client.user.ID,
	}))
}

func (h *BoardHub) handleLeaveBoard(client *boardClient) {
	if !client.joined {
		return
	}

	boardID := client.boardID
	userID := client.user.ID

	h.mu.Lock()
	if room, ok := h.rooms[boardID]; ok {
		delete(room, client.id)
		if len(room) == 0 {
			delete(h.rooms, boardID)
		}
	}
	h.mu.Unlock()

	if sess, ok := h.registry.Get(boardID); ok {
		sess.Leave(client.id)
	}

	client.joined = false
	client.boardID = ""

	log.Printf("[Board %s] User %s left (conn %s)", boardID, userID, client.id)

	h.broadcast(boardID, client.id, protocol.NewEnvelope(protocol.EventUserLeft, protocol.UserLeftPayload{
		UserID:   userID,
		SocketID: client.id,
	}))
}

func (h *BoardHub) handleDisconnect(client *boardClient) {
	h.handleLeaveBoard(client)
}

// =============================================================================
// Fan-out
// =============================================================================

// broadcast sends the envelope to every room member except the originating
// connection; the sender already holds the authoritative local state.
func (h *BoardHub) broadcast(boardID, excludeConnID string, env protocol.Envelope) {
	msgBytes, err := json.Marshal(env)
	if err != nil {
		log.Printf("[Board %s] Failed to marshal %s: %v", boardID, env.Type, err)
		return
	}

	h.mu.RLock()
	clients := make([]*boardClient, 0, len(h.rooms[boardID]))
	for connID, cl := range h.rooms[boardID] {
		if connID == excludeConnID {
			continue
		}
		clients = append(clients, cl)
	}
	h.mu.RUnlock()

	for _, cl := range clients {
		cl.writeMu.Lock()
		err := cl.conn.WriteMessage(websocket.TextMessage, msgBytes)
		cl.writeMu.Unlock()
		if err != nil {
			log.Printf("[Board %s] Failed to send %s to %s: %v", boardID, env.Type, cl.id, err)
		}
	}
}

func (h *BoardHub) send(client *boardClient, env protocol.Envelope) {
	msgBytes, err := json.Marshal(env)
	if err != nil {
		return
	}

	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	if err := client.conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
		log.Printf("[Hub] Failed to send %s to %s: %v", env.Type, client.id, err)
	}
}

func (h *BoardHub) sendError(client *boardClient, message string) {
	h.send(client, protocol.NewEnvelope(protocol.EventError, protocol.ErrorPayload{Message: message}))
}

// recordActivity writes a mutation record to Redis, fire and forget.
func (h *BoardHub) recordActivity(client *boardClient, action, elementID string) {
	if h.activity == nil {
		return
	}

	boardID := client.boardID
	userID := client.user.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := h.activity.AddActivity(ctx, &cache.BoardActivity{
			BoardID:   boardID,
			UserID:    userID,
			Action:    action,
			ElementID: elementID,
		}); err != nil {
			log.Printf("[Board %s] Failed to record activity: %v", boardID, err)
		}
	}()
}

// boardStateOf builds the full snapshot sent on join.
func boardStateOf(sess *session.BoardSession) protocol.BoardStatePayload {
	users := sess.Users()
	cursors := sess.Cursors()

	state := protocol.BoardStatePayload{
		Elements: sess.Elements(),
		Users:    make([]protocol.UserState, 0, len(users)),
		Cursors:  make([]protocol.CursorState, 0, len(cursors)),
	}

	for _, u := range users {
		state.Users = append(state.Users, protocol.UserState{
			SocketID: u.SocketID,
			User:     protocol.UserInfo{ID: u.User.ID, Name: u.User.Name, Email: u.User.Email, Color: u.User.Color},
		})
	}
	for _, c := range cursors {
		state.Cursors = append(state.Cursors, protocol.CursorState{
			SocketID: c.SocketID,
			UserID:   c.UserID,
			X:        c.X,
			Y:        c.Y,
			Name:     c.Name,
			Color:    c.Color,
		})
	}

	return state
}
