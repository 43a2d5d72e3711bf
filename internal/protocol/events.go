// Package protocol defines the realtime wire contract between canvas clients
// and the server. Event names and payload field names are part of the
// contract and must not change.
package protocol

import (
	"encoding/json"

	"canvas-backend/internal/model"
)

// Client -> server events
const (
	EventJoinBoard     = "join-board"
	EventCursorMove    = "cursor-move"
	EventDrawingStart  = "drawing-start"
	EventDrawingUpdate = "drawing-update"
	EventElementDelete = "element-delete"
	EventUndo          = "undo"
	EventLeaveBoard    = "leave-board"
)

// Server -> client events
const (
	EventBoardState     = "board-state"
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventCursorUpdate   = "cursor-update"
	EventElementAdded   = "element-added"
	EventElementUpdated = "element-updated"
	EventElementDeleted = "element-deleted"
	EventUndoApplied    = "undo-applied"
	EventError          = "error"
)

// Envelope wraps every message on the realtime channel.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope. Marshal errors are
// programming errors (all payload types are plain structs), so they surface
// as an empty payload rather than a panic.
func NewEnvelope(eventType string, payload any) Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{Type: eventType}
	}
	return Envelope{Type: eventType, Payload: data}
}

// UserInfo identifies a user on the wire.
type UserInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Color string `json:"color,omitempty"`
}

// JoinBoardPayload client -> server
type JoinBoardPayload struct {
	BoardID string   `json:"boardId"`
	User    UserInfo `json:"user"`
}

// CursorMovePayload client -> server
type CursorMovePayload struct {
	BoardID string  `json:"boardId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// DrawingStartPayload client -> server
type DrawingStartPayload struct {
	BoardID string               `json:"boardId"`
	Element model.DrawingElement `json:"element"`
}

// DrawingUpdatePayload client -> server
type DrawingUpdatePayload struct {
	BoardID   string               `json:"boardId"`
	ElementID string               `json:"elementId"`
	Updates   model.ElementUpdates `json:"updates"`
}

// ElementDeletePayload client -> server
type ElementDeletePayload struct {
	BoardID   string `json:"boardId"`
	ElementID string `json:"elementId"`
}

// UndoPayload client -> server
type UndoPayload struct {
	BoardID string `json:"boardId"`
}

// BoardStatePayload server -> client, full snapshot on join.
type BoardStatePayload struct {
	Elements []model.DrawingElement `json:"elements"`
	Users    []UserState            `json:"users"`
	Cursors  []CursorState          `json:"cursors"`
}

// UserState one connected user in a snapshot or membership event.
type UserState struct {
	SocketID string   `json:"socketId"`
	User     UserInfo `json:"user"`
}

// CursorState one remote cursor.
type CursorState struct {
	SocketID string  `json:"socketId"`
	UserID   string  `json:"userId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Name     string  `json:"name"`
	Color    string  `json:"color"`
}

// UserJoinedPayload server -> client
type UserJoinedPayload struct {
	User     UserInfo `json:"user"`
	SocketID string   `json:"socketId"`
}

// UserLeftPayload server -> client
type UserLeftPayload struct {
	UserID   string `json:"userId"`
	SocketID string `json:"socketId"`
}

// ElementAddedPayload server -> client
type ElementAddedPayload struct {
	Element model.DrawingElement `json:"element"`
	UserID  string               `json:"userId"`
}

// ElementUpdatedPayload server -> client
type ElementUpdatedPayload struct {
	ElementID string               `json:"elementId"`
	Updates   model.ElementUpdates `json:"updates"`
	UserID    string               `json:"userId"`
}

// ElementDeletedPayload server -> client
type ElementDeletedPayload struct {
	ElementID string `json:"elementId"`
	UserID    string `json:"userId"`
}

// UndoAppliedPayload server -> client. Element is set when a delete was
// undone (re-insert), PreviousState when an update was undone (restore hint).
type UndoAppliedPayload struct {
	Action        string                `json:"action"`
	ElementID     string                `json:"elementId,omitempty"`
	Element       *model.DrawingElement `json:"element,omitempty"`
	PreviousState *model.DrawingElement `json:"previousState,omitempty"`
	UserID        string                `json:"userId"`
}

// ErrorPayload server -> client
type ErrorPayload struct {
	Message string `json:"message"`
}
