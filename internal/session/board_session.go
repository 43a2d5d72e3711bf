package session

import (
	"errors"
	"sync"
	"time"

	"canvas-backend/internal/model"
)

// ErrElementNotFound signals an operation on an element that no longer
// exists, which callers treat as a benign race under last writer wins.
var ErrElementNotFound = errors.New("element not found")

// maxHistoryEntries caps the per-board undo history; the oldest entry is
// evicted first once the cap is reached.
const maxHistoryEntries = 200

// cursorColors is the palette assigned to joining users, round-robin.
var cursorColors = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A",
	"#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E9",
}

// HistoryAction history entry kind
type HistoryAction string

const (
	ActionAdd    HistoryAction = "add"
	ActionUpdate HistoryAction = "update"
	ActionDelete HistoryAction = "delete"
)

// HistoryEntry is one coarse undo record. For updates, Previous holds the
// element as it was before the merge so undo can broadcast a restore hint.
type HistoryEntry struct {
	ElementID string
	Action    HistoryAction
	Element   model.DrawingElement
	Previous  *model.DrawingElement
	UserID    string
	Timestamp time.Time
}

// BoardUser 접속 사용자
type BoardUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Color string `json:"color"`
}

// Cursor 원격 커서 위치
type Cursor struct {
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Name   string  `json:"name"`
	Color  string  `json:"color"`
}

// UndoResult describes the inverse applied (or hinted) by an undo.
type UndoResult struct {
	Action        HistoryAction
	ElementID     string
	Element       *model.DrawingElement
	PreviousState *model.DrawingElement
	UserID        string
}

// BoardSession holds the live state of one board: elements, coarse history,
// connected users and their cursors. It owns this state exclusively for the
// lifetime of the process; clients only ever hold copies reconciled through
// events. Thread-safe.
type BoardSession struct {
	BoardID string

	mu         sync.RWMutex
	elements   map[string]model.DrawingElement
	history    []HistoryEntry
	cursors    map[string]Cursor    // connection id -> cursor
	users      map[string]BoardUser // connection id -> user
	colorIndex int
	lastActive time.Time
	createdAt  time.Time
}

func newBoardSession(boardID string) *BoardSession {
	now := time.Now()
	return &BoardSession{
		BoardID:    boardID,
		elements:   make(map[string]model.DrawingElement),
		history:    make([]HistoryEntry, 0, 64),
		cursors:    make(map[string]Cursor),
		users:      make(map[string]BoardUser),
		lastActive: now,
		createdAt:  now,
	}
}

// Join registers a connection and assigns the user a cursor color.
func (s *BoardSession) Join(connID string, user BoardUser) BoardUser {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Color = cursorColors[s.colorIndex%len(cursorColors)]
	s.colorIndex++
	s.users[connID] = user
	s.lastActive = time.Now()

	return user
}

// Leave removes the connection's user and cursor. Returns the user that left
// and whether the connection was known.
func (s *BoardSession) Leave(connID string) (BoardUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[connID]
	delete(s.users, connID)
	delete(s.cursors, connID)
	s.lastActive = time.Now()

	return user, ok
}

// SetCursor upserts the connection's cursor position.
func (s *BoardSession) SetCursor(connID string, x, y float64) (Cursor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[connID]
	if !ok {
		return Cursor{}, false
	}

	cursor := Cursor{
		UserID: user.ID,
		X:      x,
		Y:      y,
		Name:   user.Name,
		Color:  user.Color,
	}
	s.cursors[connID] = cursor
	s.lastActive = time.Now()

	return cursor, true
}

// AddElement inserts the element and records an add history entry.
func (s *BoardSession) AddElement(element model.DrawingElement, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.elements[element.ID] = element
	s.pushHistory(HistoryEntry{
		ElementID: element.ID,
		Action:    ActionAdd,
		Element:   element,
		UserID:    userID,
		Timestamp: time.Now(),
	})
	s.lastActive = time.Now()
}

// UpdateElement merges updates into the stored element, key union with last
// writer wins per key, and returns the merged element. A merge whose result
// is degenerate (a stroke reduced below two points, a box losing its size) is
// rejected before it enters the session. Updating an element that no longer
// exists returns ErrElementNotFound.
func (s *BoardSession) UpdateElement(elementID string, updates model.ElementUpdates, userID string) (model.DrawingElement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.elements[elementID]
	if !ok {
		return model.DrawingElement{}, ErrElementNotFound
	}

	merged, err := model.ApplyUpdates(current, updates)
	if err != nil {
		return model.DrawingElement{}, err
	}
	if err := merged.Validate(); err != nil {
		return model.DrawingElement{}, err
	}

	previous := current
	s.elements[elementID] = merged
	s.pushHistory(HistoryEntry{
		ElementID: elementID,
		Action:    ActionUpdate,
		Element:   merged,
		Previous:  &previous,
		UserID:    userID,
		Timestamp: time.Now(),
	})
	s.lastActive = time.Now()

	return merged, nil
}

// RemoveElement deletes the element and records a delete history entry with
// the removed snapshot. Deleting an already-gone element is a no-op.
func (s *BoardSession) RemoveElement(elementID string, userID string) (model.DrawingElement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	element, ok := s.elements[elementID]
	if !ok {
		return model.DrawingElement{}, false
	}

	delete(s.elements, elementID)
	s.pushHistory(HistoryEntry{
		ElementID: elementID,
		Action:    ActionDelete,
		Element:   element,
		UserID:    userID,
		Timestamp: time.Now(),
	})
	s.lastActive = time.Now()

	return element, true
}

// Undo pops the most recent history entry and applies its inverse:
// add -> delete, delete -> re-insert. For updates the session state is left
// untouched and the pre-merge snapshot is returned as a restore hint only;
// per-element multi-step undo is intentionally not supported.
func (s *BoardSession) Undo() (UndoResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) == 0 {
		return UndoResult{}, false
	}

	entry := s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	s.lastActive = time.Now()

	result := UndoResult{
		Action:    entry.Action,
		ElementID: entry.ElementID,
		UserID:    entry.UserID,
	}

	switch entry.Action {
	case ActionAdd:
		delete(s.elements, entry.ElementID)
	case ActionDelete:
		element := entry.Element
		s.elements[entry.ElementID] = element
		result.Element = &element
	case ActionUpdate:
		result.PreviousState = entry.Previous
	}

	return result, true
}

// pushHistory appends an entry, evicting the oldest past the cap. Caller
// holds the lock.
func (s *BoardSession) pushHistory(entry HistoryEntry) {
	s.history = append(s.history, entry)
	if len(s.history) > maxHistoryEntries {
		s.history = s.history[len(s.history)-maxHistoryEntries:]
	}
}

// Elements returns a copy of the current element set.
func (s *BoardSession) Elements() []model.DrawingElement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	elements := make([]model.DrawingElement, 0, len(s.elements))
	for _, e := range s.elements {
		elements = append(elements, e)
	}
	return elements
}

// Element returns one element by id.
func (s *BoardSession) Element(elementID string) (model.DrawingElement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.elements[elementID]
	return e, ok
}

// UserEntry pairs a connected user with its connection id for snapshots.
type UserEntry struct {
	SocketID string    `json:"socketId"`
	User     BoardUser `json:"user"`
}

// CursorEntry pairs a cursor with its connection id for snapshots.
type CursorEntry struct {
	SocketID string `json:"socketId"`
	Cursor
}

// Users returns the connected users keyed by connection id.
func (s *BoardSession) Users() []UserEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]UserEntry, 0, len(s.users))
	for connID, u := range s.users {
		users = append(users, UserEntry{SocketID: connID, User: u})
	}
	return users
}

// Cursors returns the current cursors keyed by connection id.
func (s *BoardSession) Cursors() []CursorEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cursors := make([]CursorEntry, 0, len(s.cursors))
	for connID, c := range s.cursors {
		cursors = append(cursors, CursorEntry{SocketID: connID, Cursor: c})
	}
	return cursors
}

// User returns the user bound to a connection.
func (s *BoardSession) User(connID string) (BoardUser, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[connID]
	return u, ok
}

// HistoryLen returns the current history depth.
func (s *BoardSession) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.history)
}

// ConnectionCount returns the number of connected users.
func (s *BoardSession) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.users)
}

// LastActive returns the time of the last mutation or membership change.
func (s *BoardSession) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastActive
}
