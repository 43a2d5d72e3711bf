package model

import (
	"time"
)

// User 사용자 — only the identity fields the sync core needs; account
// management lives in a separate service.
type User struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// Board 보드
type Board struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(200);not null" json:"name"`
	OwnerID   string    `gorm:"type:varchar(64);not null" json:"owner_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Collaborators []BoardCollaborator `gorm:"foreignKey:BoardID" json:"collaborators,omitempty"`
	Elements      []BoardElement      `gorm:"foreignKey:BoardID" json:"elements,omitempty"`
}

func (Board) TableName() string {
	return "boards"
}

// BoardCollaborator 보드 협업자
type BoardCollaborator struct {
	ID      int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	BoardID string `gorm:"type:varchar(64);not null;index" json:"board_id"`
	UserID  string `gorm:"type:varchar(64);not null" json:"user_id"`
	Role    string `gorm:"type:varchar(20);default:'EDITOR'" json:"role"` // OWNER, EDITOR, VIEWER

	// Relations
	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (BoardCollaborator) TableName() string {
	return "board_collaborators"
}

// BoardElement is the durable row for one drawing element. The primary key is
// the client-generated element id, so realtime state and durable state share
// one identifier space. The element body is stored as jsonb.
type BoardElement struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	BoardID   string    `gorm:"type:varchar(64);not null;index:idx_board_created" json:"board_id"`
	UserID    string    `gorm:"type:varchar(64);not null" json:"user_id"`
	Type      string    `gorm:"type:varchar(20);not null" json:"type"`
	Data      string    `gorm:"type:jsonb;not null" json:"data"`
	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_board_created" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Board Board `gorm:"foreignKey:BoardID" json:"board,omitempty"`
}

func (BoardElement) TableName() string {
	return "board_elements"
}
