package handler

import (
	"errors"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"canvas-backend/internal/cache"
	"canvas-backend/internal/model"
)

// BoardHandler serves the board CRUD collaborator surface.
type BoardHandler struct {
	db       *gorm.DB
	activity *cache.RedisClient // optional
}

func NewBoardHandler(db *gorm.DB, activity *cache.RedisClient) *BoardHandler {
	return &BoardHandler{db: db, activity: activity}
}

type createBoardRequest struct {
	Name    string `json:"name"`
	OwnerID string `json:"owner_id,omitempty"`
}

// CreateBoard creates a new board owned by the requesting user.
func (h *BoardHandler) CreateBoard(c *fiber.Ctx) error {
	var req createBoardRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "board name is required"})
	}

	ownerID := userIDFromCtx(c)
	if ownerID == "" {
		ownerID = req.OwnerID
	}
	if ownerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "owner is required"})
	}

	board := model.Board{
		ID:      uuid.New().String(),
		Name:    req.Name,
		OwnerID: ownerID,
	}

	if err := h.db.Create(&board).Error; err != nil {
		log.Printf("[Board] Failed to create board: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create board"})
	}

	collaborator := model.BoardCollaborator{
		BoardID: board.ID,
		UserID:  ownerID,
		Role:    "OWNER",
	}
	if err := h.db.Create(&collaborator).Error; err != nil {
		log.Printf("[Board] Failed to add owner collaborator: %v", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "board": board})
}

// GetBoard returns a board with its collaborators.
func (h *BoardHandler) GetBoard(c *fiber.Ctx) error {
	boardID := c.Params("id")

	var board model.Board
	if err := h.db.Preload("Collaborators").Preload("Collaborators.User").
		Where("id = ?", boardID).First(&board).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "board not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch board"})
	}

	return c.JSON(fiber.Map{"success": true, "board": board})
}

// ListBoards returns the most recently updated boards.
func (h *BoardHandler) ListBoards(c *fiber.Ctx) error {
	var boards []model.Board
	if err := h.db.Order("updated_at DESC").Limit(50).Find(&boards).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch boards"})
	}

	return c.JSON(fiber.Map{"success": true, "boards": boards})
}

type updateBoardRequest struct {
	Name string `json:"name"`
}

// UpdateBoard renames a board.
func (h *BoardHandler) UpdateBoard(c *fiber.Ctx) error {
	boardID := c.Params("id")

	var req updateBoardRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "board name is required"})
	}

	result := h.db.Model(&model.Board{}).Where("id = ?", boardID).Update("name", req.Name)
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to update board"})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "board not found"})
	}

	return c.JSON(fiber.Map{"success": true})
}

// GetActivity returns the recent mutation log for a board from Redis.
func (h *BoardHandler) GetActivity(c *fiber.Ctx) error {
	if h.activity == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "activity log is not enabled"})
	}

	boardID := c.Params("id")
	count := int64(50)
	if raw := c.Query("count"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 && parsed <= 500 {
			count = parsed
		}
	}

	activities, err := h.activity.GetRecentActivity(c.Context(), boardID, count)
	if err != nil {
		log.Printf("[Board] Failed to fetch activity for %s: %v", boardID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch activity"})
	}

	return c.JSON(fiber.Map{"success": true, "activity": activities})
}
