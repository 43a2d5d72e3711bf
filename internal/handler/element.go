package handler

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"canvas-backend/internal/model"
)

// ElementHandler is the durable-store surface for drawing elements. The
// realtime path stays in memory; clients flush through these endpoints.
type ElementHandler struct {
	db *gorm.DB
}

func NewElementHandler(db *gorm.DB) *ElementHandler {
	return &ElementHandler{db: db}
}

// CreateElement persists one element for a board. Writing an element id that
// already exists overwrites the stored body, which makes the debounced client
// writer safe to retry.
func (h *ElementHandler) CreateElement(c *fiber.Ctx) error {
	boardID := c.Params("boardId")
	if boardID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "board id is required"})
	}

	var element model.DrawingElement
	if err := c.BodyParser(&element); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := element.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	data, err := json.Marshal(element)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid element data"})
	}

	row := model.BoardElement{
		ID:      element.ID,
		BoardID: boardID,
		UserID:  userIDFromCtx(c),
		Type:    string(element.Type),
		Data:    string(data),
	}

	if err := h.db.Save(&row).Error; err != nil {
		log.Printf("[Element] Failed to save element %s: %v", element.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save element"})
	}

	return c.JSON(fiber.Map{"success": true, "element": element})
}

// ListElements returns every stored element for a board, oldest first.
func (h *ElementHandler) ListElements(c *fiber.Ctx) error {
	boardID := c.Params("boardId")
	if boardID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "board id is required"})
	}

	var rows []model.BoardElement
	if err := h.db.Where("board_id = ?", boardID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch elements"})
	}

	elements := make([]model.DrawingElement, 0, len(rows))
	for _, row := range rows {
		var element model.DrawingElement
		if err := json.Unmarshal([]byte(row.Data), &element); err != nil {
			log.Printf("[Element] Failed to parse element %s: %v", row.ID, err)
			continue
		}
		elements = append(elements, element)
	}

	return c.JSON(fiber.Map{"success": true, "elements": elements})
}

// UpdateElement merges a partial element body into the stored row, key union
// with last writer wins per key.
func (h *ElementHandler) UpdateElement(c *fiber.Ctx) error {
	elementID := c.Params("id")
	if elementID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "element id is required"})
	}

	var updates model.ElementUpdates
	if err := json.Unmarshal(c.Body(), &updates); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	var row model.BoardElement
	if err := h.db.Where("id = ?", elementID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "element not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch element"})
	}

	var current model.DrawingElement
	if err := json.Unmarshal([]byte(row.Data), &current); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stored element is corrupt"})
	}

	merged, err := model.ApplyUpdates(current, updates)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid element updates"})
	}

	if err := merged.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to encode element"})
	}

	row.Data = string(data)
	if err := h.db.Save(&row).Error; err != nil {
		log.Printf("[Element] Failed to update element %s: %v", elementID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to update element"})
	}

	return c.JSON(fiber.Map{"success": true, "element": merged})
}

// DeleteElement removes a stored element. Deleting an element that is
// already gone succeeds; last writer wins makes "already gone" acceptable.
func (h *ElementHandler) DeleteElement(c *fiber.Ctx) error {
	elementID := c.Params("id")
	if elementID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "element id is required"})
	}

	if err := h.db.Where("id = ?", elementID).Delete(&model.BoardElement{}).Error; err != nil {
		log.Printf("[Element] Failed to delete element %s: %v", elementID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to delete element"})
	}

	return c.JSON(fiber.Map{"success": true})
}

// userIDFromCtx reads the authenticated user id when the auth middleware ran.
func userIDFromCtx(c *fiber.Ctx) string {
	if val := c.Locals("userID"); val != nil {
		if id, ok := val.(string); ok {
			return id
		}
	}
	return ""
}
