package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"canvas-backend/internal/model"
)

// ElementStore is the durable-store collaborator surface the client syncs
// against. The realtime channel never touches it directly.
type ElementStore interface {
	CreateElement(ctx context.Context, boardID string, element model.DrawingElement) error
	ListElements(ctx context.Context, boardID string) ([]model.DrawingElement, error)
	UpdateElement(ctx context.Context, elementID string, updates model.ElementUpdates) error
	DeleteElement(ctx context.Context, elementID string) error
	GetBoard(ctx context.Context, boardID string) (*model.Board, error)
	UpdateBoard(ctx context.Context, boardID, name string) error
}

// HTTPStore talks to the canvas backend's REST persistence surface.
type HTTPStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPStore creates a store client. token may be empty when the server
// runs without auth.
func NewHTTPStore(baseURL, token string) *HTTPStore {
	return &HTTPStore{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *HTTPStore) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (s *HTTPStore) CreateElement(ctx context.Context, boardID string, element model.DrawingElement) error {
	return s.do(ctx, http.MethodPost, "/api/boards/"+boardID+"/elements", element, nil)
}

func (s *HTTPStore) ListElements(ctx context.Context, boardID string) ([]model.DrawingElement, error) {
	var resp struct {
		Elements []model.DrawingElement `json:"elements"`
	}
	if err := s.do(ctx, http.MethodGet, "/api/boards/"+boardID+"/elements", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Elements, nil
}

func (s *HTTPStore) UpdateElement(ctx context.Context, elementID string, updates model.ElementUpdates) error {
	return s.do(ctx, http.MethodPut, "/api/elements/"+elementID, updates, nil)
}

func (s *HTTPStore) DeleteElement(ctx context.Context, elementID string) error {
	return s.do(ctx, http.MethodDelete, "/api/elements/"+elementID, nil, nil)
}

func (s *HTTPStore) GetBoard(ctx context.Context, boardID string) (*model.Board, error) {
	var resp struct {
		Board *model.Board `json:"board"`
	}
	if err := s.do(ctx, http.MethodGet, "/api/boards/"+boardID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Board, nil
}

func (s *HTTPStore) UpdateBoard(ctx context.Context, boardID, name string) error {
	return s.do(ctx, http.MethodPut, "/api/boards/"+boardID, map[string]string{"name": name}, nil)
}
