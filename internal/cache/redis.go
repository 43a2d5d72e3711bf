package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// activityMaxLen bounds the per-board activity list; older entries fall off.
const activityMaxLen = 500

// BoardActivity is one recorded mutation on a board, kept for diagnostics
// and the recent-activity endpoint.
type BoardActivity struct {
	BoardID   string    `json:"boardId"`
	UserID    string    `json:"userId"`
	Action    string    `json:"action"` // add, update, delete, undo
	ElementID string    `json:"elementId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RedisClient wraps the Redis client for board activity logging.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client and verifies connectivity.
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Printf("[Redis] Connected to %s", addr)
	return &RedisClient{client: client}, nil
}

func activityKey(boardID string) string {
	return "board:" + boardID + ":activity"
}

// AddActivity appends an activity record to the board's list, trims to the
// max length and refreshes the 24h TTL.
func (r *RedisClient) AddActivity(ctx context.Context, a *BoardActivity) error {
	key := activityKey(a.BoardID)
	a.Timestamp = time.Now()

	data, err := json.Marshal(a)
	if err != nil {
		return err
	}

	if err := r.client.RPush(ctx, key, data).Err(); err != nil {
		log.Printf("[Redis] Failed to add activity: %v", err)
		return err
	}

	r.client.LTrim(ctx, key, -activityMaxLen, -1)
	r.client.Expire(ctx, key, 24*time.Hour)

	return nil
}

// GetRecentActivity retrieves the last count activity records for a board.
func (r *RedisClient) GetRecentActivity(ctx context.Context, boardID string, count int64) ([]BoardActivity, error) {
	key := activityKey(boardID)

	results, err := r.client.LRange(ctx, key, -count, -1).Result()
	if err != nil {
		return nil, err
	}

	activities := make([]BoardActivity, 0, len(results))
	for _, data := range results {
		var a BoardActivity
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			continue
		}
		activities = append(activities, a)
	}

	return activities, nil
}

// Close shuts down the underlying client.
func (r *RedisClient) Close() error {
	return r.client.Close()
}
