package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// StaffChannel carries every lifecycle event for warden and principal dashboards.
const StaffChannel = "notifications:staff"

// Lifecycle event types.
const (
	EventRequestCreated       = "request_created"
	EventRequestStatusChanged = "request_status_changed"
	EventRequestDeleted       = "request_deleted"
)

// RequestEvent describes one change to a gate request.
type RequestEvent struct {
	Type            string    `json:"type"`
	RequestID       uint      `json:"request_id"`
	StudentID       uint      `json:"student_id"`
	ApplicationType string    `json:"application_type"`
	Status          string    `json:"status,omitempty"`
	PreviousStatus  string    `json:"previous_status,omitempty"`
	Version         int64     `json:"version"`
	ActorID         uint      `json:"actor_id"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Notifier provides helpers to publish notifications into Redis channels
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
// A nil client turns every publish into a no-op.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishRequestEvent fans ev out to the owning student and the staff channel.
func (n *Notifier) PublishRequestEvent(ctx context.Context, ev RequestEvent) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pipe := n.rdb.Pipeline()
	pipe.Publish(ctx, UserChannel(ev.StudentID), payload)
	pipe.Publish(ctx, StaffChannel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID uint) string {
	return "notifications:user:" + strconv.FormatUint(uint64(userID), 10)
}
