package shared

import (
	"context"
	"time"
)

// MessageType discriminates broadcast messages sent to live board connections.
type MessageType string

const (
	// MessageBehaviorEvent announces a newly recorded behavior event.
	MessageBehaviorEvent MessageType = "behavior_event"

	// MessageStudentUpdated announces a changed student state (XP/level/color).
	MessageStudentUpdated MessageType = "student_updated"

	// MessageStudentRemoved announces that a student left the board
	// (deactivation); data carries the student id.
	MessageStudentRemoved MessageType = "student_removed"

	// MessageRewardRedeemed announces a reward redemption.
	MessageRewardRedeemed MessageType = "reward_redeemed"

	// MessageConsequenceApplied announces an applied consequence.
	MessageConsequenceApplied MessageType = "consequence_applied"

	// MessageGeneric carries free-form announcements (e.g., settings changed).
	MessageGeneric MessageType = "message"
)

// BroadcastMessage is the transient payload delivered to live connections.
// It has no identity beyond its in-memory lifetime: if nobody is subscribed
// to the course when it is published, it is dropped. Clients recover missed
// state through the board snapshot endpoint, not through replay.
type BroadcastMessage struct {
	Type      MessageType `json:"type"`
	CourseID  string      `json:"courseId"`
	Data      any         `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewBroadcast creates a broadcast message stamped with the current time.
func NewBroadcast(msgType MessageType, courseID string, data any) BroadcastMessage {
	return BroadcastMessage{
		Type:      msgType,
		CourseID:  courseID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher fans a broadcast message out to live course subscribers.
// Implementations are best-effort: a returned error is for logging only and
// must never abort the write that triggered the publish. The in-process
// implementation delivers straight into the connection registry; the Redis
// implementation additionally bridges messages between server instances.
type Publisher interface {
	Publish(ctx context.Context, msg BroadcastMessage) error
	Close() error
}
