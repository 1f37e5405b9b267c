package models

import (
	"strings"
	"time"
)

// CancelMessage is the user message that aborts a running job.
const CancelMessage = "cancel"

// IsCancelMessage reports whether a user-initiated message asks for the job
// to be cancelled. Matching ignores case and surrounding whitespace.
func IsCancelMessage(message string) bool {
	return strings.EqualFold(strings.TrimSpace(message), CancelMessage)
}

// NotificationType categorizes a notification.
type NotificationType string

const (
	NotificationTypeTask                 NotificationType = "task"
	NotificationTypeProgress             NotificationType = "progress"
	NotificationTypeAlert                NotificationType = "alert"
	NotificationTypeCustom               NotificationType = "custom"
	NotificationTypeUserInitiatedMessage NotificationType = "user_initiated_message"
)

// NotificationPriority maps to client-side TTS behavior: urgent/high are
// spoken, low/medium produce at most a silent ding.
type NotificationPriority string

const (
	NotificationPriorityLow    NotificationPriority = "low"
	NotificationPriorityMedium NotificationPriority = "medium"
	NotificationPriorityHigh   NotificationPriority = "high"
	NotificationPriorityUrgent NotificationPriority = "urgent"
)

// Notification is a persisted, user-visible message. When JobID is set the
// recipient must be the owning user of that job (or an admin).
type Notification struct {
	ID                string               `json:"id"`
	SenderID          string               `json:"sender_id"`
	RecipientID       string               `json:"recipient_id"`
	JobID             string               `json:"job_id,omitempty"`
	Type              NotificationType     `json:"type"`
	Priority          NotificationPriority `json:"priority"`
	Message           string               `json:"message"`
	Abstract          string               `json:"abstract,omitempty"`
	ResponseRequested bool                 `json:"response_requested"`
	ResponseValue     string               `json:"response_value,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
}
