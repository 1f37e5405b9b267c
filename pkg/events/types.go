// Package events is the streaming fabric: it tracks WebSocket sessions,
// their user bindings and event subscriptions, and fans control-plane
// events out to the right connections.
package events

import "time"

// Event tags carried in the "type" field of every server message.
const (
	EventConnect                 = "connect"
	EventTodoUpdate              = "todo_update"
	EventRunUpdate               = "run_update"
	EventDoneUpdate              = "done_update"
	EventDeadUpdate              = "dead_update"
	EventNotificationQueueUpdate = "notification_queue_update"
	EventSysPong                 = "sys_pong"
	EventSubscriptionUpdate      = "subscription_update"
	EventError                   = "error"

	// Audio-session tags.
	EventAudioStreaming = "audio_streaming"
	EventAudioComplete  = "audio_complete"

	// Auth replies. Sent once per queue session in response to the
	// mandatory first auth_request message.
	EventAuthSuccess = "auth_success"
	EventAuthError   = "auth_error"
)

// Client message types.
const (
	ClientAuthRequest         = "auth_request"
	ClientSysPing             = "sys_ping"
	ClientUpdateSubscriptions = "update_subscriptions"
)

// ClientMessage is the JSON shape of every client-to-server message.
type ClientMessage struct {
	Type             string   `json:"type"`
	Token            string   `json:"token,omitempty"`
	SubscribedEvents []string `json:"subscribed_events,omitempty"`
	// Mode is one of replace, add, remove for update_subscriptions.
	Mode   string   `json:"mode,omitempty"`
	Events []string `json:"events,omitempty"`
}

// ConnectionKind distinguishes the two WebSocket surfaces.
type ConnectionKind string

const (
	ConnectionKindAudio ConnectionKind = "audio"
	ConnectionKindQueue ConnectionKind = "queue"
)

// Envelope is the JSON shape of every server-to-client message.
type Envelope struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// audioWhitelist is the narrow set of tags an audio session may receive.
var audioWhitelist = map[string]bool{
	EventAudioStreaming: true,
	EventAudioComplete:  true,
	EventConnect:        true,
	EventSysPong:        true,
}
