package domain

import "time"

// WebSocket frame types from client.
const (
	MsgTypePing           = "ping"
	MsgTypeSubscribe      = "subscribe"
	MsgTypeUnsubscribe    = "unsubscribe"
	MsgTypeLocationUpdate = "location_update"
	MsgTypeEmergencyAlert = "emergency_alert"
)

// WebSocket frame types to client.
const (
	MsgTypePong                    = "pong"
	MsgTypeError                   = "error"
	MsgTypeConnectionEstablished   = "connection_established"
	MsgTypeSubscriptionConfirmed   = "subscription_confirmed"
	MsgTypeUnsubscriptionConfirmed = "unsubscription_confirmed"
	MsgTypeLocationUpdated         = "location_updated"
	MsgTypeEmergencyChannelJoined  = "emergency_channel_joined"
)

// BaseFrame is the envelope every client frame starts with.
type BaseFrame struct {
	Type string `json:"type"`
}

// Client -> Server frames

// SubscribeFrame subscribes or unsubscribes the connection to topics.
type SubscribeFrame struct {
	Type   string   `json:"type"`
	Events []string `json:"events"`
}

// LocationUpdateFrame carries the client's current position.
type LocationUpdateFrame struct {
	Type      string  `json:"type"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// EmergencyAlertFrame is sent into an emergency area channel by a
// hospital or admin connection.
type EmergencyAlertFrame struct {
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Severity string         `json:"severity,omitempty"`
	Location map[string]any `json:"location,omitempty"`
}

// Server -> Client frames

// Envelope is the generic outbound frame. Every push to a client
// carries a type and a server timestamp; the remaining fields are
// message-specific.
type Envelope map[string]any

// NewEnvelope builds an outbound frame of the given type with the
// current timestamp, merging in the supplied fields.
func NewEnvelope(msgType string, fields map[string]any) Envelope {
	env := Envelope{
		"type":      msgType,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		env[k] = v
	}
	return env
}

// ErrorFrame is sent when a client frame cannot be processed.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorFrame creates an error frame.
func NewErrorFrame(message string) *ErrorFrame {
	return &ErrorFrame{Type: MsgTypeError, Message: message}
}
