package models

// Event is what travels through the broker between push endpoint instances.
type Event struct {
	UserID    string   `json:"userId"`
	OriginID  string   `json:"originId,omitempty"`
	Timestamp int64    `json:"timestamp"`
	Message   Envelope `json:"message"`
}

type BroadcastMessage struct {
	UserID   string
	OriginID string
	Payload  []byte
}
