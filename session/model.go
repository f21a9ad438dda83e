package session

import "time"

// Record is the persisted view of one live session. It never holds token
// material; the current refresh rotation id is stored under a separate key.
type Record struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}
