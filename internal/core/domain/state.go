package domain

import "time"

// Notice is a dismissible, user-visible error.
type Notice struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Operation string    `json:"operation"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionState is the snapshot the presentation layer renders from.
type SessionState struct {
	RoomID          RoomID         `json:"room_id"`
	SessionID       SessionID      `json:"session_id,omitempty"`
	Mounted         bool           `json:"mounted"`
	VideoEnabled    bool           `json:"video_enabled"`
	AudioEnabled    bool           `json:"audio_enabled"`
	VideoSource     VideoSource    `json:"video_source"`
	ShareState      ShareState     `json:"share_state"`
	ShareKind       SourceKind     `json:"share_kind,omitempty"`
	SharePaused     bool           `json:"share_paused"`
	Recording       bool           `json:"recording"`
	RecordingState  RecordingState `json:"recording_state"`
	RecordingFormat string         `json:"recording_format,omitempty"`
	Notices         []Notice       `json:"notices"`
}
