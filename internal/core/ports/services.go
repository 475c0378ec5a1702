package ports

import (
	"context"

	"huddle/internal/core/domain"
)

// SessionController is the control surface offered to the presentation
// layer.
type SessionController interface {
	Mount(ctx context.Context, req domain.CaptureRequest) error
	Close(ctx context.Context) error

	ToggleVideo(ctx context.Context) error
	ToggleAudio(ctx context.Context) error

	StartShare(ctx context.Context, kind domain.SourceKind, opts domain.ShareOptions) error
	StopShare(ctx context.Context) error
	PauseShare(ctx context.Context) error
	ResumeShare(ctx context.Context) error

	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (*domain.Artifact, error)

	State() domain.SessionState
	DismissNotice(id string) bool
	EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error)
}

// TokenService issues relay credentials for a room and display name.
type TokenService interface {
	IssueToken(room domain.RoomID, displayName string) (string, error)
	ValidateToken(token string) (*TokenClaims, error)
}

type TokenClaims struct {
	RoomID      domain.RoomID
	DisplayName string
}
