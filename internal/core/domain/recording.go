package domain

import (
	"fmt"
	"strings"
	"time"
)

// RecordingState is the recorder lifecycle state.
type RecordingState string

const (
	RecordingIdle        RecordingState = "idle"
	RecordingNegotiating RecordingState = "negotiating"
	RecordingActive      RecordingState = "recording"
	RecordingFinalizing  RecordingState = "finalizing"
)

// DefaultRecordingFormats is ordered best compression/quality first, broad
// compatibility last.
var DefaultRecordingFormats = []string{
	"video/webm;codecs=vp9,opus",
	"video/webm;codecs=vp8,opus",
	"video/webm;codecs=h264,opus",
	"video/mp4;codecs=avc1,mp4a",
	"video/webm",
	"video/mp4",
}

// Format is a parsed container/codec identifier such as
// "video/webm;codecs=vp9,opus".
type Format struct {
	MimeType  string
	Container string
	Codecs    []string
}

// ParseFormat splits a MIME type with an optional codecs parameter.
func ParseFormat(mimeType string) (Format, error) {
	f := Format{MimeType: strings.TrimSpace(mimeType)}
	base, params, _ := strings.Cut(f.MimeType, ";")
	base = strings.ToLower(strings.TrimSpace(base))
	major, sub, ok := strings.Cut(base, "/")
	if !ok || sub == "" || (major != "video" && major != "audio") {
		return Format{}, fmt.Errorf("invalid media type %q", mimeType)
	}
	f.Container = sub

	for _, p := range strings.Split(params, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(p), "=")
		if !found || strings.ToLower(strings.TrimSpace(key)) != "codecs" {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		for _, c := range strings.Split(value, ",") {
			if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
				f.Codecs = append(f.Codecs, c)
			}
		}
	}
	return f, nil
}

// Extension is the file extension for artifacts of this format.
func (f Format) Extension() string {
	switch f.Container {
	case "x-matroska":
		return "mkv"
	case "":
		return "bin"
	default:
		return f.Container
	}
}

// BaseType is the MIME type without parameters.
func (f Format) BaseType() string {
	base, _, _ := strings.Cut(f.MimeType, ";")
	return strings.TrimSpace(base)
}

// ArtifactName is deterministic for a room and capture start time.
func ArtifactName(room RoomID, startedAt time.Time, ext string) string {
	ts := startedAt.UTC().Format("2006-01-02T15-04-05.000Z")
	return fmt.Sprintf("video-call-%s-%s.%s", room, ts, ext)
}

// ArtifactInfo is artifact metadata as stored in the catalog.
type ArtifactInfo struct {
	Name       string        `json:"name"`
	RoomID     RoomID        `json:"room_id"`
	SessionID  SessionID     `json:"session_id"`
	MimeType   string        `json:"mime_type"`
	Extension  string        `json:"extension"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	ChunkCount int           `json:"chunk_count"`
	Size       int64         `json:"size"`
	Partial    bool          `json:"partial"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Artifact is a finished recording.
type Artifact struct {
	ArtifactInfo
	Data []byte `json:"-"`
}
