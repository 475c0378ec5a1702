package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// RoomIDRegex validates room IDs. Room IDs end up in artifact file
	// names, so separators and dots are rejected.
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// ArtifactNameRegex matches names produced by domain.ArtifactName.
	ArtifactNameRegex = regexp.MustCompile(`^video-call-[a-zA-Z0-9_-]+-[0-9TZ:.\-]+\.[a-z0-9]+$`)
)

const (
	MaxRoomIDLength      = 64
	MaxDisplayNameLength = 64
)

// ValidateRoomID validates room ID
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room ID is required")
	}
	if len(roomID) > MaxRoomIDLength {
		return fmt.Errorf("room ID is too long (max %d characters)", MaxRoomIDLength)
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("room ID contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateDisplayName validates the name shown to other participants
func ValidateDisplayName(name string) error {
	if err := ValidateNonEmptyString(name, "display name"); err != nil {
		return err
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("display name contains invalid characters")
	}
	if err := ValidateStringLength(strings.TrimSpace(name), 1, MaxDisplayNameLength, "display name"); err != nil {
		return err
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("display name contains control characters")
		}
	}
	return nil
}

func ValidateArtifactName(name string) error {
	if name == "" {
		return fmt.Errorf("recording name is required")
	}
	if len(name) > 255 {
		return fmt.Errorf("recording name is too long (max 255 characters)")
	}
	if !ArtifactNameRegex.MatchString(name) {
		return fmt.Errorf("invalid recording name %q", name)
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
