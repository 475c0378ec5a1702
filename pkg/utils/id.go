package utils

import "github.com/google/uuid"

// GenerateRequestID returns a time-ordered id for correlating the log lines
// of one request.
func GenerateRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
