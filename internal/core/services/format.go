package services

import (
	"fmt"
	"strings"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
)

// NegotiateFormat returns the first preference the recorder factory
// supports. Entries that do not parse are skipped.
func NegotiateFormat(factory ports.RecorderFactory, preferences []string) (domain.Format, error) {
	if len(preferences) == 0 {
		preferences = domain.DefaultRecordingFormats
	}
	for _, mime := range preferences {
		format, err := domain.ParseFormat(mime)
		if err != nil {
			continue
		}
		if factory.IsTypeSupported(format.MimeType) {
			return format, nil
		}
	}
	return domain.Format{}, domain.NewDeviceError(
		domain.FormatUnsupported,
		fmt.Sprintf("none of %s is supported", strings.Join(preferences, ", ")),
		nil,
	)
}
