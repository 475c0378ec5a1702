package services

import (
	"context"
	"time"

	"huddle/internal/core/domain"
)

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordAcquisition(string, time.Duration) {}
func (NopMetrics) RecordDeviceError(string, domain.DeviceErrorKind) {}
func (NopMetrics) RecordShareTransition(domain.ShareState, domain.ShareState) {}
func (NopMetrics) RecordRecording(string, *domain.ArtifactInfo) {}
func (NopMetrics) SetLiveTracks(domain.TrackKind, int) {}

type nopPreview struct{}

func (nopPreview) Bind(domain.StreamDescription) {}

type nopArtifactSink struct{}

func (nopArtifactSink) Deliver(context.Context, *domain.Artifact) error { return nil }
