// Package pionmd captures from real hardware through pion/mediadevices.
//
// Drivers register themselves through blank imports in the binary (camera,
// microphone and screen driver packages) and encoders are handed in as a
// codec selector. Without a selector tracks still open and light the device,
// but cannot feed a recorder.
package pionmd

import (
	"context"
	"errors"
	"strings"
	"syscall"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/zap"
)

type Option func(*Devices)

// WithCodecSelector supplies the encoders used for recording.
func WithCodecSelector(selector *mediadevices.CodecSelector, videoCodec, audioCodec string) Option {
	return func(d *Devices) {
		d.selector = selector
		d.videoCodec = videoCodec
		d.audioCodec = audioCodec
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(d *Devices) { d.logger = logger }
}

// Devices implements ports.MediaDevices.
type Devices struct {
	selector   *mediadevices.CodecSelector
	videoCodec string
	audioCodec string
	logger     *zap.SugaredLogger

	// seams over the package-level mediadevices entry points
	getUserMedia    func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error)
	getDisplayMedia func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error)
	enumerate       func() []mediadevices.MediaDeviceInfo
}

var _ ports.MediaDevices = (*Devices)(nil)

func New(opts ...Option) *Devices {
	d := &Devices{
		videoCodec:      "vp8",
		audioCodec:      "opus",
		logger:          zap.NewNop().Sugar(),
		getUserMedia:    mediadevices.GetUserMedia,
		getDisplayMedia: mediadevices.GetDisplayMedia,
		enumerate:       mediadevices.EnumerateDevices,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Devices) GetUserMedia(ctx context.Context, c domain.UserMediaConstraints) ([]ports.Track, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if c.Video != nil {
		constraints.Video = videoOption(c.Video)
	}
	if c.Audio != nil {
		constraints.Audio = audioOption(c.Audio)
		if c.Audio.EchoCancellation || c.Audio.NoiseSuppression || c.Audio.AutoGainControl {
			d.logger.Debugw("audio processing hints are not supported by the capture driver")
		}
	}

	return d.open(ctx, func() (mediadevices.MediaStream, error) {
		return d.getUserMedia(constraints)
	}, "camera")
}

func (d *Devices) GetDisplayMedia(ctx context.Context, c domain.DisplayMediaConstraints) ([]ports.Track, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Codec: d.selector,
		Video: func(t *mediadevices.MediaTrackConstraints) {
			if c.Width > 0 {
				t.Width = prop.Int(c.Width)
			}
			if c.Height > 0 {
				t.Height = prop.Int(c.Height)
			}
			if c.FrameRate > 0 {
				t.FrameRate = prop.Float(float32(c.FrameRate))
			}
		},
	}
	// Display drivers expose no system audio; an audio request is dropped and
	// the caller proceeds video-only.
	if c.Audio {
		d.logger.Debugw("system audio is not available from the display driver", "surface", c.Surface)
	}

	return d.open(ctx, func() (mediadevices.MediaStream, error) {
		return d.getDisplayMedia(constraints)
	}, "screen")
}

func (d *Devices) EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.DeviceInfo
	for _, info := range d.enumerate() {
		kind, ok := deviceKind(info.Kind)
		if !ok {
			continue
		}
		out = append(out, domain.DeviceInfo{DeviceID: info.DeviceID, Kind: kind, Label: info.Label})
	}
	return out, nil
}

// open runs the blocking driver call off the caller's goroutine. A result that
// arrives after ctx is done is closed so no device stays lit.
func (d *Devices) open(ctx context.Context, call func() (mediadevices.MediaStream, error), label string) ([]ports.Track, error) {
	type result struct {
		stream mediadevices.MediaStream
		err    error
	}
	done := make(chan result, 1)
	go func() {
		s, err := call()
		done <- result{stream: s, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil && r.stream != nil {
				for _, t := range r.stream.GetTracks() {
					_ = t.Close()
				}
				d.logger.Debugw("closed capture that completed after cancellation", "source", label)
			}
		}()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, classify(r.err)
		}
		return d.wrap(r.stream, label), nil
	}
}

func (d *Devices) wrap(stream mediadevices.MediaStream, label string) []ports.Track {
	var tracks []ports.Track
	for _, t := range stream.GetVideoTracks() {
		tracks = append(tracks, newTrack(newSource(t, domain.TrackKindVideo, label, d.videoCodec, d.selector != nil), d.logger))
	}
	for _, t := range stream.GetAudioTracks() {
		tracks = append(tracks, newTrack(newSource(t, domain.TrackKindAudio, label, d.audioCodec, d.selector != nil), d.logger))
	}
	return tracks
}

func videoOption(v *domain.VideoConstraints) mediadevices.MediaOption {
	return func(t *mediadevices.MediaTrackConstraints) {
		if v.DeviceID != "" {
			t.DeviceID = v.DeviceID
		}
		if v.Width > 0 {
			t.Width = prop.Int(v.Width)
		}
		if v.Height > 0 {
			t.Height = prop.Int(v.Height)
		}
		if v.FrameRate > 0 {
			t.FrameRate = prop.Float(float32(v.FrameRate))
		}
	}
}

func audioOption(a *domain.AudioConstraints) mediadevices.MediaOption {
	return func(t *mediadevices.MediaTrackConstraints) {
		if a.DeviceID != "" {
			t.DeviceID = a.DeviceID
		}
	}
}

func deviceKind(k mediadevices.MediaDeviceType) (domain.DeviceKind, bool) {
	switch k {
	case mediadevices.VideoInput:
		return domain.DeviceKindVideoInput, true
	case mediadevices.AudioInput:
		return domain.DeviceKindAudioInput, true
	case mediadevices.AudioOutput:
		return domain.DeviceKindAudioOutput, true
	default:
		return "", false
	}
}

// classify maps driver failures onto the device error taxonomy. Drivers
// report OS errors for busy or forbidden devices and plain strings for the
// rest.
func classify(err error) error {
	switch {
	case errors.Is(err, syscall.EBUSY):
		return domain.NewDeviceError(domain.DeviceInUse, "device is busy", err)
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return domain.NewDeviceError(domain.PermissionDenied, "access to the device was denied", err)
	case errors.Is(err, syscall.ENOENT), errors.Is(err, syscall.ENODEV):
		return domain.NewDeviceError(domain.DeviceNotFound, "no matching device", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return domain.NewDeviceError(domain.DeviceInUse, "device is busy", err)
	case strings.Contains(msg, "permission"), strings.Contains(msg, "denied"):
		return domain.NewDeviceError(domain.PermissionDenied, "access to the device was denied", err)
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no driver"),
		strings.Contains(msg, "failed to find"):
		return domain.NewDeviceError(domain.DeviceNotFound, "no matching device", err)
	default:
		return domain.NewUnknownError(err.Error(), err)
	}
}

func newHandleID() domain.TrackID {
	return domain.TrackID(uuid.NewString())
}
