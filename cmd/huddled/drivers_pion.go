//go:build pion

package main

import (
	"fmt"

	"huddle/internal/infrastructure/platform/pionmd"
	"huddle/pkg/config"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"

	// Hardware drivers register themselves with mediadevices.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
)

func init() {
	pionOptions = pionEncoders
}

func pionEncoders(cfg *config.Config) ([]pionmd.Option, error) {
	var video mediadevices.CodecSelectorOption
	switch cfg.Capture.VideoCodec {
	case "vp8":
		params, err := vpx.NewVP8Params()
		if err != nil {
			return nil, fmt.Errorf("vp8 encoder: %w", err)
		}
		params.BitRate = 1_500_000
		video = mediadevices.WithVideoEncoders(&params)
	case "vp9":
		params, err := vpx.NewVP9Params()
		if err != nil {
			return nil, fmt.Errorf("vp9 encoder: %w", err)
		}
		params.BitRate = 1_500_000
		video = mediadevices.WithVideoEncoders(&params)
	default:
		return nil, fmt.Errorf("no encoder for video codec %q", cfg.Capture.VideoCodec)
	}

	if cfg.Capture.AudioCodec != "opus" {
		return nil, fmt.Errorf("no encoder for audio codec %q", cfg.Capture.AudioCodec)
	}
	audioParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}

	selector := mediadevices.NewCodecSelector(video, mediadevices.WithAudioEncoders(&audioParams))
	return []pionmd.Option{
		pionmd.WithCodecSelector(selector, cfg.Capture.VideoCodec, cfg.Capture.AudioCodec),
	}, nil
}
