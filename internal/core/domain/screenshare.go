package domain

import "fmt"

// ShareState is the screen-share lifecycle state.
type ShareState string

const (
	ShareIdle       ShareState = "idle"
	ShareRequesting ShareState = "requesting"
	ShareActive     ShareState = "active"
	SharePaused     ShareState = "paused"
	ShareEnded      ShareState = "ended"
)

// SourceKind classifies a screen-capture origin.
type SourceKind string

const (
	SourceKindNone   SourceKind = ""
	SourceKindScreen SourceKind = "screen"
	SourceKindWindow SourceKind = "window"
	SourceKindTab    SourceKind = "tab"
)

func ParseSourceKind(s string) (SourceKind, error) {
	switch SourceKind(s) {
	case SourceKindScreen, SourceKindWindow, SourceKindTab:
		return SourceKind(s), nil
	default:
		return SourceKindNone, fmt.Errorf("unknown source kind %q", s)
	}
}

// Surface maps the source kind to the display surface asked of the platform.
func (k SourceKind) Surface() DisplaySurface {
	switch k {
	case SourceKindWindow:
		return DisplaySurfaceWindow
	case SourceKindTab:
		return DisplaySurfaceBrowser
	default:
		return DisplaySurfaceMonitor
	}
}

type QualityTier string

const (
	QualityLow    QualityTier = "low"
	QualityMedium QualityTier = "medium"
	QualityHigh   QualityTier = "high"
	QualityUltra  QualityTier = "ultra"
)

// Resolution is a fixed pixel target with its bitrate hint.
type Resolution struct {
	Width      int
	Height     int
	BitrateBps int
}

var qualityTargets = map[QualityTier]Resolution{
	QualityLow:    {Width: 1280, Height: 720, BitrateBps: 500_000},
	QualityMedium: {Width: 1280, Height: 720, BitrateBps: 1_000_000},
	QualityHigh:   {Width: 1920, Height: 1080, BitrateBps: 2_000_000},
	QualityUltra:  {Width: 3840, Height: 2160, BitrateBps: 4_000_000},
}

// Target returns the pixel target for the tier. Unknown tiers fall back to
// the low tier.
func (q QualityTier) Target() Resolution {
	if r, ok := qualityTargets[q]; ok {
		return r
	}
	return qualityTargets[QualityLow]
}

func (q QualityTier) Valid() bool {
	_, ok := qualityTargets[q]
	return ok
}

type CursorPolicy string

const (
	CursorAlways CursorPolicy = "always"
	CursorMotion CursorPolicy = "motion"
	CursorNever  CursorPolicy = "never"
)

type Optimization string

const (
	OptimizeAuto   Optimization = "auto"
	OptimizeText   Optimization = "text"
	OptimizeMotion Optimization = "motion"
	OptimizeDetail Optimization = "detail"
)

// ContentHint is the track content hint matching the optimization choice.
func (o Optimization) ContentHint() string {
	switch o {
	case OptimizeText:
		return "text"
	case OptimizeMotion:
		return "motion"
	case OptimizeDetail:
		return "detail"
	default:
		return ""
	}
}

const (
	MinShareFrameRate     = 5
	MaxShareFrameRate     = 60
	DefaultShareFrameRate = 30
)

// ShareOptions configure a screen-share request.
type ShareOptions struct {
	Quality      QualityTier  `json:"quality" yaml:"quality"`
	FrameRate    int          `json:"frame_rate" yaml:"frame_rate"`
	Cursor       CursorPolicy `json:"cursor" yaml:"cursor"`
	IncludeAudio bool         `json:"include_audio" yaml:"include_audio"`
	Optimization Optimization `json:"optimization" yaml:"optimization"`
}

func DefaultShareOptions() ShareOptions {
	return ShareOptions{
		Quality:      QualityHigh,
		FrameRate:    DefaultShareFrameRate,
		Cursor:       CursorMotion,
		IncludeAudio: true,
		Optimization: OptimizeAuto,
	}
}

// Normalize fills zero values with defaults and clamps the frame rate.
func (o ShareOptions) Normalize() ShareOptions {
	if o.Quality == "" {
		o.Quality = QualityHigh
	}
	if o.FrameRate == 0 {
		o.FrameRate = DefaultShareFrameRate
	}
	if o.FrameRate < MinShareFrameRate {
		o.FrameRate = MinShareFrameRate
	}
	if o.FrameRate > MaxShareFrameRate {
		o.FrameRate = MaxShareFrameRate
	}
	if o.Cursor == "" {
		o.Cursor = CursorMotion
	}
	if o.Optimization == "" {
		o.Optimization = OptimizeAuto
	}
	return o
}

func (o ShareOptions) Validate() error {
	if !o.Quality.Valid() {
		return fmt.Errorf("unknown quality tier %q", o.Quality)
	}
	switch o.Cursor {
	case CursorAlways, CursorMotion, CursorNever:
	default:
		return fmt.Errorf("unknown cursor policy %q", o.Cursor)
	}
	switch o.Optimization {
	case OptimizeAuto, OptimizeText, OptimizeMotion, OptimizeDetail:
	default:
		return fmt.Errorf("unknown optimization %q", o.Optimization)
	}
	return nil
}

// DisplayConstraints builds the platform request for a share of kind.
func (o ShareOptions) DisplayConstraints(kind SourceKind) DisplayMediaConstraints {
	target := o.Quality.Target()
	return DisplayMediaConstraints{
		Surface:     kind.Surface(),
		Width:       target.Width,
		Height:      target.Height,
		FrameRate:   o.FrameRate,
		Cursor:      o.Cursor,
		ContentHint: o.Optimization.ContentHint(),
		Audio:       o.IncludeAudio,
	}
}
