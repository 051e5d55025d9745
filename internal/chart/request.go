// Package chart turns a declarative chart request into the HTML page that
// draws it with Chart.js inside the browser.
package chart

import (
	"encoding/json"
	"strings"
)

// Style selects plain or hand-drawn rendering.
type Style string

const (
	StyleNormal Style = "normal"
	StyleRough  Style = "rough"
)

// FillStyle is a rough.js fill pattern.
type FillStyle string

const (
	FillHachure    FillStyle = "hachure"
	FillSolid      FillStyle = "solid"
	FillZigzag     FillStyle = "zigzag"
	FillCrossHatch FillStyle = "cross-hatch"
	FillDots       FillStyle = "dots"
	FillStarburst  FillStyle = "starburst"
	FillDashed     FillStyle = "dashed"
	FillZigzagLine FillStyle = "zigzag-line"
)

// Valid reports whether s is a known style.
func (s Style) Valid() bool {
	return s == StyleNormal || s == StyleRough
}

// Valid reports whether f is a known fill pattern.
func (f FillStyle) Valid() bool {
	switch f {
	case FillHachure, FillSolid, FillZigzag, FillCrossHatch, FillDots, FillStarburst, FillDashed, FillZigzagLine:
		return true
	}
	return false
}

// Request describes one chart render. Data and Options are passed to
// Chart.js as-is; nothing about them is validated here.
type Request struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Options json.RawMessage `json:"options,omitempty"`

	Width             int     `json:"width"`
	Height            int     `json:"height"`
	DeviceScaleFactor float64 `json:"deviceScaleFactor"`

	FontFamily string `json:"fontFamily,omitempty"`
	FontSize   int    `json:"fontSize"`
	FontColor  string `json:"fontColor"`
	FontStyle  string `json:"fontStyle"`

	Style          Style     `json:"style"`
	Roughness      float64   `json:"roughness"`
	Bowing         float64   `json:"bowing"`
	FillStyle      FillStyle `json:"fillStyle"`
	FillWeight     float64   `json:"fillWeight"`
	HachureAngle   float64   `json:"hachureAngle"`
	HachureGap     float64   `json:"hachureGap"`
	CurveStepCount float64   `json:"curveStepCount"`
	Simplification float64   `json:"simplification"`
}

// Default values applied by DefaultRequest and, for fields where zero is
// meaningless, by Normalize.
const (
	DefaultWidth             = 512
	DefaultHeight            = 320
	DefaultDeviceScaleFactor = 2
	DefaultFontSize          = 12
	DefaultFontColor         = "#666"
	DefaultFontStyle         = "normal"
)

// DefaultRequest returns a request with every default filled in. Decoding
// JSON into it leaves absent fields at their defaults, so an explicit zero
// (say "roughness": 0) is kept.
func DefaultRequest() Request {
	return Request{
		Width:             DefaultWidth,
		Height:            DefaultHeight,
		DeviceScaleFactor: DefaultDeviceScaleFactor,
		FontSize:          DefaultFontSize,
		FontColor:         DefaultFontColor,
		FontStyle:         DefaultFontStyle,
		Style:             StyleRough,
		Roughness:         1,
		Bowing:            1,
		FillStyle:         FillHachure,
		FillWeight:        0.5,
		HachureAngle:      -41,
		HachureGap:        4,
		CurveStepCount:    9,
		Simplification:    9,
	}
}

// Normalize fills fields whose zero value cannot be meant literally.
// Sketch parameters are left alone since zero is a valid setting for them.
func (r Request) Normalize() Request {
	if r.Width <= 0 {
		r.Width = DefaultWidth
	}
	if r.Height <= 0 {
		r.Height = DefaultHeight
	}
	if r.DeviceScaleFactor <= 0 {
		r.DeviceScaleFactor = DefaultDeviceScaleFactor
	}
	if r.FontSize <= 0 {
		r.FontSize = DefaultFontSize
	}
	if r.FontColor == "" {
		r.FontColor = DefaultFontColor
	}
	if r.FontStyle == "" {
		r.FontStyle = DefaultFontStyle
	}
	if r.Style == "" {
		r.Style = StyleRough
	}
	if r.FillStyle == "" {
		r.FillStyle = FillHachure
	}
	return r
}

// Fonts splits FontFamily on commas, trimming blanks.
func (r Request) Fonts() []string {
	if r.FontFamily == "" {
		return nil
	}
	var fonts []string
	for _, f := range strings.Split(r.FontFamily, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fonts = append(fonts, f)
		}
	}
	return fonts
}
