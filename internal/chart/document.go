package chart

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"chart2png/internal/config"
)

// Selectors of the elements the page template creates.
const (
	CanvasSelector = "#main"
	ReadySelector  = ".ready"
)

// ErrInvalidRequest marks requests whose data or options cannot be embedded.
var ErrInvalidRequest = errors.New("invalid chart request")

//go:embed assets/chart.html.tmpl
var pageSource string

var pageTemplate = template.Must(template.New("chart").Parse(pageSource))

type pageData struct {
	CDN        config.CDNConfig
	FontsHref  string
	Fonts      []string
	Config     map[string]any
	Rough      bool
	FontFamily string
	FontSize   int
	FontColor  string
	FontStyle  string
	Width      int
	Height     int
}

// BuildConfig returns the Chart.js configuration: the caller's options with
// animations switched off and the rough plugin settings under plugins.rough.
func BuildConfig(req Request) (map[string]any, error) {
	options := map[string]any{}
	if raw := trimmed(req.Options); raw != "" && raw != "null" {
		if err := json.Unmarshal(req.Options, &options); err != nil {
			return nil, fmt.Errorf("%w: options must be a JSON object: %v", ErrInvalidRequest, err)
		}
	}

	var data any
	if raw := trimmed(req.Data); raw != "" {
		if !json.Valid(req.Data) {
			return nil, fmt.Errorf("%w: data is not valid JSON", ErrInvalidRequest)
		}
		data = req.Data
	}

	options["animation"] = map[string]any{"duration": 0}
	options["hover"] = map[string]any{"animationDuration": 0}
	options["responsiveAnimationDuration"] = 0

	plugins, _ := options["plugins"].(map[string]any)
	if plugins == nil {
		plugins = map[string]any{}
	}
	plugins["rough"] = map[string]any{
		"roughness":      req.Roughness,
		"bowing":         req.Bowing,
		"fillStyle":      req.FillStyle,
		"fillWeight":     req.FillWeight,
		"hachureAngle":   req.HachureAngle,
		"hachureGap":     req.HachureGap,
		"curveStepCount": req.CurveStepCount,
		"simplification": req.Simplification,
	}
	options["plugins"] = plugins

	return map[string]any{
		"type":    req.Type,
		"data":    data,
		"options": options,
	}, nil
}

func trimmed(raw json.RawMessage) string {
	return strings.TrimSpace(string(raw))
}

// FontsHref returns the stylesheet URL for fonts, or "" when there are none.
func FontsHref(base string, fonts []string) string {
	if len(fonts) == 0 {
		return ""
	}
	families := make([]string, len(fonts))
	for i, f := range fonts {
		families[i] = url.QueryEscape(f)
	}
	return base + "?family=" + strings.Join(families, "|")
}

// BuildDocument renders the complete HTML page for req. The request is
// normalized first, so zero sizes fall back to defaults.
func BuildDocument(req Request, cdn config.CDNConfig) (string, error) {
	req = req.Normalize()

	cfg, err := BuildConfig(req)
	if err != nil {
		return "", err
	}

	fonts := req.Fonts()
	data := pageData{
		CDN:        cdn,
		FontsHref:  FontsHref(cdn.GoogleFonts, fonts),
		Fonts:      fonts,
		Config:     cfg,
		Rough:      req.Style == StyleRough,
		FontFamily: req.FontFamily,
		FontSize:   req.FontSize,
		FontColor:  req.FontColor,
		FontStyle:  req.FontStyle,
		Width:      req.Width,
		Height:     req.Height,
	}

	var b strings.Builder
	if err := pageTemplate.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render chart page: %w", err)
	}
	return b.String(), nil
}
