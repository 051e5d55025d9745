package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chart2png/internal/chart"
	"chart2png/internal/render"
)

type stubRenderer struct {
	got      chart.Request
	deadline bool
	err      error
}

func (s *stubRenderer) Render(ctx context.Context, req chart.Request) (*render.Response, error) {
	s.got = req
	_, s.deadline = ctx.Deadline()
	if s.err != nil {
		return nil, s.err
	}
	return &render.Response{StatusCode: 200, Body: []byte("\x89PNG")}, nil
}

func TestParseFlags_Defaults(t *testing.T) {
	opts, err := parseFlags([]string{"chartshot"})
	require.NoError(t, err)
	assert.Equal(t, "-", opts.in)
	assert.Equal(t, "out.png", opts.out)
	assert.Equal(t, 30*time.Second, opts.timeout)
	assert.Empty(t, opts.changed)
}

func TestParseFlags_TracksExplicitFlags(t *testing.T) {
	opts, err := parseFlags([]string{"chartshot", "--in", "req.json", "-o", "chart.png", "--width", "800", "--style=normal"})
	require.NoError(t, err)
	assert.Equal(t, "req.json", opts.in)
	assert.Equal(t, "chart.png", opts.out)
	assert.True(t, opts.changed["width"])
	assert.True(t, opts.changed["style"])
	assert.False(t, opts.changed["height"])
}

func TestParseFlags_Errors(t *testing.T) {
	_, err := parseFlags([]string{"chartshot", "--width", "wide"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"chartshot", "extra"})
	assert.Error(t, err)
}

func TestLoadRequest_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "req.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"bar","width":300,"height":200,"roughness":0}`), 0o644))

	opts, err := parseFlags([]string{"chartshot", "--in", path, "--height", "450", "--scale", "1"})
	require.NoError(t, err)

	req, err := loadRequest(opts, nil)
	require.NoError(t, err)
	assert.Equal(t, 300, req.Width, "file value kept when flag not set")
	assert.Equal(t, 450, req.Height)
	assert.Equal(t, 1.0, req.DeviceScaleFactor)
	assert.Equal(t, 0.0, req.Roughness)
	assert.Equal(t, chart.StyleRough, req.Style)
}

func TestLoadRequest_Errors(t *testing.T) {
	opts, _ := parseFlags([]string{"chartshot"})

	_, err := loadRequest(opts, strings.NewReader(`{"type":`))
	assert.Error(t, err)

	_, err = loadRequest(opts, strings.NewReader(`{"data":{}}`))
	assert.Error(t, err)

	_, err = loadRequest(opts, strings.NewReader(`{"type":"bar","style":"sketchy"}`))
	assert.Error(t, err)

	missing, _ := parseFlags([]string{"chartshot", "--in", filepath.Join(t.TempDir(), "none.json")})
	_, err = loadRequest(missing, nil)
	assert.Error(t, err)
}

func TestRun_WritesPNG(t *testing.T) {
	out := filepath.Join(t.TempDir(), "chart.png")
	opts, err := parseFlags([]string{"chartshot", "--out", out, "--timeout", "2s"})
	require.NoError(t, err)

	r := &stubRenderer{}
	require.NoError(t, run(context.Background(), opts, strings.NewReader(`{"type":"line","data":{"datasets":[]}}`), r))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(got))
	assert.Equal(t, "line", r.got.Type)
	assert.True(t, r.deadline, "timeout flag bounds the render")
}

func TestRun_RenderError(t *testing.T) {
	out := filepath.Join(t.TempDir(), "chart.png")
	opts, _ := parseFlags([]string{"chartshot", "--out", out})

	err := run(context.Background(), opts, strings.NewReader(`{"type":"bar"}`), &stubRenderer{err: context.DeadlineExceeded})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "no file on failure")
}

func TestLoadConfig_TimeoutAndSingleTab(t *testing.T) {
	opts, _ := parseFlags([]string{"chartshot", "--timeout", "1500ms"})
	t.Setenv("CHROME_BIN", "/opt/chrome")

	cfg := loadConfig(opts)
	assert.Equal(t, 2, cfg.Render.TimeoutSecs)
	assert.Equal(t, 1, cfg.Chrome.MaxTabs)
	assert.Equal(t, "/opt/chrome", cfg.Chrome.ExecPath)
}
