package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"chart2png/internal/chart"
	"chart2png/internal/config"
	"chart2png/internal/render"
)

type stubRenderer struct{}

func (stubRenderer) Render(context.Context, chart.Request) (*render.Response, error) {
	return &render.Response{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": render.ContentTypePNG},
		Body:       []byte("\x89PNG"),
	}, nil
}

func minimalConfig() config.Config {
	cfg := config.Default()
	cfg.Cache.RedisHost = ""
	cfg.Cache.PNGCacheEnabled = false
	return cfg
}

func TestNew_RoutesAndJSON404(t *testing.T) {
	app := New(Deps{Config: minimalConfig(), Renderer: stubRenderer{}})

	reqStats, _ := http.NewRequest(http.MethodGet, "/v1/chrome/stats", nil)
	respStats, err := app.Test(reqStats)
	if err != nil {
		t.Fatalf("stats request failed: %v", err)
	}
	if respStats.StatusCode != http.StatusOK {
		t.Fatalf("expected /v1/chrome/stats 200, got %d", respStats.StatusCode)
	}

	req404, _ := http.NewRequest(http.MethodGet, "/does-not-exist", nil)
	resp404, err := app.Test(req404)
	if err != nil {
		t.Fatalf("404 request failed: %v", err)
	}
	if resp404.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp404.StatusCode)
	}
	if got := resp404.Header.Get("Content-Type"); !strings.HasPrefix(got, "application/json") {
		t.Fatalf("expected JSON error response content type, got %q", got)
	}
}

func TestNew_RenderAndErrorEnvelope(t *testing.T) {
	app := New(Deps{Config: minimalConfig(), Renderer: stubRenderer{}})

	ok, _ := http.NewRequest(http.MethodPost, "/v1/chart", strings.NewReader(`{"type":"bar"}`))
	ok.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(ok)
	if err != nil {
		t.Fatalf("render request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("expected png 200, got %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	bad, _ := http.NewRequest(http.MethodPost, "/v1/chart", strings.NewReader(`{"width":10}`))
	resp, err = app.Test(bad)
	if err != nil {
		t.Fatalf("bad request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var envelope struct {
		Error struct {
			Code      int    `json:"code"`
			Message   string `json:"message"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if envelope.Error.Code != http.StatusBadRequest || envelope.Error.Message == "" {
		t.Fatalf("unexpected error envelope %+v", envelope)
	}
	if envelope.Error.RequestID == "" || envelope.Error.RequestID != resp.Header.Get("X-Request-ID") {
		t.Fatalf("expected request id %q in envelope, got %q", resp.Header.Get("X-Request-ID"), envelope.Error.RequestID)
	}
}
