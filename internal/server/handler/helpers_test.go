package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// --- error mapping ---

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrBetTooSmall, http.StatusBadRequest},
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrMarketNotActive, http.StatusConflict},
		{domain.ErrSlippageTooHigh, http.StatusUnprocessableEntity},
		{domain.ErrMarketNotFound, http.StatusNotFound},
		{fmt.Errorf("place bet: %w", domain.ErrDeadlineExpired), http.StatusUnprocessableEntity},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrLockHeld, http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestWriteEngineError_HidesInternalErrors(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	w := httptest.NewRecorder()
	writeEngineError(w, r, discard(), "get market", errors.New("dial tcp 10.0.0.3:5432: refused"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.3")
	assert.Contains(t, w.Body.String(), "get market failed")

	w = httptest.NewRecorder()
	writeEngineError(w, r, discard(), "place bet", domain.ErrSlippageTooHigh)
	assert.JSONEq(t, `{"error":"slippage too high","kind":"economic"}`, w.Body.String())
}

// --- request parsing ---

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"valid", `{"outcome":1,"amount":"0.5"}`, true},
		{"missing amount", `{"outcome":1}`, false},
		{"outcome out of range", `{"outcome":3,"amount":"1"}`, false},
		{"min odds above even money", `{"outcome":2,"amount":"1","min_odds_bps":15000}`, true},
		{"min odds at the curve cap", `{"outcome":2,"amount":"1","min_odds_bps":1000000}`, true},
		{"min odds past the curve cap", `{"outcome":2,"amount":"1","min_odds_bps":1000001}`, false},
		{"negative min odds", `{"outcome":2,"amount":"1","min_odds_bps":-1}`, false},
		{"unknown field", `{"outcome":1,"amount":"1","tip":"2"}`, false},
		{"not json", `outcome=1`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			var req placeBetRequest
			assert.Equal(t, tc.ok, decode(w, r, &req))
			if !tc.ok {
				assert.Equal(t, http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=9000&offset=20&since=2026-06-01T00:00:00Z&until=bogus", nil)
	opts := parseListOpts(r)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 20, opts.Offset)
	require.NotNil(t, opts.Since)
	assert.True(t, opts.Since.Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, opts.Until)

	opts = parseListOpts(httptest.NewRequest(http.MethodGet, "/?limit=-1", nil))
	assert.Equal(t, 50, opts.Limit)
	assert.Zero(t, opts.Offset)
}

// --- health ---

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler(map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("i/o timeout") },
	}, discard())

	w := httptest.NewRecorder()
	h.HealthCheck(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"i/o timeout"`)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)
}
