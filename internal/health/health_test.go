package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/stm32pio/internal/stage"
)

func fixed(s Status) CheckFunc {
	return func(context.Context) Result { return Result{Status: s} }
}

func TestLivenessHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	LivenessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestReady(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Status
		want   bool
	}{
		{"none", nil, true},
		{"all ok", map[string]Status{"project": StatusOK, "queue": StatusOK}, true},
		{"degraded", map[string]Status{"project": StatusDegraded}, true},
		{"one down", map[string]Status{"project": StatusOK, "queue": StatusDown}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(zerolog.Nop())
			for n, s := range tt.checks {
				c.Register(n, fixed(s))
			}
			assert.Equal(t, tt.want, Ready(c.RunAll(context.Background())))
		})
	}
}

func TestReadinessHandler(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("queue", fixed(StatusOK))
	c.Register("project", fixed(StatusDown))
	assert.Equal(t, []string{"project", "queue"}, c.Names())

	rr := httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]Result `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "not_ready", body.Status)
	assert.Equal(t, StatusDown, body.Checks["project"].Status)
}

func TestStageCheck(t *testing.T) {
	healthy := stage.FromRaw(map[stage.Stage]bool{stage.Empty: true, stage.Initialized: true})
	noError := func() string { return "" }

	r := StageCheck(func() stage.Vector { return healthy }, noError)(context.Background())
	assert.Equal(t, Result{Status: StatusOK, Detail: "INITIALIZED"}, r)

	r = StageCheck(func() stage.Vector { return healthy }, func() string { return "generate: boom" })(context.Background())
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, "generate: boom", r.Detail)

	broken := stage.FromRaw(map[stage.Stage]bool{stage.Empty: true, stage.Generated: true})
	r = StageCheck(func() stage.Vector { return broken }, noError)(context.Background())
	assert.Equal(t, StatusDown, r.Status)
	require.Error(t, broken.Err())
	assert.Equal(t, broken.Err().Error(), r.Detail)
}
