package metrics

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAction(t *testing.T) {
	m := New()
	m.RecordAction("generate", "success", 1.5)
	m.RecordAction("generate", "failure", 0.2)
	m.RecordAction("generate", "success", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("generate", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("generate", "failure")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ActionDuration))
}

func TestRecordToolRun(t *testing.T) {
	m := New()
	m.RecordToolRun("cubemx", "ok")
	m.RecordToolRun("platformio", "failed")
	assert.Equal(t, 2, testutil.CollectAndCount(m.ToolRunsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolRunsTotal.WithLabelValues("cubemx", "ok")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAction("build", "success", 1)
		m.RecordToolRun("platformio", "ok")
		m.SetQueueDepth("/p", 3)
	})
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.RecordAction("patch", "success", 0.01)
	m.SetQueueDepth("/proj", 2)

	path := filepath.Join(t.TempDir(), "stm32pio.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `stm32pio_actions_total{action="patch",result="success"} 1`)
	assert.Contains(t, string(data), `stm32pio_queue_depth{project="/proj"} 2`)
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordToolRun("cubemx", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "stm32pio_tool_runs_total")
}
