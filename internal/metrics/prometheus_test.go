package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvalentine99/binscore/internal/models"
)

func TestObserveResult(t *testing.T) {
	m := New(false)

	m.ObserveResult(&models.ScoreResult{
		Verdict:  models.VerdictMalicious,
		File:     &models.FileInfo{Size: 4096},
		Duration: 3 * time.Millisecond,
	})
	m.ObserveResult(&models.ScoreResult{
		Verdict: models.VerdictBenign,
		Partial: true,
		File:    &models.FileInfo{Size: 100},
	})
	m.ObserveResult(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.scans.WithLabelValues("malicious")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scans.WithLabelValues("benign")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.scans.WithLabelValues("suspicious")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.parseFailures))
	assert.Equal(t, 4196.0, testutil.ToFloat64(m.scannedBytes))
}

func TestObserveError(t *testing.T) {
	m := New(false)
	m.ObserveError(KindIO, time.Millisecond)
	m.ObserveError(KindIO, time.Millisecond)
	m.ObserveError(KindDimension, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.scanErrors.WithLabelValues(KindIO)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scanErrors.WithLabelValues(KindDimension)))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveResult(&models.ScoreResult{})
		m.ObserveError(KindOther, 0)
		m.SetModel("onnx", "abc", 2381)
	})
}

func TestSetModel(t *testing.T) {
	m := New(false)
	m.SetModel("lightgbm", "aaaa", 2381)
	m.SetModel("onnx", "bbbb", 2381)

	assert.Equal(t, 1, testutil.CollectAndCount(m.modelInfo))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modelInfo.WithLabelValues("onnx", "bbbb", "2381")))
}

func TestWriteTextfile(t *testing.T) {
	m := New(false)
	m.ObserveResult(&models.ScoreResult{Verdict: models.VerdictSuspicious})

	path := filepath.Join(t.TempDir(), "binscore.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `binscore_scans_total{verdict="suspicious"} 1`)
	assert.Contains(t, string(data), "binscore_scan_duration_seconds_count 1")

	assert.Error(t, m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom")))
}

func TestHandler(t *testing.T) {
	m := New(true)
	m.ObserveError(KindInference, 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `binscore_scan_errors_total{kind="inference"} 1`))
	assert.Contains(t, body, "go_goroutines")
}

func TestServe(t *testing.T) {
	m := New(false)
	m.ObserveResult(&models.ScoreResult{Verdict: models.VerdictMalicious})

	srv, err := m.Serve("127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `binscore_scans_total{verdict="malicious"} 1`)

	resp, err = http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	_, err = http.Get("http://" + srv.Addr() + "/metrics")
	assert.Error(t, err)
}

func TestServe_BadAddr(t *testing.T) {
	_, err := New(false).Serve("256.0.0.1:bad")
	assert.Error(t, err)
}
