package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leafsii/eusd-engine/internal/engine"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestSetup_ExportsEngineInstruments(t *testing.T) {
	m, handler, err := Setup("eusd-test")
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordOperation(ctx, "mint", nil)
	m.RecordOperation(ctx, "mint", errors.New("rejected"))
	m.RecordLiquidation(ctx, decimal.NewFromInt(250), decimal.NewFromFloat(51.5))
	m.RecordCorrection(ctx, engine.Expand, decimal.NewFromInt(300))
	m.RecordFlash(ctx, engine.FlashMint, decimal.NewFromInt(1000))
	m.RecordHTTPRequest(ctx, http.MethodGet, "/v1/state", http.StatusOK, 15*time.Millisecond)
	m.RecordOracleReport(ctx, "primary", nil)
	require.NoError(t, m.ObserveTCR(func() (float64, bool) { return 2.5, true }))

	body := scrape(t, handler)
	for _, name := range []string{
		"eusd_engine_operations_total",
		"eusd_liquidations_total",
		"eusd_bad_debt_written_off_total",
		"eusd_peg_corrections_total",
		"eusd_flash_total",
		"eusd_http_requests_total",
		"eusd_oracle_reports_total",
		"eusd_total_collateralization_ratio",
	} {
		assert.Contains(t, body, name)
	}
	assert.Contains(t, body, `outcome="error"`)
	assert.Contains(t, body, `direction="expand"`)
}

func TestSetup_Repeatable(t *testing.T) {
	_, _, err := Setup("first")
	require.NoError(t, err)
	_, _, err = Setup("second")
	assert.NoError(t, err)
}
