package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(slog.New(slog.NewJSONHandler(&buf, nil))), &buf
}

func TestLogger_Debit(t *testing.T) {
	a, buf := captureLogger()
	a.LogDebit(context.Background(), 7, "call-1", decimal.RequireFromString("3.5"), decimal.RequireFromString("96.5"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "AUDIT", rec["msg"])
	assert.Equal(t, "INFO", rec["level"])

	group := rec["audit"].(map[string]any)
	assert.Equal(t, EventDebit, group["event_type"])
	assert.Equal(t, "call-1", group["reference"])
	assert.Equal(t, "3.5", group["amount"])
	assert.Equal(t, "96.5", group["balance_after"])
	assert.EqualValues(t, 7, group["account_id"])
}

func TestLogger_AnomalyIsWarning(t *testing.T) {
	a, buf := captureLogger()
	a.LogAnomaly(context.Background(), 3, "call-9", decimal.RequireFromString("3.5"), "insufficient balance")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	group := rec["audit"].(map[string]any)
	assert.Equal(t, EventSettlementAnomaly, group["event_type"])
	assert.Equal(t, "UNSETTLED", group["status"])
	assert.Equal(t, "insufficient balance", group["reason"])
}
