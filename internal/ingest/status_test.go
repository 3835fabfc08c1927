package ingest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tinkoff-trading-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestProgressHandler(t *testing.T) {
	db, _, _ := setupTest(t)
	instrument := createInstrument(t, db, "uid-x", "FIGIX", 2022)

	records := []models.HistoryYear{
		{InstrumentID: instrument.ID, Year: 2022, Status: models.HistoryYearComplete},
		{InstrumentID: instrument.ID, Year: 2023, Status: models.HistoryYearComplete},
		{InstrumentID: instrument.ID, Year: 2024, Status: models.HistoryYearPending},
	}
	assert.NoError(t, db.Create(&records).Error)
	assert.NoError(t, db.Create(&models.Candle{
		InstrumentID: instrument.ID,
		Timestamp:    time.Date(2022, time.March, 2, 7, 0, 0, 0, time.UTC),
		Open:         100, Close: 101, High: 102, Low: 99, Volume: 10,
	}).Error)

	server := NewStatusServer(db, zap.NewNop(), 0)
	recorder := httptest.NewRecorder()
	server.progressHandler(recorder, httptest.NewRequest(http.MethodGet, "/api/progress", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)

	var report progressReport
	assert.NoError(t, json.NewDecoder(recorder.Body).Decode(&report))
	assert.Equal(t, int64(1), report.Instruments)
	assert.Equal(t, int64(1), report.Candles)
	assert.Equal(t, int64(2), report.Complete)
	assert.Equal(t, int64(1), report.Pending)

	assert.Len(t, report.Progress, 1)
	assert.Equal(t, "FIGIX", report.Progress[0].FIGI)
	assert.Equal(t, 2, report.Progress[0].CompleteYears)
	assert.Equal(t, 1, report.Progress[0].PendingYears)
}

func TestHealthHandler(t *testing.T) {
	db, _, _ := setupTest(t)

	server := NewStatusServer(db, zap.NewNop(), 0)
	recorder := httptest.NewRecorder()
	server.healthHandler(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
}
