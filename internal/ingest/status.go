package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"tinkoff-trading-bot-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StatusServer exposes download progress over HTTP while a long ingestion
// run is in flight.
type StatusServer struct {
	server *http.Server
	db     *gorm.DB
	logger *zap.Logger
}

// NewStatusServer creates a new StatusServer.
func NewStatusServer(db *gorm.DB, logger *zap.Logger, port int) *StatusServer {
	s := &StatusServer{
		db:     db,
		logger: logger.Named("status-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/progress", s.progressHandler)
	mux.HandleFunc("/health", s.healthHandler)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *StatusServer) Start() {
	s.logger.Info("Starting status server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("Status server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *StatusServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping status server...")
	return s.server.Shutdown(ctx)
}

// instrumentProgress is one row of the per-instrument progress report.
type instrumentProgress struct {
	FIGI          string `json:"figi"`
	Name          string `json:"name"`
	CompleteYears int    `json:"complete_years"`
	PendingYears  int    `json:"pending_years"`
}

// progressReport summarizes the ingestion ledger.
type progressReport struct {
	Instruments int64                `json:"instruments"`
	Candles     int64                `json:"candles"`
	Complete    int64                `json:"complete_years"`
	Pending     int64                `json:"pending_years"`
	Progress    []instrumentProgress `json:"progress"`
}

func (s *StatusServer) progressHandler(w http.ResponseWriter, r *http.Request) {
	var report progressReport

	counts := []struct {
		dest  *int64
		query *gorm.DB
	}{
		{&report.Instruments, s.db.Model(&models.Instrument{})},
		{&report.Candles, s.db.Model(&models.Candle{})},
		{&report.Complete, s.db.Model(&models.HistoryYear{}).Where("status = ?", models.HistoryYearComplete)},
		{&report.Pending, s.db.Model(&models.HistoryYear{}).Where("status = ?", models.HistoryYearPending)},
	}
	for _, count := range counts {
		if err := count.query.Count(count.dest).Error; err != nil {
			s.logger.Error("Failed to read progress", zap.Error(err))
			http.Error(w, "Failed to read progress", http.StatusInternalServerError)
			return
		}
	}

	err := s.db.Model(&models.HistoryYear{}).
		Select("instruments.figi, instruments.name,"+
			" sum(case when history_years.status = ? then 1 else 0 end) as complete_years,"+
			" sum(case when history_years.status = ? then 1 else 0 end) as pending_years",
			models.HistoryYearComplete, models.HistoryYearPending).
		Joins("JOIN instruments ON instruments.id = history_years.instrument_id").
		Group("instruments.id, instruments.figi, instruments.name").
		Order("instruments.id").
		Scan(&report.Progress).Error
	if err != nil {
		s.logger.Error("Failed to read per-instrument progress", zap.Error(err))
		http.Error(w, "Failed to read progress", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.logger.Error("Failed to write progress response", zap.Error(err))
		http.Error(w, "Failed to encode progress", http.StatusInternalServerError)
	}
}

func (s *StatusServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}
