package ingest

import (
	"context"
	"fmt"
	"time"

	"tinkoff-trading-bot-go/internal/models"
	"tinkoff-trading-bot-go/internal/tinkoff"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// insertBatchSize limits how many rows go into a single INSERT.
// A year of minute candles can exceed a hundred thousand rows.
const insertBatchSize = 1000

// Coordinator drives instrument metadata updates and the resumable candle
// history download.
type Coordinator struct {
	logger *zap.Logger
	client tinkoff.ClientInterface
	db     *gorm.DB
	now    func() time.Time // Current time (overridable in tests)
}

// NewCoordinator creates a new ingestion coordinator.
func NewCoordinator(logger *zap.Logger, client tinkoff.ClientInterface, db *gorm.DB) *Coordinator {
	return &Coordinator{
		logger: logger,
		client: client,
		db:     db,
		now:    time.Now,
	}
}

// UpdateInstruments downloads the instrument metadata for every asset type
// and upserts it by instrument UID. Instruments keep their database IDs
// across updates, so candles and download progress stay attached.
func (c *Coordinator) UpdateInstruments(ctx context.Context) error {
	var assetTypes []models.AssetType
	if err := c.db.Order("id").Find(&assetTypes).Error; err != nil {
		return fmt.Errorf("could not read asset types (run deploy first?): %w", err)
	}
	if len(assetTypes) == 0 {
		return fmt.Errorf("no asset types in the database, run deploy first")
	}

	var total int
	for _, assetType := range assetTypes {
		if err := ctx.Err(); err != nil {
			return err
		}

		instruments, err := c.client.Instruments(ctx, assetType.Name)
		if err != nil {
			c.logger.Warn("Failed to download instruments, skipping asset type",
				zap.String("asset_type", assetType.Name), zap.Error(err))
			continue
		}
		if len(instruments) == 0 {
			continue
		}

		rows := make([]models.Instrument, 0, len(instruments))
		for _, instrument := range instruments {
			rows = append(rows, models.Instrument{
				UID:                 instrument.UID,
				FIGI:                instrument.FIGI,
				Name:                instrument.Name,
				AssetTypeID:         assetType.ID,
				Lot:                 instrument.Lot,
				First1MinCandleDate: normalizeCandleDate(instrument.First1MinCandleDate),
				First1DayCandleDate: normalizeCandleDate(instrument.First1DayCandleDate),
				ForQualInvestorFlag: instrument.ForQualInvestorFlag,
			})
		}

		err = c.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "uid"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"figi", "name", "asset_type_id", "lot",
				"first_1min_candle_date", "first_1day_candle_date",
				"for_qual_investor_flag", "updated_at",
			}),
		}).CreateInBatches(rows, insertBatchSize).Error
		if err != nil {
			return fmt.Errorf("could not save %s instruments: %w", assetType.Name, err)
		}

		c.logger.Info("Saved instruments",
			zap.String("asset_type", assetType.Name), zap.Int("count", len(rows)))
		total += len(rows)
	}

	c.logger.Info("Instrument update complete", zap.Int("total", total))
	return nil
}

// DownloadHistory walks every instrument and every calendar year of its
// trading history, ascending, and downloads the years whose candles are not
// yet fully persisted. Years already marked complete are skipped without a
// network call, so an interrupted run resumes where it left off. The current
// year is downloaded on every run and never marked complete, because it is
// still accumulating candles.
func (c *Coordinator) DownloadHistory(ctx context.Context) error {
	var instruments []models.Instrument
	if err := c.db.Order("id").Find(&instruments).Error; err != nil {
		return fmt.Errorf("could not read instruments: %w", err)
	}

	currentYear := c.now().UTC().Year()
	var downloaded, skipped, failed int

	for _, instrument := range instruments {
		// The broker reports "no candle history" as the Unix epoch.
		// Without this guard the year loop would walk 1970 to now.
		if !instrument.First1MinCandleDate.After(time.Unix(0, 0)) {
			c.logger.Warn("Instrument has no history start date, skipping",
				zap.String("uid", instrument.UID), zap.String("name", instrument.Name))
			continue
		}

		for year := instrument.First1MinCandleDate.UTC().Year(); year <= currentYear; year++ {
			// Cancellation is only honored between instrument-years;
			// each year commits or rolls back as a whole.
			select {
			case <-ctx.Done():
				c.logger.Info("History download interrupted",
					zap.Int("downloaded", downloaded), zap.Int("skipped", skipped))
				return ctx.Err()
			default:
			}

			fetched, err := c.downloadYear(ctx, &instrument, year, currentYear)
			switch {
			case err != nil:
				failed++
				c.logger.Warn("Failed to download year, will retry on the next run",
					zap.String("figi", instrument.FIGI),
					zap.Int("year", year),
					zap.Error(err))
			case fetched:
				downloaded++
			default:
				skipped++
			}
		}
	}

	c.logger.Info("History download complete",
		zap.Int("downloaded", downloaded),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed))
	return nil
}

// normalizeCandleDate maps the broker's "no candle history" sentinel, the
// Unix epoch, to the zero time.
func normalizeCandleDate(date time.Time) time.Time {
	if !date.After(time.Unix(0, 0)) {
		return time.Time{}
	}
	return date.UTC()
}

// downloadYear processes a single instrument-year. It reports whether the
// year was actually fetched; false with a nil error means the year was
// already complete.
func (c *Coordinator) downloadYear(ctx context.Context, instrument *models.Instrument, year, currentYear int) (bool, error) {
	record := models.HistoryYear{InstrumentID: instrument.ID, Year: year}
	err := c.db.Where(models.HistoryYear{InstrumentID: instrument.ID, Year: year}).
		Attrs(models.HistoryYear{Status: models.HistoryYearPending}).
		FirstOrCreate(&record).Error
	if err != nil {
		return false, fmt.Errorf("could not read download record: %w", err)
	}

	if year < currentYear && record.Status == models.HistoryYearComplete {
		return false, nil
	}

	candles, err := c.client.HistoryYear(ctx, instrument.UID, year)
	if err != nil {
		return false, fmt.Errorf("could not download candles: %w", err)
	}

	rows := make([]models.Candle, 0, len(candles))
	for _, candle := range candles {
		rows = append(rows, models.Candle{
			InstrumentID: instrument.ID,
			Timestamp:    candle.Timestamp.UTC(),
			Open:         candle.Open,
			Close:        candle.Close,
			High:         candle.High,
			Low:          candle.Low,
			Volume:       candle.Volume,
		})
	}

	// The candles and the completion mark go into one transaction, so an
	// interruption leaves the year either fully committed or still pending.
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "instrument_id"}, {Name: "timestamp"}},
				DoUpdates: clause.AssignmentColumns([]string{"open", "close", "high", "low", "volume"}),
			}).CreateInBatches(rows, insertBatchSize).Error
			if err != nil {
				return fmt.Errorf("could not save candles: %w", err)
			}
		}
		if year < currentYear {
			err := tx.Model(&models.HistoryYear{}).
				Where("id = ?", record.ID).
				Update("status", models.HistoryYearComplete).Error
			if err != nil {
				return fmt.Errorf("could not mark year complete: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	c.logger.Info("Downloaded history year",
		zap.String("figi", instrument.FIGI),
		zap.Int("year", year),
		zap.Int("candles", len(rows)))
	return true, nil
}
