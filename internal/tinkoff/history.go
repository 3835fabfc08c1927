package tinkoff

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// HistoricCandle is one row of a yearly history archive.
type HistoricCandle struct {
	FIGI      string
	Timestamp time.Time
	Open      float64
	Close     float64
	High      float64
	Low       float64
	Volume    int64
}

// HistoryYear downloads the minute-candle archive for one instrument-year.
// The endpoint returns a zip of per-day CSV files. A 404 means the broker
// has no data for that year and yields an empty result, not an error.
func (c *Client) HistoryYear(ctx context.Context, instrumentUID string, year int) ([]HistoricCandle, error) {
	req := c.history.R().
		SetContext(ctx).
		SetQueryParam("instrumentId", instrumentUID).
		SetQueryParam("year", strconv.Itoa(year))

	resp, err := c.doRequest(ctx, c.historyLimiter, "GET", "", req)
	if err != nil {
		if resp != nil && resp.StatusCode() == http.StatusNotFound {
			c.logger.Debug("No history archive for year",
				zap.String("uid", instrumentUID), zap.Int("year", year))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to download history for year %d: %w", year, err)
	}

	candles, err := parseHistoryArchive(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("failed to parse history archive for year %d: %w", year, err)
	}
	return candles, nil
}

// parseHistoryArchive reads candles out of a zipped set of CSV files.
// Each row is figi;timestamp;open;close;high;low;volume with a trailing
// separator.
func parseHistoryArchive(data []byte) ([]HistoricCandle, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("could not open archive: %w", err)
	}

	var candles []HistoricCandle
	for _, file := range archive.File {
		reader, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("could not open '%s': %w", file.Name, err)
		}
		fileCandles, err := parseCandleCSV(reader)
		reader.Close()
		if err != nil {
			return nil, fmt.Errorf("could not parse '%s': %w", file.Name, err)
		}
		candles = append(candles, fileCandles...)
	}
	return candles, nil
}

func parseCandleCSV(reader io.Reader) ([]HistoricCandle, error) {
	csvReader := csv.NewReader(reader)
	csvReader.Comma = ';'
	// The trailing separator produces an empty last field, so row lengths
	// are not uniform enough for the reader's own check.
	csvReader.FieldsPerRecord = -1

	var candles []HistoricCandle
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) < 7 {
			return nil, fmt.Errorf("row has %d fields, want at least 7", len(record))
		}

		candle := HistoricCandle{FIGI: record[0]}
		if candle.Timestamp, err = time.Parse(time.RFC3339, record[1]); err != nil {
			return nil, fmt.Errorf("bad timestamp %q: %w", record[1], err)
		}
		if candle.Open, err = strconv.ParseFloat(record[2], 64); err != nil {
			return nil, fmt.Errorf("bad open price %q: %w", record[2], err)
		}
		if candle.Close, err = strconv.ParseFloat(record[3], 64); err != nil {
			return nil, fmt.Errorf("bad close price %q: %w", record[3], err)
		}
		if candle.High, err = strconv.ParseFloat(record[4], 64); err != nil {
			return nil, fmt.Errorf("bad high price %q: %w", record[4], err)
		}
		if candle.Low, err = strconv.ParseFloat(record[5], 64); err != nil {
			return nil, fmt.Errorf("bad low price %q: %w", record[5], err)
		}
		if candle.Volume, err = strconv.ParseInt(record[6], 10, 64); err != nil {
			return nil, fmt.Errorf("bad volume %q: %w", record[6], err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}
