package feed

import (
	"fmt"
	"os"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/rustyeddy/simbroker/market"
)

// barRow mirrors one CSV line of a bar file.
type barRow struct {
	Time   string  `csv:"time"`
	Open   float64 `csv:"open"`
	High   float64 `csv:"high"`
	Low    float64 `csv:"low"`
	Close  float64 `csv:"close"`
	Volume float64 `csv:"volume"`
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// LoadCSV reads a bar series from a CSV file with a
// time,open,high,low,close,volume header.
func LoadCSV(path string) ([]market.Bar, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bar file: %w", err)
	}
	defer fh.Close()

	var rows []*barRow
	if err := gocsv.UnmarshalFile(fh, &rows); err != nil {
		return nil, fmt.Errorf("parse bar file %s: %w", path, err)
	}

	bars := make([]market.Bar, 0, len(rows))
	for i, r := range rows {
		ts, err := parseTime(r.Time)
		if err != nil {
			return nil, fmt.Errorf("bar file %s row %d: %w", path, i+1, err)
		}
		bars = append(bars, market.Bar{
			Time:   ts,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}
	return bars, nil
}
