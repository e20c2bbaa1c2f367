package journal

import (
	"os"
	"time"

	"github.com/gocarina/gocsv"
)

// Row mirrors for gocsv; times are serialized as RFC3339.
type equityRow struct {
	Time    string  `csv:"time"`
	Balance float64 `csv:"balance"`
	Equity  float64 `csv:"equity"`
}

type positionRow struct {
	ID         int64   `csv:"id"`
	Symbol     string  `csv:"symbol"`
	Side       string  `csv:"side"`
	Units      int64   `csv:"units"`
	OpenPrice  float64 `csv:"open_price"`
	ClosePrice float64 `csv:"close_price"`
	Commission float64 `csv:"commission"`
	PnL        float64 `csv:"pnl"`
	OpenTime   string  `csv:"open_time"`
	CloseTime  string  `csv:"close_time"`
}

type orderRow struct {
	Time       string `csv:"time"`
	Symbol     string `csv:"symbol"`
	Kind       string `csv:"kind"`
	Units      int64  `csv:"units"`
	Side       string `csv:"side"`
	Status     string `csv:"status"`
	OrderID    int64  `csv:"order_id"`
	PositionID int64  `csv:"position_id"`
}

// CSVJournal buffers records and writes one CSV file per table on Close.
type CSVJournal struct {
	equityPath    string
	positionsPath string
	ordersPath    string

	equity    []*equityRow
	positions []*positionRow
	orders    []*orderRow
}

func NewCSV(equityPath, positionsPath, ordersPath string) *CSVJournal {
	return &CSVJournal{
		equityPath:    equityPath,
		positionsPath: positionsPath,
		ordersPath:    ordersPath,
	}
}

// RecordRun is a no-op for CSV output; run metadata lives in the SQLite
// backend.
func (j *CSVJournal) RecordRun(Run) error { return nil }

func (j *CSVJournal) RecordEquity(r EquityRecord) error {
	j.equity = append(j.equity, &equityRow{
		Time:    r.Time.Format(time.RFC3339),
		Balance: r.Balance,
		Equity:  r.Equity,
	})
	return nil
}

func (j *CSVJournal) RecordPosition(r PositionRecord) error {
	j.positions = append(j.positions, &positionRow{
		ID:         r.ID,
		Symbol:     r.Symbol,
		Side:       r.Side,
		Units:      r.Units,
		OpenPrice:  r.OpenPrice,
		ClosePrice: r.ClosePrice,
		Commission: r.Commission,
		PnL:        r.PnL,
		OpenTime:   r.OpenTime.Format(time.RFC3339),
		CloseTime:  r.CloseTime.Format(time.RFC3339),
	})
	return nil
}

func (j *CSVJournal) RecordOrder(r OrderRecord) error {
	j.orders = append(j.orders, &orderRow{
		Time:       r.Time.Format(time.RFC3339),
		Symbol:     r.Symbol,
		Kind:       r.Kind,
		Units:      r.Units,
		Side:       r.Side,
		Status:     r.Status,
		OrderID:    r.OrderID,
		PositionID: r.PositionID,
	})
	return nil
}

func (j *CSVJournal) Close() error {
	if err := writeCSV(j.equityPath, &j.equity); err != nil {
		return err
	}
	if err := writeCSV(j.positionsPath, &j.positions); err != nil {
		return err
	}
	return writeCSV(j.ordersPath, &j.orders)
}

func writeCSV(path string, rows any) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	defer fh.Close()
	return gocsv.MarshalFile(rows, fh)
}
