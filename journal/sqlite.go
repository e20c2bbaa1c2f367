package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteJournal stores runs in one database file so results can be compared
// across runs. Rows are keyed by the journal's run id.
type SQLiteJournal struct {
	db    *sql.DB
	runID string
}

func NewSQLite(path, runID string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteJournal{db: db, runID: runID}, nil
}

// RunID returns the id rows of this journal are keyed by.
func (j *SQLiteJournal) RunID() string { return j.runID }

func (j *SQLiteJournal) RecordRun(r Run) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO runs
		(run_id, created, strategy, symbol, start_time, end_time, start_balance, end_balance, trades, wins, losses)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID, r.Created, r.Strategy, r.Symbol, r.Start, r.End,
		r.StartBalance, r.EndBalance, r.Trades, r.Wins, r.Losses,
	)
	return err
}

func (j *SQLiteJournal) RecordEquity(r EquityRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO equity (run_id, time, balance, equity)
		VALUES (?, ?, ?, ?)`,
		j.runID, r.Time, r.Balance, r.Equity,
	)
	return err
}

func (j *SQLiteJournal) RecordPosition(r PositionRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO positions
		(run_id, id, symbol, side, units, open_price, close_price, commission, pnl, open_time, close_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID, r.ID, r.Symbol, r.Side, r.Units, r.OpenPrice,
		r.ClosePrice, r.Commission, r.PnL, r.OpenTime, r.CloseTime,
	)
	return err
}

func (j *SQLiteJournal) RecordOrder(r OrderRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO orders
		(run_id, time, symbol, kind, units, side, status, order_id, position_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID, r.Time, r.Symbol, r.Kind, r.Units, r.Side, r.Status,
		r.OrderID, r.PositionID,
	)
	return err
}

// ListPositions returns the closed-position records of one run.
func (j *SQLiteJournal) ListPositions(runID string) ([]PositionRecord, error) {
	rows, err := j.db.Query(`
		SELECT id, symbol, side, units, open_price, close_price, commission, pnl, open_time, close_time
		FROM positions WHERE run_id = ? ORDER BY close_time`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PositionRecord
	for rows.Next() {
		var r PositionRecord
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Side, &r.Units, &r.OpenPrice,
			&r.ClosePrice, &r.Commission, &r.PnL, &r.OpenTime, &r.CloseTime); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListEquity returns the balance/equity curve of one run.
func (j *SQLiteJournal) ListEquity(runID string) ([]EquityRecord, error) {
	rows, err := j.db.Query(`
		SELECT time, balance, equity FROM equity
		WHERE run_id = ? ORDER BY time`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquityRecord
	for rows.Next() {
		var r EquityRecord
		if err := rows.Scan(&r.Time, &r.Balance, &r.Equity); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
