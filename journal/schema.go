package journal

const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	created DATETIME NOT NULL,
	strategy TEXT NOT NULL,
	symbol TEXT NOT NULL,
	start_time DATETIME,
	end_time DATETIME,
	start_balance REAL NOT NULL,
	end_balance REAL NOT NULL,
	trades INTEGER NOT NULL,
	wins INTEGER NOT NULL,
	losses INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS equity (
	run_id TEXT NOT NULL,
	time DATETIME NOT NULL,
	balance REAL NOT NULL,
	equity REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	run_id TEXT NOT NULL,
	id INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	units INTEGER NOT NULL,
	open_price REAL NOT NULL,
	close_price REAL NOT NULL,
	commission REAL NOT NULL,
	pnl REAL NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	run_id TEXT NOT NULL,
	time DATETIME NOT NULL,
	symbol TEXT NOT NULL,
	kind TEXT NOT NULL,
	units INTEGER NOT NULL,
	side TEXT NOT NULL,
	status TEXT NOT NULL,
	order_id INTEGER NOT NULL,
	position_id INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_run ON equity(run_id, time);
CREATE INDEX IF NOT EXISTS idx_positions_run ON positions(run_id);
CREATE INDEX IF NOT EXISTS idx_orders_run ON orders(run_id);
`
