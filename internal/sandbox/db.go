package sandbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// openDB opens (or creates) the sandbox database and applies the schema.
func openDB(dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite allows a single writer, and an in-memory
	// database lives only as long as its connection.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		benchmark TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		benchmark TEXT NOT NULL,
		idx INTEGER NOT NULL,
		text TEXT NOT NULL,
		session_id TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		page_limit INTEGER NOT NULL,
		user_id TEXT,
		rules TEXT,
		score REAL,
		logs TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS products (
		task_id TEXT NOT NULL,
		sku TEXT NOT NULL,
		name TEXT NOT NULL,
		price REAL NOT NULL,
		available INTEGER NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (task_id, sku)
	);

	CREATE TABLE IF NOT EXISTS coupons (
		task_id TEXT NOT NULL,
		code TEXT NOT NULL,
		percent REAL NOT NULL,
		min_subtotal REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (task_id, code)
	);

	CREATE TABLE IF NOT EXISTS basket_items (
		task_id TEXT NOT NULL,
		sku TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		added INTEGER NOT NULL,
		PRIMARY KEY (task_id, sku)
	);

	CREATE TABLE IF NOT EXISTS basket_coupons (
		task_id TEXT PRIMARY KEY,
		code TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS employees (
		task_id TEXT NOT NULL,
		id TEXT NOT NULL,
		payload TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (task_id, id)
	);

	CREATE TABLE IF NOT EXISTS projects (
		task_id TEXT NOT NULL,
		id TEXT NOT NULL,
		payload TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (task_id, id)
	);

	CREATE TABLE IF NOT EXISTS responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		message TEXT NOT NULL,
		links TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS llm_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		model TEXT,
		duration_ms INTEGER,
		input_tokens INTEGER,
		output_tokens INTEGER,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id);
	CREATE INDEX IF NOT EXISTS idx_orders_task ON orders(task_id);
	CREATE INDEX IF NOT EXISTS idx_responses_task ON responses(task_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrating sandbox schema: %w", err)
	}
	return nil
}

// seed copies the task fixture into the database.
func seed(ctx context.Context, tx *sql.Tx, taskID string, f Fixture) error {
	for i, p := range f.Products {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO products (task_id, sku, name, price, available, position) VALUES (?, ?, ?, ?, ?, ?)`,
			taskID, p.SKU, p.Name, p.Price, p.Available, i,
		); err != nil {
			return fmt.Errorf("seeding product %s: %w", p.SKU, err)
		}
	}
	for _, c := range f.Coupons {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO coupons (task_id, code, percent, min_subtotal) VALUES (?, ?, ?, ?)`,
			taskID, c.Code, c.Percent, c.MinSubtotal,
		); err != nil {
			return fmt.Errorf("seeding coupon %s: %w", c.Code, err)
		}
	}
	for i, e := range f.Employees {
		payload, _ := json.Marshal(e)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO employees (task_id, id, payload, position) VALUES (?, ?, ?, ?)`,
			taskID, e.ID, string(payload), i,
		); err != nil {
			return fmt.Errorf("seeding employee %s: %w", e.ID, err)
		}
	}
	for i, p := range f.Projects {
		payload, _ := json.Marshal(p)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO projects (task_id, id, payload, position) VALUES (?, ?, ?, ?)`,
			taskID, p.ID, string(payload), i,
		); err != nil {
			return fmt.Errorf("seeding project %s: %w", p.ID, err)
		}
	}
	return nil
}
