package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/meleki1/salesagent/internal/domain"
	"github.com/meleki1/salesagent/internal/shared"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

const (
	busyRetries   = 3
	busyBaseDelay = 100 * time.Millisecond
)

var _ Repository = (*SQLiteStore)(nil)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // serializes session snapshot writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL for concurrent readers; immediate transactions so read-then-write
	// sequences inside WithTx take the write lock up front.
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		name TEXT,
		email TEXT NOT NULL,
		phone TEXT,
		address TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_customers_session ON customers(session_id);

	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL REFERENCES customers(id),
		amount INTEGER NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'paid')),
		created_at INTEGER NOT NULL,
		paid_at INTEGER,
		confirmed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_orders_unconfirmed ON orders(id) WHERE status = 'paid' AND confirmed_at IS NULL;

	CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER REFERENCES orders(id),
		reference TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		amount INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		info_json TEXT NOT NULL DEFAULT '{}',
		payment_url TEXT,
		payment_reference TEXT,
		order_id INTEGER,
		locked_at INTEGER,
		channel TEXT,
		messages_json TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_locked ON sessions(locked_at) WHERE locked_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS webhook_events (
		id TEXT PRIMARY KEY,
		event TEXT NOT NULL,
		reference TEXT,
		outcome TEXT NOT NULL,
		received_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return s.ensureColumn("orders", "confirmed_at", "INTEGER")
}

// ensureColumn adds a column that databases created before it existed lack.
func (s *SQLiteStore) ensureColumn(table, column, decl string) error {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("inspect %s: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	if _, err := s.db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl)); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves a session snapshot.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	query := `
		SELECT session_id, state, info_json, payment_url, payment_reference, order_id,
		       locked_at, channel, messages_json, created_at, updated_at
		FROM sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var rec domain.SessionRecord
	var state string
	var paymentURL, paymentRef, channel sql.NullString
	var orderID, lockedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&rec.SessionID, &state, &rec.InfoJSON, &paymentURL, &paymentRef, &orderID,
		&lockedAt, &channel, &rec.MessagesJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	rec.State = domain.State(state)
	rec.PaymentURL = paymentURL.String
	rec.PaymentReference = paymentRef.String
	rec.OrderID = orderID.Int64
	rec.Channel = channel.String
	if lockedAt.Valid {
		ts := time.Unix(lockedAt.Int64, 0)
		rec.LockedAt = &ts
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)

	return &rec, nil
}

// UpsertSession creates or updates a session snapshot.
func (s *SQLiteStore) UpsertSession(ctx context.Context, rec *domain.SessionRecord) error {
	query := `
		INSERT INTO sessions (
			session_id, state, info_json, payment_url, payment_reference, order_id,
			locked_at, channel, messages_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			state = excluded.state,
			info_json = excluded.info_json,
			payment_url = excluded.payment_url,
			payment_reference = excluded.payment_reference,
			order_id = excluded.order_id,
			locked_at = excluded.locked_at,
			channel = COALESCE(excluded.channel, sessions.channel),
			messages_json = excluded.messages_json,
			updated_at = excluded.updated_at`

	var lockedAt interface{}
	if rec.LockedAt != nil {
		lockedAt = rec.LockedAt.Unix()
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return shared.RetryOnConflict(ctx, "upsert_session", busyRetries, busyBaseDelay, func() error {
		s.sessionMu.Lock()
		defer s.sessionMu.Unlock()

		_, err := s.db.ExecContext(ctx, query,
			rec.SessionID, string(rec.State), rec.InfoJSON,
			nullIfEmpty(rec.PaymentURL), nullIfEmpty(rec.PaymentReference), nullIfZero(rec.OrderID),
			lockedAt, nullIfEmpty(rec.Channel), rec.MessagesJSON,
			createdAt.Unix(), time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		return nil
	})
}

// StaleLockedSessions lists sessions locked before the threshold without a payment URL.
func (s *SQLiteStore) StaleLockedSessions(ctx context.Context, before time.Time) ([]string, error) {
	query := `
		SELECT session_id FROM sessions
		WHERE locked_at IS NOT NULL AND locked_at < ?
		  AND COALESCE(payment_url, '') = ''`

	rows, err := s.db.QueryContext(ctx, query, before.Unix())
	if err != nil {
		return nil, fmt.Errorf("query stale locks: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close stale lock rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale lock row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale locks: %w", err)
	}
	return ids, nil
}

// WithTx runs fn inside a single transaction. The transaction is rolled back if fn fails.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&sqliteTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back transaction", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) CreateCustomer(ctx context.Context, c *domain.Customer) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO customers (session_id, name, email, phone, address, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.SessionID, nullIfEmpty(c.Name), c.Email, nullIfEmpty(c.Phone), nullIfEmpty(c.Address), time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert customer: %w", err)
	}
	return res.LastInsertId()
}

func (t *sqliteTx) CreateOrder(ctx context.Context, o *domain.Order) (int64, error) {
	status := o.Status
	if status == "" {
		status = domain.OrderPending
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (customer_id, amount, status, created_at)
		VALUES (?, ?, ?, ?)`,
		o.CustomerID, o.Amount, string(status), time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}
	return res.LastInsertId()
}

func (t *sqliteTx) CreatePayment(ctx context.Context, p *domain.Payment) (int64, error) {
	now := time.Now().Unix()
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO payments (order_id, reference, status, amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		nullIfZero(p.OrderID), p.Reference, string(p.Status), p.Amount, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert payment: %w", err)
	}
	return res.LastInsertId()
}

// ApplyChargeSuccess records a successful charge exactly once per reference.
func (s *SQLiteStore) ApplyChargeSuccess(ctx context.Context, charge ChargeSuccess) (ChargeOutcome, error) {
	var out ChargeOutcome
	err := shared.RetryOnConflict(ctx, "apply_charge", busyRetries, busyBaseDelay, func() error {
		out = ChargeOutcome{}
		return s.WithTx(ctx, func(t Tx) error {
			var err error
			out, err = t.(*sqliteTx).applyChargeSuccess(ctx, charge)
			return err
		})
	})
	return out, err
}

func (t *sqliteTx) applyChargeSuccess(ctx context.Context, charge ChargeSuccess) (ChargeOutcome, error) {
	var out ChargeOutcome
	now := charge.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}

	var paymentID int64
	var existingOrder sql.NullInt64
	var status string
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, order_id, status FROM payments WHERE reference = ?`, charge.Reference,
	).Scan(&paymentID, &existingOrder, &status)
	found := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return out, fmt.Errorf("lookup payment: %w", err)
	}

	// Metadata order id is the fast path; the payment row's order is the fallback.
	if charge.OrderID > 0 {
		if ok, err := t.orderExists(ctx, charge.OrderID); err != nil {
			return out, err
		} else if ok {
			out.OrderID = charge.OrderID
		}
	}
	if out.OrderID == 0 && existingOrder.Valid {
		out.OrderID = existingOrder.Int64
	}

	if found && domain.PaymentStatus(status) == domain.PaymentSuccess {
		out.Duplicate = true
		return t.resolve(ctx, out)
	}

	if found {
		_, err = t.tx.ExecContext(ctx, `
			UPDATE payments SET status = ?, amount = ?, order_id = COALESCE(order_id, ?), updated_at = ?
			WHERE id = ?`,
			string(domain.PaymentSuccess), charge.Amount, nullIfZero(out.OrderID), now.Unix(), paymentID,
		)
	} else {
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO payments (order_id, reference, status, amount, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			nullIfZero(out.OrderID), charge.Reference, string(domain.PaymentSuccess), charge.Amount, now.Unix(), now.Unix(),
		)
	}
	if err != nil {
		return out, fmt.Errorf("record payment: %w", err)
	}

	if out.OrderID > 0 {
		res, err := t.tx.ExecContext(ctx,
			`UPDATE orders SET status = ?, paid_at = ? WHERE id = ? AND status <> ?`,
			string(domain.OrderPaid), now.Unix(), out.OrderID, string(domain.OrderPaid),
		)
		if err != nil {
			return out, fmt.Errorf("mark order paid: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return out, fmt.Errorf("mark order paid rows affected: %w", err)
		}
		out.OrderMarkedPaid = n == 1
	}

	return t.resolve(ctx, out)
}

// resolve fills in the session and whether the paid order still owes its
// customer a confirmation.
func (t *sqliteTx) resolve(ctx context.Context, out ChargeOutcome) (ChargeOutcome, error) {
	if out.OrderID == 0 {
		return out, nil
	}
	var sessionID sql.NullString
	var status string
	var confirmedAt sql.NullInt64
	err := t.tx.QueryRowContext(ctx, `
		SELECT c.session_id, o.status, o.confirmed_at FROM orders o
		LEFT JOIN customers c ON c.id = o.customer_id
		WHERE o.id = ?`, out.OrderID,
	).Scan(&sessionID, &status, &confirmedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("resolve session: %w", err)
	}
	out.SessionID = sessionID.String
	out.ConfirmationPending = domain.OrderStatus(status) == domain.OrderPaid && !confirmedAt.Valid
	return out, nil
}

func (t *sqliteTx) orderExists(ctx context.Context, orderID int64) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = ?`, orderID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup order: %w", err)
	}
	return true, nil
}

// GetPaymentByReference retrieves a payment by gateway reference.
func (s *SQLiteStore) GetPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, reference, amount, status, created_at, updated_at
		FROM payments WHERE reference = ?`, reference)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return p, nil
}

// GetOrder retrieves an order by ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	var o domain.Order
	var status string
	var createdAt int64
	var paidAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, amount, status, created_at, paid_at
		FROM orders WHERE id = ?`, orderID,
	).Scan(&o.ID, &o.CustomerID, &o.Amount, &status, &createdAt, &paidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = time.Unix(createdAt, 0)
	if paidAt.Valid {
		ts := time.Unix(paidAt.Int64, 0)
		o.PaidAt = &ts
	}
	return &o, nil
}

// RecordWebhookEvent appends an audit row. An empty ID gets a fresh ULID.
func (s *SQLiteStore) RecordWebhookEvent(ctx context.Context, ev WebhookEvent) error {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, event, reference, outcome, received_at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.Event, nullIfEmpty(ev.Reference), ev.Outcome, ev.ReceivedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// ClaimConfirmation marks a paid order's confirmation as delivered. Only one
// caller per order gets true.
func (s *SQLiteStore) ClaimConfirmation(ctx context.Context, orderID int64, at time.Time) (bool, error) {
	var claimed bool
	err := shared.RetryOnConflict(ctx, "claim_confirmation", busyRetries, busyBaseDelay, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE orders SET confirmed_at = ? WHERE id = ? AND status = ? AND confirmed_at IS NULL`,
			at.Unix(), orderID, string(domain.OrderPaid),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		claimed = n == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("claim confirmation for order %d: %w", orderID, err)
	}
	return claimed, nil
}

// ReleaseConfirmation undoes a claim whose session update did not stick.
func (s *SQLiteStore) ReleaseConfirmation(ctx context.Context, orderID int64) error {
	err := shared.RetryOnConflict(ctx, "release_confirmation", busyRetries, busyBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE orders SET confirmed_at = NULL WHERE id = ?`, orderID)
		return err
	})
	if err != nil {
		return fmt.Errorf("release confirmation for order %d: %w", orderID, err)
	}
	return nil
}

// PendingConfirmations lists paid orders whose session has not been sent a
// confirmation yet, oldest first.
func (s *SQLiteStore) PendingConfirmations(ctx context.Context) ([]PendingConfirmation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, c.session_id, COALESCE(p.reference, '')
		FROM orders o
		JOIN customers c ON c.id = o.customer_id
		LEFT JOIN payments p ON p.order_id = o.id AND p.status = ?
		WHERE o.status = ? AND o.confirmed_at IS NULL AND c.session_id <> ''
		GROUP BY o.id
		ORDER BY o.paid_at`, string(domain.PaymentSuccess), string(domain.OrderPaid))
	if err != nil {
		return nil, fmt.Errorf("query pending confirmations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close pending confirmation rows", "error", closeErr)
		}
	}()

	var pending []PendingConfirmation
	for rows.Next() {
		var pc PendingConfirmation
		if err := rows.Scan(&pc.OrderID, &pc.SessionID, &pc.Reference); err != nil {
			return nil, fmt.Errorf("scan pending confirmation: %w", err)
		}
		pending = append(pending, pc)
	}
	return pending, rows.Err()
}

// UnresolvedPayments lists successful payments with no traceable session.
func (s *SQLiteStore) UnresolvedPayments(ctx context.Context) ([]*domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.order_id, p.reference, p.amount, p.status, p.created_at, p.updated_at
		FROM payments p
		LEFT JOIN orders o ON o.id = p.order_id
		LEFT JOIN customers c ON c.id = o.customer_id
		WHERE p.status = ? AND COALESCE(c.session_id, '') = ''
		ORDER BY p.created_at`, string(domain.PaymentSuccess))
	if err != nil {
		return nil, fmt.Errorf("query unresolved payments: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close unresolved payment rows", "error", closeErr)
		}
	}()

	var payments []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unresolved payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unresolved payments: %w", err)
	}
	return payments, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	var orderID sql.NullInt64
	var status string
	var createdAt, updatedAt int64
	if err := row.Scan(&p.ID, &orderID, &p.Reference, &p.Amount, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.OrderID = orderID.Int64
	p.Status = domain.PaymentStatus(status)
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int64) interface{} {
	if n == 0 {
		return nil
	}
	return n
}
