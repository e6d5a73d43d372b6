package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"reseller-order-engine/models"
)

const orderColumns = `id, tenant_id, package_id, user_id, quantity, sell_price, payload,
status, external_status, mode, provider_id, external_order_id, provider_ref,
chain_path, fallback_attempted, cost_price_usd, original_amount, cost_currency,
fx_rate, cost_source, pin_code, provider_message, last_message, notes_count,
created_at, sent_at, last_sync_at, completed_at, duration_ms`

// CreateOrder inserts a new pending order row.
func (s *Store) CreateOrder(ctx context.Context, order models.Order) error {
	if order.ID == "" {
		return fmt.Errorf("order id is required")
	}
	if order.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}
	if order.ExternalStatus == "" {
		order.ExternalStatus = models.ExternalStatusNotSent
	}
	if order.Mode == "" {
		order.Mode = models.ModeManual
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	chain, err := json.Marshal(chainOrEmpty(order.ChainPath))
	if err != nil {
		return fmt.Errorf("marshal chain path: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO orders (`+orderColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.TenantID, order.PackageID, order.UserID, order.Quantity,
		order.SellPrice.String(), order.Payload,
		string(order.Status), string(order.ExternalStatus), string(order.Mode),
		order.ProviderID, order.ExternalOrderID, order.ProviderRef,
		string(chain), boolToInt(order.FallbackAttempted),
		order.CostPriceUSD.String(), order.OriginalAmount.String(), order.CostCurrency,
		order.FXRate.String(), order.CostSource,
		order.PinCode, order.ProviderMessage, order.LastMessage, order.NotesCount,
		toMillis(order.CreatedAt), toMillisPtr(order.SentAt), toMillisPtr(order.LastSyncAt),
		toMillisPtr(order.CompletedAt), order.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder loads one order by id.
func (s *Store) GetOrder(ctx context.Context, id string) (models.Order, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

// GetOrderTx loads one order inside an open transaction.
func (s *Store) GetOrderTx(tx *sql.Tx, id string) (models.Order, error) {
	row := tx.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

// Submission carries the fields the dispatch coordinator owns. The
// coordinator never writes status; see the ledger for terminal writes.
type Submission struct {
	Mode            models.DispatchMode
	ProviderID      *string
	ExternalOrderID string
	ProviderRef     string
	ExternalStatus  models.ExternalStatus
	ProviderMessage string
	SentAt          *time.Time

	CostPriceUSD   decimal.Decimal
	OriginalAmount decimal.Decimal
	CostCurrency   string
	FXRate         decimal.Decimal
	CostSource     string
}

// RecordSubmission persists the result of a dispatch attempt.
// external_order_id set implies sent_at set.
func (s *Store) RecordSubmission(ctx context.Context, orderID string, sub Submission) error {
	if sub.ExternalOrderID != "" && sub.SentAt == nil {
		now := time.Now().UTC()
		sub.SentAt = &now
	}
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE orders SET mode = ?, provider_id = ?, external_order_id = ?, provider_ref = ?,
external_status = ?, provider_message = ?, sent_at = COALESCE(?, sent_at),
cost_price_usd = ?, original_amount = ?, cost_currency = ?, fx_rate = ?, cost_source = ?
WHERE id = ?`,
		string(sub.Mode), sub.ProviderID, sub.ExternalOrderID, sub.ProviderRef,
		string(sub.ExternalStatus), sub.ProviderMessage, toMillisPtr(sub.SentAt),
		sub.CostPriceUSD.String(), sub.OriginalAmount.String(), sub.CostCurrency,
		sub.FXRate.String(), sub.CostSource,
		orderID,
	)
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return requireRow(res)
}

// Observation carries the fields the status poller owns.
type Observation struct {
	ExternalStatus  models.ExternalStatus
	PinCode         string
	ProviderMessage string
	LastMessage     string
	LastSyncAt      time.Time
}

// RecordObservation persists a non-terminal poll refresh.
func (s *Store) RecordObservation(ctx context.Context, orderID string, obs Observation) error {
	if obs.LastSyncAt.IsZero() {
		obs.LastSyncAt = time.Now().UTC()
	}
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE orders SET external_status = ?, pin_code = ?, provider_message = ?,
last_message = ?, last_sync_at = ?
WHERE id = ?`,
		string(obs.ExternalStatus), obs.PinCode, obs.ProviderMessage,
		obs.LastMessage, toMillis(obs.LastSyncAt), orderID,
	)
	if err != nil {
		return fmt.Errorf("record observation: %w", err)
	}
	return requireRow(res)
}

// ForceExternalStatus writes external_status directly, bypassing the
// ledger. Used for the 24h dispatch timeout and for the poller's
// degraded path when a ledger transition fails.
func (s *Store) ForceExternalStatus(ctx context.Context, orderID string, status models.ExternalStatus, message string) error {
	now := time.Now().UTC()
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE orders SET external_status = ?, last_message = ?, last_sync_at = ?, completed_at = COALESCE(completed_at, ?)
WHERE id = ?`,
		string(status), message, toMillis(now), toMillis(now), orderID,
	)
	if err != nil {
		return fmt.Errorf("force external status: %w", err)
	}
	return requireRow(res)
}

// MarkFallbackAttempted durably records that the fallback provider has
// been tried for this order. The check-and-set is a single UPDATE, so
// concurrent callers cannot both win. Returns the previous value.
func (s *Store) MarkFallbackAttempted(ctx context.Context, orderID string) (already bool, err error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE orders SET fallback_attempted = 1 WHERE id = ? AND fallback_attempted = 0`, orderID)
	if err != nil {
		return false, fmt.Errorf("mark fallback attempted: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark fallback attempted: %w", err)
	}
	if affected == 1 {
		return false, nil
	}
	var current int
	err = s.sqlDB.QueryRowContext(ctx, `SELECT fallback_attempted FROM orders WHERE id = ?`, orderID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, models.ErrOrderNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read fallback flag: %w", err)
	}
	return true, nil
}

// AppendChainPath appends an ancestor order id, enforcing acyclicity:
// an id already present (or equal to the order itself) is rejected.
func (s *Store) AppendChainPath(ctx context.Context, orderID, ancestorID string) error {
	if ancestorID == orderID {
		return models.ErrChainCycle
	}
	return s.InTx(ctx, func(tx *sql.Tx) error {
		order, err := s.GetOrderTx(tx, orderID)
		if err != nil {
			return err
		}
		for _, id := range order.ChainPath {
			if id == ancestorID {
				return models.ErrChainCycle
			}
		}
		chain, err := json.Marshal(append(order.ChainPath, ancestorID))
		if err != nil {
			return fmt.Errorf("marshal chain path: %w", err)
		}
		if _, err := tx.Exec(`UPDATE orders SET chain_path = ? WHERE id = ?`, string(chain), orderID); err != nil {
			return fmt.Errorf("append chain path: %w", err)
		}
		return nil
	})
}

// AppendNote adds an order note and bumps notes_count.
func (s *Store) AppendNote(ctx context.Context, orderID string, note models.Note) error {
	if note.At.IsZero() {
		note.At = time.Now().UTC()
	}
	return s.InTx(ctx, func(tx *sql.Tx) error {
		return appendNoteTx(tx, orderID, note)
	})
}

// AppendNoteTx adds an order note inside an open transaction.
func (s *Store) AppendNoteTx(tx *sql.Tx, orderID string, note models.Note) error {
	if note.At.IsZero() {
		note.At = time.Now().UTC()
	}
	return appendNoteTx(tx, orderID, note)
}

func appendNoteTx(tx *sql.Tx, orderID string, note models.Note) error {
	if _, err := tx.Exec(
		`INSERT INTO order_notes (order_id, noted_by, body, noted_at) VALUES (?, ?, ?, ?)`,
		orderID, note.By, note.Text, toMillis(note.At),
	); err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	if _, err := tx.Exec(`UPDATE orders SET notes_count = notes_count + 1 WHERE id = ?`, orderID); err != nil {
		return fmt.Errorf("bump notes count: %w", err)
	}
	return nil
}

// Notes lists an order's notes oldest first.
func (s *Store) Notes(ctx context.Context, orderID string) ([]models.Note, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT noted_by, body, noted_at FROM order_notes WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var notes []models.Note
	for rows.Next() {
		var note models.Note
		var at int64
		if err := rows.Scan(&note.By, &note.Text, &at); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		note.At = fromMillis(at)
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

// ApplyTransitionTx writes the terminal fields the ledger owns inside
// its transaction.
func (s *Store) ApplyTransitionTx(tx *sql.Tx, order models.Order) error {
	chain, err := json.Marshal(chainOrEmpty(order.ChainPath))
	if err != nil {
		return fmt.Errorf("marshal chain path: %w", err)
	}
	res, err := tx.Exec(`
UPDATE orders SET status = ?, external_status = ?, chain_path = ?,
completed_at = ?, last_sync_at = ?, duration_ms = ?
WHERE id = ?`,
		string(order.Status), string(order.ExternalStatus), string(chain),
		toMillisPtr(order.CompletedAt), toMillisPtr(order.LastSyncAt), order.DurationMS,
		order.ID,
	)
	if err != nil {
		return fmt.Errorf("apply transition: %w", err)
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (models.Order, error) {
	var (
		order                                  models.Order
		sellPrice, costUSD, origAmount, fxRate string
		status, externalStatus, mode, chain    string
		providerID                             sql.NullString
		fallback                               int
		createdAt                              int64
		sentAt, lastSyncAt, completedAt        sql.NullInt64
		durationMS                             sql.NullInt64
	)
	err := row.Scan(
		&order.ID, &order.TenantID, &order.PackageID, &order.UserID, &order.Quantity,
		&sellPrice, &order.Payload, &status, &externalStatus, &mode,
		&providerID, &order.ExternalOrderID, &order.ProviderRef,
		&chain, &fallback, &costUSD, &origAmount, &order.CostCurrency,
		&fxRate, &order.CostSource, &order.PinCode, &order.ProviderMessage,
		&order.LastMessage, &order.NotesCount,
		&createdAt, &sentAt, &lastSyncAt, &completedAt, &durationMS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, models.ErrOrderNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("scan order: %w", err)
	}
	order.Status = models.OrderStatus(status)
	order.ExternalStatus = models.ExternalStatus(externalStatus)
	order.Mode = models.DispatchMode(mode)
	if providerID.Valid {
		order.ProviderID = &providerID.String
	}
	order.FallbackAttempted = fallback != 0
	if err := json.Unmarshal([]byte(chain), &order.ChainPath); err != nil {
		return models.Order{}, fmt.Errorf("decode chain path: %w", err)
	}
	if order.SellPrice, err = decimal.NewFromString(sellPrice); err != nil {
		return models.Order{}, fmt.Errorf("decode sell price: %w", err)
	}
	if order.CostPriceUSD, err = decimal.NewFromString(costUSD); err != nil {
		return models.Order{}, fmt.Errorf("decode cost price: %w", err)
	}
	if order.OriginalAmount, err = decimal.NewFromString(origAmount); err != nil {
		return models.Order{}, fmt.Errorf("decode original amount: %w", err)
	}
	if order.FXRate, err = decimal.NewFromString(fxRate); err != nil {
		return models.Order{}, fmt.Errorf("decode fx rate: %w", err)
	}
	order.CreatedAt = fromMillis(createdAt)
	order.SentAt = fromMillisPtr(sentAt)
	order.LastSyncAt = fromMillisPtr(lastSyncAt)
	order.CompletedAt = fromMillisPtr(completedAt)
	if durationMS.Valid {
		order.DurationMS = &durationMS.Int64
	}
	return order, nil
}

func chainOrEmpty(chain []string) []string {
	if chain == nil {
		return []string{}
	}
	return chain
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrOrderNotFound
	}
	return nil
}
