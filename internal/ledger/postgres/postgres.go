// Package postgres implements ledger.Store on PostgreSQL through sqlx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/fihsr/giftescrow/core/logger"
	"github.com/fihsr/giftescrow/internal/ledger"
)

// Store persists ledger records in the users, deals and pending_actions tables.
type Store struct {
	db *sqlx.DB
}

var _ ledger.Store = (*Store)(nil)

// New wraps an open connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type userRow struct {
	ID          int64          `db:"user_id"`
	DisplayName string         `db:"display_name"`
	CardNumber  sql.NullString `db:"card_number"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r userRow) toDomain() ledger.User {
	return ledger.User{
		ID:          r.ID,
		DisplayName: r.DisplayName,
		CardNumber:  r.CardNumber.String,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type dealRow struct {
	ID            string              `db:"deal_id"`
	SellerID      int64               `db:"seller_id"`
	SellerName    string              `db:"seller_name"`
	BuyerID       sql.NullInt64       `db:"buyer_id"`
	BuyerName     sql.NullString      `db:"buyer_name"`
	GiftLink      sql.NullString      `db:"gift_link"`
	Price         decimal.NullDecimal `db:"price"`
	Status        string              `db:"status"`
	DeliveryCount int                 `db:"delivery_count"`
	CreatedAt     time.Time           `db:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at"`
}

func (r dealRow) toDomain() ledger.Deal {
	return ledger.Deal{
		ID:            r.ID,
		SellerID:      r.SellerID,
		SellerName:    r.SellerName,
		BuyerID:       r.BuyerID.Int64,
		BuyerName:     r.BuyerName.String,
		GiftLink:      r.GiftLink.String,
		Price:         r.Price,
		Status:        ledger.Status(r.Status),
		DeliveryCount: r.DeliveryCount,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func fromDeal(d ledger.Deal) dealRow {
	return dealRow{
		ID:            d.ID,
		SellerID:      d.SellerID,
		SellerName:    d.SellerName,
		BuyerID:       sql.NullInt64{Int64: d.BuyerID, Valid: d.BuyerID != 0},
		BuyerName:     sql.NullString{String: d.BuyerName, Valid: d.BuyerID != 0},
		GiftLink:      sql.NullString{String: d.GiftLink, Valid: d.GiftLink != ""},
		Price:         d.Price,
		Status:        string(d.Status),
		DeliveryCount: d.DeliveryCount,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

type pendingRow struct {
	UserID       int64               `db:"user_id"`
	AwaitingCard bool                `db:"awaiting_card"`
	PayoutDealID sql.NullString      `db:"payout_deal_id"`
	PayoutAmount decimal.NullDecimal `db:"payout_amount"`
	FocusDealID  sql.NullString      `db:"focus_deal_id"`
	UpdatedAt    time.Time           `db:"updated_at"`
}

func (r pendingRow) toDomain() ledger.PendingAction {
	p := ledger.PendingAction{
		UserID:       r.UserID,
		AwaitingCard: r.AwaitingCard,
		FocusDealID:  r.FocusDealID.String,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.PayoutDealID.Valid {
		p.Payout = &ledger.PayoutContext{DealID: r.PayoutDealID.String, Amount: r.PayoutAmount.Decimal}
	}
	return p
}

const dealColumns = `deal_id, seller_id, seller_name, buyer_id, buyer_name, gift_link, price,
	status, delivery_count, created_at, updated_at`

func (s *Store) UpsertUser(ctx context.Context, id int64, displayName string) (ledger.User, error) {
	const q = `
		INSERT INTO users (user_id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET display_name = EXCLUDED.display_name, updated_at = now()
		RETURNING user_id, display_name, card_number, created_at, updated_at`
	var row userRow
	if err := s.db.GetContext(ctx, &row, q, id, displayName); err != nil {
		return ledger.User{}, s.fail(ctx, "user.upsert", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (ledger.User, error) {
	const q = `SELECT user_id, display_name, card_number, created_at, updated_at FROM users WHERE user_id = $1`
	var row userRow
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.User{}, ledger.ErrNotFound
		}
		return ledger.User{}, s.fail(ctx, "user.get", err)
	}
	return row.toDomain(), nil
}

func (s *Store) InsertDeal(ctx context.Context, d ledger.Deal) error {
	const q = `
		INSERT INTO deals (deal_id, seller_id, seller_name, buyer_id, buyer_name, gift_link, price, status,
			delivery_count, created_at, updated_at)
		VALUES (:deal_id, :seller_id, :seller_name, :buyer_id, :buyer_name, :gift_link, :price, :status,
			:delivery_count, :created_at, :created_at)
		ON CONFLICT (deal_id) DO NOTHING`
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	res, err := s.db.NamedExecContext(ctx, q, fromDeal(d))
	if err != nil {
		return s.fail(ctx, "deal.insert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.fail(ctx, "deal.insert", err)
	}
	if n == 0 {
		return ledger.ErrConflict
	}
	return nil
}

func (s *Store) GetDeal(ctx context.Context, id string) (ledger.Deal, error) {
	q := `SELECT ` + dealColumns + ` FROM deals WHERE deal_id = $1`
	var row dealRow
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Deal{}, ledger.ErrNotFound
		}
		return ledger.Deal{}, s.fail(ctx, "deal.get", err)
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateDeal(ctx context.Context, id string, fn func(*ledger.Deal) error) (ledger.Deal, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ledger.Deal{}, s.fail(ctx, "deal.update.begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var row dealRow
	q := `SELECT ` + dealColumns + ` FROM deals WHERE deal_id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Deal{}, ledger.ErrNotFound
		}
		return ledger.Deal{}, s.fail(ctx, "deal.update.lock", err)
	}

	current := row.toDomain()
	next := current
	if err := fn(&next); err != nil {
		return current, err
	}
	next.ID = current.ID

	const upd = `
		UPDATE deals SET
			buyer_id = :buyer_id,
			buyer_name = :buyer_name,
			gift_link = :gift_link,
			price = :price,
			status = :status,
			delivery_count = :delivery_count,
			updated_at = now()
		WHERE deal_id = :deal_id`
	if _, err := tx.NamedExecContext(ctx, upd, fromDeal(next)); err != nil {
		return current, s.fail(ctx, "deal.update", err)
	}
	if err := tx.Commit(); err != nil {
		return current, s.fail(ctx, "deal.update.commit", err)
	}
	next.UpdatedAt = time.Now()
	return next, nil
}

func (s *Store) FindDeals(ctx context.Context, filter ledger.DealFilter) ([]ledger.Deal, error) {
	var (
		where []string
		args  []any
	)
	if filter.SellerID != 0 {
		args = append(args, filter.SellerID)
		where = append(where, fmt.Sprintf("seller_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	q := `SELECT ` + dealColumns + ` FROM deals`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, deal_id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []dealRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, s.fail(ctx, "deal.find", err)
	}
	out := make([]ledger.Deal, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context) (ledger.Stats, error) {
	const q = `SELECT COUNT(*) AS total_deals, COALESCE(SUM(delivery_count), 0) AS total_deliveries FROM deals`
	var row struct {
		TotalDeals      int `db:"total_deals"`
		TotalDeliveries int `db:"total_deliveries"`
	}
	if err := s.db.GetContext(ctx, &row, q); err != nil {
		return ledger.Stats{}, s.fail(ctx, "deal.stats", err)
	}
	return ledger.Stats{TotalDeals: row.TotalDeals, TotalDeliveries: row.TotalDeliveries}, nil
}

func (s *Store) GetPendingAction(ctx context.Context, userID int64) (ledger.PendingAction, error) {
	const q = `
		SELECT user_id, awaiting_card, payout_deal_id, payout_amount, focus_deal_id, updated_at
		FROM pending_actions WHERE user_id = $1`
	var row pendingRow
	if err := s.db.GetContext(ctx, &row, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.PendingAction{}, ledger.ErrNotFound
		}
		return ledger.PendingAction{}, s.fail(ctx, "pending.get", err)
	}
	return row.toDomain(), nil
}

func (s *Store) PutPendingAction(ctx context.Context, p ledger.PendingAction) error {
	if p.Empty() {
		return s.DeletePendingAction(ctx, p.UserID)
	}
	row := pendingRow{
		UserID:       p.UserID,
		AwaitingCard: p.AwaitingCard,
		FocusDealID:  sql.NullString{String: p.FocusDealID, Valid: p.FocusDealID != ""},
	}
	if p.Payout != nil {
		row.PayoutDealID = sql.NullString{String: p.Payout.DealID, Valid: true}
		row.PayoutAmount = decimal.NullDecimal{Decimal: p.Payout.Amount, Valid: true}
	}
	const q = `
		INSERT INTO pending_actions (user_id, awaiting_card, payout_deal_id, payout_amount, focus_deal_id)
		VALUES (:user_id, :awaiting_card, :payout_deal_id, :payout_amount, :focus_deal_id)
		ON CONFLICT (user_id) DO UPDATE SET
			awaiting_card = EXCLUDED.awaiting_card,
			payout_deal_id = EXCLUDED.payout_deal_id,
			payout_amount = EXCLUDED.payout_amount,
			focus_deal_id = EXCLUDED.focus_deal_id,
			updated_at = now()`
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return s.fail(ctx, "pending.put", err)
	}
	return nil
}

func (s *Store) DeletePendingAction(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE user_id = $1`, userID); err != nil {
		return s.fail(ctx, "pending.delete", err)
	}
	return nil
}

func (s *Store) SaveCard(ctx context.Context, userID int64, digits string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.fail(ctx, "card.save.begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsert = `
		INSERT INTO users (user_id, card_number) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET card_number = EXCLUDED.card_number, updated_at = now()`
	if _, err := tx.ExecContext(ctx, upsert, userID, digits); err != nil {
		return s.fail(ctx, "card.save", err)
	}
	const clear = `
		UPDATE pending_actions
		SET awaiting_card = FALSE, payout_deal_id = NULL, payout_amount = NULL, updated_at = now()
		WHERE user_id = $1`
	if _, err := tx.ExecContext(ctx, clear, userID); err != nil {
		return s.fail(ctx, "card.save.clear", err)
	}
	const prune = `DELETE FROM pending_actions WHERE user_id = $1 AND focus_deal_id IS NULL`
	if _, err := tx.ExecContext(ctx, prune, userID); err != nil {
		return s.fail(ctx, "card.save.prune", err)
	}
	if err := tx.Commit(); err != nil {
		return s.fail(ctx, "card.save.commit", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) fail(ctx context.Context, op string, err error) error {
	logger.Error(ctx, logger.ComponentDB, "db.query",
		slog.String("status", "fail"),
		slog.String("op", op),
		slog.String("err", err.Error()),
	)
	return fmt.Errorf("postgres %s: %w", op, err)
}
