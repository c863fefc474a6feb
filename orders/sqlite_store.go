package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"kisantrack/models"
)

// SQLiteStore keeps orders in a relational layout: one row per order and the
// tracking history in a child table keyed by (order_id, seq).
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(d *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: d}
}

const orderColumns = `id, tracking_code, product_name, quantity, total_price, payment_method,
	farmer_id, farmer_name, farmer_address, farmer_rating,
	buyer_id, buyer_name, buyer_address, status,
	farm_lat, farm_lng, cur_lat, cur_lng, dest_lat, dest_lng,
	last_sample_at, user_rating, created_at, updated_at, delivered_at`

func (s *SQLiteStore) Create(ctx context.Context, o *models.Order) error {
	if o.ID.IsZero() {
		o.ID = primitive.NewObjectID()
	}
	prepareNew(o, stamp(time.Now()))
	_, err := s.db.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID.Hex(), o.TrackingCode, o.ProductName, o.Quantity, o.TotalPrice, o.PaymentMethod,
		o.Farmer.ID, o.Farmer.Name, o.Farmer.Address, o.Farmer.Rating,
		o.BuyerID, o.BuyerName, o.BuyerAddress, string(o.Status),
		o.FarmLocation.Lat, o.FarmLocation.Lng, o.CurrentLocation.Lat, o.CurrentLocation.Lng,
		o.DestLocation.Lat, o.DestLocation.Lng,
		nullMillis(o.LastSampleAt), o.UserRating, o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli(),
		nullMillis(o.DeliveredAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: orders.tracking_code") {
			return ErrDuplicateCode
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Order, error) {
	if _, err := models.ParseOrderID(id); err != nil {
		return nil, err
	}
	return s.getWhere(ctx, `id = ?`, id)
}

func (s *SQLiteStore) GetByTrackingCode(ctx context.Context, code string) (*models.Order, error) {
	return s.getWhere(ctx, `tracking_code = ?`, code)
}

func (s *SQLiteStore) getWhere(ctx context.Context, where string, arg any) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if o.TrackingHistory, err = s.history(ctx, o.ID.Hex()); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *SQLiteStore) history(ctx context.Context, id string) ([]models.Sample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT lat, lng, ts FROM tracking_samples WHERE order_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	out := []models.Sample{}
	for rows.Next() {
		var sm models.Sample
		var ts int64
		if err := rows.Scan(&sm.Lat, &sm.Lng, &ts); err != nil {
			return nil, err
		}
		sm.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendSample(ctx context.Context, id string, sample models.Sample) (models.Sample, error) {
	if _, err := models.ParseOrderID(id); err != nil {
		return sample, err
	}
	sample.Timestamp = stamp(sample.Timestamp)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sample, err
	}
	defer tx.Rollback()

	var status string
	var last sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT status, last_sample_at FROM orders WHERE id = ?`, id).Scan(&status, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return sample, ErrNotFound
	}
	if err != nil {
		return sample, fmt.Errorf("load order: %w", err)
	}
	if models.Status(status) == models.StatusDelivered {
		return sample, ErrOrderClosed
	}
	if last.Valid && sample.Timestamp.UnixMilli() < last.Int64 {
		sample.Timestamp = time.UnixMilli(last.Int64).UTC()
	}

	ts := sample.Timestamp.UnixMilli()
	if _, err := tx.ExecContext(ctx, `INSERT INTO tracking_samples (order_id, seq, lat, lng, ts)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM tracking_samples WHERE order_id = ?), ?, ?, ?)`,
		id, id, sample.Lat, sample.Lng, ts); err != nil {
		return sample, fmt.Errorf("insert sample: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE orders SET cur_lat = ?, cur_lng = ?, last_sample_at = ?, updated_at = ?
		WHERE id = ?`, sample.Lat, sample.Lng, ts, time.Now().UnixMilli(), id); err != nil {
		return sample, fmt.Errorf("update location: %w", err)
	}
	return sample, tx.Commit()
}

func (s *SQLiteStore) AdvanceStatus(ctx context.Context, id string, status models.Status) (models.Status, error) {
	if _, err := models.ParseOrderID(id); err != nil {
		return "", err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load order: %w", err)
	}
	write, err := checkAdvance(models.Status(current), status)
	if err != nil || !write {
		return models.Status(current), err
	}

	now := time.Now().UnixMilli()
	var delivered any
	if status == models.StatusDelivered {
		delivered = now
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ?, delivered_at = COALESCE(?, delivered_at) WHERE id = ?`,
		string(status), now, delivered, id); err != nil {
		return "", fmt.Errorf("advance status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return status, nil
}

func (s *SQLiteStore) SetRating(ctx context.Context, id string, rating int) error {
	if _, err := models.ParseOrderID(id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE orders SET user_rating = ?, updated_at = ? WHERE id = ?`,
		rating, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("set rating: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close(context.Context) error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o                models.Order
		id, status       string
		last, delivered  sql.NullInt64
		created, updated int64
	)
	err := row.Scan(&id, &o.TrackingCode, &o.ProductName, &o.Quantity, &o.TotalPrice, &o.PaymentMethod,
		&o.Farmer.ID, &o.Farmer.Name, &o.Farmer.Address, &o.Farmer.Rating,
		&o.BuyerID, &o.BuyerName, &o.BuyerAddress, &status,
		&o.FarmLocation.Lat, &o.FarmLocation.Lng, &o.CurrentLocation.Lat, &o.CurrentLocation.Lng,
		&o.DestLocation.Lat, &o.DestLocation.Lng,
		&last, &o.UserRating, &created, &updated, &delivered)
	if err != nil {
		return nil, err
	}
	if o.ID, err = models.ParseOrderID(id); err != nil {
		return nil, err
	}
	o.Status = models.Status(status)
	o.CreatedAt = time.UnixMilli(created).UTC()
	o.UpdatedAt = time.UnixMilli(updated).UTC()
	o.LastSampleAt = millisPtr(last)
	o.DeliveredAt = millisPtr(delivered)
	return &o, nil
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func millisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
