package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps subscriptions in a single SQLite file for single-node
// installs. Timestamps are stored as unix milliseconds.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates or opens the database at path and applies migrations.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}

	// SQLite allows one writer; a single connection also serializes claims.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.RunMigrations(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RunMigrations applies embedded SQLite migrations that have not run yet.
func (s *SQLiteStore) RunMigrations(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	migrations, err := listMigrations("migrations/sqlite")
	if err != nil {
		return err
	}

	for _, file := range migrations {
		version := path.Base(file)

		var exists bool
		err := s.db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if exists {
			continue
		}

		ddl, err := fs.ReadFile(migrationsFS, file)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}
		if _, err := s.db.ExecContext(ctx, string(ddl)); err != nil {
			return fmt.Errorf("executing migration %s: %w", version, err)
		}
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, s.now().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("recording migration %s: %w", version, err)
		}
	}
	return nil
}

const sqliteColumns = `id, shop, email, variant_id, product_title, product_handle, variant_title,
	subscribed_price, inventory_item_id, notified, opened, clicked, purchased, message_id,
	notified_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSubscription(row rowScanner) (domain.Subscription, error) {
	var sub domain.Subscription
	var notified, opened, clicked, purchased bool
	var notifiedAt sql.NullInt64
	var createdAt, updatedAt int64
	err := row.Scan(
		&sub.ID, &sub.Shop, &sub.Email, &sub.VariantID, &sub.ProductTitle, &sub.ProductHandle,
		&sub.VariantTitle, &sub.SubscribedPrice, &sub.InventoryItemID,
		&notified, &opened, &clicked, &purchased, &sub.MessageID,
		&notifiedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return sub, err
	}
	sub.Funnel = domain.RestoreFunnel(notified, opened, clicked, purchased)
	if notifiedAt.Valid {
		t := time.UnixMilli(notifiedAt.Int64).UTC()
		sub.NotifiedAt = &t
	}
	sub.CreatedAt = time.UnixMilli(createdAt).UTC()
	sub.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return sub, nil
}

func collectSQLiteSubscriptions(rows *sql.Rows) ([]domain.Subscription, error) {
	defer rows.Close()

	subs := []domain.Subscription{}
	for rows.Next() {
		sub, err := scanSQLiteSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}
	return subs, nil
}

func (s *SQLiteStore) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, bool, error) {
	now := s.now().UnixMilli()
	sub, err := scanSQLiteSubscription(s.db.QueryRowContext(ctx, `
		INSERT INTO subscriptions (id, shop, email, variant_id, product_title, product_handle, variant_title,
			subscribed_price, inventory_item_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (shop, email, variant_id) DO NOTHING
		RETURNING `+sqliteColumns,
		uuid.NewString(), req.Shop, req.Email, req.VariantID, req.ProductTitle, req.ProductHandle,
		req.VariantTitle, req.Price, req.InventoryItemID, now, now,
	))
	if err == nil {
		return &sub, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("inserting subscription: %w", err)
	}

	existing, err := scanSQLiteSubscription(s.db.QueryRowContext(ctx, `
		SELECT `+sqliteColumns+` FROM subscriptions WHERE shop = ? AND email = ? AND variant_id = ?
	`, req.Shop, req.Email, req.VariantID))
	if err != nil {
		return nil, false, fmt.Errorf("querying existing subscription: %w", err)
	}
	return &existing, false, nil
}

func (s *SQLiteStore) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	if !validID(id) {
		return nil, nil
	}
	sub, err := scanSQLiteSubscription(s.db.QueryRowContext(ctx, `
		SELECT `+sqliteColumns+` FROM subscriptions WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return &sub, nil
}

func (s *SQLiteStore) ListSubscriptions(ctx context.Context, filter domain.SubscriptionFilter) ([]domain.Subscription, error) {
	query := `SELECT ` + sqliteColumns + ` FROM subscriptions`
	args := []any{}
	conditions := []string{}

	if filter.Shop != "" {
		conditions = append(conditions, "shop = ?")
		args = append(args, filter.Shop)
	}
	if filter.VariantID != "" {
		conditions = append(conditions, "variant_id = ?")
		args = append(args, filter.VariantID)
	}
	if filter.Email != "" {
		conditions = append(conditions, "lower(email) = lower(?)")
		args = append(args, filter.Email)
	}
	stage, err := stageCondition(filter.Stage, "1", "0")
	if err != nil {
		return nil, err
	}
	if stage != "" {
		conditions = append(conditions, stage)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	return collectSQLiteSubscriptions(rows)
}

func (s *SQLiteStore) ClaimPending(ctx context.Context, shop, variantID string) ([]domain.Subscription, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UnixMilli()
	rows, err := tx.QueryContext(ctx, `
		UPDATE subscriptions
		SET notified = 1, notified_at = ?, updated_at = ?
		WHERE shop = ? AND variant_id = ? AND notified = 0
		RETURNING `+sqliteColumns,
		now, now, shop, variantID,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming subscriptions: %w", err)
	}
	claimed, err := collectSQLiteSubscriptions(rows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return claimed, nil
}

func (s *SQLiteStore) exec(ctx context.Context, what, query string, args ...any) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", what, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ReleaseClaim(ctx context.Context, id string) (bool, error) {
	return s.exec(ctx, "releasing claim", `
		UPDATE subscriptions
		SET notified = 0, notified_at = NULL, message_id = '', updated_at = ?
		WHERE id = ? AND notified = 1 AND opened = 0 AND clicked = 0 AND purchased = 0
	`, s.now().UnixMilli(), id)
}

func (s *SQLiteStore) RecordSent(ctx context.Context, id, messageID string) error {
	_, err := s.exec(ctx, "recording sent message", `
		UPDATE subscriptions SET message_id = ?, updated_at = ?
		WHERE id = ? AND notified = 1
	`, messageID, s.now().UnixMilli(), id)
	return err
}

func (s *SQLiteStore) MarkOpened(ctx context.Context, id string) (bool, error) {
	return s.exec(ctx, "marking opened", `
		UPDATE subscriptions SET opened = 1, updated_at = ?
		WHERE id = ? AND notified = 1 AND opened = 0
	`, s.now().UnixMilli(), id)
}

func (s *SQLiteStore) MarkClicked(ctx context.Context, id string) (bool, error) {
	return s.exec(ctx, "marking clicked", `
		UPDATE subscriptions SET opened = 1, clicked = 1, updated_at = ?
		WHERE id = ? AND notified = 1 AND (opened = 0 OR clicked = 0)
	`, s.now().UnixMilli(), id)
}

func (s *SQLiteStore) MarkPurchased(ctx context.Context, shop, variantID, email string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE subscriptions
		SET purchased = 1, opened = 1, clicked = 1, updated_at = ?
		WHERE shop = ? AND variant_id = ? AND lower(email) = lower(?)
		  AND notified = 1 AND purchased = 0
		RETURNING id
	`, s.now().UnixMilli(), shop, variantID, email)
	if err != nil {
		return nil, fmt.Errorf("marking purchased: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning purchased id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("marking purchased: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) VariantsForInventoryItem(ctx context.Context, shop, inventoryItemID string) ([]domain.VariantRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT variant_id, product_title, product_handle, variant_title, subscribed_price
		FROM subscriptions
		WHERE shop = ? AND inventory_item_id = ?
		ORDER BY created_at DESC
	`, shop, inventoryItemID)
	if err != nil {
		return nil, fmt.Errorf("resolving inventory item: %w", err)
	}
	defer rows.Close()

	refs := []domain.VariantRef{}
	seen := map[string]bool{}
	for rows.Next() {
		var ref domain.VariantRef
		err := rows.Scan(&ref.VariantID, &ref.Product.ProductTitle, &ref.Product.ProductHandle,
			&ref.Product.VariantTitle, &ref.Product.Price)
		if err != nil {
			return nil, fmt.Errorf("scanning variant: %w", err)
		}
		if seen[ref.VariantID] {
			continue
		}
		seen[ref.VariantID] = true
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("resolving inventory item: %w", err)
	}
	return refs, nil
}

func (s *SQLiteStore) FunnelStats(ctx context.Context, shop string) (*domain.FunnelStats, error) {
	stats := domain.FunnelStats{Shop: shop}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(notified), 0),
			COALESCE(SUM(opened), 0),
			COALESCE(SUM(clicked), 0),
			COALESCE(SUM(purchased), 0)
		FROM subscriptions
		WHERE shop = ?
	`, shop).Scan(&stats.Subscriptions, &stats.Notified, &stats.Opened, &stats.Clicked, &stats.Purchased)
	if err != nil {
		return nil, fmt.Errorf("querying funnel stats: %w", err)
	}

	stats.Finalize()
	return &stats, nil
}
