package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/jackc/pgx/v5"
)

const subscriptionColumns = `id::text, shop, email, variant_id, product_title, product_handle, variant_title,
	subscribed_price, inventory_item_id, notified, opened, clicked, purchased, message_id,
	notified_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (domain.Subscription, error) {
	var sub domain.Subscription
	var notified, opened, clicked, purchased bool
	err := row.Scan(
		&sub.ID, &sub.Shop, &sub.Email, &sub.VariantID, &sub.ProductTitle, &sub.ProductHandle,
		&sub.VariantTitle, &sub.SubscribedPrice, &sub.InventoryItemID,
		&notified, &opened, &clicked, &purchased, &sub.MessageID,
		&sub.NotifiedAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return sub, err
	}
	sub.Funnel = domain.RestoreFunnel(notified, opened, clicked, purchased)
	return sub, nil
}

func collectSubscriptions(rows pgx.Rows) ([]domain.Subscription, error) {
	defer rows.Close()

	subs := []domain.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
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

func (s *PostgresStore) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, bool, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (shop, email, variant_id, product_title, product_handle, variant_title, subscribed_price, inventory_item_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (shop, email, variant_id) DO NOTHING
		RETURNING `+subscriptionColumns,
		req.Shop, req.Email, req.VariantID, req.ProductTitle, req.ProductHandle,
		req.VariantTitle, req.Price, req.InventoryItemID,
	))
	if err == nil {
		return &sub, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("inserting subscription: %w", err)
	}

	// Already subscribed
	existing, err := scanSubscription(s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions WHERE shop = $1 AND email = $2 AND variant_id = $3
	`, req.Shop, req.Email, req.VariantID))
	if err != nil {
		return nil, false, fmt.Errorf("querying existing subscription: %w", err)
	}
	return &existing, false, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	if !validID(id) {
		return nil, nil
	}
	sub, err := scanSubscription(s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return &sub, nil
}

// stageCondition maps a funnel stage to the rows that are exactly at it.
func stageCondition(stage string, yes, no string) (string, error) {
	switch stage {
	case "":
		return "", nil
	case domain.StagePending:
		return "notified = " + no, nil
	case domain.StageNotified:
		return "notified = " + yes + " AND opened = " + no + " AND clicked = " + no + " AND purchased = " + no, nil
	case domain.StageOpened:
		return "opened = " + yes + " AND clicked = " + no + " AND purchased = " + no, nil
	case domain.StageClicked:
		return "clicked = " + yes + " AND purchased = " + no, nil
	case domain.StagePurchased:
		return "purchased = " + yes, nil
	default:
		return "", domain.NewValidationError(domain.FieldError{Field: "stage", Msg: "unknown stage"})
	}
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context, filter domain.SubscriptionFilter) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	args := []interface{}{}
	argIdx := 1
	conditions := []string{}

	if filter.Shop != "" {
		conditions = append(conditions, fmt.Sprintf("shop = $%d", argIdx))
		args = append(args, filter.Shop)
		argIdx++
	}
	if filter.VariantID != "" {
		conditions = append(conditions, fmt.Sprintf("variant_id = $%d", argIdx))
		args = append(args, filter.VariantID)
		argIdx++
	}
	if filter.Email != "" {
		conditions = append(conditions, fmt.Sprintf("lower(email) = lower($%d)", argIdx))
		args = append(args, filter.Email)
		argIdx++
	}
	stage, err := stageCondition(filter.Stage, "TRUE", "FALSE")
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
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

// ClaimPending flips the pending cohort to notified in one conditional UPDATE.
// A concurrent claim for the same variant blocks on the row locks and then
// re-checks notified = FALSE, so each row is returned to exactly one caller.
func (s *PostgresStore) ClaimPending(ctx context.Context, shop, variantID string) ([]domain.Subscription, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE subscriptions
		SET notified = TRUE, notified_at = NOW(), updated_at = NOW()
		WHERE shop = $1 AND variant_id = $2 AND notified = FALSE
		RETURNING `+subscriptionColumns,
		shop, variantID,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming subscriptions: %w", err)
	}
	claimed, err := collectSubscriptions(rows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return claimed, nil
}

func (s *PostgresStore) ReleaseClaim(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	result, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET notified = FALSE, notified_at = NULL, message_id = '', updated_at = NOW()
		WHERE id = $1 AND notified = TRUE AND opened = FALSE AND clicked = FALSE AND purchased = FALSE
	`, id)
	if err != nil {
		return false, fmt.Errorf("releasing claim: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func (s *PostgresStore) RecordSent(ctx context.Context, id, messageID string) error {
	if !validID(id) {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET message_id = $2, updated_at = NOW()
		WHERE id = $1 AND notified = TRUE
	`, id, messageID)
	if err != nil {
		return fmt.Errorf("recording sent message: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkOpened(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	result, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET opened = TRUE, updated_at = NOW()
		WHERE id = $1 AND notified = TRUE AND opened = FALSE
	`, id)
	if err != nil {
		return false, fmt.Errorf("marking opened: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func (s *PostgresStore) MarkClicked(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	result, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET opened = TRUE, clicked = TRUE, updated_at = NOW()
		WHERE id = $1 AND notified = TRUE AND (opened = FALSE OR clicked = FALSE)
	`, id)
	if err != nil {
		return false, fmt.Errorf("marking clicked: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func (s *PostgresStore) MarkPurchased(ctx context.Context, shop, variantID, email string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE subscriptions
		SET purchased = TRUE, opened = TRUE, clicked = TRUE, updated_at = NOW()
		WHERE shop = $1 AND variant_id = $2 AND lower(email) = lower($3)
		  AND notified = TRUE AND purchased = FALSE
		RETURNING id::text
	`, shop, variantID, email)
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

// VariantsForInventoryItem resolves an inventory item through the context
// recorded on existing subscriptions.
func (s *PostgresStore) VariantsForInventoryItem(ctx context.Context, shop, inventoryItemID string) ([]domain.VariantRef, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (variant_id) variant_id, product_title, product_handle, variant_title, subscribed_price
		FROM subscriptions
		WHERE shop = $1 AND inventory_item_id = $2
		ORDER BY variant_id, created_at DESC
	`, shop, inventoryItemID)
	if err != nil {
		return nil, fmt.Errorf("resolving inventory item: %w", err)
	}
	defer rows.Close()

	refs := []domain.VariantRef{}
	for rows.Next() {
		var ref domain.VariantRef
		err := rows.Scan(&ref.VariantID, &ref.Product.ProductTitle, &ref.Product.ProductHandle,
			&ref.Product.VariantTitle, &ref.Product.Price)
		if err != nil {
			return nil, fmt.Errorf("scanning variant: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("resolving inventory item: %w", err)
	}
	return refs, nil
}
