package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"vipgate/internal/subscription"
)

const subscriptionColumns = `id, user_id, channel_id, plan_id, plan_name, start_at, end_at, active, kicked,
	stripe_customer_id, stripe_subscription_id, ton_tx_hash, notified_before, created_at, updated_at`

// уникальный индекс по ton_tx_hash
const tonTxHashConstraint = "subscriptions_ton_tx_hash_key"

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner, extra ...any) (*subscription.Subscription, error) {
	sub := &subscription.Subscription{}
	var channelID, customerID, stripeSubID, txHash sql.NullString

	dest := []any{
		&sub.ID, &sub.UserID, &channelID, &sub.PlanID, &sub.PlanName, &sub.StartAt, &sub.EndAt,
		&sub.Active, &sub.Kicked, &customerID, &stripeSubID, &txHash, &sub.NotifiedBefore,
		&sub.CreatedAt, &sub.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	sub.ChannelID = nullable(channelID)
	sub.StripeCustomerID = nullable(customerID)
	sub.StripeSubscriptionID = nullable(stripeSubID)
	sub.TonTxHash = nullable(txHash)
	return sub, nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func (r *PostgresRepository) Create(ctx context.Context, spec subscription.CreateSpec) (*subscription.Subscription, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	query := `INSERT INTO subscriptions (id, user_id, channel_id, plan_id, plan_name, start_at, end_at, active, kicked,
		stripe_customer_id, stripe_subscription_id, ton_tx_hash, notified_before, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true, false, $8, $9, $10, false, $6, $6)
		RETURNING ` + subscriptionColumns

	sub, err := scanSubscription(r.db.QueryRowContext(ctx, query,
		uuid.NewString(), spec.UserID, spec.ChannelID, spec.PlanID, spec.PlanName, spec.StartAt, spec.EndAt,
		spec.StripeCustomerID, spec.StripeSubscriptionID, spec.TonTxHash))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == tonTxHashConstraint {
			return nil, subscription.ErrTxHashUsed
		}
		return nil, fmt.Errorf("insert subscription: %w", err)
	}
	return sub, nil
}

// Extend продлевает самую "длинную" подписку пользователя по плану одним UPDATE:
// end_at считается от текущего значения в базе, а не от копии вызывающего.
func (r *PostgresRepository) Extend(ctx context.Context, userID, planID string, d time.Duration, now time.Time) (*subscription.Extension, error) {
	query := `WITH target AS (
			SELECT id, active FROM subscriptions
			WHERE user_id = $1 AND plan_id = $2
			ORDER BY end_at DESC
			LIMIT 1
			FOR UPDATE
		)
		UPDATE subscriptions s SET
			end_at = GREATEST(s.end_at, $3) + ($4::bigint * interval '1 millisecond'),
			active = true,
			kicked = false,
			updated_at = $3
		FROM target
		WHERE s.id = target.id
		RETURNING s.id, s.user_id, s.channel_id, s.plan_id, s.plan_name, s.start_at, s.end_at, s.active, s.kicked,
			s.stripe_customer_id, s.stripe_subscription_id, s.ton_tx_hash, s.notified_before, s.created_at, s.updated_at,
			target.active`

	var wasActive bool
	sub, err := scanSubscription(r.db.QueryRowContext(ctx, query, userID, planID, now, d.Milliseconds()), &wasActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, subscription.ErrNotFound
		}
		return nil, fmt.Errorf("extend subscription: %w", err)
	}
	return &subscription.Extension{Subscription: sub, Reactivated: !wasActive}, nil
}

func (r *PostgresRepository) FindActiveDue(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	return r.query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE active = true AND end_at <= $1 ORDER BY end_at`, now)
}

func (r *PostgresRepository) FindByUser(ctx context.Context, userID string) ([]*subscription.Subscription, error) {
	return r.query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (r *PostgresRepository) ListAll(ctx context.Context) ([]*subscription.Subscription, error) {
	return r.query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY created_at DESC`)
}

func (r *PostgresRepository) FindByTonTxHash(ctx context.Context, hash string) (*subscription.Subscription, error) {
	sub, err := scanSubscription(r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE ton_tx_hash = $1`, hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// MarkInactive: условное обновление: строка меняется, только если end_at
// не сдвинули с момента чтения и срок действительно вышел.
func (r *PostgresRepository) MarkInactive(ctx context.Context, id string, endAtSeen, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET active = false, updated_at = $4
		 WHERE id = $1 AND active = true AND end_at = $2 AND end_at <= $3`,
		id, endAtSeen, now, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepository) MarkKicked(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET kicked = true, updated_at = $2 WHERE id = $1`, id, now)
	return err
}

func (r *PostgresRepository) DeactivateForChannel(ctx context.Context, userID, channelID string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET active = false, kicked = true, end_at = LEAST(end_at, $3), updated_at = $3
		 WHERE user_id = $1 AND channel_id = $2 AND (active = true OR kicked = false)`,
		userID, channelID, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkEventProcessed возвращает true, если событие отмечено впервые.
func (r *PostgresRepository) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO stripe_events (event_id, event_type, processed_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepository) UnmarkEvent(ctx context.Context, eventID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM stripe_events WHERE event_id = $1`, eventID)
	return err
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*subscription.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
