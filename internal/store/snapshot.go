package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/ideacapture/internal/model"
)

// SnapshotStore persists per-user subscription snapshots and preferences in
// the user_settings table.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func scanSettings(scanner interface{ Scan(...any) error }) (*model.Settings, error) {
	var st model.Settings
	var tier, status, view string
	var customerID, subscriptionID sql.NullString
	var periodEnd sql.NullTime
	var validationEnabled int
	err := scanner.Scan(
		&st.UserID, &tier, &status, &customerID, &subscriptionID, &periodEnd,
		&st.IdeasCount, &validationEnabled, &view, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.Tier = model.Tier(tier)
	st.Status = model.Status(status)
	st.DefaultView = model.View(view)
	st.ValidationEnabled = validationEnabled != 0
	if customerID.Valid {
		st.StripeCustomerID = &customerID.String
	}
	if subscriptionID.Valid {
		st.StripeSubscriptionID = &subscriptionID.String
	}
	if periodEnd.Valid {
		t := periodEnd.Time.UTC()
		st.PeriodEnd = &t
	}
	return &st, nil
}

const settingsCols = `user_id, subscription_tier, subscription_status, stripe_customer_id,
	stripe_subscription_id, subscription_end_date, ideas_count, validation_enabled,
	default_view, created_at, updated_at`

// GetSettings returns the full settings row, or nil if the user has none.
func (s *SnapshotStore) GetSettings(ctx context.Context, userID string) (*model.Settings, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+settingsCols+` FROM user_settings WHERE user_id = ?`, userID)
	st, err := scanSettings(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return st, nil
}

// Get returns the user's snapshot, or nil if the user has none.
func (s *SnapshotStore) Get(ctx context.Context, userID string) (*model.Snapshot, error) {
	st, err := s.GetSettings(ctx, userID)
	if err != nil || st == nil {
		return nil, err
	}
	return &st.Snapshot, nil
}

// GetOrCreateSettings inserts a default free row when the user has none.
// Concurrent callers race on the primary key, not on a uniqueness error.
func (s *SnapshotStore) GetOrCreateSettings(ctx context.Context, userID string) (*model.Settings, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id) VALUES (?) ON CONFLICT(user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure settings: %w", err)
	}
	st, err := s.GetSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("settings for %s missing after insert", userID)
	}
	return st, nil
}

func (s *SnapshotStore) GetOrCreate(ctx context.Context, userID string) (*model.Snapshot, error) {
	st, err := s.GetOrCreateSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &st.Snapshot, nil
}

func (s *SnapshotStore) adjustIdeas(ctx context.Context, op, userID string, initial int, update string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO user_settings (user_id, ideas_count, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET ideas_count = `+update+`, updated_at = excluded.updated_at
		 RETURNING ideas_count`,
		userID, initial, time.Now().UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%s ideas count: %w", op, err)
	}
	return count, nil
}

// IncrementIdeas atomically adds one to the user's idea counter and returns
// the new value.
func (s *SnapshotStore) IncrementIdeas(ctx context.Context, userID string) (int, error) {
	return s.adjustIdeas(ctx, "increment", userID, 1, `user_settings.ideas_count + 1`)
}

// DecrementIdeas atomically subtracts one from the counter, flooring at zero.
func (s *SnapshotStore) DecrementIdeas(ctx context.Context, userID string) (int, error) {
	return s.adjustIdeas(ctx, "decrement", userID, 0, `MAX(user_settings.ideas_count - 1, 0)`)
}

func (s *SnapshotStore) ResetIdeas(ctx context.Context, userID string) (int, error) {
	return s.adjustIdeas(ctx, "reset", userID, 0, `0`)
}

// Apply writes a delta in a single transaction and reports whether a row
// changed.
//
// Processor ids are written first and are not subject to the stale-event
// guard: a missing id is always filled, and a stored subscription id is only
// replaced by an event at least as new as the last one applied. The tier,
// status and period end are then written only when the row does not already
// reflect a newer event and, if set, RequireStatus holds.
func (s *SnapshotStore) Apply(ctx context.Context, userID string, d model.SnapshotDelta) (bool, error) {
	if d.Empty() {
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin apply: %w", err)
	}
	defer tx.Rollback()

	if d.Upsert {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_settings (user_id) VALUES (?) ON CONFLICT(user_id) DO NOTHING`,
			userID,
		); err != nil {
			return false, fmt.Errorf("ensure settings: %w", err)
		}
	}

	now := time.Now().UTC()
	var changed bool

	// Must run before the state update, which advances last_event_at.
	if d.StripeCustomerID != nil || d.StripeSubscriptionID != nil {
		n, err := applyIdentifiers(ctx, tx, userID, d, now)
		if err != nil {
			return false, err
		}
		changed = n > 0
	}

	if d.Tier != nil || d.Status != nil || d.PeriodEnd != nil {
		n, err := applyState(ctx, tx, userID, d, now)
		if err != nil {
			return false, err
		}
		changed = changed || n > 0
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit apply: %w", err)
	}
	return changed, nil
}

// applyIdentifiers only matches the row when a stored id would change, so the
// affected row count doubles as the change report.
func applyIdentifiers(ctx context.Context, tx *sql.Tx, userID string, d model.SnapshotDelta, now time.Time) (int64, error) {
	sets := []string{"updated_at = ?"}
	args := []any{now}
	var conds []string
	var condArgs []any

	if d.StripeCustomerID != nil {
		sets = append(sets, "stripe_customer_id = COALESCE(stripe_customer_id, ?)")
		args = append(args, *d.StripeCustomerID)
		conds = append(conds, "stripe_customer_id IS NULL")
	}
	if id := d.StripeSubscriptionID; id != nil {
		if d.EventAt.IsZero() {
			sets = append(sets, "stripe_subscription_id = ?")
			args = append(args, *id)
			conds = append(conds, "stripe_subscription_id IS NOT ?")
			condArgs = append(condArgs, *id)
		} else {
			at := d.EventAt.Unix()
			sets = append(sets,
				"stripe_subscription_id = CASE WHEN stripe_subscription_id IS NULL OR last_event_at <= ? THEN ? ELSE stripe_subscription_id END")
			args = append(args, at, *id)
			conds = append(conds, "(stripe_subscription_id IS NULL OR (last_event_at <= ? AND stripe_subscription_id <> ?))")
			condArgs = append(condArgs, at, *id)
		}
	}

	args = append(args, userID)
	args = append(args, condArgs...)
	res, err := tx.ExecContext(ctx,
		`UPDATE user_settings SET `+strings.Join(sets, ", ")+
			` WHERE user_id = ? AND (`+strings.Join(conds, " OR ")+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("apply processor ids: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func applyState(ctx context.Context, tx *sql.Tx, userID string, d model.SnapshotDelta, now time.Time) (int64, error) {
	sets := []string{"updated_at = ?"}
	args := []any{now}
	if d.Tier != nil {
		sets = append(sets, "subscription_tier = ?")
		args = append(args, string(*d.Tier))
	}
	if d.Status != nil {
		sets = append(sets, "subscription_status = ?")
		args = append(args, string(*d.Status))
	}
	if d.PeriodEnd != nil {
		sets = append(sets, "subscription_end_date = ?")
		args = append(args, d.PeriodEnd.UTC())
	}
	if !d.EventAt.IsZero() {
		sets = append(sets, "last_event_at = MAX(last_event_at, ?)")
		args = append(args, d.EventAt.Unix())
	}

	where := []string{"user_id = ?"}
	args = append(args, userID)
	if d.RequireStatus != nil {
		where = append(where, "subscription_status = ?")
		args = append(args, string(*d.RequireStatus))
	}
	if !d.EventAt.IsZero() {
		where = append(where, "last_event_at <= ?")
		args = append(args, d.EventAt.Unix())
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE user_settings SET `+strings.Join(sets, ", ")+` WHERE `+strings.Join(where, " AND "),
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("apply snapshot delta: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// SetCustomerID records the processor customer id. An id that is already
// stored is kept.
func (s *SnapshotStore) SetCustomerID(ctx context.Context, userID, customerID string) error {
	_, err := s.Apply(ctx, userID, model.SnapshotDelta{
		StripeCustomerID: &customerID,
		Upsert:           true,
	})
	return err
}

// UpdatePreferences changes the non-nil preference fields, creating the row
// if needed, and returns the updated settings.
func (s *SnapshotStore) UpdatePreferences(ctx context.Context, userID string, validationEnabled *bool, defaultView *model.View) (*model.Settings, error) {
	if _, err := s.GetOrCreateSettings(ctx, userID); err != nil {
		return nil, err
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if validationEnabled != nil {
		var v int
		if *validationEnabled {
			v = 1
		}
		sets = append(sets, "validation_enabled = ?")
		args = append(args, v)
	}
	if defaultView != nil {
		sets = append(sets, "default_view = ?")
		args = append(args, string(*defaultView))
	}
	args = append(args, userID)

	if _, err := s.db.ExecContext(ctx,
		`UPDATE user_settings SET `+strings.Join(sets, ", ")+` WHERE user_id = ?`,
		args...,
	); err != nil {
		return nil, fmt.Errorf("update preferences: %w", err)
	}
	return s.GetSettings(ctx, userID)
}
