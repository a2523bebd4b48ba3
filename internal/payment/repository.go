package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// CallbackRecord is one provider callback as received, before any
// settlement decision is made.
type CallbackRecord struct {
	OrderID        int64
	Gateway        string
	Handle         string
	ClaimedAmount  string
	ProviderStatus string
	Payload        json.RawMessage
}

// Repository journals provider callbacks so every settlement outcome,
// including rejected and failed ones, can be reconciled later.
type Repository interface {
	SaveCallback(ctx context.Context, rec CallbackRecord) (int64, error)
	MarkCallbackProcessed(ctx context.Context, callbackID int64, outcome string) error
	MarkCallbackFailed(ctx context.Context, callbackID int64, reason string) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) SaveCallback(ctx context.Context, rec CallbackRecord) (int64, error) {
	const q = `
	INSERT INTO payment_callbacks (
		order_id,
		gateway,
		handle,
		claimed_amount,
		provider_status,
		payload
	)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id;
	`

	orderID := sql.NullInt64{Int64: rec.OrderID, Valid: rec.OrderID > 0}
	payload := rec.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	var id int64
	err := r.db.QueryRowContext(ctx, q,
		orderID,
		rec.Gateway,
		rec.Handle,
		rec.ClaimedAmount,
		rec.ProviderStatus,
		[]byte(payload),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save payment callback: %w", err)
	}
	return id, nil
}

func (r *repository) MarkCallbackProcessed(ctx context.Context, callbackID int64, outcome string) error {
	const q = `
	UPDATE payment_callbacks
	SET processed_at = now(), outcome = $2
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, callbackID, outcome)
	return err
}

func (r *repository) MarkCallbackFailed(ctx context.Context, callbackID int64, reason string) error {
	const q = `
	UPDATE payment_callbacks
	SET processed_at = now(), outcome = 'error', process_error = $2
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, callbackID, reason)
	return err
}
