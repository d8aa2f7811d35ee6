package sagadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"adlift/internal/saga"
)

// InstanceStore persists campaign publishing saga instances in Postgres.
type InstanceStore struct {
	db *sql.DB
}

// NewInstanceStore constructs an InstanceStore backed by Postgres.
func NewInstanceStore(db *sql.DB) *InstanceStore {
	return &InstanceStore{db: db}
}

// NewInstanceStoreWithSchema initializes the schema then returns the store.
func NewInstanceStoreWithSchema(ctx context.Context, db *sql.DB) (*InstanceStore, error) {
	store := NewInstanceStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the saga instance table if it does not exist.
func (s *InstanceStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS campaign_publishing_sagas (
			id TEXT PRIMARY KEY,
			correlation_id TEXT UNIQUE NOT NULL,
			campaign_id TEXT NOT NULL,
			merchant_id TEXT NOT NULL,
			current_state TEXT NOT NULL,
			payload JSONB NOT NULL,
			ad_network_publish_status JSONB NOT NULL DEFAULT '{}',
			is_compensating BOOLEAN NOT NULL DEFAULT FALSE,
			last_failure_reason TEXT NOT NULL DEFAULT '',
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS campaign_publishing_sagas_campaign_id_idx
			ON campaign_publishing_sagas (campaign_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

const instanceColumns = `id, correlation_id, campaign_id, merchant_id, current_state,
	payload, ad_network_publish_status, is_compensating, last_failure_reason,
	version, created_at, updated_at`

// Create inserts a new saga instance. A second insert with the same
// correlation id returns ErrDuplicateCorrelationID.
func (s *InstanceStore) Create(ctx context.Context, inst saga.Instance) (saga.Instance, error) {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.AdNetworkPublishStatus == nil {
		inst.AdNetworkPublishStatus = make(map[string]saga.NetworkPublishDetail)
	}

	payload, err := json.Marshal(inst.Payload)
	if err != nil {
		return saga.Instance{}, fmt.Errorf("marshal payload: %w", err)
	}
	statuses, err := json.Marshal(inst.AdNetworkPublishStatus)
	if err != nil {
		return saga.Instance{}, fmt.Errorf("marshal network statuses: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO campaign_publishing_sagas
			(id, correlation_id, campaign_id, merchant_id, current_state, payload, ad_network_publish_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (correlation_id) DO NOTHING`,
		inst.ID, inst.CorrelationID, inst.CampaignID, inst.MerchantID,
		inst.CurrentState, payload, statuses,
	)
	if err != nil {
		return saga.Instance{}, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return saga.Instance{}, err
	}
	if affected == 0 {
		return saga.Instance{}, saga.ErrDuplicateCorrelationID
	}

	return s.FindByID(ctx, inst.ID)
}

// FindByCorrelationID loads the instance for a correlation id.
func (s *InstanceStore) FindByCorrelationID(ctx context.Context, correlationID string) (saga.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+instanceColumns+`
		FROM campaign_publishing_sagas
		WHERE correlation_id = $1`,
		correlationID,
	)
	return scanInstance(row)
}

// FindByID loads the instance by its primary key.
func (s *InstanceStore) FindByID(ctx context.Context, id string) (saga.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+instanceColumns+`
		FROM campaign_publishing_sagas
		WHERE id = $1`,
		id,
	)
	return scanInstance(row)
}

// UpdateState advances the saga state with a compare-and-swap on the
// version column. A stale expectedVersion returns ErrVersionConflict.
func (s *InstanceStore) UpdateState(ctx context.Context, id string, expectedVersion int64, newState saga.State, patch *saga.Payload, failureReason string) (saga.Instance, error) {
	var payload []byte
	if patch != nil {
		var err error
		payload, err = json.Marshal(patch)
		if err != nil {
			return saga.Instance{}, fmt.Errorf("marshal payload: %w", err)
		}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_publishing_sagas
		SET current_state = $3,
			payload = COALESCE($4, payload),
			last_failure_reason = CASE WHEN $5 <> '' THEN $5 ELSE last_failure_reason END,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2`,
		id, expectedVersion, newState, payload, failureReason,
	)
	if err != nil {
		return saga.Instance{}, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return saga.Instance{}, err
	}
	if affected == 0 {
		if _, findErr := s.FindByID(ctx, id); findErr != nil {
			return saga.Instance{}, findErr
		}
		return saga.Instance{}, saga.ErrVersionConflict
	}

	return s.FindByID(ctx, id)
}

// UpdateAdNetworkStatus records one ad network's publication status. The
// write is additive per network id; a terminal status never regresses,
// so a duplicate reply leaves the row untouched.
func (s *InstanceStore) UpdateAdNetworkStatus(ctx context.Context, id string, networkID string, detail saga.NetworkPublishDetail) (saga.Instance, error) {
	encoded, err := json.Marshal(detail)
	if err != nil {
		return saga.Instance{}, fmt.Errorf("marshal network detail: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_publishing_sagas
		SET ad_network_publish_status = jsonb_set(ad_network_publish_status, ARRAY[$2], $3::jsonb),
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1
		  AND COALESCE(ad_network_publish_status->$2->>'status', 'PENDING') = 'PENDING'`,
		id, networkID, encoded,
	)
	if err != nil {
		return saga.Instance{}, err
	}

	// A zero-row update means the instance is gone or the network already
	// holds a terminal status; the re-read distinguishes the two and a
	// dropped duplicate simply returns the current row.
	if _, err := res.RowsAffected(); err != nil {
		return saga.Instance{}, err
	}

	return s.FindByID(ctx, id)
}

// SetCompensating flips the compensation flag.
func (s *InstanceStore) SetCompensating(ctx context.Context, id string, compensating bool) (saga.Instance, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_publishing_sagas
		SET is_compensating = $2,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1`,
		id, compensating,
	)
	if err != nil {
		return saga.Instance{}, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return saga.Instance{}, err
	}
	if affected == 0 {
		return saga.Instance{}, saga.ErrNotFound
	}

	return s.FindByID(ctx, id)
}

func scanInstance(row *sql.Row) (saga.Instance, error) {
	var inst saga.Instance
	var state string
	var payload, statuses []byte
	err := row.Scan(
		&inst.ID, &inst.CorrelationID, &inst.CampaignID, &inst.MerchantID, &state,
		&payload, &statuses, &inst.IsCompensating, &inst.LastFailureReason,
		&inst.Version, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return saga.Instance{}, saga.ErrNotFound
		}
		return saga.Instance{}, err
	}

	inst.CurrentState = saga.State(state)
	if err := json.Unmarshal(payload, &inst.Payload); err != nil {
		return saga.Instance{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := json.Unmarshal(statuses, &inst.AdNetworkPublishStatus); err != nil {
		return saga.Instance{}, fmt.Errorf("unmarshal network statuses: %w", err)
	}
	if inst.AdNetworkPublishStatus == nil {
		inst.AdNetworkPublishStatus = make(map[string]saga.NetworkPublishDetail)
	}

	return inst, nil
}
