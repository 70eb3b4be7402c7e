package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-finsight/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

// BusinessConfigRepository stores one JSONB document per tenant.
type BusinessConfigRepository interface {
	Get(ctx context.Context, clientID, datasetID string) (*models.BusinessConfiguration, error)
	Upsert(ctx context.Context, cfg *models.BusinessConfiguration) error
}

type businessConfigRepository struct {
	db Querier
}

var _ BusinessConfigRepository = (*businessConfigRepository)(nil)

func NewBusinessConfigRepository(db Querier) BusinessConfigRepository {
	return &businessConfigRepository{db: db}
}

// Get returns apperrors.ErrNotFound when the tenant has no stored configuration.
func (r *businessConfigRepository) Get(ctx context.Context, clientID, datasetID string) (*models.BusinessConfiguration, error) {
	var doc []byte
	err := r.db.QueryRow(ctx, `
		SELECT document FROM finsight_business_configs
		WHERE client_id = $1 AND dataset_id = $2`, clientID, datasetID).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load business configuration: %w", err)
	}

	var cfg models.BusinessConfiguration
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode business configuration: %w", err)
	}
	return &cfg, nil
}

func (r *businessConfigRepository) Upsert(ctx context.Context, cfg *models.BusinessConfiguration) error {
	doc, err := marshalJSONB(cfg)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO finsight_business_configs (client_id, dataset_id, version, document, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (client_id, dataset_id) DO UPDATE SET
			version = EXCLUDED.version,
			document = EXCLUDED.document,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`,
		cfg.ClientID, cfg.DatasetID, cfg.Version, doc, cfg.IsActive, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save business configuration: %w", err)
	}
	return nil
}
