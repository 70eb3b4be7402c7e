package bizconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ekaya-inc/ekaya-finsight/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/repositories"
)

// Backend persists tenant configurations. Get returns apperrors.ErrNotFound
// when nothing is stored.
type Backend interface {
	Get(ctx context.Context, clientID, datasetID string) (*models.BusinessConfiguration, error)
	Upsert(ctx context.Context, cfg *models.BusinessConfiguration) error
}

var (
	_ Backend = (*FileBackend)(nil)
	_ Backend = (repositories.BusinessConfigRepository)(nil)
)

// FileBackend stores one JSON document per tenant at {dir}/{client}_{dataset}.json.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

// Path returns the JSON file for a tenant.
func (b *FileBackend) Path(clientID, datasetID string) string {
	return filepath.Join(b.dir, fmt.Sprintf("%s_%s.json", clientID, datasetID))
}

func (b *FileBackend) Get(_ context.Context, clientID, datasetID string) (*models.BusinessConfiguration, error) {
	data, err := os.ReadFile(b.Path(clientID, datasetID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	var cfg models.BusinessConfiguration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return &cfg, nil
}

// Upsert writes through a temp file so readers never see a partial document.
func (b *FileBackend) Upsert(_ context.Context, cfg *models.BusinessConfiguration) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	path := b.Path(cfg.ClientID, cfg.DatasetID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace configuration: %w", err)
	}
	return nil
}
