package repository

import (
	"errors"

	"gorm.io/gorm"

	"bluegreen-cd/internal/model"
	pkgErrors "bluegreen-cd/pkg/responses"
)

type APIKeyRepository interface {
	Create(key *model.APIKey) error
	FindByHash(keyHash string) (*model.APIKey, error)
}

type apiKeyRepository struct {
	db *gorm.DB
}

func NewAPIKeyRepository(db *gorm.DB) APIKeyRepository {
	return &apiKeyRepository{db: db}
}

func (r *apiKeyRepository) Create(key *model.APIKey) error {
	if err := r.db.Create(key).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "创建API Key失败", err)
	}
	return nil
}

func (r *apiKeyRepository) FindByHash(keyHash string) (*model.APIKey, error) {
	var key model.APIKey
	err := r.db.Where("key_hash = ? AND status = 1", keyHash).First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgErrors.ErrInvalidAPIKey
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询API Key失败", err)
	}
	return &key, nil
}
