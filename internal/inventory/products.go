package inventory

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarline/marketplace-backend/pkg/db/models"
)

// ProductReader loads products for validation. It never writes.
type ProductReader struct{}

func NewProductReader() *ProductReader {
	return &ProductReader{}
}

// FindByIDs returns the products keyed by id. Missing ids are simply absent.
func (r *ProductReader) FindByIDs(tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	out := make(map[uuid.UUID]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Product
	if err := tx.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, p := range rows {
		out[p.ID] = p
	}
	return out, nil
}
