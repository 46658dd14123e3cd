package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/bazaarline/marketplace-backend/pkg/db/dbtest"
)

type ctxMarker struct{}

func TestDBScopesQueriesToContext(t *testing.T) {
	db := dbtest.Open(t)
	base := NewBase(db)

	ctx := context.WithValue(context.Background(), ctxMarker{}, "order-read")
	scoped := base.DB(ctx)
	require.NotNil(t, scoped.Statement)
	assert.Equal(t, ctx, scoped.Statement.Context)

	assert.Same(t, db, base.DB(nil))
}

func TestRepositoryBuiltInsideTransactionSeesUncommittedRows(t *testing.T) {
	db := dbtest.Open(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		base := NewBase(tx)
		assert.Same(t, tx, base.Conn())

		require.NoError(t, base.DB(context.Background()).Exec(
			`INSERT INTO merchants (id, user_id, name, email) VALUES ('m-1', 'u-1', 'Lamp Co', 'lamps@example.com')`,
		).Error)

		var count int64
		require.NoError(t, base.DB(context.Background()).Table("merchants").Count(&count).Error)
		assert.EqualValues(t, 1, count)
		return nil
	})
	require.NoError(t, err)
}
