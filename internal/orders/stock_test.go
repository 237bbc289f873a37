package orders

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wbobeirne/run-lnd-store/internal/database"
	"github.com/wbobeirne/run-lnd-store/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	return db
}

func seedOrder(t *testing.T, db *gorm.DB, size types.Size, hasPaid bool, expires time.Time) *types.Order {
	t.Helper()
	order := &types.Order{
		OrderID:        uuid.NewString(),
		Pubkey:         "02" + uuid.NewString(),
		PaymentRequest: "lnbc-" + uuid.NewString(),
		RHash:          uuid.NewString(),
		Expires:        expires,
		HasPaid:        hasPaid,
		Size:           size,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func TestGetStockCountsActiveOrders(t *testing.T) {
	db := newTestDB(t)
	ledger := NewStockLedger(NewDatabase(db), map[types.Size]int{
		types.SizeS: 2, types.SizeM: 2, types.SizeL: 2, types.SizeXL: 2,
	})

	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)

	seedOrder(t, db, types.SizeM, false, future) // reserved, pending
	seedOrder(t, db, types.SizeM, true, past)    // paid, expiry irrelevant
	seedOrder(t, db, types.SizeL, false, past)   // expired, frees its unit
	seedOrder(t, db, types.SizeXL, true, future) // paid

	stock, err := ledger.GetStock()
	require.NoError(t, err)

	assert.Equal(t, 2, stock[types.SizeS].Available)
	assert.False(t, stock[types.SizeS].Pending)

	assert.Equal(t, 0, stock[types.SizeM].Available)
	assert.True(t, stock[types.SizeM].Pending)

	assert.Equal(t, 2, stock[types.SizeL].Available)
	assert.False(t, stock[types.SizeL].Pending)

	assert.Equal(t, 1, stock[types.SizeXL].Available)
	assert.False(t, stock[types.SizeXL].Pending, "paid orders are not pending")

	assert.Equal(t, 2, stock[types.SizeS].Total)
	assert.Equal(t, "Small (S)", stock[types.SizeS].Label)
}

func TestGetStockNeverNegative(t *testing.T) {
	db := newTestDB(t)
	ledger := NewStockLedger(NewDatabase(db), map[types.Size]int{
		types.SizeS: 1, types.SizeM: 1, types.SizeL: 1, types.SizeXL: 1,
	})

	// Three active orders against a ceiling of one, as if a race oversold.
	future := time.Now().Add(time.Hour)
	for i := 0; i < 3; i++ {
		seedOrder(t, db, types.SizeS, false, future)
	}

	stock, err := ledger.GetStock()
	require.NoError(t, err)
	assert.Equal(t, 0, stock[types.SizeS].Available)
}

func TestGetStockIgnoresSoftDeleted(t *testing.T) {
	db := newTestDB(t)
	ledger := NewStockLedger(NewDatabase(db), map[types.Size]int{
		types.SizeS: 2, types.SizeM: 2, types.SizeL: 2, types.SizeXL: 2,
	})

	order := seedOrder(t, db, types.SizeS, true, time.Now().Add(time.Hour))
	require.NoError(t, db.Delete(order).Error)

	stock, err := ledger.GetStock()
	require.NoError(t, err)
	assert.Equal(t, 2, stock[types.SizeS].Available)
}

func TestCreateOrderReservingGuards(t *testing.T) {
	db := newTestDB(t)
	orderDB := NewDatabase(db)

	future := time.Now().Add(time.Hour)
	first := &types.Order{
		OrderID:        uuid.NewString(),
		Pubkey:         "02alice",
		PaymentRequest: "lnbc-1",
		RHash:          "hash-1",
		Expires:        future,
		Size:           types.SizeM,
	}
	require.NoError(t, orderDB.CreateOrderReserving(first, 1))

	// Same pubkey, second active order.
	dup := &types.Order{
		OrderID:        uuid.NewString(),
		Pubkey:         "02alice",
		PaymentRequest: "lnbc-2",
		RHash:          "hash-2",
		Expires:        future,
		Size:           types.SizeL,
	}
	assert.ErrorIs(t, orderDB.CreateOrderReserving(dup, 1), ErrActiveOrderExists)

	// Different pubkey, but the size ceiling is exhausted.
	second := &types.Order{
		OrderID:        uuid.NewString(),
		Pubkey:         "02bob",
		PaymentRequest: "lnbc-3",
		RHash:          "hash-3",
		Expires:        future,
		Size:           types.SizeM,
	}
	assert.ErrorIs(t, orderDB.CreateOrderReserving(second, 1), ErrSoldOut)
}
