package orders

import (
	"errors"
	"time"

	"github.com/wbobeirne/run-lnd-store/internal/types"
	"gorm.io/gorm"
)

var (
	// ErrSoldOut means every unit of the requested size is held by an
	// active order.
	ErrSoldOut = errors.New("size is sold out")
	// ErrActiveOrderExists means the pubkey already holds an active order.
	// Surfaced only under creation races; the normal path resumes the
	// existing order instead.
	ErrActiveOrderExists = errors.New("pubkey already has an active order")
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// active scopes a query to orders that still occupy stock: paid, or
// unpaid with an unexpired invoice.
func active(db *gorm.DB) *gorm.DB {
	return db.Where("has_paid = ? OR expires > ?", true, time.Now())
}

func (d *Database) GetOrderByID(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderByRHash(rHash string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("r_hash = ?", rHash).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetLatestOrderForPubkey returns the pubkey's most recent order, active
// or not, so the caller can reconcile and decide whether to resume it.
func (d *Database) GetLatestOrderForPubkey(pubkey string) (*types.Order, error) {
	var order types.Order
	err := d.db.Where("pubkey = ?", pubkey).Order("created_at DESC").First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetActiveOrders returns every order currently occupying stock.
func (d *Database) GetActiveOrders() ([]types.Order, error) {
	var orders []types.Order
	if err := active(d.db).Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// CreateOrderReserving inserts a new order after re-checking, inside a
// single transaction, that the pubkey holds no active order and that the
// size still has stock under its ceiling. The re-check makes the
// check-then-reserve sequence safe under concurrent requests.
func (d *Database) CreateOrderReserving(order *types.Order, ceiling int) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var held int64
	if err := active(tx.Model(&types.Order{})).Where("pubkey = ?", order.Pubkey).Count(&held).Error; err != nil {
		tx.Rollback()
		return err
	}
	if held > 0 {
		tx.Rollback()
		return ErrActiveOrderExists
	}

	var reserved int64
	if err := active(tx.Model(&types.Order{})).Where("size = ?", order.Size).Count(&reserved).Error; err != nil {
		tx.Rollback()
		return err
	}
	if reserved >= int64(ceiling) {
		tx.Rollback()
		return ErrSoldOut
	}

	if err := tx.Create(order).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// MarkOrderPaid flips HasPaid for the order matching rHash and returns it.
// Already-paid orders and unknown hashes are safe no-ops, since the
// settlement stream delivers at-least-once and carries every invoice the
// node has ever issued.
func (d *Database) MarkOrderPaid(rHash string) (*types.Order, error) {
	order, err := d.GetOrderByRHash(rHash)
	if err != nil || order == nil {
		return order, err
	}
	if order.HasPaid {
		return order, nil
	}

	order.HasPaid = true
	if err := d.db.Model(order).Update("has_paid", true).Error; err != nil {
		return nil, err
	}
	return order, nil
}

// UpdateShipping writes the allow-listed fulfillment fields onto the
// order. Absent fields are left untouched.
func (d *Database) UpdateShipping(order *types.Order, details types.ShippingDetails) error {
	assign := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	assign(&order.Email, details.Email)
	assign(&order.Name, details.Name)
	assign(&order.Address1, details.Address1)
	assign(&order.Address2, details.Address2)
	assign(&order.City, details.City)
	assign(&order.State, details.State)
	assign(&order.Zip, details.Zip)
	assign(&order.Country, details.Country)

	return d.db.Save(order).Error
}
