package types

import (
	"time"

	"gorm.io/gorm"
)

// Size is a shirt size. The set is fixed and each size has its own
// independently configured stock ceiling.
type Size string

const (
	SizeS  Size = "S"
	SizeM  Size = "M"
	SizeL  Size = "L"
	SizeXL Size = "XL"
)

// Sizes lists every valid size in display order.
var Sizes = []Size{SizeS, SizeM, SizeL, SizeXL}

// SizeLabels maps sizes to their user-facing labels.
var SizeLabels = map[Size]string{
	SizeS:  "Small (S)",
	SizeM:  "Medium (M)",
	SizeL:  "Large (L)",
	SizeXL: "Extra large (XL)",
}

// Valid reports whether s is one of the fixed sizes.
func (s Size) Valid() bool {
	for _, size := range Sizes {
		if s == size {
			return true
		}
	}
	return false
}

// OrderStatus is the derived payment sub-lifecycle of an order. It is never
// stored, only computed from HasPaid, Expires and the fulfillment fields.
type OrderStatus string

const (
	StatusReserved   OrderStatus = "RESERVED"
	StatusPaid       OrderStatus = "PAID"
	StatusFulfilling OrderStatus = "FULFILLING"
	StatusComplete   OrderStatus = "COMPLETE"
	StatusExpired    OrderStatus = "EXPIRED"
)

// Order is a reservation of one shirt by one Lightning node, bound to a
// single invoice. Orders are never hard-deleted; gorm's DeletedAt keeps
// soft-deleted rows around for audit while hiding them from queries.
type Order struct {
	gorm.Model `json:"-"`
	OrderID    string `gorm:"uniqueIndex" json:"id"`
	Pubkey     string `gorm:"index" json:"pubkey"`

	// Invoice fields, immutable once set. RHash is the payment hash used
	// to correlate settlement events, AddIndex the issuing node's invoice
	// sequence number. Neither is part of the public serialization.
	PaymentRequest string    `gorm:"uniqueIndex" json:"paymentRequest"`
	RHash          string    `gorm:"uniqueIndex" json:"-"`
	AddIndex       uint64    `json:"-"`
	Expires        time.Time `json:"expires"`

	HasPaid bool `json:"hasPaid"`
	Size    Size `json:"size"`

	// Fulfillment fields, set after payment via the shipping form.
	Email    string `json:"email"`
	Name     string `json:"name"`
	Address1 string `json:"address1"`
	Address2 string `json:"address2"`
	City     string `json:"city"`
	State    string `json:"state"`
	Zip      string `json:"zip"`
	Country  string `json:"country"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"-"`
}

// IsExpired reports whether the order's invoice expiry has passed.
func (o *Order) IsExpired() bool {
	return !o.Expires.After(time.Now())
}

// IsActive reports whether the order still occupies stock: it has either
// been paid, or its invoice can still be paid.
func (o *Order) IsActive() bool {
	return o.HasPaid || !o.IsExpired()
}

// HasShippingInfo reports whether all required fulfillment fields are set.
// Address2 and State are optional, not every country has them.
func (o *Order) HasShippingInfo() bool {
	return o.Email != "" && o.Name != "" && o.Address1 != "" &&
		o.City != "" && o.Zip != "" && o.Country != ""
}

// Status derives the lifecycle state from the stored fields.
func (o *Order) Status() OrderStatus {
	if !o.HasPaid {
		if o.IsExpired() {
			return StatusExpired
		}
		return StatusReserved
	}
	if o.HasShippingInfo() {
		return StatusComplete
	}
	if o.Email != "" || o.Name != "" || o.Address1 != "" ||
		o.City != "" || o.Zip != "" || o.Country != "" {
		return StatusFulfilling
	}
	return StatusPaid
}

// ShippingDetails is the allow-list of fields a buyer may set on their
// order after payment. Anything else in an update payload is ignored.
type ShippingDetails struct {
	Email    *string `json:"email"`
	Name     *string `json:"name"`
	Address1 *string `json:"address1"`
	Address2 *string `json:"address2"`
	City     *string `json:"city"`
	State    *string `json:"state"`
	Zip      *string `json:"zip"`
	Country  *string `json:"country"`
}
