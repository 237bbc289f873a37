package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeValid(t *testing.T) {
	for _, size := range Sizes {
		assert.True(t, size.Valid(), size)
	}
	assert.False(t, Size("XXL").Valid())
	assert.False(t, Size("s").Valid())
	assert.False(t, Size("").Valid())
}

func TestOrderStatus(t *testing.T) {
	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name  string
		order Order
		want  OrderStatus
	}{
		{
			name:  "unpaid with live invoice",
			order: Order{Expires: future},
			want:  StatusReserved,
		},
		{
			name:  "unpaid past expiry",
			order: Order{Expires: past},
			want:  StatusExpired,
		},
		{
			name:  "paid without shipping",
			order: Order{Expires: past, HasPaid: true},
			want:  StatusPaid,
		},
		{
			name:  "paid with partial shipping",
			order: Order{Expires: past, HasPaid: true, Email: "a@b.c", Name: "A"},
			want:  StatusFulfilling,
		},
		{
			name: "paid with full shipping",
			order: Order{
				Expires: past, HasPaid: true,
				Email: "a@b.c", Name: "A", Address1: "1 Main St",
				City: "Springfield", Zip: "12345", Country: "US",
			},
			want: StatusComplete,
		},
		{
			name: "address2 and state are optional",
			order: Order{
				Expires: future, HasPaid: true,
				Email: "a@b.c", Name: "A", Address1: "1 Main St",
				City: "Springfield", Zip: "12345", Country: "US",
			},
			want: StatusComplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.order.Status())
		})
	}
}

func TestOrderIsActive(t *testing.T) {
	assert.True(t, (&Order{Expires: time.Now().Add(time.Hour)}).IsActive())
	assert.False(t, (&Order{Expires: time.Now().Add(-time.Hour)}).IsActive())
	// Paid orders stay active forever.
	assert.True(t, (&Order{Expires: time.Now().Add(-time.Hour), HasPaid: true}).IsActive())
}

func TestOrderJSONHidesInternalFields(t *testing.T) {
	order := Order{
		OrderID:        "order-1",
		Pubkey:         "02abc",
		PaymentRequest: "lnbc123",
		RHash:          "secret-hash",
		AddIndex:       7,
		Size:           SizeM,
	}

	raw, err := json.Marshal(&order)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))

	assert.Equal(t, "order-1", fields["id"])
	assert.Equal(t, "lnbc123", fields["paymentRequest"])
	assert.NotContains(t, fields, "RHash")
	assert.NotContains(t, fields, "rHash")
	assert.NotContains(t, fields, "AddIndex")
	assert.NotContains(t, fields, "ID")
	assert.NotContains(t, fields, "DeletedAt")
}
