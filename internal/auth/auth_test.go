package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndValidateOrderToken(t *testing.T) {
	svc := NewService("test-secret")

	token, err := svc.MintOrderToken("order-123")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	orderID, err := svc.ValidateOrderToken(token)
	require.NoError(t, err)
	assert.Equal(t, "order-123", orderID)
}

func TestValidateGarbageToken(t *testing.T) {
	svc := NewService("test-secret")

	_, err := svc.ValidateOrderToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTamperedToken(t *testing.T) {
	svc := NewService("test-secret")

	token, err := svc.MintOrderToken("order-123")
	require.NoError(t, err)

	tampered := token[:len(token)-2] + "xx"
	_, err = svc.ValidateOrderToken(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateWrongSecret(t *testing.T) {
	minter := NewService("test-secret")
	validator := NewService("other-secret")

	token, err := minter.MintOrderToken("order-123")
	require.NoError(t, err)

	_, err = validator.ValidateOrderToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
