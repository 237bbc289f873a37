package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken    = errors.New("invalid order token")
	ErrTokenGeneration = errors.New("failed to generate order token")
)

// Order tokens outlive the invoice: a buyer needs theirs to submit
// shipping info well after payment.
const tokenLifetime = 30 * 24 * time.Hour

// Claims is the JWT claims structure for order access tokens.
type Claims struct {
	jwt.RegisteredClaims
	OrderID string `json:"order_id"`
}

// Service mints and validates per-order access tokens. The bare order id
// is not enough to mutate an order; a token proving the holder created it
// (and re-proved node ownership doing so) is required on writes and on the
// payment subscription.
type Service struct {
	jwtSecret []byte
}

// NewService creates an auth service signing with the given secret.
func NewService(jwtSecret string) *Service {
	return &Service{jwtSecret: []byte(jwtSecret)}
}

// MintOrderToken creates a signed token scoped to a single order.
func (s *Service) MintOrderToken(orderID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		OrderID: orderID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", ErrTokenGeneration
	}
	return tokenString, nil
}

// ValidateOrderToken verifies a token and returns the order id it is
// scoped to.
func (s *Service) ValidateOrderToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.OrderID == "" {
		return "", ErrInvalidToken
	}
	return claims.OrderID, nil
}
