package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bazaarline/marketplace-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID     uuid.UUID
	Email      string
	Role       enums.UserRole
	MerchantID *uuid.UUID
	JTI        string
}

// AccessTokenClaims represents the typed JWT presented by clients.
type AccessTokenClaims struct {
	UserID     uuid.UUID      `json:"user_id"`
	Email      string         `json:"email,omitempty"`
	Role       enums.UserRole `json:"role"`
	MerchantID *uuid.UUID     `json:"merchant_id,omitempty"`
	jwt.RegisteredClaims
}

// IsMerchant reports whether the token acts for a merchant account.
func (c AccessTokenClaims) IsMerchant() bool {
	return c.Role == enums.UserRoleMerchant && c.MerchantID != nil && *c.MerchantID != uuid.Nil
}
