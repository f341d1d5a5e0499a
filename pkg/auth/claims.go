package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/enums"
)

// AccessTokenPayload captures the principal encoded into an access token.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.Role
	ShopID *uuid.UUID
	JTI    string
}

// AccessTokenClaims represents the typed JWT presented by clients.
type AccessTokenClaims struct {
	UserID uuid.UUID  `json:"user_id"`
	Role   enums.Role `json:"role"`
	ShopID *uuid.UUID `json:"shop_id,omitempty"`
	jwt.RegisteredClaims
}

var _ jwt.ClaimsValidator = (*AccessTokenClaims)(nil)

// Validate runs after the registered-claim checks. Tokens can only carry
// principals that are able to act on the HTTP surface.
func (c *AccessTokenClaims) Validate() error {
	return validatePrincipal(c.UserID, c.Role, c.ShopID, c.Subject)
}

func validatePrincipal(userID uuid.UUID, role enums.Role, shopID *uuid.UUID, subject string) error {
	switch {
	case userID == uuid.Nil:
		return errors.New("token missing user id")
	case !role.IsValid() || role == enums.RoleSystem:
		return fmt.Errorf("invalid role %q", role)
	case role == enums.RoleStaff && (shopID == nil || *shopID == uuid.Nil):
		return errors.New("staff tokens require a shop id")
	case subject != "" && subject != userID.String():
		return errors.New("token subject does not match user id")
	}
	return nil
}
