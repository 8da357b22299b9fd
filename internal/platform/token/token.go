// Package token issues and validates the JWT bearer tokens that gate
// member, operator and governance endpoints. Roles are coarse: "member" may
// issue and redeem, "operator" may additionally drive the window lifecycle,
// "governance" may additionally change parameters.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "fundgate/pkg/domain-errors"
)

// Roles recognized by the engine.
const (
	RoleMember     = "member"
	RoleOperator   = "operator"
	RoleGovernance = "governance"
)

// Claims are the JWT claims for operator access tokens.
type Claims struct {
	Actor string `json:"actor"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Service handles JWT creation and validation.
type Service struct {
	signingKey []byte
	issuer     string
}

func NewService(signingKey, issuer string) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
	}
}

// Generate mints a token for an actor with the given role.
func (s *Service) Generate(actor, role string, expiresIn time.Duration) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Actor: actor,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})
	return t.SignedString(s.signingKey)
}

// Validate parses and checks a token, returning its claims.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token expired")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if claims.Actor == "" || claims.Role == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token missing actor or role")
	}
	return claims, nil
}
