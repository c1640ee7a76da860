package security

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hostchat/internal/domain"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Claims carried by bearer tokens issued by the identity service.
type Claims struct {
	UserID    string `json:"userId"`
	FirstName string `json:"firstName,omitempty"`
	Admin     int    `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// TokenService wraps JWT creation and validation.
type TokenService struct {
	secret    []byte
	expiresIn time.Duration
	now       func() time.Time
}

func NewTokenService(secret string, expiresIn time.Duration) *TokenService {
	return &TokenService{
		secret:    []byte(secret),
		expiresIn: expiresIn,
		now:       time.Now,
	}
}

// CreateForUser creates a JWT for the given user using the default TTL.
func (t *TokenService) CreateForUser(userID, firstName string, admin bool) (string, error) {
	return t.CreateWithTTL(userID, firstName, admin, t.expiresIn)
}

// CreateWithTTL creates a JWT with an explicit TTL. A negative TTL yields an
// already expired token.
func (t *TokenService) CreateWithTTL(userID, firstName string, admin bool, ttl time.Duration) (string, error) {
	now := t.now()
	claims := Claims{
		UserID:    userID,
		FirstName: firstName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if admin {
		claims.Admin = 1
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse validates a token and returns its claims.
func (t *TokenService) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// Authenticate turns a bearer credential into the identity attached to a
// connection. Failures are coded Unauthorized errors.
func (t *TokenService) Authenticate(tokenStr string) (domain.Identity, error) {
	if strings.TrimSpace(tokenStr) == "" {
		return domain.Identity{}, domain.Unauthorized("Authentication required")
	}
	claims, err := t.Parse(tokenStr)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, &domain.Error{Code: domain.CodeUnauthorized, Message: "Token expired", Err: err}
		}
		return domain.Identity{}, &domain.Error{Code: domain.CodeUnauthorized, Message: "Invalid token", Err: err}
	}
	role := RoleUser
	if claims.Admin == 1 {
		role = RoleAdmin
	}
	return domain.Identity{
		ID:          claims.UserID,
		DisplayName: claims.FirstName,
		Role:        role,
	}, nil
}
