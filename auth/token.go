package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrTokenRevoked is returned for tokens on the revocation list.
var ErrTokenRevoked = errors.New("token has been revoked")

// Claims defines the structure of the JWT claims used in the system. The
// subject is the user ID; the JWT ID is what the revocation list keys on.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenIssuer signs access tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an HS256 issuer.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for user.
func (i *TokenIssuer) Issue(user *User) (string, error) {
	now := i.now()
	claims := Claims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validator handles JWT validation logic.
type Validator struct {
	secret            []byte
	revocationListKey string
	redisClient       *redis.Client
	log               *zap.SugaredLogger
}

// NewValidator creates a validator. redisClient may be nil, in which case
// revocation is not checked.
func NewValidator(secret, revocationListKey string, redisClient *redis.Client, log *zap.SugaredLogger) *Validator {
	return &Validator{
		secret:            []byte(secret),
		revocationListKey: revocationListKey,
		redisClient:       redisClient,
		log:               log,
	}
}

// ValidateToken parses and validates a JWT string. It checks the signature,
// standard claims (like expiration), and the revocation list in Redis.
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token parse/validation error: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}

	revoked, err := v.isTokenRevoked(ctx, claims.ID)
	if err != nil {
		// Fail open so a Redis outage does not lock everyone out.
		v.log.Errorf("Failed to check token revocation status: %v", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	return claims, nil
}

// isTokenRevoked checks if a token ID (JTI) is in the Redis revocation list.
func (v *Validator) isTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if v.redisClient == nil {
		return false, nil
	}
	if jti == "" {
		v.log.Warnf("JWT token is missing 'jti' claim, cannot check for revocation.")
		return false, nil
	}

	key := fmt.Sprintf("%s:%s", v.revocationListKey, jti)
	exists, err := v.redisClient.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis command failed: %w", err)
	}
	return exists == 1, nil
}
