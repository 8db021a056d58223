package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopwire/shopwire/config"
)

var ErrNoToken = errors.New("no token supplied")

// Claims is the subset of the token claims the gateway cares about: who the
// connection belongs to and which role it carries. Both are attached to the
// connection once at handshake time and never re-evaluated.
type Claims struct {
	UserId string
	Role   string
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticate verifies a given bearer token against the configured HS256 secret.
// It returns the user id and role claims if verification was successful. Any
// missing, malformed, badly signed or expired token is an error, there is no
// anonymous fallback.
func Authenticate(tokenString string, cfg *config.Config) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}
	if cfg.JWTConfig.Secret == "" {
		return nil, errors.New("no jwt secret configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.JWTConfig.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.JWTConfig.Issuer))
	}
	claims := tokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(cfg.JWTConfig.Secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("token carries no subject")
	}
	return &Claims{UserId: claims.Subject, Role: claims.Role}, nil
}
