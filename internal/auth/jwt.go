package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator checks webhook header tokens signed either with a shared
// HMAC secret or an RSA key pair.
type JWTValidator struct {
	publicKey *rsa.PublicKey
	secret    []byte
	issuer    string
	audience  string
}

// NewJWTValidator creates a validator for RS256-style tokens
func NewJWTValidator(publicKeyPEM, issuer, audience string) (*JWTValidator, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	publicKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		// Try parsing as PKIX
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}

		var ok bool
		publicKey, ok = key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not RSA")
		}
	}

	return &JWTValidator{
		publicKey: publicKey,
		issuer:    issuer,
		audience:  audience,
	}, nil
}

// NewHMACValidator creates a validator for HS256-style tokens
func NewHMACValidator(secret, issuer, audience string) (*JWTValidator, error) {
	if secret == "" {
		return nil, fmt.Errorf("hmac secret is empty")
	}
	return &JWTValidator{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}, nil
}

// ValidateToken validates a JWT and returns its claims. An empty issuer or
// audience on the validator skips that check.
func (v *JWTValidator) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA:
			if v.publicKey == nil {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.publicKey, nil
		case *jwt.SigningMethodHMAC:
			if len(v.secret) == 0 {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.secret, nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}

	if v.issuer != "" {
		if iss, ok := claims["iss"].(string); !ok || iss != v.issuer {
			return nil, fmt.Errorf("invalid issuer")
		}
	}

	if v.audience != "" {
		aud, err := claims.GetAudience()
		if err != nil || !containsString(aud, v.audience) {
			return nil, fmt.Errorf("invalid audience")
		}
	}

	return claims, nil
}

// Validate adapts the validator to a Predicate policy. A "Bearer " prefix
// on the header value is accepted.
func (v *JWTValidator) Validate(headerValue string) bool {
	token := strings.TrimSpace(strings.TrimPrefix(headerValue, "Bearer "))
	if token == "" {
		return false
	}
	_, err := v.ValidateToken(token)
	return err == nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
