package scopes

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/compactmgr/engine/types"
)

// FromPermissions computes the full scope set embedded in a caller's token
// from their stored per-compact permission records.
func FromPermissions(perms []types.UserPermission) Set {
	s := NewSet()

	for _, perm := range perms {
		for _, action := range perm.CompactActions {
			s[CompactScope(perm.Compact, action)] = struct{}{}
		}
		for jurisdiction, actions := range perm.JurisdictionActions {
			for _, action := range actions {
				s[JurisdictionScope(jurisdiction, perm.Compact, action)] = struct{}{}
			}
		}
	}

	return s
}

// Claims are the registered claims plus the space-separated scope claim, the
// shape expected by downstream authorizers.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 access token for sub with the given scope set
// and lifetime. The scope set is fixed for the token's life; permission
// changes take effect at the next issuance.
func IssueToken(signingKey []byte, sub string, scopeSet Set, lifetime time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Scope: strings.Join(scopeSet.Strings(), " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return signed, nil
}

// ParseToken verifies the token signature and expiry and returns the subject
// and embedded scope set.
func ParseToken(signingKey []byte, tokenString string) (string, Set, error) {
	var claims Claims

	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return signingKey, nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s", types.ErrUnauthorized, err)
	}

	return claims.Subject, NewSet(strings.Fields(claims.Scope)...), nil
}
