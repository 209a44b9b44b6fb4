package internal

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// errNoExpiry is returned when a token decodes but carries no exp claim.
var errNoExpiry = errors.New("token has no exp claim")

var unverifiedParser = jwt.NewParser()

// TokenExpiry reads the exp claim of a session JWT without verifying its
// signature. The PDS signs with algorithms the jwt package does not register
// (ES256K), which surfaces as ErrTokenUnverifiable after the claims have
// already been decoded; that case is not an error here.
func TokenExpiry(raw string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	_, _, err := unverifiedParser.ParseUnverified(raw, &claims)
	if err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return time.Time{}, fmt.Errorf("failed to decode token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// NominalAccessLifetime is assumed for access tokens whose exp cannot be read.
const NominalAccessLifetime = 2 * time.Hour

// IsStale reports whether raw expires within skew of now. When its expiry
// cannot be read the token is assumed to live NominalAccessLifetime from
// issued; a zero issued time means stale.
func IsStale(raw string, issued, now time.Time, skew time.Duration) bool {
	exp, err := TokenExpiry(raw)
	if err != nil {
		if issued.IsZero() {
			return true
		}
		exp = issued.Add(NominalAccessLifetime)
	}
	return !now.Add(skew).Before(exp)
}

// NewOAuthToken wraps a session's token pair. Expiry is left zero when the
// access token's exp cannot be read.
func NewOAuthToken(accessJwt, refreshJwt string) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  accessJwt,
		RefreshToken: refreshJwt,
		TokenType:    "Bearer",
	}
	if exp, err := TokenExpiry(accessJwt); err == nil {
		tok.Expiry = exp
	}
	return tok
}
