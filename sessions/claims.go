package sessions

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims are the few token claims the client needs to know who it is talking as
type Claims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
}

// ParseClaims reads claims from a JWT without verifying its signature. The
// provider and the backend verify tokens; the client only needs the identity.
func ParseClaims(rawToken string) (Claims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return Claims{}, errors.New("empty token")
	}

	token, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return Claims{}, err
	}

	mapClaims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return Claims{}, errors.New("error extracting claims")
	}

	var c Claims
	if c.Subject, err = mapClaims.GetSubject(); err != nil {
		return Claims{}, err
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	c.Email, _ = mapClaims["email"].(string)
	return c, nil
}
