package session

import (
	"context"
	"fmt"
	"time"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"

	"github.com/golang-jwt/jwt/v4"
)

// JWTResolver accepts HS256 tokens carrying the credential in their claims.
type JWTResolver struct {
	leases
	secret []byte
}

func NewJWTResolver(secret string) (*JWTResolver, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt session store requires a secret")
	}
	return &JWTResolver{secret: []byte(secret)}, nil
}

// Token returns a signed token for the credential that expires at the given time.
func (j *JWTResolver) Token(cred pixbuf.Credential, expires time.Time) (string, error) {
	token := jwt.New(jwt.SigningMethodHS256)
	claims := token.Claims.(jwt.MapClaims)
	claims["session_key"] = cred.SessionKey
	claims["user_id"] = cred.UserID
	claims["group_ids"] = cred.GroupIDs
	claims["admin"] = cred.Admin
	claims["exp"] = expires.Unix()

	tokenString, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("error with JWT signing: %v", err)
	}
	return tokenString, nil
}

func (j *JWTResolver) Resolve(ctx context.Context, key string) (*Lease, error) {
	if key == "" {
		return nil, invalid("no session token")
	}
	token, err := jwt.Parse(key, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return nil, invalid("error parsing JWT: %v", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, invalid("failed token validation")
	}
	if _, found := claims["exp"]; !found {
		return nil, invalid("token has no expiry")
	}
	var cred pixbuf.Credential
	if cred.SessionKey, ok = claims["session_key"].(string); !ok || cred.SessionKey == "" {
		return nil, invalid("token has no session_key claim")
	}
	if v, ok := claims["user_id"].(float64); ok {
		cred.UserID = int64(v)
	}
	if groups, ok := claims["group_ids"].([]interface{}); ok {
		for _, g := range groups {
			id, ok := g.(float64)
			if !ok {
				return nil, invalid("group id %v is not a number", g)
			}
			cred.GroupIDs = append(cred.GroupIDs, int64(id))
		}
	}
	cred.Admin, _ = claims["admin"].(bool)
	return j.lease(cred), nil
}

func (j *JWTResolver) Ping(ctx context.Context) error { return nil }

func (j *JWTResolver) Close() error { return nil }
