package coordinator

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/localfirst/teamgraph/invitation"
)

// InvitationClaims is the JWT body used when an invitation seed travels
// through an external identity provider instead of being read aloud:
// the inviter's service signs {share, seed, invitee} with a shared
// secret, and the invitee's device verifies and unpacks it into the
// JoinParams for that share.
type InvitationClaims struct {
	jwt.RegisteredClaims
	ShareID  string `json:"shareId"`
	Seed     string `json:"seed"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// EncodeInvitationToken signs an invitation handoff token with HS256.
func EncodeInvitationToken(secret []byte, shareID, seed, userID, userName string, ttl time.Duration) (string, error) {
	normalized, err := invitation.NormalizeSeed(seed)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := InvitationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ShareID:  shareID,
		Seed:     normalized,
		UserID:   userID,
		UserName: userName,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// DecodeInvitationToken verifies a handoff token and returns its claims.
func DecodeInvitationToken(secret []byte, token string) (*InvitationClaims, error) {
	claims := &InvitationClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: invalid invitation token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("coordinator: invalid invitation token")
	}
	if _, err := invitation.NormalizeSeed(claims.Seed); err != nil {
		return nil, err
	}
	return claims, nil
}
