package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedClaimToken is returned when a claim token cannot be decoded
	// or its signature does not verify.
	ErrMalformedClaimToken = errors.New("malformed claim token")
	// ErrInvalidClaimToken is returned when a structurally sound claim token
	// fails a semantic check (expired, wrong audience, wrong action, missing
	// claims).
	ErrInvalidClaimToken = errors.New("invalid claim token")
)

// Claims is the payload of a signed claim token: an action bound to one
// partner ("ap") inside one directory (the audience).
type Claims struct {
	Action  string `json:"action"`
	Partner string `json:"ap"`
	jwt.RegisteredClaims
}

// ClaimCodec issues and verifies HS256 claim tokens. The signing key is
// supplied per call: the directory secret, optionally concatenated with a
// per-partner salt so that rotating the salt invalidates outstanding tokens
// for that partner alone.
type ClaimCodec struct {
	now func() time.Time
}

// NewClaimCodec returns a ClaimCodec. now may be nil; time.Now is used then.
func NewClaimCodec(now func() time.Time) *ClaimCodec {
	if now == nil {
		now = time.Now
	}
	return &ClaimCodec{now: now}
}

// Issue signs a claim token for action on partnerID, scoped to directoryID,
// valid for ttl.
func (c *ClaimCodec) Issue(secret []byte, salt, action, directoryID, partnerID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("claim codec: empty signing secret")
	}
	if action == "" || directoryID == "" || partnerID == "" || ttl <= 0 {
		return "", errors.New("claim codec: action, directory, partner, and ttl are required")
	}
	now := c.now().UTC()
	claims := Claims{
		Action:  action,
		Partner: partnerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{directoryID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(saltedKey(secret, salt))
}

// PeekSubject decodes the token WITHOUT verifying its signature and returns
// the claimed partner ID. The result identifies which salt to fetch before
// calling Verify; it must never be trusted for authorization decisions.
func (c *ClaimCodec) PeekSubject(token string) (string, error) {
	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return "", ErrMalformedClaimToken
	}
	if claims.Partner == "" {
		return "", ErrInvalidClaimToken
	}
	return claims.Partner, nil
}

// Verify checks signature, expiry, audience, presence of all claims, and the
// expected action. On success it returns the verified claims.
func (c *ClaimCodec) Verify(token string, secret []byte, salt, action, directoryID string) (*Claims, error) {
	if len(secret) == 0 {
		return nil, ErrMalformedClaimToken
	}
	parser := jwt.NewParser(jwt.WithTimeFunc(c.now))
	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrMalformedClaimToken
		}
		return saltedKey(secret, salt), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrInvalidClaimToken
		}
		return nil, ErrMalformedClaimToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformedClaimToken
	}
	if claims.ExpiresAt == nil || claims.Action == "" || claims.Partner == "" || len(claims.Audience) == 0 {
		return nil, ErrInvalidClaimToken
	}
	if claims.Action != action {
		return nil, ErrInvalidClaimToken
	}
	audOK := false
	for _, a := range claims.Audience {
		if a == directoryID {
			audOK = true
			break
		}
	}
	if !audOK {
		return nil, ErrInvalidClaimToken
	}
	return claims, nil
}

func saltedKey(secret []byte, salt string) []byte {
	if salt == "" {
		return secret
	}
	key := make([]byte, 0, len(secret)+len(salt))
	key = append(key, secret...)
	key = append(key, salt...)
	return key
}
