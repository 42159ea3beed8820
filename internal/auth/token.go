package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"livequiz-service/internal/domain"
)

// PlayerClaims bind a participant identity to a session and device. The
// token is the sole credential the play channel trusts; it is not an
// account login.
type PlayerClaims struct {
	Pin           string `json:"pin"`
	ParticipantID int64  `json:"participant_id"`
	DeviceID      string `json:"device_id"`
	jwt.RegisteredClaims
}

// HostClaims authorize session transitions for a single pin. Only the
// creator of a session ever receives one.
type HostClaims struct {
	Pin  string `json:"pin"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

const hostRole = "host"

// TokenManager mints and verifies the HMAC-signed session tokens.
type TokenManager struct {
	secret    []byte
	playerTTL time.Duration
	hostTTL   time.Duration
	now       func() time.Time
}

func NewTokenManager(secret []byte, playerTTL, hostTTL time.Duration) *TokenManager {
	return &TokenManager{secret: secret, playerTTL: playerTTL, hostTTL: hostTTL, now: time.Now}
}

// MintPlayerToken issues a signed, time-limited participant token.
func (m *TokenManager) MintPlayerToken(pin string, participantID int64, deviceID string) (string, error) {
	now := m.now()
	claims := PlayerClaims{
		Pin:           pin,
		ParticipantID: participantID,
		DeviceID:      deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.playerTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// VerifyPlayerToken checks signature, expiry, and pin match before any
// submission is attributed to a participant.
func (m *TokenManager) VerifyPlayerToken(raw, pin string) (PlayerClaims, error) {
	claims := PlayerClaims{}
	if err := m.parse(raw, &claims); err != nil {
		return PlayerClaims{}, domain.ErrInvalidToken
	}
	if claims.Pin != pin {
		return PlayerClaims{}, domain.ErrInvalidToken
	}
	return claims, nil
}

// MintHostToken issues the host credential for a freshly created session.
func (m *TokenManager) MintHostToken(pin string) (string, error) {
	now := m.now()
	claims := HostClaims{
		Pin:  pin,
		Role: hostRole,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.hostTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// VerifyHostToken rejects non-owning callers before any state is touched.
func (m *TokenManager) VerifyHostToken(raw, pin string) error {
	claims := HostClaims{}
	if err := m.parse(raw, &claims); err != nil {
		return domain.ErrInvalidToken
	}
	if claims.Pin != pin || claims.Role != hostRole {
		return domain.ErrInvalidToken
	}
	return nil
}

func (m *TokenManager) parse(raw string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return m.now() }))
	if err != nil {
		return err
	}
	if !token.Valid {
		return domain.ErrInvalidToken
	}
	return nil
}
