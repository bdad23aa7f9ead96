package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Identity — результат проверки credential, приходящего при подключении.
type Identity struct {
	UserID      int64
	DisplayName string
}

// Verifier проверяет opaque credential и возвращает личность пользователя.
// Единственная точка доверия: ни ws, ни http слой сами токены не разбирают.
type Verifier interface {
	Verify(credential string) (Identity, error)
}

type claims struct {
	DisplayName string `json:"name"`
	jwt.RegisteredClaims
}

// JWTVerifier валидирует HS256-токены, которые выпускает auth-сервис.
type JWTVerifier struct {
	secret []byte
	issuer string
}

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

func (v *JWTVerifier) Verify(credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var c claims
	token, err := jwt.ParseWithClaims(credential, &c, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	uid, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || uid <= 0 {
		return Identity{}, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, c.Subject)
	}

	name := c.DisplayName
	if name == "" {
		name = "user-" + c.Subject
	}

	return Identity{UserID: uid, DisplayName: name}, nil
}

// IssueToken нужен тестам и локальной разработке; прод-токены выпускает auth-сервис.
func IssueToken(secret, issuer string, userID int64, displayName string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}
