package objectstore

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const urlIssuer = "signflow.objectstore"

// URLClaims describe a single signed object download.
type URLClaims struct {
	Bucket      string
	Key         string
	ContentType string
	ExpiresAt   time.Time
}

type urlClaims struct {
	jwt.RegisteredClaims
	Bucket      string `json:"bkt"`
	ContentType string `json:"rct,omitempty"`
}

// URLSigner issues and verifies HS256 tokens embedded in download URLs.
type URLSigner struct {
	secret  []byte
	baseURL string
	now     func() time.Time
}

func NewURLSigner(secret []byte, baseURL string, now func() time.Time) *URLSigner {
	if now == nil {
		now = time.Now
	}
	return &URLSigner{
		secret:  secret,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     now,
	}
}

func (s *URLSigner) Sign(bucket, key string, ttl time.Duration, contentType string) (string, error) {
	now := s.now().UTC()
	claims := urlClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    urlIssuer,
			Subject:   key,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Bucket:      bucket,
		ContentType: contentType,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return s.baseURL + "/" + token, nil
}

func (s *URLSigner) Parse(token string) (*URLClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidURL
	}

	var parsed urlClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(urlIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrURLExpired
		}
		return nil, ErrInvalidURL.Wrap(err)
	}
	if parsed.Bucket == "" || parsed.Subject == "" {
		return nil, ErrInvalidURL
	}

	return &URLClaims{
		Bucket:      parsed.Bucket,
		Key:         parsed.Subject,
		ContentType: parsed.ContentType,
		ExpiresAt:   parsed.ExpiresAt.Time.UTC(),
	}, nil
}
