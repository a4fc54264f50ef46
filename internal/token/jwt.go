// Package token は認証サービスが発行したアクセストークン（JWT）のクレームを読み取る。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims は認証サービスのアクセストークンに含まれるクレーム。
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Identity はトークンから取り出したユーザー識別情報。
type Identity struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// Parser はアクセストークンを検証してクレームを取り出す。
// secretが空の場合は署名を検証せずにクレームのみを読み取る（開発用）。
type Parser struct {
	secret []byte
	leeway time.Duration
}

// NewParser はParserを生成する。
func NewParser(secret string) *Parser {
	p := &Parser{leeway: 30 * time.Second}
	if secret != "" {
		p.secret = []byte(secret)
	}
	return p
}

// Verifies は署名を検証するかどうかを返す。
func (p *Parser) Verifies() bool {
	return p.secret != nil
}

// Parse はアクセストークンからユーザー識別情報を取り出す。
func (p *Parser) Parse(tokenString string) (Identity, error) {
	claims := &Claims{}

	if p.secret == nil {
		if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
			return Identity{}, fmt.Errorf("failed to parse access token: %w", err)
		}
	} else {
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("wrong signing method %v", t.Header["alg"])
			}
			return p.secret, nil
		}, jwt.WithLeeway(p.leeway), jwt.WithExpirationRequired())
		if err != nil {
			return Identity{}, fmt.Errorf("failed to parse access token: %w", err)
		}
		if !token.Valid {
			return Identity{}, fmt.Errorf("access token is invalid")
		}
	}

	if claims.Subject == "" {
		return Identity{}, errors.New("access token has no subject")
	}

	id := Identity{UserID: claims.Subject, Email: claims.Email}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}
