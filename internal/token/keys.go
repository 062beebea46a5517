package token

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ParseKeys decodes PEM encoded keys. Literal "\n" sequences are accepted so
// keys can sit on one line of an env file. An empty publicPEM derives the
// public key from the private one.
func ParseKeys(privatePEM, publicPEM string) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	privatePEM = unescapeNewlines(privatePEM)
	publicPEM = unescapeNewlines(publicPEM)
	if privatePEM == "" {
		return nil, nil, errors.New("private key is empty")
	}

	private, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privatePEM))
	if err != nil {
		return nil, nil, fmt.Errorf("parse private key: %w", err)
	}
	if publicPEM == "" {
		return private, &private.PublicKey, nil
	}
	public, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicPEM))
	if err != nil {
		return nil, nil, fmt.Errorf("parse public key: %w", err)
	}
	if public.N.Cmp(private.N) != 0 || public.E != private.E {
		return nil, nil, errors.New("public key does not match private key")
	}
	return private, public, nil
}

// GenerateKey returns a fresh 2048-bit key. Tokens signed with it die with
// the process.
func GenerateKey() (*rsa.PrivateKey, error) {
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return k, nil
}

func unescapeNewlines(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, `\n`, "\n"))
}
