package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// TokenLength is the number of characters in a session token.
const TokenLength = 32

// maxMintAttempts bounds retries when a freshly drawn token collides.
const maxMintAttempts = 5

const alphabet = "abcdefghijklmnopqrstuvwxyz"

// bytes at or above this value are rejected so each letter is equally likely (234 = 9*26).
const rejectAbove = 234

var (
	ErrTokenExhausted = errors.New("could not mint a unique session token")
	ErrUnknownSession = errors.New("unknown session token")
)

// Store registers tokens. CreateSession reports false when the token already exists.
type Store interface {
	CreateSession(ctx context.Context, token string) (bool, error)
	SessionExists(ctx context.Context, token string) (bool, error)
}

// NewToken draws a random token from crypto/rand.
func NewToken() (string, error) {
	return newTokenFrom(rand.Reader)
}

func newTokenFrom(r io.Reader) (string, error) {
	out := make([]byte, 0, TokenLength)
	buf := make([]byte, TokenLength)
	for len(out) < TokenLength {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= rejectAbove {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == TokenLength {
				break
			}
		}
	}
	return string(out), nil
}

// ValidToken reports whether s has the shape of a minted token.
func ValidToken(s string) bool {
	if len(s) != TokenLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return true
}

// Mint draws tokens until the store accepts one.
func Mint(ctx context.Context, store Store) (string, error) {
	for attempt := 0; attempt < maxMintAttempts; attempt++ {
		token, err := NewToken()
		if err != nil {
			return "", err
		}
		created, err := store.CreateSession(ctx, token)
		if err != nil {
			return "", fmt.Errorf("create session: %w", err)
		}
		if created {
			return token, nil
		}
	}
	return "", ErrTokenExhausted
}

// Resolve returns the token to use for a request carrying cookie. A malformed or
// unregistered cookie is replaced by a newly minted token; fresh reports that case.
func Resolve(ctx context.Context, store Store, cookie string) (token string, fresh bool, err error) {
	if ValidToken(cookie) {
		ok, err := store.SessionExists(ctx, cookie)
		if err != nil {
			return "", false, fmt.Errorf("lookup session: %w", err)
		}
		if ok {
			return cookie, false, nil
		}
	}
	token, err = Mint(ctx, store)
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}
