package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrUnauthorized = errors.New("unauthorized")

type User struct {
	Id    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type Verifier interface {
	User(ctx context.Context, accessToken string) (User, error)
}

// SupabaseVerifier resolves access tokens through the Supabase auth server, so
// revoked sessions are rejected without validating JWTs locally.
type SupabaseVerifier struct {
	client *resty.Client
}

func NewSupabaseVerifier(supabaseURL, anonKey string) (*SupabaseVerifier, error) {
	if supabaseURL == "" || anonKey == "" {
		return nil, errors.New("supabase url and anon key are required")
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(supabaseURL, "/")).
		SetHeader("apikey", anonKey).
		SetTimeout(10 * time.Second)

	return &SupabaseVerifier{client: client}, nil
}

func (v *SupabaseVerifier) User(ctx context.Context, accessToken string) (User, error) {
	if accessToken == "" {
		return User{}, ErrUnauthorized
	}

	var user User
	res, err := v.client.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&user).
		Get("/auth/v1/user")
	if err != nil {
		return User{}, fmt.Errorf("error verifying access token: %w", err)
	}

	switch {
	case res.StatusCode() == http.StatusUnauthorized || res.StatusCode() == http.StatusForbidden:
		return User{}, ErrUnauthorized
	case res.IsError():
		slog.Error("supabase auth returned error", "status_code", res.StatusCode(), "body", res.String())
		return User{}, fmt.Errorf("supabase auth returned %d", res.StatusCode())
	}

	if user.Id == "" {
		return User{}, ErrUnauthorized
	}
	return user, nil
}

// TokenVerifier treats the bearer token as the user id. Only meant for local
// runs without a Supabase project. User ids end up in storage keys, so tokens
// that are not a single path element are refused.
type TokenVerifier struct{}

func (TokenVerifier) User(ctx context.Context, accessToken string) (User, error) {
	if accessToken == "" || strings.ContainsAny(accessToken, `/\`) || !filepath.IsLocal(accessToken) {
		return User{}, ErrUnauthorized
	}
	return User{Id: accessToken}, nil
}
