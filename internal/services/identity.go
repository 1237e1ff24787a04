package services

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

var (
	// ErrInvalidIdentityToken indicates the identity token could not be verified
	ErrInvalidIdentityToken = errors.New("invalid identity token")
)

// Identity is a verified external identity
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// IdentityVerifier verifies an identity token issued by an external provider
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// GoogleIdentity verifies Google ID tokens issued for our OAuth client
type GoogleIdentity struct {
	clientID string
	validate func(ctx context.Context, token, audience string) (*idtoken.Payload, error)
}

// NewGoogleIdentity creates a verifier for tokens whose audience is clientID
func NewGoogleIdentity(clientID string) *GoogleIdentity {
	return &GoogleIdentity{
		clientID: clientID,
		validate: idtoken.Validate,
	}
}

// Verify checks signature, expiry and audience, then reads the profile claims
func (g *GoogleIdentity) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidIdentityToken
	}
	if g.clientID == "" {
		return nil, fmt.Errorf("%w: google client id not configured", ErrInvalidIdentityToken)
	}

	payload, err := g.validate(ctx, token, g.clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentityToken, err)
	}
	return identityFromPayload(payload)
}

func identityFromPayload(payload *idtoken.Payload) (*Identity, error) {
	email, _ := payload.Claims["email"].(string)
	if payload.Subject == "" || email == "" {
		return nil, fmt.Errorf("%w: missing subject or email claim", ErrInvalidIdentityToken)
	}
	if verified, ok := payload.Claims["email_verified"].(bool); ok && !verified {
		return nil, fmt.Errorf("%w: email not verified", ErrInvalidIdentityToken)
	}

	name, _ := payload.Claims["name"].(string)
	return &Identity{
		Subject: payload.Subject,
		Email:   email,
		Name:    name,
	}, nil
}
