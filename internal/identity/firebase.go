package identity

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
)

// FirebaseProvider verifies Firebase Auth ID tokens. The role comes from the "role" custom
// claim and falls back to the email domain.
type FirebaseProvider struct {
	client         *auth.Client
	studentDomains []string
}

func NewFirebaseProvider(ctx context.Context, app *firebase.App, studentDomains []string) (*FirebaseProvider, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase: open auth client: %w", err)
	}
	return &FirebaseProvider{client: client, studentDomains: studentDomains}, nil
}

func (p *FirebaseProvider) Verify(ctx context.Context, token string) (*User, error) {
	tok, err := p.client.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return userFromClaims(tok.UID, tok.Claims, p.studentDomains), nil
}

func userFromClaims(uid string, claims map[string]any, studentDomains []string) *User {
	u := &User{UID: uid}
	u.Email, _ = claims["email"].(string)
	u.DisplayName, _ = claims["name"].(string)
	if role, ok := claims["role"].(string); ok && role != "" {
		u.Role = Role(role)
	} else {
		u.Role = RoleForEmail(u.Email, studentDomains)
	}
	return u
}
