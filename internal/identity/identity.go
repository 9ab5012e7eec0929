// Package identity resolves the caller of a request from a bearer token.
package identity

import (
	"context"
	"errors"
	"strings"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Role string

const (
	RoleStudent Role = "student"
	RoleCashier Role = "cashier"
	RoleGuest   Role = "guest"
	RoleAdmin   Role = "admin"
)

// IsStaff reports whether the role may act on other users' appointments.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleCashier
}

type User struct {
	UID         string
	Email       string
	DisplayName string
	Role        Role
}

// Provider verifies a bearer token and returns the user it was issued to.
type Provider interface {
	Verify(ctx context.Context, token string) (*User, error)
}

type ctxKey struct{}

func NewContext(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the authenticated user, or false for anonymous calls.
func FromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(ctxKey{}).(*User)
	return u, ok && u != nil
}

// RoleForEmail is the default role of an account without a role claim: student for school
// addresses, guest for everyone else.
func RoleForEmail(email string, studentDomains []string) Role {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, d := range studentDomains {
		if d != "" && strings.HasSuffix(email, "@"+strings.ToLower(d)) {
			return RoleStudent
		}
	}
	return RoleGuest
}
