package models

import (
	"slices"
	"strings"
	"time"
)

// UserProfile holds identity details for a user. Email is the unique key.
type UserProfile struct {
	Email        string     `json:"email" yaml:"email"`
	Name         string     `json:"name,omitempty" yaml:"name,omitempty"`
	Picture      string     `json:"picture,omitempty" yaml:"picture,omitempty"`
	TrustedSites []string   `json:"trusted_sites" yaml:"trusted_sites"`
	CreatedAt    *time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" yaml:"last_login_at,omitempty"`
}

// User owns dialogs.
type User struct {
	ID      int64       `json:"id" yaml:"id"`
	Profile UserProfile `json:"profile" yaml:"profile"`
}

// DisplayName returns the profile name, falling back to the local part of the email.
func (u *User) DisplayName() string {
	if u.Profile.Name != "" {
		return u.Profile.Name
	}
	local, _, _ := strings.Cut(u.Profile.Email, "@")
	return local
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Profile.TrustedSites = slices.Clone(u.Profile.TrustedSites)
	if out.Profile.TrustedSites == nil {
		out.Profile.TrustedSites = []string{}
	}
	if u.Profile.CreatedAt != nil {
		t := *u.Profile.CreatedAt
		out.Profile.CreatedAt = &t
	}
	if u.Profile.LastLoginAt != nil {
		t := *u.Profile.LastLoginAt
		out.Profile.LastLoginAt = &t
	}
	return &out
}
