package models

import "time"

// User is the signed-in principal as the UI sees it.
// Name and Avatar are never empty on a constructed User.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name" validate:"required"`
	Avatar string `json:"avatar" validate:"required"`
}

// Clone returns a copy that callers may keep without sharing the original.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// Profile is a User as recorded in the profile directory
type Profile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Avatar      string    `json:"avatar"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}
