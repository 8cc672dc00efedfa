package models

import "time"

type User struct {
	ID          string    `json:"id" msgpack:"id"`
	Email       string    `json:"email,omitempty" msgpack:"email"`
	DisplayName string    `json:"display_name" msgpack:"display_name"`
	Password    string    `json:"-" msgpack:"-"`
	AvatarPath  string    `json:"-" msgpack:"avatar_path"`
	CreatedAt   time.Time `json:"created_at" msgpack:"created_at"`
}

// Profile is the public view of a user.
type Profile struct {
	ID          string `json:"id" msgpack:"id"`
	DisplayName string `json:"display_name" msgpack:"display_name"`
	AvatarURL   string `json:"avatar_url" msgpack:"avatar_url"`
}

func (p Profile) Validate() error {
	if p.ID == "" {
		return invalid("profile", "missing id")
	}
	return nil
}

const AnonymousName = "Anonymous"

// NameOrAnonymous is the display name used on records the user authors.
func (u *User) NameOrAnonymous() string {
	if u == nil || u.DisplayName == "" {
		return AnonymousName
	}
	return u.DisplayName
}
