package model

// UserPublic is the profile slice attached to events (actor display info).
type UserPublic struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}
