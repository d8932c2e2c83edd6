package domain

import "time"

// DefaultProjectName is used when a task is created before any project exists.
const DefaultProjectName = "Planit Project"

// Project partitions a user's tasks into independent graphs.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Order     int       `json:"order"`
}

// User is the authenticated identity owning all documents.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}
