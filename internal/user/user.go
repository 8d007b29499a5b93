// Package user is the example aggregate shipped with the outbox library. It
// shows how a host wires the registry, the capture interceptor, and
// shadow-copy diff tracking into a pgx repository.
package user

import (
	"time"

	"example.com/outbox/internal/outbox"
)

// User is an outbox-tracked aggregate. Timestamps are excluded from diff
// tracking and default serialization; the projection below controls the
// published payload.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// OutboxPayload projects the aggregate into its event payload.
func (u *User) OutboxPayload() any {
	return struct {
		ID        int64  `json:"id"`
		Email     string `json:"email"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		FullName  string `json:"fullName"`
	}{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		FullName:  u.FirstName + " " + u.LastName,
	}
}

// Register marks User as outbox-tracked with field-level diffs on updates.
func Register(registry *outbox.Registry) {
	registry.Register(User{}, outbox.Options{
		IncludeChangedFields: true,
	})
}
