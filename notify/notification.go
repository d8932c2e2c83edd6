package notify

import (
	"context"
	"time"
)

// Type is the severity of a notification.
type Type string

const (
	Success Type = "success"
	Error   Type = "error"
	Info    Type = "info"
	Warning Type = "warning"
)

// Visibility decides where a notification is shown.
type Visibility string

const (
	Toast Visibility = "toast"
	Panel Visibility = "panel"
	Both  Visibility = "both"
)

// Notification is a user facing message about the outcome of an operation.
type Notification struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Type       Type       `json:"type"`
	CreatedAt  time.Time  `json:"createdAt"`
	Read       bool       `json:"read"`
	Visibility Visibility `json:"visibility"`
}

// Emitter accepts notifications. Implementations never fail the caller;
// delivery problems are logged.
type Emitter interface {
	Emit(ctx context.Context, n Notification)
}

// Multi fans a notification out to several emitters in order.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, n Notification) {
	for _, e := range m {
		if e != nil {
			e.Emit(ctx, n)
		}
	}
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Emit(context.Context, Notification) {}
