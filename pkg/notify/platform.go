package notify

import (
	"context"
	"time"
)

// Permission is the notification permission reported by the platform.
type Permission uint8

const (
	// PermissionDefault means the user has not decided yet.
	PermissionDefault Permission = iota
	PermissionGranted
	PermissionDenied
)

// String returns the permission name.
func (p Permission) String() string {
	switch p {
	case PermissionDefault:
		return "default"
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// ParsePermission parses a permission name.
func ParsePermission(s string) (Permission, bool) {
	switch s {
	case "default", "ask", "":
		return PermissionDefault, true
	case "granted":
		return PermissionGranted, true
	case "denied":
		return PermissionDenied, true
	}
	return PermissionDefault, false
}

// ShowOptions controls how a notification is displayed.
type ShowOptions struct {
	// Tag replaces an earlier notification with the same tag.
	Tag string

	// Timeout dismisses the notification automatically. Zero leaves it to
	// the platform.
	Timeout time.Duration

	// OnClick runs when the user activates the notification. It may be
	// called from any goroutine.
	OnClick func()
}

// Platform is the OS notification service.
type Platform interface {
	// Permission returns the current permission.
	Permission() Permission

	// RequestPermission asks the user and returns the answer.
	RequestPermission(ctx context.Context) (Permission, error)

	// Show displays a notification. It may block until the notification is
	// dismissed.
	Show(ctx context.Context, title, body string, opts ShowOptions) error
}
