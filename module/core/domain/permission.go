package domain

import "fmt"

type Permission string

const (
	PermissionForegroundLocation Permission = "foreground_location"
	PermissionBackgroundLocation Permission = "background_location"
	PermissionNotifications      Permission = "notifications"
)

// AllPermissions lists every grant the app asks for, in prompt order.
var AllPermissions = []Permission{
	PermissionForegroundLocation,
	PermissionBackgroundLocation,
	PermissionNotifications,
}

func ParsePermission(s string) (Permission, error) {
	for _, p := range AllPermissions {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown permission %q", s)
}
