package utils

import (
	"context"
	"net/http"

	"kisantrack/globals"
)

func GetUserIDFromRequest(r *http.Request) string {
	return GetUserID(r.Context())
}

// GetUserID returns the authenticated user id stored by the auth middleware, if any.
func GetUserID(ctx context.Context) string {
	requestingUserID, ok := ctx.Value(globals.UserIDKey).(string)
	if !ok || requestingUserID == "" {
		return ""
	}
	return requestingUserID
}

// GetRoles returns the roles the auth middleware found in the caller's token.
func GetRoles(ctx context.Context) []string {
	roles, _ := ctx.Value(globals.RoleKey).([]string)
	return roles
}
