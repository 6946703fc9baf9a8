package sharing

import "errors"

var (
	// ErrNotShared indicates no shared copy exists for the requester.
	ErrNotShared = errors.New("context not shared with agent")
	// ErrAccessDenied indicates the permission mode forbids the access.
	ErrAccessDenied = errors.New("access denied")
	// ErrPermissionExpired indicates every matching permission has expired.
	ErrPermissionExpired = errors.New("permission expired")
	// ErrConditionNotMet indicates an access condition evaluated false.
	ErrConditionNotMet = errors.New("access condition not met")
	// ErrInvalidPermission indicates a malformed permission on share.
	ErrInvalidPermission = errors.New("invalid permission")
)
