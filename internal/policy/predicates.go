package policy

import "trullo.app/internal/auth"

// IsAuthenticated reports whether an identity is present.
func IsAuthenticated(id *auth.Identity) bool {
	return id != nil && id.UserID != ""
}

// HasRole reports whether the identity carries role.
func HasRole(id *auth.Identity, role auth.Role) bool {
	return IsAuthenticated(id) && id.Role == role
}

// IsSelf compares the identity with the literal argument named arg.
func IsSelf(id *auth.Identity, args Args, arg string) bool {
	if !IsAuthenticated(id) {
		return false
	}
	v, ok := args.String(arg)
	return ok && v == id.UserID
}

// IsOwner compares the identity with the resource's field.
func IsOwner(id *auth.Identity, res *Resource, field string) bool {
	if !IsAuthenticated(id) {
		return false
	}
	v, ok := res.Field(field)
	return ok && v != "" && v == id.UserID
}

// IsMember reports whether the identity owns res or is one of its members.
func IsMember(id *auth.Identity, res *Resource) bool {
	return IsAuthenticated(id) && res.HasMember(id.UserID)
}
