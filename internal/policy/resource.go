package policy

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Kind names the type of resource a policy fetches. It is declared when a
// policy is attached and mapped to a LookupFunc at construction.
type Kind int

const (
	KindNone Kind = iota
	KindProject
	KindTask
	KindUser
)

func (k Kind) String() string {
	switch k {
	case KindProject:
		return "project"
	case KindTask:
		return "task"
	case KindUser:
		return "user"
	default:
		return "none"
	}
}

// ParseKind maps a policy parameter onto a Kind.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "project":
		return KindProject, true
	case "task":
		return KindTask, true
	case "user":
		return KindUser, true
	default:
		return KindNone, false
	}
}

// Resource is the minimal ownership projection of a stored entity.
type Resource struct {
	Kind       Kind
	ID         string
	OwnerID    string
	Members    []string
	ProjectID  string
	AssigneeID string
}

// Field returns the named ownership field.
func (r *Resource) Field(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	switch name {
	case "id":
		return r.ID, true
	case "ownerId":
		return r.OwnerID, true
	case "projectId":
		return r.ProjectID, true
	case "assignedTo":
		return r.AssigneeID, true
	default:
		return "", false
	}
}

// HasMember reports whether userID owns the resource or is listed as a member.
func (r *Resource) HasMember(userID string) bool {
	if r == nil || userID == "" {
		return false
	}
	return r.OwnerID == userID || slices.Contains(r.Members, userID)
}

// LookupFunc fetches a resource projection by primary key. Absence is
// reported as (nil, nil); errors are reserved for store failures.
type LookupFunc func(ctx context.Context, id string) (*Resource, error)

// Lookups maps resource kinds to their fetch functions.
type Lookups map[Kind]LookupFunc

// Args carries operation arguments: GraphQL field args or REST path params.
type Args map[string]any

// String returns the argument as a non-empty trimmed string.
func (a Args) String(name string) (string, bool) {
	v, ok := a[name]
	if !ok || v == nil {
		return "", false
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case fmt.Stringer:
		s = t.String()
	case int, int32, int64:
		s = fmt.Sprint(t)
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
