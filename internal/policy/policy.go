package policy

import (
	"fmt"
	"strconv"
	"strings"

	"trullo.app/internal/auth"
)

// Policy names accepted by the enforcer.
const (
	NamePublic        = "public"
	NameAuth          = "auth"
	NameAdmin         = "admin"
	NameSelf          = "self"
	NameOwner         = "owner"
	NameOwnerOrAdmin  = "ownerOrAdmin"
	NameMember        = "member"
	NameMemberOrAdmin = "memberOrAdmin"
)

// Parameter keys.
const (
	ParamRole      = "role"
	ParamAllowSelf = "allowSelf"
	ParamSelfArg   = "selfArg"
	ParamKind      = "kind"
	ParamField     = "field"
	ParamArg       = "arg"
)

const (
	defaultArg        = "id"
	defaultField      = "ownerId"
	projectFallback   = "projectId"
	defaultSelfArgKey = "id"
)

// Policy is a named, parameterised access rule attached to an operation.
type Policy struct {
	Name   string
	Params map[string]string
}

func (p Policy) String() string {
	if len(p.Params) == 0 {
		return p.Name
	}
	parts := make([]string, 0, len(p.Params))
	for _, k := range []string{ParamRole, ParamAllowSelf, ParamSelfArg, ParamKind, ParamField, ParamArg} {
		if v, ok := p.Params[k]; ok {
			parts = append(parts, k+"="+v)
		}
	}
	return p.Name + "(" + strings.Join(parts, ",") + ")"
}

// Public marks an operation that needs no identity.
func Public() Policy { return Policy{Name: NamePublic} }

// Authenticated requires any valid identity.
func Authenticated() Policy { return Policy{Name: NameAuth} }

// Admin requires the ADMIN role.
func Admin() Policy { return Policy{Name: NameAdmin} }

// RoleOrSelf allows callers holding role, or callers whose id equals args[selfArg].
func RoleOrSelf(role auth.Role, selfArg string) Policy {
	return Policy{Name: NameAuth, Params: map[string]string{
		ParamRole:      string(role),
		ParamAllowSelf: "true",
		ParamSelfArg:   selfArg,
	}}
}

// Self allows only callers whose id equals args[arg].
func Self(arg string) Policy {
	return Policy{Name: NameSelf, Params: map[string]string{ParamArg: arg}}
}

// Owner requires identity.UserID == resource[field] for the kind fetched by args[arg].
func Owner(kind Kind, field, arg string) Policy {
	return relational(NameOwner, kind, field, arg)
}

// OwnerOrAdmin is Admin OR Owner.
func OwnerOrAdmin(kind Kind, field, arg string) Policy {
	return relational(NameOwnerOrAdmin, kind, field, arg)
}

// Member requires the caller to own or belong to the fetched resource.
func Member(kind Kind, arg string) Policy {
	return relational(NameMember, kind, "", arg)
}

// MemberOrAdmin is Admin OR Member.
func MemberOrAdmin(kind Kind, arg string) Policy {
	return relational(NameMemberOrAdmin, kind, "", arg)
}

func relational(name string, kind Kind, field, arg string) Policy {
	params := map[string]string{ParamKind: kind.String()}
	if field != "" {
		params[ParamField] = field
	}
	if arg != "" {
		params[ParamArg] = arg
	}
	return Policy{Name: name, Params: params}
}

type relation int

const (
	relNone relation = iota
	relOwner
	relMember
)

// rule is a compiled policy.
type rule struct {
	policy   string
	public   bool
	role     auth.Role
	selfArg  string
	relation relation
	orAdmin  bool
	kind     Kind
	field    string
	args     []string
}

func compile(p Policy, lookups Lookups) (rule, error) {
	r := rule{policy: p.String()}
	param := func(k string) string { return strings.TrimSpace(p.Params[k]) }
	for k := range p.Params {
		switch k {
		case ParamRole, ParamAllowSelf, ParamSelfArg, ParamKind, ParamField, ParamArg:
		default:
			return rule{}, fmt.Errorf("policy %s: unknown parameter %q", p.Name, k)
		}
	}

	switch p.Name {
	case NamePublic:
		r.public = true
		return r, nil
	case NameAuth:
		if raw := param(ParamRole); raw != "" {
			role, ok := auth.ParseRole(raw)
			if !ok {
				return rule{}, fmt.Errorf("policy %s: unknown role %q", p.Name, raw)
			}
			r.role = role
		}
		if raw := param(ParamAllowSelf); raw != "" {
			allow, err := strconv.ParseBool(raw)
			if err != nil {
				return rule{}, fmt.Errorf("policy %s: allowSelf: %w", p.Name, err)
			}
			if allow {
				r.selfArg = param(ParamSelfArg)
				if r.selfArg == "" {
					r.selfArg = defaultSelfArgKey
				}
			}
		}
		if r.selfArg != "" && r.role == "" {
			return rule{}, fmt.Errorf("policy %s: allowSelf requires a role", p.Name)
		}
		return r, nil
	case NameAdmin:
		r.role = auth.RoleAdmin
		return r, nil
	case NameSelf:
		r.selfArg = param(ParamArg)
		if r.selfArg == "" {
			r.selfArg = defaultSelfArgKey
		}
		return r, nil
	case NameOwner, NameOwnerOrAdmin:
		r.relation = relOwner
		r.field = param(ParamField)
		if r.field == "" {
			r.field = defaultField
		}
		if _, ok := (&Resource{}).Field(r.field); !ok {
			return rule{}, fmt.Errorf("policy %s: unknown field %q", p.Name, r.field)
		}
	case NameMember, NameMemberOrAdmin:
		r.relation = relMember
		if param(ParamField) != "" {
			return rule{}, fmt.Errorf("policy %s: field is not supported", p.Name)
		}
	default:
		return rule{}, fmt.Errorf("unknown policy %q", p.Name)
	}

	r.orAdmin = p.Name == NameOwnerOrAdmin || p.Name == NameMemberOrAdmin
	kind, ok := ParseKind(param(ParamKind))
	if !ok {
		return rule{}, fmt.Errorf("policy %s: unknown resource kind %q", p.Name, param(ParamKind))
	}
	if _, ok := lookups[kind]; !ok {
		return rule{}, fmt.Errorf("policy %s: no lookup registered for %s", p.Name, kind)
	}
	r.kind = kind
	switch arg := param(ParamArg); {
	case arg != "":
		r.args = []string{arg}
	case r.relation == relMember && kind == KindProject:
		r.args = []string{defaultArg, projectFallback}
	default:
		r.args = []string{defaultArg}
	}
	return r, nil
}
