// Package access binds tracker operations to authorization policies. Both
// the REST and GraphQL transports resolve their guards from this one table.
package access

import (
	"fmt"
	"sort"

	"trullo.app/internal/auth"
	"trullo.app/internal/policy"
)

// Operation names.
const (
	AuthRegister = "auth.register"
	AuthLogin    = "auth.login"
	AuthLogout   = "auth.logout"

	UserMe       = "user.me"
	UserList     = "user.list"
	UserGet      = "user.get"
	UserRoles    = "user.roles"
	UserUpdate   = "user.update"
	UserDelete   = "user.delete"
	UserTasks    = "user.tasks"
	UserRole     = "user.role"
	UserPassword = "user.password"

	ProjectList          = "project.list"
	ProjectMine          = "project.mine"
	ProjectCreate        = "project.create"
	ProjectJoin          = "project.join"
	ProjectGet           = "project.get"
	ProjectUpdate        = "project.update"
	ProjectDelete        = "project.delete"
	ProjectTransfer      = "project.transfer"
	ProjectMembersAdd    = "project.members.add"
	ProjectMembersRemove = "project.members.remove"
	ProjectLeave         = "project.leave"
	ProjectTasks         = "project.tasks"

	TaskCreate   = "task.create"
	TaskList     = "task.list"
	TaskMine     = "task.mine"
	TaskStatuses = "task.statuses"
	TaskGet      = "task.get"
	TaskUpdate   = "task.update"
	TaskDelete   = "task.delete"
)

// Catalog maps every operation to its ordered policy list.
var Catalog = map[string][]policy.Policy{
	AuthRegister: {policy.Public()},
	AuthLogin:    {policy.Public()},
	AuthLogout:   {policy.Public()},

	UserMe:       {policy.Authenticated()},
	UserList:     {policy.Authenticated()},
	UserGet:      {policy.Authenticated()},
	UserRoles:    {policy.Authenticated()},
	UserUpdate:   {policy.RoleOrSelf(auth.RoleAdmin, "id")},
	UserDelete:   {policy.RoleOrSelf(auth.RoleAdmin, "id")},
	UserTasks:    {policy.RoleOrSelf(auth.RoleAdmin, "id")},
	UserRole:     {policy.Admin()},
	UserPassword: {policy.Self("id")},

	ProjectList:          {policy.Authenticated()},
	ProjectMine:          {policy.Authenticated()},
	ProjectCreate:        {policy.Authenticated()},
	ProjectJoin:          {policy.Authenticated()},
	ProjectGet:           {policy.MemberOrAdmin(policy.KindProject, "")},
	ProjectUpdate:        {policy.OwnerOrAdmin(policy.KindProject, "ownerId", "id")},
	ProjectDelete:        {policy.OwnerOrAdmin(policy.KindProject, "ownerId", "id")},
	ProjectTransfer:      {policy.Owner(policy.KindProject, "ownerId", "id")},
	ProjectMembersAdd:    {policy.OwnerOrAdmin(policy.KindProject, "ownerId", "id")},
	ProjectMembersRemove: {policy.OwnerOrAdmin(policy.KindProject, "ownerId", "id")},
	ProjectLeave:         {policy.Member(policy.KindProject, "")},
	ProjectTasks:         {policy.MemberOrAdmin(policy.KindProject, "")},

	TaskCreate:   {policy.MemberOrAdmin(policy.KindProject, "")},
	TaskList:     {policy.Admin()},
	TaskMine:     {policy.Authenticated()},
	TaskStatuses: {policy.Authenticated()},
	TaskGet:      {policy.MemberOrAdmin(policy.KindTask, "id")},
	TaskUpdate:   {policy.MemberOrAdmin(policy.KindTask, "id")},
	TaskDelete:   {policy.MemberOrAdmin(policy.KindTask, "id")},
}

// Operations returns every catalogued operation name, sorted.
func Operations() []string {
	out := make([]string, 0, len(Catalog))
	for name := range Catalog {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Guards holds the compiled rules for every catalogued operation.
type Guards struct {
	enforcer *policy.Enforcer
	rules    map[string]*policy.Rules
}

// Compile builds rules for every catalogued operation. Any invalid policy
// fails the whole table.
func Compile(e *policy.Enforcer) (*Guards, error) {
	g := &Guards{enforcer: e, rules: make(map[string]*policy.Rules, len(Catalog))}
	for _, name := range Operations() {
		r, err := e.Compile(name, Catalog[name]...)
		if err != nil {
			return nil, err
		}
		g.rules[name] = r
	}
	return g, nil
}

// Enforcer returns the enforcer the rules were compiled with.
func (g *Guards) Enforcer() *policy.Enforcer { return g.enforcer }

// Rules returns compiled rules for op.
func (g *Guards) Rules(op string) (*policy.Rules, error) {
	r, ok := g.rules[op]
	if !ok {
		return nil, fmt.Errorf("access: unknown operation %q", op)
	}
	return r, nil
}

// MustRules is Rules for table-driven wiring at startup.
func (g *Guards) MustRules(op string) *policy.Rules {
	r, err := g.Rules(op)
	if err != nil {
		panic(err)
	}
	return r
}
