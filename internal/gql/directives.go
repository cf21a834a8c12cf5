package gql

import (
	"context"
	"fmt"
	"sort"

	"github.com/graphql-go/graphql"

	"trullo.app/internal/access"
	"trullo.app/internal/policy"
)

// Directives binds every root field to the catalogued operation guarding
// it. A field missing from the table fails schema construction.
var Directives = map[string]string{
	"Query.me":           access.UserMe,
	"Query.users":        access.UserList,
	"Query.user":         access.UserGet,
	"Query.roles":        access.UserRoles,
	"Query.userTasks":    access.UserTasks,
	"Query.projects":     access.ProjectList,
	"Query.myProjects":   access.ProjectMine,
	"Query.project":      access.ProjectGet,
	"Query.projectTasks": access.ProjectTasks,
	"Query.tasks":        access.TaskList,
	"Query.myTasks":      access.TaskMine,
	"Query.task":         access.TaskGet,
	"Query.taskStatuses": access.TaskStatuses,

	"Mutation.register":        access.AuthRegister,
	"Mutation.login":           access.AuthLogin,
	"Mutation.logout":          access.AuthLogout,
	"Mutation.updateUser":      access.UserUpdate,
	"Mutation.updateUserRole":  access.UserRole,
	"Mutation.changePassword":  access.UserPassword,
	"Mutation.deleteUser":      access.UserDelete,
	"Mutation.createProject":   access.ProjectCreate,
	"Mutation.updateProject":   access.ProjectUpdate,
	"Mutation.deleteProject":   access.ProjectDelete,
	"Mutation.addMember":       access.ProjectMembersAdd,
	"Mutation.removeMember":    access.ProjectMembersRemove,
	"Mutation.joinProject":     access.ProjectJoin,
	"Mutation.leaveProject":    access.ProjectLeave,
	"Mutation.transferProject": access.ProjectTransfer,
	"Mutation.addTask":         access.TaskCreate,
	"Mutation.updateTask":      access.TaskUpdate,
	"Mutation.deleteTask":      access.TaskDelete,
}

// applyDirectives wraps each field resolver with its operation's guard.
// seen collects the table keys consumed.
func applyDirectives(typeName string, fields graphql.Fields, table map[string]string, guards *access.Guards, seen map[string]bool) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		key := typeName + "." + name
		op, ok := table[key]
		if !ok {
			return fmt.Errorf("gql: field %s has no policy directive", key)
		}
		rules, err := guards.Rules(op)
		if err != nil {
			return fmt.Errorf("gql: field %s: %w", key, err)
		}
		f := fields[name]
		if f.Resolve == nil {
			return fmt.Errorf("gql: field %s has no resolver", key)
		}
		f.Resolve = guarded(guards.Enforcer(), rules, f.Resolve)
		seen[key] = true
	}
	return nil
}

func checkUnused(table map[string]string, seen map[string]bool) error {
	for key := range table {
		if !seen[key] {
			return fmt.Errorf("gql: directive for unknown field %s", key)
		}
	}
	return nil
}

// guarded evaluates rules with a cache scoped to this one resolver call.
func guarded(e *policy.Enforcer, rules *policy.Rules, next graphql.FieldResolveFn) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		ctx := p.Context
		if ctx == nil {
			ctx = context.Background()
		}
		op := e.Wrap(rules, func(ctx context.Context, _ policy.Args) (any, error) {
			p.Context = ctx
			return next(p)
		})
		v, err := op(policy.WithCache(ctx), policy.Args(p.Args))
		if err != nil {
			return nil, toError(err)
		}
		return v, nil
	}
}
