package gql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/graphql-go/graphql"

	"trullo.app/internal/access"
	"trullo.app/internal/auth"
	"trullo.app/internal/tracker"
)

type resolver struct {
	svc   *tracker.Service
	authn *auth.Authenticator
	types *objectTypes
}

// NewSchema builds the schema with every root field guarded through
// Directives.
func NewSchema(svc *tracker.Service, guards *access.Guards, authn *auth.Authenticator) (graphql.Schema, error) {
	return buildSchema(svc, guards, authn, Directives)
}

func buildSchema(svc *tracker.Service, guards *access.Guards, authn *auth.Authenticator, table map[string]string) (graphql.Schema, error) {
	r := &resolver{svc: svc, authn: authn}
	r.types = newObjectTypes(r)
	query, mutation := r.queryFields(), r.mutationFields()

	seen := make(map[string]bool, len(table))
	if err := applyDirectives("Query", query, table, guards, seen); err != nil {
		return graphql.Schema{}, err
	}
	if err := applyDirectives("Mutation", mutation, table, guards, seen); err != nil {
		return graphql.Schema{}, err
	}
	if err := checkUnused(table, seen); err != nil {
		return graphql.Schema{}, err
	}

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query:    graphql.NewObject(graphql.ObjectConfig{Name: "Query", Fields: query}),
		Mutation: graphql.NewObject(graphql.ObjectConfig{Name: "Mutation", Fields: mutation}),
	})
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("gql: build schema: %w", err)
	}
	return schema, nil
}

func nonNull(t graphql.Input) graphql.Input { return graphql.NewNonNull(t) }

func argString(p graphql.ResolveParams, name string) string {
	switch v := p.Args[name].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return ""
}

func argOptString(p graphql.ResolveParams, name string) *string {
	if _, ok := p.Args[name]; !ok {
		return nil
	}
	s := argString(p, name)
	return &s
}

func argStrings(p graphql.ResolveParams, name string) ([]string, bool) {
	raw, ok := p.Args[name].([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

func argStatus(p graphql.ResolveParams, name string) (tracker.TaskStatus, bool) {
	switch v := p.Args[name].(type) {
	case tracker.TaskStatus:
		return v, true
	case string:
		return tracker.TaskStatus(v), true
	}
	return "", false
}

func argPage(p graphql.ResolveParams) tracker.PageRequest {
	req := tracker.DefaultPageRequest()
	if v, ok := p.Args["page"].(int); ok {
		req.Page = v
	}
	if v, ok := p.Args["limit"].(int); ok {
		req.Limit = v
	}
	return req
}

func (r *resolver) queryFields() graphql.Fields {
	return graphql.Fields{
		"me": &graphql.Field{
			Type: r.types.user,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return r.svc.Me(p.Context)
			},
		},
		"users": &graphql.Field{
			Type: r.types.userPage,
			Args: withPaging(graphql.FieldConfigArgument{
				"search": &graphql.ArgumentConfig{Type: graphql.String},
			}),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return r.svc.ListUsers(p.Context, tracker.UserFilter{Search: argString(p, "search")}, argPage(p))
			},
		},
		"user": &graphql.Field{
			Type: r.types.user,
			Args: graphql.FieldConfigArgument{"id": &graphql.ArgumentConfig{Type: nonNull(graphql.ID)}},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return r.svc.GetUser(p.Context, argString(p, "id"))
			},
		},
		"roles": &graphql.Field{
			Type: graphql.NewList(graphql.NewNonNull(roleEnum)),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return r.svc.Roles(), nil
			},
		},
		"userTasks": &graphql.Field{
			Type: r.types.taskPage,
			Args: withPaging(graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: nonNull(graphql.ID)},
			}),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return r.svc.UserTasks(p.Context, argString(p, "id"), argPage(p))
			},
		},
		"projects": &graphql.Field{
			Type: r.types.projectPage,
			Args: withPaging(graphql.FieldConfigArgument{
				"search":   &graphql.ArgumentConfig{Type: graphql.String},
				"ownerId":  &graphql.ArgumentConfig{Type: graphql.ID},
				"memberId": &graphql.ArgumentConfig{Type: graphql.ID},
			}),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return r.svc.ListProjects(p.Context, tracker.ProjectFilter{
					Search:   argString(p, "search"),
					OwnerID:  argString(p, "ownerId"),
					MemberID: argString(p, "memberId"),
				}, argPage(p))
			},
		},
		"myProjects": &graphql.Field{
			Type: r.types.projectPage,
			Args: withPaging(graphql.FieldConfigArgument{
				"search": &graphql.ArgumentConfig{Type: graphql.String},
			}),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return r.svc.MyProjects(p.Context, argString(p, "search"), argPage(p))
			},
		},
		"project": &graphql.Field{
			Type: r.types.project,
			Args: graphql.FieldConfigArgument{"id": &graphql.ArgumentConfig{Type: nonNull(graphql.ID)}},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return r.svc.GetProject(p.Context, argString(p, "id"))
			},
		},
		"projectTasks": &graphql.Field{
			Type: r.types.taskPage,
			Args: withPaging(graphql.FieldConfigArgument{
				"projectId": &graphql.ArgumentConfig{Type: nonNull(graphql.ID)},
				"status":    &graphql.ArgumentConfig{Type: taskStatusEnum},
			}),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				status, _ := argStatus(p, "status")
				return r.svc.ProjectTasks(p.Context, argString(p, "projectId"), status, argPage(p))
			},
		},
		"tasks": &graphql.Field{
			Type: r.types.taskPage,
			Args: withPaging(graphql.FieldConfigArgument{
				"projectId":  &graphql.ArgumentConfig{Type: graphql.ID},
				"assignedTo": &graphql.ArgumentConfig{Type: graphql.ID},
				"status":     &graphql.ArgumentConfig{Type: taskStatusEnum},
			}),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				status, _ := argStatus(p, "status")
				return r.svc.ListTasks(p.Context, tracker.TaskFilter{
					ProjectID:  argString(p, "projectId"),
					AssignedTo: argString(p, "assignedTo"),
					Status:     status,
				}, argPage(p))
			},
		},
		"myTasks": &graphql.Field{
			Type: r.types.taskPage,
			Args: withPaging(nil),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return r.svc.MyTasks(p.Context, argPage(p))
			},
		},
		"task": &graphql.Field{
			Type: r.types.task,
			Args: graphql.FieldConfigArgument{"id": &graphql.ArgumentConfig{Type: nonNull(graphql.ID)}},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return r.svc.GetTask(p.Context, argString(p, "id"))
			},
		},
		"taskStatuses": &graphql.Field{
			Type: graphql.NewList(graphql.NewNonNull(taskStatusEnum)),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return r.svc.TaskStatuses(), nil
			},
		},
	}
}

func (r *resolver) mutationFields() graphql.Fields {
	return graphql.Fields{
		"register": &graphql.Field{
			Type: r.types.authPayload,
			Args: graphql.FieldConfigArgument{
				"name":     &graphql.ArgumentConfig{Type: graphql.String},
				"email":    &graphql.ArgumentConfig{Type: nonNull(graphql.String)},
				"password": &graphql.ArgumentConfig{Type: nonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				u, err := r.svc.Register(p.Context, tracker.RegisterInput{
					Name:     argString(p, "name"),
					Email:    argString(p, "email"),
					Password: argString(p, "password"),
				})
				if err != nil {
					return nil, err
				}
				return r.startSession(p.Context, u)
			},
		},
		"login": &graphql.Field{
			Type: r.types.authPayload,
			Args: graphql.FieldConfigArgument{
				"email":    &graphql.ArgumentConfig{Type: nonNull(graphql.String)},
				"password": &graphql.ArgumentConfig{Type: nonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				u, err := r.svc.Login(p.Context, argString(p, "email"), argString(p, "password"))
				if err != nil {
					return nil, err
				}
				return r.startSession(p.Context, u)
			},
		},
		"logout": &graphql.Field{
			Type: graphql.Boolean,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if err := r.svc.Logout(p.Context); err != nil {
					return nil, err
				}
				if s := sessionFromContext(p.Context); s != nil {
					s.end()
				}
				return true, nil
			},
		},
		"updateUser": &graphql.Field{
			Type: r.types.user,
			Args: graphql.FieldConfigArgument{
				"id":              &graphql.ArgumentConfig{Type: nonNull(graphql.ID)},
				"name":            &graphql.ArgumentConfig{Type: graphql.String},
				"email":           &graphql.ArgumentConfig{Type: graphql.String},
				"password":        &graphql.ArgumentConfig{Type: graphql.String},
				"currentPassword": &graphql.ArgumentConfig{Type: graphql.String},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return r.svc.UpdateUser(p.Context, argString(p, "id"), tracker.UserUpdate{
					Name:            argOptString(p, "name"),
					Email:           argOptString(p, "email"),
					Password:        argOptString(p, "password"),
					CurrentPassword: argString(p, "currentPassword"),
				})
			},
		},
		"updateUserRole": &graphql.Field{
			Type: r.types.user,
			Args: graphql.FieldConfigArgument{
				"id":   &graphql.ArgumentConfig{Type: nonNull(graphql.ID)},
				"role": &graphql.ArgumentConfig{Type: nonNull(roleEnum)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				role, ok := p.Args["role"].(auth.Role)
				if !ok {
					return nil, fmt.Errorf("%w: role is required", tracker.ErrInvalidInput)
				}
				return r.svc.UpdateUserRole(p.Context, argString(p, "id"), role)
			},
		},
		"changePassword": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{
				"id":              &graphql.ArgumentConfig{Type: nonNull(graphql.ID)},
				"currentPassword": &graphql.ArgumentConfig{Type: nonNull(graphql.String)},
				"newPassword":     &graphql.ArgumentConfig{Type: nonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				err := r.svc.ChangePassword(p.Context, argString(p, "id"), argString(p, "currentPassword"), argString(p, "newPassword"))
				return err == nil, err
			},
		},
		"deleteUser": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{"id": &graphql.ArgumentConfig{Type: nonNull(graphql.ID)}},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				id := argString(p, "id")
				if err := r.svc.DeleteUser(p.Context, id); err != nil {
					return nil, err
				}
				if uid, _ := auth.UserIDFromContext(p.Context); uid == strings.TrimSpace(id) {
					if s := sessionFromContext(p.Context); s != nil {
						s.end()
					}
				}
				return true, nil
			},
		},
		"createProject": &graphql.Field{
			Type: r.types.project,
			Args: graphql.FieldConfigArgument{
				"title":       &graphql.ArgumentConfig{Type: nonNull(graphql.String)},
				"description": &graphql.ArgumentConfig{Type: graphql.String},
				"ownerId":     &graphql.ArgumentConfig{Type: graphql.ID},
				"members":     &graphql.ArgumentConfig{Type: graphql.NewList(graphql.NewNonNull(graphql.ID))},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				members, _ := argStrings(p, "members")
				return r.svc.CreateProject(p.Context, tracker.ProjectInput{
					Title:       argString(p, "title"),
					Description: argString(p, "description"),
					OwnerID:     argString(p, "ownerId"),
					Members:     members,
				})
			},
		},
		"updateProject": &graphql.Field{
			Type: r.types.project,
			Args: graphql.FieldConfigArgument{
				"id":          &graphql.ArgumentConfig{Type: nonNull(graphql.ID)},
				"title":       &graphql.ArgumentConfig{Type: graphql.String},
				"description": &graphql.ArgumentConfig{Type: graphql.String},
				"members":     &graphql.ArgumentConfig{Type: graphql.NewList(graphql.NewNonNull(graphql.ID))},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				in := tracker.ProjectUpdate{
					Title:       argOptString(p, "title"),
					Description: argOptString(p, "description"),
				}
				if members, ok := argStrings(p, "members"); ok {
					in.Members = &members
				}
				return r.svc.UpdateProject(p.Context, argString(p, "id"), in)
			},
		},
		"deleteProject": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{"id": &graphql.ArgumentConfig{Type: nonNull(graphql.ID)}},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				err := r.svc.DeleteProject(p.Context, argString(p, "id"))
				return err == nil, err
			},
		},
		"addMember": &graphql.Field{
			Type: r.types.project,
			Args: graphql.FieldConfigArgument{
				"id":     &graphql.ArgumentConfig{Type: nonNull(graphql.ID)},
				"userId": &graphql.ArgumentConfig{Type: nonNull(graphql.ID)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return r.svc.AddMember(p.Context, argString(p, "id"), argString(p, "userId"))
			},
		},
		"removeMember": &graphql.Field{
			Type: r.types.project,
			Args: graphql.FieldConfigArgument{
				"id":     &graphql.ArgumentConfig{Type: nonNull(graphql.ID)},
				"userId": &graphql.ArgumentConfig{Type: nonNull(graphql.ID)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return r.svc.RemoveMember(p.Context, argString(p, "id"), argString(p, "userId"))
			},
		},
		"joinProject": &graphql.Field{
			Type: r.types.project,
			Args: graphql.FieldConfigArgument{"id": &graphql.ArgumentConfig{Type: nonNull(graphql.ID)}},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return r.svc.JoinProject(p.Context, argString(p, "id"))
			},
		},
		"leaveProject": &graphql.Field{
			Type: r.types.project,
			Args: graphql.FieldConfigArgument{"id": &graphql.ArgumentConfig{Type: nonNull(graphql.ID)}},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return r.svc.LeaveProject(p.Context, argString(p, "id"))
			},
		},
		"transferProject": &graphql.Field{
			Type: r.types.project,
			Args: graphql.FieldConfigArgument{
				"id":      &graphql.ArgumentConfig{Type: nonNull(graphql.ID)},
				"ownerId": &graphql.ArgumentConfig{Type: nonNull(graphql.ID)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return r.svc.TransferProject(p.Context, argString(p, "id"), argString(p, "ownerId"))
			},
		},
		"addTask": &graphql.Field{
			Type: r.types.task,
			Args: graphql.FieldConfigArgument{
				"projectId":   &graphql.ArgumentConfig{Type: nonNull(graphql.ID)},
				"title":       &graphql.ArgumentConfig{Type: nonNull(graphql.String)},
				"description": &graphql.ArgumentConfig{Type: graphql.String},
				"status":      &graphql.ArgumentConfig{Type: taskStatusEnum},
				"assignedTo":  &graphql.ArgumentConfig{Type: graphql.ID},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				status, _ := argStatus(p, "status")
				return r.svc.CreateTask(p.Context, tracker.TaskInput{
					ProjectID:   argString(p, "projectId"),
					Title:       argString(p, "title"),
					Description: argString(p, "description"),
					Status:      status,
					AssignedTo:  argString(p, "assignedTo"),
				})
			},
		},
		"updateTask": &graphql.Field{
			Type: r.types.task,
			Args: graphql.FieldConfigArgument{
				"id":          &graphql.ArgumentConfig{Type: nonNull(graphql.ID)},
				"title":       &graphql.ArgumentConfig{Type: graphql.String},
				"description": &graphql.ArgumentConfig{Type: graphql.String},
				"status":      &graphql.ArgumentConfig{Type: taskStatusEnum},
				"assignedTo":  &graphql.ArgumentConfig{Type: graphql.ID},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				in := tracker.TaskUpdate{
					Title:       argOptString(p, "title"),
					Description: argOptString(p, "description"),
					AssignedTo:  argOptString(p, "assignedTo"),
				}
				if status, ok := argStatus(p, "status"); ok {
					in.Status = &status
				}
				return r.svc.UpdateTask(p.Context, argString(p, "id"), in)
			},
		},
		"deleteTask": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{"id": &graphql.ArgumentConfig{Type: nonNull(graphql.ID)}},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				err := r.svc.DeleteTask(p.Context, argString(p, "id"))
				return err == nil, err
			},
		},
	}
}

type authPayload struct {
	User      tracker.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

func (r *resolver) startSession(ctx context.Context, u tracker.User) (interface{}, error) {
	token, exp, err := r.authn.Tokens().Issue(auth.Identity{UserID: u.ID, Role: u.Role})
	if err != nil {
		return nil, err
	}
	if s := sessionFromContext(ctx); s != nil {
		s.start(token, exp)
	}
	return authPayload{User: u, Token: token, ExpiresAt: exp}, nil
}
