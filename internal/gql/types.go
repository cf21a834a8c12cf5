package gql

import (
	"errors"

	"github.com/graphql-go/graphql"

	"trullo.app/internal/auth"
	"trullo.app/internal/tracker"
)

var roleEnum = graphql.NewEnum(graphql.EnumConfig{
	Name: "Role",
	Values: graphql.EnumValueConfigMap{
		string(auth.RoleUser):  &graphql.EnumValueConfig{Value: auth.RoleUser},
		string(auth.RoleAdmin): &graphql.EnumValueConfig{Value: auth.RoleAdmin},
	},
})

var taskStatusEnum = graphql.NewEnum(graphql.EnumConfig{
	Name: "TaskStatus",
	Values: graphql.EnumValueConfigMap{
		string(tracker.StatusToDo):       &graphql.EnumValueConfig{Value: tracker.StatusToDo},
		string(tracker.StatusInProgress): &graphql.EnumValueConfig{Value: tracker.StatusInProgress},
		string(tracker.StatusBlocked):    &graphql.EnumValueConfig{Value: tracker.StatusBlocked},
		string(tracker.StatusDone):       &graphql.EnumValueConfig{Value: tracker.StatusDone},
	},
})

// objectTypes holds the object types of one schema. Nested fields resolve
// through the schema's service, so they are built per schema.
type objectTypes struct {
	user        *graphql.Object
	project     *graphql.Object
	task        *graphql.Object
	userPage    *graphql.Object
	projectPage *graphql.Object
	taskPage    *graphql.Object
	authPayload *graphql.Object
}

func newObjectTypes(r *resolver) *objectTypes {
	t := &objectTypes{}
	t.user = graphql.NewObject(graphql.ObjectConfig{
		Name: "User",
		Fields: graphql.Fields{
			"id":        &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			"name":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"email":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"role":      &graphql.Field{Type: graphql.NewNonNull(roleEnum)},
			"createdAt": &graphql.Field{Type: graphql.NewNonNull(graphql.DateTime)},
			"updatedAt": &graphql.Field{Type: graphql.NewNonNull(graphql.DateTime)},
		},
	})
	t.project = graphql.NewObject(graphql.ObjectConfig{
		Name: "Project",
		Fields: graphql.Fields{
			"id":          &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			"title":       &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"description": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"ownerId":     &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			"members":     &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.ID)))},
			"membersList": &graphql.Field{Type: graphql.NewList(t.user), Resolve: r.membersList},
			"createdAt":   &graphql.Field{Type: graphql.NewNonNull(graphql.DateTime)},
			"updatedAt":   &graphql.Field{Type: graphql.NewNonNull(graphql.DateTime)},
		},
	})
	t.task = graphql.NewObject(graphql.ObjectConfig{
		Name: "Task",
		Fields: graphql.Fields{
			"id":          &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			"projectId":   &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			"title":       &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"description": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"status":      &graphql.Field{Type: graphql.NewNonNull(taskStatusEnum)},
			"assignedTo":  &graphql.Field{Type: graphql.ID, Resolve: emptyAsNull("assignedTo")},
			"user":        &graphql.Field{Type: t.user, Resolve: r.assignee},
			"finishedAt":  &graphql.Field{Type: graphql.DateTime, Resolve: finishedAt},
			"finishedBy":  &graphql.Field{Type: graphql.ID, Resolve: emptyAsNull("finishedBy")},
			"createdAt":   &graphql.Field{Type: graphql.NewNonNull(graphql.DateTime)},
			"updatedAt":   &graphql.Field{Type: graphql.NewNonNull(graphql.DateTime)},
		},
	})
	t.userPage = pageType("UserPage", t.user)
	t.projectPage = pageType("ProjectPage", t.project)
	t.taskPage = pageType("TaskPage", t.task)
	t.authPayload = graphql.NewObject(graphql.ObjectConfig{
		Name: "AuthPayload",
		Fields: graphql.Fields{
			"user":      &graphql.Field{Type: graphql.NewNonNull(t.user)},
			"token":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"expiresAt": &graphql.Field{Type: graphql.NewNonNull(graphql.DateTime)},
		},
	})
	return t
}

func pageType(name string, item graphql.Output) *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: name,
		Fields: graphql.Fields{
			"items":           &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(item)))},
			"totalCount":      &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"hasNextPage":     &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"hasPreviousPage": &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"currentPage":     &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"totalPages":      &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		},
	})
}

// membersList expands member ids into users. Members deleted since the
// project was read are skipped.
func (r *resolver) membersList(p graphql.ResolveParams) (interface{}, error) {
	proj, ok := p.Source.(tracker.Project)
	if !ok {
		return nil, nil
	}
	users := make([]tracker.User, 0, len(proj.Members))
	for _, id := range proj.Members {
		u, err := r.svc.GetUser(p.Context, id)
		if errors.Is(err, tracker.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, toError(err)
		}
		users = append(users, u)
	}
	return users, nil
}

// assignee resolves Task.user, null when the task is unassigned.
func (r *resolver) assignee(p graphql.ResolveParams) (interface{}, error) {
	t, ok := p.Source.(tracker.Task)
	if !ok || t.AssignedTo == "" {
		return nil, nil
	}
	u, err := r.svc.GetUser(p.Context, t.AssignedTo)
	if errors.Is(err, tracker.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, toError(err)
	}
	return u, nil
}

// emptyAsNull reports optional id fields stored as "" as null.
func emptyAsNull(field string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		t, ok := p.Source.(tracker.Task)
		if !ok {
			return nil, nil
		}
		var v string
		switch field {
		case "assignedTo":
			v = t.AssignedTo
		case "finishedBy":
			v = t.FinishedBy
		}
		if v == "" {
			return nil, nil
		}
		return v, nil
	}
}

func finishedAt(p graphql.ResolveParams) (interface{}, error) {
	t, ok := p.Source.(tracker.Task)
	if !ok || t.FinishedAt == nil {
		return nil, nil
	}
	return *t.FinishedAt, nil
}

var pageArgs = graphql.FieldConfigArgument{
	"page":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: tracker.DefaultPage},
	"limit": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: tracker.DefaultLimit},
}

func withPaging(args graphql.FieldConfigArgument) graphql.FieldConfigArgument {
	out := graphql.FieldConfigArgument{}
	for k, v := range pageArgs {
		out[k] = v
	}
	for k, v := range args {
		out[k] = v
	}
	return out
}
