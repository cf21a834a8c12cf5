package access

import (
	"context"
	"errors"
	"fmt"

	"trullo.app/internal/policy"
	"trullo.app/internal/tracker"
)

// Lookups adapts a tracker store to the policy lookup table. Tasks inherit
// the owner and members of their parent project.
func Lookups(store tracker.Store) policy.Lookups {
	return policy.Lookups{
		policy.KindProject: func(ctx context.Context, id string) (*policy.Resource, error) {
			p, err := store.GetProject(ctx, id)
			if errors.Is(err, tracker.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return projectResource(p), nil
		},
		policy.KindTask: func(ctx context.Context, id string) (*policy.Resource, error) {
			t, err := store.GetTask(ctx, id)
			if errors.Is(err, tracker.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			p, err := store.GetProject(ctx, t.ProjectID)
			if errors.Is(err, tracker.ErrNotFound) {
				return nil, fmt.Errorf("task %s references missing project %s", t.ID, t.ProjectID)
			}
			if err != nil {
				return nil, err
			}
			return &policy.Resource{
				Kind:       policy.KindTask,
				ID:         t.ID,
				OwnerID:    p.OwnerID,
				Members:    p.Members,
				ProjectID:  t.ProjectID,
				AssigneeID: t.AssignedTo,
			}, nil
		},
	}
}

func projectResource(p tracker.Project) *policy.Resource {
	return &policy.Resource{
		Kind:      policy.KindProject,
		ID:        p.ID,
		OwnerID:   p.OwnerID,
		Members:   p.Members,
		ProjectID: p.ID,
	}
}
