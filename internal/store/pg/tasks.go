package pg

import (
	"context"
	"database/sql"

	"trullo.app/internal/tracker"
)

const taskColumns = `id, project_id, title, description, status, assigned_to, finished_at, finished_by, created_at, updated_at`

func scanTask(row rowScanner) (tracker.Task, error) {
	var (
		t          tracker.Task
		status     string
		assignee   sql.NullString
		finishedAt sql.NullTime
		finishedBy sql.NullString
	)
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &status, &assignee, &finishedAt, &finishedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return tracker.Task{}, err
	}
	t.Status = tracker.TaskStatus(status)
	t.AssignedTo = assignee.String
	t.FinishedBy = finishedBy.String
	if finishedAt.Valid {
		ts := finishedAt.Time
		t.FinishedAt = &ts
	}
	return t, nil
}

func finishedAtValue(t tracker.Task) sql.NullTime {
	if t.FinishedAt == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t.FinishedAt, Valid: true}
}

func (s *Store) CreateTask(ctx context.Context, t tracker.Task) (tracker.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into tasks (id, project_id, title, description, status, assigned_to, finished_at, finished_by, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning `+taskColumns,
		t.ID, t.ProjectID, t.Title, t.Description, string(t.Status), nullable(t.AssignedTo),
		finishedAtValue(t), nullable(t.FinishedBy), t.CreatedAt, t.UpdatedAt)
	created, err := scanTask(row)
	if err != nil {
		return tracker.Task{}, mapError(err)
	}
	return created, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (tracker.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `select `+taskColumns+` from tasks where id = $1`, id))
	return t, mapError(err)
}

func (s *Store) ListTasks(ctx context.Context, f tracker.TaskFilter, page tracker.PageRequest) (tracker.Page[tracker.Task], error) {
	var w filter
	if f.ProjectID != "" {
		w.add(`project_id = ?`, f.ProjectID)
	}
	if f.AssignedTo != "" {
		w.add(`assigned_to = ?`, f.AssignedTo)
	}
	if f.Status != "" {
		w.add(`status = ?`, string(f.Status))
	}
	total, err := s.count(ctx, `select count(*) from tasks`+w.where(), w.args)
	if err != nil {
		return tracker.Page[tracker.Task]{}, err
	}
	limit, args := w.page(page)
	rows, err := s.db.QueryContext(ctx, `select `+taskColumns+` from tasks`+w.where()+` order by created_at, id`+limit, args...)
	if err != nil {
		return tracker.Page[tracker.Task]{}, err
	}
	defer rows.Close()

	var items []tracker.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return tracker.Page[tracker.Task]{}, err
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return tracker.Page[tracker.Task]{}, err
	}
	return tracker.NewPage(items, total, page), nil
}

func (s *Store) UpdateTask(ctx context.Context, t tracker.Task) (tracker.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		update tasks
		set title = $2, description = $3, status = $4, assigned_to = $5,
		    finished_at = $6, finished_by = $7, updated_at = $8
		where id = $1
		returning `+taskColumns,
		t.ID, t.Title, t.Description, string(t.Status), nullable(t.AssignedTo),
		finishedAtValue(t), nullable(t.FinishedBy), t.UpdatedAt)
	updated, err := scanTask(row)
	if err != nil {
		return tracker.Task{}, mapError(err)
	}
	return updated, nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from tasks where id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return tracker.ErrNotFound
	}
	return nil
}
