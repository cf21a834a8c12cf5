package pg

import (
	"context"

	"trullo.app/internal/auth"
	"trullo.app/internal/tracker"
)

const userColumns = `id, name, email, password_hash, role, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (tracker.User, error) {
	var (
		u    tracker.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return tracker.User{}, err
	}
	u.Role = auth.Role(role)
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u tracker.User) (tracker.User, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, name, email, password_hash, role, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+userColumns,
		u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.CreatedAt, u.UpdatedAt)
	created, err := scanUser(row)
	if err != nil {
		return tracker.User{}, mapError(err)
	}
	return created, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (tracker.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	return u, mapError(err)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (tracker.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where lower(email) = lower($1)`, email))
	return u, mapError(err)
}

func (s *Store) ListUsers(ctx context.Context, f tracker.UserFilter, page tracker.PageRequest) (tracker.Page[tracker.User], error) {
	var w filter
	if f.Search != "" {
		w.add(`(name ilike ? or email ilike ?)`, likePattern(f.Search))
	}
	total, err := s.count(ctx, `select count(*) from users`+w.where(), w.args)
	if err != nil {
		return tracker.Page[tracker.User]{}, err
	}
	limit, args := w.page(page)
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users`+w.where()+` order by created_at, id`+limit, args...)
	if err != nil {
		return tracker.Page[tracker.User]{}, err
	}
	defer rows.Close()

	var items []tracker.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return tracker.Page[tracker.User]{}, err
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return tracker.Page[tracker.User]{}, err
	}
	return tracker.NewPage(items, total, page), nil
}

func (s *Store) UpdateUser(ctx context.Context, u tracker.User) (tracker.User, error) {
	row := s.db.QueryRowContext(ctx, `
		update users
		set name = $2, email = $3, password_hash = $4, role = $5, updated_at = $6
		where id = $1
		returning `+userColumns,
		u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.UpdatedAt)
	updated, err := scanUser(row)
	if err != nil {
		return tracker.User{}, mapError(err)
	}
	return updated, nil
}

// DeleteUser relies on cascades for memberships and assignments. Owning a
// project blocks deletion.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var owned int
	if err := tx.QueryRowContext(ctx, `select count(*) from projects where owner_id = $1`, id).Scan(&owned); err != nil {
		return err
	}
	if owned > 0 {
		return tracker.ErrConflict
	}
	res, err := tx.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return tracker.ErrConflict
		}
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return tracker.ErrNotFound
	}
	return tx.Commit()
}
