package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"identity-service/internal/domain"
	"identity-service/internal/ports"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"

	usersEmailConstraint = "users_email_key"
)

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Users() ports.UserRepository             { return userRepo{db: s.db} }
func (s *Store) Roles() ports.RoleRepository             { return roleRepo{db: s.db} }
func (s *Store) Permissions() ports.PermissionRepository { return permissionRepo{db: s.db} }

type userRepo struct{ db *sql.DB }

func (r userRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	err := r.db.QueryRowContext(ctx, `
		insert into users (id, email, password_hash, full_name, is_active, created_at)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at
	`, user.ID, user.Email, user.PasswordHash, nullIfEmpty(user.FullName), user.IsActive, user.CreatedAt).Scan(&user.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			if pgErr.ConstraintName == usersEmailConstraint {
				return domain.User{}, domain.ErrDuplicateEmail
			}
			return domain.User{}, domain.ErrAlreadyExists
		}
		return domain.User{}, err
	}
	user.Roles = []domain.Role{}
	return user, nil
}

func (r userRepo) GetByID(ctx context.Context, userID string) (domain.User, error) {
	return r.get(ctx, `
		select id, email, password_hash, coalesce(full_name, ''), is_active, created_at
		from users
		where id = $1
	`, userID)
}

func (r userRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.get(ctx, `
		select id, email, password_hash, coalesce(full_name, ''), is_active, created_at
		from users
		where email = $1
	`, email)
}

func (r userRepo) get(ctx context.Context, query string, arg string) (domain.User, error) {
	var user domain.User
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&user.ID, &user.Email, &user.PasswordHash, &user.FullName, &user.IsActive, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}

	rows, err := r.db.QueryContext(ctx, `
		select r.id, r.name, p.code
		from user_roles ur
		join roles r on r.id = ur.role_id
		left join role_permissions rp on rp.role_id = r.id
		left join permissions p on p.id = rp.permission_id
		where ur.user_id = $1
		order by r.name, p.code
	`, user.ID)
	if err != nil {
		return domain.User{}, err
	}
	user.Roles, err = scanRoles(rows)
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (r userRepo) AssignRole(ctx context.Context, userID, roleName string) error {
	var roleID string
	err := r.db.QueryRowContext(ctx, `select id from roles where name = $1`, roleName).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id)
		values ($1, $2)
		on conflict do nothing
	`, userID, roleID)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return domain.ErrNotFound
	}
	return err
}

func (r userRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

type roleRepo struct{ db *sql.DB }

func (r roleRepo) Create(ctx context.Context, role domain.Role) error {
	_, err := r.db.ExecContext(ctx, `insert into roles (id, name) values ($1, $2)`, role.ID, role.Name)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return domain.ErrAlreadyExists
	}
	return err
}

func (r roleRepo) GetByName(ctx context.Context, name string) (domain.Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		select r.id, r.name, p.code
		from roles r
		left join role_permissions rp on rp.role_id = r.id
		left join permissions p on p.id = rp.permission_id
		where r.name = $1
		order by p.code
	`, name)
	if err != nil {
		return domain.Role{}, err
	}
	roles, err := scanRoles(rows)
	if err != nil {
		return domain.Role{}, err
	}
	if len(roles) == 0 {
		return domain.Role{}, domain.ErrNotFound
	}
	return roles[0], nil
}

func (r roleRepo) List(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		select r.id, r.name, p.code
		from roles r
		left join role_permissions rp on rp.role_id = r.id
		left join permissions p on p.id = rp.permission_id
		order by r.name, p.code
	`)
	if err != nil {
		return nil, err
	}
	return scanRoles(rows)
}

func (r roleRepo) GrantPermission(ctx context.Context, roleName, code string) error {
	res, err := r.db.ExecContext(ctx, `
		insert into role_permissions (role_id, permission_id)
		select r.id, p.id
		from roles r, permissions p
		where r.name = $1 and p.code = $2
		on conflict do nothing
	`, roleName, code)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	// Nothing inserted: either already granted or one side is missing.
	var exists bool
	err = r.db.QueryRowContext(ctx, `
		select exists (select 1 from roles where name = $1)
		   and exists (select 1 from permissions where code = $2)
	`, roleName, code).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return nil
}

type permissionRepo struct{ db *sql.DB }

func (r permissionRepo) Create(ctx context.Context, permission domain.Permission) error {
	_, err := r.db.ExecContext(ctx, `
		insert into permissions (id, code, description, created_at)
		values ($1, $2, $3, $4)
	`, permission.ID, permission.Code, nullIfEmpty(permission.Description), permission.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return domain.ErrAlreadyExists
	}
	return err
}

func (r permissionRepo) List(ctx context.Context) ([]domain.Permission, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, code, coalesce(description, ''), created_at
		from permissions
		order by code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.Permission{}
	for rows.Next() {
		var p domain.Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// scanRoles folds (role id, role name, permission code) rows ordered by role
// into roles with their permission codes.
func scanRoles(rows *sql.Rows) ([]domain.Role, error) {
	defer rows.Close()
	result := []domain.Role{}
	for rows.Next() {
		var (
			id, name string
			code     sql.NullString
		)
		if err := rows.Scan(&id, &name, &code); err != nil {
			return nil, err
		}
		if n := len(result); n == 0 || result[n-1].ID != id {
			result = append(result, domain.Role{ID: id, Name: name, Permissions: []string{}})
		}
		if code.Valid {
			last := &result[len(result)-1]
			last.Permissions = append(last.Permissions, code.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
