package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/edulane/shule/core"
	"github.com/edulane/shule/core/user"
)

// columns whitelisted for ordering; anything else is silently dropped.
var orderableColumns = map[string]struct{}{
	"email":      {},
	"first_name": {},
	"last_name":  {},
	"role":       {},
	"is_active":  {},
	"created_at": {},
}

type dbUser struct {
	ID           int            `db:"id"`
	Email        string         `db:"email"`
	FirstName    string         `db:"first_name"`
	LastName     string         `db:"last_name"`
	Role         string         `db:"role"`
	IsActive     bool           `db:"is_active"`
	ExtraPerms   pq.StringArray `db:"extra_permissions"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func (du dbUser) toUser() user.User {
	usr := user.User{
		ID:               du.ID,
		Email:            du.Email,
		FirstName:        du.FirstName,
		LastName:         du.LastName,
		Role:             user.Role(du.Role),
		IsActive:         du.IsActive,
		ExtraPermissions: du.ExtraPerms,
		PasswordHash:     du.PasswordHash,
		CreatedAt:        du.CreatedAt.UTC(),
		UpdatedAt:        du.UpdatedAt.UTC(),
	}
	if du.LastLogin.Valid {
		usr.LastLogin = du.LastLogin.Time.UTC()
	}
	return usr
}

func fromUser(usr user.User) dbUser {
	du := dbUser{
		ID:           usr.ID,
		Email:        usr.Email,
		FirstName:    usr.FirstName,
		LastName:     usr.LastName,
		Role:         string(usr.Role),
		IsActive:     usr.IsActive,
		ExtraPerms:   pq.StringArray(usr.ExtraPermissions),
		PasswordHash: usr.PasswordHash,
		CreatedAt:    usr.CreatedAt,
		UpdatedAt:    usr.UpdatedAt,
	}
	if !usr.LastLogin.IsZero() {
		du.LastLogin = null.TimeFrom(usr.LastLogin)
	}
	return du
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...user.User) error {
	query := `SELECT COUNT(*) FROM "user" WHERE email = $1`
	args := []interface{}{email}
	if len(excludedUsers) > 0 {
		ids := make([]int, 0, len(excludedUsers))
		for _, usr := range excludedUsers {
			ids = append(ids, usr.ID)
		}
		query += ` AND id != ALL($2)`
		args = append(args, pq.Array(ids))
	}

	var count int
	if err := repo.db.GetContext(ctx, &count, query, args...); err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if count > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	du := fromUser(usr)
	query := `
		INSERT INTO "user" (email, first_name, last_name, role, is_active, extra_permissions, password_hash, created_at, updated_at, last_login)
		VALUES (:email, :first_name, :last_name, :role, :is_active, :extra_permissions, :password_hash, :created_at, :updated_at, :last_login)
		RETURNING id`
	rows, err := repo.db.NamedQueryContext(ctx, query, du)
	if err != nil {
		return user.User{}, errors.Wrap(err, "creating user")
	}
	defer func() { _ = rows.Close() }()

	if rows.Next() {
		if err = rows.Scan(&usr.ID); err != nil {
			return user.User{}, errors.Wrap(err, "scanning user id")
		}
	}
	return usr, rows.Err()
}

func (repo *userRepository) QueryAllUsers(ctx context.Context) ([]user.User, error) {
	var dbUsers []dbUser
	if err := repo.db.SelectContext(ctx, &dbUsers, `SELECT * FROM "user" ORDER BY id`); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return toUsers(dbUsers), nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id int) (user.User, error) {
	var du dbUser
	if err := repo.db.GetContext(ctx, &du, `SELECT * FROM "user" WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "getting user by id")
	}
	return du.toUser(), nil
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var du dbUser
	if err := repo.db.GetContext(ctx, &du, `SELECT * FROM "user" WHERE email = $1`, email); err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "getting user by email")
	}
	return du.toUser(), nil
}

func (repo *userRepository) FilterUsers(ctx context.Context, filter user.QueryFilter, orderings ...core.DBOrdering) ([]user.User, error) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Search != "" {
		p := arg("%" + filter.Search + "%")
		conds = append(conds, fmt.Sprintf("(first_name ILIKE %[1]s OR last_name ILIKE %[1]s OR email ILIKE %[1]s)", p))
	}
	if filter.Roles != nil {
		roles := make([]string, 0, len(filter.Roles))
		for _, r := range filter.Roles {
			roles = append(roles, string(r))
		}
		conds = append(conds, fmt.Sprintf("role = ANY(%s)", arg(pq.Array(roles))))
	}
	if filter.IsActive != nil {
		conds = append(conds, fmt.Sprintf("is_active = %s", arg(*filter.IsActive)))
	}
	if !filter.CreatedFrom.IsZero() {
		conds = append(conds, fmt.Sprintf("created_at >= %s", arg(filter.CreatedFrom)))
	}
	if !filter.CreatedTo.IsZero() {
		conds = append(conds, fmt.Sprintf("created_at <= %s", arg(filter.CreatedTo)))
	}

	query := `SELECT * FROM "user"`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += orderBy(orderings)

	var dbUsers []dbUser
	if err := repo.db.SelectContext(ctx, &dbUsers, query, args...); err != nil {
		return nil, errors.Wrap(err, "filtering users")
	}
	return toUsers(dbUsers), nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	du := fromUser(usr)
	query := `
		UPDATE "user"
		SET email = :email, first_name = :first_name, last_name = :last_name, role = :role,
			is_active = :is_active, extra_permissions = :extra_permissions,
			password_hash = :password_hash, updated_at = :updated_at, last_login = :last_login
		WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, query, du)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...int) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := repo.db.ExecContext(ctx, `DELETE FROM "user" WHERE id = ANY($1)`, pq.Array(ids))
	return errors.Wrap(err, "deleting users")
}

func toUsers(dbUsers []dbUser) []user.User {
	users := make([]user.User, 0, len(dbUsers))
	for _, du := range dbUsers {
		users = append(users, du.toUser())
	}
	return users
}

func orderBy(orderings []core.DBOrdering) string {
	var terms []string
	for _, ord := range orderings {
		if _, ok := orderableColumns[ord.Field]; !ok {
			continue
		}
		terms = append(terms, ord.String())
	}
	if len(terms) == 0 {
		return " ORDER BY id"
	}
	return " ORDER BY " + strings.Join(terms, ", ")
}
