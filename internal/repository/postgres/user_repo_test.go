package postgres

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

func TestUserRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	u := &model.User{
		ID:           uuid.Must(uuid.NewV4()),
		Email:        "alice@example.com",
		KDFSalt:      []byte("s"),
		PasswordHash: []byte("h"),
		Status:       model.UserActive,
	}

	mock.ExpectExec(`INSERT INTO users \(id, email, kdf_salt, password_hash, status\) VALUES \(\$1, \$2, \$3, \$4, \$5\)`).
		WithArgs(u.ID, u.Email, u.KDFSalt, u.PasswordHash, "active").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, u))

	mock.ExpectExec(`INSERT INTO users \(id, email, kdf_salt, password_hash, status\) VALUES \(\$1, \$2, \$3, \$4, \$5\)`).
		WithArgs(u.ID, u.Email, u.KDFSalt, u.PasswordHash, "active").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	err := r.Create(ctx, u)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.KindConflict, e.Kind)
}

func TestUserRepo_GetByID(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT id, email, kdf_salt, password_hash, status, created_at FROM users WHERE id=\$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "kdf_salt", "password_hash", "status", "created_at"}).
			AddRow(id, "alice@example.com", []byte("s"), []byte("h"), "active", pgxmock.AnyArg()))
	u, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, u.ID)

	mock.ExpectQuery(`SELECT id, email, kdf_salt, password_hash, status, created_at FROM users WHERE id=\$1`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByID(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUserRepo_GetByEmail(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	email := "bob@example.com"
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT id, email, kdf_salt, password_hash, status, created_at FROM users WHERE email=\$1`).
		WithArgs(email).
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "kdf_salt", "password_hash", "status", "created_at"}).
			AddRow(id, email, []byte("s"), []byte("h"), "active", pgxmock.AnyArg()))
	u, err := r.GetByEmail(ctx, email)
	require.NoError(t, err)
	require.Equal(t, email, u.Email)

	mock.ExpectQuery(`SELECT id, email, kdf_salt, password_hash, status, created_at FROM users WHERE email=\$1`).
		WithArgs(email).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByEmail(ctx, email)
	require.ErrorIs(t, err, errs.ErrNotFound)
}
