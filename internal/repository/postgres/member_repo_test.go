package postgres

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
)

func TestMemberRepo_RoleFor(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewMemberRepo(db)
	ctx := context.Background()
	vaultID, userID := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT role FROM vault_members WHERE vault_id=\$1 AND user_id=\$2`).
		WithArgs(vaultID, userID).
		WillReturnRows(pgxmock.NewRows([]string{"role"}).AddRow("operator"))
	role, err := r.RoleFor(ctx, vaultID, userID)
	require.NoError(t, err)
	require.Equal(t, model.RoleOperator, role)

	mock.ExpectQuery(`SELECT role FROM vault_members WHERE vault_id=\$1 AND user_id=\$2`).
		WithArgs(vaultID, userID).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.RoleFor(ctx, vaultID, userID)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.KindNotFound, e.Kind)
}

func TestMemberRepo_SetRole(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewMemberRepo(db)
	ctx := context.Background()
	vaultID, userID := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	mock.ExpectExec(`INSERT INTO vault_members`).
		WithArgs(vaultID, userID, "admin").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.SetRole(ctx, vaultID, userID, model.RoleAdmin))
}
