package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/models"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewPostgresStoreFromPool(mock), mock
}

func TestPostgresStore_GetUser_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT id, username, role .* FROM users WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	u, err := s.GetUser(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetUser(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT id, username, role .* FROM users WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "username", "role", "can_verify_faces", "can_manage_users",
			"can_manage_all_faces", "can_view_all_data", "created_at", "updated_at",
		}).AddRow(id, "mara", "manager", true, false, true, true, now, now))

	u, err := s.GetUser(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, models.RoleManager, u.Role)
	assert.True(t, u.Capabilities.CanVerifyFaces)
	assert.False(t, u.Capabilities.CanManageUsers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateUser_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	u := models.NewUser("dup", models.RoleUser)

	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"})

	err := s.CreateUser(context.Background(), u)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishJob_NotProcessing(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE extraction_jobs SET status = \$2 .* WHERE id = \$1 AND status = 'processing'`).
		WithArgs(id, "completed", "ok", 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishJob(context.Background(), id, models.JobOutcome{Status: models.JobCompleted, Message: "ok", FacesCount: 2})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishJob_RejectsNonTerminal(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	err := s.FinishJob(context.Background(), uuid.New(), models.JobOutcome{Status: models.JobProcessing})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithTx_Commit(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ref := models.PersonRef{Type: models.PersonEmployee, ID: uuid.New()}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE faces SET person_type = 'unknown'`).
		WithArgs("employee", ref.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectExec(`DELETE FROM employees WHERE id = \$1`).
		WithArgs(ref.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	var detached int
	err := s.WithTx(context.Background(), func(r Repo) error {
		n, err := r.DetachFaces(context.Background(), ref)
		if err != nil {
			return err
		}
		detached = n
		return r.DeletePerson(context.Background(), ref)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, detached)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithTx_RollbackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ref := models.PersonRef{Type: models.PersonVisitor, ID: uuid.New()}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM visitors WHERE id = \$1`).
		WithArgs(ref.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(r Repo) error {
		return r.DeletePerson(context.Background(), ref)
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT id, file_id, .* FROM extraction_jobs WHERE id = \$1 FOR UPDATE`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	j, err := s.GetJobForUpdate(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, j)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailStaleJobs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := time.Now().Add(-time.Hour)
	id := uuid.New()

	mock.ExpectQuery(`UPDATE extraction_jobs SET status = 'failed'`).
		WithArgs(cutoff, "interrupted").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(id))

	ids, err := s.FailStaleJobs(context.Background(), cutoff, "interrupted")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPerson_RejectsBadType(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	_, err := s.GetPerson(context.Background(), models.PersonRef{Type: "robot", ID: uuid.New()})
	assert.ErrorIs(t, err, apperr.ErrMissingPersonType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPersonForUpdate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT id, name, face_id, .* FROM visitors WHERE id = \$1 FOR UPDATE`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	p, err := s.GetPersonForUpdate(context.Background(), models.PersonRef{Type: models.PersonVisitor, ID: id})
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_FreshDB(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("SELECT pg_advisory_lock").WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").
		WillReturnResult(pgxmock.NewResult("EXEC", 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("001_init.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("SELECT pg_advisory_unlock").WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, Migrate(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_AlreadyApplied(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("SELECT pg_advisory_lock").WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("001_init.sql"))
	mock.ExpectExec("SELECT pg_advisory_unlock").WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, Migrate(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}
