package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/models"
)

// dbtx is the query surface shared by the pool and a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is satisfied by *pgxpool.Pool and by pgxmock pools.
type Pool interface {
	dbtx
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type scanner interface {
	Scan(dest ...any) error
}

// queries implements Repo against either the pool or an open transaction.
type queries struct {
	db dbtx
}

type PostgresStore struct {
	queries
	pool Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return NewPostgresStoreFromPool(pool), nil
}

// NewPostgresStoreFromPool wraps an existing pool.
func NewPostgresStoreFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{queries: queries{db: pool}, pool: pool}
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.pool)
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Repo) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&queries{db: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			slog.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func wrapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w (%s)", op, apperr.ErrConflict, pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func jsonArray[T any](v []T) ([]byte, error) {
	if v == nil {
		v = []T{}
	}
	return json.Marshal(v)
}

func unmarshalArray[T any](data []byte, dst *[]T) error {
	if len(data) == 0 {
		*dst = nil
		return nil
	}
	return json.Unmarshal(data, dst)
}

// --- Users ---

const userColumns = `id, username, role, can_verify_faces, can_manage_users, can_manage_all_faces, can_view_all_data, created_at, updated_at`

func scanUser(row scanner) (*models.User, error) {
	var (
		u    models.User
		role string
	)
	err := row.Scan(&u.ID, &u.Username, &role,
		&u.Capabilities.CanVerifyFaces, &u.Capabilities.CanManageUsers,
		&u.Capabilities.CanManageAllFaces, &u.Capabilities.CanViewAllData,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	return &u, nil
}

func (q *queries) CreateUser(ctx context.Context, u *models.User) error {
	c := u.Capabilities
	err := q.db.QueryRow(ctx,
		`INSERT INTO users (id, username, role, can_verify_faces, can_manage_users, can_manage_all_faces, can_view_all_data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at, updated_at`,
		u.ID, u.Username, string(u.Role), c.CanVerifyFaces, c.CanManageUsers, c.CanManageAllFaces, c.CanViewAllData,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return wrapErr("create user", err)
	}
	return nil
}

func (q *queries) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (q *queries) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

func (q *queries) UpdateUser(ctx context.Context, u *models.User) error {
	c := u.Capabilities
	err := q.db.QueryRow(ctx,
		`UPDATE users SET role = $2, can_verify_faces = $3, can_manage_users = $4, can_manage_all_faces = $5,
		 can_view_all_data = $6, updated_at = now() WHERE id = $1 RETURNING updated_at`,
		u.ID, string(u.Role), c.CanVerifyFaces, c.CanManageUsers, c.CanManageAllFaces, c.CanViewAllData,
	).Scan(&u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("update user %s: %w", u.ID, apperr.ErrNotFound)
		}
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (q *queries) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// --- Faces ---

const faceColumns = `id, image_key, additional_images, feature_version, quality, person_type, person_id, active,
	verification_status, uploaded_by, verified_by, verification_date, verification_note, proposed_labels,
	selected_label, source_job_id, created_at, updated_at`

func scanFace(row scanner) (*models.Face, error) {
	var (
		f                    models.Face
		images, labels       []byte
		personType, verified string
	)
	err := row.Scan(&f.ID, &f.ImageKey, &images, &f.FeatureVersion, &f.Quality, &personType, &f.PersonID, &f.Active,
		&verified, &f.UploadedBy, &f.VerifiedBy, &f.VerificationDate, &f.VerificationNote, &labels,
		&f.SelectedLabel, &f.SourceJobID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.PersonType = models.PersonType(personType)
	f.VerificationStatus = models.VerificationStatus(verified)
	if err := unmarshalArray(images, &f.AdditionalImages); err != nil {
		return nil, fmt.Errorf("decode additional images: %w", err)
	}
	var proposals []models.LabelProposal
	if err := unmarshalArray(labels, &proposals); err != nil {
		return nil, fmt.Errorf("decode proposed labels: %w", err)
	}
	f.ProposedLabels = proposals
	return &f, nil
}

func (q *queries) CreateFace(ctx context.Context, f *models.Face) error {
	images, err := jsonArray(f.AdditionalImages)
	if err != nil {
		return fmt.Errorf("encode additional images: %w", err)
	}
	labels, err := jsonArray(f.ProposedLabels)
	if err != nil {
		return fmt.Errorf("encode proposed labels: %w", err)
	}
	var vec *pgvector.Vector
	if len(f.Embedding) > 0 {
		v := pgvector.NewVector(f.Embedding)
		vec = &v
	}
	err = q.db.QueryRow(ctx,
		`INSERT INTO faces (id, image_key, additional_images, embedding, feature_version, quality, person_type, person_id,
		 active, verification_status, uploaded_by, verified_by, verification_date, verification_note, proposed_labels,
		 selected_label, source_job_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 RETURNING created_at, updated_at`,
		f.ID, f.ImageKey, images, vec, f.FeatureVersion, f.Quality, string(f.PersonType), f.PersonID,
		f.Active, string(f.VerificationStatus), f.UploadedBy, f.VerifiedBy, f.VerificationDate, f.VerificationNote, labels,
		f.SelectedLabel, f.SourceJobID,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return wrapErr("create face", err)
	}
	return nil
}

func (q *queries) getFace(ctx context.Context, id uuid.UUID, suffix string) (*models.Face, error) {
	f, err := scanFace(q.db.QueryRow(ctx, `SELECT `+faceColumns+` FROM faces WHERE id = $1`+suffix, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get face: %w", err)
	}
	return f, nil
}

func (q *queries) GetFace(ctx context.Context, id uuid.UUID) (*models.Face, error) {
	return q.getFace(ctx, id, "")
}

func (q *queries) GetFaceForUpdate(ctx context.Context, id uuid.UUID) (*models.Face, error) {
	return q.getFace(ctx, id, " FOR UPDATE")
}

func (q *queries) UpdateFace(ctx context.Context, f *models.Face) error {
	images, err := jsonArray(f.AdditionalImages)
	if err != nil {
		return fmt.Errorf("encode additional images: %w", err)
	}
	labels, err := jsonArray(f.ProposedLabels)
	if err != nil {
		return fmt.Errorf("encode proposed labels: %w", err)
	}
	err = q.db.QueryRow(ctx,
		`UPDATE faces SET image_key = $2, additional_images = $3, quality = $4, person_type = $5, person_id = $6,
		 active = $7, verification_status = $8, verified_by = $9, verification_date = $10, verification_note = $11,
		 proposed_labels = $12, selected_label = $13, updated_at = now()
		 WHERE id = $1 RETURNING updated_at`,
		f.ID, f.ImageKey, images, f.Quality, string(f.PersonType), f.PersonID,
		f.Active, string(f.VerificationStatus), f.VerifiedBy, f.VerificationDate, f.VerificationNote,
		labels, f.SelectedLabel,
	).Scan(&f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("update face %s: %w", f.ID, apperr.ErrNotFound)
		}
		return wrapErr("update face", err)
	}
	return nil
}

func (q *queries) ListFaces(ctx context.Context, filter models.FaceFilter) ([]models.Face, error) {
	where := "WHERE TRUE"
	var args []any
	argIdx := 1

	if filter.UploadedBy != nil {
		where += fmt.Sprintf(" AND uploaded_by = $%d", argIdx)
		args = append(args, *filter.UploadedBy)
		argIdx++
	}
	if filter.VerificationStatus != "" {
		where += fmt.Sprintf(" AND verification_status = $%d", argIdx)
		args = append(args, string(filter.VerificationStatus))
		argIdx++
	}
	if filter.Person != nil {
		where += fmt.Sprintf(" AND person_type = $%d AND person_id = $%d", argIdx, argIdx+1)
		args = append(args, string(filter.Person.Type), filter.Person.ID)
		argIdx += 2
	}
	if filter.ActiveOnly {
		where += " AND active"
	}

	query := fmt.Sprintf(`SELECT %s FROM faces %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		faceColumns, where, argIdx, argIdx+1)
	args = append(args, clampLimit(filter.Limit), filter.Offset)

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list faces: %w", err)
	}
	defer rows.Close()

	var faces []models.Face
	for rows.Next() {
		f, err := scanFace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		faces = append(faces, *f)
	}
	return faces, rows.Err()
}

func (q *queries) SearchFaces(ctx context.Context, embedding []float32, threshold float64, limit int) ([]FaceMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(embedding)

	rows, err := q.db.Query(ctx, `
		SELECT id, person_type, person_id, 1 - (embedding <=> $1) AS score
		FROM faces
		WHERE active AND embedding IS NOT NULL
		  AND person_id IS NOT NULL AND verification_status <> 'rejected'
		  AND 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT $3`, vec, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("search faces: %w", err)
	}
	defer rows.Close()

	var matches []FaceMatch
	for rows.Next() {
		var (
			m          FaceMatch
			personType string
		)
		if err := rows.Scan(&m.FaceID, &personType, &m.PersonID, &m.Score); err != nil {
			return nil, fmt.Errorf("scan search match: %w", err)
		}
		m.PersonType = models.PersonType(personType)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (q *queries) DetachFaces(ctx context.Context, ref models.PersonRef) (int, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE faces SET person_type = 'unknown', person_id = NULL, active = false, updated_at = now()
		 WHERE person_type = $1 AND person_id = $2`,
		string(ref.Type), ref.ID)
	if err != nil {
		return 0, fmt.Errorf("detach faces: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Jobs ---

const jobColumns = `id, file_id, file_name, file_type, source_key, uploaded_by, session_id, status,
	processing_message, faces_count, clusters, is_labeled, created_at, updated_at`

func scanJob(row scanner) (*models.ExtractionJob, error) {
	var (
		j                models.ExtractionJob
		fileType, status string
		clusters         []byte
	)
	err := row.Scan(&j.ID, &j.FileID, &j.FileName, &fileType, &j.SourceKey, &j.UploadedBy, &j.SessionID, &status,
		&j.ProcessingMessage, &j.FacesCount, &clusters, &j.IsLabeled, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.FileType = models.MediaKind(fileType)
	j.Status = models.JobStatus(status)
	if err := unmarshalArray(clusters, &j.Clusters); err != nil {
		return nil, fmt.Errorf("decode clusters: %w", err)
	}
	return &j, nil
}

func (q *queries) CreateJob(ctx context.Context, j *models.ExtractionJob) error {
	clusters, err := jsonArray(j.Clusters)
	if err != nil {
		return fmt.Errorf("encode clusters: %w", err)
	}
	err = q.db.QueryRow(ctx,
		`INSERT INTO extraction_jobs (id, file_id, file_name, file_type, source_key, uploaded_by, session_id, status,
		 processing_message, faces_count, clusters, is_labeled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING created_at, updated_at`,
		j.ID, j.FileID, j.FileName, string(j.FileType), j.SourceKey, j.UploadedBy, j.SessionID, string(j.Status),
		j.ProcessingMessage, j.FacesCount, clusters, j.IsLabeled,
	).Scan(&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return wrapErr("create job", err)
	}
	return nil
}

func (q *queries) getJob(ctx context.Context, id uuid.UUID, suffix string) (*models.ExtractionJob, error) {
	j, err := scanJob(q.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM extraction_jobs WHERE id = $1`+suffix, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (q *queries) GetJob(ctx context.Context, id uuid.UUID) (*models.ExtractionJob, error) {
	return q.getJob(ctx, id, "")
}

func (q *queries) GetJobForUpdate(ctx context.Context, id uuid.UUID) (*models.ExtractionJob, error) {
	return q.getJob(ctx, id, " FOR UPDATE")
}

func (q *queries) ListJobs(ctx context.Context, filter models.JobFilter) ([]models.ExtractionJob, error) {
	where := "WHERE TRUE"
	var args []any
	argIdx := 1

	if filter.UploadedBy != nil {
		where += fmt.Sprintf(" AND uploaded_by = $%d", argIdx)
		args = append(args, *filter.UploadedBy)
		argIdx++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}

	query := fmt.Sprintf(`SELECT %s FROM extraction_jobs %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, clampLimit(filter.Limit), filter.Offset)

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.ExtractionJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (q *queries) FinishJob(ctx context.Context, id uuid.UUID, out models.JobOutcome) error {
	if !models.CanTransition(models.JobProcessing, out.Status) {
		return fmt.Errorf("finish job %s as %s: %w", id, out.Status, apperr.ErrInvalidState)
	}
	clusters, err := jsonArray(out.Clusters)
	if err != nil {
		return fmt.Errorf("encode clusters: %w", err)
	}
	tag, err := q.db.Exec(ctx,
		`UPDATE extraction_jobs SET status = $2, processing_message = $3, faces_count = $4, clusters = $5, updated_at = now()
		 WHERE id = $1 AND status = 'processing'`,
		id, string(out.Status), out.Message, out.FacesCount, clusters)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish job %s: %w", id, apperr.ErrInvalidState)
	}
	return nil
}

func (q *queries) UpdateJobClusters(ctx context.Context, id uuid.UUID, clusters []models.Cluster) error {
	data, err := jsonArray(clusters)
	if err != nil {
		return fmt.Errorf("encode clusters: %w", err)
	}
	tag, err := q.db.Exec(ctx,
		`UPDATE extraction_jobs SET clusters = $2, updated_at = now() WHERE id = $1`, id, data)
	if err != nil {
		return fmt.Errorf("update job clusters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job clusters %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (q *queries) MarkJobLabeled(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE extraction_jobs SET is_labeled = true, updated_at = now() WHERE id = $1 AND status = 'completed'`, id)
	if err != nil {
		return fmt.Errorf("mark job labeled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark job labeled %s: %w", id, apperr.ErrInvalidState)
	}
	return nil
}

func (q *queries) FailStaleJobs(ctx context.Context, cutoff time.Time, message string) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx,
		`UPDATE extraction_jobs SET status = 'failed', processing_message = $2, updated_at = now()
		 WHERE status = 'processing' AND updated_at < $1 RETURNING id`,
		cutoff, message)
	if err != nil {
		return nil, fmt.Errorf("fail stale jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale job: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
