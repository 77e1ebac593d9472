package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/nadalpiantini/omnidrive/pkg/storage"
	"github.com/pkg/errors"
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

type DBInterface interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PostgresStore implements storage.JobStore on the jobs table.
type PostgresStore struct {
	db DBInterface
}

var _ storage.JobStore = (*PostgresStore)(nil)

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin(ctx context.Context) (*PostgresStore, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

const jobColumns = `id, kind, workflow, status, current_step, step_index, total_steps, progress,
	params, result, error, error_kind, created_at, started_at, completed_at`

// CreateJob inserts a new job record
func (s *PostgresStore) CreateJob(ctx context.Context, job models.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (:id, :kind, :workflow, :status, :current_step, :step_index, :total_steps, :progress,
			:params, :result, :error, :error_kind, :created_at, :started_at, :completed_at)`, job)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return errors.Wrap(storage.ErrAlreadyExists, job.ID)
	}
	if err != nil {
		return errors.Wrapf(err, "create job %s", job.ID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (models.Job, error) {
	return s.getJob(ctx, id, "")
}

func (s *PostgresStore) getJob(ctx context.Context, id, suffix string) (models.Job, error) {
	var job models.Job
	err := s.db.GetContext(ctx, &job, "SELECT "+jobColumns+" FROM jobs WHERE id = $1"+suffix, id)
	if err == sql.ErrNoRows {
		return models.Job{}, errors.Wrap(storage.ErrNotFound, id)
	}
	if err != nil {
		return models.Job{}, errors.Wrapf(err, "get job %s", id)
	}
	return job, nil
}

// UpdateJob replaces a job after checking the status transition. The row is
// locked for the check, in a transaction of its own unless s already is one.
func (s *PostgresStore) UpdateJob(ctx context.Context, job models.Job) (err error) {
	tx := s
	if _, ok := s.db.(*sqlx.DB); ok {
		if tx, err = s.Begin(ctx); err != nil {
			return errors.Wrap(err, "begin update")
		}
		defer func() {
			if err != nil {
				tx.Rollback()
				return
			}
			err = tx.Commit()
		}()
	}

	prev, err := tx.getJob(ctx, job.ID, " FOR UPDATE")
	if err != nil {
		return err
	}
	if err := storage.CheckTransition(prev, job); err != nil {
		return err
	}
	_, err = tx.db.NamedExecContext(ctx, `
		UPDATE jobs SET
			status = :status,
			current_step = :current_step,
			step_index = :step_index,
			total_steps = :total_steps,
			progress = :progress,
			params = :params,
			result = :result,
			error = :error,
			error_kind = :error_kind,
			started_at = :started_at,
			completed_at = :completed_at
		WHERE id = :id`, job)
	if err != nil {
		return errors.Wrapf(err, "update job %s", job.ID)
	}
	return nil
}

// ListJobs returns jobs newest first, optionally filtered
func (s *PostgresStore) ListJobs(ctx context.Context, filter storage.JobFilter) ([]models.Job, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Workflow != "" {
		args = append(args, filter.Workflow)
		where = append(where, fmt.Sprintf("workflow = $%d", len(args)))
	}
	query := "SELECT " + jobColumns + " FROM jobs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	jobs := []models.Job{}
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	return jobs, nil
}
