package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/foxxcyber/dococr/internal/models"
)

var ErrRunNotFound = errors.New("run not found")

const runColumns = `id, kind, status, input_digest, input_name, backend, page_count, failed_pages,
	text_length, error_kind, error_message, elapsed_ms, created_at`

// CreateRun records a finished OCR run
func (db *DB) CreateRun(ctx context.Context, req *models.CreateRunRequest) (*models.OCRRun, error) {
	run := &models.OCRRun{}

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO ocr_runs (kind, status, input_digest, input_name, backend, page_count, failed_pages,
		                      text_length, error_kind, error_message, elapsed_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+runColumns,
		req.Kind, req.Status, req.InputDigest, req.InputName, req.Backend, req.PageCount, req.FailedPages,
		req.TextLength, req.ErrorKind, req.ErrorMessage, req.ElapsedMS,
	).Scan(scanTargets(run)...)

	if err != nil {
		return nil, err
	}

	return run, nil
}

// GetRunByID retrieves a run by ID
func (db *DB) GetRunByID(ctx context.Context, id int) (*models.OCRRun, error) {
	run := &models.OCRRun{}

	err := db.Pool.QueryRow(ctx, `SELECT `+runColumns+` FROM ocr_runs WHERE id = $1`, id).Scan(scanTargets(run)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	return run, nil
}

// ListRuns returns a page of runs, newest first, and the total matching count
func (db *DB) ListRuns(ctx context.Context, params *models.RunListParams) ([]*models.OCRRun, int, error) {
	var (
		conditions []string
		args       []interface{}
	)

	if params.Kind != nil && *params.Kind != "" {
		args = append(args, *params.Kind)
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if params.Status != nil && *params.Status != "" {
		args = append(args, *params.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	err := db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM ocr_runs "+whereClause, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM ocr_runs %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		runColumns, whereClause, len(args)-1, len(args))

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	runs := []*models.OCRRun{}
	for rows.Next() {
		run := &models.OCRRun{}
		if err := rows.Scan(scanTargets(run)...); err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return runs, total, nil
}

// CleanupRuns deletes runs older than the given age
func (db *DB) CleanupRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := db.Pool.Exec(ctx, `DELETE FROM ocr_runs WHERE created_at < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

func scanTargets(run *models.OCRRun) []interface{} {
	return []interface{}{
		&run.ID, &run.Kind, &run.Status, &run.InputDigest, &run.InputName, &run.Backend,
		&run.PageCount, &run.FailedPages, &run.TextLength, &run.ErrorKind, &run.ErrorMessage,
		&run.ElapsedMS, &run.CreatedAt,
	}
}
