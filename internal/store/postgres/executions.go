package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/at/internal/service"
)

// ─── Execution History CRUD ───

type executionRow struct {
	ID         string         `db:"id"`
	WorkflowID string         `db:"workflow_id"`
	Mode       string         `db:"mode"`
	Status     string         `db:"status"`
	Errors     sql.NullString `db:"errors"`
	StartedAt  time.Time      `db:"started_at"`
	FinishedAt time.Time      `db:"finished_at"`
}

func (p *Postgres) ListExecutions(ctx context.Context, workflowID string, limit int) ([]service.Execution, error) {
	if limit <= 0 {
		limit = 50
	}

	sel := p.goqu.From(p.tableExecutions).
		Select("id", "workflow_id", "mode", "status", "errors", "started_at", "finished_at").
		Order(goqu.I("started_at").Desc()).
		Limit(uint(limit))
	if workflowID != "" {
		sel = sel.Where(goqu.I("workflow_id").Eq(workflowID))
	}

	query, _, err := sel.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list executions query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var result []service.Execution
	for rows.Next() {
		var row executionRow
		if err := rows.Scan(&row.ID, &row.WorkflowID, &row.Mode, &row.Status, &row.Errors, &row.StartedAt, &row.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan execution row: %w", err)
		}
		result = append(result, executionRowToRecord(row))
	}

	return result, rows.Err()
}

func (p *Postgres) GetExecution(ctx context.Context, id string) (*service.Execution, error) {
	query, _, err := p.goqu.From(p.tableExecutions).
		Select("id", "workflow_id", "mode", "status", "errors", "started_at", "finished_at").
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get execution query: %w", err)
	}

	var row executionRow
	err = p.db.QueryRowContext(ctx, query).Scan(&row.ID, &row.WorkflowID, &row.Mode, &row.Status, &row.Errors, &row.StartedAt, &row.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %q: %w", id, err)
	}

	rec := executionRowToRecord(row)
	return &rec, nil
}

func (p *Postgres) CreateExecution(ctx context.Context, e service.Execution) (*service.Execution, error) {
	id := e.ID
	if id == "" {
		id = ulid.Make().String()
	}

	startedAt, err := parseTimeOrNow(e.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	finishedAt, err := parseTimeOrNow(e.FinishedAt)
	if err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}

	var errorsVal any
	if e.Errors != "" {
		errorsVal = e.Errors
	}

	query, _, err := p.goqu.Insert(p.tableExecutions).Rows(
		goqu.Record{
			"id":          id,
			"workflow_id": e.WorkflowID,
			"mode":        e.Mode,
			"status":      e.Status,
			"errors":      errorsVal,
			"started_at":  startedAt,
			"finished_at": finishedAt,
		},
	).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build insert execution query: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	return p.GetExecution(ctx, id)
}

func parseTimeOrNow(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

func executionRowToRecord(row executionRow) service.Execution {
	errs := ""
	if row.Errors.Valid {
		errs = row.Errors.String
	}

	return service.Execution{
		ID:         row.ID,
		WorkflowID: row.WorkflowID,
		Mode:       row.Mode,
		Status:     row.Status,
		Errors:     errs,
		StartedAt:  row.StartedAt.Format(time.RFC3339),
		FinishedAt: row.FinishedAt.Format(time.RFC3339),
	}
}
