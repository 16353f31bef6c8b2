package repo

import (
	"context"
	"database/sql"

	"brandforge/internal/domain"
)

const runCols = `id,module_id,brand_id,user_id,status,triggered_by,input_snapshot,output_data,error_message,duration_ms,created_at`

func scanRun(scan func(dest ...any) error) (domain.ModuleRun, error) {
	var m domain.ModuleRun
	var input, output, errMsg sql.NullString
	err := scan(&m.ID, &m.ModuleID, &m.BrandID, &m.UserID, &m.Status, &m.TriggeredBy, &input, &output, &errMsg, &m.DurationMs, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if input.Valid {
		m.InputSnapshot = &input.String
	}
	if output.Valid {
		m.OutputData = &output.String
	}
	if errMsg.Valid {
		m.ErrorMessage = &errMsg.String
	}
	return m, nil
}

func (r Repo) InsertModuleRun(ctx context.Context, run domain.ModuleRun) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO module_runs(`+runCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.ModuleID, run.BrandID, run.UserID, run.Status, run.TriggeredBy,
		nullableStringPtr(run.InputSnapshot), nullableStringPtr(run.OutputData), nullableStringPtr(run.ErrorMessage),
		run.DurationMs, run.CreatedAt)
	return err
}

// CompleteModuleRunTx finalizes a run. Runs are immutable once complete or
// error; this is the only mutation path and only the owning executor calls it.
func (r Repo) CompleteModuleRunTx(ctx context.Context, tx *sql.Tx, id, status string, inputSnapshot, outputData, errMsg *string, durationMs int64) error {
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	res, err := exec(`UPDATE module_runs SET status=?, input_snapshot=?, output_data=?, error_message=?, duration_ms=? WHERE id=? AND status IN ('pending','running')`,
		status, nullableStringPtr(inputSnapshot), nullableStringPtr(outputData), nullableStringPtr(errMsg), durationMs, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetModuleRun(ctx context.Context, id string) (domain.ModuleRun, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+runCols+` FROM module_runs WHERE id=?`, id)
	return scanRun(row.Scan)
}

// LatestCompleteRun returns the most recent complete run of a module for a
// brand. Most-recent-complete-wins is the lookup rule for moduleOutput
// input sources.
func (r Repo) LatestCompleteRun(ctx context.Context, brandID, moduleID string) (domain.ModuleRun, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+runCols+` FROM module_runs WHERE brand_id=? AND module_id=? AND status='complete'
ORDER BY created_at DESC, id DESC LIMIT 1`, brandID, moduleID)
	return scanRun(row.Scan)
}

func (r Repo) ListModuleRuns(ctx context.Context, brandID string, limit int) ([]domain.ModuleRun, error) {
	query := `SELECT ` + runCols + ` FROM module_runs WHERE brand_id=? ORDER BY created_at DESC, id DESC`
	args := []any{brandID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ModuleRun
	for rows.Next() {
		m, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
