package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"brandforge/internal/config"
	"brandforge/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const brandCols = `id,owner_id,name,COALESCE(sector,'') AS sector,phase,status,COALESCE(answers_json,'{}') AS answers_json,created_at,updated_at`

func scanBrand(scan func(dest ...any) error) (domain.Brand, error) {
	var b domain.Brand
	var answersJSON string
	err := scan(&b.ID, &b.OwnerID, &b.Name, &b.Sector, &b.Phase, &b.Status, &answersJSON, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	if answersJSON != "" {
		_ = json.Unmarshal([]byte(answersJSON), &b.Answers)
	}
	if b.Answers == nil {
		b.Answers = map[string]string{}
	}
	return b, nil
}

func (r Repo) InsertBrandTx(ctx context.Context, tx *sql.Tx, b domain.Brand) error {
	answers, err := marshalAnswers(b.Answers)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO brands(id,owner_id,name,sector,phase,status,answers_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		b.ID, b.OwnerID, b.Name, nullable(b.Sector), b.Phase, b.Status, answers, b.CreatedAt, b.UpdatedAt)
	return err
}

func (r Repo) GetBrand(ctx context.Context, id string) (domain.Brand, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+brandCols+` FROM brands WHERE id=?`, id)
	return scanBrand(row.Scan)
}

// GetBrandTx re-reads the brand inside a transaction; phase transitions use
// it so the expected source phase is checked against committed state.
func (r Repo) GetBrandTx(ctx context.Context, tx *sql.Tx, id string) (domain.Brand, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+brandCols+` FROM brands WHERE id=?`, id)
	return scanBrand(row.Scan)
}

func (r Repo) ListBrands(ctx context.Context, ownerID string) ([]domain.Brand, error) {
	query := `SELECT ` + brandCols + ` FROM brands`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id=?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Brand
	for rows.Next() {
		b, err := scanBrand(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) UpdateBrandPhaseTx(ctx context.Context, tx *sql.Tx, id, phase, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE brands SET phase=?, status=?, updated_at=? WHERE id=?`, phase, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateBrandAnswersTx(ctx context.Context, tx *sql.Tx, id string, answers map[string]string, updatedAt string) error {
	payload, err := marshalAnswers(answers)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE brands SET answers_json=?, updated_at=? WHERE id=?`, payload, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteBrand(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM brands WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const slotCols = `id,brand_id,type,status,content,version,error_message,updated_at`

func scanSlot(scan func(dest ...any) error) (domain.Slot, error) {
	var s domain.Slot
	var content, errMsg sql.NullString
	err := scan(&s.ID, &s.BrandID, &s.Type, &s.Status, &content, &s.Version, &errMsg, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if content.Valid {
		s.Content = &content.String
	}
	if errMsg.Valid {
		s.ErrorMessage = &errMsg.String
	}
	return s, nil
}

func (r Repo) InsertSlotTx(ctx context.Context, tx *sql.Tx, s domain.Slot) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO slots(id,brand_id,type,status,content,version,error_message,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.BrandID, s.Type, s.Status, nullableStringPtr(s.Content), s.Version, nullableStringPtr(s.ErrorMessage), s.UpdatedAt)
	return err
}

func (r Repo) GetSlot(ctx context.Context, brandID, slotType string) (domain.Slot, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+slotCols+` FROM slots WHERE brand_id=? AND type=?`, brandID, slotType)
	return scanSlot(row.Scan)
}

func (r Repo) GetSlotTx(ctx context.Context, tx *sql.Tx, brandID, slotType string) (domain.Slot, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+slotCols+` FROM slots WHERE brand_id=? AND type=?`, brandID, slotType)
	return scanSlot(row.Scan)
}

func (r Repo) ListSlots(ctx context.Context, brandID string) ([]domain.Slot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+slotCols+` FROM slots WHERE brand_id=? ORDER BY type ASC`, brandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Slot
	for rows.Next() {
		s, err := scanSlot(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateSlotContentTx writes new content, bumps the version and clears or
// sets the error message.
func (r Repo) UpdateSlotContentTx(ctx context.Context, tx *sql.Tx, brandID, slotType, content, status string, errMsg *string, updatedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE slots SET content=?, status=?, error_message=?, version=version+1, updated_at=? WHERE brand_id=? AND type=?`,
		content, status, nullableStringPtr(errMsg), updatedAt, brandID, slotType)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateSlotStatusTx(ctx context.Context, tx *sql.Tx, brandID, slotType, status string, errMsg *string, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE slots SET status=?, error_message=?, updated_at=? WHERE brand_id=? AND type=?`,
		status, nullableStringPtr(errMsg), updatedAt, brandID, slotType)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetStudy(ctx context.Context, brandID string) (domain.Study, error) {
	var s domain.Study
	err := r.DB.QueryRowContext(ctx, `SELECT id,brand_id,data_json,created_at FROM studies WHERE brand_id=?`, brandID).
		Scan(&s.ID, &s.BrandID, &s.DataJSON, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) UpsertStudy(ctx context.Context, s domain.Study) error {
	if s.CreatedAt == "" {
		s.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO studies(id,brand_id,data_json,created_at) VALUES (?,?,?,?)
ON CONFLICT(brand_id) DO UPDATE SET data_json=excluded.data_json`, s.ID, s.BrandID, s.DataJSON, s.CreatedAt)
	return err
}

// EventsAfter returns up to limit events with id greater than cursor,
// oldest first; used by the log command and the webhook dispatcher.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, brandID string) ([]domain.Event, error) {
	clauses := []string{"id > ?"}
	args := []any{cursor}
	if brandID != "" {
		clauses = append(clauses, "brand_id=?")
		args = append(args, brandID)
	}
	query := `SELECT id,ts,type,COALESCE(brand_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.BrandID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, brandID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if brandID != "" {
		clauses = append(clauses, "brand_id=?")
		args = append(args, brandID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	query := `SELECT id,ts,type,COALESCE(brand_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.BrandID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context, brandID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	args := []any{}
	if brandID != "" {
		query += ` WHERE brand_id=?`
		args = append(args, brandID)
	}
	var id int64
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id)
	return id, err
}

func (r Repo) GetWorkspaceConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM workspace_config WHERE id=1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

func (r Repo) UpsertWorkspaceConfig(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO workspace_config(id,config_json,created_at,updated_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, string(payload), now, now)
	return err
}

func marshalAnswers(answers map[string]string) (string, error) {
	if answers == nil {
		answers = map[string]string{}
	}
	b, err := json.Marshal(answers)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
