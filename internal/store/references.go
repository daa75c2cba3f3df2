package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lukasbauer/hotline/internal/classifier"
)

// Executor is a service responsible for resolving a category of problems.
type Executor struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Phone       *string   `json:"phone,omitempty"`
	WorkHours   *string   `json:"work_hours,omitempty"`
	Description *string   `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CatalogRecord is a stored catalog entry. Executor holds the joined executor
// name when ExecutorID resolves, else the free-text name.
type CatalogRecord struct {
	classifier.CatalogEntry
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const executorColumns = `id, name, phone, work_hours, description, is_active, created_at, updated_at`

func scanExecutor(row pgx.Row) (*Executor, error) {
	var e Executor
	err := row.Scan(&e.ID, &e.Name, &e.Phone, &e.WorkHours, &e.Description,
		&e.IsActive, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) CreateExecutor(ctx context.Context, e *Executor) (*Executor, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO executors (id, name, phone, work_hours, description, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+executorColumns,
		e.ID, e.Name, e.Phone, e.WorkHours, e.Description, e.IsActive)
	out, err := scanExecutor(row)
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}
	return out, nil
}

func (s *Store) GetExecutor(ctx context.Context, id string) (*Executor, error) {
	row := s.db.QueryRow(ctx, `SELECT `+executorColumns+` FROM executors WHERE id = $1`, id)
	e, err := scanExecutor(row)
	if err != nil {
		return nil, notFound(err, "executor", id)
	}
	return e, nil
}

func (s *Store) ListExecutors(ctx context.Context, activeOnly bool) ([]Executor, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+executorColumns+` FROM executors
		WHERE ($1 = FALSE OR is_active)
		ORDER BY created_at, id
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Executor
	for rows.Next() {
		e, err := scanExecutor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) UpdateExecutor(ctx context.Context, e *Executor) (*Executor, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE executors SET
			name = $2, phone = $3, work_hours = $4, description = $5,
			is_active = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING `+executorColumns,
		e.ID, e.Name, e.Phone, e.WorkHours, e.Description, e.IsActive)
	out, err := scanExecutor(row)
	if err != nil {
		return nil, notFound(err, "executor", e.ID)
	}
	return out, nil
}

func (s *Store) DeleteExecutor(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM executors WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("executor %s: %w", id, ErrNotFound)
	}
	return nil
}

const catalogSelect = `
	SELECT c.id, c.problem, c.type, c.subtype, c.location, c.response,
		c.executor_id, COALESCE(e.name, c.executor_name, ''),
		c.urgency, c.response_time, c.keywords, c.is_active,
		c.created_at, c.updated_at
	FROM catalog_entries c
	LEFT JOIN executors e ON e.id = c.executor_id`

func scanCatalog(row pgx.Row) (*CatalogRecord, error) {
	var (
		r          CatalogRecord
		location   *string
		executorID *string
		urgency    string
	)
	err := row.Scan(&r.ID, &r.Problem, &r.Type, &r.Subtype, &location, &r.Response,
		&executorID, &r.Executor, &urgency, &r.ResponseTime, &r.Keywords, &r.IsActive,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Location = stringOrDefault(location, "")
	r.ExecutorID = stringOrDefault(executorID, "")
	r.Urgency = classifier.Urgency(urgency)
	if r.Keywords == nil {
		r.Keywords = []string{}
	}
	return &r, nil
}

func (s *Store) CreateCatalogEntry(ctx context.Context, e *classifier.CatalogEntry) (*CatalogRecord, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Keywords == nil {
		e.Keywords = []string{}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO catalog_entries (id, problem, type, subtype, location, response,
			executor_id, executor_name, urgency, response_time, keywords, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.ID, e.Problem, e.Type, e.Subtype, nullable(e.Location), e.Response,
		nullable(e.ExecutorID), nullable(e.Executor), string(e.Urgency), e.ResponseTime,
		e.Keywords, e.IsActive)
	if err != nil {
		return nil, fmt.Errorf("create catalog entry: %w", err)
	}
	return s.GetCatalogEntry(ctx, e.ID)
}

func (s *Store) GetCatalogEntry(ctx context.Context, id string) (*CatalogRecord, error) {
	r, err := scanCatalog(s.db.QueryRow(ctx, catalogSelect+` WHERE c.id = $1`, id))
	if err != nil {
		return nil, notFound(err, "catalog entry", id)
	}
	return r, nil
}

// ListCatalogEntries returns entries in insertion order, which is also the
// classifier's tie-break order.
func (s *Store) ListCatalogEntries(ctx context.Context, activeOnly bool) ([]CatalogRecord, error) {
	rows, err := s.db.Query(ctx, catalogSelect+`
		WHERE ($1 = FALSE OR c.is_active)
		ORDER BY c.seq
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CatalogRecord
	for rows.Next() {
		r, err := scanCatalog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCatalogEntry(ctx context.Context, e *classifier.CatalogEntry) (*CatalogRecord, error) {
	if e.Keywords == nil {
		e.Keywords = []string{}
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE catalog_entries SET
			problem = $2, type = $3, subtype = $4, location = $5, response = $6,
			executor_id = $7, executor_name = $8, urgency = $9, response_time = $10,
			keywords = $11, is_active = $12, updated_at = NOW()
		WHERE id = $1
	`, e.ID, e.Problem, e.Type, e.Subtype, nullable(e.Location), e.Response,
		nullable(e.ExecutorID), nullable(e.Executor), string(e.Urgency), e.ResponseTime,
		e.Keywords, e.IsActive)
	if err != nil {
		return nil, fmt.Errorf("update catalog entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("catalog entry %s: %w", e.ID, ErrNotFound)
	}
	return s.GetCatalogEntry(ctx, e.ID)
}

func (s *Store) DeleteCatalogEntry(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM catalog_entries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("catalog entry %s: %w", id, ErrNotFound)
	}
	return nil
}

// ActiveCatalog feeds classifier reloads.
func (s *Store) ActiveCatalog(ctx context.Context) ([]classifier.CatalogEntry, error) {
	records, err := s.ListCatalogEntries(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list active catalog: %w", err)
	}
	out := make([]classifier.CatalogEntry, 0, len(records))
	for _, r := range records {
		out = append(out, r.CatalogEntry)
	}
	return out, nil
}

// SeedCatalog inserts entries only when the catalog table is empty.
func (s *Store) SeedCatalog(ctx context.Context, entries []classifier.CatalogEntry) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var count int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM catalog_entries`).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, e := range entries {
			kws := e.Keywords
			if kws == nil {
				kws = []string{}
			}
			batch.Queue(`
				INSERT INTO catalog_entries (id, problem, type, subtype, location, response,
					executor_id, executor_name, urgency, response_time, keywords, is_active)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			`, e.ID, e.Problem, e.Type, e.Subtype, nullable(e.Location), e.Response,
				nullable(e.ExecutorID), nullable(e.Executor), string(e.Urgency), e.ResponseTime,
				kws, e.IsActive)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		n = len(entries)
		return nil
	})
	return n, err
}
