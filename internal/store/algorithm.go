package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type StepKind string

const (
	StepGreeting StepKind = "greeting"
	StepQuestion StepKind = "question"
	StepResponse StepKind = "response"
	StepFarewell StepKind = "farewell"
	StepTransfer StepKind = "transfer"
)

func (k StepKind) Valid() bool {
	switch k {
	case StepGreeting, StepQuestion, StepResponse, StepFarewell, StepTransfer:
		return true
	}
	return false
}

// Step is one scripted turn. Next names the order of the following step;
// when nil the next higher order follows.
type Step struct {
	Order        int      `json:"order"`
	Kind         StepKind `json:"type"`
	Text         string   `json:"text"`
	Next         *int     `json:"next,omitempty"`
	WaitForInput bool     `json:"wait_for_input"`
	SaveTo       string   `json:"save_to,omitempty"`
}

type ConversationAlgorithm struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     *string   `json:"description,omitempty"`
	TriggerKeywords []string  `json:"trigger_keywords"`
	CatalogIDs      []string  `json:"classifier_ids"`
	Steps           []Step    `json:"steps"`
	IsDefault       bool      `json:"is_default"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Validate checks step kinds and next-step linkage.
func (a *ConversationAlgorithm) Validate() error {
	if a.Name == "" {
		return errors.New("algorithm name is required")
	}
	orders := make(map[int]bool, len(a.Steps))
	for _, s := range a.Steps {
		if !s.Kind.Valid() {
			return fmt.Errorf("step %d: unknown kind %q", s.Order, s.Kind)
		}
		if orders[s.Order] {
			return fmt.Errorf("step %d: duplicate order", s.Order)
		}
		orders[s.Order] = true
	}
	for _, s := range a.Steps {
		if s.Next != nil && !orders[*s.Next] {
			return fmt.Errorf("step %d: next step %d does not exist", s.Order, *s.Next)
		}
	}
	return nil
}

// FirstStep returns the step with the lowest order.
func (a *ConversationAlgorithm) FirstStep() (Step, bool) {
	if len(a.Steps) == 0 {
		return Step{}, false
	}
	first := a.Steps[0]
	for _, s := range a.Steps[1:] {
		if s.Order < first.Order {
			first = s
		}
	}
	return first, true
}

// NextStep follows the explicit link from the step at order, else the next
// higher order. Farewell and transfer steps end the script.
func (a *ConversationAlgorithm) NextStep(order int) (Step, bool) {
	var (
		cur   Step
		found bool
	)
	for _, s := range a.Steps {
		if s.Order == order {
			cur, found = s, true
			break
		}
	}
	if !found || cur.Kind == StepFarewell || cur.Kind == StepTransfer {
		return Step{}, false
	}
	if cur.Next != nil {
		for _, s := range a.Steps {
			if s.Order == *cur.Next {
				return s, true
			}
		}
		return Step{}, false
	}

	var (
		next Step
		ok   bool
	)
	for _, s := range a.Steps {
		if s.Order > order && (!ok || s.Order < next.Order) {
			next, ok = s, true
		}
	}
	return next, ok
}

const algorithmColumns = `id, name, description, trigger_keywords, catalog_ids, steps,
	is_default, is_active, created_at, updated_at`

func scanAlgorithm(row pgx.Row) (*ConversationAlgorithm, error) {
	var (
		a     ConversationAlgorithm
		steps []byte
	)
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.TriggerKeywords, &a.CatalogIDs,
		&steps, &a.IsDefault, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &a.Steps); err != nil {
		return nil, fmt.Errorf("decode steps for %s: %w", a.ID, err)
	}
	return &a, nil
}

// clearOtherDefaults keeps at most one default among active algorithms.
func clearOtherDefaults(ctx context.Context, tx pgx.Tx, a *ConversationAlgorithm) error {
	if !a.IsDefault || !a.IsActive {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE conversation_algorithms SET is_default = FALSE, updated_at = NOW()
		WHERE id <> $1 AND is_default
	`, a.ID)
	return err
}

func normalizeAlgorithm(a *ConversationAlgorithm) ([]byte, error) {
	if a.TriggerKeywords == nil {
		a.TriggerKeywords = []string{}
	}
	if a.CatalogIDs == nil {
		a.CatalogIDs = []string{}
	}
	if a.Steps == nil {
		a.Steps = []Step{}
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(a.Steps)
}

func (s *Store) CreateAlgorithm(ctx context.Context, a *ConversationAlgorithm) (*ConversationAlgorithm, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	steps, err := normalizeAlgorithm(a)
	if err != nil {
		return nil, err
	}

	var out *ConversationAlgorithm
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		if err := clearOtherDefaults(ctx, tx, a); err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO conversation_algorithms (id, name, description, trigger_keywords,
				catalog_ids, steps, is_default, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+algorithmColumns,
			a.ID, a.Name, a.Description, a.TriggerKeywords, a.CatalogIDs, steps,
			a.IsDefault, a.IsActive)
		var err error
		out, err = scanAlgorithm(row)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create algorithm: %w", err)
	}
	return out, nil
}

func (s *Store) GetAlgorithm(ctx context.Context, id string) (*ConversationAlgorithm, error) {
	row := s.db.QueryRow(ctx, `SELECT `+algorithmColumns+` FROM conversation_algorithms WHERE id = $1`, id)
	a, err := scanAlgorithm(row)
	if err != nil {
		return nil, notFound(err, "algorithm", id)
	}
	return a, nil
}

func (s *Store) ListAlgorithms(ctx context.Context, activeOnly bool) ([]ConversationAlgorithm, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+algorithmColumns+` FROM conversation_algorithms
		WHERE ($1 = FALSE OR is_active)
		ORDER BY seq
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConversationAlgorithm
	for rows.Next() {
		a, err := scanAlgorithm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAlgorithm(ctx context.Context, a *ConversationAlgorithm) (*ConversationAlgorithm, error) {
	steps, err := normalizeAlgorithm(a)
	if err != nil {
		return nil, err
	}

	var out *ConversationAlgorithm
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		if err := clearOtherDefaults(ctx, tx, a); err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			UPDATE conversation_algorithms SET
				name = $2, description = $3, trigger_keywords = $4, catalog_ids = $5,
				steps = $6, is_default = $7, is_active = $8, updated_at = NOW()
			WHERE id = $1
			RETURNING `+algorithmColumns,
			a.ID, a.Name, a.Description, a.TriggerKeywords, a.CatalogIDs, steps,
			a.IsDefault, a.IsActive)
		var err error
		out, err = scanAlgorithm(row)
		return err
	})
	if err != nil {
		return nil, notFound(err, "algorithm", a.ID)
	}
	return out, nil
}

func (s *Store) DeleteAlgorithm(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM conversation_algorithms WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("algorithm %s: %w", id, ErrNotFound)
	}
	return nil
}

// DefaultAlgorithm returns the first active default, else the first active
// algorithm.
func (s *Store) DefaultAlgorithm(ctx context.Context) (*ConversationAlgorithm, error) {
	list, err := s.ListAlgorithms(ctx, true)
	if err != nil {
		return nil, err
	}
	a, ok := pickDefault(list)
	if !ok {
		return nil, fmt.Errorf("default algorithm: %w", ErrNotFound)
	}
	return a, nil
}

func pickDefault(list []ConversationAlgorithm) (*ConversationAlgorithm, bool) {
	for i := range list {
		if list[i].IsActive && list[i].IsDefault {
			return &list[i], true
		}
	}
	for i := range list {
		if list[i].IsActive {
			return &list[i], true
		}
	}
	return nil, false
}
