package store

import (
	"context"
	"time"
)

// OperatorDevice is a push token for an operator's phone.
type OperatorDevice struct {
	ID        string    `json:"id"`
	Operator  string    `json:"operator"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"` // "ios" or "android"
	CreatedAt time.Time `json:"created_at"`
}

// RegisterOperatorDevice registers a token, moving it to operator if it was
// registered elsewhere.
func (s *Store) RegisterOperatorDevice(ctx context.Context, operator, token, platform string) error {
	if platform == "" {
		platform = "ios"
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO operator_devices (operator, token, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE SET
			operator = EXCLUDED.operator,
			platform = EXCLUDED.platform,
			created_at = NOW()
	`, operator, token, platform)
	return err
}

func (s *Store) UnregisterOperatorDevice(ctx context.Context, token string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM operator_devices WHERE token = $1`, token)
	return err
}

func (s *Store) ListOperatorDevices(ctx context.Context) ([]OperatorDevice, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, operator, token, platform, created_at
		FROM operator_devices
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OperatorDevice
	for rows.Next() {
		var d OperatorDevice
		if err := rows.Scan(&d.ID, &d.Operator, &d.Token, &d.Platform, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// OperatorDeviceTokens returns every registered iOS token.
func (s *Store) OperatorDeviceTokens(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT token FROM operator_devices WHERE platform = 'ios'
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
