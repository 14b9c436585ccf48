package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
)

// UpsertPolicy guarda la política de un usuario y actualiza la cache.
func (s *Store) UpsertPolicy(ctx context.Context, policy domain.RiskPolicy) error {
	if policy.UserID == "" {
		return fmt.Errorf("storage.UpsertPolicy: empty user id")
	}
	body, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("storage.UpsertPolicy: marshal: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO risk_policies (user_id, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`),
		policy.UserID, string(body), time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("storage.UpsertPolicy: upsert: %w", err)
	}

	s.mu.Lock()
	s.policies[policy.UserID] = policy
	s.mu.Unlock()
	return nil
}

// GetPolicy devuelve la política del usuario desde la cache; nil si no tiene.
func (s *Store) GetPolicy(_ context.Context, userID string) (*domain.RiskPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// warmPolicies precarga todas las políticas en memoria.
func (s *Store) warmPolicies(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, body FROM risk_policies`)
	if err != nil {
		return fmt.Errorf("storage: warm policies: %w", err)
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var userID, body string
		if err := rows.Scan(&userID, &body); err != nil {
			return fmt.Errorf("storage: warm policies: scan: %w", err)
		}
		var p domain.RiskPolicy
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return fmt.Errorf("storage: warm policies: decode %s: %w", userID, err)
		}
		s.policies[userID] = p
	}
	return rows.Err()
}
