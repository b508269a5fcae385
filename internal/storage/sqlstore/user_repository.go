package sqlstore

import (
	"context"
	"fmt"
)

// CreateUser регистрирует пользователя. Используется для демо-данных и тестов.
func (s *Store) CreateUser(ctx context.Context, email string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := s.now()
	var id int64
	err := s.queryRow(ctx, s.db, `
		INSERT INTO users (email, created_date, last_modified_date)
		VALUES (?, ?, ?)
		RETURNING user_id
	`, email, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

// UserExists проверяет наличие пользователя.
func (s *Store) UserExists(ctx context.Context, userID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.userExists(ctx, s.db, userID)
}

func (s *Store) userExists(ctx context.Context, q querier, userID int64) (bool, error) {
	var n int
	if err := s.queryRow(ctx, q, `SELECT COUNT(*) FROM users WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return false, fmt.Errorf("check user %d: %w", userID, err)
	}
	return n > 0, nil
}
