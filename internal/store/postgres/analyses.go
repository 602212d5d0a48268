package postgres

import (
	"context"

	apperrors "propiq-billing/internal/common/errors"
	"propiq-billing/internal/models"
)

func (s *Store) SaveAnalysis(ctx context.Context, a *models.PropertyAnalysis) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO property_analyses (id, user_id, address, input, result, model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.UserID, a.Address, nullIfEmpty(string(a.Input)), string(a.Result), a.Model, a.CreatedAt,
	)
	if err != nil {
		return apperrors.NewStoreFailedError("save_analysis", err)
	}
	return nil
}

func (s *Store) ListAnalyses(ctx context.Context, userID string, limit int) ([]models.PropertyAnalysis, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, address, input, result, model, created_at
		FROM property_analyses
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, apperrors.NewStoreFailedError("list_analyses", err)
	}
	defer rows.Close()

	var out []models.PropertyAnalysis
	for rows.Next() {
		var (
			a             models.PropertyAnalysis
			input, result []byte
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Address, &input, &result, &a.Model, &a.CreatedAt); err != nil {
			return nil, apperrors.NewStoreFailedError("list_analyses", err)
		}
		a.Input, a.Result = input, result
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreFailedError("list_analyses", err)
	}
	return out, nil
}
