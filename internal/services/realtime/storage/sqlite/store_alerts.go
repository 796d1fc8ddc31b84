package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/safehaven-connect/safehaven/internal/services/realtime/domain"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage"
)

const alertColumns = `id, shelter_id, type, priority, title, description, status,
        created_by, acknowledged_by, acknowledged_at, resolved_at, timestamp`

// GetAlert returns one alert by id.
func (s *Store) GetAlert(ctx context.Context, alertID string) (domain.Alert, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Alert{}, err
	}
	alertID = strings.TrimSpace(alertID)
	if alertID == "" {
		return domain.Alert{}, fmt.Errorf("alert id is required")
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, alertID)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Alert{}, storage.ErrNotFound
		}
		return domain.Alert{}, fmt.Errorf("get alert: %w", err)
	}
	return alert, nil
}

// PutAlert upserts an alert keyed by id. Creation fields never change after
// the first write.
func (s *Store) PutAlert(ctx context.Context, alert domain.Alert) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(alert.ID) == "" {
		return fmt.Errorf("alert id is required")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO alerts (`+alertColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   acknowledged_by = excluded.acknowledged_by,
		   acknowledged_at = excluded.acknowledged_at,
		   resolved_at = excluded.resolved_at`,
		alert.ID,
		alert.ShelterID,
		string(alert.Type),
		string(alert.Priority),
		alert.Title,
		alert.Description,
		string(alert.Status),
		alert.CreatedBy,
		alert.AcknowledgedBy,
		toNullMillis(alert.AcknowledgedAt),
		toNullMillis(alert.ResolvedAt),
		alert.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("put alert: %w", err)
	}
	return nil
}

// ListAlerts returns matching alerts, newest first.
func (s *Store) ListAlerts(ctx context.Context, filter storage.AlertFilter) ([]domain.Alert, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	query := `SELECT ` + alertColumns + ` FROM alerts`
	var (
		clauses []string
		args    []any
	)
	if shelterID := strings.TrimSpace(filter.ShelterID); shelterID != "" {
		clauses = append(clauses, "shelter_id = ?")
		args = append(args, shelterID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC, id"

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]domain.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}

func scanAlert(row rowScanner) (domain.Alert, error) {
	var (
		alert          domain.Alert
		alertType      string
		priority       string
		status         string
		acknowledgedAt sql.NullInt64
		resolvedAt     sql.NullInt64
	)
	if err := row.Scan(
		&alert.ID,
		&alert.ShelterID,
		&alertType,
		&priority,
		&alert.Title,
		&alert.Description,
		&status,
		&alert.CreatedBy,
		&alert.AcknowledgedBy,
		&acknowledgedAt,
		&resolvedAt,
		&alert.Timestamp,
	); err != nil {
		return domain.Alert{}, err
	}
	alert.Type = domain.AlertType(alertType)
	alert.Priority = domain.AlertPriority(priority)
	alert.Status = domain.AlertStatus(status)
	alert.AcknowledgedAt = fromNullMillis(acknowledgedAt)
	alert.ResolvedAt = fromNullMillis(resolvedAt)
	return alert.Normalize(), nil
}
