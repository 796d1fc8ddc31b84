package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/safehaven-connect/safehaven/internal/services/realtime/domain"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage"
)

const shelterColumns = `id, name, latitude, longitude, address,
        capacity_current, capacity_maximum,
        resource_food, resource_water, resource_medical, resource_bedding,
        status, operator_id, contact_phone, contact_email,
        urgent_needs_json, last_updated, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// GetShelter returns one shelter by id.
func (s *Store) GetShelter(ctx context.Context, shelterID string) (domain.Shelter, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Shelter{}, err
	}
	shelterID = strings.TrimSpace(shelterID)
	if shelterID == "" {
		return domain.Shelter{}, fmt.Errorf("shelter id is required")
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+shelterColumns+` FROM shelters WHERE id = ?`, shelterID)
	shelter, err := scanShelter(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Shelter{}, storage.ErrNotFound
		}
		return domain.Shelter{}, fmt.Errorf("get shelter: %w", err)
	}
	return shelter, nil
}

// PutShelter upserts a shelter keyed by id.
func (s *Store) PutShelter(ctx context.Context, shelter domain.Shelter) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(shelter.ID) == "" {
		return fmt.Errorf("shelter id is required")
	}
	needs := shelter.UrgentNeeds
	if needs == nil {
		needs = []string{}
	}
	needsJSON, err := json.Marshal(needs)
	if err != nil {
		return fmt.Errorf("encode urgent needs: %w", err)
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO shelters (`+shelterColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   latitude = excluded.latitude,
		   longitude = excluded.longitude,
		   address = excluded.address,
		   capacity_current = excluded.capacity_current,
		   capacity_maximum = excluded.capacity_maximum,
		   resource_food = excluded.resource_food,
		   resource_water = excluded.resource_water,
		   resource_medical = excluded.resource_medical,
		   resource_bedding = excluded.resource_bedding,
		   status = excluded.status,
		   operator_id = excluded.operator_id,
		   contact_phone = excluded.contact_phone,
		   contact_email = excluded.contact_email,
		   urgent_needs_json = excluded.urgent_needs_json,
		   last_updated = excluded.last_updated`,
		shelter.ID,
		shelter.Name,
		shelter.Location.Latitude,
		shelter.Location.Longitude,
		shelter.Location.Address,
		shelter.Capacity.Current,
		shelter.Capacity.Maximum,
		string(shelter.Resources.Food),
		string(shelter.Resources.Water),
		string(shelter.Resources.Medical),
		string(shelter.Resources.Bedding),
		string(shelter.Status),
		shelter.OperatorID,
		shelter.ContactInfo.Phone,
		shelter.ContactInfo.Email,
		string(needsJSON),
		toMillis(shelter.LastUpdated),
		toMillis(shelter.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put shelter: %w", err)
	}
	return nil
}

// ListShelters returns every shelter ordered by id.
func (s *Store) ListShelters(ctx context.Context) ([]domain.Shelter, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+shelterColumns+` FROM shelters ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list shelters: %w", err)
	}
	defer rows.Close()

	shelters := make([]domain.Shelter, 0)
	for rows.Next() {
		shelter, err := scanShelter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shelter: %w", err)
		}
		shelters = append(shelters, shelter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shelters: %w", err)
	}
	return shelters, nil
}

func scanShelter(row rowScanner) (domain.Shelter, error) {
	var (
		shelter     domain.Shelter
		food        string
		water       string
		medical     string
		bedding     string
		status      string
		needsJSON   string
		lastUpdated int64
		createdAt   int64
	)
	if err := row.Scan(
		&shelter.ID,
		&shelter.Name,
		&shelter.Location.Latitude,
		&shelter.Location.Longitude,
		&shelter.Location.Address,
		&shelter.Capacity.Current,
		&shelter.Capacity.Maximum,
		&food,
		&water,
		&medical,
		&bedding,
		&status,
		&shelter.OperatorID,
		&shelter.ContactInfo.Phone,
		&shelter.ContactInfo.Email,
		&needsJSON,
		&lastUpdated,
		&createdAt,
	); err != nil {
		return domain.Shelter{}, err
	}
	if err := json.Unmarshal([]byte(needsJSON), &shelter.UrgentNeeds); err != nil {
		return domain.Shelter{}, fmt.Errorf("decode urgent needs: %w", err)
	}
	shelter.Resources = domain.Resources{
		Food:    domain.ResourceLevel(food),
		Water:   domain.ResourceLevel(water),
		Medical: domain.ResourceLevel(medical),
		Bedding: domain.ResourceLevel(bedding),
	}
	shelter.Status = domain.ShelterStatus(status)
	shelter.LastUpdated = fromMillis(lastUpdated)
	shelter.CreatedAt = fromMillis(createdAt)
	return shelter, nil
}
