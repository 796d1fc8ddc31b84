// Package redis provides a Redis-backed realtime storage implementation.
//
// Records are stored as JSON strings under namespaced keys, with one set per
// record kind indexing every id.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/domain"
	"github.com/safehaven-connect/safehaven/internal/services/realtime/storage"
)

const defaultNamespace = "safehaven"

// Options configures the Redis connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
	Timeout   time.Duration
}

// Store persists realtime records in Redis.
type Store struct {
	rdb  goredis.UniversalClient
	keys keyspace
}

var _ storage.Store = (*Store)(nil)

// Open connects to Redis and verifies the connection with PING.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.Timeout,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(rdb, opts.Namespace), nil
}

// New wraps an existing client.
func New(rdb goredis.UniversalClient, namespace string) *Store {
	return &Store{rdb: rdb, keys: newKeyspace(namespace)}
}

// Close closes the client.
func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

type keyspace struct {
	prefix string
}

func newKeyspace(namespace string) keyspace {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = defaultNamespace
	}
	return keyspace{prefix: namespace}
}

func (k keyspace) shelter(id string) string { return k.prefix + ":shelter:" + id }
func (k keyspace) shelterIndex() string     { return k.prefix + ":shelters" }
func (k keyspace) alert(id string) string   { return k.prefix + ":alert:" + id }
func (k keyspace) alertIndex() string       { return k.prefix + ":alerts" }
func (k keyspace) user(id string) string    { return k.prefix + ":user:" + id }

func (s *Store) getJSON(ctx context.Context, key string, target any) error {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return storage.ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, target)
}

func (s *Store) putIndexed(ctx context.Context, key, indexKey, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		if indexKey != "" {
			pipe.SAdd(ctx, indexKey, id)
		}
		return nil
	})
	return err
}

// loadIndexed fetches every record named by the index set. Ids whose record
// vanished between SMEMBERS and MGET are skipped.
func (s *Store) loadIndexed(ctx context.Context, indexKey string, keyFor func(string) string) ([][]byte, error) {
	ids, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyFor(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	return rawValues(values), nil
}

func rawValues(values []any) [][]byte {
	out := make([][]byte, 0, len(values))
	for _, value := range values {
		switch v := value.(type) {
		case string:
			out = append(out, []byte(v))
		case []byte:
			out = append(out, v)
		}
	}
	return out
}

// GetShelter returns one shelter by id.
func (s *Store) GetShelter(ctx context.Context, shelterID string) (domain.Shelter, error) {
	var shelter domain.Shelter
	if err := s.getJSON(ctx, s.keys.shelter(strings.TrimSpace(shelterID)), &shelter); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Shelter{}, err
		}
		return domain.Shelter{}, fmt.Errorf("get shelter: %w", err)
	}
	return shelter, nil
}

// PutShelter upserts a shelter.
func (s *Store) PutShelter(ctx context.Context, shelter domain.Shelter) error {
	if strings.TrimSpace(shelter.ID) == "" {
		return fmt.Errorf("shelter id is required")
	}
	if err := s.putIndexed(ctx, s.keys.shelter(shelter.ID), s.keys.shelterIndex(), shelter.ID, shelter); err != nil {
		return fmt.Errorf("put shelter: %w", err)
	}
	return nil
}

// ListShelters returns every shelter ordered by id.
func (s *Store) ListShelters(ctx context.Context) ([]domain.Shelter, error) {
	raw, err := s.loadIndexed(ctx, s.keys.shelterIndex(), s.keys.shelter)
	if err != nil {
		return nil, fmt.Errorf("list shelters: %w", err)
	}
	return decodeShelters(raw)
}

func decodeShelters(raw [][]byte) ([]domain.Shelter, error) {
	shelters := make([]domain.Shelter, 0, len(raw))
	for _, data := range raw {
		var shelter domain.Shelter
		if err := json.Unmarshal(data, &shelter); err != nil {
			return nil, fmt.Errorf("decode shelter: %w", err)
		}
		shelters = append(shelters, shelter)
	}
	sort.Slice(shelters, func(i, j int) bool { return shelters[i].ID < shelters[j].ID })
	return shelters, nil
}

// GetAlert returns one alert by id.
func (s *Store) GetAlert(ctx context.Context, alertID string) (domain.Alert, error) {
	var alert domain.Alert
	if err := s.getJSON(ctx, s.keys.alert(strings.TrimSpace(alertID)), &alert); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Alert{}, err
		}
		return domain.Alert{}, fmt.Errorf("get alert: %w", err)
	}
	return alert.Normalize(), nil
}

// PutAlert upserts an alert.
func (s *Store) PutAlert(ctx context.Context, alert domain.Alert) error {
	if strings.TrimSpace(alert.ID) == "" {
		return fmt.Errorf("alert id is required")
	}
	if err := s.putIndexed(ctx, s.keys.alert(alert.ID), s.keys.alertIndex(), alert.ID, alert.Normalize()); err != nil {
		return fmt.Errorf("put alert: %w", err)
	}
	return nil
}

// ListAlerts returns matching alerts, newest first.
func (s *Store) ListAlerts(ctx context.Context, filter storage.AlertFilter) ([]domain.Alert, error) {
	raw, err := s.loadIndexed(ctx, s.keys.alertIndex(), s.keys.alert)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return decodeAlerts(raw, filter)
}

func decodeAlerts(raw [][]byte, filter storage.AlertFilter) ([]domain.Alert, error) {
	alerts := make([]domain.Alert, 0, len(raw))
	for _, data := range raw {
		var alert domain.Alert
		if err := json.Unmarshal(data, &alert); err != nil {
			return nil, fmt.Errorf("decode alert: %w", err)
		}
		if filter.Matches(alert) {
			alerts = append(alerts, alert.Normalize())
		}
	}
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Timestamp != alerts[j].Timestamp {
			return alerts[i].Timestamp > alerts[j].Timestamp
		}
		return alerts[i].ID < alerts[j].ID
	})
	return alerts, nil
}

// GetUser returns one directory entry.
func (s *Store) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var user domain.User
	if err := s.getJSON(ctx, s.keys.user(strings.TrimSpace(userID)), &user); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.User{}, err
		}
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// PutUser upserts a directory entry.
func (s *Store) PutUser(ctx context.Context, user domain.User) error {
	if strings.TrimSpace(user.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if err := s.putIndexed(ctx, s.keys.user(user.ID), "", user.ID, user); err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// RecordLogin stamps the user's last login inside a WATCH transaction so a
// concurrent PutUser is not overwritten with stale fields.
func (s *Store) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	key := s.keys.user(strings.TrimSpace(userID))
	err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return storage.ErrNotFound
			}
			return err
		}
		updated, err := stampLogin(data, at)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return fmt.Errorf("record login: %w", err)
	}
	return nil
}

func stampLogin(data []byte, at time.Time) ([]byte, error) {
	var user domain.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	at = at.UTC()
	user.LastLogin = &at
	return json.Marshal(user)
}
