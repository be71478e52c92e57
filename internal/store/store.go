// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store persists email records as JSON values in Redis under
// "email:<id>" keys, plus the ingestion high-water mark. There is no
// secondary index: status filtering is a full key scan, acceptable at the
// volumes this service handles and a documented scaling limit.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aliceintensorland/mailrouter/internal/models"
)

const (
	// recordPrefix namespaces email records in Redis.
	recordPrefix = "email:"

	// markerKey holds the highest IMAP UID ever persisted. Kept outside
	// the record prefix so the status scan never picks it up.
	markerKey = "ingest:last_uid"
)

// Store provides typed access to email records in Redis.
//
// Put is a full overwrite (last-writer-wins). The dispatcher is the sole
// writer after ingestion; concurrent writers to the same record could
// lose updates.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a record store backed by the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// RecordKey returns the Redis key for an email ID.
func RecordKey(emailID string) string {
	return recordPrefix + emailID
}

// Put serialises the record and overwrites its key.
func (s *Store) Put(ctx context.Context, rec models.EmailRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal email record %s: %w", rec.EmailID, err)
	}
	if err := s.rdb.Set(ctx, RecordKey(rec.EmailID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", RecordKey(rec.EmailID), err)
	}
	return nil
}

// Get retrieves a record by email ID. Returns (nil, nil) when the key
// does not exist.
func (s *Store) Get(ctx context.Context, emailID string) (*models.EmailRecord, error) {
	data, err := s.rdb.Get(ctx, RecordKey(emailID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", RecordKey(emailID), err)
	}

	var rec models.EmailRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal email record %s: %w", emailID, err)
	}
	return &rec, nil
}

// ListByStatus scans all email records and returns those with the given
// status. Records that fail to decode are logged and skipped, never
// returned as errors — one corrupt value must not block the pass.
func (s *Store) ListByStatus(ctx context.Context, status models.Status) ([]models.EmailRecord, error) {
	var records []models.EmailRecord

	iter := s.rdb.Scan(ctx, 0, recordPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		data, err := s.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // deleted between SCAN and GET
		}
		if err != nil {
			return nil, fmt.Errorf("redis GET %s: %w", key, err)
		}

		var rec models.EmailRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			slog.Warn("skipping undecodable email record", "key", key, "error", err)
			continue
		}

		if rec.Status == status {
			records = append(records, rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis SCAN %s*: %w", recordPrefix, err)
	}

	return records, nil
}

// LastUID returns the ingestion high-water mark, zero if none is set.
func (s *Store) LastUID(ctx context.Context) (uint32, error) {
	v, err := s.rdb.Get(ctx, markerKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis GET %s: %w", markerKey, err)
	}

	uid, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse marker %q: %w", v, err)
	}
	return uint32(uid), nil
}

// SetLastUID persists the high-water mark. Callers advance it only after
// the corresponding record is durably stored, and only forward.
func (s *Store) SetLastUID(ctx context.Context, uid uint32) error {
	if err := s.rdb.Set(ctx, markerKey, strconv.FormatUint(uint64(uid), 10), 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", markerKey, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}
