// Copyright 2025 Arion Yau
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

// Package mdpstore records a broker's lifecycle events to SQLite for
// offline audit, entirely independent of the live in-memory queue state
// that actually drives dispatch.
package mdpstore

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Event is one audited occurrence: a worker registering, a request being
// dispatched, a reply being routed, or a worker being evicted.
type Event struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Service   string    `json:"service"`
	Peer      string    `json:"peer"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	KindWorkerRegistered = "worker_registered"
	KindWorkerEvicted    = "worker_evicted"
	KindRequestDispatched = "request_dispatched"
	KindReplyRouted      = "reply_routed"
)

// Store wraps a SQLite connection used purely as an append-only audit log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the events table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("mdpstore: open %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		service TEXT NOT NULL,
		peer TEXT NOT NULL,
		detail TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("mdpstore: init schema: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_service ON events(service)`)
	if err != nil {
		return fmt.Errorf("mdpstore: create index: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends an audit event.
func (s *Store) Record(kind, service, peer, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO events (kind, service, peer, detail) VALUES (?, ?, ?, ?)`,
		kind, service, peer, detail,
	)
	if err != nil {
		return fmt.Errorf("mdpstore: record event: %w", err)
	}
	return nil
}

// Recent returns the most recent n events, newest first.
func (s *Store) Recent(n int) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT id, kind, service, peer, detail, created_at FROM events ORDER BY id DESC LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("mdpstore: query recent events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Kind, &e.Service, &e.Peer, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("mdpstore: scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
