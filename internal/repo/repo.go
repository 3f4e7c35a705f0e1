package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"squadboard/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// IssueSnapshot is the last successful issue fetch for one root and state.
type IssueSnapshot struct {
	Root      string
	State     string
	FetchedAt time.Time
	Issues    []domain.Issue
}

// SaveIssueSnapshot replaces the stored fetch result for root and state.
func (r Repo) SaveIssueSnapshot(ctx context.Context, s IssueSnapshot) error {
	issues := s.Issues
	if issues == nil {
		issues = []domain.Issue{}
	}
	data, err := json.Marshal(issues)
	if err != nil {
		return fmt.Errorf("marshal issues: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO issue_snapshots(root,state,fetched_at,issues_json) VALUES (?,?,?,?)
		ON CONFLICT(root,state) DO UPDATE SET fetched_at=excluded.fetched_at, issues_json=excluded.issues_json`,
		s.Root, s.State, s.FetchedAt.UTC().Format(time.RFC3339Nano), string(data))
	if err != nil {
		return fmt.Errorf("save issue snapshot: %w", err)
	}
	return nil
}

func (r Repo) GetIssueSnapshot(ctx context.Context, root, state string) (IssueSnapshot, error) {
	var (
		s       = IssueSnapshot{Root: root, State: state}
		fetched string
		data    string
	)
	err := r.DB.QueryRowContext(ctx, `SELECT fetched_at, issues_json FROM issue_snapshots WHERE root=? AND state=?`, root, state).
		Scan(&fetched, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if s.FetchedAt, err = time.Parse(time.RFC3339Nano, fetched); err != nil {
		return s, fmt.Errorf("parse fetched_at: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &s.Issues); err != nil {
		return s, fmt.Errorf("decode issues: %w", err)
	}
	return s, nil
}

// DeleteIssueSnapshots drops every stored fetch for root.
func (r Repo) DeleteIssueSnapshots(ctx context.Context, root string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM issue_snapshots WHERE root=?`, root)
	return err
}

func (r Repo) SetMeta(ctx context.Context, key, value string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO meta(key,value) VALUES (?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

func (r Repo) GetMeta(ctx context.Context, key string) (string, error) {
	var v string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

// EventFilter narrows LatestEvents. Zero fields match everything.
type EventFilter struct {
	Root   string
	Type   string
	Before int64
}

// LatestEvents returns the newest events first.
func (r Repo) LatestEvents(ctx context.Context, limit int, f EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if f.Root != "" {
		clauses = append(clauses, "root=?")
		args = append(args, f.Root)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(root,''),actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,COALESCE(root,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventID returns the most recent event ID, 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.Root, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
