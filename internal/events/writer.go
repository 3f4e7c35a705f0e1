// Package events appends entries to the store's event log. Webhooks and the
// HTTP events endpoint read them back through the repo.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	TypeRefresh    = "squad.refresh"
	TypeRootSwitch = "squad.root_switch"
	TypeIssueFetch = "issues.fetch"
	TypeAPIKey     = "apikey.create"
)

// SystemActor is recorded when no authenticated caller triggered the event.
const SystemActor = "system"

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Append writes one event. When tx is nil the write goes straight to DB.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, root, actorID string, payload Payload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if actorID == "" {
		actorID = SystemActor
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	var ex execer
	switch {
	case tx != nil:
		ex = tx
	case w.DB != nil:
		ex = w.DB
	default:
		return fmt.Errorf("append %s: no database", evtType)
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO events(ts,type,root,actor_id,payload_json) VALUES (?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, nullable(root), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
