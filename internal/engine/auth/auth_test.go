package auth_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"squadboard/internal/db"
	"squadboard/internal/engine/auth"
	"squadboard/internal/events"
	"squadboard/internal/migrate"
	"squadboard/internal/repo"
)

func newService(t *testing.T) auth.Service {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return auth.Service{Repo: repo.Repo{DB: conn}, Events: events.Writer{DB: conn}}
}

func TestIssueAuthenticateRevoke(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	plain, key, err := s.Issue(ctx, "ci-bot", "nightly")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.HasPrefix(plain, auth.KeyPrefix) || key.KeyHash == plain {
		t.Fatalf("plain=%q key=%+v", plain, key)
	}
	got, err := s.Authenticate(ctx, plain)
	if err != nil || got.ActorID != "ci-bot" || got.Name != "nightly" {
		t.Fatalf("authenticate = %+v %v", got, err)
	}
	evts, _ := s.Repo.LatestEvents(ctx, 5, repo.EventFilter{Type: events.TypeAPIKey})
	if len(evts) != 1 || evts[0].ActorID != "ci-bot" {
		t.Fatalf("events = %+v", evts)
	}
	if err := s.Revoke(ctx, key.ID); err != nil {
		t.Fatal(err)
	}
	var ue auth.UnauthorizedError
	if _, err := s.Authenticate(ctx, plain); !errors.As(err, &ue) {
		t.Fatalf("after revoke err = %v", err)
	}
}

func TestIssueRequiresActor(t *testing.T) {
	s := newService(t)
	if _, _, err := s.Issue(context.Background(), " ", ""); err == nil {
		t.Fatal("expected error")
	}
	var ue auth.UnauthorizedError
	if _, err := s.Authenticate(context.Background(), ""); !errors.As(err, &ue) {
		t.Fatalf("empty key err = %v", err)
	}
}
