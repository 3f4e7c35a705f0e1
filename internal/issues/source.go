package issues

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"squadboard/internal/domain"
)

// States accepted by Source.Issues.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// Source fetches issues in one state from an external tracker.
type Source interface {
	Issues(ctx context.Context, state string) ([]domain.Issue, error)
}

// NoopSource is used when no issue source is configured.
type NoopSource struct{}

func (NoopSource) Issues(context.Context, string) ([]domain.Issue, error) {
	return []domain.Issue{}, nil
}

// FileSource reads a JSON array of issues, typically an export kept next to
// the squad folder.
type FileSource struct {
	Fs   afero.Fs
	Path string
}

func (s FileSource) Issues(ctx context.Context, state string) ([]domain.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs := s.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	data, err := afero.ReadFile(fs, s.Path)
	if err != nil {
		return nil, fmt.Errorf("read issues file: %w", err)
	}
	var all []domain.Issue
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("decode issues file %s: %w", s.Path, err)
	}
	out := []domain.Issue{}
	for _, issue := range all {
		if state == "" || strings.EqualFold(issue.State, state) {
			out = append(out, issue)
		}
	}
	return out, nil
}
