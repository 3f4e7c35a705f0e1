// Package engine is the read API over one squad folder. It owns the parsed
// snapshot cache, the issue caches and the optional SQLite store, and it is
// the only place a root switch happens.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"squadboard/internal/cache"
	"squadboard/internal/domain"
	"squadboard/internal/events"
	"squadboard/internal/issues"
	"squadboard/internal/repo"
	"squadboard/internal/sessionlog"
	"squadboard/internal/source"
	"squadboard/internal/state"
)

// ErrInvalidArgument marks caller mistakes such as an empty task id.
var ErrInvalidArgument = errors.New("invalid argument")

var errRootSwitched = errors.New("squad root switched during read")

// Meta keys persisted for the active root.
const (
	metaRoot   = "squad.root"
	metaFolder = "squad.folder"
)

// Options configure New. Zero values fall back to the OS filesystem, no
// issue source, the built-in completion vocabulary and no persistence.
type Options struct {
	Fs             afero.Fs
	Root           string
	Folder         string
	Names          source.Names
	Issues         issues.Source
	Correlator     issues.Correlator
	Completion     *sessionlog.CompletionMatcher
	ClosedTTL      time.Duration
	DB             *sql.DB
	Logger         *log.Logger
	Now            func() time.Time
	MaxConcurrency int
}

// Snapshot is one derived view plus where and when it was built. Generation
// changes on every rebuild.
type Snapshot struct {
	*state.Snapshot
	Layout     source.Layout
	Generation string
	BuiltAt    time.Time
}

// IssueList is an issue read. Degraded is set when the source failed and
// nothing fresh was cached, in which case Issues is empty.
type IssueList struct {
	State     string         `json:"state"`
	Issues    []domain.Issue `json:"issues"`
	FetchedAt time.Time      `json:"fetched_at"`
	Cached    bool           `json:"cached"`
	Degraded  bool           `json:"degraded"`
}

type target struct {
	root   string
	folder string
}

func (t target) key() string { return t.root + "|" + t.folder }

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time

	fs         afero.Fs
	loader     *source.Loader
	names      source.Names
	issues     issues.Source
	correlator issues.Correlator
	completion *sessionlog.CompletionMatcher
	logger     *log.Logger

	mu        sync.RWMutex
	current   target
	warmed    map[string]bool
	onSwitch  []func(source.Layout)
	snapshots *cache.Snapshots[*Snapshot]
	issueTTL  *cache.TTL[[]domain.Issue]
}

func New(opts Options) (*Engine, error) {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	src := opts.Issues
	if src == nil {
		src = issues.NoopSource{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	root, err := absRoot(opts.Root)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		DB:         opts.DB,
		Repo:       repo.Repo{DB: opts.DB},
		Events:     events.Writer{DB: opts.DB, Now: now},
		Now:        now,
		fs:         fs,
		loader:     &source.Loader{Fs: fs, Logger: logger, MaxConcurrency: opts.MaxConcurrency},
		names:      opts.Names,
		issues:     src,
		correlator: opts.Correlator,
		completion: opts.Completion,
		logger:     logger,
		current:    target{root: root, folder: strings.TrimSpace(opts.Folder)},
		warmed:     map[string]bool{},
	}
	e.snapshots, err = cache.NewSnapshots(cache.DefaultRoots, e.build)
	if err != nil {
		return nil, err
	}
	e.issueTTL = cache.NewTTL[[]domain.Issue](opts.ClosedTTL)
	e.issueTTL.Now = func() time.Time { return e.now() }
	return e, nil
}

func absRoot(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", root, err)
	}
	return abs, nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) persistent() bool { return e.DB != nil }

func (e *Engine) target() target {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Layout resolves the current root and folder against the filesystem.
func (e *Engine) Layout() source.Layout {
	t := e.target()
	return source.Resolve(e.fs, t.root, t.folder, e.names)
}

func (e *Engine) build(ctx context.Context, key string) (*Snapshot, error) {
	t := e.target()
	if t.key() != key {
		return nil, errRootSwitched
	}
	layout := source.Resolve(e.fs, t.root, t.folder, e.names)
	bundle, err := e.loader.Load(ctx, layout)
	if err != nil {
		return nil, err
	}
	s := state.Build(state.Input{
		Roster:     bundle.Roster,
		Active:     bundle.Active,
		Narrative:  bundle.Narrative,
		Decisions:  bundle.Decisions,
		Completion: e.completion,
	})
	return &Snapshot{Snapshot: s, Layout: layout, Generation: uuid.NewString(), BuiltAt: e.now().UTC()}, nil
}

// Snapshot returns the cached view for the current root, parsing on a miss.
// A read that overlaps a root switch is retried against the new root, and
// anything it cached for the old one is dropped.
func (e *Engine) Snapshot(ctx context.Context) (*Snapshot, error) {
	for {
		key := e.target().key()
		s, err := e.snapshots.Get(ctx, key)
		if e.target().key() != key {
			e.snapshots.Invalidate(key)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			continue
		}
		return s, err
	}
}

// ListMembers returns the member collection of the current snapshot. The
// same slice is returned until the next refresh; callers must not modify it.
func (e *Engine) ListMembers(ctx context.Context) ([]domain.Member, error) {
	s, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.Members, nil
}

func (e *Engine) ListTasks(ctx context.Context) ([]domain.Task, error) {
	s, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.Tasks, nil
}

// ListTasksForMember returns an empty list for unknown members.
func (e *Engine) ListTasksForMember(ctx context.Context, name string) ([]domain.Task, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: member name required", ErrInvalidArgument)
	}
	s, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.TasksForMember(name), nil
}

// GetWorkDetails reports ok=false when no task has the id.
func (e *Engine) GetWorkDetails(ctx context.Context, taskID string) (domain.WorkDetails, bool, error) {
	if strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(taskID), "#")) == "" {
		return domain.WorkDetails{}, false, fmt.Errorf("%w: task id required", ErrInvalidArgument)
	}
	s, err := e.Snapshot(ctx)
	if err != nil {
		return domain.WorkDetails{}, false, err
	}
	wd, ok := s.WorkDetails(taskID)
	return wd, ok, nil
}

// ListDecisions returns decisions newest first, undated last.
func (e *Engine) ListDecisions(ctx context.Context) ([]domain.DecisionEntry, error) {
	s, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.Decisions, nil
}

// ListLogEntries returns one stream newest first. An empty stream means
// active.
func (e *Engine) ListLogEntries(ctx context.Context, stream domain.Stream) ([]domain.LogEntry, error) {
	switch stream {
	case "":
		stream = domain.StreamActive
	case domain.StreamActive, domain.StreamNarrative:
	default:
		return nil, fmt.Errorf("%w: unknown log stream %q", ErrInvalidArgument, stream)
	}
	s, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.Logs(stream), nil
}

// Refresh discards every cache entry for the current root, including the
// persisted issue snapshots. The next read re-parses and refetches.
func (e *Engine) Refresh(ctx context.Context, actorID string) error {
	t := e.target()
	payload := events.Payload{"folder": t.folder}
	if s, ok := e.snapshots.Peek(t.key()); ok {
		payload["discarded_generation"] = s.Generation
	}
	e.drop(t)
	if !e.persistent() {
		return nil
	}
	if err := e.Repo.DeleteIssueSnapshots(ctx, t.root); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	return e.Events.Append(ctx, nil, events.TypeRefresh, t.root, actorID, payload)
}

// CachedRoots reports how many roots hold a parsed snapshot.
func (e *Engine) CachedRoots() int { return e.snapshots.Len() }

func (e *Engine) drop(t target) {
	e.snapshots.Invalidate(t.key())
	for _, st := range []string{issues.StateOpen, issues.StateClosed} {
		e.issueTTL.Invalidate(issueKey(t.root, st))
	}
	e.mu.Lock()
	delete(e.warmed, t.root)
	e.mu.Unlock()
}

// SetRoot switches root and folder name and drops everything cached for the
// previous root before any read can see the new one.
func (e *Engine) SetRoot(ctx context.Context, root, folder, actorID string) error {
	abs, err := absRoot(root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	folder = strings.TrimSpace(folder)
	if strings.ContainsAny(folder, `/\`) {
		return fmt.Errorf("%w: folder %q must be a single directory name", ErrInvalidArgument, folder)
	}
	next := target{root: abs, folder: folder}

	e.mu.Lock()
	prev := e.current
	e.snapshots.Invalidate(prev.key())
	e.snapshots.Invalidate(next.key())
	for _, st := range []string{issues.StateOpen, issues.StateClosed} {
		e.issueTTL.Invalidate(issueKey(prev.root, st))
	}
	delete(e.warmed, prev.root)
	e.current = next
	e.mu.Unlock()
	e.notifySwitch()

	if !e.persistent() {
		return nil
	}
	if prev.root != next.root {
		if err := e.Repo.DeleteIssueSnapshots(ctx, prev.root); err != nil {
			return fmt.Errorf("set root: %w", err)
		}
	}
	if err := e.Repo.SetMeta(ctx, metaRoot, next.root); err != nil {
		return err
	}
	if err := e.Repo.SetMeta(ctx, metaFolder, next.folder); err != nil {
		return err
	}
	return e.Events.Append(ctx, nil, events.TypeRootSwitch, next.root, actorID, events.Payload{
		"from":   prev.root,
		"folder": next.folder,
	})
}

// RestoreRoot switches to the root persisted by an earlier SetRoot, if any.
func (e *Engine) RestoreRoot(ctx context.Context) (bool, error) {
	if !e.persistent() {
		return false, nil
	}
	root, err := e.Repo.GetMeta(ctx, metaRoot)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	folder, err := e.Repo.GetMeta(ctx, metaFolder)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return false, err
	}
	e.mu.Lock()
	prev := e.current
	next := target{root: root, folder: folder}
	e.current = next
	e.mu.Unlock()
	e.snapshots.Invalidate(prev.key())
	e.notifySwitch()
	return true, nil
}

// OnRootSwitch registers fn to run with the new layout after every root
// switch, including a restored one.
func (e *Engine) OnRootSwitch(fn func(source.Layout)) {
	e.mu.Lock()
	e.onSwitch = append(e.onSwitch, fn)
	e.mu.Unlock()
}

func (e *Engine) notifySwitch() {
	e.mu.RLock()
	hooks := append([]func(source.Layout)(nil), e.onSwitch...)
	e.mu.RUnlock()
	if len(hooks) == 0 {
		return
	}
	layout := e.Layout()
	for _, fn := range hooks {
		fn(layout)
	}
}

func issueKey(root, st string) string { return root + "#" + st }

// ClosedIssues reads closed issues through the TTL cache.
func (e *Engine) ClosedIssues(ctx context.Context, force bool) (IssueList, error) {
	return e.Issues(ctx, issues.StateClosed, force)
}

// Issues reads issues in one state. A fresh cache entry is served even when
// the source is failing, forced or not; a failed fetch without one yields an
// empty, degraded list rather than an error.
func (e *Engine) Issues(ctx context.Context, st string, force bool) (IssueList, error) {
	switch st {
	case "":
		st = issues.StateClosed
	case issues.StateOpen, issues.StateClosed:
	default:
		return IssueList{}, fmt.Errorf("%w: unknown issue state %q", ErrInvalidArgument, st)
	}
	t := e.target()
	key := issueKey(t.root, st)
	e.warm(ctx, t.root)

	res, err := e.issueTTL.Get(ctx, key, force, func(ctx context.Context) ([]domain.Issue, error) {
		list, err := e.issues.Issues(ctx, st)
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = []domain.Issue{}
		}
		e.persistIssues(ctx, t.root, st, list)
		return list, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return IssueList{}, ctxErr
		}
		e.logger.Printf("issues: fetch %s issues for %s failed: %v", st, t.root, err)
		return IssueList{State: st, Issues: []domain.Issue{}, Degraded: true}, nil
	}
	if res.Err != nil {
		e.logger.Printf("issues: refetch %s issues for %s failed, serving cached list: %v", st, t.root, res.Err)
	}
	return IssueList{State: st, Issues: res.Value, FetchedAt: res.FetchedAt, Cached: res.Cached}, nil
}

func (e *Engine) persistIssues(ctx context.Context, root, st string, list []domain.Issue) {
	if !e.persistent() {
		return
	}
	at := e.now().UTC()
	if err := e.Repo.SaveIssueSnapshot(ctx, repo.IssueSnapshot{Root: root, State: st, FetchedAt: at, Issues: list}); err != nil {
		e.logger.Printf("issues: persist %s snapshot: %v", st, err)
		return
	}
	if err := e.Events.Append(ctx, nil, events.TypeIssueFetch, root, "", events.Payload{"state": st, "count": len(list)}); err != nil {
		e.logger.Printf("issues: record fetch: %v", err)
	}
}

// warm seeds the TTL cache from persisted snapshots once per root so the
// lifetime spans restarts.
func (e *Engine) warm(ctx context.Context, root string) {
	if !e.persistent() {
		return
	}
	e.mu.Lock()
	if e.warmed[root] {
		e.mu.Unlock()
		return
	}
	e.warmed[root] = true
	e.mu.Unlock()
	for _, st := range []string{issues.StateOpen, issues.StateClosed} {
		snap, err := e.Repo.GetIssueSnapshot(ctx, root, st)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			e.logger.Printf("issues: load %s snapshot: %v", st, err)
			continue
		}
		e.issueTTL.Seed(issueKey(root, st), snap.Issues, snap.FetchedAt)
	}
}

// IssuesByMember correlates issues in one state with the current members.
// Members without a match are absent.
func (e *Engine) IssuesByMember(ctx context.Context, st string, force bool) (map[string][]domain.Issue, error) {
	list, err := e.Issues(ctx, st, force)
	if err != nil {
		return nil, err
	}
	members, err := e.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	return e.correlator.Correlate(list.Issues, members), nil
}

// MemberNames returns the keys of an IssuesByMember result in roster order.
func MemberNames(byMember map[string][]domain.Issue, members []domain.Member) []string {
	names := make([]string, 0, len(byMember))
	seen := map[string]bool{}
	for _, m := range members {
		if _, ok := byMember[m.Name]; ok {
			names = append(names, m.Name)
			seen[m.Name] = true
		}
	}
	var rest []string
	for name := range byMember {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}
