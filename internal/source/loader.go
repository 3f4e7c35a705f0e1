package source

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/sourcegraph/conc/iter"
	"github.com/spf13/afero"

	"squadboard/internal/decisions"
	"squadboard/internal/domain"
	"squadboard/internal/roster"
	"squadboard/internal/sessionlog"
)

const docExt = ".md"

// Bundle holds every parsed document of one squad folder. Roster is nil when
// the roster document is absent or unreadable.
type Bundle struct {
	Roster    *domain.Roster
	Active    []domain.LogEntry
	Narrative []domain.LogEntry
	Decisions []domain.DecisionEntry
}

// Loader reads documents through Fs. Per-file failures are logged and the
// file is skipped.
type Loader struct {
	Fs             afero.Fs
	Logger         *log.Logger
	MaxConcurrency int
}

func (l *Loader) fs() afero.Fs {
	if l.Fs == nil {
		return afero.NewOsFs()
	}
	return l.Fs
}

func (l *Loader) logf(format string, args ...any) {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf(format, args...)
}

func (l *Loader) workers() int {
	if l.MaxConcurrency > 0 {
		return l.MaxConcurrency
	}
	return runtime.GOMAXPROCS(0)
}

// Load parses the whole folder. The only error is a cancelled context.
func (l *Loader) Load(ctx context.Context, layout Layout) (Bundle, error) {
	b := Bundle{
		Active:    []domain.LogEntry{},
		Narrative: []domain.LogEntry{},
		Decisions: []domain.DecisionEntry{},
	}
	if !layout.Exists {
		return b, nil
	}
	if r, ok := l.ReadRoster(layout); ok {
		b.Roster = &r
	}
	if err := ctx.Err(); err != nil {
		return Bundle{}, err
	}
	b.Active = l.loadLogs(layout, layout.ActiveLogDir(), domain.StreamActive)
	b.Narrative = l.loadLogs(layout, layout.NarrativeLogDir(), domain.StreamNarrative)
	if err := ctx.Err(); err != nil {
		return Bundle{}, err
	}
	b.Decisions = l.loadDecisions(layout)
	return b, ctx.Err()
}

// ReadRoster parses the roster document; ok is false when it is missing or
// unreadable.
func (l *Loader) ReadRoster(layout Layout) (domain.Roster, bool) {
	data, err := afero.ReadFile(l.fs(), layout.RosterPath())
	if err != nil {
		if !os.IsNotExist(err) {
			l.logf("source: skip roster %s: %v", layout.RosterPath(), err)
		}
		return domain.Roster{}, false
	}
	return roster.Parse(string(data)), true
}

// ReadLog parses one session log; ok is false when the file cannot be read.
// An undated document takes its date from the file modification time.
func (l *Loader) ReadLog(layout Layout, path string, stream domain.Stream) (domain.LogEntry, bool) {
	fs := l.fs()
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		l.logf("source: skip log %s: %v", path, err)
		return domain.LogEntry{}, false
	}
	e := sessionlog.Parse(string(data), layout.Rel(path))
	e.Stream = stream
	if e.Timestamp.IsZero() {
		if info, err := fs.Stat(path); err == nil {
			e.Timestamp = info.ModTime().UTC()
			e.Date = e.Timestamp.Format("2006-01-02")
		}
	}
	return e, true
}

// ReadDecisionFile parses one standalone decision document.
func (l *Loader) ReadDecisionFile(layout Layout, path string) (domain.DecisionEntry, bool) {
	fs := l.fs()
	info, err := fs.Stat(path)
	if err != nil {
		l.logf("source: skip decision %s: %v", path, err)
		return domain.DecisionEntry{}, false
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		l.logf("source: skip decision %s: %v", path, err)
		return domain.DecisionEntry{}, false
	}
	return decisions.ParseFile(string(data), layout.Rel(path), info.ModTime()), true
}

type parsedLog struct {
	entry domain.LogEntry
	ok    bool
}

func (l *Loader) loadLogs(layout Layout, dir string, stream domain.Stream) []domain.LogEntry {
	infos, err := afero.ReadDir(l.fs(), dir)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logf("source: skip log dir %s: %v", dir, err)
		}
		return []domain.LogEntry{}
	}
	var paths []string
	for _, info := range infos {
		if info.IsDir() || !strings.EqualFold(filepath.Ext(info.Name()), docExt) {
			continue
		}
		paths = append(paths, filepath.Join(dir, info.Name()))
	}
	results := iter.Mapper[string, parsedLog]{MaxGoroutines: l.workers()}.Map(paths, func(p *string) parsedLog {
		e, ok := l.ReadLog(layout, *p, stream)
		return parsedLog{entry: e, ok: ok}
	})
	out := make([]domain.LogEntry, 0, len(results))
	for _, r := range results {
		if r.ok {
			out = append(out, r.entry)
		}
	}
	return out
}

type parsedDecision struct {
	entry domain.DecisionEntry
	ok    bool
}

func (l *Loader) loadDecisions(layout Layout) []domain.DecisionEntry {
	fs := l.fs()
	out := []domain.DecisionEntry{}
	if data, err := afero.ReadFile(fs, layout.DecisionsFilePath()); err == nil {
		out = append(out, decisions.ParseLedger(string(data), layout.Rel(layout.DecisionsFilePath()))...)
	} else if !os.IsNotExist(err) {
		l.logf("source: skip ledger %s: %v", layout.DecisionsFilePath(), err)
	}

	paths, err := l.decisionFiles(layout)
	if err != nil {
		l.logf("source: %v", err)
	}
	results := iter.Mapper[string, parsedDecision]{MaxGoroutines: l.workers()}.Map(paths, func(p *string) parsedDecision {
		d, ok := l.ReadDecisionFile(layout, *p)
		return parsedDecision{entry: d, ok: ok}
	})
	for _, r := range results {
		if r.ok {
			out = append(out, r.entry)
		}
	}
	decisions.Sort(out)
	return out
}

// decisionFiles walks the decisions directory recursively and keeps files
// matching the configured glob. Unreadable subtrees are skipped.
func (l *Loader) decisionFiles(layout Layout) ([]string, error) {
	dir := layout.DecisionsDirPath()
	if ok, _ := afero.DirExists(l.fs(), dir); !ok {
		return nil, nil
	}
	matcher, err := glob.Compile(layout.Names.DecisionGlob, '/')
	if err != nil {
		return nil, fmt.Errorf("decision glob %q: %w", layout.Names.DecisionGlob, err)
	}
	var paths []string
	walkErr := afero.Walk(l.fs(), dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			l.logf("source: skip %s: %v", p, err)
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() || !strings.EqualFold(filepath.Ext(p), docExt) {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return nil
		}
		if matcher.Match(filepath.ToSlash(rel)) {
			paths = append(paths, p)
		}
		return nil
	})
	sort.Strings(paths)
	return paths, walkErr
}
