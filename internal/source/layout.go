// Package source locates the squad folder under a workspace root and loads
// its documents into parsed records.
package source

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FolderConventions lists the squad folder names in precedence order: the
// current name first, then the legacy one.
var FolderConventions = []string{".squad", ".ai-team"}

// Names are the document locations inside the squad folder.
type Names struct {
	RosterFile      string
	ActiveLogDir    string
	NarrativeLogDir string
	DecisionsFile   string
	DecisionsDir    string
	DecisionGlob    string
}

func DefaultNames() Names {
	return Names{
		RosterFile:      "team.md",
		ActiveLogDir:    "orchestration-log",
		NarrativeLogDir: "log",
		DecisionsFile:   "decisions.md",
		DecisionsDir:    "decisions",
		DecisionGlob:    "**.md",
	}
}

func (n Names) withDefaults() Names {
	d := DefaultNames()
	if n.RosterFile == "" {
		n.RosterFile = d.RosterFile
	}
	if n.ActiveLogDir == "" {
		n.ActiveLogDir = d.ActiveLogDir
	}
	if n.NarrativeLogDir == "" {
		n.NarrativeLogDir = d.NarrativeLogDir
	}
	if n.DecisionsFile == "" {
		n.DecisionsFile = d.DecisionsFile
	}
	if n.DecisionsDir == "" {
		n.DecisionsDir = d.DecisionsDir
	}
	if n.DecisionGlob == "" {
		n.DecisionGlob = d.DecisionGlob
	}
	return n
}

// Layout is a resolved squad folder.
type Layout struct {
	Root   string
	Folder string
	Names  Names
	// Exists is false when no candidate folder was found; every load then
	// yields empty state.
	Exists bool
}

// Resolve picks the squad folder under root. A configured folder wins when it
// exists; otherwise the conventions are tried in order. When nothing exists
// the configured name, or the first convention, is kept.
func Resolve(fs afero.Fs, root, configured string, names Names) Layout {
	l := Layout{Root: root, Names: names.withDefaults()}
	candidates := FolderConventions
	if configured != "" {
		candidates = append([]string{configured}, FolderConventions...)
	}
	for _, c := range candidates {
		if ok, _ := afero.DirExists(fs, filepath.Join(root, c)); ok {
			l.Folder = c
			l.Exists = true
			return l
		}
	}
	l.Folder = FolderConventions[0]
	if configured != "" {
		l.Folder = configured
	}
	return l
}

func (l Layout) Dir() string { return filepath.Join(l.Root, l.Folder) }

func (l Layout) RosterPath() string { return filepath.Join(l.Dir(), l.Names.RosterFile) }
func (l Layout) ActiveLogDir() string { return filepath.Join(l.Dir(), l.Names.ActiveLogDir) }
func (l Layout) NarrativeLogDir() string { return filepath.Join(l.Dir(), l.Names.NarrativeLogDir) }
func (l Layout) DecisionsFilePath() string { return filepath.Join(l.Dir(), l.Names.DecisionsFile) }
func (l Layout) DecisionsDirPath() string { return filepath.Join(l.Dir(), l.Names.DecisionsDir) }

// Rel returns p relative to the root with forward slashes, or p itself when
// it lies outside the root.
func (l Layout) Rel(p string) string {
	rel, err := filepath.Rel(l.Root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}
