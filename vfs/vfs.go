// Package vfs defines the read-only, revision-indexed view of a repository
// that the svn protocol serves.
//
// A Repository hands out RevisionInfo snapshots by number. A snapshot is
// immutable: every Node resolved through it reflects the tree exactly as it
// was at that revision, no matter how far history has advanced since.
package vfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sort"
	"time"
)

// ErrNoSuchRevision is returned for revisions outside the known range.
var ErrNoSuchRevision = errors.New("no such revision")

// Kind is the type of a node. Its String form is the svn node-kind word.
type Kind int

const (
	KindNone Kind = iota
	KindFile
	KindDir
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	default:
		return "none"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "file":
		return KindFile, nil
	case "dir":
		return KindDir, nil
	case "none":
		return KindNone, nil
	}
	return KindNone, fmt.Errorf("unknown node kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	kind, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// Properties maps property names to opaque values.
type Properties map[string]string

// Names returns the property names in sorted order.
func (p Properties) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Well-known property names.
const (
	PropExecutable   = "svn:executable"
	PropSpecial      = "svn:special"
	PropMimeType     = "svn:mime-type"
	PropEolStyle     = "svn:eol-style"
	PropIgnore       = "svn:ignore"
	PropGlobalIgnore = "svn:global-ignores"

	RevPropAuthor = "svn:author"
	RevPropDate   = "svn:date"
	RevPropLog    = "svn:log"
)

// Action is the kind of change made to a path in a revision.
type Action byte

const (
	ActionAdd     Action = 'A'
	ActionDelete  Action = 'D'
	ActionModify  Action = 'M'
	ActionReplace Action = 'R'
)

func (a Action) String() string {
	return string(rune(a))
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte{byte(a)}, nil
}

func (a *Action) UnmarshalText(b []byte) error {
	if len(b) != 1 {
		return fmt.Errorf("invalid change action %q", b)
	}
	switch act := Action(b[0]); act {
	case ActionAdd, ActionDelete, ActionModify, ActionReplace:
		*a = act
		return nil
	}
	return fmt.Errorf("invalid change action %q", b)
}

// Change is one changed path of a revision.
type Change struct {
	Path   string `json:"path"`
	Action Action `json:"action"`
	Kind   Kind   `json:"kind"`
}

// Repository is the process-wide entry point to a repository's history.
type Repository interface {
	// UUID identifies the repository to clients.
	UUID() string
	// LatestRevision returns the current head. Every call is a fresh read.
	LatestRevision(ctx context.Context) (int64, error)
	// RevisionInfo returns the snapshot for rev, or an error wrapping
	// ErrNoSuchRevision.
	RevisionInfo(ctx context.Context, rev int64) (RevisionInfo, error)
}

// RevisionInfo is an immutable snapshot of the whole tree at one revision.
type RevisionInfo interface {
	ID() int64
	Author() string
	Date() time.Time
	Message() string
	// Node resolves an absolute path. A missing path is (nil, nil).
	Node(ctx context.Context, path string) (Node, error)
	// Changes lists the paths changed by this revision.
	Changes(ctx context.Context) ([]Change, error)
}

// Node is a file or directory as it exists in one snapshot.
type Node interface {
	// Name is the base name; empty for the root.
	Name() string
	Kind() Kind
	// Size is the content length of a file and 0 for directories.
	Size(ctx context.Context) (int64, error)
	Properties(ctx context.Context) (Properties, error)
	// LastChange is the snapshot in which this node, or anything below it,
	// was last modified. Its ID never exceeds the owning snapshot's ID.
	LastChange(ctx context.Context) (RevisionInfo, error)
	// Entries lazily yields the immediate children of a directory. The
	// sequence can be ranged over more than once.
	Entries(ctx context.Context) iter.Seq2[Node, error]
	// Open returns the content of a file.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// RevisionProperties returns the svn revision properties of a snapshot.
func RevisionProperties(info RevisionInfo) Properties {
	props := Properties{
		RevPropDate: FormatDate(info.Date()),
	}
	if author := info.Author(); author != "" {
		props[RevPropAuthor] = author
	}
	if info.ID() > 0 {
		props[RevPropLog] = info.Message()
	}
	return props
}
