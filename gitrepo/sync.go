package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"github.com/mfaure/git-as-svn/pack"
	"github.com/mfaure/git-as-svn/store"
	"github.com/mfaure/git-as-svn/vfs"
)

// Sync indexes the commits added to the branch since the last run and
// returns the latest revision. Revision 0 is created on first use. Each
// revision is committed in its own transaction, so readers never see a
// revision without its change history.
func (r *Repository) Sync(ctx context.Context) (int64, error) {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	latest, err := r.db.LatestRevision()
	if err != nil {
		return 0, err
	}

	head, headErr := r.branchHead()
	if headErr != nil && !errors.Is(headErr, ErrBranchNotFound) {
		return 0, headErr
	}

	var lastCommit string
	if latest >= 0 {
		rec, err := r.db.GetRevision(latest)
		if err != nil {
			return 0, err
		}
		lastCommit = rec.Commit
	}

	var pending []*object.Commit
	if head != nil {
		pending, err = r.pendingCommits(ctx, head, lastCommit)
		if err != nil {
			return latest, err
		}
	}

	if latest < 0 {
		date := time.Now().UTC()
		if len(pending) > 0 {
			date = pending[0].Committer.When
		}
		if err := r.appendRoot(date); err != nil {
			return 0, err
		}
		latest = 0
	}
	if head == nil {
		return latest, headErr
	}

	var prevTree plumbing.Hash
	if lastCommit != "" {
		c, err := r.commitObject(plumbing.NewHash(lastCommit))
		if err != nil {
			return latest, fmt.Errorf("loading indexed commit %s: %w", lastCommit, err)
		}
		prevTree = c.TreeHash
	}

	for _, c := range pending {
		if err := ctx.Err(); err != nil {
			return latest, err
		}
		changes, paths, err := r.diffTrees(ctx, prevTree, c.TreeHash)
		if err != nil {
			return latest, fmt.Errorf("diffing %s: %w", c.Hash, err)
		}
		if err := r.appendCommit(latest+1, c, changes, paths); err != nil {
			return latest, err
		}
		latest++
		prevTree = c.TreeHash
		r.log.WithField("rev", latest).WithField("commit", c.Hash.String()).Debug("indexed commit")
	}

	return latest, nil
}

func (r *Repository) branchHead() (*object.Commit, error) {
	r.gitMu.Lock()
	ref, err := r.git.Reference(plumbing.NewBranchReferenceName(r.branch), true)
	r.gitMu.Unlock()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, fmt.Errorf("%s: %w", r.branch, ErrBranchNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving branch %s: %w", r.branch, err)
	}
	c, err := r.commitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("getting commit: %w", err)
	}
	return c, nil
}

// pendingCommits walks the first-parent chain from head back to the last
// indexed commit and returns the commits in between, oldest first.
func (r *Repository) pendingCommits(ctx context.Context, head *object.Commit, lastCommit string) ([]*object.Commit, error) {
	var pending []*object.Commit
	c := head
	for c.Hash.String() != lastCommit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pending = append(pending, c)
		if len(c.ParentHashes) == 0 {
			if lastCommit != "" {
				return nil, fmt.Errorf("%s no longer contains %s: %w", r.branch, lastCommit, ErrHistoryRewritten)
			}
			break
		}
		parent, err := r.commitObject(c.ParentHashes[0])
		if err != nil {
			return nil, fmt.Errorf("getting parent of %s: %w", c.Hash, err)
		}
		c = parent
	}

	for i, j := 0, len(pending)-1; i < j; i, j = i+1, j-1 {
		pending[i], pending[j] = pending[j], pending[i]
	}
	return pending, nil
}

func (r *Repository) appendRoot(date time.Time) error {
	seg, err := pack.EncodeChanges(nil)
	if err != nil {
		return err
	}
	return r.append(&store.Revision{Rev: 0, Date: date, Changes: seg}, []string{vfs.Root})
}

func (r *Repository) appendCommit(rev int64, c *object.Commit, changes []vfs.Change, paths []string) error {
	seg, err := pack.EncodeChanges(changes)
	if err != nil {
		return err
	}
	return r.append(&store.Revision{
		Rev:     rev,
		Commit:  c.Hash.String(),
		Author:  c.Author.Name,
		Date:    c.Committer.When,
		Message: c.Message,
		Changes: seg,
	}, paths)
}

func (r *Repository) append(rec *store.Revision, paths []string) error {
	tx, err := r.db.BeginTx()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.db.AppendRevision(tx, rec, paths); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// diffTrees derives the svn change list between two root trees, and the
// set of paths whose lastChange moves to the new revision: every changed
// path and all of its ancestors. Git only reports blobs, so directory
// additions, deletions and file/directory replacements are derived by
// comparing the kind of each affected path on both sides.
func (r *Repository) diffTrees(ctx context.Context, from, to plumbing.Hash) ([]vfs.Change, []string, error) {
	var fromTree, toTree *object.Tree
	var err error
	if !from.IsZero() {
		if fromTree, err = r.treeObject(from); err != nil {
			return nil, nil, err
		}
	}
	if toTree, err = r.treeObject(to); err != nil {
		return nil, nil, err
	}

	r.gitMu.Lock()
	diff, err := object.DiffTreeContext(ctx, fromTree, toTree)
	r.gitMu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	// Paths git reported, mapped to whether the blob itself changed.
	blobs := make(map[string]bool)
	// Directories whose .gitignore changed, giving them a property change.
	propDirs := make(map[string]bool)
	var attrDirs []string
	candidates := map[string]bool{vfs.Root: true}
	for _, ch := range diff {
		action, err := ch.Action()
		if err != nil {
			return nil, nil, err
		}
		side := ch.To
		if action == merkletrie.Delete {
			side = ch.From
		}
		if isSubmodule(side) {
			continue
		}
		name := side.Name
		p := vfs.Clean(name)
		blobs[p] = true
		for _, a := range vfs.Ancestors(p) {
			candidates[a] = true
		}
		switch vfs.Base(p) {
		case ignoreFile:
			propDirs[vfs.Parent(p)] = true
		case attributesFile:
			attrDirs = append(attrDirs, vfs.Parent(p))
		}
	}

	// Files whose derived properties moved with a .gitattributes change.
	propFiles, err := r.attributeChanges(ctx, from, to, attrDirs, blobs)
	if err != nil {
		return nil, nil, err
	}
	for p := range propFiles {
		for _, a := range vfs.Ancestors(p) {
			candidates[a] = true
		}
	}

	kinds := func(root plumbing.Hash, p string) (vfs.Kind, error) {
		if root.IsZero() {
			return vfs.KindNone, nil
		}
		e, err := r.lookup(ctx, root, p)
		if err != nil || e == nil {
			return vfs.KindNone, err
		}
		return kindOf(e.Mode), nil
	}

	byPath := make(map[string]vfs.Change)
	for p := range candidates {
		if p == vfs.Root {
			continue
		}
		oldKind, err := kinds(from, p)
		if err != nil {
			return nil, nil, err
		}
		newKind, err := kinds(to, p)
		if err != nil {
			return nil, nil, err
		}

		var action vfs.Action
		switch {
		case oldKind == vfs.KindNone && newKind == vfs.KindNone:
			continue
		case oldKind == vfs.KindNone:
			action = vfs.ActionAdd
		case newKind == vfs.KindNone:
			action = vfs.ActionDelete
		case oldKind != newKind:
			action = vfs.ActionReplace
		case newKind == vfs.KindFile && (blobs[p] || propFiles[p]):
			action = vfs.ActionModify
		case newKind == vfs.KindDir && propDirs[p]:
			action = vfs.ActionModify
		default:
			continue
		}
		kind := newKind
		if action == vfs.ActionDelete {
			kind = oldKind
		}
		byPath[p] = vfs.Change{Path: p, Action: action, Kind: kind}
	}
	if propDirs[vfs.Root] {
		byPath[vfs.Root] = vfs.Change{Path: vfs.Root, Action: vfs.ActionModify, Kind: vfs.KindDir}
	}

	changes := make([]vfs.Change, 0, len(byPath))
	for p, ch := range byPath {
		if ch.Action == vfs.ActionDelete && removedByAncestor(byPath, p) {
			continue
		}
		changes = append(changes, ch)
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })

	paths := make([]string, 0, len(candidates))
	for p := range candidates {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return changes, paths, nil
}

// removedByAncestor reports whether a parent directory of p was deleted
// or replaced in the same change set.
func removedByAncestor(byPath map[string]vfs.Change, p string) bool {
	for _, a := range vfs.Ancestors(vfs.Parent(p)) {
		if ch, ok := byPath[a]; ok && (ch.Action == vfs.ActionDelete || ch.Action == vfs.ActionReplace) {
			return true
		}
	}
	return false
}

// isSubmodule reports whether a diff side names a gitlink.
func isSubmodule(e object.ChangeEntry) bool {
	return e.TreeEntry.Mode == filemode.Submodule
}

// attributeChanges returns the files below the directories in dirs, left
// untouched by git, whose properties differ between the two trees because
// a .gitattributes file changed.
func (r *Repository) attributeChanges(ctx context.Context, from, to plumbing.Hash, dirs []string, blobs map[string]bool) (map[string]bool, error) {
	changed := make(map[string]bool)
	if from.IsZero() {
		return changed, nil
	}
	seen := make(map[string]bool)
	for _, dir := range dirs {
		files, err := r.filesBelow(ctx, to, dir)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if blobs[f.path] || seen[f.path] {
				continue
			}
			seen[f.path] = true
			before, err := r.fileProperties(ctx, from, f.path, f.mode)
			if err != nil {
				return nil, err
			}
			after, err := r.fileProperties(ctx, to, f.path, f.mode)
			if err != nil {
				return nil, err
			}
			if !maps.Equal(before, after) {
				changed[f.path] = true
			}
		}
	}
	return changed, nil
}

type fileEntry struct {
	path string
	mode filemode.FileMode
}

// filesBelow lists the regular files under dir in the tree rooted at root.
func (r *Repository) filesBelow(ctx context.Context, root plumbing.Hash, dir string) ([]fileEntry, error) {
	e, err := r.lookup(ctx, root, dir)
	if err != nil || e == nil || e.Mode != filemode.Dir {
		return nil, err
	}
	var files []fileEntry
	var walk func(h plumbing.Hash, prefix string) error
	walk = func(h plumbing.Hash, prefix string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := r.entries(h)
		if err != nil {
			return err
		}
		for _, te := range entries {
			p := vfs.Join(prefix, te.Name)
			switch {
			case te.Mode == filemode.Dir:
				if err := walk(te.Hash, p); err != nil {
					return err
				}
			case isRegular(te.Mode):
				files = append(files, fileEntry{path: p, mode: te.Mode})
			}
		}
		return nil
	}
	if err := walk(e.Hash, dir); err != nil {
		return nil, err
	}
	return files, nil
}
