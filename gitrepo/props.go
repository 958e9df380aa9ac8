package gitrepo

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/mfaure/git-as-svn/vfs"
)

const (
	attributesFile = ".gitattributes"
	ignoreFile     = ".gitignore"

	mimeBinary = "application/octet-stream"
)

// Attribute states as stored in attrRule.attrs.
const (
	attrSet   = "true"
	attrUnset = "false"
)

// attrRule is one line of a .gitattributes file.
type attrRule struct {
	pattern string
	attrs   map[string]string
}

// parseAttributes parses .gitattributes content. Unspecified attributes
// ("!name") are recorded with an empty value so they reset earlier rules.
func parseAttributes(data []byte) []attrRule {
	var rules []attrRule
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		rule := attrRule{pattern: fields[0], attrs: make(map[string]string)}
		for _, f := range fields[1:] {
			switch {
			case f == "binary":
				rule.attrs["text"] = attrUnset
				rule.attrs["diff"] = attrUnset
			case strings.HasPrefix(f, "-"):
				rule.attrs[f[1:]] = attrUnset
			case strings.HasPrefix(f, "!"):
				rule.attrs[f[1:]] = ""
			case strings.Contains(f, "="):
				k, v, _ := strings.Cut(f, "=")
				rule.attrs[k] = v
			default:
				rule.attrs[f] = attrSet
			}
		}
		rules = append(rules, rule)
	}
	return rules
}

// matches reports whether the rule applies to rel, a path relative to the
// directory holding the .gitattributes file.
func (a attrRule) matches(rel string) bool {
	pattern := a.pattern
	target := rel
	switch {
	case strings.HasPrefix(pattern, "/"):
		pattern = pattern[1:]
	case !strings.Contains(pattern, "/"):
		target = path.Base(rel)
	}
	ok, err := doublestar.Match(pattern, target)
	return err == nil && ok
}

// attributeProperties maps resolved git attributes to svn properties.
func attributeProperties(attrs map[string]string, props vfs.Properties) {
	switch {
	case attrs["text"] == attrUnset:
		props[vfs.PropMimeType] = mimeBinary
	case attrs["eol"] == "lf":
		props[vfs.PropEolStyle] = "LF"
	case attrs["eol"] == "crlf":
		props[vfs.PropEolStyle] = "CRLF"
	case attrs["text"] == attrSet:
		props[vfs.PropEolStyle] = "native"
	}
}

// parseIgnore converts .gitignore content into svn:ignore (patterns
// anchored to the directory) and svn:global-ignores (patterns matching at
// any depth). Negations and multi-level patterns have no svn equivalent
// and are dropped.
func parseIgnore(data []byte) vfs.Properties {
	var local, global []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t\r")
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		anchored := strings.HasPrefix(line, "/")
		line = strings.TrimSuffix(strings.TrimPrefix(line, "/"), "/")
		if !anchored {
			line = strings.TrimPrefix(line, "**/")
		}
		if line == "" || strings.Contains(line, "/") {
			continue
		}
		if anchored {
			local = append(local, line)
		} else {
			global = append(global, line)
		}
	}

	props := vfs.Properties{}
	if len(local) > 0 {
		props[vfs.PropIgnore] = strings.Join(local, "\n") + "\n"
	}
	if len(global) > 0 {
		props[vfs.PropGlobalIgnore] = strings.Join(global, "\n") + "\n"
	}
	return props
}

func findEntry(entries []object.TreeEntry, name string) *object.TreeEntry {
	for i := range entries {
		if entries[i].Name == name {
			return &entries[i]
		}
	}
	return nil
}

func isRegular(mode filemode.FileMode) bool {
	return mode == filemode.Regular || mode == filemode.Executable || mode == filemode.Deprecated
}

// attributeRules returns the parsed rules of a .gitattributes blob.
func (r *Repository) attributeRules(h plumbing.Hash) ([]attrRule, error) {
	r.mu.Lock()
	if v, ok := r.attrs.Get(h); ok {
		r.mu.Unlock()
		return v.([]attrRule), nil
	}
	r.mu.Unlock()

	data, err := r.readBlob(h)
	if err != nil {
		return nil, fmt.Errorf("reading %s %s: %w", attributesFile, h, err)
	}
	rules := parseAttributes(data)

	r.mu.Lock()
	r.attrs.Add(h, rules)
	r.mu.Unlock()
	return rules, nil
}

// fileProperties derives the properties of the file at p from its mode and
// the .gitattributes files of its ancestor directories.
func (r *Repository) fileProperties(ctx context.Context, root plumbing.Hash, p string, mode filemode.FileMode) (vfs.Properties, error) {
	props := vfs.Properties{}
	switch mode {
	case filemode.Executable:
		props[vfs.PropExecutable] = "*"
	case filemode.Symlink:
		props[vfs.PropSpecial] = "*"
		return props, nil
	}

	parts := strings.Split(vfs.Relative(p), "/")
	attrs := make(map[string]string)
	h := root
	for depth := 0; ; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := r.entries(h)
		if err != nil {
			return nil, err
		}
		if ga := findEntry(entries, attributesFile); ga != nil && isRegular(ga.Mode) {
			rules, err := r.attributeRules(ga.Hash)
			if err != nil {
				return nil, err
			}
			rel := strings.Join(parts[depth:], "/")
			for _, rule := range rules {
				if !rule.matches(rel) {
					continue
				}
				for k, v := range rule.attrs {
					attrs[k] = v
				}
			}
		}
		if depth == len(parts)-1 {
			break
		}
		next := findEntry(entries, parts[depth])
		if next == nil || next.Mode != filemode.Dir {
			break
		}
		h = next.Hash
	}

	attributeProperties(attrs, props)
	return props, nil
}

// dirProperties derives the properties of a directory from its .gitignore.
func (r *Repository) dirProperties(ctx context.Context, tree plumbing.Hash) (vfs.Properties, error) {
	entries, err := r.entries(tree)
	if err != nil {
		return nil, err
	}
	gi := findEntry(entries, ignoreFile)
	if gi == nil || !isRegular(gi.Mode) {
		return vfs.Properties{}, nil
	}

	r.mu.Lock()
	v, ok := r.ignores.Get(gi.Hash)
	r.mu.Unlock()
	if !ok {
		data, err := r.readBlob(gi.Hash)
		if err != nil {
			return nil, fmt.Errorf("reading %s %s: %w", ignoreFile, gi.Hash, err)
		}
		v = parseIgnore(data)
		r.mu.Lock()
		r.ignores.Add(gi.Hash, v)
		r.mu.Unlock()
	}

	cached := v.(vfs.Properties)
	props := make(vfs.Properties, len(cached))
	for k, val := range cached {
		props[k] = val
	}
	return props, nil
}
