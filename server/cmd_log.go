package server

import (
	"context"

	"github.com/mfaure/git-as-svn/proto"
	"github.com/mfaure/git-as-svn/vfs"
)

// log
//
//	params:   ( ( target-path:string ... ) [ start-rev:number ]
//	          [ end-rev:number ] changed-paths:bool strict-node:bool
//	          ? limit:number
//	          ? include-merged-revisions:bool
//	          all-revprops | revprops ( revprop:string ... ) )
//	response: a sequence of log entries, then done, then ( success ( ) )
//	entry:    ( ( change:changed-path-entry ... ) rev:number
//	          [ author:string ] [ date:string ] [ message:string ]
//	          ? has-children:bool invalid-revnum:bool
//	          revprop-count:number rev-props:proplist )
type logParams struct {
	Paths        []string
	Start        *int64
	End          *int64
	ChangedPaths bool
	Limit        int64
	// RevProps lists the requested revision properties; nil means all.
	RevProps []string
}

func logCommand() Command {
	return command("log",
		Shape{
			{Name: "paths", Type: FieldList},
			{Name: "start-rev", Type: FieldNumber, Optional: true},
			{Name: "end-rev", Type: FieldNumber, Optional: true},
			{Name: "changed-paths", Type: FieldBool},
			{Name: "strict-node", Type: FieldBool},
			{Name: "limit", Type: FieldNumber, Trailing: true},
			{Name: "include-merged-revisions", Type: FieldBool, Trailing: true},
			{Name: "revprops-mode", Type: FieldWord, Trailing: true},
			{Name: "revprops", Type: FieldList, Trailing: true},
		},
		func(a Args) logParams {
			p := logParams{
				Paths:        a.Strings(0),
				Start:        a.OptNumber(1),
				End:          a.OptNumber(2),
				ChangedPaths: a.Bool(3),
				Limit:        a.Number(5),
			}
			if a.Word(7) == "revprops" {
				p.RevProps = a.Strings(8)
				if p.RevProps == nil {
					p.RevProps = []string{}
				}
			}
			return p
		},
		func(ctx context.Context, s *Session, p logParams) error {
			// Clients read entries until done, so done precedes any failure.
			err := logRevisions(ctx, s, p)
			s.w.Word("done")
			if err != nil {
				return endStream(err)
			}
			writeSuccessEmpty(s.w)
			return nil
		},
	)
}

// logRevisions writes the log entries of the requested range.
func logRevisions(ctx context.Context, s *Session, p logParams) error {
	latest, err := s.Repo.LatestRevision(ctx)
	if err != nil {
		return err
	}
	start, end := latest, int64(0)
	if p.Start != nil {
		start = *p.Start
	}
	if p.End != nil {
		end = *p.End
	}
	for _, rev := range []int64{start, end} {
		if rev > latest {
			return clientErrorf(CodeNoSuchRevision, "No such revision %d", rev)
		}
	}

	targets := make([]string, 0, len(p.Paths))
	for _, t := range p.Paths {
		targets = append(targets, s.Resolve(t))
	}
	if len(targets) == 0 {
		targets = append(targets, s.Resolve(""))
	}

	step := int64(1)
	if start > end {
		step = -1
	}

	w := s.w
	var sent int64
	for rev := start; ; rev += step {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := s.Repo.RevisionInfo(ctx, rev)
		if err != nil {
			return err
		}
		changes, err := info.Changes(ctx)
		if err != nil {
			return err
		}
		if touches(changes, targets) {
			writeLogEntry(w, info, changes, p)
			if err := w.Flush(); err != nil {
				return err
			}
			sent++
			if p.Limit > 0 && sent >= p.Limit {
				break
			}
		}
		if rev == end {
			break
		}
	}
	return nil
}

// touches reports whether a change affects a target, a path below it or
// a directory above it.
func touches(changes []vfs.Change, targets []string) bool {
	for _, c := range changes {
		for _, t := range targets {
			if vfs.IsWithin(c.Path, t) || vfs.IsWithin(t, c.Path) {
				return true
			}
		}
	}
	return false
}

func writeLogEntry(w *proto.Writer, info vfs.RevisionInfo, changes []vfs.Change, p logParams) {
	w.ListBegin().ListBegin()
	if p.ChangedPaths {
		for _, c := range changes {
			w.ListBegin().
				String(c.Path).
				Word(c.Action.String()).
				ListBegin().ListEnd().
				ListBegin().String(c.Kind.String()).Bool(false).Bool(false).ListEnd().
				ListEnd()
		}
	}
	w.ListEnd().Number(info.ID())

	// author, date and message have dedicated slots; other selected
	// properties travel in rev-props.
	props := selectRevProps(vfs.RevisionProperties(info), p.RevProps)
	for _, name := range []string{vfs.RevPropAuthor, vfs.RevPropDate, vfs.RevPropLog} {
		w.ListBegin()
		if v, ok := props[name]; ok {
			w.String(v)
			delete(props, name)
		}
		w.ListEnd()
	}
	w.Bool(false).Bool(false).Number(int64(len(props))).Props(props)
	w.ListEnd()
}

func selectRevProps(all vfs.Properties, names []string) vfs.Properties {
	out := vfs.Properties{}
	if names == nil {
		for k, v := range all {
			out[k] = v
		}
		return out
	}
	for _, name := range names {
		if v, ok := all[name]; ok {
			out[name] = v
		}
	}
	return out
}
