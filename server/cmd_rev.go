package server

import (
	"context"
	"time"

	"github.com/mfaure/git-as-svn/vfs"
)

// datedRepository is implemented by repositories with an index by date.
type datedRepository interface {
	RevisionAtDate(ctx context.Context, t time.Time) (int64, error)
}

// get-latest-rev
//
//	params:   ( )
//	response: ( rev:number )
func getLatestRevCommand() Command {
	return command("get-latest-rev", Shape{},
		func(Args) struct{} { return struct{}{} },
		func(ctx context.Context, s *Session, _ struct{}) error {
			latest, err := s.Repo.LatestRevision(ctx)
			if err != nil {
				return err
			}
			s.w.ListBegin().Word("success").ListBegin().Number(latest).ListEnd().ListEnd()
			return nil
		},
	)
}

// get-dated-rev
//
//	params:   ( date:string )
//	response: ( rev:number )
func getDatedRevCommand() Command {
	return command("get-dated-rev",
		Shape{{Name: "date", Type: FieldString}},
		func(a Args) string { return a.String(0) },
		getDatedRev,
	)
}

func getDatedRev(ctx context.Context, s *Session, date string) error {
	t, err := vfs.ParseDate(date)
	if err != nil {
		return clientErrorf(CodeMalformedData, "Invalid date '%s'", date)
	}

	var rev int64
	if dr, ok := s.Repo.(datedRepository); ok {
		if rev, err = dr.RevisionAtDate(ctx, t); err != nil {
			return err
		}
	} else if rev, err = scanRevisionAtDate(ctx, s.Repo, t); err != nil {
		return err
	}

	s.w.ListBegin().Word("success").ListBegin().Number(rev).ListEnd().ListEnd()
	return nil
}

// scanRevisionAtDate walks back from the latest revision to the first one
// dated at or before t.
func scanRevisionAtDate(ctx context.Context, repo vfs.Repository, t time.Time) (int64, error) {
	latest, err := repo.LatestRevision(ctx)
	if err != nil {
		return 0, err
	}
	for rev := latest; rev > 0; rev-- {
		info, err := repo.RevisionInfo(ctx, rev)
		if err != nil {
			return 0, err
		}
		if !info.Date().After(t) {
			return rev, nil
		}
	}
	return 0, nil
}

// reparent
//
//	params:   ( url:string )
//	response: ( )
func reparentCommand() Command {
	return command("reparent",
		Shape{{Name: "url", Type: FieldString}},
		func(a Args) string { return a.String(0) },
		func(ctx context.Context, s *Session, rawURL string) error {
			if err := s.Reparent(rawURL); err != nil {
				return err
			}
			writeSuccessEmpty(s.w)
			return nil
		},
	)
}

// rev-proplist
//
//	params:   ( rev:number )
//	response: ( props:proplist )
func revPropListCommand() Command {
	return command("rev-proplist",
		Shape{{Name: "rev", Type: FieldNumber}},
		func(a Args) int64 { return a.Number(0) },
		func(ctx context.Context, s *Session, rev int64) error {
			info, err := s.revisionInfo(ctx, &rev)
			if err != nil {
				return err
			}
			s.w.ListBegin().Word("success").ListBegin().
				Props(vfs.RevisionProperties(info)).
				ListEnd().ListEnd()
			return nil
		},
	)
}

// rev-prop
//
//	params:   ( rev:number name:string )
//	response: ( [ value:string ] )
type revPropParams struct {
	Rev  int64
	Name string
}

func revPropCommand() Command {
	return command("rev-prop",
		Shape{
			{Name: "rev", Type: FieldNumber},
			{Name: "name", Type: FieldString},
		},
		func(a Args) revPropParams {
			return revPropParams{Rev: a.Number(0), Name: a.String(1)}
		},
		func(ctx context.Context, s *Session, p revPropParams) error {
			info, err := s.revisionInfo(ctx, &p.Rev)
			if err != nil {
				return err
			}
			w := s.w
			w.ListBegin().Word("success").ListBegin().ListBegin()
			if v, ok := vfs.RevisionProperties(info)[p.Name]; ok {
				w.String(v)
			}
			w.ListEnd().ListEnd().ListEnd()
			return nil
		},
	)
}
