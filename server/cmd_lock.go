package server

import (
	"context"
)

// Locks and inherited properties are not supported; these commands
// answer with empty results so clients that ask for them keep working.

// get-lock
//
//	params:   ( path:string )
//	response: ( [ lock:lockdesc ] )
func getLockCommand() Command {
	return command("get-lock",
		Shape{{Name: "path", Type: FieldString}},
		func(a Args) string { return a.String(0) },
		func(ctx context.Context, s *Session, _ string) error {
			s.w.ListBegin().Word("success").ListBegin().ListBegin().ListEnd().ListEnd().ListEnd()
			return nil
		},
	)
}

// get-locks
//
//	params:   ( path:string ? [ depth:word ] )
//	response: ( ( lock:lockdesc ... ) )
func getLocksCommand() Command {
	return command("get-locks",
		Shape{
			{Name: "path", Type: FieldString},
			{Name: "depth", Type: FieldWord, Optional: true, Trailing: true},
		},
		func(a Args) string { return a.String(0) },
		func(ctx context.Context, s *Session, _ string) error {
			s.w.ListBegin().Word("success").ListBegin().ListBegin().ListEnd().ListEnd().ListEnd()
			return nil
		},
	)
}

// get-iprops
//
//	params:   ( path:string [ rev:number ] )
//	response: ( ( inherited-props:iproplist ... ) )
func getIPropsCommand() Command {
	return command("get-iprops", pathRevShape, bindPathRev,
		func(ctx context.Context, s *Session, p pathRevParams) error {
			if _, err := s.revisionInfo(ctx, p.Rev); err != nil {
				return err
			}
			s.w.ListBegin().Word("success").ListBegin().ListBegin().ListEnd().ListEnd().ListEnd()
			return nil
		},
	)
}
