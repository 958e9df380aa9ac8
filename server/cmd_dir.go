package server

import (
	"context"

	"github.com/mfaure/git-as-svn/vfs"
)

// get-dir
//
//	params:   ( path:string [ rev:number ] want-props:bool want-contents:bool
//	          ? ( field:dirent-field ... ) ? want-iprops:bool )
//	response: ( rev:number props:proplist ( entry:dirent ... ) )
//	dirent:   ( name:string kind:node-kind size:number has-props:bool
//	          created-rev:number [ created-date:string ] [ last-author:string ] )
type getDirParams struct {
	Path         string
	Rev          *int64
	WantProps    bool
	WantContents bool
}

func getDirCommand() Command {
	return command("get-dir",
		Shape{
			{Name: "path", Type: FieldString},
			{Name: "rev", Type: FieldNumber, Optional: true},
			{Name: "want-props", Type: FieldBool},
			{Name: "want-contents", Type: FieldBool},
			{Name: "fields", Type: FieldList, Trailing: true},
			{Name: "want-iprops", Type: FieldBool, Trailing: true},
		},
		func(a Args) getDirParams {
			return getDirParams{
				Path:         a.String(0),
				Rev:          a.OptNumber(1),
				WantProps:    a.Bool(2),
				WantContents: a.Bool(3),
			}
		},
		getDir,
	)
}

func getDir(ctx context.Context, s *Session, p getDirParams) error {
	info, err := s.revisionInfo(ctx, p.Rev)
	if err != nil {
		return err
	}
	node, err := info.Node(ctx, s.Resolve(p.Path))
	if err != nil {
		return err
	}
	if node == nil || node.Kind() != vfs.KindDir {
		return &ClientError{Code: CodeDirNotFound, Message: "Directory not found"}
	}

	props := vfs.Properties{}
	if p.WantProps {
		if props, err = node.Properties(ctx); err != nil {
			return err
		}
	}

	w := s.w
	w.ListBegin().Word("success").ListBegin().
		Number(info.ID()).
		Props(props).
		ListBegin()
	if p.WantContents {
		for child, err := range node.Entries(ctx) {
			if err != nil {
				return err
			}
			size, err := child.Size(ctx)
			if err != nil {
				return err
			}
			childProps, err := child.Properties(ctx)
			if err != nil {
				return err
			}
			last, err := child.LastChange(ctx)
			if err != nil {
				return err
			}
			w.ListBegin().
				String(child.Name()).
				Word(child.Kind().String()).
				Number(size).
				Bool(len(childProps) > 0).
				Number(last.ID()).
				ListBegin().String(vfs.FormatDate(last.Date())).ListEnd().
				// last-author is left empty.
				ListBegin().ListEnd().
				ListEnd()
		}
	}
	w.ListEnd().ListEnd().ListEnd()
	return nil
}
