package server

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"

	"github.com/mfaure/git-as-svn/proto"
	"github.com/mfaure/git-as-svn/vfs"
)

// fileChunkSize bounds each content string sent by get-file.
const fileChunkSize = 64 * 1024

type pathRevParams struct {
	Path string
	Rev  *int64
}

var pathRevShape = Shape{
	{Name: "path", Type: FieldString},
	{Name: "rev", Type: FieldNumber, Optional: true},
}

func bindPathRev(a Args) pathRevParams {
	return pathRevParams{Path: a.String(0), Rev: a.OptNumber(1)}
}

// check-path
//
//	params:   ( path:string [ rev:number ] )
//	response: ( kind:node-kind )
func checkPathCommand() Command {
	return command("check-path", pathRevShape, bindPathRev,
		func(ctx context.Context, s *Session, p pathRevParams) error {
			info, err := s.revisionInfo(ctx, p.Rev)
			if err != nil {
				return err
			}
			node, err := info.Node(ctx, s.Resolve(p.Path))
			if err != nil {
				return err
			}
			kind := vfs.KindNone
			if node != nil {
				kind = node.Kind()
			}
			s.w.ListBegin().Word("success").ListBegin().Word(kind.String()).ListEnd().ListEnd()
			return nil
		},
	)
}

// stat
//
//	params:   ( path:string [ rev:number ] )
//	response: ( ? entry:dirent )
//	dirent:   ( kind:node-kind size:number has-props:bool created-rev:number
//	          [ created-date:string ] [ last-author:string ] )
func statCommand() Command {
	return command("stat", pathRevShape, bindPathRev, stat)
}

func stat(ctx context.Context, s *Session, p pathRevParams) error {
	info, err := s.revisionInfo(ctx, p.Rev)
	if err != nil {
		return err
	}
	node, err := info.Node(ctx, s.Resolve(p.Path))
	if err != nil {
		return err
	}

	w := s.w
	w.ListBegin().Word("success").ListBegin().ListBegin()
	if node != nil {
		size, err := node.Size(ctx)
		if err != nil {
			return err
		}
		props, err := node.Properties(ctx)
		if err != nil {
			return err
		}
		last, err := node.LastChange(ctx)
		if err != nil {
			return err
		}
		w.ListBegin().
			Word(node.Kind().String()).
			Number(size).
			Bool(len(props) > 0).
			Number(last.ID()).
			ListBegin().String(vfs.FormatDate(last.Date())).ListEnd().
			ListBegin()
		if author := last.Author(); author != "" {
			w.String(author)
		}
		w.ListEnd().ListEnd()
	}
	w.ListEnd().ListEnd().ListEnd()
	return nil
}

// get-file
//
//	params:   ( path:string [ rev:number ] want-props:bool want-contents:bool
//	          ? want-iprops:bool )
//	response: ( [ checksum:string ] rev:number props:proplist )
//	then, if want-contents, content strings ending with an empty string,
//	then ( success ( ) ).
type getFileParams struct {
	Path         string
	Rev          *int64
	WantProps    bool
	WantContents bool
}

func getFileCommand() Command {
	return command("get-file",
		Shape{
			{Name: "path", Type: FieldString},
			{Name: "rev", Type: FieldNumber, Optional: true},
			{Name: "want-props", Type: FieldBool},
			{Name: "want-contents", Type: FieldBool},
			{Name: "want-iprops", Type: FieldBool, Trailing: true},
		},
		func(a Args) getFileParams {
			return getFileParams{
				Path:         a.String(0),
				Rev:          a.OptNumber(1),
				WantProps:    a.Bool(2),
				WantContents: a.Bool(3),
			}
		},
		getFile,
	)
}

func getFile(ctx context.Context, s *Session, p getFileParams) error {
	info, err := s.revisionInfo(ctx, p.Rev)
	if err != nil {
		return err
	}
	full := s.Resolve(p.Path)
	node, err := info.Node(ctx, full)
	if err != nil {
		return err
	}
	if node == nil {
		return clientErrorf(CodePathNotFound, "'%s' path not found", full)
	}
	if node.Kind() != vfs.KindFile {
		return clientErrorf(CodeNotFile, "Attempted to get textual contents of a *non*-file node '%s'", full)
	}

	sum, err := fileChecksum(ctx, node)
	if err != nil {
		return err
	}
	props := vfs.Properties{}
	if p.WantProps {
		if props, err = node.Properties(ctx); err != nil {
			return err
		}
	}

	w := s.w
	w.ListBegin().Word("success").ListBegin().
		ListBegin().String(sum).ListEnd().
		Number(info.ID()).
		Props(props).
		ListEnd().ListEnd()
	if !p.WantContents {
		return nil
	}
	if err := w.Flush(); err != nil {
		return err
	}

	// The header is out; every exit from here ends the content stream.
	err = streamContents(ctx, w, node)
	w.String("")
	if err != nil {
		return endStream(err)
	}
	writeSuccessEmpty(w)
	return nil
}

// streamContents writes the file contents as a sequence of strings of at
// most fileChunkSize bytes, flushing each one.
func streamContents(ctx context.Context, w *proto.Writer, node vfs.Node) error {
	rc, err := node.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()
	buf := make([]byte, fileChunkSize)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			w.Binary(buf[:n])
			if ferr := w.Flush(); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func fileChecksum(ctx context.Context, node vfs.Node) (string, error) {
	rc, err := node.Open(ctx)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	h := md5.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
