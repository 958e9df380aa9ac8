package server

import (
	"fmt"

	"github.com/mfaure/git-as-svn/proto"
)

// Error codes sent in failure replies. The values are the ones svn
// clients know.
const (
	CodeGeneric        = 160000
	CodeNoSuchRevision = 160006
	CodePathNotFound   = 160013
	CodeNotFile        = 160017
	CodeIllegalURL     = 170000
	CodeDirNotFound    = 200009
	CodeUnknownCommand = 210001
	CodeMalformedData  = 210004
	CodeReposNotFound  = 210005
	CodeBadVersion     = 210006
)

// ClientError is a failure reported to the client as a failure reply.
// The connection stays open.
type ClientError struct {
	Code    int
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("E%d: %s", e.Code, e.Message)
}

func clientErrorf(code int, format string, args ...any) *ClientError {
	return &ClientError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// writeFailure writes ( failure ( ( code message file line ) ) ).
func writeFailure(w *proto.Writer, code int, message string) {
	w.ListBegin().
		Word("failure").
		ListBegin().
		ListBegin().
		Number(int64(code)).
		String(message).
		String("").
		Number(0).
		ListEnd().
		ListEnd().
		ListEnd()
}

// writeSuccessEmpty writes ( success ( ) ).
func writeSuccessEmpty(w *proto.Writer) {
	w.ListBegin().Word("success").ListBegin().ListEnd().ListEnd()
}

// streamError is a failure raised after a handler has started a streamed
// response and written its terminator. The buffered output is sent ahead
// of the failure reply instead of being discarded.
type streamError struct {
	err error
}

func (e *streamError) Error() string { return e.err.Error() }

func (e *streamError) Unwrap() error { return e.err }

// endStream marks err as raised inside a terminated stream.
func endStream(err error) error {
	if err == nil {
		return nil
	}
	return &streamError{err: err}
}
