package proto

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// flusher is implemented by buffered transports.
type flusher interface {
	Flush() error
}

// Writer builds one reply at a time in memory. Calls chain, and lists must be
// closed in the order they were opened: an unbalanced list is a programming
// error and panics rather than reaching the wire.
type Writer struct {
	out   io.Writer
	buf   bytes.Buffer
	depth int
}

// NewWriter creates a Writer that flushes replies to out.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// ListBegin opens a list.
func (w *Writer) ListBegin() *Writer {
	w.buf.WriteString("( ")
	w.depth++
	return w
}

// ListEnd closes the innermost open list.
func (w *Writer) ListEnd() *Writer {
	if w.depth == 0 {
		panic("proto: ListEnd without matching ListBegin")
	}
	w.buf.WriteString(") ")
	w.depth--
	return w
}

// Word writes a bare word.
func (w *Writer) Word(word string) *Writer {
	if !ValidWord(word) {
		panic(fmt.Sprintf("proto: invalid word %q", word))
	}
	w.buf.WriteString(word)
	w.buf.WriteByte(' ')
	return w
}

// Number writes a non-negative number.
func (w *Writer) Number(n int64) *Writer {
	if n < 0 {
		panic(fmt.Sprintf("proto: negative number %d", n))
	}
	w.buf.WriteString(strconv.FormatInt(n, 10))
	w.buf.WriteByte(' ')
	return w
}

// String writes a length-prefixed string.
func (w *Writer) String(s string) *Writer {
	w.buf.WriteString(strconv.Itoa(len(s)))
	w.buf.WriteByte(':')
	w.buf.WriteString(s)
	w.buf.WriteByte(' ')
	return w
}

// Binary writes a length-prefixed byte string.
func (w *Writer) Binary(b []byte) *Writer {
	w.buf.WriteString(strconv.Itoa(len(b)))
	w.buf.WriteByte(':')
	w.buf.Write(b)
	w.buf.WriteByte(' ')
	return w
}

// Bool writes the word true or false.
func (w *Writer) Bool(b bool) *Writer {
	if b {
		return w.Word("true")
	}
	return w.Word("false")
}

// Props writes a proplist: ( ( name:string value:string ) ... ), ordered by name.
func (w *Writer) Props(props map[string]string) *Writer {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w.ListBegin()
	for _, k := range keys {
		w.ListBegin().String(k).String(props[k]).ListEnd()
	}
	return w.ListEnd()
}

// Item writes a parsed item back in wire form.
func (w *Writer) Item(it Item) *Writer {
	switch it.Kind {
	case KindWord:
		return w.Word(it.Word)
	case KindNumber:
		w.buf.WriteString(strconv.FormatUint(it.Number, 10))
		w.buf.WriteByte(' ')
		return w
	case KindString:
		return w.Binary(it.Bytes)
	case KindList:
		w.ListBegin()
		for _, child := range it.List {
			w.Item(child)
		}
		return w.ListEnd()
	}
	panic(fmt.Sprintf("proto: invalid item kind %d", it.Kind))
}

// Discard drops everything written since the last Flush.
func (w *Writer) Discard() {
	w.buf.Reset()
	w.depth = 0
}

// Flush sends the buffered reply to the transport in one write.
func (w *Writer) Flush() error {
	if w.depth != 0 {
		panic(fmt.Sprintf("proto: flush with %d unterminated lists", w.depth))
	}
	if w.buf.Len() > 0 {
		_, err := w.out.Write(w.buf.Bytes())
		w.buf.Reset()
		if err != nil {
			return err
		}
	}
	if f, ok := w.out.(flusher); ok {
		return f.Flush()
	}
	return nil
}
