package proto

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrMalformed is returned for input that does not follow the wire grammar.
var ErrMalformed = errors.New("malformed network data")

const (
	// DefaultMaxString bounds the length of a single string item.
	DefaultMaxString = 64 * 1024 * 1024
	// MaxDepth bounds list nesting.
	MaxDepth = 64
)

// Reader parses wire items from a byte stream.
type Reader struct {
	r         *bufio.Reader
	maxString uint64
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:         bufio.NewReader(r),
		maxString: DefaultMaxString,
	}
}

// SetMaxString changes the largest accepted string length.
func (r *Reader) SetMaxString(n int64) {
	if n > 0 {
		r.maxString = uint64(n)
	}
}

// ReadItem reads exactly one complete item, recursing into lists.
// A clean end of stream before the item starts returns io.EOF; a stream
// ending inside an item returns io.ErrUnexpectedEOF.
func (r *Reader) ReadItem() (Item, error) {
	c, err := r.skipSpace()
	if err != nil {
		return Item{}, err
	}
	return r.readItem(c, 0)
}

// ReadList reads one item and requires it to be a list.
func (r *Reader) ReadList() ([]Item, error) {
	item, err := r.ReadItem()
	if err != nil {
		return nil, err
	}
	if item.Kind != KindList {
		return nil, fmt.Errorf("%w: expected list, got %s", ErrMalformed, item.Kind)
	}
	return item.List, nil
}

func (r *Reader) readItem(c byte, depth int) (Item, error) {
	switch {
	case c == '(':
		if depth >= MaxDepth {
			return Item{}, fmt.Errorf("%w: lists nested deeper than %d", ErrMalformed, MaxDepth)
		}
		if err := r.expectSpace(); err != nil {
			return Item{}, err
		}
		list := []Item{}
		for {
			c, err := r.skipSpace()
			if err != nil {
				return Item{}, unexpected(err)
			}
			if c == ')' {
				if err := r.expectSpace(); err != nil {
					return Item{}, err
				}
				return NewList(list...), nil
			}
			child, err := r.readItem(c, depth+1)
			if err != nil {
				return Item{}, err
			}
			list = append(list, child)
		}
	case isDigit(c):
		n, next, err := r.readNumber(c)
		if err != nil {
			return Item{}, err
		}
		if next == ':' {
			return r.readString(n)
		}
		if !isSpace(next) {
			return Item{}, fmt.Errorf("%w: unexpected byte %q after number", ErrMalformed, next)
		}
		return NewNumber(n), nil
	case isWordStart(c):
		word := []byte{c}
		for {
			next, err := r.r.ReadByte()
			if err != nil {
				return Item{}, unexpected(err)
			}
			if isSpace(next) {
				return NewWord(string(word)), nil
			}
			if !isWordChar(next) {
				return Item{}, fmt.Errorf("%w: unexpected byte %q in word", ErrMalformed, next)
			}
			word = append(word, next)
		}
	default:
		return Item{}, fmt.Errorf("%w: unexpected byte %q", ErrMalformed, c)
	}
}

func (r *Reader) readNumber(first byte) (uint64, byte, error) {
	n := uint64(first - '0')
	for {
		c, err := r.r.ReadByte()
		if err != nil {
			return 0, 0, unexpected(err)
		}
		if !isDigit(c) {
			return n, c, nil
		}
		d := uint64(c - '0')
		if n > (math.MaxUint64-d)/10 {
			return 0, 0, fmt.Errorf("%w: number overflow", ErrMalformed)
		}
		n = n*10 + d
	}
}

func (r *Reader) readString(n uint64) (Item, error) {
	if n > r.maxString {
		return Item{}, fmt.Errorf("%w: string of %d bytes exceeds limit %d", ErrMalformed, n, r.maxString)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return Item{}, unexpected(err)
	}
	if err := r.expectSpace(); err != nil {
		return Item{}, err
	}
	return Item{Kind: KindString, Bytes: buf}, nil
}

func (r *Reader) skipSpace() (byte, error) {
	for {
		c, err := r.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if !isSpace(c) {
			return c, nil
		}
	}
}

func (r *Reader) expectSpace() error {
	c, err := r.r.ReadByte()
	if err != nil {
		return unexpected(err)
	}
	if !isSpace(c) {
		return fmt.Errorf("%w: expected whitespace, got %q", ErrMalformed, c)
	}
	return nil
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
