// Package proto implements the svn:// wire grammar: a whitespace separated
// stream of lists, words, numbers and length-prefixed strings.
//
// A reply is built on a Writer and only reaches the connection on Flush, so
// a failed command never leaves half a tuple on the wire. The Reader parses
// one complete Item at a time and rejects malformed or truncated input.
package proto

import (
	"strconv"
	"strings"
)

// Kind identifies the type of a wire item.
type Kind int

const (
	KindWord Kind = iota + 1
	KindNumber
	KindString
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindWord:
		return "word"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Item is one parsed wire value. Booleans travel as the words true/false.
type Item struct {
	Kind   Kind
	Word   string
	Number uint64
	Bytes  []byte
	List   []Item
}

// NewWord returns a word item.
func NewWord(w string) Item { return Item{Kind: KindWord, Word: w} }

// NewNumber returns a number item.
func NewNumber(n uint64) Item { return Item{Kind: KindNumber, Number: n} }

// NewString returns a string item.
func NewString(s string) Item { return Item{Kind: KindString, Bytes: []byte(s)} }

// NewBool returns the word true or false.
func NewBool(b bool) Item {
	if b {
		return NewWord("true")
	}
	return NewWord("false")
}

// NewList returns a list item holding items.
func NewList(items ...Item) Item {
	if items == nil {
		items = []Item{}
	}
	return Item{Kind: KindList, List: items}
}

// Bool reports the boolean value of a true/false word.
func (i Item) Bool() (value, ok bool) {
	if i.Kind != KindWord {
		return false, false
	}
	switch i.Word {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

// Equal reports whether two items have the same structure and values.
func (i Item) Equal(o Item) bool {
	if i.Kind != o.Kind {
		return false
	}
	switch i.Kind {
	case KindWord:
		return i.Word == o.Word
	case KindNumber:
		return i.Number == o.Number
	case KindString:
		return string(i.Bytes) == string(o.Bytes)
	case KindList:
		if len(i.List) != len(o.List) {
			return false
		}
		for n := range i.List {
			if !i.List[n].Equal(o.List[n]) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the item in wire syntax, for logs and test failures.
func (i Item) String() string {
	var sb strings.Builder
	i.render(&sb)
	return strings.TrimSuffix(sb.String(), " ")
}

func (i Item) render(sb *strings.Builder) {
	switch i.Kind {
	case KindWord:
		sb.WriteString(i.Word)
	case KindNumber:
		sb.WriteString(strconv.FormatUint(i.Number, 10))
	case KindString:
		sb.WriteString(strconv.Itoa(len(i.Bytes)))
		sb.WriteByte(':')
		sb.Write(i.Bytes)
	case KindList:
		sb.WriteString("( ")
		for _, child := range i.List {
			child.render(sb)
		}
		sb.WriteString(")")
	}
	sb.WriteByte(' ')
}

func isWordStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordChar(c byte) bool {
	return isWordStart(c) || (c >= '0' && c <= '9') || c == '-'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n'
}

// ValidWord reports whether s can be written as a bare word.
func ValidWord(s string) bool {
	if s == "" || !isWordStart(s[0]) {
		return false
	}
	for n := 1; n < len(s); n++ {
		if !isWordChar(s[n]) {
			return false
		}
	}
	return true
}
