package server

import (
	"errors"
	"fmt"
	"math"

	"github.com/mfaure/git-as-svn/proto"
)

var errBinding = errors.New("argument binding failed")

// FieldType is the wire kind of one command argument.
type FieldType int

const (
	FieldString FieldType = iota
	FieldWord
	FieldNumber
	FieldBool
	FieldList
)

func (t FieldType) String() string {
	switch t {
	case FieldString:
		return "string"
	case FieldWord:
		return "word"
	case FieldNumber:
		return "number"
	case FieldBool:
		return "bool"
	case FieldList:
		return "list"
	default:
		return "unknown"
	}
}

// Field describes one positional argument.
type Field struct {
	Name string
	Type FieldType
	// Optional fields are wrapped in a list of zero or one element.
	Optional bool
	// Trailing fields may be left out entirely by older clients.
	Trailing bool
}

// Shape is the ordered argument tuple of a command.
type Shape []Field

// Bind checks items against the shape. Items beyond the shape are
// ignored.
func (sh Shape) Bind(items []proto.Item) (Args, error) {
	args := Args{
		values: make([]proto.Item, len(sh)),
		set:    make([]bool, len(sh)),
	}
	for i, f := range sh {
		if i >= len(items) {
			if f.Optional || f.Trailing {
				continue
			}
			return Args{}, fmt.Errorf("%w: missing %s", errBinding, f.Name)
		}
		item := items[i]
		if f.Optional {
			if item.Kind != proto.KindList || len(item.List) > 1 {
				return Args{}, fmt.Errorf("%w: %s: want optional %s, got %s", errBinding, f.Name, f.Type, item.Kind)
			}
			if len(item.List) == 0 {
				continue
			}
			item = item.List[0]
		}
		if err := checkType(f, item); err != nil {
			return Args{}, err
		}
		args.values[i] = item
		args.set[i] = true
	}
	return args, nil
}

func checkType(f Field, item proto.Item) error {
	ok := false
	switch f.Type {
	case FieldString:
		ok = item.Kind == proto.KindString
	case FieldWord:
		ok = item.Kind == proto.KindWord
	case FieldNumber:
		ok = item.Kind == proto.KindNumber && item.Number <= math.MaxInt64
	case FieldBool:
		_, ok = item.Bool()
	case FieldList:
		ok = item.Kind == proto.KindList
	}
	if !ok {
		return fmt.Errorf("%w: %s: want %s, got %s", errBinding, f.Name, f.Type, item.Kind)
	}
	return nil
}

// Args holds the values bound by Shape.Bind, addressed by field index.
// Accessors return the zero value for absent fields.
type Args struct {
	values []proto.Item
	set    []bool
}

// Has reports whether field i was supplied.
func (a Args) Has(i int) bool {
	return i < len(a.set) && a.set[i]
}

func (a Args) String(i int) string {
	if !a.Has(i) {
		return ""
	}
	return string(a.values[i].Bytes)
}

func (a Args) Word(i int) string {
	if !a.Has(i) {
		return ""
	}
	return a.values[i].Word
}

func (a Args) Number(i int) int64 {
	if !a.Has(i) {
		return 0
	}
	return int64(a.values[i].Number)
}

// OptNumber returns nil for an absent number.
func (a Args) OptNumber(i int) *int64 {
	if !a.Has(i) {
		return nil
	}
	n := int64(a.values[i].Number)
	return &n
}

func (a Args) Bool(i int) bool {
	if !a.Has(i) {
		return false
	}
	b, _ := a.values[i].Bool()
	return b
}

func (a Args) List(i int) []proto.Item {
	if !a.Has(i) {
		return nil
	}
	return a.values[i].List
}

// Strings returns the string elements of list field i.
func (a Args) Strings(i int) []string {
	var out []string
	for _, it := range a.List(i) {
		if it.Kind == proto.KindString {
			out = append(out, string(it.Bytes))
		}
	}
	return out
}
