// Package filter implements the predicate algebra used to decide which
// handlers see an update.
//
// A Predicate is an immutable expression tree: a leaf wrapping a named test,
// or an And/Or/Not node over other predicates. Eval walks the tree with the
// usual boolean short-circuit and has no side effects. The zero Predicate
// matches every update.
package filter

import (
	"strings"

	tgapi "github.com/alem-hub/botcore/internal/infrastructure/external/telegram"
)

type op uint8

const (
	opAny op = iota
	opLeaf
	opAnd
	opOr
	opNot
)

// Predicate is a boolean test over an update.
type Predicate struct {
	op    op
	name  string
	test  func(*tgapi.Update) bool
	left  *Predicate
	right *Predicate
}

// Any matches every update.
var Any = Predicate{}

// Func wraps a custom test as a leaf predicate. name is used only by String.
// A nil fn yields a predicate that never matches.
func Func(name string, fn func(*tgapi.Update) bool) Predicate {
	if fn == nil {
		fn = func(*tgapi.Update) bool { return false }
	}
	return Predicate{op: opLeaf, name: name, test: fn}
}

// And matches when every operand matches. Operands are folded left and
// evaluated in order.
func And(a, b Predicate, more ...Predicate) Predicate {
	p := binary(opAnd, a, b)
	for _, m := range more {
		p = binary(opAnd, p, m)
	}
	return p
}

// Or matches when at least one operand matches.
func Or(a, b Predicate, more ...Predicate) Predicate {
	p := binary(opOr, a, b)
	for _, m := range more {
		p = binary(opOr, p, m)
	}
	return p
}

// Not inverts p.
func Not(p Predicate) Predicate {
	return Predicate{op: opNot, left: &p}
}

func binary(o op, a, b Predicate) Predicate {
	return Predicate{op: o, left: &a, right: &b}
}

// And is shorthand for And(p, other).
func (p Predicate) And(other Predicate) Predicate { return And(p, other) }

// Or is shorthand for Or(p, other).
func (p Predicate) Or(other Predicate) Predicate { return Or(p, other) }

// Not is shorthand for Not(p).
func (p Predicate) Not() Predicate { return Not(p) }

// Match reports whether u satisfies p.
func (p Predicate) Match(u *tgapi.Update) bool {
	return Eval(p, u)
}

// Eval evaluates p against u.
func Eval(p Predicate, u *tgapi.Update) bool {
	switch p.op {
	case opLeaf:
		return u != nil && p.test(u)
	case opAnd:
		return Eval(*p.left, u) && Eval(*p.right, u)
	case opOr:
		return Eval(*p.left, u) || Eval(*p.right, u)
	case opNot:
		return !Eval(*p.left, u)
	default:
		return true
	}
}

// String renders the expression, e.g. "and(has_text,not(has_reply))".
func (p Predicate) String() string {
	var b strings.Builder
	p.write(&b)
	return b.String()
}

func (p Predicate) write(b *strings.Builder) {
	switch p.op {
	case opLeaf:
		b.WriteString(p.name)
	case opAnd, opOr:
		if p.op == opAnd {
			b.WriteString("and(")
		} else {
			b.WriteString("or(")
		}
		p.left.write(b)
		b.WriteByte(',')
		p.right.write(b)
		b.WriteByte(')')
	case opNot:
		b.WriteString("not(")
		p.left.write(b)
		b.WriteByte(')')
	default:
		b.WriteString("any")
	}
}
