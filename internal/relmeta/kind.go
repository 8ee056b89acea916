package relmeta

import "fmt"

// Kind is the cardinality of a relation between two entities.
type Kind int

const (
	KindUnknown Kind = iota
	OneToOne
	ManyToOne
	OneToMany
	ManyToMany
)

var kindNames = map[Kind]string{
	KindUnknown: "unknown",
	OneToOne:    "one-to-one",
	ManyToOne:   "many-to-one",
	OneToMany:   "one-to-many",
	ManyToMany:  "many-to-many",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText lets schema dumps render kinds as their names.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Valid reports whether k is one of the four relation cardinalities.
func (k Kind) Valid() bool {
	return k == OneToOne || k == ManyToOne || k == OneToMany || k == ManyToMany
}

// Multiplying reports whether a join across a relation of this kind can
// yield more than one row per parent row.
func (k Kind) Multiplying() bool {
	return k == OneToMany || k == ManyToMany
}

// Combine aggregates the cardinality of a relation path extended by one hop.
// from is the cardinality accumulated so far, to the cardinality of the next
// hop. One-to-one is neutral, many-to-many absorbing; a many-to-one hop
// followed by one-to-many (or the reverse) widens to many-to-many because
// both sides can fan out. Unknown operands are an error rather than a
// default: a miscomputed aggregate would silently disable pagination safety.
func Combine(from, to Kind) (Kind, error) {
	if !from.Valid() || !to.Valid() {
		return KindUnknown, fmt.Errorf("cannot combine relation cardinalities %q and %q", from, to)
	}
	switch {
	case from == OneToOne:
		return to, nil
	case to == OneToOne:
		return from, nil
	case from == ManyToMany || to == ManyToMany:
		return ManyToMany, nil
	case from == ManyToOne && to == ManyToOne:
		return ManyToOne, nil
	case from == OneToMany && to == OneToMany:
		return OneToMany, nil
	default:
		// many-to-one then one-to-many, or one-to-many then many-to-one
		return ManyToMany, nil
	}
}
