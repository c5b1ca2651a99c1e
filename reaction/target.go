package reaction

import "fmt"

// A TargetType identifies what sort of entity a reaction attaches to.
type TargetType string

const (
	TargetPost    TargetType = "post"
	TargetComment TargetType = "comment"
)

// Valid reports whether t is a supported target type.
func (t TargetType) Valid() bool {
	return t == TargetPost || t == TargetComment
}

func (t TargetType) String() string {
	return string(t)
}

// A TargetRef identifies the entity being reacted to. The referenced entity
// is owned elsewhere; this subsystem never checks that it exists.
type TargetRef struct {
	Type TargetType
	ID   int64
}

// Valid reports whether the ref names a supported type and a plausible ID.
func (t TargetRef) Valid() bool {
	return t.Type.Valid() && t.ID > 0
}

func (t TargetRef) String() string {
	return fmt.Sprintf("%s:%d", t.Type, t.ID)
}
