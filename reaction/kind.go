package reaction

// A Kind is one of the fixed set of reactions a user can attach to a target.
// The set is closed; new kinds require a code change.
type Kind string

const (
	KindLike  Kind = "like"
	KindLove  Kind = "love"
	KindLaugh Kind = "laugh"
	KindSad   Kind = "sad"
	KindFire  Kind = "fire"
)

// kindOrder is the canonical enumeration order. It doubles as the tie-break
// for top-kind rankings so equal counts always render in the same order.
var kindOrder = []Kind{KindLike, KindLove, KindLaugh, KindSad, KindFire}

// Kinds returns all reaction kinds in canonical order. The returned slice is
// a copy and safe to mutate.
func Kinds() []Kind {
	out := make([]Kind, len(kindOrder))
	copy(out, kindOrder)
	return out
}

// Valid reports whether k is a member of the closed kind set.
func (k Kind) Valid() bool {
	switch k {
	case KindLike, KindLove, KindLaugh, KindSad, KindFire:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

// rank returns the position of k in the canonical order. Unknown kinds sort
// last.
func (k Kind) rank() int {
	for i, o := range kindOrder {
		if o == k {
			return i
		}
	}
	return len(kindOrder)
}
