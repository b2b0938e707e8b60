// Package layer carries ordered image layer lists between the image store
// and the provisioning backends.
//
// Two orderings exist in the wild: the copy merge folds layers base-first
// (each layer overwrites what earlier layers left behind), while native
// layering drivers want the topmost layer first (reads resolve
// most-recent-first at mount time). A plain []string hides which one the
// caller holds, so Stack forces the caller to say so at construction and
// hands each consumer the order it needs.
package layer

// Stack is an ordered set of read-only layer directories.
// The zero value is an empty stack.
type Stack struct {
	baseFirst []string
}

// FromBaseFirst builds a Stack from paths in application order: the base
// layer first, the most recently applied layer last.
func FromBaseFirst(paths ...string) Stack {
	return Stack{baseFirst: append([]string(nil), paths...)}
}

// FromTopmostFirst builds a Stack from paths in overlay order: the most
// recently applied layer first, the base layer last.
func FromTopmostFirst(paths ...string) Stack {
	s := Stack{baseFirst: make([]string, len(paths))}
	for i, p := range paths {
		s.baseFirst[len(paths)-1-i] = p
	}
	return s
}

// Len reports the number of layers.
func (s Stack) Len() int { return len(s.baseFirst) }

// ApplyOrder returns the layers base-first, the order the copy merge folds
// them in. The returned slice is a copy.
func (s Stack) ApplyOrder() []string {
	return append([]string(nil), s.baseFirst...)
}

// MountOrder returns the layers topmost-first, the order native layering
// drivers consume. The returned slice is a copy.
func (s Stack) MountOrder() []string {
	out := make([]string, len(s.baseFirst))
	for i, p := range s.baseFirst {
		out[len(s.baseFirst)-1-i] = p
	}
	return out
}
