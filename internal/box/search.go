package box

import "iter"

// Find returns every box of type t in the tree rooted at b, b included,
// in depth-first document order. The walk descends into container
// children, sample descriptions and sample entries, and stops as soon as
// the caller stops ranging.
func (b *Box) Find(t Type) iter.Seq[*Box] {
	return func(yield func(*Box) bool) {
		b.find(t, yield)
	}
}

func (b *Box) find(t Type, yield func(*Box) bool) bool {
	if b.Type == t && !yield(b) {
		return false
	}
	for _, c := range b.ChildBoxes() {
		if !c.find(t, yield) {
			return false
		}
	}
	return true
}

// First returns the first box of type t in the tree rooted at b, or nil.
func (b *Box) First(t Type) *Box {
	for found := range b.Find(t) {
		return found
	}
	return nil
}

// Last returns the last box of type t in the tree rooted at b, or nil.
func (b *Box) Last(t Type) *Box {
	var last *Box
	for found := range b.Find(t) {
		last = found
	}
	return last
}
