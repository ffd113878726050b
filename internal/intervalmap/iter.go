package intervalmap

// An Iter iterates over an Map in order.
type Iter struct {
	n *avlNode
}

// Iter returns an iterator positioned on the interval containing addr
// or the lowest interval following addr.
func (m *Map) Iter(addr uint64) Iter {
	n := m.tree.Search(func(n *avlNode) bool {
		return addr < n.high
	})
	return Iter{n}
}

func (i *Iter) Valid() bool {
	return i.n != nil
}

func (i *Iter) Key() Interval {
	if i.n == nil {
		panic("iterator not valid")
	}
	return i.n.interval()
}

func (i *Iter) Value() interface{} {
	if i.n == nil {
		panic("iterator not valid")
	}
	return i.n.value
}

func (i *Iter) Next() {
	if i.n == nil {
		panic("iterator out of bounds")
	}
	i.n = i.n.Next()
}
