package state

import (
	"fmt"
)

// NICRSource supplies the nominal ICR the list orders by, including pending
// rewards.
type NICRSource interface {
	NominalICR(id Identity) (uint64, error)
}

type listMeta struct {
	Head    Identity
	Tail    Identity
	Size    uint64
	MaxSize uint64
}

type listNode struct {
	Prev Identity
	Next Identity
}

// SortedList is a doubly linked list of active troves for one asset, ordered
// by NICR descending from head to tail. Nodes live in the KV store keyed by
// owner identity; ZeroIdentity terminates both ends. Entries with equal NICR
// keep insertion order.
type SortedList struct {
	asset string
	db    kvDB
	src   NICRSource
}

func NewSortedList(db kvDB, asset string, src NICRSource) *SortedList {
	return &SortedList{asset: asset, db: db, src: src}
}

func (l *SortedList) meta() (*listMeta, error) {
	m := &listMeta{}
	if _, err := l.db.get(listMetaKey(l.asset), m); err != nil {
		return nil, err
	}
	return m, nil
}

func (l *SortedList) saveMeta(m *listMeta) error {
	return l.db.put(listMetaKey(l.asset), m)
}

func (l *SortedList) node(id Identity) (*listNode, bool, error) {
	n := &listNode{}
	ok, err := l.db.get(listNodeKey(l.asset, id), n)
	return n, ok, err
}

func (l *SortedList) saveNode(id Identity, n *listNode) error {
	return l.db.put(listNodeKey(l.asset, id), n)
}

// SetMaxSize updates the capacity. Shrinking below the current size only
// blocks further inserts.
func (l *SortedList) SetMaxSize(size uint64) error {
	m, err := l.meta()
	if err != nil {
		return err
	}
	m.MaxSize = size
	return l.saveMeta(m)
}

func (l *SortedList) Contains(id Identity) (bool, error) {
	if id.IsZero() {
		return false, nil
	}
	_, ok, err := l.node(id)
	return ok, err
}

func (l *SortedList) Size() (uint64, error) {
	m, err := l.meta()
	if err != nil {
		return 0, err
	}
	return m.Size, nil
}

func (l *SortedList) MaxSize() (uint64, error) {
	m, err := l.meta()
	if err != nil {
		return 0, err
	}
	return m.MaxSize, nil
}

func (l *SortedList) IsEmpty() (bool, error) {
	n, err := l.Size()
	return n == 0, err
}

func (l *SortedList) IsFull() (bool, error) {
	m, err := l.meta()
	if err != nil {
		return false, err
	}
	return m.Size >= m.MaxSize, nil
}

// First returns the head (highest NICR) or ZeroIdentity when empty.
func (l *SortedList) First() (Identity, error) {
	m, err := l.meta()
	if err != nil {
		return ZeroIdentity, err
	}
	return m.Head, nil
}

// Last returns the tail (lowest NICR) or ZeroIdentity when empty.
func (l *SortedList) Last() (Identity, error) {
	m, err := l.meta()
	if err != nil {
		return ZeroIdentity, err
	}
	return m.Tail, nil
}

// Next returns the neighbour towards the tail.
func (l *SortedList) Next(id Identity) (Identity, error) {
	n, ok, err := l.node(id)
	if err != nil || !ok {
		return ZeroIdentity, err
	}
	return n.Next, nil
}

// Prev returns the neighbour towards the head.
func (l *SortedList) Prev(id Identity) (Identity, error) {
	n, ok, err := l.node(id)
	if err != nil || !ok {
		return ZeroIdentity, err
	}
	return n.Prev, nil
}

// Insert links id at the position matching nicr. Hints that no longer bracket
// nicr are repaired by a bounded scan.
func (l *SortedList) Insert(id Identity, nicr uint64, prevHint, nextHint Identity) error {
	if id.IsZero() {
		return ErrInvalidIdentity
	}
	if nicr == 0 {
		return ErrInvalidICR
	}
	m, err := l.meta()
	if err != nil {
		return err
	}
	if m.Size >= m.MaxSize {
		return ErrListFull
	}
	present, err := l.Contains(id)
	if err != nil {
		return err
	}
	if present {
		return ErrTroveAlreadyActive
	}

	prev, next, err := l.FindInsertPosition(nicr, prevHint, nextHint)
	if err != nil {
		return err
	}
	return l.link(m, id, prev, next)
}

func (l *SortedList) link(m *listMeta, id, prev, next Identity) error {
	if err := l.saveNode(id, &listNode{Prev: prev, Next: next}); err != nil {
		return err
	}

	if prev.IsZero() {
		m.Head = id
	} else {
		pn, _, err := l.node(prev)
		if err != nil {
			return err
		}
		pn.Next = id
		if err := l.saveNode(prev, pn); err != nil {
			return err
		}
	}

	if next.IsZero() {
		m.Tail = id
	} else {
		nn, _, err := l.node(next)
		if err != nil {
			return err
		}
		nn.Prev = id
		if err := l.saveNode(next, nn); err != nil {
			return err
		}
	}

	m.Size++
	return l.saveMeta(m)
}

// Remove unlinks id.
func (l *SortedList) Remove(id Identity) error {
	n, ok, err := l.node(id)
	if err != nil {
		return err
	}
	if !ok || id.IsZero() {
		return fmt.Errorf("%w: %s not in list", ErrTroveNotActive, id)
	}
	m, err := l.meta()
	if err != nil {
		return err
	}

	if n.Prev.IsZero() {
		m.Head = n.Next
	} else {
		pn, _, err := l.node(n.Prev)
		if err != nil {
			return err
		}
		pn.Next = n.Next
		if err := l.saveNode(n.Prev, pn); err != nil {
			return err
		}
	}

	if n.Next.IsZero() {
		m.Tail = n.Prev
	} else {
		nn, _, err := l.node(n.Next)
		if err != nil {
			return err
		}
		nn.Prev = n.Prev
		if err := l.saveNode(n.Next, nn); err != nil {
			return err
		}
	}

	if err := l.db.delete(listNodeKey(l.asset, id)); err != nil {
		return err
	}
	m.Size--
	return l.saveMeta(m)
}

// ReInsert moves id to the position for its new nicr. Capacity is not
// checked since the size does not change.
func (l *SortedList) ReInsert(id Identity, nicr uint64, prevHint, nextHint Identity) error {
	if nicr == 0 {
		return ErrInvalidICR
	}
	if err := l.Remove(id); err != nil {
		return err
	}
	prev, next, err := l.FindInsertPosition(nicr, prevHint, nextHint)
	if err != nil {
		return err
	}
	m, err := l.meta()
	if err != nil {
		return err
	}
	return l.link(m, id, prev, next)
}

// ValidInsertPosition reports whether (prev, next) is the slot for nicr:
// nicr(prev) >= nicr > nicr(next), with adjacent nodes and the sentinel at
// either end.
func (l *SortedList) ValidInsertPosition(nicr uint64, prev, next Identity) (bool, error) {
	m, err := l.meta()
	if err != nil {
		return false, err
	}

	switch {
	case prev.IsZero() && next.IsZero():
		return m.Size == 0, nil
	case prev.IsZero():
		if m.Head != next {
			return false, nil
		}
		nextICR, err := l.src.NominalICR(next)
		return nicr > nextICR, err
	case next.IsZero():
		if m.Tail != prev {
			return false, nil
		}
		prevICR, err := l.src.NominalICR(prev)
		return prevICR >= nicr, err
	}

	pn, ok, err := l.node(prev)
	if err != nil || !ok || pn.Next != next {
		return false, err
	}
	prevICR, err := l.src.NominalICR(prev)
	if err != nil {
		return false, err
	}
	nextICR, err := l.src.NominalICR(next)
	if err != nil {
		return false, err
	}
	return prevICR >= nicr && nicr > nextICR, nil
}

// FindInsertPosition returns the (prev, next) pair for nicr without mutating
// the list. A prev hint that is absent or ranks below nicr is dropped, as is
// a next hint that ranks at or above it; the scan then starts from whichever
// hint survives, or from the head.
func (l *SortedList) FindInsertPosition(nicr uint64, prevHint, nextHint Identity) (Identity, Identity, error) {
	valid, err := l.ValidInsertPosition(nicr, prevHint, nextHint)
	if err != nil {
		return ZeroIdentity, ZeroIdentity, err
	}
	if valid {
		return prevHint, nextHint, nil
	}

	prev, next := prevHint, nextHint
	if !prev.IsZero() {
		ok, err := l.Contains(prev)
		if err != nil {
			return ZeroIdentity, ZeroIdentity, err
		}
		if ok {
			icr, err := l.src.NominalICR(prev)
			if err != nil {
				return ZeroIdentity, ZeroIdentity, err
			}
			ok = icr >= nicr
		}
		if !ok {
			prev = ZeroIdentity
		}
	}
	if !next.IsZero() {
		ok, err := l.Contains(next)
		if err != nil {
			return ZeroIdentity, ZeroIdentity, err
		}
		if ok {
			icr, err := l.src.NominalICR(next)
			if err != nil {
				return ZeroIdentity, ZeroIdentity, err
			}
			ok = nicr > icr
		}
		if !ok {
			next = ZeroIdentity
		}
	}

	switch {
	case !prev.IsZero():
		return l.descend(nicr, prev)
	case !next.IsZero():
		return l.ascend(nicr, next)
	}

	head, err := l.First()
	if err != nil || head.IsZero() {
		return ZeroIdentity, ZeroIdentity, err
	}
	return l.descend(nicr, head)
}

// descend walks towards the tail from start.
func (l *SortedList) descend(nicr uint64, start Identity) (Identity, Identity, error) {
	m, err := l.meta()
	if err != nil {
		return ZeroIdentity, ZeroIdentity, err
	}
	if m.Head == start {
		headICR, err := l.src.NominalICR(start)
		if err != nil {
			return ZeroIdentity, ZeroIdentity, err
		}
		if nicr > headICR {
			return ZeroIdentity, start, nil
		}
	}

	prev := start
	next, err := l.Next(prev)
	if err != nil {
		return ZeroIdentity, ZeroIdentity, err
	}
	for steps := uint64(0); steps <= m.Size; steps++ {
		ok, err := l.ValidInsertPosition(nicr, prev, next)
		if err != nil {
			return ZeroIdentity, ZeroIdentity, err
		}
		if ok {
			return prev, next, nil
		}
		if next.IsZero() {
			break
		}
		prev = next
		if next, err = l.Next(prev); err != nil {
			return ZeroIdentity, ZeroIdentity, err
		}
	}
	return ZeroIdentity, ZeroIdentity, fmt.Errorf("sorted troves %s: no insert position found descending from %s", l.asset, start)
}

// ascend walks towards the head from start.
func (l *SortedList) ascend(nicr uint64, start Identity) (Identity, Identity, error) {
	m, err := l.meta()
	if err != nil {
		return ZeroIdentity, ZeroIdentity, err
	}
	if m.Tail == start {
		tailICR, err := l.src.NominalICR(start)
		if err != nil {
			return ZeroIdentity, ZeroIdentity, err
		}
		if tailICR >= nicr {
			return start, ZeroIdentity, nil
		}
	}

	next := start
	prev, err := l.Prev(next)
	if err != nil {
		return ZeroIdentity, ZeroIdentity, err
	}
	for steps := uint64(0); steps <= m.Size; steps++ {
		ok, err := l.ValidInsertPosition(nicr, prev, next)
		if err != nil {
			return ZeroIdentity, ZeroIdentity, err
		}
		if ok {
			return prev, next, nil
		}
		if prev.IsZero() {
			break
		}
		next = prev
		if prev, err = l.Prev(next); err != nil {
			return ZeroIdentity, ZeroIdentity, err
		}
	}
	return ZeroIdentity, ZeroIdentity, fmt.Errorf("sorted troves %s: no insert position found ascending from %s", l.asset, start)
}

// Walk visits entries from head to tail until fn returns false.
func (l *SortedList) Walk(fn func(id Identity) (bool, error)) error {
	m, err := l.meta()
	if err != nil {
		return err
	}
	cur := m.Head
	for steps := uint64(0); !cur.IsZero() && steps < m.Size; steps++ {
		cont, err := fn(cur)
		if err != nil || !cont {
			return err
		}
		if cur, err = l.Next(cur); err != nil {
			return err
		}
	}
	return nil
}
