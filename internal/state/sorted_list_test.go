package state

import (
	"math/rand"
	"testing"

	"TroveLedger/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNICR map[Identity]uint64

func (f fakeNICR) NominalICR(id Identity) (uint64, error) { return f[id], nil }

func newTestList(t *testing.T, max uint64) (*SortedList, fakeNICR) {
	t.Helper()
	src := fakeNICR{}
	l := NewSortedList(kvDB{kv: store.NewMemStore()}, "ETH", src)
	require.NoError(t, l.SetMaxSize(max))
	return l, src
}

func insert(t *testing.T, l *SortedList, src fakeNICR, id Identity, nicr uint64, prev, next Identity) {
	t.Helper()
	src[id] = nicr
	require.NoError(t, l.Insert(id, nicr, prev, next))
}

func listOrder(t *testing.T, l *SortedList) []Identity {
	t.Helper()
	var out []Identity
	require.NoError(t, l.Walk(func(id Identity) (bool, error) {
		out = append(out, id)
		return true, nil
	}))
	return out
}

// requireSorted checks descending order, back links and the size counter.
func requireSorted(t *testing.T, l *SortedList, src fakeNICR) {
	t.Helper()
	order := listOrder(t, l)
	size, err := l.Size()
	require.NoError(t, err)
	require.Len(t, order, int(size))

	prev := ZeroIdentity
	for i, id := range order {
		p, err := l.Prev(id)
		require.NoError(t, err)
		require.Equal(t, prev, p)
		if i > 0 {
			require.GreaterOrEqual(t, src[order[i-1]], src[id])
		}
		prev = id
	}
	last, err := l.Last()
	require.NoError(t, err)
	require.Equal(t, prev, last)
}

func TestSortedList_SingleEntry(t *testing.T) {
	l, src := newTestList(t, 10)
	a := user(1)
	insert(t, l, src, a, 2_000_000_000, ZeroIdentity, ZeroIdentity)

	first, _ := l.First()
	last, _ := l.Last()
	assert.Equal(t, a, first)
	assert.Equal(t, a, last)
	size, _ := l.Size()
	assert.Equal(t, uint64(1), size)
}

func TestSortedList_OrderAndTies(t *testing.T) {
	l, src := newTestList(t, 10)
	a, b, c, d := user(1), user(2), user(3), user(4)
	insert(t, l, src, a, 150, ZeroIdentity, ZeroIdentity)
	insert(t, l, src, b, 200, ZeroIdentity, ZeroIdentity)
	insert(t, l, src, c, 150, ZeroIdentity, ZeroIdentity)
	insert(t, l, src, d, 100, ZeroIdentity, ZeroIdentity)

	// Equal NICR keeps insertion order: c goes after a.
	assert.Equal(t, []Identity{b, a, c, d}, listOrder(t, l))
	requireSorted(t, l, src)
}

func TestSortedList_ValidInsertPosition(t *testing.T) {
	l, src := newTestList(t, 10)
	a, b := user(1), user(2)
	insert(t, l, src, a, 200, ZeroIdentity, ZeroIdentity)
	insert(t, l, src, b, 100, a, ZeroIdentity)

	cases := []struct {
		name       string
		nicr       uint64
		prev, next Identity
		want       bool
	}{
		{"between", 150, a, b, true},
		{"equal to prev", 200, a, b, true},
		{"equal to next", 100, a, b, false},
		{"new head", 300, ZeroIdentity, a, true},
		{"head tie", 200, ZeroIdentity, a, false},
		{"new tail", 50, b, ZeroIdentity, true},
		{"tail tie", 100, b, ZeroIdentity, true},
		{"not adjacent", 150, ZeroIdentity, b, false},
		{"both sentinels on non-empty list", 150, ZeroIdentity, ZeroIdentity, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := l.ValidInsertPosition(tc.nicr, tc.prev, tc.next)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestSortedList_StaleHintsAreRepaired(t *testing.T) {
	l, src := newTestList(t, 20)
	ids := make([]Identity, 0, 10)
	for i := byte(1); i <= 10; i++ {
		id := user(i)
		insert(t, l, src, id, uint64(i)*100, ZeroIdentity, ZeroIdentity)
		ids = append(ids, id)
	}
	requireSorted(t, l, src)

	x := user(50)
	// Hints from the wrong end of the list, and a hint that is not in the list.
	insert(t, l, src, x, 550, ids[0], ids[1])
	insert(t, l, src, user(51), 950, user(99), ids[2])
	insert(t, l, src, user(52), 50, ids[9], ids[8])
	requireSorted(t, l, src)

	prev, err := l.Prev(x)
	require.NoError(t, err)
	next, err := l.Next(x)
	require.NoError(t, err)
	assert.Equal(t, ids[5], prev)
	assert.Equal(t, ids[4], next)
}

func TestSortedList_RandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	l, src := newTestList(t, 200)
	var present []Identity

	randomHint := func() Identity {
		if len(present) == 0 || rng.Intn(4) == 0 {
			return ZeroIdentity
		}
		return present[rng.Intn(len(present))]
	}

	for i := 0; i < 300; i++ {
		switch op := rng.Intn(3); {
		case op < 2 || len(present) == 0:
			id := user(byte(i % 250))
			if ok, _ := l.Contains(id); ok {
				continue
			}
			// Small range forces ties.
			insert(t, l, src, id, uint64(1+rng.Intn(20)), randomHint(), randomHint())
			present = append(present, id)
		default:
			j := rng.Intn(len(present))
			id := present[j]
			if rng.Intn(2) == 0 {
				require.NoError(t, l.Remove(id))
				delete(src, id)
				present = append(present[:j], present[j+1:]...)
			} else {
				src[id] = uint64(1 + rng.Intn(20))
				require.NoError(t, l.ReInsert(id, src[id], randomHint(), randomHint()))
			}
		}
		requireSorted(t, l, src)
	}
}

func TestSortedList_Errors(t *testing.T) {
	l, src := newTestList(t, 2)
	a, b := user(1), user(2)
	insert(t, l, src, a, 100, ZeroIdentity, ZeroIdentity)

	assert.ErrorIs(t, l.Insert(a, 100, ZeroIdentity, ZeroIdentity), ErrTroveAlreadyActive)
	assert.ErrorIs(t, l.Insert(ZeroIdentity, 100, ZeroIdentity, ZeroIdentity), ErrInvalidIdentity)
	assert.ErrorIs(t, l.Insert(b, 0, ZeroIdentity, ZeroIdentity), ErrInvalidICR)
	assert.ErrorIs(t, l.Remove(b), ErrTroveNotActive)
	assert.ErrorIs(t, l.ReInsert(b, 100, ZeroIdentity, ZeroIdentity), ErrTroveNotActive)

	insert(t, l, src, b, 50, ZeroIdentity, ZeroIdentity)
	full, err := l.IsFull()
	require.NoError(t, err)
	assert.True(t, full)
	assert.ErrorIs(t, l.Insert(user(3), 10, ZeroIdentity, ZeroIdentity), ErrListFull)

	require.NoError(t, l.Remove(a))
	require.NoError(t, l.Remove(b))
	empty, err := l.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)
	first, _ := l.First()
	assert.True(t, first.IsZero())
}
