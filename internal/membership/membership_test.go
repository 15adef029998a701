package membership

import (
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestIndex_AddRemove(t *testing.T) {
	var x Index
	x.Add("room", "a")
	x.Add("room", "b")
	x.Add("room", "a")

	assert.Equal(t, []string{"a", "b"}, x.Members("room"))
	assert.True(t, x.Has("room", "a"))
	assert.False(t, x.Has("hall", "a"))

	assert.True(t, x.Remove("room", "a"))
	assert.False(t, x.Remove("room", "a"))
	assert.False(t, x.Remove("hall", "a"))

	x.Remove("room", "b")
	assert.Nil(t, x.Members("room"))
	assert.Empty(t, x.Names())

	x.Add("room", "c")
	assert.Equal(t, []string{"c"}, x.Members("room"), "a dropped set is replaced on the next add")
}

func TestIndex_RemoveAll(t *testing.T) {
	var x Index
	x.Add("one", "a")
	x.Add("two", "a")
	x.Add("two", "b")

	x.RemoveAll("a")

	assert.Nil(t, x.Members("one"))
	assert.Equal(t, []string{"b"}, x.Members("two"))
	assert.Equal(t, []string{"two"}, x.Names())
}

func TestSet_DeadRejectsAdd(t *testing.T) {
	s := NewSet()
	assert.True(t, s.Add("a"))
	s.dead = true
	assert.False(t, s.Add("b"))
	assert.Equal(t, 1, s.Len())
}

func TestIndex_ConcurrentChurn(t *testing.T) {
	var x Index
	const workers = 48

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 300; j++ {
				x.Add("hot", id)
				x.Remove("hot", id)
			}
			x.Add("hot", id)
		}(strconv.Itoa(i))
	}
	wg.Wait()

	assert.Len(t, x.Members("hot"), workers)
}

// op packs one mutation: bit 0 add/remove, bits 1-2 set name, bits 3-5 id
func applyOp(x *Index, model map[string]map[string]bool, op int) {
	name := "set" + strconv.Itoa((op>>1)&3)
	id := "id" + strconv.Itoa((op>>3)&7)
	if op&1 == 0 {
		x.Add(name, id)
		if model[name] == nil {
			model[name] = map[string]bool{}
		}
		model[name][id] = true
		return
	}
	x.Remove(name, id)
	delete(model[name], id)
	if len(model[name]) == 0 {
		delete(model, name)
	}
}

func TestIndex_MatchesModel(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("index tracks a plain map of sets", prop.ForAll(
		func(ops []int) bool {
			var x Index
			model := map[string]map[string]bool{}
			for _, op := range ops {
				applyOp(&x, model, op)
			}

			names := make([]string, 0, len(model))
			for name, ids := range model {
				names = append(names, name)
				want := make([]string, 0, len(ids))
				for id := range ids {
					want = append(want, id)
				}
				sort.Strings(want)
				got := x.Members(name)
				if len(got) != len(want) {
					return false
				}
				for i := range want {
					if got[i] != want[i] {
						return false
					}
				}
			}
			sort.Strings(names)
			got := x.Names()
			if len(got) != len(names) {
				return false
			}
			for i := range names {
				if got[i] != names[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 63)),
	))

	properties.TestingRun(t)
}
