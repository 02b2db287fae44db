package prompt

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/dotpersona/pkg/memory"
)

func m(speaker, text string) memory.Message { return memory.Message{Speaker: speaker, Text: text} }

// fixedCounter charges a fixed cost per exact rendered line, with a default.
type fixedCounter struct {
	costs    map[string]int
	fallback int
}

func (c fixedCounter) CountTokens(text string) int {
	if v, ok := c.costs[text]; ok {
		return v
	}
	return c.fallback
}

func TestAllocateHistoryStopsAtFirstEntryThatDoesNotFit(t *testing.T) {
	current := m("Alice", "now")
	counter := fixedCounter{costs: map[string]int{current.String(): 20}, fallback: 100}
	history := []memory.Message{m("a", "1"), m("b", "2"), m("c", "3"), m("d", "4"), m("e", "5")}

	alloc := AllocateHistory(counter, NameMap{}, current, nil, history, 250)

	require.Len(t, alloc.History, 2)
	assert.Equal(t, []memory.Message{m("d", "4"), m("e", "5")}, alloc.History)
	assert.Equal(t, []memory.Message{m("d", "4"), m("e", "5"), current}, alloc.Messages)
	assert.Equal(t, 20+101+101, alloc.Consumed)
	assert.Equal(t, 250-222, alloc.Remaining)
	assert.Equal(t, 3, alloc.Truncated)
	assert.False(t, alloc.OverBudget)
}

func TestAllocateHistoryStopsRatherThanSkipping(t *testing.T) {
	current := m("Alice", "now")
	big := m("big", "entry")
	counter := fixedCounter{costs: map[string]int{current.String(): 10, big.String(): 500}, fallback: 5}
	history := []memory.Message{m("old", "small"), big, m("new", "small")}

	alloc := AllocateHistory(counter, NameMap{}, current, nil, history, 100)

	assert.Equal(t, []memory.Message{m("new", "small")}, alloc.History,
		"older entries behind one that does not fit are truncated")
}

func TestAllocateHistoryAbsorbsReferencedMessage(t *testing.T) {
	current := m("Alice", "what did you mean?")
	referenced := m("Bot", "the answer is 42")
	history := []memory.Message{m("Alice", "question"), referenced, m("Carol", "later remark")}

	alloc := AllocateHistory(HeuristicCounter{}, NameMap{}, current, &referenced, history, 2000)

	assert.Equal(t, []memory.Message{
		m("Alice", "question"),
		m("Carol", "later remark"),
		referenced,
		current,
	}, alloc.Messages)

	count := 0
	for _, msg := range alloc.Messages {
		if msg == referenced {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestAllocateHistorySkipsCurrentMessageInHistory(t *testing.T) {
	current := m("Alice", "hello")
	history := []memory.Message{m("Bob", "hey"), current}

	alloc := AllocateHistory(HeuristicCounter{}, NameMap{}, current, nil, history, 2000)

	assert.Equal(t, []memory.Message{m("Bob", "hey"), current}, alloc.Messages)
}

func TestAllocateHistoryZeroBudgetKeepsReservedSlots(t *testing.T) {
	current := m("Alice", "hello")
	referenced := m("Bot", "earlier")
	history := []memory.Message{m("Bob", "hey"), m("Carol", "yo")}

	for _, budget := range []int{0, -5} {
		alloc := AllocateHistory(HeuristicCounter{}, NameMap{}, current, &referenced, history, budget)
		assert.Empty(t, alloc.History)
		assert.Equal(t, []memory.Message{referenced, current}, alloc.Messages)
		assert.Equal(t, 0, alloc.Remaining)
		assert.True(t, alloc.OverBudget)
		assert.Equal(t, 2, alloc.Truncated)
	}
}

func TestAllocateHistoryOverBudgetReservedStillReturned(t *testing.T) {
	current := m("Alice", "a very long message")
	counter := fixedCounter{fallback: 50}

	alloc := AllocateHistory(counter, NameMap{}, current, nil, []memory.Message{m("b", "x")}, 10)

	assert.True(t, alloc.OverBudget)
	assert.Equal(t, []memory.Message{current}, alloc.Messages)
	assert.Equal(t, 0, alloc.Remaining)
}

func TestAllocateHistoryAppliesNameMap(t *testing.T) {
	names := NameMap{Platform: "CogniBot", Persona: "Aria"}
	current := m("Alice", "hey CogniBot")
	history := []memory.Message{m("CogniBot", "I am CogniBot")}

	alloc := AllocateHistory(HeuristicCounter{}, names, current, nil, history, 2000)

	assert.Equal(t, []memory.Message{m("Aria", "I am Aria"), m("Alice", "hey Aria")}, alloc.Messages)
}

func TestAllocateHistoryBudgetMonotonicity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		var history []memory.Message
		n := 1 + rng.Intn(20)
		for i := 0; i < n; i++ {
			history = append(history, m(fmt.Sprintf("user%d", rng.Intn(3)), fmt.Sprintf("message %d %s", i, string(make([]byte, rng.Intn(40))))))
		}
		current := m("Alice", "current")
		prev := []memory.Message{}
		for budget := 0; budget <= 400; budget += 10 {
			alloc := AllocateHistory(HeuristicCounter{}, NameMap{}, current, nil, history, budget)
			require.GreaterOrEqual(t, len(alloc.History), len(prev), "trial %d budget %d", trial, budget)
			// The smaller selection is the most recent part of the larger one.
			assert.Equal(t, prev, alloc.History[len(alloc.History)-len(prev):], "trial %d budget %d", trial, budget)
			prev = alloc.History
		}
	}
}

func TestAllocateHistoryNeverDuplicates(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	pool := []memory.Message{m("a", "1"), m("b", "2"), m("c", "3"), m("d", "4")}
	for trial := 0; trial < 100; trial++ {
		var history []memory.Message
		n := rng.Intn(12)
		for i := 0; i < n; i++ {
			history = append(history, pool[rng.Intn(len(pool))])
		}
		current := pool[rng.Intn(len(pool))]
		var ref *memory.Message
		if rng.Intn(2) == 0 {
			r := pool[rng.Intn(len(pool))]
			if r != current {
				ref = &r
			}
		}

		alloc := AllocateHistory(HeuristicCounter{}, NameMap{}, current, ref, history, 1000)

		for _, msg := range alloc.History {
			assert.NotEqual(t, current, msg)
			if ref != nil {
				assert.NotEqual(t, *ref, msg)
			}
		}
		if ref != nil {
			assert.Equal(t, *ref, alloc.Messages[len(alloc.Messages)-2])
		}
		assert.Equal(t, current, alloc.Messages[len(alloc.Messages)-1])
	}
}

func TestAllocateFraming(t *testing.T) {
	counter := fixedCounter{costs: map[string]int{"greeting": 30, "dialogue": 60}}

	assert.Equal(t, "dialogue\ngreeting", AllocateFraming(counter, []string{"greeting", "dialogue"}, 100))
	assert.Equal(t, "greeting", AllocateFraming(counter, []string{"greeting", "dialogue"}, 80),
		"dialogue no longer fits once greeting and its separator are charged")
	assert.Equal(t, "dialogue", AllocateFraming(counter, []string{"", "dialogue"}, 60))
	assert.Equal(t, "", AllocateFraming(counter, []string{"greeting", "dialogue"}, 0))
}

func TestAllocateFramingSkipsWithoutReordering(t *testing.T) {
	counter := fixedCounter{costs: map[string]int{"huge": 500, "small": 5, "tiny": 1}}
	assert.Equal(t, "tiny\nsmall", AllocateFraming(counter, []string{"small", "huge", "tiny"}, 20))
}

func TestHeuristicCounter(t *testing.T) {
	assert.Equal(t, 0, HeuristicCounter{}.CountTokens(""))
	assert.Equal(t, 1, HeuristicCounter{}.CountTokens("abc"))
	assert.Equal(t, 2, HeuristicCounter{}.CountTokens("abcde"))
	assert.Equal(t, 5, HeuristicCounter{CharsPerToken: 1}.CountTokens("héllo"))
}
