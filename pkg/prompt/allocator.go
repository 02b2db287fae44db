package prompt

import (
	"strings"

	"github.com/dotsetgreg/dotpersona/pkg/memory"
)

// Allocation is the outcome of fitting a conversation into a token budget.
type Allocation struct {
	// Messages is the selected history oldest-first, then the referenced
	// message (if any), then the current message.
	Messages []memory.Message
	// History is the selected history alone, oldest-first.
	History    []memory.Message
	Current    memory.Message
	Referenced *memory.Message

	Budget    int
	Consumed  int
	Remaining int
	// Truncated counts history entries left out because the budget ran out.
	Truncated int
	// OverBudget is set when the reserved current/referenced messages alone
	// exceed the budget. They are still returned.
	OverBudget bool
}

// AllocateHistory picks as much recent history as fits in maxTokens.
//
// The current and referenced messages are always kept and their cost is
// reserved first. History (newest-last) is then walked newest to oldest: an
// entry equal to the referenced message is absorbed into the referenced slot,
// an entry equal to the current message is skipped, and the walk stops at the
// first entry whose cost no longer fits. Each selected entry also costs one
// separator token.
func AllocateHistory(counter TokenCounter, names NameMap, current memory.Message, referenced *memory.Message, history []memory.Message, maxTokens int) Allocation {
	current = names.Apply(current)
	consumed := counter.CountTokens(current.String())

	var ref *memory.Message
	if referenced != nil {
		r := names.Apply(*referenced)
		ref = &r
		consumed += counter.CountTokens(r.String())
	}

	alloc := Allocation{
		Current:    current,
		Referenced: ref,
		Budget:     maxTokens,
		OverBudget: consumed > maxTokens,
	}

	var newestFirst []memory.Message
	if maxTokens > 0 {
		for i := len(history) - 1; i >= 0; i-- {
			h := names.Apply(history[i])
			if ref != nil && h == *ref {
				continue
			}
			if h == current {
				continue
			}
			cost := counter.CountTokens(h.String())
			if consumed+cost > maxTokens {
				alloc.Truncated = countRemaining(history[:i+1], names, current, ref)
				break
			}
			newestFirst = append(newestFirst, h)
			consumed += cost + 1
		}
	} else {
		alloc.Truncated = countRemaining(history, names, current, ref)
	}

	alloc.History = make([]memory.Message, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		alloc.History = append(alloc.History, newestFirst[i])
	}
	alloc.Messages = make([]memory.Message, 0, len(alloc.History)+2)
	alloc.Messages = append(alloc.Messages, alloc.History...)
	if ref != nil {
		alloc.Messages = append(alloc.Messages, *ref)
	}
	alloc.Messages = append(alloc.Messages, current)

	alloc.Consumed = consumed
	alloc.Remaining = maxTokens - consumed
	if alloc.Remaining < 0 {
		alloc.Remaining = 0
	}
	return alloc
}

// countRemaining counts entries that would have competed for budget, i.e.
// everything except copies of the reserved messages.
func countRemaining(history []memory.Message, names NameMap, current memory.Message, ref *memory.Message) int {
	n := 0
	for _, m := range history {
		h := names.Apply(m)
		if h == current || (ref != nil && h == *ref) {
			continue
		}
		n++
	}
	return n
}

// AllocateFraming fills what is left of the budget with the droppable
// persona fragments, in priority order. A fragment that does not fit is
// skipped whole and later fragments are still tried. Accepted fragments cost
// their length plus one separator and are emitted in reverse acceptance order.
func AllocateFraming(counter TokenCounter, fragments []string, remaining int) string {
	consumed := 0
	var accepted []string
	for _, frag := range fragments {
		if frag == "" {
			continue
		}
		cost := counter.CountTokens(frag)
		if consumed+cost > remaining {
			continue
		}
		consumed += cost + 1
		accepted = append(accepted, frag)
	}
	for i, j := 0, len(accepted)-1; i < j; i, j = i+1, j-1 {
		accepted[i], accepted[j] = accepted[j], accepted[i]
	}
	return strings.Join(accepted, "\n")
}
