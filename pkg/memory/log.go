// Package memory keeps the rolling per-location conversation log and
// persists it as one whole snapshot.
package memory

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// Message is one (speaker, text) chat line. Two messages are the same entry
// when both fields are equal.
type Message struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

func (m Message) String() string {
	return m.Speaker + ": " + m.Text
}

// UnmarshalJSON also accepts the flat "speaker: text" form used by older log files.
func (m *Message) UnmarshalJSON(data []byte) error {
	var line string
	if err := json.Unmarshal(data, &line); err == nil {
		speaker, text, found := strings.Cut(line, ": ")
		if !found {
			*m = Message{Text: line}
			return nil
		}
		*m = Message{Speaker: speaker, Text: text}
		return nil
	}
	type plain Message
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = Message(p)
	return nil
}

// Log maps a location (channel ID or console session) to the ordered
// messages seen there. A location never holds the same message twice.
type Log struct {
	mu      sync.RWMutex
	entries map[string][]Message
	seen    map[string]map[Message]struct{}
}

func NewLog() *Log {
	return &Log{
		entries: map[string][]Message{},
		seen:    map[string]map[Message]struct{}{},
	}
}

// RestoreLog rebuilds a log from persisted history, dropping any duplicates
// the file may contain.
func RestoreLog(history map[string][]Message) *Log {
	l := NewLog()
	for loc, msgs := range history {
		l.Record(loc, msgs)
	}
	return l
}

// Record appends msgs to location in order, skipping any message already
// present there (including repeats within msgs). It returns how many were added.
func (l *Log) Record(location string, msgs []Message) int {
	if len(msgs) == 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	seen, ok := l.seen[location]
	if !ok {
		seen = map[Message]struct{}{}
		l.seen[location] = seen
	}
	added := 0
	for _, m := range msgs {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		l.entries[location] = append(l.entries[location], m)
		added++
	}
	return added
}

// Messages returns a copy of the messages recorded for location.
func (l *Log) Messages(location string) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.entries[location]))
	copy(out, l.entries[location])
	return out
}

func (l *Log) Len(location string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries[location])
}

// Locations returns the known locations in sorted order.
func (l *Log) Locations() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	locs := make([]string, 0, len(l.entries))
	for loc := range l.entries {
		locs = append(locs, loc)
	}
	sort.Strings(locs)
	return locs
}

// History returns a deep copy of every location's messages.
func (l *Log) History() map[string][]Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string][]Message, len(l.entries))
	for loc, msgs := range l.entries {
		cp := make([]Message, len(msgs))
		copy(cp, msgs)
		out[loc] = cp
	}
	return out
}
