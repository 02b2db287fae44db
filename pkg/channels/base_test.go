package channels

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dotsetgreg/dotpersona/pkg/bus"
)

func TestBaseChannelIsAllowed(t *testing.T) {
	open := NewBaseChannel("discord", bus.NewWorkQueue(1), nil, 0, 0)
	assert.True(t, open.IsAllowed("123|alice"))

	restricted := NewBaseChannel("discord", bus.NewWorkQueue(1), []string{"123", "@bob"}, 0, 0)
	assert.True(t, restricted.IsAllowed("123|alice"))
	assert.True(t, restricted.IsAllowed("456|bob"))
	assert.False(t, restricted.IsAllowed("789|carol"))
}

func TestBaseChannelAllowRate(t *testing.T) {
	c := NewBaseChannel("discord", bus.NewWorkQueue(1), nil, 1, 2)

	assert.True(t, c.AllowRate("alice"))
	assert.True(t, c.AllowRate("alice"))
	assert.False(t, c.AllowRate("alice"), "burst exhausted")
	assert.True(t, c.AllowRate("bob"), "limits are per sender")

	unlimited := NewBaseChannel("discord", bus.NewWorkQueue(1), nil, 0, 0)
	for i := 0; i < 50; i++ {
		assert.True(t, unlimited.AllowRate("alice"))
	}
}
