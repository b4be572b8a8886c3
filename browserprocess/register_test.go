package browserprocess

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grafana/webcat/log"
)

//nolint:paralleltest
func TestForceProcessShutdown(t *testing.T) {
	var killed []int
	prev := Kill
	Kill = func(pid int) { killed = append(killed, pid) }
	t.Cleanup(func() { Kill = prev })

	logger := log.NewNullLogger()
	a := WithSessionID(context.Background(), "a")
	b := WithSessionID(context.Background(), "b")
	Register(a, logger, 101)
	Register(a, logger, 102)
	Register(b, logger, 201)
	Register(b, logger, 202)
	Unregister(202)
	assert.Equal(t, 3, Registered())

	ForceProcessShutdown(a)
	sort.Ints(killed)
	assert.Equal(t, []int{101, 102}, killed)
	assert.Equal(t, 1, Registered())

	ForceProcessShutdown(context.Background())
	assert.Equal(t, []int{101, 102, 201}, killed)
	assert.Zero(t, Registered())
}
