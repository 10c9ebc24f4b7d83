package xbeacon

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreadcrumbTrail_EvictsOldest(t *testing.T) {
	trail := newBreadcrumbTrail(3)
	assert.Nil(t, trail.snapshot())

	for i := 1; i <= 5; i++ {
		trail.add(Breadcrumb{Message: fmt.Sprint(i)})
	}
	got := trail.snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, "3", got[0].Message)
	assert.Equal(t, "5", got[2].Message)

	trail.clear()
	assert.Zero(t, trail.len())
	trail.add(Breadcrumb{Message: "after"})
	assert.Equal(t, "after", trail.snapshot()[0].Message)
}

func TestBreadcrumbTrail_SnapshotCopiesData(t *testing.T) {
	trail := newBreadcrumbTrail(0)
	trail.add(Breadcrumb{Message: "click", Data: map[string]any{"x": 1}})

	snap := trail.snapshot()
	snap[0].Data["x"] = 2
	assert.Equal(t, 1, trail.snapshot()[0].Data["x"])
	assert.Equal(t, 1, trail.len())
}
