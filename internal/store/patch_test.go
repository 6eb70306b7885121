package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchIsEmpty(t *testing.T) {
	p := NewPatch()
	assert.True(t, p.IsEmpty())
	p.Set("foo", "bar")
	assert.False(t, p.IsEmpty())
}

func TestPatchBuildSet(t *testing.T) {
	p := NewPatch().Set("attachments_traites", true)
	expr, args := p.Build(1)
	require.Len(t, args, 1)
	assert.Equal(t, "true", args[0])
	assert.Contains(t, expr, "jsonb_set(doc, '{attachments_traites}', $1::jsonb, true)")
}

func TestPatchBuildArgOffset(t *testing.T) {
	p := NewPatch().Set("a", "1").Set("b", "2")
	expr, args := p.Build(3)
	require.Len(t, args, 2)
	assert.Contains(t, expr, "$3")
	assert.Contains(t, expr, "$4")
	assert.NotContains(t, expr, "$1")
}

func TestPatchBuildNestedPath(t *testing.T) {
	p := NewPatch().Unset("attachments.abc123")
	expr, _ := p.Build(1)
	assert.Contains(t, expr, "{attachments,abc123}")
}

func TestPatchBuildAddToSetAndPull(t *testing.T) {
	p := NewPatch().AddToSet("fuuids", "f1").Pull("fuuids", "f2")
	expr, args := p.Build(1)
	require.Len(t, args, 2)
	assert.True(t, strings.Contains(expr, "COALESCE"))
	assert.True(t, strings.Contains(expr, "jsonb_array_elements"))
}

func TestPatchBuildCombinesOperationsInOrder(t *testing.T) {
	p := NewPatch().
		Unset("old_field").
		Set("status", "done").
		SetOnInsert("created_at", "now").
		CurrentDate("modification")
	expr, args := p.Build(1)
	require.Len(t, args, 2)
	// unset should wrap innermost (applied first), current_date outermost
	assert.True(t, strings.Index(expr, "#-") < strings.Index(expr, "status"))
}
