package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupState_FirstCycleAlwaysProcesses(t *testing.T) {
	state := ResumeDedupState("sigA")

	last, ok := state.LastSeen()
	assert.True(t, ok)
	assert.Equal(t, "sigA", last)
	assert.False(t, state.HasProcessedAny())

	// Head equals the injected cursor but nothing was processed yet.
	assert.True(t, state.ShouldProcess("sigA"))

	state.Advance("sigA")
	assert.True(t, state.HasProcessedAny())
	assert.False(t, state.ShouldProcess("sigA"))
	assert.True(t, state.ShouldProcess("sigB"))
}

func TestDedupState_AtMostOncePerSignature(t *testing.T) {
	state := NewDedupState()
	_, ok := state.LastSeen()
	assert.False(t, ok)

	heads := []string{"a", "a", "b", "b", "b", "c", "a", "a"}
	processed := 0
	var order []string
	for _, head := range heads {
		if state.ShouldProcess(head) {
			processed++
			order = append(order, head)
			state.Advance(head)
		}
	}

	// "a" reappears after "c" as a new head, which is a different cursor
	// position, so it is processed again.
	assert.Equal(t, []string{"a", "b", "c", "a"}, order)
	assert.Equal(t, 4, processed)
}

func TestResumeDedupState_Empty(t *testing.T) {
	state := ResumeDedupState("")
	_, ok := state.LastSeen()
	assert.False(t, ok)
	assert.True(t, state.ShouldProcess("x"))
}
