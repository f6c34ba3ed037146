package conversation

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/IntakeKit/types"
)

func TestContext_AppendAndSnapshot(t *testing.T) {
	ctx := NewWithSystem("You are Jessica.")
	ctx.Append(types.NewCallerMessage(1, "hello"))
	ctx.Append(types.NewAgentMessage(1, "hi there"))

	snap := ctx.Snapshot()
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, types.RoleSystem, snap.Messages[0].Role)
	assert.Equal(t, "hello", snap.Messages[1].Content)
	assert.Equal(t, "hi there", snap.Messages[2].Content)
	assert.Nil(t, snap.Tool)
}

func TestContext_SnapshotIsolation(t *testing.T) {
	ctx := New()
	ctx.Append(types.NewCallerMessage(1, "original"))
	ctx.InstallTool(&types.ToolDef{
		Name:        "verify_birthday",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	})

	snap := ctx.Snapshot()

	// Mutating the snapshot must not leak back into the live context.
	snap.Messages[0].Content = "tampered"
	snap.Tool.Name = "tampered"
	snap.Tool.InputSchema[0] = 'X'

	fresh := ctx.Snapshot()
	assert.Equal(t, "original", fresh.Messages[0].Content)
	assert.Equal(t, "verify_birthday", fresh.Tool.Name)
	assert.Equal(t, json.RawMessage(`{"type":"object"}`), fresh.Tool.InputSchema)

	// And appends after the snapshot must not appear in it.
	ctx.Append(types.NewCallerMessage(2, "later"))
	assert.Len(t, snap.Messages, 1)
}

func TestContext_InstallTool(t *testing.T) {
	ctx := New()
	assert.Equal(t, "", ctx.ActiveToolName())

	ctx.InstallTool(&types.ToolDef{Name: "verify_birthday"})
	assert.Equal(t, "verify_birthday", ctx.ActiveToolName())

	// Installing replaces the previous tool.
	ctx.InstallTool(&types.ToolDef{Name: "list_prescriptions"})
	assert.Equal(t, "list_prescriptions", ctx.ActiveToolName())

	// Nil clears.
	ctx.InstallTool(nil)
	assert.Equal(t, "", ctx.ActiveToolName())
	assert.Nil(t, ctx.Snapshot().Tool)
}

func TestContext_ApplyTransition(t *testing.T) {
	ctx := NewWithSystem("intro")
	ctx.InstallTool(&types.ToolDef{Name: "verify_birthday"})

	ctx.ApplyTransition(
		[]types.Message{types.NewAgentMessage(3, "identity verified")},
		&types.ToolDef{Name: "list_prescriptions"},
		"Ask about prescriptions.",
	)

	snap := ctx.Snapshot()
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, "identity verified", snap.Messages[1].Content)
	assert.Equal(t, types.RoleSystem, snap.Messages[2].Role)
	assert.Equal(t, "Ask about prescriptions.", snap.Messages[2].Content)
	assert.Equal(t, "list_prescriptions", snap.Tool.Name)
}

func TestContext_ApplyTransitionAtomic(t *testing.T) {
	ctx := New()
	ctx.InstallTool(&types.ToolDef{Name: "verify_birthday"})

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Readers race against the transition; every snapshot must be
	// all-before or all-after.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := ctx.Snapshot()
			if len(snap.Messages) == 0 {
				assert.Equal(t, "verify_birthday", snap.Tool.Name)
			} else {
				assert.Equal(t, "list_prescriptions", snap.Tool.Name)
				assert.Len(t, snap.Messages, 2)
			}
		}
	}()

	ctx.ApplyTransition(
		[]types.Message{types.NewAgentMessage(1, "ok")},
		&types.ToolDef{Name: "list_prescriptions"},
		"next step",
	)

	close(stop)
	wg.Wait()
}
