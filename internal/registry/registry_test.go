package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/benchagent/internal/action"
	"github.com/vinayprograms/benchagent/internal/sandbox"
	"github.com/vinayprograms/benchagent/internal/supervision"
)

func TestStore_DelegationIsTotal(t *testing.T) {
	r := Store()
	entry := r.EntryAgent()
	require.NotNil(t, entry)
	assert.Equal(t, ModeMeta, entry.Mode)
	assert.Equal(t, 30, entry.MaxSteps)

	for _, tool := range entry.Tools {
		if action.KindOf(tool) != action.KindMeta {
			continue
		}
		a, err := r.Delegate(tool)
		require.NoError(t, err, tool)
		assert.Equal(t, ModeSDK, a.Mode, tool)
	}

	_, err := r.Delegate("warehouse_manager")
	assert.True(t, errors.Is(err, ErrUnknownAgent))
}

func TestStore_ProductExplorerIsLeaf(t *testing.T) {
	a, err := Store().Agent(ProductExplorer)
	require.NoError(t, err)
	assert.True(t, a.Leaf)
	assert.Equal(t, []string{"report"}, a.Schema.Definition["required"])
}

func TestStore_ValidatorCoversOrchestratorOnly(t *testing.T) {
	r := Store()
	b := supervision.Match(r.Validators, Orchestrator, action.DelegateCheckoutProcessor)
	require.NotNil(t, b)
	assert.Equal(t, 2, b.MaxAttempts)
	assert.True(t, b.Covers(action.SubmitTask))

	assert.Nil(t, supervision.Match(r.Validators, CheckoutProcessor, action.Checkout))
}

func TestDirectory_RespondIsNotValidated(t *testing.T) {
	r := Directory()
	a := r.EntryAgent()
	assert.Equal(t, 40, a.MaxSteps)
	assert.Equal(t, StyleCompleted, a.Style)
	assert.True(t, a.Allows(action.Respond))

	assert.Nil(t, supervision.Match(r.Validators, DirectoryAgent, action.Respond))
	b := supervision.Match(r.Validators, DirectoryAgent, action.SearchEmployees)
	require.NotNil(t, b)
	assert.Equal(t, 1, b.MaxAttempts)
}

func TestFor(t *testing.T) {
	r, err := For(sandbox.KindDirectory)
	require.NoError(t, err)
	assert.Equal(t, DirectoryAgent, r.Entry)

	_, err = For("casino")
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	o, err := ParseOverrides([]byte(`
agents:
  Orchestrator:
    max_steps: 12
validators:
  StepValidator:
    max_attempts: 0
    tools: [checkout_processor]
`))
	require.NoError(t, err)

	base := Store()
	r, err := base.Apply(o)
	require.NoError(t, err)

	assert.Equal(t, 12, r.EntryAgent().MaxSteps)
	assert.Equal(t, 30, base.EntryAgent().MaxSteps, "base registry must stay untouched")
	require.Len(t, r.Validators, 1)
	assert.Equal(t, 0, r.Validators[0].MaxAttempts)
	assert.Nil(t, supervision.Match(r.Validators, Orchestrator, action.SubmitTask))
}

func TestApplyOverrides_DisableAndUnknown(t *testing.T) {
	o, err := ParseOverrides([]byte("validators:\n  StepValidator:\n    disabled: true\n"))
	require.NoError(t, err)
	r, err := Directory().Apply(o)
	require.NoError(t, err)
	assert.Empty(t, r.Validators)

	o, err = ParseOverrides([]byte("agents:\n  Nobody:\n    max_steps: 3\n"))
	require.NoError(t, err)
	_, err = Store().Apply(o)
	assert.True(t, errors.Is(err, ErrUnknownAgent))
}
