package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaLabelIndexDeclarationIdempotent(t *testing.T) {
	sc := newSchema()
	label := LabelID(1)

	require.NoError(t, sc.CreateLabelIndex(label))
	require.NoError(t, sc.CreateLabelIndex(label)) // idempotent
	assert.True(t, sc.HasLabelIndex(label))

	require.NoError(t, sc.DropLabelIndex(label))
	assert.False(t, sc.HasLabelIndex(label))

	err := sc.DropLabelIndex(label)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSchemaUniqueConstraintOrderIndependent(t *testing.T) {
	sc := newSchema()
	label := LabelID(1)
	a, b := PropertyID(1), PropertyID(2)

	require.NoError(t, sc.CreateUniqueConstraint(label, []PropertyID{a, b}))
	// Same set, different order: must be recognized as the same
	// declaration (idempotent) and droppable by it.
	require.NoError(t, sc.CreateUniqueConstraint(label, []PropertyID{b, a}))

	_, _, _, unique := sc.snapshotDecls()
	assert.Len(t, unique, 1)

	require.NoError(t, sc.DropUniqueConstraint(label, []PropertyID{b, a}))
	_, _, _, unique = sc.snapshotDecls()
	assert.Len(t, unique, 0)
}

type recordingHooks struct {
	addLabelCalls   int
	preCommitErr    error
	preCommitCalled bool
}

func (h *recordingHooks) OnAddLabel(v *VertexAccessor, label LabelID)    { h.addLabelCalls++ }
func (h *recordingHooks) OnRemoveLabel(v *VertexAccessor, label LabelID) {}
func (h *recordingHooks) OnSetProperty(v *VertexAccessor, key PropertyID, oldValue, newValue PropertyValue) {
}
func (h *recordingHooks) OnPreCommitValidate(tx *Accessor) error {
	h.preCommitCalled = true
	return h.preCommitErr
}

func TestSchemaHooksInvokedOnMutationAndCommit(t *testing.T) {
	s := openMem(t)
	hooks := &recordingHooks{}
	s.Schema().SetHooks(hooks)

	acc, err := s.Access()
	require.NoError(t, err)
	v, err := acc.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, v.AddLabel(s.Label("Person")))
	assert.Equal(t, 1, hooks.addLabelCalls)

	require.NoError(t, acc.Commit())
	assert.True(t, hooks.preCommitCalled)
}

func TestSchemaPreCommitValidationBlocksCommit(t *testing.T) {
	s := openMem(t)
	hooks := &recordingHooks{preCommitErr: assertErr}
	s.Schema().SetHooks(hooks)

	acc, err := s.Access()
	require.NoError(t, err)
	_, err = acc.CreateVertex()
	require.NoError(t, err)

	err = acc.Commit()
	assert.ErrorIs(t, err, ErrConstraintViolation)
}

var assertErr = errTestConstraint{}

type errTestConstraint struct{}

func (errTestConstraint) Error() string { return "constraint failed" }
