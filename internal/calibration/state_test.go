package calibration

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{State{StageInitial, RoleUnassigned}, "initial"},
		{State{StageSearching, RoleUnassigned}, "searching"},
		{State{StageRoleSelected, RoleHost}, "selectingHost"},
		{State{StageRoleSelected, RoleClient}, "selectingClient"},
		{State{StageSingleFinger, RoleHost}, "rightIndexFingerCoordinatesHost"},
		{State{StageSingleFinger, RoleClient}, "rightIndexFingerCoordinatesClient"},
		{State{StageDualFinger, RoleHost}, "bothIndexFingerCoordinateHost"},
		{State{StageDualFinger, RoleClient}, "bothIndexFingerCoordinateClient"},
		{State{StagePrepared, RoleClient}, "prepared"},
		{State{Stage(42), RoleHost}, "stage(42)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestStageOrdering(t *testing.T) {
	order := []Stage{StageInitial, StageSearching, StageRoleSelected, StageSingleFinger, StageDualFinger, StagePrepared}
	for i := 1; i < len(order); i++ {
		assert.Equal(t, order[i-1]+1, order[i])
	}
	b, err := StageDualFinger.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "dual_finger", string(b))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Host ")
	require.NoError(t, err)
	assert.Equal(t, RoleHost, r)

	r, err = ParseRole("client")
	require.NoError(t, err)
	assert.Equal(t, RoleClient, r)

	_, err = ParseRole("observer")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestParseFreshKind(t *testing.T) {
	k, err := ParseFreshKind("dual")
	require.NoError(t, err)
	assert.Equal(t, FreshDual, k)
	assert.Equal(t, "dual", k.String())

	_, err = ParseFreshKind("triple")
	assert.Error(t, err)
}

func TestStateJSON(t *testing.T) {
	in := State{Stage: StageSingleFinger, Role: RoleClient}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"stage":"single_finger","role":"client"}`, string(b))

	var out State
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)

	require.NoError(t, json.Unmarshal([]byte(`{"stage":"initial","role":"unassigned"}`), &out))
	assert.Equal(t, State{}, out)

	assert.Error(t, json.Unmarshal([]byte(`{"stage":"done"}`), &out))
}
