package core

import (
	"testing"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionTypeString(t *testing.T) {
	for a := ActionDeposit; a <= ActionWithdrawReferrerFees; a++ {
		parsed, ok := ParseActionType(a.String())
		require.True(t, ok, a.String())
		assert.Equal(t, a, parsed)
		assert.True(t, a.Valid())
	}

	parsed, ok := ParseActionType("request_elevation_group")
	require.True(t, ok)
	assert.Equal(t, ActionRequestElevationGroup, parsed)

	_, ok = ParseActionType("Loop")
	assert.False(t, ok)
	assert.False(t, ActionType(0).Valid())
	assert.Equal(t, "Unknown", ActionType(42).String())
}

func TestActionValidate(t *testing.T) {
	reserve := uuid.NewV5(testMarketId, "USDC")
	other := uuid.NewV5(testMarketId, "SOL")

	tests := []struct {
		name   string
		action Action
		err    error
	}{
		{"deposit", Action{Type: ActionDeposit, Market: testMarketId, Owner: "alice", Reserve: reserve, Amount: 1}, nil},
		{"unknown type", Action{Type: 99, Market: testMarketId}, InvalidAction},
		{"missing market", Action{Type: ActionDeposit, Owner: "alice", Reserve: reserve, Amount: 1}, InvalidAction},
		{"missing owner", Action{Type: ActionBorrow, Market: testMarketId, Reserve: reserve, Amount: 1}, InvalidAction},
		{"missing reserve", Action{Type: ActionRepay, Market: testMarketId, Owner: "alice", Amount: 1}, InvalidAction},
		{"zero amount", Action{Type: ActionWithdraw, Market: testMarketId, Owner: "alice", Reserve: reserve}, InvalidAmount},
		{"liquidate", Action{Type: ActionLiquidate, Market: testMarketId, Owner: "bob", Reserve: reserve, WithdrawReserve: other, Amount: U64_MAX}, nil},
		{"liquidate same reserve", Action{Type: ActionLiquidate, Market: testMarketId, Owner: "bob", Reserve: reserve, WithdrawReserve: reserve, Amount: 1}, InvalidAction},
		{"liquidate no withdraw reserve", Action{Type: ActionLiquidate, Market: testMarketId, Owner: "bob", Reserve: reserve, Amount: 1}, InvalidAction},
		{"elevation group", Action{Type: ActionRequestElevationGroup, Market: testMarketId, Owner: "alice"}, nil},
		{"protocol fees", Action{Type: ActionWithdrawProtocolFees, Market: testMarketId, Reserve: reserve, Amount: U64_MAX}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestEncodeDecodeAction(t *testing.T) {
	action := Action{
		Type:            ActionLiquidate,
		Market:          testMarketId,
		Owner:           "bob",
		Reserve:         uuid.NewV5(testMarketId, "USDC"),
		WithdrawReserve: uuid.NewV5(testMarketId, "SOL"),
		Amount:          U64_MAX,
		MinReceive:      10,
	}
	memo, err := EncodeAction(action)
	require.NoError(t, err)

	decoded, err := DecodeAction(memo)
	require.NoError(t, err)
	assert.Equal(t, action, *decoded)

	_, err = DecodeAction("zz")
	assert.ErrorIs(t, err, InvalidAction)

	bad, err := EncodeAction(Action{Type: ActionBorrow, Market: testMarketId})
	require.NoError(t, err)
	_, err = DecodeAction(bad)
	assert.ErrorIs(t, err, InvalidAction)
}

func TestOperationDetailValuer(t *testing.T) {
	reserve := uuid.NewV5(testMarketId, "USDC")
	request := Action{Type: ActionBorrow, Market: testMarketId, Owner: "alice", Reserve: reserve, Amount: 10}

	var detail OperationDetail
	detail.AddTransfer(reserve, TransferOut, 9)
	detail.AddTransfer(reserve, TransferIn, 0)
	op := NewOperation(clock.NewMock(), request, uuid.Nil, 7, detail)
	assert.Equal(t, ActionBorrow, op.Action)
	assert.Equal(t, "alice", op.Owner)
	assert.Equal(t, uint64(7), op.Slot)
	require.Len(t, op.Detail.Transfers, 1)

	v, err := op.Detail.Value()
	require.NoError(t, err)

	var fromString, fromBytes OperationDetail
	require.NoError(t, fromString.Scan(v))
	require.NoError(t, fromBytes.Scan([]byte(v.(string))))
	assert.Equal(t, op.Detail, fromString)
	assert.Equal(t, op.Detail, fromBytes)
	assert.Equal(t, request, fromString.Request)

	assert.Error(t, fromString.Scan(42))
}
