package core

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

type ActionType uint8

const (
	ActionDeposit ActionType = iota + 1
	ActionWithdraw
	ActionBorrow
	ActionRepay
	ActionLiquidate
	ActionRequestElevationGroup
	ActionWithdrawProtocolFees
	ActionWithdrawReferrerFees
)

func (a ActionType) String() string {
	switch a {
	case ActionDeposit:
		return "Deposit"
	case ActionWithdraw:
		return "Withdraw"
	case ActionBorrow:
		return "Borrow"
	case ActionRepay:
		return "Repay"
	case ActionLiquidate:
		return "Liquidate"
	case ActionRequestElevationGroup:
		return "RequestElevationGroup"
	case ActionWithdrawProtocolFees:
		return "WithdrawProtocolFees"
	case ActionWithdrawReferrerFees:
		return "WithdrawReferrerFees"
	default:
		return "Unknown"
	}
}

// ParseActionType matches names case-insensitively and ignores underscores,
// so "request_elevation_group" parses.
func ParseActionType(s string) (ActionType, bool) {
	s = strings.ReplaceAll(s, "_", "")
	for a := ActionDeposit; a <= ActionWithdrawReferrerFees; a++ {
		if strings.EqualFold(a.String(), s) {
			return a, true
		}
	}
	return 0, false
}

func (a ActionType) Valid() bool {
	return a >= ActionDeposit && a <= ActionWithdrawReferrerFees
}

// Action is a single request against a lending market. Amount uses U64_MAX
// as "as much as possible" where the operation supports it.
type Action struct {
	Type   ActionType `json:"t"`
	Market uuid.UUID  `json:"m"`
	Owner  string     `json:"o,omitempty"`

	Reserve         uuid.UUID `json:"r,omitempty"`
	WithdrawReserve uuid.UUID `json:"wr,omitempty"`
	Amount          uint64    `json:"a,omitempty"`
	MinReceive      uint64    `json:"mr,omitempty"`
	ElevationGroup  uint8     `json:"eg,omitempty"`

	// Recorded on the obligation a deposit creates.
	Referrer string `json:"rf,omitempty"`
}

func (a Action) Validate() error {
	if !a.Type.Valid() {
		return errors.Wrapf(InvalidAction, "type %d", a.Type)
	}
	if a.Market == uuid.Nil {
		return errors.Wrap(InvalidAction, "missing lending market")
	}

	switch a.Type {
	case ActionRequestElevationGroup:
		if a.Owner == "" {
			return errors.Wrap(InvalidAction, "missing owner")
		}
		return nil
	case ActionWithdrawProtocolFees, ActionWithdrawReferrerFees:
	case ActionLiquidate:
		if a.WithdrawReserve == uuid.Nil {
			return errors.Wrap(InvalidAction, "missing withdraw reserve")
		}
		if a.WithdrawReserve == a.Reserve {
			return errors.Wrap(InvalidAction, "repay and withdraw reserve are the same")
		}
		fallthrough
	default:
		if a.Owner == "" {
			return errors.Wrap(InvalidAction, "missing owner")
		}
	}

	if a.Reserve == uuid.Nil {
		return errors.Wrap(InvalidAction, "missing reserve")
	}
	if a.Amount == 0 {
		return errors.Wrap(InvalidAmount, "amount is zero")
	}
	return nil
}

// EncodeAction renders an action as a transfer memo: hex(base64(json)).
func EncodeAction(a Action) (string, error) {
	bytes, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString([]byte(base64.StdEncoding.EncodeToString(bytes))), nil
}

func DecodeAction(memo string) (*Action, error) {
	b64, err := hex.DecodeString(memo)
	if err != nil {
		return nil, errors.Wrap(InvalidAction, err.Error())
	}

	raw, err := base64.StdEncoding.DecodeString(string(b64))
	if err != nil {
		return nil, errors.Wrap(InvalidAction, err.Error())
	}

	var action Action
	if err := json.Unmarshal(raw, &action); err != nil {
		return nil, errors.Wrap(InvalidAction, err.Error())
	}
	if err := action.Validate(); err != nil {
		return nil, err
	}
	return &action, nil
}
