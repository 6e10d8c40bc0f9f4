package core

import (
	"context"
	"database/sql/driver"
	"encoding/json"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

type (
	OperationStore interface {
		CreateOperation(ctx context.Context, operation *Operation) error
		ListOperations(ctx context.Context, marketId uuid.UUID, owner string, action ActionType, createdBeforeAt, limit int64) ([]*Operation, error)
	}

	Operation struct {
		Id            uuid.UUID       `json:"id"`
		LendingMarket uuid.UUID       `json:"lendingMarket"`
		Owner         string          `json:"owner"`
		Obligation    uuid.UUID       `json:"obligation"`
		Action        ActionType      `json:"action"`
		Slot          uint64          `json:"slot"`
		Detail        OperationDetail `json:"detail"`
		CreatedAt     int64           `json:"createdAt"`
	}

	OperationDetail struct {
		Request     Action                 `json:"request"`
		Transfers   []Transfer             `json:"transfers"`
		Borrow      *CalculateBorrowResult `json:"borrow,omitempty"`
		Liquidation *LiquidationResult     `json:"liquidation,omitempty"`
	}

	// Transfer is a token movement the host has to execute for an operation.
	Transfer struct {
		Reserve   uuid.UUID         `json:"reserve"`
		Direction TransferDirection `json:"direction"`
		Amount    uint64            `json:"amount"`
	}
)

type TransferDirection uint8

const (
	// TransferIn moves liquidity from the user into the reserve.
	TransferIn TransferDirection = iota + 1
	TransferOut
)

func (d TransferDirection) String() string {
	switch d {
	case TransferIn:
		return "In"
	case TransferOut:
		return "Out"
	default:
		return "Unknown"
	}
}

func NewOperation(clk clock.Clock, request Action, obligationId uuid.UUID, slot uint64, detail OperationDetail) *Operation {
	detail.Request = request
	return &Operation{
		Id:            uuid.Must(uuid.NewV4()),
		LendingMarket: request.Market,
		Owner:         request.Owner,
		Obligation:    obligationId,
		Action:        request.Type,
		Slot:          slot,
		Detail:        detail,
		CreatedAt:     clk.Now().Unix(),
	}
}

func (d *OperationDetail) AddTransfer(reserve uuid.UUID, direction TransferDirection, amount uint64) {
	if amount == 0 {
		return
	}
	d.Transfers = append(d.Transfers, Transfer{Reserve: reserve, Direction: direction, Amount: amount})
}

func (j OperationDetail) Value() (driver.Value, error) {
	valueString, err := json.Marshal(j)
	return string(valueString), err
}

func (j *OperationDetail) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.Errorf("unsupported operation detail type %T", value)
	}
	return json.Unmarshal(raw, j)
}
