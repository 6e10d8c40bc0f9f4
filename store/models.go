package store

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/DomeLiquid/klend/core"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// jsonColumn keeps a whole record in a single text column.
type jsonColumn[T any] struct {
	Val T
}

func (j jsonColumn[T]) GormDataType() string {
	return "text"
}

func (j jsonColumn[T]) Value() (driver.Value, error) {
	valueString, err := json.Marshal(j.Val)
	return string(valueString), err
}

func (j *jsonColumn[T]) Scan(value any) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, &j.Val)
	case string:
		return json.Unmarshal([]byte(v), &j.Val)
	default:
		return errors.Errorf("unsupported column type %T", value)
	}
}

type (
	lendingMarketRow struct {
		Id   string                         `gorm:"primaryKey;size:36"`
		Name string                         `gorm:"uniqueIndex;size:128"`
		Data jsonColumn[core.LendingMarket] `gorm:"not null"`
	}

	reserveRow struct {
		Id            string                   `gorm:"primaryKey;size:36"`
		LendingMarket string                   `gorm:"index;size:36"`
		Symbol        string                   `gorm:"size:32"`
		Data          jsonColumn[core.Reserve] `gorm:"not null"`
	}

	obligationRow struct {
		Id            string                      `gorm:"primaryKey;size:36"`
		LendingMarket string                      `gorm:"index;size:36"`
		Owner         string                      `gorm:"index;size:128"`
		Data          jsonColumn[core.Obligation] `gorm:"not null"`
	}

	operationRow struct {
		Seq           uint64               `gorm:"primaryKey;autoIncrement"`
		Id            string               `gorm:"uniqueIndex;size:36"`
		LendingMarket string               `gorm:"index:idx_operation_market_owner;size:36"`
		Owner         string               `gorm:"index:idx_operation_market_owner;size:128"`
		Obligation    string               `gorm:"size:36"`
		Action        core.ActionType      `gorm:"index"`
		Slot          uint64               `gorm:"not null"`
		Detail        core.OperationDetail `gorm:"type:text;not null"`
		CreatedAt     int64                `gorm:"autoCreateTime:false;index"`
	}
)

func (lendingMarketRow) TableName() string { return "lending_markets" }
func (reserveRow) TableName() string       { return "reserves" }
func (obligationRow) TableName() string    { return "obligations" }
func (operationRow) TableName() string     { return "operations" }

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&lendingMarketRow{},
		&reserveRow{},
		&obligationRow{},
		&operationRow{},
	)
}

func newLendingMarketRow(m *core.LendingMarket) *lendingMarketRow {
	return &lendingMarketRow{Id: m.Id.String(), Name: m.Name, Data: jsonColumn[core.LendingMarket]{Val: *m}}
}

func newReserveRow(r *core.Reserve) *reserveRow {
	return &reserveRow{
		Id:            r.Id.String(),
		LendingMarket: r.LendingMarket.String(),
		Symbol:        r.Config.TokenInfo.Symbol,
		Data:          jsonColumn[core.Reserve]{Val: *r},
	}
}

func newObligationRow(o *core.Obligation) *obligationRow {
	return &obligationRow{
		Id:            o.Id.String(),
		LendingMarket: o.LendingMarket.String(),
		Owner:         o.Owner,
		Data:          jsonColumn[core.Obligation]{Val: *o},
	}
}

func newOperationRow(op *core.Operation) *operationRow {
	return &operationRow{
		Id:            op.Id.String(),
		LendingMarket: op.LendingMarket.String(),
		Owner:         op.Owner,
		Obligation:    op.Obligation.String(),
		Action:        op.Action,
		Slot:          op.Slot,
		Detail:        op.Detail,
		CreatedAt:     op.CreatedAt,
	}
}

func (r *operationRow) operation() (*core.Operation, error) {
	op := &core.Operation{
		Owner:     r.Owner,
		Action:    r.Action,
		Slot:      r.Slot,
		Detail:    r.Detail,
		CreatedAt: r.CreatedAt,
	}
	var err error
	if op.Id, err = uuidFromString(r.Id); err != nil {
		return nil, err
	}
	if op.LendingMarket, err = uuidFromString(r.LendingMarket); err != nil {
		return nil, err
	}
	if op.Obligation, err = uuidFromString(r.Obligation); err != nil {
		return nil, err
	}
	return op, nil
}
