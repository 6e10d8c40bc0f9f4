package store

import (
	"context"

	"github.com/DomeLiquid/klend/core"
	"github.com/glebarez/sqlite"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store persists lending records with gorm. It implements core.Store.
type Store struct {
	db *gorm.DB
}

var _ core.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to a sqlite database at dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", dsn)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, errors.Wrap(err, "migrate")
	}
	return New(db), nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Transaction(ctx context.Context, fn func(tx core.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func uuidFromString(s string) (uuid.UUID, error) {
	id, err := uuid.FromString(s)
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, "parse id %q", s)
	}
	return id, nil
}

func notFound(err error, sentinel error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrapf(sentinel, format, args...)
	}
	return err
}

func (s *Store) CreateLendingMarket(ctx context.Context, market *core.LendingMarket) error {
	return s.db.WithContext(ctx).Create(newLendingMarketRow(market)).Error
}

func (s *Store) GetLendingMarketById(ctx context.Context, id uuid.UUID) (*core.LendingMarket, error) {
	var row lendingMarketRow
	if err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&row).Error; err != nil {
		return nil, notFound(err, core.LendingMarketNotFound, "lending market %s", id)
	}
	return &row.Data.Val, nil
}

func (s *Store) GetLendingMarketByName(ctx context.Context, name string) (*core.LendingMarket, error) {
	var row lendingMarketRow
	if err := s.db.WithContext(ctx).Where("name = ?", name).Take(&row).Error; err != nil {
		return nil, notFound(err, core.LendingMarketNotFound, "lending market %q", name)
	}
	return &row.Data.Val, nil
}

func (s *Store) UpdateLendingMarket(ctx context.Context, market *core.LendingMarket) error {
	res := s.db.WithContext(ctx).
		Model(&lendingMarketRow{}).
		Where("id = ?", market.Id.String()).
		Updates(map[string]any{
			"name": market.Name,
			"data": jsonColumn[core.LendingMarket]{Val: *market},
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(core.LendingMarketNotFound, "lending market %s", market.Id)
	}
	return nil
}

func (s *Store) ListLendingMarkets(ctx context.Context) ([]*core.LendingMarket, error) {
	var rows []lendingMarketRow
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	markets := make([]*core.LendingMarket, 0, len(rows))
	for i := range rows {
		markets = append(markets, &rows[i].Data.Val)
	}
	return markets, nil
}

func (s *Store) CreateReserve(ctx context.Context, reserve *core.Reserve) error {
	return s.db.WithContext(ctx).Create(newReserveRow(reserve)).Error
}

func (s *Store) UpsertReserve(ctx context.Context, reserve *core.Reserve) error {
	return s.db.WithContext(ctx).Save(newReserveRow(reserve)).Error
}

func (s *Store) GetReserveById(ctx context.Context, reserveId uuid.UUID) (*core.Reserve, error) {
	var row reserveRow
	if err := s.db.WithContext(ctx).Where("id = ?", reserveId.String()).Take(&row).Error; err != nil {
		return nil, notFound(err, core.InvalidReserve, "reserve %s", reserveId)
	}
	return &row.Data.Val, nil
}

func (s *Store) ListReservesByMarket(ctx context.Context, marketId uuid.UUID) ([]*core.Reserve, error) {
	var rows []reserveRow
	if err := s.db.WithContext(ctx).Where("lending_market = ?", marketId.String()).Order("symbol").Find(&rows).Error; err != nil {
		return nil, err
	}
	reserves := make([]*core.Reserve, 0, len(rows))
	for i := range rows {
		reserves = append(reserves, &rows[i].Data.Val)
	}
	return reserves, nil
}

func (s *Store) CreateObligation(ctx context.Context, obligation *core.Obligation) error {
	return s.db.WithContext(ctx).Create(newObligationRow(obligation)).Error
}

func (s *Store) UpsertObligation(ctx context.Context, obligation *core.Obligation) error {
	return s.db.WithContext(ctx).Save(newObligationRow(obligation)).Error
}

func (s *Store) GetObligationById(ctx context.Context, id uuid.UUID) (*core.Obligation, error) {
	var row obligationRow
	if err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&row).Error; err != nil {
		return nil, notFound(err, core.ObligationNotFound, "obligation %s", id)
	}
	return &row.Data.Val, nil
}

func (s *Store) ListObligationsByMarket(ctx context.Context, marketId uuid.UUID) ([]*core.Obligation, error) {
	var rows []obligationRow
	if err := s.db.WithContext(ctx).Where("lending_market = ?", marketId.String()).Order("owner").Find(&rows).Error; err != nil {
		return nil, err
	}
	obligations := make([]*core.Obligation, 0, len(rows))
	for i := range rows {
		obligations = append(obligations, &rows[i].Data.Val)
	}
	return obligations, nil
}

func (s *Store) CreateOperation(ctx context.Context, operation *core.Operation) error {
	return s.db.WithContext(ctx).Create(newOperationRow(operation)).Error
}

// ListOperations returns the newest operations first. Empty owner, zero
// action and non-positive createdBeforeAt disable their filters.
func (s *Store) ListOperations(ctx context.Context, marketId uuid.UUID, owner string, action core.ActionType, createdBeforeAt, limit int64) ([]*core.Operation, error) {
	query := s.db.WithContext(ctx).Where("lending_market = ?", marketId.String())
	if owner != "" {
		query = query.Where("owner = ?", owner)
	}
	if action != 0 {
		query = query.Where("action = ?", action)
	}
	if createdBeforeAt > 0 {
		query = query.Where("created_at < ?", createdBeforeAt)
	}
	if limit > 0 {
		query = query.Limit(int(limit))
	}

	var rows []operationRow
	if err := query.Order("created_at DESC, seq DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	operations := make([]*core.Operation, 0, len(rows))
	for i := range rows {
		op, err := rows[i].operation()
		if err != nil {
			return nil, err
		}
		operations = append(operations, op)
	}
	return operations, nil
}
