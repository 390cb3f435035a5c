package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"BlinkPay/internal/models"
	"BlinkPay/internal/services"
)

// MySQLConfig mirrors the mysql section of config.yaml.
type MySQLConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname" validate:"required"`
}

func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Open 连接 MySQL
func Open(cfg MySQLConfig) (*gorm.DB, error) {
	conn, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return conn, nil
}

// AutoMigrate 创建或更新表结构
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(AllModels()...)
}

// Store is the gorm implementation of services.Store.
type Store struct {
	db *gorm.DB
}

func NewStore(conn *gorm.DB) *Store {
	return &Store{db: conn}
}

var (
	_ services.Store      = (*Store)(nil)
	_ services.UnitOfWork = (*unitOfWork)(nil)
)

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, services.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", services.ErrStoreUnavailable, err)
}

func (s *Store) SettlementExists(ctx context.Context, signature, toAddress string, token models.Token) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&SettlementRow{}).
		Where("signature = ? AND to_address = ? AND token = ?", signature, toAddress, token.String()).
		Count(&n).Error
	if err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}

func (s *Store) MerchantByAddress(ctx context.Context, address string) (*models.Merchant, error) {
	var row MerchantRow
	err := s.db.WithContext(ctx).Where("wallet_address = ?", address).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", services.ErrUnknownMerchant, address)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return row.toModel(), nil
}

func (s *Store) Merchant(ctx context.Context, id string) (*models.Merchant, error) {
	var row MerchantRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", services.ErrUnknownMerchant, id)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return row.toModel(), nil
}

func (s *Store) Obligation(ctx context.Context, id string) (*models.Obligation, error) {
	var row ObligationRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", services.ErrObligationNotFound, id)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return row.toModel()
}

func (s *Store) PendingObligations(ctx context.Context, merchantID string, token models.Token) ([]models.Obligation, error) {
	var rows []ObligationRow
	err := s.db.WithContext(ctx).
		Where("merchant_id = ? AND token = ? AND status = ?", merchantID, token.String(), models.StatusPending.String()).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]models.Obligation, 0, len(rows))
	for i := range rows {
		o, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}

// WithinUnitOfWork runs fn in one database transaction.
func (s *Store) WithinUnitOfWork(ctx context.Context, fn func(uow services.UnitOfWork) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&unitOfWork{tx: tx})
	})
	if err == nil ||
		errors.Is(err, services.ErrAlreadySettled) ||
		errors.Is(err, services.ErrConcurrentClaim) ||
		errors.Is(err, services.ErrStoreUnavailable) {
		return err
	}
	return unavailable(err)
}

type unitOfWork struct {
	tx *gorm.DB
}

// InsertSettlement 依赖唯一索引去重，冲突时不写入
func (u *unitOfWork) InsertSettlement(ctx context.Context, rec *models.SettlementRecord) error {
	row := settlementRow(rec)
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	res := u.tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s -> %s", services.ErrAlreadySettled, rec.Signature, rec.ToAddress)
	}
	return nil
}

// MarkPaid 以 status='pending' 为条件更新，0 行即被其他实例抢先
func (u *unitOfWork) MarkPaid(ctx context.Context, obligationID string, p models.Payment) error {
	amount, paidAt := p.Amount, p.PaidAt
	res := u.tx.WithContext(ctx).Model(&ObligationRow{}).
		Where("id = ? AND status = ?", obligationID, models.StatusPending.String()).
		Updates(map[string]interface{}{
			"status":         models.StatusPaid.String(),
			"paid_amount":    &amount,
			"paid_token":     p.Token.String(),
			"payer_address":  p.PayerAddress,
			"paid_signature": p.Signature,
			"paid_at":        &paidAt,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", services.ErrConcurrentClaim, obligationID)
	}
	return nil
}

// SettlementsBySignature lists every leg recorded for an on-chain transaction.
func (s *Store) SettlementsBySignature(ctx context.Context, signature string) ([]models.SettlementRecord, error) {
	return s.findSettlements(ctx, "signature = ?", signature)
}

// SettlementsByObligation lists payments, fees and refunds linked to an obligation.
func (s *Store) SettlementsByObligation(ctx context.Context, obligationID string) ([]models.SettlementRecord, error) {
	return s.findSettlements(ctx, "obligation_id = ?", obligationID)
}

func (s *Store) findSettlements(ctx context.Context, query string, arg interface{}) ([]models.SettlementRecord, error) {
	var rows []SettlementRow
	if err := s.db.WithContext(ctx).Where(query, arg).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, unavailable(err)
	}
	out := make([]models.SettlementRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// LatestSettledSlot 获取结算表中最大的 slot
func (s *Store) LatestSettledSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	err := s.db.WithContext(ctx).Model(&SettlementRow{}).Select("COALESCE(MAX(slot), 0)").Scan(&slot).Error
	if err != nil {
		return 0, unavailable(err)
	}
	return slot, nil
}

// Ping 测试数据库连接
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable(err)
	}
	return unavailable(sqlDB.PingContext(ctx))
}

// SaveMerchant upserts a merchant; used by seeding and tests.
func (s *Store) SaveMerchant(ctx context.Context, m *models.Merchant) error {
	return unavailable(s.db.WithContext(ctx).Save(merchantRow(m)).Error)
}

// SaveObligation upserts an obligation; used by seeding and tests.
func (s *Store) SaveObligation(ctx context.Context, o *models.Obligation) error {
	return unavailable(s.db.WithContext(ctx).Save(obligationRow(o)).Error)
}

// Merchants 列出全部商户，按 id 排序
func (s *Store) Merchants(ctx context.Context) ([]models.Merchant, error) {
	var rows []MerchantRow
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, unavailable(err)
	}
	out := make([]models.Merchant, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toModel())
	}
	return out, nil
}
