package db

import (
	"time"

	"gorm.io/datatypes"

	"BlinkPay/internal/models"
)

// MerchantRow 商户表
type MerchantRow struct {
	ID            string `gorm:"primaryKey;size:64"`
	Name          string `gorm:"size:128"`
	WalletAddress string `gorm:"uniqueIndex;size:44"` // Solana 地址长度
	FeeRateBps    *int64 // 为空时使用平台默认费率
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (MerchantRow) TableName() string { return "merchants" }

// ObligationRow 发票 / 支付链接 / 收款请求，统一一张表，kind 区分
type ObligationRow struct {
	ID             string  `gorm:"primaryKey;size:64"`
	Kind           string  `gorm:"size:20;not null"`
	MerchantID     string  `gorm:"index:idx_obligation_open,priority:1;size:64;not null"`
	Token          string  `gorm:"index:idx_obligation_open,priority:2;size:10;not null"`
	Status         string  `gorm:"index:idx_obligation_open,priority:3;size:20;default:'pending'"` // "pending", "paid", "cancelled", "expired"
	Title          string  `gorm:"size:255"`
	Description    string  `gorm:"size:1024"`
	ExpectedAmount *uint64 // 最小单位；可变金额链接为空
	Memo           string  `gorm:"index;size:100"`

	PaidAmount    *uint64
	PaidToken     string `gorm:"size:10"`
	PayerAddress  string `gorm:"size:44"`
	PaidSignature string `gorm:"size:88"`
	PaidAt        *time.Time

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (ObligationRow) TableName() string { return "obligations" }

// SettlementRow 结算记录，只追加不修改
type SettlementRow struct {
	ID           string  `gorm:"primaryKey;size:36"`
	Signature    string  `gorm:"uniqueIndex:uniq_settlement_leg,priority:1;size:88;not null"`
	MerchantID   string  `gorm:"uniqueIndex:uniq_settlement_leg,priority:2;size:64;not null"`
	ToAddress    string  `gorm:"uniqueIndex:uniq_settlement_leg,priority:3;size:44;not null"`
	Token        string  `gorm:"uniqueIndex:uniq_settlement_leg,priority:4;size:10;not null"`
	ObligationID *string `gorm:"index;size:64"`
	Amount       uint64
	Direction    string `gorm:"size:10;not null"`
	MatchReason  string `gorm:"size:20"`
	FromAddress  string `gorm:"size:44"`
	Slot         uint64 `gorm:"index"`
	BlockTime    time.Time
	Raw          datatypes.JSON
	CreatedAt    time.Time
}

func (SettlementRow) TableName() string { return "settlements" }

// AllModels is the AutoMigrate set.
func AllModels() []interface{} {
	return []interface{}{&MerchantRow{}, &ObligationRow{}, &SettlementRow{}}
}

func (r *MerchantRow) toModel() *models.Merchant {
	return &models.Merchant{
		ID:            r.ID,
		Name:          r.Name,
		WalletAddress: r.WalletAddress,
		FeeRateBps:    r.FeeRateBps,
	}
}

func merchantRow(m *models.Merchant) *MerchantRow {
	return &MerchantRow{
		ID:            m.ID,
		Name:          m.Name,
		WalletAddress: m.WalletAddress,
		FeeRateBps:    m.FeeRateBps,
	}
}

func (r *ObligationRow) toModel() (*models.Obligation, error) {
	kind, err := models.ParseObligationKind(r.Kind)
	if err != nil {
		return nil, err
	}
	tok, err := models.ParseToken(r.Token)
	if err != nil {
		return nil, err
	}
	status, err := models.ParseObligationStatus(r.Status)
	if err != nil {
		return nil, err
	}

	o := &models.Obligation{
		ID:             r.ID,
		Kind:           kind,
		MerchantID:     r.MerchantID,
		Title:          r.Title,
		Description:    r.Description,
		ExpectedAmount: r.ExpectedAmount,
		Token:          tok,
		Memo:           r.Memo,
		Status:         status,
		CreatedAt:      r.CreatedAt,
	}
	if r.PaidAmount != nil {
		paidTok, _ := models.ParseToken(r.PaidToken)
		p := &models.Payment{
			Amount:       *r.PaidAmount,
			Token:        paidTok,
			PayerAddress: r.PayerAddress,
			Signature:    r.PaidSignature,
		}
		if r.PaidAt != nil {
			p.PaidAt = *r.PaidAt
		}
		o.Payment = p
	}
	return o, nil
}

func obligationRow(o *models.Obligation) *ObligationRow {
	r := &ObligationRow{
		ID:             o.ID,
		Kind:           o.Kind.String(),
		MerchantID:     o.MerchantID,
		Token:          o.Token.String(),
		Status:         o.Status.String(),
		Title:          o.Title,
		Description:    o.Description,
		ExpectedAmount: o.ExpectedAmount,
		Memo:           o.Memo,
		CreatedAt:      o.CreatedAt,
	}
	if p := o.Payment; p != nil {
		amount, paidAt := p.Amount, p.PaidAt
		r.PaidAmount = &amount
		r.PaidToken = p.Token.String()
		r.PayerAddress = p.PayerAddress
		r.PaidSignature = p.Signature
		r.PaidAt = &paidAt
	}
	return r
}

func (r *SettlementRow) toModel() (*models.SettlementRecord, error) {
	tok, err := models.ParseToken(r.Token)
	if err != nil {
		return nil, err
	}
	dir, err := models.ParseDirection(r.Direction)
	if err != nil {
		return nil, err
	}
	return &models.SettlementRecord{
		ID:           r.ID,
		Signature:    r.Signature,
		MerchantID:   r.MerchantID,
		ObligationID: r.ObligationID,
		Amount:       r.Amount,
		Token:        tok,
		Direction:    dir,
		MatchReason:  models.MatchReason(r.MatchReason),
		FromAddress:  r.FromAddress,
		ToAddress:    r.ToAddress,
		Slot:         r.Slot,
		BlockTime:    r.BlockTime,
		Raw:          []byte(r.Raw),
		CreatedAt:    r.CreatedAt,
	}, nil
}

func settlementRow(rec *models.SettlementRecord) *SettlementRow {
	row := &SettlementRow{
		ID:           rec.ID,
		Signature:    rec.Signature,
		MerchantID:   rec.MerchantID,
		ToAddress:    rec.ToAddress,
		Token:        rec.Token.String(),
		ObligationID: rec.ObligationID,
		Amount:       rec.Amount,
		Direction:    rec.Direction.String(),
		MatchReason:  string(rec.MatchReason),
		FromAddress:  rec.FromAddress,
		Slot:         rec.Slot,
		BlockTime:    rec.BlockTime,
		CreatedAt:    rec.CreatedAt,
	}
	if len(rec.Raw) > 0 {
		row.Raw = datatypes.JSON(rec.Raw)
	}
	return row
}
