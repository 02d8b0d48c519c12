package model

import (
	"time"
)

// 积分流水类型
const (
	CreditTxnCharge = "charge"
	CreditTxnRefund = "refund"
	CreditTxnGrant  = "grant"
)

// CreditTransaction 积分流水，每次扣费/退款/赠送一条，只追加
type CreditTransaction struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	UserID       int64     `gorm:"not null;index" json:"user_id"`
	JobID        *int64    `gorm:"index" json:"job_id,omitempty"`
	Type         string    `gorm:"size:20;not null" json:"type"` // charge, refund, grant
	Amount       int       `gorm:"not null" json:"amount"`       // 正数为入账，负数为扣费
	BalanceAfter int       `gorm:"not null" json:"balance_after"`
	Reason       string    `gorm:"size:200" json:"reason,omitempty"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transactions"
}
