package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/rnaseq_go_server/internal/model"
)

// ErrInsufficientCredits 积分不足
var ErrInsufficientCredits = errors.New("积分不足")

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(user *model.User) error {
	return r.db.Create(user).Error
}

func (r *UserRepository) GetByID(id int64) (*model.User, error) {
	var user model.User
	err := r.db.Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(email string) (*model.User, error) {
	var user model.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByUsername(username string) (*model.User, error) {
	var user model.User
	err := r.db.Where("username = ?", username).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByGithubID(githubID string) (*model.User, error) {
	var user model.User
	err := r.db.Where("github_id = ?", githubID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByVerificationCode(code string) (*model.User, error) {
	var user model.User
	err := r.db.Where("verification_code = ?", code).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) ExistsByEmail(email string) (bool, error) {
	var count int64
	err := r.db.Model(&model.User{}).Where("email = ?", email).Count(&count).Error
	return count > 0, err
}

func (r *UserRepository) ExistsByUsername(username string) (bool, error) {
	var count int64
	err := r.db.Model(&model.User{}).Where("username = ?", username).Count(&count).Error
	return count > 0, err
}

func (r *UserRepository) Update(user *model.User) error {
	return r.db.Save(user).Error
}

func (r *UserRepository) UpdateFields(id int64, fields map[string]interface{}) error {
	return r.db.Model(&model.User{}).Where("id = ?", id).Updates(fields).Error
}

// ChargeCredits 事务内扣除积分并写入流水；余额不足返回 ErrInsufficientCredits
func (r *UserRepository) ChargeCredits(userID int64, amount int, jobID *int64, reason string) error {
	if amount <= 0 {
		return nil
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		var user model.User
		if err := tx.Set("gorm:query_option", "FOR UPDATE").
			Where("id = ?", userID).First(&user).Error; err != nil {
			return err
		}
		if user.CreditBalance < amount {
			return ErrInsufficientCredits
		}
		newBalance := user.CreditBalance - amount
		if err := tx.Model(&model.User{}).Where("id = ?", userID).
			Update("credit_balance", newBalance).Error; err != nil {
			return err
		}
		return tx.Create(&model.CreditTransaction{
			UserID:       userID,
			JobID:        jobID,
			Type:         model.CreditTxnCharge,
			Amount:       -amount,
			BalanceAfter: newBalance,
			Reason:       reason,
		}).Error
	})
}

// AddCredits 事务内入账（退款或赠送）并写入流水
func (r *UserRepository) AddCredits(userID int64, amount int, txnType string, jobID *int64, reason string) error {
	if amount <= 0 {
		return nil
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		var user model.User
		if err := tx.Set("gorm:query_option", "FOR UPDATE").
			Where("id = ?", userID).First(&user).Error; err != nil {
			return err
		}
		newBalance := user.CreditBalance + amount
		if err := tx.Model(&model.User{}).Where("id = ?", userID).
			Update("credit_balance", newBalance).Error; err != nil {
			return err
		}
		return tx.Create(&model.CreditTransaction{
			UserID:       userID,
			JobID:        jobID,
			Type:         txnType,
			Amount:       amount,
			BalanceAfter: newBalance,
			Reason:       reason,
		}).Error
	})
}

// ListUsersForDailyGrant 返回超过 24 小时未领取每日积分的用户 ID
func (r *UserRepository) ListUsersForDailyGrant(cutoff time.Time) ([]int64, error) {
	var ids []int64
	err := r.db.Model(&model.User{}).
		Where("last_grant_at IS NULL OR last_grant_at < ?", cutoff).
		Pluck("id", &ids).Error
	return ids, err
}

// MarkGranted 更新用户的最近赠送时间
func (r *UserRepository) MarkGranted(id int64, at time.Time) error {
	return r.db.Model(&model.User{}).Where("id = ?", id).
		Update("last_grant_at", at).Error
}

// ListTransactions 查询用户积分流水
func (r *UserRepository) ListTransactions(userID int64, limit int) ([]*model.CreditTransaction, error) {
	var txns []*model.CreditTransaction
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}
