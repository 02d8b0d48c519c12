package service

import (
	"log"
	"time"

	"github.com/qs3c/rnaseq_go_server/config"
	"github.com/qs3c/rnaseq_go_server/internal/model"
	"github.com/qs3c/rnaseq_go_server/internal/repository"
)

type CreditService struct {
	userRepo *repository.UserRepository
	cfg      *config.Config
}

func NewCreditService(userRepo *repository.UserRepository, cfg *config.Config) *CreditService {
	return &CreditService{userRepo: userRepo, cfg: cfg}
}

// GetBalance 查询用户当前积分余额
func (s *CreditService) GetBalance(userID int64) (int, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return 0, err
	}
	return user.CreditBalance, nil
}

// ListTransactions 查询积分流水，最多返回 limit 条
func (s *CreditService) ListTransactions(userID int64, limit int) ([]*model.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.userRepo.ListTransactions(userID, limit)
}

// CostFor 查询指定分析类型的积分消耗
func (s *CreditService) CostFor(analysisType string) int {
	return s.cfg.Credits.Costs[analysisType]
}

// DailyGrant 给超过 24 小时未领取的用户发放每日积分，由定时任务调用
func (s *CreditService) DailyGrant() (int, error) {
	amount := s.cfg.Credits.DailyGrant
	if amount <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	ids, err := s.userRepo.ListUsersForDailyGrant(cutoff)
	if err != nil {
		return 0, err
	}

	granted := 0
	now := time.Now()
	for _, id := range ids {
		if err := s.userRepo.AddCredits(id, amount, model.CreditTxnGrant, nil, "每日积分发放"); err != nil {
			log.Printf("Daily grant failed for user %d: %v", id, err)
			continue
		}
		if err := s.userRepo.MarkGranted(id, now); err != nil {
			log.Printf("Daily grant mark failed for user %d: %v", id, err)
			continue
		}
		granted++
	}
	return granted, nil
}
