package service

import (
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/codecrow/codecrow-server/config"
	"github.com/codecrow/codecrow-server/internal/repository"
)

// LockService 分析互斥锁管理器。同一 (repository, branch) 同时只能有
// 一个持有者，获取即插入，冲突即失败。
type LockService struct {
	lockRepo   *repository.LockRepository
	staleAfter time.Duration
}

func NewLockService(lockRepo *repository.LockRepository, cfg *config.Config) *LockService {
	return &LockService{
		lockRepo:   lockRepo,
		staleAfter: cfg.Lock.StaleAfter(),
	}
}

// TryAcquire 尝试获取锁。失败时如果现有锁已过期，先回收再重试一次。
// 获取失败不是错误：调用方把任务转入 WAITING 或 SKIPPED。
func (s *LockService) TryAcquire(repositoryKey, branch, holder string) (bool, error) {
	ok, err := s.lockRepo.TryInsert(repositoryKey, branch, holder)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	// 锁被占用：检查是否过期可回收
	existing, err := s.lockRepo.Get(repositoryKey, branch)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			// 持有者刚好释放了，再试一次
			return s.lockRepo.TryInsert(repositoryKey, branch, holder)
		}
		return false, err
	}

	if !existing.IsStale(s.staleAfter) {
		return false, nil
	}

	// 按主键删除过期锁，避免误删别人刚续上的新锁；之后只重试一次
	reclaimed, err := s.lockRepo.DeleteStale(existing.ID, time.Now().Add(-s.staleAfter))
	if err != nil {
		return false, err
	}
	if reclaimed {
		log.Printf("Reclaimed stale lock on %s@%s (held by %s since %s)",
			repositoryKey, branch, existing.Holder, existing.LockedAt.Format(time.RFC3339))
	}
	return s.lockRepo.TryInsert(repositoryKey, branch, holder)
}

// Release 释放锁。锁不存在或已被回收都不算错误：崩溃的 worker 不能把
// 分支锁死，释放必须幂等。
func (s *LockService) Release(repositoryKey, branch string) error {
	return s.lockRepo.Delete(repositoryKey, branch)
}

// IsHeld 返回锁是否被持有及持有开始时间
func (s *LockService) IsHeld(repositoryKey, branch string) (bool, time.Time, error) {
	lock, err := s.lockRepo.Get(repositoryKey, branch)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, err
	}
	return true, lock.LockedAt, nil
}
