package job

import (
	"context"
	"log"
	"time"

	"creditsync/internal/config"
)

// StaleSyncer 重新同步长时间未同步的用户
type StaleSyncer interface {
	SyncStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// StaleSyncJob 定时把长时间未同步的用户与远端对齐，默认关闭，客户端轮询是主要同步途径
type StaleSyncJob struct {
	syncer    StaleSyncer
	stopCh    chan struct{}
	interval  time.Duration
	olderThan time.Duration
	batchSize int
}

func NewStaleSyncJob(syncer StaleSyncer, cfg *config.Config) *StaleSyncJob {
	interval := cfg.Business.StaleSyncInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	olderThan := cfg.Business.StaleSyncAge
	if olderThan <= 0 {
		olderThan = time.Hour
	}
	return &StaleSyncJob{
		syncer:    syncer,
		stopCh:    make(chan struct{}),
		interval:  interval,
		olderThan: olderThan,
		batchSize: 100,
	}
}

func (j *StaleSyncJob) Start(ctx context.Context) {
	log.Println("[StaleSyncJob] 定时同步任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[StaleSyncJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[StaleSyncJob] 任务停止")
			return
		case <-ticker.C:
			j.syncStaleUsers(ctx)
		}
	}
}

func (j *StaleSyncJob) Stop() {
	close(j.stopCh)
}

func (j *StaleSyncJob) syncStaleUsers(ctx context.Context) {
	synced, err := j.syncer.SyncStale(ctx, j.olderThan, j.batchSize)
	if err != nil {
		log.Printf("[StaleSyncJob] 定时同步失败: %v", err)
		return
	}
	if synced > 0 {
		log.Printf("[StaleSyncJob] 本次同步 %d 个用户", synced)
	}
}
