package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"lock-points-system/internal/models"
	"lock-points-system/internal/service"
	"lock-points-system/pkg/errors"
	"lock-points-system/pkg/logger"
)

// BackfillRunner *service.BackfillService 满足此接口
type BackfillRunner interface {
	Run(ctx context.Context, trigger models.RunTrigger) (service.Stats, error)
}

type PointsScheduler struct {
	cron     *cron.Cron
	runner   BackfillRunner
	cronExpr string
}

func NewPointsScheduler(runner BackfillRunner, cronExpr string) *PointsScheduler {
	return &PointsScheduler{
		cron:     cron.New(cron.WithSeconds()),
		runner:   runner,
		cronExpr: cronExpr,
	}
}

// Start 按 cron 表达式定时回填，表达式为空时不启用
func (s *PointsScheduler) Start() error {
	if s.cronExpr == "" {
		logger.Info("定时回填未启用")
		return nil
	}

	_, err := s.cron.AddFunc(s.cronExpr, s.runBackfill)
	if err != nil {
		return err
	}

	s.cron.Start()
	logger.WithFields(map[string]interface{}{
		"cron": s.cronExpr,
	}).Info("定时回填已启动")
	return nil
}

func (s *PointsScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("定时回填已停止")
}

func (s *PointsScheduler) runBackfill() {
	stats, err := s.runner.Run(context.Background(), models.RunTriggerCron)
	if err != nil {
		if errors.HasCode(err, errors.ErrBackfillRunning) {
			logger.Warn("上一次回填尚未结束，跳过本次定时任务")
			return
		}
		logger.Error("定时回填失败:", err)
		return
	}

	logger.WithFields(map[string]interface{}{
		"processed": stats.Processed,
		"skipped":   stats.Skipped,
		"errors":    stats.Errors,
	}).Info("定时回填完成")
}
