package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"lock-points-system/internal/models"
	"lock-points-system/internal/service"
	"lock-points-system/pkg/errors"
	"lock-points-system/pkg/logger"
)

// PointsAPI *service.PointsService 满足此接口
type PointsAPI interface {
	ScoreLock(ctx context.Context, req service.ScoreLockRequest) (*service.ScoreLockResult, error)
	GetUserPoints(ctx context.Context, address string) (*models.UserPoints, error)
	ListUserLocks(ctx context.Context, address string) ([]models.LockPoints, error)
	Leaderboard(ctx context.Context, limit int) ([]models.UserPoints, error)
}

// BackfillAPI *service.BackfillService 满足此接口
type BackfillAPI interface {
	Run(ctx context.Context, trigger models.RunTrigger) (service.Stats, error)
	Status() service.Status
	RecentRuns(ctx context.Context, limit int) ([]models.BackfillRun, error)
}

// Reconciler *service.RecoveryService 满足此接口
type Reconciler interface {
	Reconcile(ctx context.Context) ([]service.Correction, error)
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// statusFor 按错误码映射 HTTP 状态码
func statusFor(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrInvalidInput:
		return http.StatusBadRequest
	case errors.ErrBackfillRunning:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type PointsHandler struct {
	pointsSvc PointsAPI
}

func NewPointsHandler(pointsSvc PointsAPI) *PointsHandler {
	return &PointsHandler{pointsSvc: pointsSvc}
}

// Calculate 单笔锁仓计分，前端在锁仓交易确认后调用
func (h *PointsHandler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req service.ScoreLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.pointsSvc.ScoreLock(r.Context(), req)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"user_address": req.UserAddress,
			"lock_index":   req.LockIndex,
			"error":        err,
		}).Error("单笔锁仓计分失败")
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"pointsEarned":   res.PointsEarned,
		"usdValue":       res.UsdValue,
		"durationInDays": res.DurationInDays,
	})
}

func (h *PointsHandler) GetPoints(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	points, err := h.pointsSvc.GetUserPoints(r.Context(), address)
	if err != nil {
		writeError(w, statusFor(err), "failed to get points: "+err.Error())
		return
	}

	var updatedAt interface{}
	if !points.UpdatedAt.IsZero() {
		updatedAt = points.UpdatedAt.Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":     points.UserAddress,
		"totalPoints": points.TotalPoints,
		"updatedAt":   updatedAt,
	})
}

func (h *PointsHandler) ListLocks(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	locks, err := h.pointsSvc.ListUserLocks(r.Context(), address)
	if err != nil {
		writeError(w, statusFor(err), "failed to list locks: "+err.Error())
		return
	}

	items := make([]map[string]interface{}, 0, len(locks))
	for _, l := range locks {
		item := map[string]interface{}{
			"lockIndex":         l.LockIndex,
			"tokenAddress":      l.TokenAddress,
			"tokenSymbol":       l.TokenSymbol,
			"tokenAmount":       l.TokenAmount,
			"tokenDecimals":     l.TokenDecimals,
			"lockDurationDays":  l.LockDurationDays,
			"durationEstimated": l.DurationEstimated,
			"usdValue":          l.UsdValue,
			"pointsEarned":      l.PointsEarned,
			"createdAt":         l.CreatedAt.Format(time.RFC3339),
		}
		if l.UnlockTime != nil {
			item["unlockTime"] = l.UnlockTime.Format(time.RFC3339)
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, items)
}

func (h *PointsHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	top, err := h.pointsSvc.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, statusFor(err), "failed to get leaderboard: "+err.Error())
		return
	}

	items := make([]map[string]interface{}, 0, len(top))
	for i, p := range top {
		items = append(items, map[string]interface{}{
			"rank":        i + 1,
			"address":     p.UserAddress,
			"totalPoints": p.TotalPoints,
		})
	}

	writeJSON(w, http.StatusOK, items)
}

type BackfillHandler struct {
	backfillSvc BackfillAPI
}

func NewBackfillHandler(backfillSvc BackfillAPI) *BackfillHandler {
	return &BackfillHandler{backfillSvc: backfillSvc}
}

// Trigger 同步执行一次回填并返回统计
// 客户端断开不会中断回填
func (h *BackfillHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())

	stats, err := h.backfillSvc.Run(ctx, models.RunTriggerManual)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Backfill completed",
		"stats":   stats,
	})
}

func (h *BackfillHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.backfillSvc.Status())
}

func (h *BackfillHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 10
	}

	runs, err := h.backfillSvc.RecentRuns(r.Context(), limit)
	if err != nil {
		writeError(w, statusFor(err), "failed to list runs: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, runs)
}

type ReconcileHandler struct {
	recovery Reconciler
}

func NewReconcileHandler(recovery Reconciler) *ReconcileHandler {
	return &ReconcileHandler{recovery: recovery}
}

func (h *ReconcileHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	corrections, err := h.recovery.Reconcile(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if corrections == nil {
		corrections = []service.Correction{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"corrected":   len(corrections),
		"corrections": corrections,
	})
}

func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
