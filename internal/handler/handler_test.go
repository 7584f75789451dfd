package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lock-points-system/internal/models"
	"lock-points-system/internal/service"
	"lock-points-system/pkg/errors"
)

const aliceHex = "0x1111111111111111111111111111111111111111"

type fakePoints struct {
	lastReq  service.ScoreLockRequest
	scoreErr error
	limit    int
}

func (f *fakePoints) ScoreLock(ctx context.Context, req service.ScoreLockRequest) (*service.ScoreLockResult, error) {
	f.lastReq = req
	if f.scoreErr != nil {
		return nil, f.scoreErr
	}
	return &service.ScoreLockResult{PointsEarned: 2500, UsdValue: 50, DurationInDays: 15}, nil
}

func (f *fakePoints) GetUserPoints(ctx context.Context, address string) (*models.UserPoints, error) {
	if address != aliceHex {
		return nil, errors.New(errors.ErrInvalidInput, "bad address", nil)
	}
	return &models.UserPoints{
		UserAddress: aliceHex,
		TotalPoints: 20010,
		UpdatedAt:   time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}, nil
}

func (f *fakePoints) ListUserLocks(ctx context.Context, address string) ([]models.LockPoints, error) {
	unlock := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return []models.LockPoints{
		{UserAddress: aliceHex, LockIndex: 0, TokenAmount: "100", PointsEarned: 20000, UnlockTime: &unlock},
		{UserAddress: aliceHex, LockIndex: 1, TokenAmount: "100", PointsEarned: 10},
	}, nil
}

func (f *fakePoints) Leaderboard(ctx context.Context, limit int) ([]models.UserPoints, error) {
	f.limit = limit
	return []models.UserPoints{
		{UserAddress: aliceHex, TotalPoints: 20010},
		{UserAddress: "0x2222222222222222222222222222222222222222", TotalPoints: 5},
	}, nil
}

type fakeBackfill struct {
	err error
}

func (f *fakeBackfill) Run(ctx context.Context, trigger models.RunTrigger) (service.Stats, error) {
	if f.err != nil {
		return service.Stats{}, f.err
	}
	return service.Stats{TotalUsers: 2, TotalEvents: 3, Processed: 3}, nil
}

func (f *fakeBackfill) Status() service.Status {
	return service.Status{State: service.StateIdle}
}

func (f *fakeBackfill) RecentRuns(ctx context.Context, limit int) ([]models.BackfillRun, error) {
	return []models.BackfillRun{{ID: 1, Trigger: models.RunTriggerManual, State: models.RunStateDone}}, nil
}

type fakeReconciler struct{}

func (fakeReconciler) Reconcile(ctx context.Context) ([]service.Correction, error) {
	return nil, nil
}

func newTestRouter(p *fakePoints, b *fakeBackfill, hub *Hub) http.Handler {
	return NewRouter(Handlers{
		Points:    NewPointsHandler(p),
		Backfill:  NewBackfillHandler(b),
		Reconcile: NewReconcileHandler(fakeReconciler{}),
		Hub:       hub,
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestCalculate(t *testing.T) {
	p := &fakePoints{}
	h := newTestRouter(p, &fakeBackfill{}, nil)

	body := `{"userAddress":"` + aliceHex + `","lockIndex":4,"tokenAddress":"` + aliceHex +
		`","tokenAmount":"50000000000000000000","tokenDecimals":18,"durationInSeconds":1296000}`
	rec, out := do(t, h, http.MethodPost, "/api/points/calculate", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, 2500.0, out["pointsEarned"])
	assert.Equal(t, 15.0, out["durationInDays"])
	assert.Equal(t, uint64(4), p.lastReq.LockIndex)
	assert.Equal(t, "50000000000000000000", p.lastReq.TokenAmount.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCalculateErrors(t *testing.T) {
	p := &fakePoints{}
	h := newTestRouter(p, &fakeBackfill{}, nil)

	rec, out := do(t, h, http.MethodPost, "/api/points/calculate", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["error"], "invalid request body")

	p.scoreErr = errors.New(errors.ErrInvalidInput, "用户地址无效", nil)
	rec, _ = do(t, h, http.MethodPost, "/api/points/calculate", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	p.scoreErr = errors.New(errors.ErrStore, "保存锁仓积分失败", stderrors.New("db down"))
	rec, out = do(t, h, http.MethodPost, "/api/points/calculate", `{}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, out["error"], "db down")
}

func TestPreflight(t *testing.T) {
	h := newTestRouter(&fakePoints{}, &fakeBackfill{}, nil)

	rec, _ := do(t, h, http.MethodOptions, "/api/points/calculate", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "apikey")
	assert.Empty(t, rec.Body.String())
}

func TestBackfillTrigger(t *testing.T) {
	b := &fakeBackfill{}
	h := newTestRouter(&fakePoints{}, b, nil)

	rec, out := do(t, h, http.MethodPost, "/api/backfill", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	stats := out["stats"].(map[string]interface{})
	assert.Equal(t, 3.0, stats["processed"])

	b.err = errors.New(errors.ErrBackfillRunning, "回填任务正在执行", nil)
	rec, _ = do(t, h, http.MethodPost, "/api/backfill", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	b.err = errors.New(errors.ErrChainUnavailable, "扫描锁仓事件失败", stderrors.New("dial tcp"))
	rec, out = do(t, h, http.MethodPost, "/api/backfill", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, out["error"], "CHAIN_UNAVAILABLE")
}

func TestReadEndpoints(t *testing.T) {
	p := &fakePoints{}
	h := newTestRouter(p, &fakeBackfill{}, nil)

	rec, out := do(t, h, http.MethodGet, "/api/points/"+aliceHex, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20010.0, out["totalPoints"])
	assert.Equal(t, "2025-01-02T03:04:05Z", out["updatedAt"])

	rec, _ = do(t, h, http.MethodGet, "/api/points/nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/points/"+aliceHex+"/locks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var locks []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &locks))
	require.Len(t, locks, 2)
	assert.Equal(t, "2025-06-01T00:00:00Z", locks[0]["unlockTime"])
	assert.NotContains(t, locks[1], "unlockTime")

	rec, _ = do(t, h, http.MethodGet, "/api/leaderboard?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, p.limit)
	var board []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &board))
	require.Len(t, board, 2)
	assert.Equal(t, 1.0, board[0]["rank"])

	rec, out = do(t, h, http.MethodGet, "/api/backfill/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", out["state"])

	rec, _ = do(t, h, http.MethodGet, "/api/backfill/runs", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, out = do(t, h, http.MethodPost, "/api/reconcile", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, out["corrected"])

	rec, out = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", out["status"])

	rec, _ = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebSocketReceivesPointsUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(newTestRouter(&fakePoints{}, &fakeBackfill{}, hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.NotifyPoints(service.PointsUpdate{
		Type:         service.PointsUpdatedType,
		UserAddress:  aliceHex,
		LockIndex:    2,
		PointsEarned: 10,
		TotalPoints:  20010,
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got service.PointsUpdate
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, service.PointsUpdatedType, got.Type)
	assert.Equal(t, aliceHex, got.UserAddress)
	assert.Equal(t, uint64(2), got.LockIndex)
	assert.Equal(t, 20010.0, got.TotalPoints)
}
