package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"campaignstat/internal/config"
	"campaignstat/internal/errors"
	"campaignstat/internal/metrics"
	"campaignstat/internal/shutdown"
	"campaignstat/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contract = "0xdAC17F958D2ee523a2206206994597C13D831ec7"

// stubReports 记录调用参数并返回预设结果
type stubReports struct {
	err        error
	report     *models.CampaignReport
	lastFrom   time.Time
	lastTo     time.Time
	lastPages  int
	refresh    bool
	listFrom   time.Time
	listTo     time.Time
	campaigns  []*models.Campaign
	generateFn func(ctx context.Context) error
}

func (s *stubReports) GenerateForDates(ctx context.Context, c string, from, to time.Time, maxPages int) (*models.CampaignReport, error) {
	s.lastFrom, s.lastTo, s.lastPages = from, to, maxPages
	if s.generateFn != nil {
		if err := s.generateFn(ctx); err != nil {
			return nil, err
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.report, nil
}

func (s *stubReports) CampaignReport(_ context.Context, id string, refresh bool) (*models.CampaignReport, error) {
	s.refresh = refresh
	if s.err != nil {
		return nil, s.err
	}
	return s.report, nil
}

func (s *stubReports) Campaigns(context.Context) ([]*models.Campaign, error) {
	return s.campaigns, nil
}

func (s *stubReports) Report(id string) (*models.CampaignReport, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.report, nil
}

func (s *stubReports) Reports(c string, from, to time.Time) ([]*models.CampaignReport, error) {
	s.listFrom, s.listTo = from, to
	if s.err != nil {
		return nil, s.err
	}
	return []*models.CampaignReport{s.report}, nil
}

func (s *stubReports) Stats() map[string]interface{} {
	return map[string]interface{}{"reports": 1}
}

func sampleReport() *models.CampaignReport {
	pct := 50.0
	return &models.CampaignReport{
		ID: "r1",
		Campaign: models.CampaignInfo{
			Token: models.TokenInfo{ContractAddress: contract, Symbol: "USDT"},
		},
		Summary: models.WalletSummary{
			Name:           "Active Wallets",
			PreCampaign:    2,
			DuringCampaign: 3,
			ChangePercent:  &pct,
		},
		DailyData: []models.DailyDataPoint{},
	}
}

func newTestServer(t *testing.T, reports Reports) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	return NewServer(config.GetDefaultConfig(), reports, errors.NewErrorHandler(logger), metrics.New(), logger, 0)
}

func do(t *testing.T, s *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var resp map[string]interface{}
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

func TestHealthAndIndex(t *testing.T) {
	s := newTestServer(t, &stubReports{})

	w, resp := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", resp["status"])

	w, resp = do(t, s, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "campaignstat-api", resp["service"])
}

func TestCreateReport(t *testing.T) {
	stub := &stubReports{report: sampleReport()}
	s := newTestServer(t, stub)

	w, resp := do(t, s, http.MethodPost, "/api/v1/reports", gin.H{
		"contractAddress": contract,
		"fromDate":        "2024-04-11",
		"toDate":          "2024-04-13",
		"maxPages":        3,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	summary := resp["summary"].(map[string]interface{})
	assert.Equal(t, 50.0, summary["changePercent"])
	assert.Equal(t, time.Date(2024, 4, 11, 0, 0, 0, 0, time.UTC), stub.lastFrom)
	assert.Equal(t, time.Date(2024, 4, 13, 23, 59, 59, 0, time.UTC), stub.lastTo)
	assert.Equal(t, 3, stub.lastPages)
}

func TestCreateReport_RFC3339Dates(t *testing.T) {
	stub := &stubReports{report: sampleReport()}
	s := newTestServer(t, stub)

	w, _ := do(t, s, http.MethodPost, "/api/v1/reports", gin.H{
		"contractAddress": contract,
		"fromDate":        "2024-04-11T08:00:00+08:00",
		"toDate":          "2024-04-12T12:00:00Z",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2024, 4, 11, 0, 0, 0, 0, time.UTC), stub.lastFrom)
	assert.Equal(t, time.Date(2024, 4, 12, 12, 0, 0, 0, time.UTC), stub.lastTo)
}

func TestCreateReport_BadRequests(t *testing.T) {
	s := newTestServer(t, &stubReports{report: sampleReport()})

	tests := []struct {
		name string
		body gin.H
	}{
		{"missing fields", gin.H{"contractAddress": contract}},
		{"bad from date", gin.H{"contractAddress": contract, "fromDate": "11/04/2024", "toDate": "2024-04-13"}},
		{"bad to date", gin.H{"contractAddress": contract, "fromDate": "2024-04-11", "toDate": "tomorrow"}},
		{"negative pages", gin.H{"contractAddress": contract, "fromDate": "2024-04-11", "toDate": "2024-04-13", "maxPages": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := do(t, s, http.MethodPost, "/api/v1/reports", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid window", errors.NewInvalidWindow("起止颠倒", nil), http.StatusBadRequest},
		{"invalid address", errors.NewMetricsError(errors.ErrorTypeValidation, errors.SeverityLow, errors.CodeInvalidAddress, "地址无效"), http.StatusBadRequest},
		{"rejected", fmt.Errorf("拉取失败: %w", errors.NewUpstreamRejected("0", "Invalid API Key")), http.StatusBadGateway},
		{"unavailable", errors.NewUpstreamUnavailable("限流", nil), http.StatusServiceUnavailable},
		{"report not found", errors.ErrReportNotFound.Clone(), http.StatusNotFound},
		{"campaign not found", errors.ErrCampaignNotFound.Clone(), http.StatusNotFound},
		{"canceled", context.Canceled, http.StatusServiceUnavailable},
		{"storage", errors.NewMetricsError(errors.ErrorTypeStorage, errors.SeverityHigh, "REPORT_SAVE_FAILED", "保存失败"), http.StatusInternalServerError},
		{"plain", fmt.Errorf("unexpected"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &stubReports{err: tt.err})
			w, _ := do(t, s, http.MethodPost, "/api/v1/reports", gin.H{
				"contractAddress": contract, "fromDate": "2024-04-11", "toDate": "2024-04-13",
			})
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRejectedIncludesUpstreamDiagnostics(t *testing.T) {
	s := newTestServer(t, &stubReports{err: errors.NewUpstreamRejected("0", "Invalid API Key")})

	w, resp := do(t, s, http.MethodPost, "/api/v1/reports", gin.H{
		"contractAddress": contract, "fromDate": "2024-04-11", "toDate": "2024-04-13",
	})
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, errors.CodeUpstreamRejected, resp["code"])
	upstream := resp["upstream"].(map[string]interface{})
	assert.Equal(t, "Invalid API Key", upstream["message"])
}

func TestCampaignReport(t *testing.T) {
	stub := &stubReports{report: sampleReport()}
	s := newTestServer(t, stub)

	w, resp := do(t, s, http.MethodGet, "/api/v1/campaigns/spring/report?refresh=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "r1", resp["id"])
	assert.True(t, stub.refresh)

	stub.err = errors.ErrCampaignNotFound.Clone().WithContext("campaign", "nope")
	w, _ = do(t, s, http.MethodGet, "/api/v1/campaigns/nope/report", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListReports(t *testing.T) {
	stub := &stubReports{report: sampleReport()}
	s := newTestServer(t, stub)

	w, resp := do(t, s, http.MethodGet, "/api/v1/reports/"+contract+"?from_date=2024-04-01&to_date=2024-04-30", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, resp["total"])
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), stub.listFrom)
	assert.Equal(t, time.Date(2024, 4, 30, 23, 59, 59, 0, time.UTC), stub.listTo)

	w, _ = do(t, s, http.MethodGet, "/api/v1/reports/"+contract+"?from_date=bad", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetReport_NotFound(t *testing.T) {
	s := newTestServer(t, &stubReports{err: errors.ErrReportNotFound.Clone()})

	w, resp := do(t, s, http.MethodGet, "/api/v1/report/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "REPORT_NOT_FOUND", resp["code"])
}

func TestListCampaigns(t *testing.T) {
	s := newTestServer(t, &stubReports{campaigns: []*models.Campaign{{ID: "spring"}}})

	w, resp := do(t, s, http.MethodGet, "/api/v1/campaigns", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, resp["total"])
}

func TestDiagnostics(t *testing.T) {
	s := newTestServer(t, &stubReports{})
	s.logger.SetLevel(logrus.InfoLevel)
	s.logger.Info("第一条")
	s.logger.Warn("第二条")

	w, resp := do(t, s, http.MethodGet, "/api/v1/logs?level=warning", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, resp["total"])

	w, _ = do(t, s, http.MethodDelete, "/api/v1/logs", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp = do(t, s, http.MethodGet, "/api/v1/errors", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, resp, "total_errors")

	w, resp = do(t, s, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, resp, "storage")

	w, resp = do(t, s, http.MethodGet, "/api/v1/config", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, resp, "config")

	// 未配置数据库
	w, _ = do(t, s, http.MethodGet, "/api/v1/config/engine", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestShutdownRejectsNewComputations(t *testing.T) {
	stub := &stubReports{report: sampleReport()}
	s := newTestServer(t, stub)
	gs := shutdown.NewGracefulShutdown(time.Second, s.logger)
	s.SetShutdown(gs)

	w, _ := do(t, s, http.MethodGet, "/api/v1/campaigns/spring/report", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	gs.Shutdown()
	gs.Wait()

	w, _ = do(t, s, http.MethodPost, "/api/v1/reports", gin.H{
		"contractAddress": contract, "fromDate": "2024-04-11", "toDate": "2024-04-13",
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, resp := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "shutting_down", resp["status"])
}

func TestShutdownCancelsInFlightComputation(t *testing.T) {
	started := make(chan struct{})
	stub := &stubReports{
		report: sampleReport(),
		generateFn: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}
	s := newTestServer(t, stub)
	gs := shutdown.NewGracefulShutdown(time.Second, s.logger)
	gs.RegisterShutdownFunc("close", func(context.Context) error { return nil }, shutdown.OrderCloseConnections)
	s.SetShutdown(gs)

	result := make(chan int, 1)
	go func() {
		w, _ := do(t, s, http.MethodPost, "/api/v1/reports", gin.H{
			"contractAddress": contract, "fromDate": "2024-04-11", "toDate": "2024-04-13",
		})
		result <- w.Code
	}()

	<-started
	gs.Shutdown()

	select {
	case code := <-result:
		assert.Equal(t, http.StatusServiceUnavailable, code)
	case <-time.After(2 * time.Second):
		t.Fatal("计算未被取消")
	}
}

func TestLogManagerPagination(t *testing.T) {
	lm := NewLogManager(3)
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	logger.AddHook(NewLogHook(lm))

	for i := 0; i < 5; i++ {
		logger.WithError(fmt.Errorf("e%d", i)).Errorf("日志%d", i)
	}

	logs, total := lm.GetLogsWithPagination("", 1, 2)
	assert.Equal(t, 3, total)
	require.Len(t, logs, 2)
	assert.Equal(t, "日志4", logs[0].Message)
	assert.Equal(t, "e4", logs[0].Fields["error"])

	logs, _ = lm.GetLogsWithPagination("", 3, 2)
	assert.Empty(t, logs)
}
