package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"campaignstat/internal/errors"
	"campaignstat/internal/explorer"
	"campaignstat/internal/metrics"
	"campaignstat/internal/retry"
	"campaignstat/pkg/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	contract = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
	addrA    = "0x000000000000000000000000000000000000000a"
	addrB    = "0x000000000000000000000000000000000000000b"
	addrC    = "0x000000000000000000000000000000000000000c"
)

var (
	preFrom    = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	duringFrom = time.Date(2024, 4, 11, 0, 0, 0, 0, time.UTC)
	duringTo   = time.Date(2024, 4, 13, 23, 59, 59, 0, time.UTC)
)

// fakeExplorer Etherscan兼容的假服务：12秒一个区块，创世时间为活动前窗口开始
type fakeExplorer struct {
	mu          sync.Mutex
	prePages    [][]models.RawTransfer
	duringPages [][]models.RawTransfer
	duringError string
	tokentx     map[string]int
	seq         int
}

func newFakeExplorer() *fakeExplorer {
	return &fakeExplorer{tokentx: make(map[string]int)}
}

func (f *fakeExplorer) transfer(from, to string, ts time.Time, value string) models.RawTransfer {
	f.seq++
	return models.RawTransfer{
		BlockNumber:  strconv.FormatInt(int64(ts.Sub(preFrom)/time.Second/12), 10),
		TimeStamp:    strconv.FormatInt(ts.Unix(), 10),
		Hash:         fmt.Sprintf("0x%064x", f.seq),
		From:         from,
		To:           to,
		Value:        value,
		TokenName:    "Tether USD",
		TokenSymbol:  "USDT",
		TokenDecimal: "6",
	}
}

func (f *fakeExplorer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	w.Header().Set("Content-Type", "application/json")

	switch q.Get("action") {
	case "getblocknobytime":
		ts, _ := strconv.ParseInt(q.Get("timestamp"), 10, 64)
		secs := ts - preFrom.Unix()
		block := secs / 12
		if q.Get("closest") == "after" && secs%12 != 0 {
			block++
		}
		writeEnvelope(w, "1", "OK", strconv.FormatInt(block, 10))

	case "tokentx":
		window := "during"
		if q.Get("startblock") == "0" {
			window = "pre"
		}
		page, _ := strconv.Atoi(q.Get("page"))

		f.mu.Lock()
		f.tokentx[window]++
		pages := f.duringPages
		if window == "pre" {
			pages = f.prePages
		}
		failure := f.duringError
		f.mu.Unlock()

		if window == "during" && failure != "" {
			writeEnvelope(w, "0", "NOTOK", failure)
			return
		}
		if page-1 < len(pages) {
			writeEnvelope(w, "1", "OK", pages[page-1])
			return
		}
		writeEnvelope(w, "0", "No transactions found", []interface{}{})

	default:
		writeEnvelope(w, "0", "NOTOK", "Error! Missing Or invalid Action name")
	}
}

func (f *fakeExplorer) calls(window string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokentx[window]
}

func writeEnvelope(w http.ResponseWriter, status, message string, result interface{}) {
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  status,
		"message": message,
		"result":  result,
	})
}

// scenario 活动前1页1笔(A→B)，活动期间2页各2笔(A→B, B→C | A→C, C→A)
func scenario() *fakeExplorer {
	f := newFakeExplorer()
	f.prePages = [][]models.RawTransfer{
		{f.transfer(addrA, addrB, preFrom.Add(30*time.Hour), "1000000")},
	}
	f.duringPages = [][]models.RawTransfer{
		{
			f.transfer(addrA, addrB, duringFrom.Add(1*time.Hour), "2000000"),
			f.transfer(addrB, addrC, duringFrom.Add(2*time.Hour), "500000"),
		},
		{
			f.transfer(addrA, addrC, duringFrom.Add(50*time.Hour), "250000"),
			f.transfer(addrC, addrA, duringFrom.Add(51*time.Hour), "250000"),
		},
	}
	return f
}

func newEngine(t *testing.T, f *fakeExplorer, opts Options) (*Engine, *metrics.Metrics, *errors.ErrorHandler) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	m := metrics.New()
	handler := errors.NewErrorHandler(logger)
	client := explorer.NewClient(explorer.Config{BaseURL: srv.URL, APIKey: "k", Timeout: 2 * time.Second, PageSize: 2}, logger, m)

	opts.Retry = &retry.RetryConfig{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, BackoffFactor: 1}
	return NewWithClient(client, opts, logger, m, handler), m, handler
}

func duringRequest(t *testing.T, e *Engine, maxPages int) Request {
	t.Helper()
	req, err := e.RequestFromDates(contract, duringFrom, duringTo, maxPages)
	require.NoError(t, err)
	return req
}

func TestCompute_Scenario(t *testing.T) {
	e, m, _ := newEngine(t, scenario(), DefaultOptions())

	// 活动前窗口与活动期间等长，紧邻其前，起点恰为创世时间
	req, err := e.RequestFromDates(contract, duringFrom, duringTo, 10)
	require.NoError(t, err)
	req.Ranges.PreCampaign.From = preFrom

	rep, err := e.Compute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Summary.PreCampaign)
	assert.Equal(t, 3, rep.Summary.DuringCampaign)
	require.NotNil(t, rep.Summary.ChangePercent)
	assert.InDelta(t, 50.0, *rep.Summary.ChangePercent, 1e-9)
	assert.False(t, rep.Summary.ChangeUnbounded)
	assert.False(t, rep.Summary.Approximate)

	dc := rep.DataCollection
	assert.False(t, dc.Truncated)
	assert.Equal(t, 10, dc.MaxPages)
	assert.Equal(t, models.TransactionsAnalyzed{PreCampaign: 1, DuringCampaign: 4, Total: 5}, dc.TransactionsAnalyzed)
	assert.Equal(t, models.WindowPair{PreCampaign: 1, DuringCampaign: 2}, dc.PagesFetched)

	assert.Equal(t, []models.DailyDataPoint{
		{Date: "2024-04-11", Count: 2},
		{Date: "2024-04-12", Count: 0},
		{Date: "2024-04-13", Count: 2},
	}, rep.DailyData)
	assert.Nil(t, rep.PreCampaignDailyData)

	assert.Equal(t, "USDT", rep.Campaign.Token.Symbol)
	assert.Equal(t, 6, rep.Campaign.Token.Decimals)
	assert.Equal(t, contract, rep.Campaign.Token.ContractAddress)
	assert.Equal(t, "1", rep.Metrics.TransactionVolume.PreCampaign)
	assert.Equal(t, "3", rep.Metrics.TransactionVolume.DuringCampaign)
	// B在活动前已是接收方
	assert.Equal(t, 2, rep.Metrics.NewTokenHolders.Value)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReportsTotal.WithLabelValues("success")))
}

func TestCompute_TruncatedScenario(t *testing.T) {
	f := scenario()
	e, m, _ := newEngine(t, f, DefaultOptions())

	req := duringRequest(t, e, 1)
	req.Ranges.PreCampaign.From = preFrom

	rep, err := e.Compute(context.Background(), req)
	require.NoError(t, err)

	// 第一页 A→B、B→C 涉及三个地址
	assert.Equal(t, 3, rep.Summary.DuringCampaign)
	assert.Equal(t, 2, rep.Summary.PreCampaign)
	assert.True(t, rep.DataCollection.Truncated)
	// 活动前窗口不满一页，已取完
	assert.Equal(t, []string{"duringCampaign"}, rep.DataCollection.TruncatedWindows)
	assert.Equal(t, 1, f.calls("pre"))
	assert.Equal(t, 2, rep.DataCollection.TransactionsAnalyzed.DuringCampaign)
	assert.Equal(t, 1, rep.DataCollection.PagesFetched.DuringCampaign)
	assert.Equal(t, 1, f.calls("during"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReportsTotal.WithLabelValues("truncated")))
}

func TestCompute_PreDailyAndApproximate(t *testing.T) {
	opts := DefaultOptions()
	opts.IncludePreDaily = true
	opts.ExactDedupLimit = 1
	e, _, _ := newEngine(t, scenario(), opts)

	req := duringRequest(t, e, 10)
	req.Ranges.PreCampaign.From = preFrom

	rep, err := e.Compute(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, rep.Summary.Approximate)
	assert.Equal(t, 3, rep.Summary.DuringCampaign)
	require.NotEmpty(t, rep.PreCampaignDailyData)
	assert.Equal(t, "2024-04-01", rep.PreCampaignDailyData[0].Date)

	total := 0
	for _, p := range rep.PreCampaignDailyData {
		total += p.Count
	}
	assert.Equal(t, 1, total)
}

func TestCompute_StrictValidationOption(t *testing.T) {
	for _, strict := range []bool{false, true} {
		f := scenario()
		f.duringPages[1][1].Value = "abc"

		opts := DefaultOptions()
		opts.StrictValidation = strict
		e, _, _ := newEngine(t, f, opts)

		req := duringRequest(t, e, 10)
		req.Ranges.PreCampaign.From = preFrom

		rep, err := e.Compute(context.Background(), req)
		require.NoError(t, err)

		dc := rep.DataCollection
		if strict {
			// 严格模式下数量无法解析的记录被隔离
			assert.Equal(t, 1, dc.Quarantined.DuringCampaign)
			assert.Equal(t, 3, dc.TransactionsAnalyzed.DuringCampaign)
		} else {
			assert.Equal(t, 0, dc.Quarantined.DuringCampaign)
			assert.Equal(t, 4, dc.TransactionsAnalyzed.DuringCampaign)
		}
		assert.Equal(t, 2, dc.PagesFetched.DuringCampaign)
	}
}

func TestCompute_UpstreamRejectedFailsFast(t *testing.T) {
	f := scenario()
	f.duringError = "Invalid API Key"
	e, m, handler := newEngine(t, f, DefaultOptions())

	req := duringRequest(t, e, 10)
	req.Ranges.PreCampaign.From = preFrom

	rep, err := e.Compute(context.Background(), req)
	require.Error(t, err)
	assert.Nil(t, rep)

	me, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeUpstreamRejected, me.Type)
	assert.Contains(t, me.UpstreamMessage, "Invalid API Key")
	assert.Equal(t, 1, f.calls("during"))

	assert.Equal(t, 1, handler.GetStats().ErrorsByType[errors.ErrorTypeUpstreamRejected.String()])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReportsTotal.WithLabelValues("error")))
}

func TestCompute_InvalidWindow(t *testing.T) {
	e, _, _ := newEngine(t, scenario(), DefaultOptions())

	_, err := e.RequestFromDates(contract, duringTo, duringFrom, 10)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidWindow))

	_, err = e.Compute(context.Background(), Request{
		ContractAddress: contract,
		Ranges: models.CampaignRanges{
			PreCampaign:    models.TimeRange{From: preFrom, To: duringFrom.Add(time.Hour)},
			DuringCampaign: models.TimeRange{From: duringFrom, To: duringTo},
		},
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidWindow))
}

func TestCompute_InvalidContract(t *testing.T) {
	e, _, _ := newEngine(t, scenario(), DefaultOptions())

	req := duringRequest(t, e, 10)
	req.ContractAddress = "not-an-address"

	_, err := e.Compute(context.Background(), req)
	me, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeInvalidAddress, me.Code)
}

func TestCompute_DefaultMaxPages(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxPages = 1
	e, _, _ := newEngine(t, scenario(), opts)

	req := duringRequest(t, e, 0)
	req.Ranges.PreCampaign.From = preFrom

	rep, err := e.Compute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.DataCollection.MaxPages)
	assert.True(t, rep.DataCollection.Truncated)
}

func TestCompute_ConcurrentRequests(t *testing.T) {
	e, _, _ := newEngine(t, scenario(), DefaultOptions())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := e.RequestFromDates(contract, duringFrom, duringTo, 10)
			if err != nil {
				errs <- err
				return
			}
			req.Ranges.PreCampaign.From = preFrom
			rep, err := e.Compute(context.Background(), req)
			if err != nil {
				errs <- err
				return
			}
			if rep.Summary.DuringCampaign != 3 {
				errs <- fmt.Errorf("unexpected during count %d", rep.Summary.DuringCampaign)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestRequestFromCampaign(t *testing.T) {
	c := &models.Campaign{
		ID:              "spring",
		ContractAddress: contract,
		Ranges: models.CampaignRanges{
			PreCampaign:    models.TimeRange{From: preFrom, To: duringFrom.Add(-time.Second)},
			DuringCampaign: models.TimeRange{From: duringFrom, To: duringTo},
		},
	}

	req := RequestFromCampaign(c, 5)
	assert.Equal(t, "spring", req.CampaignID)
	assert.Equal(t, 5, req.MaxPages)
	assert.Equal(t, c.Ranges, req.Ranges)
}
