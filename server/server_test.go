package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadhazard/api"
	"roadhazard/kvstore"
	"roadhazard/metrics"
	"roadhazard/netstatus"
	"roadhazard/offline"
	"roadhazard/reporting"
)

type fakeClient struct {
	mu     sync.Mutex
	err    error
	nearby []api.CachedReport
}

func (f *fakeClient) CreateReport(ctx context.Context, args api.ReportArgs) (*api.ReportResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &api.ReportResponse{Seq: 42}, nil
}

func (f *fakeClient) GetNearby(ctx context.Context, args api.NearbyArgs) ([]api.CachedReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nearby, nil
}

var (
	offlineState = netstatus.State{Connected: false}
	onlineState  = netstatus.State{Connected: true, InternetReachable: netstatus.Reachable(true)}
)

func setUp(t *testing.T, initial netstatus.State, client *fakeClient) (*Server, *offline.Service, *netstatus.Manual) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	provider := netstatus.NewManual(initial)
	svc := offline.NewService(offline.ServiceConfig{
		Store:   kvstore.NewMemStore(),
		Monitor: netstatus.NewMonitor(provider),
		Client:  client,
	})
	return New(svc), svc, provider
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHelpAndStatus(t *testing.T) {
	s, _, _ := setUp(t, offlineState, &fakeClient{})
	router := s.Router()

	w := do(t, router, http.MethodGet, api.HelpEndpoint, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/sync_now")

	w = do(t, router, http.MethodGet, api.StatusEndpoint, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st api.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, api.StatusResponse{}, st)
}

func TestSubmitReportEndpoint(t *testing.T) {
	s, svc, _ := setUp(t, offlineState, &fakeClient{})
	router := s.Router()

	w := do(t, router, http.MethodPost, api.SubmitReportEndpoint, api.SubmitReportArgs{
		Id:       "r1",
		Type:     api.HazardFlooding,
		Severity: api.SeverityHigh,
		Address:  "River Rd",
		Location: &api.Point{Lat: 1, Lon: 2},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp api.SubmitReportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, api.SubmitReportResponse{Id: "r1", Queued: true}, resp)
	assert.Equal(t, 1, svc.PendingCount())

	w = do(t, router, http.MethodGet, api.PendingReportsEndpoint, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending []offline.PendingReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, "River Rd", pending[0].Address)

	w = do(t, router, http.MethodPost, api.SubmitReportEndpoint, api.SubmitReportArgs{Severity: "apocalyptic"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, api.SubmitReportEndpoint, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitReportOnline(t *testing.T) {
	client := &fakeClient{}
	s, _, _ := setUp(t, onlineState, client)
	router := s.Router()

	w := do(t, router, http.MethodPost, api.SubmitReportEndpoint, api.SubmitReportArgs{Severity: api.SeverityLow})
	require.Equal(t, http.StatusOK, w.Code)
	var resp api.SubmitReportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Queued)
	assert.Equal(t, 42, resp.Seq)

	client.err = &reporting.RemoteError{Op: "create report", StatusCode: 400, Body: "address required"}
	w = do(t, router, http.MethodPost, api.SubmitReportEndpoint, api.SubmitReportArgs{Severity: api.SeverityLow})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "address required", w.Body.String())
}

func TestSubmitReportPhotoUnreadable(t *testing.T) {
	client := &fakeClient{err: fmt.Errorf("%w: open /tmp/p.jpg: no such file", reporting.ErrPhotoUnreadable)}
	s, svc, _ := setUp(t, onlineState, client)

	w := do(t, s.Router(), http.MethodPost, api.SubmitReportEndpoint, api.SubmitReportArgs{Severity: api.SeverityLow})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "photo unreadable")
	assert.Zero(t, svc.PendingCount())
}

func TestSyncNowEndpoint(t *testing.T) {
	s, svc, provider := setUp(t, offlineState, &fakeClient{})
	router := s.Router()
	require.NoError(t, svc.Reports().SavePendingReport(context.Background(), offline.PendingReport{
		ID: "r1", Severity: api.SeverityMedium, SavedAt: 1,
	}))

	w := do(t, router, http.MethodPost, api.SyncNowEndpoint, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	provider.Set(onlineState)
	w = do(t, router, http.MethodPost, api.SyncNowEndpoint, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp api.SyncNowResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, api.SyncNowResponse{Synced: 1, PendingCount: 0}, resp)

	w = do(t, router, http.MethodGet, api.StatusEndpoint, nil)
	var st api.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.Online)
	assert.NotZero(t, st.LastSync)
}

func TestFailedItemsEndpoints(t *testing.T) {
	client := &fakeClient{err: &reporting.RemoteError{Op: "create report", StatusCode: 403}}
	s, svc, _ := setUp(t, onlineState, client)
	router := s.Router()
	ctx := context.Background()
	require.NoError(t, svc.Reports().SavePendingReport(ctx, offline.PendingReport{ID: "r1", Severity: api.SeverityLow, SavedAt: 1}))
	_, err := svc.SyncNow(ctx)
	require.NoError(t, err)

	w := do(t, router, http.MethodGet, api.FailedItemsEndpoint, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var failed []offline.SyncQueueItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failed))
	require.Len(t, failed, 1)
	assert.True(t, failed[0].Rejected)

	w = do(t, router, http.MethodPost, api.RetryFailedEndpoint, api.ItemArgs{Id: "r1"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, svc.PendingCount())

	w = do(t, router, http.MethodPost, api.AbandonEndpoint, api.ItemArgs{Id: "r1"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, router, http.MethodPost, api.AbandonEndpoint, api.ItemArgs{Id: "r1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, router, http.MethodPost, api.RetryFailedEndpoint, api.ItemArgs{Id: "r1"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodGet, api.FailedItemsEndpoint, nil)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestNearbyEndpoint(t *testing.T) {
	client := &fakeClient{nearby: []api.CachedReport{{Seq: 3, Id: "a", Severity: api.SeverityHigh, Latitude: 52.5, Longitude: 13.4}}}
	s, _, _ := setUp(t, onlineState, client)
	router := s.Router()

	w := do(t, router, http.MethodPost, api.NearbyLocalEndpoint, api.NearbyArgs{
		VPort: api.ViewPort{LatMin: 52.4, LonMin: 13.2, LatMax: 52.6, LonMax: 13.6},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Live     bool `json:"live"`
		Stale    bool `json:"stale"`
		Features struct {
			Type     string `json:"type"`
			Features []struct {
				ID       string                 `json:"id"`
				Geometry map[string]interface{} `json:"geometry"`
			} `json:"features"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Live)
	assert.Equal(t, "FeatureCollection", resp.Features.Type)
	require.Len(t, resp.Features.Features, 1)
	assert.Equal(t, "a", resp.Features.Features[0].ID)
	assert.Equal(t, "Point", resp.Features.Features[0].Geometry["type"])
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.Register()
	s, _, _ := setUp(t, offlineState, &fakeClient{})
	w := do(t, s.Router(), http.MethodGet, api.MetricsEndpoint, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "roadhazard_offline_pending_items")
}

func TestStatusStream(t *testing.T) {
	s, svc, provider := setUp(t, offlineState, &fakeClient{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Hub().Run(ctx)
	unsubscribe := svc.Subscribe(s.Hub().BroadcastStatus)
	defer unsubscribe()

	ts := httptest.NewServer(s.Router())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + api.StatusStreamEndpoint
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()
	provider.Set(netstatus.State{Connected: true})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg StatusMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "status", msg.Type)
		if msg.Data.Online {
			break
		}
	}
}
