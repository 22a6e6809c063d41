package reporting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"roadhazard/api"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T, reportStatus int, got chan<- api.ReportArgs) *httptest.Server {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET(api.HealthEndpoint, func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.POST(api.ReportEndpoint, func(c *gin.Context) {
		var args api.ReportArgs
		if err := c.BindJSON(&args); err != nil {
			return
		}
		if got != nil {
			got <- args
		}
		if reportStatus != http.StatusOK {
			c.String(reportStatus, "rejected")
			return
		}
		c.JSON(http.StatusOK, api.ReportResponse{Seq: 7})
	})
	r.POST(api.NearbyEndpoint, func(c *gin.Context) {
		c.JSON(http.StatusOK, api.NearbyResponse{Reports: []api.CachedReport{
			{Seq: 1, Id: "a", Type: api.HazardPothole, Severity: api.SeverityHigh, Latitude: 1, Longitude: 2},
		}})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestCreateReport(t *testing.T) {
	got := make(chan api.ReportArgs, 1)
	srv := newBackend(t, http.StatusOK, got)

	photo := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(photo, []byte{0xFF, 0xD8, 0xFF}, 0o600))

	c := NewClient(srv.URL+"/", Options{Timeout: time.Second})
	resp, err := c.CreateReport(context.Background(), api.ReportArgs{
		Id:       "r1",
		Type:     api.HazardPothole,
		Severity: api.SeverityMedium,
		Address:  "Main St",
		PhotoURI: "file://" + photo,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, resp.Seq)

	sent := <-got
	assert.Equal(t, api.Version, sent.Version)
	assert.Equal(t, "r1", sent.Id)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, sent.Image)
}

func TestCreateReportErrors(t *testing.T) {
	testCases := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"Validation rejection", http.StatusBadRequest, false},
		{"Auth rejection", http.StatusUnauthorized, false},
		{"Throttled", http.StatusTooManyRequests, true},
		{"Server error", http.StatusInternalServerError, true},
		{"Bad gateway", http.StatusBadGateway, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newBackend(t, tc.status, nil)
			c := NewClient(srv.URL, Options{})
			_, err := c.CreateReport(context.Background(), api.ReportArgs{Id: "r1", Severity: api.SeverityLow})
			require.Error(t, err)

			var re *RemoteError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tc.status, re.StatusCode)
			assert.Equal(t, tc.retryable, IsRetryable(err))
		})
	}
}

func TestCreateReportNetworkError(t *testing.T) {
	srv := newBackend(t, http.StatusOK, nil)
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, Options{Timeout: time.Second}).CreateReport(context.Background(), api.ReportArgs{Id: "r1"})
	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
	assert.True(t, IsRetryable(err))
}

func TestCreateReportMissingPhoto(t *testing.T) {
	srv := newBackend(t, http.StatusOK, nil)
	_, err := NewClient(srv.URL, Options{}).CreateReport(context.Background(), api.ReportArgs{
		Id:       "r1",
		PhotoURI: filepath.Join(t.TempDir(), "gone.jpg"),
	})
	assert.ErrorIs(t, err, ErrPhotoUnreadable)
	assert.False(t, IsRetryable(err))
}

func TestGetNearbyAndHealth(t *testing.T) {
	srv := newBackend(t, http.StatusOK, nil)
	c := NewClient(srv.URL, Options{RatePerSecond: 100, Burst: 2})

	reports, err := c.GetNearby(context.Background(), api.NearbyArgs{VPort: api.ViewPort{LatMin: 0, LonMin: 0, LatMax: 2, LonMax: 3}})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, api.HazardPothole, reports[0].Type)

	assert.NoError(t, c.Health(context.Background()))
	assert.Equal(t, srv.URL+api.HealthEndpoint, c.HealthURL())
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("unknown")))
	assert.False(t, IsRetryable(fmt.Errorf("wrapped: %w", &RemoteError{StatusCode: http.StatusUnprocessableEntity})))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", &RemoteError{StatusCode: http.StatusServiceUnavailable})))
}
