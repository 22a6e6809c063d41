// Package reporting is the HTTP client for the remote reporting backend.
package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"roadhazard/api"

	"github.com/apex/log"
	"golang.org/x/time/rate"
)

const (
	contentType        = "application/json"
	defaultTimeout     = 30 * time.Second
	maxErrorBodyLength = 512
)

type Options struct {
	Timeout time.Duration
	// RatePerSecond throttles outgoing calls; zero disables throttling.
	RatePerSecond float64
	Burst         int
}

type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

func (c *Client) HealthURL() string {
	return c.baseURL + api.HealthEndpoint
}

// CreateReport uploads one report. The photo at args.PhotoURI, if any, is
// read from disk and sent inline.
func (c *Client) CreateReport(ctx context.Context, args api.ReportArgs) (*api.ReportResponse, error) {
	args.Version = api.Version
	if args.PhotoURI != "" && len(args.Image) == 0 {
		image, err := readPhoto(args.PhotoURI)
		if err != nil {
			return nil, err
		}
		args.Image = image
	}

	var resp api.ReportResponse
	if err := c.post(ctx, "create report", api.ReportEndpoint, args, &resp); err != nil {
		return nil, err
	}
	log.WithField("id", args.Id).Infof("Report accepted by backend, seq %d", resp.Seq)
	return &resp, nil
}

func (c *Client) GetNearby(ctx context.Context, args api.NearbyArgs) ([]api.CachedReport, error) {
	args.Version = api.Version
	var resp api.NearbyResponse
	if err := c.post(ctx, "get nearby", api.NearbyEndpoint, args, &resp); err != nil {
		return nil, err
	}
	return resp.Reports, nil
}

func (c *Client) Health(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.HealthURL(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: "health", Err: err}
	}
	defer resp.Body.Close()
	return checkStatus("health", resp)
}

func (c *Client) post(ctx context.Context, op, endpoint string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: new request: %w", op, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// The request may have been applied; treat like a lost ack.
		return &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLength))
	return &RemoteError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

func readPhoto(uri string) ([]byte, error) {
	path := strings.TrimPrefix(uri, "file://")
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPhotoUnreadable, err)
	}
	return b, nil
}
