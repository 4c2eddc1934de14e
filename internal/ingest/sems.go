package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/semsmon/semsmon/internal/httputil"
	"github.com/semsmon/semsmon/internal/metrics"
)

// VendorClient is the narrow surface of the SEMS portal this subsystem
// consumes. Session management beyond the token header lives with the
// vendor client, not here.
type VendorClient interface {
	GetPowerChart(ctx context.Context, plantID, date string) (json.RawMessage, error)
	GetPowerflow(ctx context.Context, plantID string) (json.RawMessage, error)
	GetWeather(ctx context.Context, plantID string) (json.RawMessage, error)
}

var crossLoginURLs = []string{
	"https://www.semsportal.com/api/v1/Common/CrossLogin",
	"https://www.semsportal.com/api/v2/Common/CrossLogin",
	"https://www.semsportal.com/api/v3/Common/CrossLogin",
}

const (
	semsClientKind = "web"
	semsVersion    = "v2.1.0"
	semsLanguage   = "en"
)

// SEMS talks to the GoodWe SEMS portal. Login yields a uid/token pair and a
// region-specific API base; every data call carries them in a JSON Token
// header.
type SEMS struct {
	account  string
	password string
	client   *http.Client

	mu      sync.Mutex
	auth    *semsAuth
	baseURL string
}

type semsAuth struct {
	UID       string `json:"uid"`
	Token     string `json:"token"`
	Timestamp int64  `json:"timestamp"`
}

func NewSEMS(account, password string) *SEMS {
	return &SEMS{
		account:  account,
		password: password,
		client:   httputil.NewClient(),
	}
}

func (s *SEMS) tokenHeader(auth *semsAuth) string {
	payload := map[string]string{
		"client":   semsClientKind,
		"version":  semsVersion,
		"language": semsLanguage,
	}
	if auth != nil {
		payload["uid"] = auth.UID
		payload["token"] = auth.Token
		payload["timestamp"] = fmt.Sprintf("%d", auth.Timestamp)
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

type crossLoginResponse struct {
	Code     json.Number `json:"code"`
	HasError bool        `json:"hasError"`
	API      string      `json:"api"`
	Data     *semsAuth   `json:"data"`
}

// login walks the CrossLogin endpoints until one yields a token and an API
// base. Called lazily and again when the portal invalidates the session.
func (s *SEMS) login(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{"account": s.account, "pwd": s.password})

	var lastErr error
	for _, url := range crossLoginURLs {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Token", s.tokenHeader(nil))

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("crosslogin: status %d", resp.StatusCode)
			continue
		}

		var cl crossLoginResponse
		if err := json.Unmarshal(raw, &cl); err != nil {
			lastErr = fmt.Errorf("crosslogin: %w", err)
			continue
		}
		if cl.Data == nil || cl.Data.UID == "" || cl.Data.Token == "" || cl.API == "" {
			lastErr = fmt.Errorf("crosslogin: missing token or api base (code %s)", cl.Code)
			continue
		}

		s.auth = cl.Data
		s.baseURL = cl.API
		if !strings.HasSuffix(s.baseURL, "/") {
			s.baseURL += "/"
		}
		return nil
	}
	return fmt.Errorf("crosslogin failed: %w", lastErr)
}

type semsEnvelope struct {
	Code json.Number `json:"code"`
	Msg  string      `json:"msg"`
}

// sessionExpired reports whether the portal rejected the token. The portal is
// inconsistent about codes, so the message text is checked as well.
func sessionExpired(env semsEnvelope) bool {
	code := env.Code.String()
	if code == "100001" || code == "100002" {
		return true
	}
	return strings.Contains(strings.ToLower(env.Msg), "log in")
}

// post sends an authenticated JSON call, retrying transient failures with
// exponential backoff and re-logging-in once on an expired token.
func (s *SEMS) post(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.auth == nil {
		if err := s.login(ctx); err != nil {
			metrics.SEMSAPICallsTotal.WithLabelValues(endpoint, "login_error").Inc()
			return nil, err
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	var raw []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Token", s.tokenHeader(s.auth))

		resp, err := s.client.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("post %s: %w", endpoint, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			return fmt.Errorf("rate limited: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("post %s: status %d: %s", endpoint, resp.StatusCode, string(b)))
		}

		raw, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		metrics.SEMSAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}
	metrics.SEMSAPILatency.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())

	var env semsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.SEMSAPICallsTotal.WithLabelValues(endpoint, "bad_json").Inc()
		return nil, fmt.Errorf("unmarshal %s: %w", endpoint, err)
	}
	if sessionExpired(env) {
		// Session invalidated: log in again and replay once.
		if err := s.login(ctx); err != nil {
			return nil, err
		}
		if err := operation(); err != nil {
			metrics.SEMSAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
			return nil, err
		}
		env = semsEnvelope{}
		if err := json.Unmarshal(raw, &env); err != nil {
			metrics.SEMSAPICallsTotal.WithLabelValues(endpoint, "bad_json").Inc()
			return nil, fmt.Errorf("unmarshal %s: %w", endpoint, err)
		}
		if sessionExpired(env) {
			metrics.SEMSAPICallsTotal.WithLabelValues(endpoint, "auth_error").Inc()
			return nil, fmt.Errorf("post %s: session rejected after relogin (code %s)", endpoint, env.Code)
		}
	}

	metrics.SEMSAPICallsTotal.WithLabelValues(endpoint, "ok").Inc()
	return raw, nil
}

func (s *SEMS) GetPowerChart(ctx context.Context, plantID, date string) (json.RawMessage, error) {
	return s.post(ctx, "v2/Charts/GetPlantPowerChart", map[string]any{
		"id":          plantID,
		"date":        date,
		"full_script": true,
	})
}

func (s *SEMS) GetPowerflow(ctx context.Context, plantID string) (json.RawMessage, error) {
	return s.post(ctx, "v2/PowerStation/GetPowerflow", map[string]any{
		"PowerStationId": plantID,
	})
}

func (s *SEMS) GetWeather(ctx context.Context, plantID string) (json.RawMessage, error) {
	return s.post(ctx, "v3/PowerStation/GetWeather", map[string]any{
		"powerStationId": plantID,
	})
}
