package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/crypto"
	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/gate"
	"github.com/alanyoungcy/scalpcore/internal/hub"
)

// Snapshot is the read-only bundle handed to the decision oracle.
type Snapshot struct {
	Setup   domain.Setup   `json:"setup"`
	Tick    hub.TickView   `json:"tick"`
	Candles hub.CandleView `json:"candles"`
	Flow    *hub.FlowView  `json:"order_flow,omitempty"`
	Gate    gate.Result    `json:"gate"`
	At      time.Time      `json:"at"`
}

// Verdict is the oracle's answer. Direction, Stop and Target are optional
// hints; zero values fall back to the setup's own.
type Verdict struct {
	Approved   bool             `json:"approved"`
	Direction  domain.Direction `json:"direction,omitempty"`
	Entry      float64          `json:"entry,omitempty"`
	Stop       float64          `json:"stop,omitempty"`
	Target     float64          `json:"target,omitempty"`
	SizeTier   int              `json:"size_tier"`
	Confidence float64          `json:"confidence"`
	Reason     string           `json:"reason,omitempty"`
}

// DecisionOracle approves or rejects a setup. Implementations may be slow
// or unavailable; callers bound them with a context deadline.
type DecisionOracle interface {
	Decide(ctx context.Context, snap Snapshot) (Verdict, error)
}

// OracleFunc adapts a function to DecisionOracle.
type OracleFunc func(ctx context.Context, snap Snapshot) (Verdict, error)

// Decide calls f.
func (f OracleFunc) Decide(ctx context.Context, snap Snapshot) (Verdict, error) {
	return f(ctx, snap)
}

// HTTPOracle posts the snapshot as JSON to an external decision service and
// decodes a Verdict from the response body.
type HTTPOracle struct {
	url    string
	token  string
	signer *crypto.HMACAuth
	client *http.Client
}

// NewHTTPOracle creates an HTTPOracle. The client timeout is a backstop; the
// manager's per-call deadline normally fires first.
func NewHTTPOracle(url, token string, timeout time.Duration) *HTTPOracle {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPOracle{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

// WithSigner makes every request carry HMAC signature headers over the
// snapshot body.
func (o *HTTPOracle) WithSigner(auth *crypto.HMACAuth) *HTTPOracle {
	o.signer = auth
	return o
}

// Decide implements DecisionOracle.
func (o *HTTPOracle) Decide(ctx context.Context, snap Snapshot) (Verdict, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return Verdict{}, fmt.Errorf("oracle: marshal snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("oracle: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}
	if o.signer != nil {
		for k, v := range o.signer.Headers(req.Method, req.URL.Path, body) {
			req.Header.Set(k, v)
		}
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("oracle: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Verdict{}, fmt.Errorf("oracle: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var v Verdict
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&v); err != nil {
		return Verdict{}, fmt.Errorf("oracle: decode verdict: %w", err)
	}
	return v, nil
}

var _ DecisionOracle = (*HTTPOracle)(nil)
