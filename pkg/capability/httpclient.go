package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/kase1111-hash/mediator-node/pkg/apierr"
	"github.com/kase1111-hash/mediator-node/pkg/guard"
	"github.com/kase1111-hash/mediator-node/pkg/logx"
	"github.com/kase1111-hash/mediator-node/pkg/model"
	"github.com/kase1111-hash/mediator-node/pkg/retry"
)

// HTTPClient is the out-of-core collaborator of spec.md §6: a generic
// HTTP/JSON endpoint implementing the Embedder/Negotiator/Validator/
// Detector quartet plus Paraphraser. Grounded on pkg/chainclient's
// do()/retry idiom, generalized from the chain's typed endpoints to this
// endpoint's capability calls; every call carries an explicit timeout and a
// token cap per spec.md §5. Embed and Negotiate run their free-form inputs
// through pkg/guard first; Detect only wraps its text in delimiters, and
// Validate and Paraphrase send their inputs unchecked.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	retryCfg   retry.Config
	guard      *guard.Guard
	tokenCap   int
	logger     *log.Logger
}

// NewHTTPClient constructs a capability client bound to an external
// collaborator endpoint.
func NewHTTPClient(baseURL string, timeout time.Duration, tokenCap int, g *guard.Guard) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		retryCfg:   retry.Default(),
		guard:      g,
		tokenCap:   tokenCap,
		logger:     logx.New("CapabilityClient"),
	}
}

func (c *HTTPClient) call(ctx context.Context, path string, body any, out any) error {
	return retry.Do(ctx, c.retryCfg, isRetryableCapabilityCall, func() error {
		raw, err := json.Marshal(body)
		if err != nil {
			return apierr.Validation("encode capability request body", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
		if err != nil {
			return apierr.Remote("build capability request", err, false)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Token-Cap", fmt.Sprintf("%d", c.tokenCap))

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return apierr.Remote(fmt.Sprintf("capability call %s failed", path), err, true)
		}
		defer resp.Body.Close()
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return apierr.Remote("read capability response body", err, true)
		}
		if resp.StatusCode >= 500 {
			return apierr.Remote(fmt.Sprintf("capability call %s returned %d: %s", path, resp.StatusCode, respBody), nil, true)
		}
		if resp.StatusCode >= 400 {
			return apierr.Remote(fmt.Sprintf("capability call %s returned %d: %s", path, resp.StatusCode, respBody), nil, false)
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			// A malformed capability response is a non-retryable
			// RemoteError; Negotiate, Validate and Detect substitute their
			// typed fallback on it, Embed and Paraphrase return it.
			return apierr.Remote(fmt.Sprintf("decode capability response from %s", path), err, false)
		}
		return nil
	})
}

func isRetryableCapabilityCall(err error) bool {
	var ae *apierr.Error
	if as, ok := err.(*apierr.Error); ok {
		ae = as
	}
	return ae != nil && ae.Kind == apierr.KindRemote && ae.Retryable
}

// Embed implements Embedder.
func (c *HTTPClient) Embed(ctx context.Context, prose string) ([]float32, error) {
	sanitized, err := c.guard.Check("embed", prose)
	if err != nil {
		return nil, err
	}
	var out struct {
		Vector []float32 `json:"vector"`
	}
	if err := c.call(ctx, "/embed", map[string]string{"prose": guard.WrapDelimited("PROSE", sanitized)}, &out); err != nil {
		return nil, err
	}
	return out.Vector, nil
}

// Negotiate implements Negotiator.
func (c *HTTPClient) Negotiate(ctx context.Context, a, b model.Intent) (NegotiationVerdict, error) {
	proseA, err := c.guard.Check(a.Author, a.Prose)
	if err != nil {
		return NegotiationVerdict{}, err
	}
	proseB, err := c.guard.Check(b.Author, b.Prose)
	if err != nil {
		return NegotiationVerdict{}, err
	}

	var out NegotiationVerdict
	body := map[string]string{
		"intentA": guard.WrapDelimited("INTENT_A", proseA),
		"intentB": guard.WrapDelimited("INTENT_B", proseB),
	}
	if err := c.call(ctx, "/negotiate", body, &out); err != nil {
		c.logger.Printf("Negotiate: falling back to non-aligning verdict after error: %v", err)
		return NegotiationVerdict{Success: false, Reasoning: "capability call failed"}, nil
	}
	return out, nil
}

// Validate implements Validator. A decode failure produces the all-zero
// fallback tagged validation_error/low_confidence rather than an error,
// per spec.md §4.8.
func (c *HTTPClient) Validate(ctx context.Context, segment model.Segment, signals []model.Signal) (model.ValidationScores, error) {
	var out model.ValidationScores
	body := map[string]any{"segment": segment, "signals": signals}
	if err := c.call(ctx, "/validate", body, &out); err != nil {
		c.logger.Printf("Validate: falling back to zero scores after error: %v", err)
		return model.FallbackScores(), nil
	}
	return out, nil
}

// Detect implements Detector.
func (c *HTTPClient) Detect(ctx context.Context, settlement model.ProposedSettlement, a, b model.Intent) (DetectionVerdict, error) {
	var out DetectionVerdict
	body := map[string]any{
		"settlement": settlement,
		"intentA":    guard.WrapDelimited("INTENT_A", a.Prose),
		"intentB":    guard.WrapDelimited("INTENT_B", b.Prose),
	}
	if err := c.call(ctx, "/detect", body, &out); err != nil {
		c.logger.Printf("Detect: falling back to no-contradiction verdict after error: %v", err)
		return DetectionVerdict{Contradicts: false, Severity: SeverityLow, Reasoning: "capability call failed"}, nil
	}
	return out, nil
}

// Paraphrase implements Paraphraser.
func (c *HTTPClient) Paraphrase(ctx context.Context, settlement model.ProposedSettlement) (ParaphraseResult, error) {
	var out ParaphraseResult
	if err := c.call(ctx, "/paraphrase", map[string]any{"settlement": settlement}, &out); err != nil {
		return ParaphraseResult{}, err
	}
	return out, nil
}
