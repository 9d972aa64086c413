// Package chainclient is a typed HTTP/JSON client for the external chain
// service (§6): fetching intents, posting settlements, burns, deposit
// events, challenges, spam proofs and outcomes, and reading the consensus
// inbox. Grounded on the teacher's chain execution
// strategy interface (a narrow, pluggable contract per external chain) and
// main.go's HTTP client setup, generalized to a single generic HTTP/JSON
// endpoint instead of a multi-platform anchor strategy.
package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kase1111-hash/mediator-node/pkg/apierr"
	"github.com/kase1111-hash/mediator-node/pkg/identity"
	"github.com/kase1111-hash/mediator-node/pkg/logx"
	"github.com/kase1111-hash/mediator-node/pkg/model"
	"github.com/kase1111-hash/mediator-node/pkg/retry"
)

// AuthDecorator allows an operator to layer additional auth (e.g. a bearer
// token) onto every outbound request without touching call sites — see the
// chain-auth Open Question decision in SPEC_FULL.md §5.
type AuthDecorator func(*http.Request)

// Client talks to the external chain service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *identity.Signer
	auth       AuthDecorator
	retryCfg   retry.Config
	logger     *log.Logger
}

// New constructs a chain client bound to the given base URL and signer.
func New(baseURL string, timeout time.Duration, signer *identity.Signer) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		signer:     signer,
		retryCfg:   retry.Default(),
		logger:     logx.New("ChainClient"),
	}
}

// SetAuthDecorator installs an optional request decorator.
func (c *Client) SetAuthDecorator(fn AuthDecorator) { c.auth = fn }

// envelope is the `{entry, signature}` body every POST endpoint expects.
type envelope struct {
	Entry     any    `json:"entry"`
	Signature string `json:"signature"`
}

func (c *Client) sign(entry any) (*envelope, error) {
	sig, err := c.signer.SignEntry(entry)
	if err != nil {
		return nil, apierr.Validation("failed to sign chain entry", err)
	}
	return &envelope{Entry: entry, Signature: sig}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	return retry.Do(ctx, c.retryCfg, isRetryableHTTP, func() error {
		var reader io.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			if err != nil {
				return apierr.Validation("encode request body", err)
			}
			reader = bytes.NewReader(raw)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return apierr.Remote("build request", err, false)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.auth != nil {
			c.auth(req)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return apierr.Remote(fmt.Sprintf("%s %s failed", method, path), err, true)
		}
		defer resp.Body.Close()
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return apierr.Remote("read response body", err, true)
		}
		if resp.StatusCode >= 500 {
			return apierr.Remote(fmt.Sprintf("%s %s returned %d: %s", method, path, resp.StatusCode, respBody), nil, true)
		}
		if resp.StatusCode >= 400 {
			return apierr.Remote(fmt.Sprintf("%s %s returned %d: %s", method, path, resp.StatusCode, respBody), nil, false)
		}
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return apierr.Remote("decode response body", err, false)
			}
		}
		return nil
	})
}

func isRetryableHTTP(err error) bool {
	kind, ok := apierr.KindOf(err)
	if !ok {
		return true
	}
	if kind != apierr.KindRemote {
		return false
	}
	var ae *apierr.Error
	if as, ok := err.(*apierr.Error); ok {
		ae = as
	}
	return ae != nil && ae.Retryable
}

// PendingIntents pulls open intents from the chain.
func (c *Client) PendingIntents(ctx context.Context) ([]model.Intent, error) {
	var resp struct {
		Intents []model.Intent `json:"intents"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/intents?status=pending", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Intents, nil
}

// Intent fetches a single intent by hash.
func (c *Client) Intent(ctx context.Context, hash string) (*model.Intent, error) {
	var intent model.Intent
	if err := c.do(ctx, http.MethodGet, "/api/v1/intents/"+hash, nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// RecentSettlements returns up to limit recently posted settlements, used
// by the challenge detector to scan other mediators' output.
func (c *Client) RecentSettlements(ctx context.Context, limit int) ([]model.ProposedSettlement, error) {
	var resp struct {
		Settlements []model.ProposedSettlement `json:"settlements"`
	}
	path := fmt.Sprintf("/api/v1/settlements/recent?limit=%d", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Settlements, nil
}

// SubmitSettlement posts a signed settlement and returns its chain tx id.
func (c *Client) SubmitSettlement(ctx context.Context, s *model.ProposedSettlement) (string, error) {
	env, err := c.sign(s)
	if err != nil {
		return "", err
	}
	var resp struct {
		Accepted bool   `json:"accepted"`
		TxID     string `json:"txId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/settlements", env, &resp); err != nil {
		return "", err
	}
	if !resp.Accepted {
		return "", apierr.Conflict("chain rejected settlement submission", nil)
	}
	return resp.TxID, nil
}

// RecordBurn posts a burn record.
func (c *Client) RecordBurn(ctx context.Context, b *model.BurnRecord) (string, error) {
	env, err := c.sign(b)
	if err != nil {
		return "", err
	}
	var resp struct {
		Success       bool   `json:"success"`
		TransactionID string `json:"transactionId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/burns", env, &resp); err != nil {
		return "", err
	}
	return resp.TransactionID, nil
}

// RecordDeposit, RecordRefund, and RecordForfeiture post anti-Sybil entries.
func (c *Client) RecordDeposit(ctx context.Context, d *model.Deposit) error {
	return c.postEntry(ctx, "/api/v1/deposits", d)
}

func (c *Client) RecordRefund(ctx context.Context, d *model.Deposit) error {
	return c.postEntry(ctx, "/api/v1/refunds", d)
}

func (c *Client) RecordForfeiture(ctx context.Context, d *model.Deposit) error {
	return c.postEntry(ctx, "/api/v1/forfeitures", d)
}

func (c *Client) postEntry(ctx context.Context, path string, entry any) error {
	env, err := c.sign(entry)
	if err != nil {
		return err
	}
	var resp struct {
		OK bool `json:"ok"`
	}
	if err := c.do(ctx, http.MethodPost, path, env, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return apierr.Remote(path+" not acknowledged", nil, false)
	}
	return nil
}

// PostChallenge files a signed challenge against a settlement.
func (c *Client) PostChallenge(ctx context.Context, entry any) (string, error) {
	env, err := c.sign(entry)
	if err != nil {
		return "", err
	}
	var resp struct {
		ChallengeID string `json:"challengeId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/challenges", env, &resp); err != nil {
		return "", err
	}
	return resp.ChallengeID, nil
}

// PostSpamProof reports a validated spam proof against a deposit holder.
func (c *Client) PostSpamProof(ctx context.Context, proof, prose string) (bool, error) {
	sig, err := c.signer.SignEntry(struct {
		Proof string `json:"proof"`
		Prose string `json:"prose"`
	}{proof, prose})
	if err != nil {
		return false, apierr.Validation("sign spam proof", err)
	}
	body := struct {
		Proof     string `json:"proof"`
		Prose     string `json:"prose"`
		Signature string `json:"signature"`
	}{proof, prose, sig}
	var resp struct {
		Accepted bool `json:"accepted"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/spam-proofs", body, &resp); err != nil {
		return false, err
	}
	return resp.Accepted, nil
}

// PendingVerificationRequests returns the semantic-consensus inbox.
func (c *Client) PendingVerificationRequests(ctx context.Context) ([]json.RawMessage, error) {
	var resp struct {
		Requests []json.RawMessage `json:"requests"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/verification-requests/pending", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Requests, nil
}

// RecordOutcome writes an immutable dispute resolution outcome.
func (c *Client) RecordOutcome(ctx context.Context, resolution *model.Resolution) error {
	return c.postEntry(ctx, "/api/v1/outcomes", resolution)
}

// NormalizeAddress canonicalizes a hex chain address using go-ethereum's
// checksum rules, used when the chain-facing identifier is an address
// rather than an opaque hash.
func NormalizeAddress(addr string) string {
	return common.HexToAddress(addr).Hex()
}
