package rest

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var (
	// ErrTransport covers network failures, timeouts, throttling and 5xx responses.
	ErrTransport = errors.New("okx transport error")
	// ErrMalformed covers undecodable payloads and envelopes without data.
	ErrMalformed = errors.New("okx malformed response")
)

// APIError is a well-formed OKX envelope with a non-zero code.
type APIError struct {
	Path string
	Code string
	Msg  string
	// Detail is the first per-item sCode/sMsg of trade endpoints, when present.
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("okx %s: code %s: %s (%s)", e.Path, e.Code, e.Msg, e.Detail)
	}
	return fmt.Sprintf("okx %s: code %s: %s", e.Path, e.Code, e.Msg)
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport)
}

type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
	Simulated  bool
}

type Client struct {
	http  *resty.Client
	creds Credentials
	log   *zap.Logger
	now   func() time.Time
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func New(baseURL string, timeout time.Duration, creds Credentials, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{
		http:  client,
		creds: creds,
		log:   log,
		now:   time.Now,
	}
}

// Get calls a public endpoint and decodes the envelope data into out.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, requestPath(path, params), nil, false, out)
}

// GetSigned calls a private GET endpoint.
func (c *Client) GetSigned(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, requestPath(path, params), nil, true, out)
}

// PostSigned calls a private POST endpoint with a JSON body.
func (c *Client) PostSigned(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, payload, true, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, signed bool, out any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if signed {
		if err := c.sign(req, method, path, body); err != nil {
			return err
		}
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	status := resp.StatusCode()
	raw := resp.Body()
	if status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("%w: %s %s: http %d: %s", ErrTransport, method, path, status, truncate(raw))
	}
	var env envelope
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&env); err != nil {
		if status < 200 || status >= 300 {
			return fmt.Errorf("%w: %s %s: http %d: %s", ErrMalformed, method, path, status, truncate(raw))
		}
		return fmt.Errorf("%w: %s %s: %v", ErrMalformed, method, path, err)
	}
	if env.Code != "" && env.Code != "0" {
		return &APIError{Path: path, Code: env.Code, Msg: env.Msg, Detail: itemDetail(env.Data)}
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("%w: %s %s: http %d: %s", ErrMalformed, method, path, status, truncate(raw))
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%w: %s %s: missing data field", ErrMalformed, method, path)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrMalformed, method, path, err)
	}
	return nil
}

func (c *Client) sign(req *resty.Request, method, path string, body []byte) error {
	if c.creds.APIKey == "" || c.creds.SecretKey == "" || c.creds.Passphrase == "" {
		return errors.New("okx credentials are required for signed requests")
	}
	ts := c.now().UTC().Format("2006-01-02T15:04:05.000Z")
	req.SetHeader("OK-ACCESS-KEY", c.creds.APIKey)
	req.SetHeader("OK-ACCESS-SIGN", Sign(c.creds.SecretKey, ts, method, path, body))
	req.SetHeader("OK-ACCESS-TIMESTAMP", ts)
	req.SetHeader("OK-ACCESS-PASSPHRASE", c.creds.Passphrase)
	if c.creds.Simulated {
		req.SetHeader("x-simulated-trading", "1")
	}
	return nil
}

// Sign returns base64(HMAC-SHA256(secret, timestamp + method + requestPath + body)).
func Sign(secret, timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + strings.ToUpper(method) + path))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type itemStatus struct {
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

func itemDetail(data json.RawMessage) string {
	var items []itemStatus
	if err := json.Unmarshal(data, &items); err != nil {
		return ""
	}
	for _, item := range items {
		if item.SCode != "" && item.SCode != "0" {
			return item.SCode + ": " + item.SMsg
		}
	}
	return ""
}

func requestPath(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}

func truncate(body []byte) string {
	const limit = 2048
	if len(body) > limit {
		body = body[:limit]
	}
	return strings.TrimSpace(string(body))
}
