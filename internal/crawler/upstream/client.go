// Package upstream talks to agency archive endpoints and turns what it sees
// into state machine signals.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"archivegate/internal/crawler/evasion"
	"archivegate/internal/crawler/models"
	"archivegate/internal/records"
	dErrors "archivegate/pkg/domain-errors"
	"archivegate/pkg/platform/sentinel"
)

const maxBodyBytes = 4 << 20

var challengeMarkers = []string{"captcha", "challenge-form", "cf-chl", "are you a robot", "unusual traffic"}

// Result is the classified outcome of one upstream call. Page is set only
// for SignalFetchOK.
type Result struct {
	Signal     models.Signal
	Page       *Page
	RetryAfter time.Duration
}

// Page is one batch of records from an agency listing.
type Page struct {
	Records []records.Record
	Next    string
}

type Client struct {
	http    *http.Client
	timeout time.Duration
	cfg     models.Config
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func New(cfg models.Config, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{},
		timeout: cfg.RequestTimeout,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Conn is one session's view of an agency: its login token and its own
// error window. A Conn is owned by a single worker.
type Conn struct {
	client  *Client
	agency  models.Agency
	profile evasion.Profile
	token   string
	window  *ErrorWindow
}

func (c *Client) Open(agency models.Agency, profile evasion.Profile) *Conn {
	return &Conn{
		client:  c,
		agency:  agency,
		profile: profile,
		window:  NewErrorWindow(c.cfg.ErrorWindow, c.cfg.ErrorRateThreshold),
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login authenticates with creds. On success the Conn keeps the session
// token for later fetches.
func (c *Conn) Login(ctx context.Context, creds models.Credentials) (Result, error) {
	body, err := json.Marshal(loginRequest{Username: creds.Username, Password: creds.Secret})
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "encode login")
	}
	res, raw, err := c.do(ctx, http.MethodPost, c.agency.LoginPath, nil, body)
	if err != nil || res.Signal != models.SignalFetchOK {
		return res, err
	}
	var lr loginResponse
	if err := json.Unmarshal(raw, &lr); err != nil || lr.Token == "" {
		return c.malformed(raw)
	}
	c.token = lr.Token
	return Result{Signal: models.SignalAuthOK}, nil
}

type wireRecord struct {
	ID     string     `json:"id"`
	Fields wireFields `json:"fields"`
}

// wireFields keeps an agency's fields in the order the agency sent them.
// A repeated name keeps its first position and its last value.
type wireFields []records.Field

func (f *wireFields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("fields: expected object, got %v", tok)
	}
	out := wireFields{}
	seen := map[string]int{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("fields: expected name, got %v", tok)
		}
		var v records.Value
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("fields: %s: %w", name, err)
		}
		if i, ok := seen[name]; ok {
			out[i].Value = v
			continue
		}
		seen[name] = len(out)
		out = append(out, records.Field{Name: name, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}

type wirePage struct {
	Records []wireRecord `json:"records"`
	Next    string       `json:"next"`
}

// Fetch reads the listing page after cursor ("" for the first page).
func (c *Conn) Fetch(ctx context.Context, cursor string) (Result, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	res, raw, err := c.do(ctx, http.MethodGet, c.agency.RecordsPath, q, nil)
	if err != nil || res.Signal != models.SignalFetchOK {
		return res, err
	}
	var wp wirePage
	if err := json.Unmarshal(raw, &wp); err != nil {
		return c.malformed(raw)
	}
	fetchedAt := c.client.now().UTC().Truncate(time.Microsecond)
	page := &Page{Next: wp.Next, Records: make([]records.Record, 0, len(wp.Records))}
	for _, w := range wp.Records {
		if w.ID == "" {
			continue
		}
		page.Records = append(page.Records, records.Record{
			ID:           w.ID,
			Dataset:      c.agency.Dataset,
			SourceAgency: c.agency.ID,
			FetchedAt:    fetchedAt,
			Fields:       []records.Field(w.Fields),
		})
	}
	res.Page = page
	return res, nil
}

// Authenticated reports whether the Conn holds a live login.
func (c *Conn) Authenticated() bool {
	return c.token != ""
}

// Window exposes the session's error window.
func (c *Conn) Window() *ErrorWindow {
	return c.window
}

// do performs one paced request and classifies the response. A nil error
// with a Signal other than SignalFetchOK means the response was understood
// but the session must react to it.
func (c *Conn) do(ctx context.Context, method, path string, query url.Values, body []byte) (Result, []byte, error) {
	if err := c.profile.Pace(ctx); err != nil {
		return Result{}, nil, err
	}

	endpoint, err := url.JoinPath(c.agency.BaseURL, path)
	if err != nil {
		return Result{}, nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid agency endpoint")
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	reqCtx := ctx
	if c.client.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.client.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, reader)
	if err != nil {
		return Result{}, nil, dErrors.Wrap(err, dErrors.CodeInternal, "build upstream request")
	}
	c.profile.Apply(req)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, nil, ctx.Err()
		}
		return c.transportFailure(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, nil, ctx.Err()
		}
		return c.transportFailure(err)
	}

	res, err := c.classify(resp, raw)
	return res, raw, err
}

func (c *Conn) classify(resp *http.Response, raw []byte) (Result, error) {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{Signal: models.SignalRateLimited, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}, nil
	case resp.StatusCode == http.StatusUnauthorized:
		c.token = ""
		return Result{Signal: models.SignalAuthFailed}, nil
	case resp.StatusCode == http.StatusForbidden:
		if isChallenge(resp, raw) {
			c.log("upstream challenge", "status", resp.StatusCode)
			return Result{Signal: models.SignalAnomaly}, nil
		}
		c.token = ""
		return Result{Signal: models.SignalAuthFailed}, nil
	case resp.StatusCode >= 500:
		if c.window.Record(true) {
			return c.burst()
		}
		return Result{}, fmt.Errorf("upstream %s returned %d: %w", c.agency.ID, resp.StatusCode, sentinel.ErrUnavailable)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.window.Record(false)
		return Result{Signal: models.SignalFetchOK}, nil
	}
	return Result{}, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("upstream %s returned unexpected status %d", c.agency.ID, resp.StatusCode))
}

func (c *Conn) transportFailure(err error) (Result, []byte, error) {
	if c.window.Record(true) {
		res, werr := c.burst()
		return res, nil, werr
	}
	if isTimeout(err) {
		return Result{}, nil, dErrors.Wrap(err, dErrors.CodeUpstreamTimeout, "upstream request timed out")
	}
	return Result{}, nil, fmt.Errorf("upstream %s: %w: %w", c.agency.ID, sentinel.ErrUnavailable, err)
}

// malformed handles a 2xx body that is not the expected JSON. Challenge
// pages served with 200 are an anomaly; anything else counts as a failure.
func (c *Conn) malformed(raw []byte) (Result, error) {
	if containsMarker(raw) {
		c.log("upstream challenge page", "status", http.StatusOK)
		return Result{Signal: models.SignalAnomaly}, nil
	}
	if c.window.Record(true) {
		return c.burst()
	}
	return Result{}, fmt.Errorf("upstream %s sent an unreadable body: %w", c.agency.ID, sentinel.ErrUnavailable)
}

func (c *Conn) burst() (Result, error) {
	c.log("upstream error burst", "error_rate", c.window.Rate())
	c.window.Reset()
	return Result{Signal: models.SignalAnomaly}, nil
}

func (c *Conn) log(msg string, args ...any) {
	if c.client.logger == nil {
		return
	}
	c.client.logger.Warn(msg, append(args, "agency_id", c.agency.ID)...)
}

func isChallenge(resp *http.Response, raw []byte) bool {
	if strings.EqualFold(resp.Header.Get("cf-mitigated"), "challenge") {
		return true
	}
	return containsMarker(raw)
}

func containsMarker(raw []byte) bool {
	lower := bytes.ToLower(raw)
	for _, m := range challengeMarkers {
		if bytes.Contains(lower, []byte(m)) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
