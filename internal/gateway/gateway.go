package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/nexusrelay/internal/status"
)

const (
	// DefaultMaxBodySize bounds both the inbound and the upstream body
	DefaultMaxBodySize = 32 << 20
	statusName         = status.UpstreamHTTP
)

// ErrBodyTooLarge is returned when a body exceeds the configured limit.
// Bodies are never forwarded cut short.
var ErrBodyTooLarge = errors.New("body too large")

var (
	forwardedRequestHeaders  = []string{"Content-Type", "Accept", "Accept-Language"}
	forwardedResponseHeaders = []string{"Content-Type", "Content-Encoding", "Cache-Control"}
)

// Failure is the body of every response the gateway itself produces
type Failure struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Gateway forwards discrete calls to one fixed upstream. Each call is
// attempted exactly once, upstream responses are passed through as is.
type Gateway struct {
	upstream    *url.URL
	client      *http.Client
	statusTable *status.Table
	maxBodySize int64
}

// upstreamError marks failures which happened while talking to upstream,
// only those say anything about its reachability
type upstreamError struct {
	err error
}

func (e *upstreamError) Error() string {
	return e.err.Error()
}

func (e *upstreamError) Unwrap() error {
	return e.err
}

type Option func(*Gateway)

// WithClient used to reach upstream, its Timeout bounds every call
func WithClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.client = c
	}
}

func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.client.Timeout = d
	}
}

// WithMaxBodySize limits inbound and upstream bodies to n bytes
func WithMaxBodySize(n int64) Option {
	return func(g *Gateway) {
		g.maxBodySize = n
	}
}

func WithStatusTable(t *status.Table) Option {
	return func(g *Gateway) {
		g.statusTable = t
	}
}

func New(upstreamBase string, opts ...Option) (*Gateway, error) {
	u, err := url.Parse(upstreamBase)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream base must be http(s), got: '%v'", upstreamBase)
	}
	g := &Gateway{
		upstream:    u,
		maxBodySize: DefaultMaxBodySize,
		client: &http.Client{
			Timeout: 10 * time.Second,
			// Redirects are the caller's business
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// target keeps the inbound path byte for byte, escapes included
func (g *Gateway) target(r *http.Request) string {
	t := *g.upstream
	base := strings.TrimSuffix(g.upstream.EscapedPath(), "/")
	t.Path = strings.TrimSuffix(g.upstream.Path, "/") + r.URL.Path
	t.RawPath = base + r.URL.EscapedPath()
	t.RawQuery = r.URL.RawQuery
	return t.String()
}

func hasBody(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := g.target(r)
	var body []byte
	if hasBody(r.Method) && r.Body != nil {
		b, err := g.readLimited(r.Body)
		if err != nil {
			ancli.Errf("proxy %v %v -> %v rejected: %v", r.Method, r.URL.Path, target, err)
			if errors.Is(err, ErrBodyTooLarge) {
				writeFailure(w, http.StatusRequestEntityTooLarge, "request too large", err.Error())
				return
			}
			writeFailure(w, http.StatusBadGateway, "upstream unavailable", fmt.Sprintf("read inbound body: %v", err))
			return
		}
		body = b
	}

	code, header, respBody, err := g.forward(r.Context(), r, target, body)
	if err != nil {
		var ue *upstreamError
		if errors.As(err, &ue) && r.Context().Err() == nil {
			g.statusTable.Set(statusName, false)
		}
		ancli.Errf("proxy %v %v -> %v failed: %v", r.Method, r.URL.Path, target, err)
		writeFailure(w, http.StatusBadGateway, "upstream unavailable", failureMessage(err))
		return
	}
	g.statusTable.Set(statusName, true)
	ancli.Noticef("proxy %v %v -> %v: %v", r.Method, r.URL.Path, target, code)
	for _, h := range forwardedResponseHeaders {
		if v := header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		w.Write(respBody)
	}
}

// readLimited reads all of r, failing with ErrBodyTooLarge once more than
// maxBodySize bytes turn up
func (g *Gateway) readLimited(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, g.maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > g.maxBodySize {
		return nil, fmt.Errorf("%w: exceeds %v bytes", ErrBodyTooLarge, g.maxBodySize)
	}
	return b, nil
}

func (g *Gateway) forward(ctx context.Context, in *http.Request, target string, body []byte) (int, http.Header, []byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	out, err := http.NewRequestWithContext(ctx, in.Method, target, rd)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("build upstream request: %w", err)
	}
	for _, h := range forwardedRequestHeaders {
		if v := in.Header.Get(h); v != "" {
			out.Header.Set(h, v)
		}
	}
	resp, err := g.client.Do(out)
	if err != nil {
		return 0, nil, nil, &upstreamError{err: err}
	}
	defer resp.Body.Close()
	respBody, err := g.readLimited(resp.Body)
	if err != nil {
		return 0, nil, nil, &upstreamError{err: fmt.Errorf("malformed upstream response: %w", err)}
	}
	return resp.StatusCode, resp.Header, respBody, nil
}

func failureMessage(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Sprintf("upstream timed out: %v", urlErr.Err)
	}
	return err.Error()
}

func writeFailure(w http.ResponseWriter, code int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(Failure{
		Success:   false,
		Error:     kind,
		Message:   msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
