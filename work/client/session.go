package client

import (
	"net"
	"net/http"
	"net/http/cookiejar"
	"sync/atomic"
	"time"

	"mediaproxy/work/logger"
	"mediaproxy/work/metrics"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"
)

// Session is one persistent upstream session: a dedicated transport for
// connection reuse, a cookie jar, and an optional request rate limit.
type Session struct {
	Host     string
	client   *http.Client
	limiter  ratelimit.Limiter
	requests atomic.Int64
}

// newSession builds a session that never follows redirects; they are
// rewritten and returned to the player instead.
func newSession(host string, timeout time.Duration, rateLimit int) *Session {
	jar, _ := cookiejar.New(nil)

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout, // bodies stream without an overall deadline
	}

	limiter := ratelimit.NewUnlimited()
	if rateLimit > 0 {
		limiter = ratelimit.New(rateLimit)
	}

	return &Session{
		Host: host,
		client: &http.Client{
			Transport: transport,
			Jar:       jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		limiter: limiter,
	}
}

// Do sends req through the session.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	s.limiter.Take()
	s.requests.Add(1)
	return s.client.Do(req)
}

// Requests returns how many requests were sent through the session.
func (s *Session) Requests() int64 {
	return s.requests.Load()
}

// SessionPool holds at most one live session per upstream hostname. Sessions
// are created on first contact and live as long as the pool.
type SessionPool struct {
	sessions  *xsync.MapOf[string, *Session]
	timeout   time.Duration
	rateLimit int
}

// NewSessionPool creates an empty pool.
func NewSessionPool(timeout time.Duration, rateLimit int) *SessionPool {
	return &SessionPool{
		sessions:  xsync.NewMapOf[string, *Session](),
		timeout:   timeout,
		rateLimit: rateLimit,
	}
}

// Get returns the session for host, creating it on first use.
func (p *SessionPool) Get(host string) *Session {
	sess, loaded := p.sessions.LoadOrCompute(host, func() *Session {
		return newSession(host, p.timeout, p.rateLimit)
	})
	if !loaded {
		metrics.UpstreamSessions.Inc()
		logger.Debug("{client/session - Get} Opened upstream session for %s", host)
	}
	return sess
}

// Len returns the number of live sessions.
func (p *SessionPool) Len() int {
	return p.sessions.Size()
}

// CloseIdle closes idle connections of every session.
func (p *SessionPool) CloseIdle() {
	p.sessions.Range(func(_ string, s *Session) bool {
		s.client.CloseIdleConnections()
		return true
	})
}
