// Package gateway coordinates a shared client session across concurrent
// outbound calls. One goroutine owns the session; an expired access token
// triggers a single refresh no matter how many calls observe the 401.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultRefreshTimeout = 10 * time.Second
	DefaultRefreshRetries = 1
)

// State is the session state observed by callers.
type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateRefreshing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateClosed:
		return "closed"
	default:
		return "unauthenticated"
	}
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithHTTPClient sets the client used for resource calls.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		if client != nil {
			g.client = client
		}
	}
}

// WithRefreshTimeout bounds every refresh attempt.
func WithRefreshTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		if timeout > 0 {
			g.refreshTimeout = timeout
		}
	}
}

// WithRefreshRetries sets how many extra attempts follow a refresh that never reached the issuer.
func WithRefreshRetries(retries int) Option {
	return func(g *Gateway) {
		if retries >= 0 {
			g.refreshRetries = retries
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithSessionEndedHook registers fn to run once each time a session is lost
// involuntarily. It runs on its own goroutine and may call back into the Gateway.
func WithSessionEndedHook(fn func(reason error)) Option {
	return func(g *Gateway) {
		g.onSessionEnded = fn
	}
}

// Gateway attaches the session's access token to outbound requests and
// recovers from expiry with single-flight refresh.
type Gateway struct {
	issuer         Issuer
	store          SessionStore
	client         *http.Client
	logger         *zap.Logger
	refreshTimeout time.Duration
	refreshRetries int
	onSessionEnded func(error)

	inbox     chan any
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
}

// grant is the tagged result handed to every waiter: a token to attach or the reason there is none.
type grant struct {
	token      string
	generation uint64
	err        error
}

type (
	attachMsg struct {
		reply chan grant
	}
	notify401Msg struct {
		generation uint64
		reply      chan grant
	}
	expireMsg struct {
		generation uint64
		reason     error
	}
	installMsg struct {
		session ClientSession
		persist bool
		reply   chan struct{}
	}
	logoutMsg struct {
		reply chan string
	}
	refreshDoneMsg struct {
		cycle      uint64
		credential Credential
		err        error
	}
)

// loop-owned session state
type session struct {
	current    ClientSession
	state      State
	generation uint64
	cycle      uint64
	waiters    []chan grant
}

// New starts a Gateway in the unauthenticated state. Call Login or Restore to attach a session.
func New(issuer Issuer, store SessionStore, opts ...Option) *Gateway {
	if store == nil {
		store = NewMemorySessionStore()
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		issuer:         issuer,
		store:          store,
		client:         http.DefaultClient,
		logger:         zap.NewNop(),
		refreshTimeout: DefaultRefreshTimeout,
		refreshRetries: DefaultRefreshRetries,
		inbox:          make(chan any),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}

	go g.run()
	return g
}

// State reports the current session state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// Do sends req with the current access token. A 401 on an authenticated call
// joins the refresh cycle and the call is replayed with the new token. Calls
// made while unauthenticated are sent without a token and returned as is.
// A 403 is returned to the caller untouched.
func (g *Gateway) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	req, err := rewindable(req)
	if err != nil {
		return nil, err
	}

	reply := make(chan grant, 1)
	first, err := g.request(ctx, attachMsg{reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	if first.err != nil {
		return nil, expiredCall(req, 0)
	}

	resp, err := g.send(req, first.token)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || first.token == "" {
		return resp, err
	}
	discard(resp)

	reply = make(chan grant, 1)
	next, err := g.request(ctx, notify401Msg{generation: first.generation, reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	if next.err != nil {
		return nil, expiredCall(req, http.StatusUnauthorized)
	}

	resp, err = g.send(req, next.token)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	discard(resp)

	// a replay rejected with a fresh token ends the session; refreshing again could loop
	reason := fmt.Errorf("replay of %s %s rejected after refresh", req.Method, req.URL.Redacted())
	g.post(expireMsg{generation: next.generation, reason: reason})
	return nil, expiredCall(req, http.StatusUnauthorized)
}

// Login authenticates against the issuer and installs the new session.
func (g *Gateway) Login(ctx context.Context, identifier, secret string) error {
	cred, err := g.issuer.Login(ctx, identifier, secret)
	if err != nil {
		return err
	}
	return g.install(ctx, cred.session(), true)
}

// Restore installs the persisted session without validating it. The first
// call surfaces a stale token through the normal refresh path.
func (g *Gateway) Restore(ctx context.Context) (bool, error) {
	stored, err := g.store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	if !stored.Authenticated || stored.AccessToken == "" {
		return false, nil
	}
	if err := g.install(ctx, stored, false); err != nil {
		return false, err
	}
	return true, nil
}

// Logout ends the session locally and revokes its refresh secret on the issuer.
// Local state is cleared even when the issuer cannot be reached.
func (g *Gateway) Logout(ctx context.Context) error {
	msg := logoutMsg{reply: make(chan string, 1)}
	if err := g.deliver(ctx, msg); err != nil {
		return err
	}

	var secret string
	select {
	case secret = <-msg.reply:
	case <-g.done:
		return ErrGatewayClosed
	}

	if secret == "" {
		return nil
	}
	if err := g.issuer.Logout(ctx, secret); err != nil {
		return fmt.Errorf("revoke refresh credential: %w", err)
	}
	return nil
}

// Close stops the Gateway, cancelling any refresh in flight. Pending calls fail with ErrGatewayClosed.
func (g *Gateway) Close() error {
	g.closeOnce.Do(g.cancel)
	<-g.done
	return nil
}

func (g *Gateway) install(ctx context.Context, s ClientSession, persist bool) error {
	msg := installMsg{session: s, persist: persist, reply: make(chan struct{})}
	if err := g.deliver(ctx, msg); err != nil {
		return err
	}
	select {
	case <-msg.reply:
		return nil
	case <-g.done:
		return ErrGatewayClosed
	}
}

// request delivers msg and waits for the grant sent on reply.
func (g *Gateway) request(ctx context.Context, msg any, reply chan grant) (grant, error) {
	if err := g.deliver(ctx, msg); err != nil {
		return grant{}, err
	}

	select {
	case gr := <-reply:
		if errors.Is(gr.err, ErrGatewayClosed) {
			return grant{}, ErrGatewayClosed
		}
		return gr, nil
	case <-ctx.Done():
		return grant{}, ctx.Err()
	case <-g.done:
		return grant{}, ErrGatewayClosed
	}
}

func (g *Gateway) deliver(ctx context.Context, msg any) error {
	select {
	case g.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-g.done:
		return ErrGatewayClosed
	}
}

// post delivers a fire-and-forget message.
func (g *Gateway) post(msg any) {
	select {
	case g.inbox <- msg:
	case <-g.done:
	}
}

func (g *Gateway) run() {
	defer close(g.done)

	s := &session{}
	for {
		select {
		case <-g.ctx.Done():
			g.settle(s, grant{err: ErrGatewayClosed})
			g.state.Store(int32(StateClosed))
			return
		case msg := <-g.inbox:
			g.handle(s, msg)
		}
	}
}

func (g *Gateway) handle(s *session, msg any) {
	switch m := msg.(type) {
	case attachMsg:
		switch s.state {
		case StateRefreshing:
			// hold new calls until the cycle settles so they never carry the expired token
			s.waiters = append(s.waiters, m.reply)
		case StateAuthenticated:
			m.reply <- grant{token: s.current.AccessToken, generation: s.generation}
		default:
			m.reply <- grant{generation: s.generation}
		}

	case notify401Msg:
		switch {
		case s.state == StateUnauthenticated:
			m.reply <- grant{generation: s.generation, err: ErrSessionExpired}
		case s.state == StateRefreshing:
			s.waiters = append(s.waiters, m.reply)
		case m.generation != s.generation:
			m.reply <- grant{token: s.current.AccessToken, generation: s.generation}
		default:
			s.cycle++
			g.setState(s, StateRefreshing)
			s.waiters = append(s.waiters, m.reply)
			go g.refresh(s.cycle, s.current.RefreshSecret)
		}

	case refreshDoneMsg:
		if s.state != StateRefreshing || m.cycle != s.cycle {
			return
		}
		if m.err != nil {
			g.logger.Warn("session refresh failed", zap.Error(m.err))
			g.endSession(s, m.err)
			return
		}
		s.current = m.credential.session()
		s.generation++
		g.setState(s, StateAuthenticated)
		g.persist(s.current)
		g.settle(s, grant{token: s.current.AccessToken, generation: s.generation})

	case expireMsg:
		if s.state == StateUnauthenticated || m.generation != s.generation {
			return
		}
		g.logger.Warn("session rejected after refresh", zap.Error(m.reason))
		g.endSession(s, m.reason)

	case installMsg:
		s.current = m.session
		s.cycle++
		s.generation++
		g.setState(s, StateAuthenticated)
		if m.persist {
			g.persist(s.current)
		}
		g.settle(s, grant{token: s.current.AccessToken, generation: s.generation})
		close(m.reply)

	case logoutMsg:
		secret := s.current.RefreshSecret
		g.reset(s)
		g.settle(s, grant{generation: s.generation, err: ErrSessionExpired})
		m.reply <- secret
	}
}

// endSession moves to Unauthenticated after a failed recovery and notifies the hook.
func (g *Gateway) endSession(s *session, reason error) {
	g.reset(s)
	g.settle(s, grant{generation: s.generation, err: ErrSessionExpired})
	if g.onSessionEnded != nil {
		go g.onSessionEnded(reason)
	}
}

func (g *Gateway) reset(s *session) {
	s.current = ClientSession{}
	s.cycle++
	s.generation++
	g.setState(s, StateUnauthenticated)
	if err := g.store.Clear(g.ctx); err != nil {
		g.logger.Warn("failed to clear persisted session", zap.Error(err))
	}
}

// settle hands the same outcome to every waiter and empties the queue.
func (g *Gateway) settle(s *session, outcome grant) {
	for _, reply := range s.waiters {
		reply <- outcome
	}
	s.waiters = nil
}

func (g *Gateway) setState(s *session, state State) {
	s.state = state
	g.state.Store(int32(state))
}

func (g *Gateway) persist(current ClientSession) {
	if err := g.store.Save(g.ctx, current); err != nil {
		g.logger.Warn("failed to persist session", zap.Error(err))
	}
}

func (g *Gateway) refresh(cycle uint64, secret string) {
	var (
		cred  Credential
		err   error
		first error
	)
	for attempt := 0; attempt <= g.refreshRetries; attempt++ {
		if attempt > 0 {
			g.logger.Info("retrying session refresh", zap.Int("attempt", attempt+1), zap.Error(err))
		}
		cred, err = g.refreshOnce(secret)
		if err == nil {
			break
		}
		if first == nil {
			first = err
		} else if errors.Is(err, ErrInvalidRefreshCredential) {
			err = fmt.Errorf("%w; retry: %w", first, err)
			break
		}
		if !retryable(err) || g.ctx.Err() != nil {
			break
		}
	}
	g.post(refreshDoneMsg{cycle: cycle, credential: cred, err: err})
}

func (g *Gateway) refreshOnce(secret string) (Credential, error) {
	ctx, cancel := context.WithTimeout(g.ctx, g.refreshTimeout)
	defer cancel()

	cred, err := g.issuer.Refresh(ctx, secret)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return cred, err
}

func (g *Gateway) send(req *http.Request, token string) (*http.Response, error) {
	out := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		out.Body = body
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}
	return g.client.Do(out)
}

// rewindable buffers a one-shot body so the request can be replayed after a refresh.
func rewindable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffer request body: %w", err)
	}

	clone := req.Clone(req.Context())
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	clone.Body, _ = clone.GetBody()
	return clone, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}

func expiredCall(req *http.Request, status int) error {
	return &SessionExpiredError{Method: req.Method, URL: req.URL.Redacted(), StatusCode: status}
}
