package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/engine"
	"github.com/trang393934/angelaithutrang-sub004/pkg/policy"
	"github.com/trang393934/angelaithutrang-sub004/pkg/trust"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

// stubService answers only the calls a test wires; anything else panics
// through the nil embedded interface.
type stubService struct {
	Service
	submit      func(engine.SubmitInput) (*contracts.SubmitResult, error)
	requestMint func(actorID string, in engine.MintInput) (*contracts.MintRequest, error)
	reinstated  []string
}

func (s *stubService) Submit(_ context.Context, in engine.SubmitInput) (*contracts.SubmitResult, error) {
	return s.submit(in)
}

func (s *stubService) RequestMint(_ context.Context, actorID string, in engine.MintInput) (*contracts.MintRequest, error) {
	return s.requestMint(actorID, in)
}

func (s *stubService) Reinstate(_ context.Context, actorID, _ string) error {
	s.reinstated = append(s.reinstated, actorID)
	return nil
}

func (s *stubService) ActivePolicy(context.Context) (*policy.Snapshot, error) {
	return policy.Default(), nil
}

func newTestHandler(svc Service, cfg AuthConfig) (http.Handler, *Authenticator) {
	cfg.JWTSecret = secret
	auth := NewAuthenticator(cfg)
	return NewHandler(svc, Options{Auth: auth}), auth
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func problem(t *testing.T, rec *httptest.ResponseRecorder) ProblemDetail {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestHealthAndRequestID(t *testing.T) {
	h, _ := newTestHandler(&stubService{}, AuthConfig{})
	rec := do(t, h, http.MethodGet, "/health", "", map[string]string{"X-Request-ID": "req-42"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	rec = do(t, h, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, problem(t, rec).RequestID)
}

func TestSubmit_RequiresAuthentication(t *testing.T) {
	h, _ := newTestHandler(&stubService{}, AuthConfig{})
	rec := do(t, h, http.MethodPost, "/v1/actions", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "/v1/actions", problem(t, rec).Instance)

	rec = do(t, h, http.MethodPost, "/v1/actions", `{}`, map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmit_BearerTokenActsForSubject(t *testing.T) {
	var got engine.SubmitInput
	svc := &stubService{submit: func(in engine.SubmitInput) (*contracts.SubmitResult, error) {
		got = in
		return &contracts.SubmitResult{ActionID: "act-1", Decision: contracts.DecisionPass}, nil
	}}
	h, auth := newTestHandler(svc, AuthConfig{})
	token, err := auth.IssueToken("alice", "p1", time.Hour)
	require.NoError(t, err)
	bearer := map[string]string{"Authorization": "Bearer " + token}

	rec := do(t, h, http.MethodPost, "/v1/actions", `{"action_type":"volunteer","metadata":{"title":"x"}}`, bearer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "alice", got.ActorID)
	assert.Equal(t, "p1", got.PlatformID)
	assert.NotEmpty(t, got.Origin.IP)
	var res contracts.SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "act-1", res.ActionID)

	rec = do(t, h, http.MethodPost, "/v1/actions", `{"actor_id":"bob"}`, bearer)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "actor_mismatch", problem(t, rec).Reason)
}

func TestBearerToken_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h, auth := newTestHandler(&stubService{}, AuthConfig{Clock: func() time.Time { return now }})
	token, err := auth.IssueToken("alice", "", -time.Minute)
	require.NoError(t, err)
	rec := do(t, h, http.MethodPost, "/v1/mint", `{}`, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKey_DailyQuota(t *testing.T) {
	svc := &stubService{requestMint: func(actorID string, in engine.MintInput) (*contracts.MintRequest, error) {
		return &contracts.MintRequest{RequestID: "r1", ActionID: in.ActionID, ActorID: actorID, Status: contracts.MintLocked}, nil
	}}
	h, _ := newTestHandler(svc, AuthConfig{
		APIKeys:    map[string]string{"k1": "platform-a"},
		Quota:      trust.NewMemoryQuota(),
		QuotaLimit: 1,
	})
	headers := map[string]string{HeaderAPIKey: "k1", HeaderActorID: "alice"}
	body := `{"action_id":"act-1","wallet_address":"0x00000000000000000000000000000000000000aa"}`

	rec := do(t, h, http.MethodPost, "/v1/mint", body, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var m contracts.MintRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "alice", m.ActorID)

	rec = do(t, h, http.MethodPost, "/v1/mint", body, headers)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, contracts.CodeCapExceeded, problem(t, rec).Code)

	rec = do(t, h, http.MethodPost, "/v1/mint", body, map[string]string{HeaderAPIKey: "unknown"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKey_RequiresActor(t *testing.T) {
	h, _ := newTestHandler(&stubService{}, AuthConfig{APIKeys: map[string]string{"k1": "platform-a"}})
	rec := do(t, h, http.MethodPost, "/v1/mint", `{"action_id":"a"}`, map[string]string{HeaderAPIKey: "k1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_actor", problem(t, rec).Reason)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		status    int
		code      contracts.Code
		retryable bool
	}{
		{"fraud", contracts.FraudBlocked("rewards_frozen", "frozen"), http.StatusForbidden, contracts.CodeFraudBlocked, false},
		{"paused", contracts.NewError(contracts.CodeLedgerPaused, "paused", "ledger paused"), http.StatusServiceUnavailable, contracts.CodeLedgerPaused, true},
		{"hold", contracts.NewError(contracts.CodeHoldPending, "hold_pending", "held"), http.StatusConflict, contracts.CodeHoldPending, false},
		{"internal", errors.New("db exploded at 10.0.0.3"), http.StatusInternalServerError, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{requestMint: func(string, engine.MintInput) (*contracts.MintRequest, error) {
				return nil, tc.err
			}}
			h, auth := newTestHandler(svc, AuthConfig{})
			token, err := auth.IssueToken("alice", "", time.Hour)
			require.NoError(t, err)
			rec := do(t, h, http.MethodPost, "/v1/mint", `{"action_id":"a"}`, map[string]string{"Authorization": "Bearer " + token})
			assert.Equal(t, tc.status, rec.Code)
			p := problem(t, rec)
			assert.Equal(t, tc.code, p.Code)
			assert.Equal(t, tc.retryable, p.Retryable)
			assert.NotContains(t, p.Detail, "10.0.0.3")
		})
	}
}

func TestBatchMint_Validation(t *testing.T) {
	h, auth := newTestHandler(&stubService{}, AuthConfig{})
	token, err := auth.IssueToken("alice", "", time.Hour)
	require.NoError(t, err)
	rec := do(t, h, http.MethodPost, "/v1/mint/batch", `{"items":[]}`, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_batch", problem(t, rec).Reason)
}

func TestAdminRoutes(t *testing.T) {
	svc := &stubService{}
	h, _ := newTestHandler(svc, AuthConfig{AdminKey: "root-key"})

	rec := do(t, h, http.MethodPost, "/v1/admin/actors/alice/reinstate", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, h, http.MethodPost, "/v1/admin/actors/alice/reinstate", "", map[string]string{HeaderAdminKey: "wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/admin/actors/alice/reinstate", "", map[string]string{HeaderAdminKey: "root-key"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"alice"}, svc.reinstated)
}

func TestAdminRoutes_ClosedWithoutKey(t *testing.T) {
	h, _ := newTestHandler(&stubService{}, AuthConfig{})
	rec := do(t, h, http.MethodPost, "/v1/admin/actors/alice/reinstate", "", map[string]string{HeaderAdminKey: ""})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestActivePolicy_IsPublic(t *testing.T) {
	h, _ := newTestHandler(&stubService{}, AuthConfig{})
	rec := do(t, h, http.MethodGet, "/v1/policy/active", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("ETag"))
	var snap policy.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "1.0.0", snap.Version)
}

func TestIPRateLimiter(t *testing.T) {
	defer goleak.VerifyNone(t)
	rl := NewIPRateLimiter(1, 1)
	defer rl.Close()
	h := NewHandler(&stubService{}, Options{Limiter: rl})

	rec := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
