package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/engine"
	"github.com/trang393934/angelaithutrang-sub004/pkg/policy"
)

// maxBatch bounds the items of one batch mint call.
const maxBatch = 100

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var in engine.SubmitInput
	if !decode(w, r, &in) {
		return
	}
	actorID, err := resolveActor(r.Context(), in.ActorID)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	in.ActorID = actorID
	if p, _ := PrincipalFrom(r.Context()); p.PlatformID != "" {
		if in.PlatformID != "" && in.PlatformID != p.PlatformID {
			WriteErr(w, r, contracts.NewError(contracts.CodeUnauthorized, "platform_mismatch", "cannot submit for another platform"))
			return
		}
		in.PlatformID = p.PlatformID
	}
	in.Origin = contracts.Origin{
		IP:                clientIP(r),
		DeviceFingerprint: r.Header.Get("X-Device-Fingerprint"),
		UserAgent:         r.UserAgent(),
	}
	res, err := s.svc.Submit(r.Context(), in)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getAction(w http.ResponseWriter, r *http.Request) {
	actorID, err := resolveActor(r.Context(), r.URL.Query().Get("actor_id"))
	if err != nil && contracts.ReasonOf(err) != "missing_actor" {
		WriteErr(w, r, err)
		return
	}
	v, err := s.svc.GetAction(r.Context(), chi.URLParam(r, "id"), actorID)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type mintBody struct {
	ActorID string `json:"actor_id"`
	engine.MintInput
}

func (s *Server) requestMint(w http.ResponseWriter, r *http.Request) {
	var body mintBody
	if !decode(w, r, &body) {
		return
	}
	actorID, err := resolveActor(r.Context(), body.ActorID)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	m, err := s.svc.RequestMint(r.Context(), actorID, body.MintInput)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type batchBody struct {
	ActorID string             `json:"actor_id"`
	Items   []engine.MintInput `json:"items"`
}

func (s *Server) batchMint(w http.ResponseWriter, r *http.Request) {
	var body batchBody
	if !decode(w, r, &body) {
		return
	}
	if len(body.Items) == 0 || len(body.Items) > maxBatch {
		WriteErr(w, r, contracts.ValidationError("invalid_batch", "a batch holds between 1 and %d items", maxBatch))
		return
	}
	actorID, err := resolveActor(r.Context(), body.ActorID)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": s.svc.BatchMint(r.Context(), actorID, body.Items)})
}

// caller resolves the actor for a mint request route. Platform keys
// that do not name an actor may act on any request of their actors.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	actorID, err := resolveActor(r.Context(), r.Header.Get(HeaderActorID))
	if err != nil && contracts.ReasonOf(err) != "missing_actor" {
		WriteErr(w, r, err)
		return "", false
	}
	return actorID, true
}

func (s *Server) getMint(w http.ResponseWriter, r *http.Request) {
	actorID, ok := s.caller(w, r)
	if !ok {
		return
	}
	m, err := s.svc.GetMint(r.Context(), chi.URLParam(r, "id"), actorID)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) activate(w http.ResponseWriter, r *http.Request) {
	actorID, ok := s.caller(w, r)
	if !ok {
		return
	}
	m, err := s.svc.Activate(r.Context(), chi.URLParam(r, "id"), actorID)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	actorID, ok := s.caller(w, r)
	if !ok {
		return
	}
	m, err := s.svc.Claim(r.Context(), chi.URLParam(r, "id"), actorID)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	actorID, ok := s.caller(w, r)
	if !ok {
		return
	}
	var body struct {
		Target contracts.MintStatus `json:"target"`
	}
	if !decode(w, r, &body) {
		return
	}
	m, err := s.svc.Confirm(r.Context(), chi.URLParam(r, "id"), actorID, body.Target)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) allocation(w http.ResponseWriter, r *http.Request) {
	actorID, err := resolveActor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	a, err := s.svc.Allocation(r.Context(), actorID)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) activePolicy(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.ActivePolicy(r.Context())
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	hash, err := snap.Hash()
	if err != nil {
		WriteInternal(w, r, err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(hash))
	writeJSON(w, http.StatusOK, snap)
}

func operator(r *http.Request) string {
	if op := r.Header.Get("X-Operator"); op != "" {
		return op
	}
	return "admin"
}

func (s *Server) registerActor(w http.ResponseWriter, r *http.Request) {
	var in engine.RegisterInput
	if !decode(w, r, &in) {
		return
	}
	p, err := s.svc.RegisterActor(r.Context(), in)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getActor(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.GetActor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) setTier(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tier int `json:"tier"`
	}
	if !decode(w, r, &body) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.svc.SetTier(r.Context(), id, body.Tier, operator(r)); err != nil {
		WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actor_id": id, "tier": body.Tier})
}

func (s *Server) reinstate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Reinstate(r.Context(), id, operator(r)); err != nil {
		WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"actor_id": id, "status": "reinstated"})
}

func (s *Server) flagAction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &body) {
		return
	}
	f, suspended, err := s.svc.FlagAction(r.Context(), chi.URLParam(r, "id"), body.Reason, operator(r))
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flag": f, "suspended": suspended})
}

func (s *Server) auditSweep(w http.ResponseWriter, r *http.Request) {
	var seed uint64
	if v := r.URL.Query().Get("seed"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			WriteErr(w, r, contracts.ValidationError("invalid_seed", "seed must be an unsigned integer"))
			return
		}
		seed = n
	}
	rep, err := s.svc.AuditSweep(r.Context(), seed)
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) releaseHolds(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.ReleaseHolds(r.Context())
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"released": n})
}

func (s *Server) reverse(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &body) {
		return
	}
	m, err := s.svc.ReverseAllocation(r.Context(), chi.URLParam(r, "id"), body.Reason, operator(r))
	if err != nil {
		WriteErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// publishPolicy accepts a YAML or JSON policy document.
func (s *Server) publishPolicy(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		WriteErr(w, r, contracts.ValidationError("invalid_body", "invalid request body: %v", err))
		return
	}
	snap, err := policy.Parse(data)
	if err != nil {
		WriteErr(w, r, contracts.ValidationError("invalid_policy", "%v", err))
		return
	}
	if err := s.svc.PublishPolicy(r.Context(), snap, operator(r)); err != nil {
		WriteErr(w, r, err)
		return
	}
	hash, err := snap.Hash()
	if err != nil {
		WriteInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"version": snap.Version, "hash": hash})
}
