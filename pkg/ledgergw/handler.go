package ledgergw

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
)

// NewHandler exposes a Gateway over the JSON wire protocol spoken by Client.
// Errors are written as a contracts.Error body with the mapped status.
func NewHandler(gw Gateway) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/ledger/lock", func(w http.ResponseWriter, r *http.Request) {
		var req LockRequest
		if !decode(w, r, &req) {
			return
		}
		respond(w, func() (any, error) { return gw.Lock(r.Context(), req) })
	})
	r.Post("/v1/ledger/activate", transition(gw.Activate))
	r.Post("/v1/ledger/claim", transition(gw.Claim))
	r.Post("/v1/ledger/reverse", func(w http.ResponseWriter, r *http.Request) {
		var req ReverseRequest
		if !decode(w, r, &req) {
			return
		}
		respond(w, func() (any, error) { return gw.Reverse(r.Context(), req) })
	})
	r.Get("/v1/ledger/allocations/{actorID}", func(w http.ResponseWriter, r *http.Request) {
		actorID := chi.URLParam(r, "actorID")
		respond(w, func() (any, error) { return gw.Allocation(r.Context(), actorID) })
	})
	return r
}

func transition(fn func(context.Context, TransitionRequest) (*Receipt, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TransitionRequest
		if !decode(w, r, &req) {
			return
		}
		respond(w, func() (any, error) { return fn(r.Context(), req) })
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeErr(w, contracts.ValidationError("invalid_body", "invalid request body: %v", err))
		return false
	}
	return true
}

func respond(w http.ResponseWriter, fn func() (any, error)) {
	out, err := fn()
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func writeErr(w http.ResponseWriter, err error) {
	var e *contracts.Error
	if !errors.As(err, &e) {
		e = contracts.NewError(contracts.CodeInternal, "", "ledger internal error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(contracts.HTTPStatus(e.Code))
	_ = json.NewEncoder(w).Encode(e)
}
