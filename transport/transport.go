// Package transport provides a minimal HTTP binding over service.Service.
// The wire transport itself is explicitly out of scope for the allocation
// core (§1); this package exists only so cmd/allocatord has something to
// bind a socket to, and stays intentionally thin.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compactlabs/allocator/compact"
	"github.com/compactlabs/allocator/log"
	"github.com/compactlabs/allocator/nonceledger"
	"github.com/compactlabs/allocator/service"
	"github.com/compactlabs/allocator/signer"
	"github.com/compactlabs/allocator/store"
	"github.com/compactlabs/allocator/validate"
)

// New builds the admission service from its collaborators (§6.4).
func New(ledger nonceledger.Reader, v *validate.Validator, st store.CompactStore, oracle signer.Oracle, maxRetries int) *service.Service {
	return service.New(ledger, v, st, oracle, maxRetries)
}

// Server is the HTTP binding for the admission API (§6.4).
type Server struct {
	svc        *service.Service
	log        *log.Logger
	httpServer *http.Server
}

// NewHTTPServer builds a Server listening on addr.
func NewHTTPServer(addr string, svc *service.Service, logger *log.Logger) *Server {
	s := &Server{svc: svc, log: logger.Module("transport")}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /compacts", s.handleAdmit)
	mux.HandleFunc("GET /compacts/{chainId}/{claimHash}", s.handleLookup)
	mux.HandleFunc("GET /sponsors/{sponsor}/compacts", s.handleListBySponsor)
	s.httpServer = &http.Server{Addr: addr, Handler: s.withLogging(mux)}
	return s
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	return s.httpServer.Shutdown(context.Background())
}

type admitRequest struct {
	ChainID              string         `json:"chainId"`
	AuthenticatedSponsor string         `json:"authenticatedSponsor"`
	Compact              compact.Compact `json:"compact"`
}

type admitResponse struct {
	ClaimHash string `json:"claimHash"`
	Signature string `json:"signature"`
}

type errorResponse struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) handleAdmit(w http.ResponseWriter, r *http.Request) {
	var req admitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, &compact.Error{Kind: compact.KindInvalidAmount, Detail: err.Error()})
		return
	}

	sponsor := common.HexToAddress(req.AuthenticatedSponsor)
	admission, err := s.svc.Admit(r.Context(), req.Compact, req.ChainID, sponsor)
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}

	writeJSON(w, http.StatusOK, admitResponse{
		ClaimHash: admission.ClaimHash.Hex(),
		Signature: "0x" + common.Bytes2Hex(admission.Signature[:]),
	})
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	chainID := r.PathValue("chainId")
	claimHash := common.HexToHash(r.PathValue("claimHash"))

	rec, err := s.svc.Lookup(r.Context(), chainID, claimHash)
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	if rec == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListBySponsor(w http.ResponseWriter, r *http.Request) {
	sponsor := common.HexToAddress(strings.TrimSpace(r.PathValue("sponsor")))

	records, err := s.svc.ListBySponsor(r.Context(), sponsor)
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func statusForErr(err error) int {
	var ce *compact.Error
	if !errors.As(err, &ce) {
		return http.StatusInternalServerError
	}
	switch ce.Kind {
	case compact.KindUpstream, compact.KindContention:
		return http.StatusServiceUnavailable
	case compact.KindUnauthorised:
		return http.StatusUnauthorized
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	var ce *compact.Error
	resp := errorResponse{Kind: "Internal"}
	if errors.As(err, &ce) {
		resp = errorResponse{Kind: string(ce.Kind), Detail: ce.Detail}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
