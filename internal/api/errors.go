package api

import (
	"errors"
	"net/http"

	"github.com/vap/backend/internal/auth"
	"github.com/vap/backend/internal/endpoints"
	"github.com/vap/backend/internal/files"
	"github.com/vap/backend/internal/holdqueue"
	"github.com/vap/backend/internal/jobs"
	"github.com/vap/backend/internal/sigverify"
	"github.com/vap/backend/internal/store"
)

// API error codes. The shape is {"error":{"code","message"}} on every
// non-2xx response.
const (
	codeUnauthorized = "UNAUTHORIZED"
	codeForbidden    = "FORBIDDEN"
	codeValidation   = "VALIDATION_ERROR"
	codeRateLimited  = "RATE_LIMITED"
	// codeInvalidTimestamp is for request validation before any
	// verifier runs; verifier failures map to codeInvalidSignature.
	codeInvalidTimestamp = "INVALID_TIMESTAMP"
	codeInvalidSignature = "INVALID_SIGNATURE"
	codeStateConflict    = "STATE_CONFLICT"
	codeNotFound         = "NOT_FOUND"
	codeDuplicateJob     = "DUPLICATE_JOB"
	codeTxNotFound       = "TX_NOT_FOUND"
	codeSSRFBlocked      = "SSRF_BLOCKED"
	codeUpstream         = "UPSTREAM_ERROR"
	codeInternal         = "INTERNAL"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeDomainError maps service errors onto the API error table. The
// message never leaks more than the code implies.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, store.ErrDuplicateJob):
		writeError(w, http.StatusConflict, codeDuplicateJob, "an identical job request already exists")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, codeStateConflict, "state changed concurrently; reload and retry")
	case errors.Is(err, jobs.ErrNotParticipant), errors.Is(err, jobs.ErrWrongParty):
		writeError(w, http.StatusForbidden, codeForbidden, "not permitted for this identity")
	case errors.Is(err, jobs.ErrTerminal):
		writeError(w, http.StatusConflict, codeStateConflict, "job is in a terminal state")
	case errors.Is(err, jobs.ErrBadSignature):
		writeError(w, http.StatusUnauthorized, codeInvalidSignature, "signature verification failed")
	case errors.Is(err, sigverify.ErrExpired):
		// Verifier outcomes never say more than that the signature
		// failed; an expired window is not distinguishable on the wire.
		writeError(w, http.StatusUnauthorized, codeInvalidSignature, "signature verification failed")
	case errors.Is(err, sigverify.ErrReplay):
		writeError(w, http.StatusUnauthorized, codeInvalidSignature, "nonce already used")
	case errors.Is(err, sigverify.ErrBadSignature), errors.Is(err, sigverify.ErrUnresolvable):
		writeError(w, http.StatusUnauthorized, codeInvalidSignature, "signature verification failed")
	case errors.Is(err, sigverify.ErrVerify):
		writeError(w, http.StatusBadGateway, codeUpstream, "verification temporarily unavailable")
	case errors.Is(err, endpoints.ErrBlockedHost):
		writeError(w, http.StatusBadRequest, codeSSRFBlocked, "endpoint host is not allowed")
	case errors.Is(err, holdqueue.ErrNotBuyer), errors.Is(err, holdqueue.ErrNotSender):
		writeError(w, http.StatusForbidden, codeForbidden, "not permitted for this identity")
	case errors.Is(err, files.ErrForbidden):
		writeError(w, http.StatusForbidden, codeForbidden, "not permitted for this identity")
	case errors.Is(err, files.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, codeValidation, "file exceeds the size limit")
	case errors.Is(err, files.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, codeValidation, "unsupported file type")
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "authentication required")
	default:
		s.logger.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
