package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorilla/mux"

	"github.com/vap/backend/internal/config"
	"github.com/vap/backend/internal/jobs"
	"github.com/vap/backend/internal/sigverify"
	"github.com/vap/backend/internal/store"
)

func TestWebsocketRoutedAtRoot(t *testing.T) {
	s := NewServer(Deps{Config: &config.Config{}})
	r := s.Router()

	var m mux.RouteMatch
	assert.True(t, r.Match(httptest.NewRequest("GET", "/ws", nil), &m),
		"the websocket upgrades at /ws, outside the versioned prefix")

	var miss mux.RouteMatch
	assert.False(t, r.Match(httptest.NewRequest("GET", "/v1/chat", nil), &miss))
}

func TestPagination(t *testing.T) {
	cases := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", defaultPageSize, 0},
		{"?limit=5&offset=10", 5, 10},
		{"?limit=9999", maxPageSize, 0},
		{"?limit=-1&offset=-2", defaultPageSize, 0},
		{"?limit=abc", defaultPageSize, 0},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/v1/jobs"+tc.query, nil)
		limit, offset := pagination(r)
		assert.Equal(t, tc.wantLimit, limit, tc.query)
		assert.Equal(t, tc.wantOffset, offset, tc.query)
	}
}

func TestWriteErrorShape(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, 400, codeValidation, "name is required")

	require.Equal(t, 400, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, codeValidation, body.Error.Code)
	assert.Equal(t, "name is required", body.Error.Message)
}

func TestDomainErrorMapping(t *testing.T) {
	s := &Server{logger: log.New(log.Writer(), "[API] ", log.LstdFlags)}

	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{store.ErrNotFound, 404, codeNotFound},
		{store.ErrDuplicateJob, 409, codeDuplicateJob},
		{store.ErrConflict, 409, codeStateConflict},
		{jobs.ErrNotParticipant, 403, codeForbidden},
		{jobs.ErrTerminal, 409, codeStateConflict},
		{jobs.ErrBadSignature, 401, codeInvalidSignature},
		{sigverify.ErrExpired, 401, codeInvalidSignature},
		{sigverify.ErrReplay, 401, codeInvalidSignature},
		{sigverify.ErrVerify, 502, codeUpstream},
		{errors.New("boom"), 500, codeInternal},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		s.writeDomainError(rec, tc.err)

		var body errorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), tc.err.Error())
		assert.Equal(t, tc.wantStatus, rec.Code, tc.err.Error())
		assert.Equal(t, tc.wantCode, body.Error.Code, tc.err.Error())
	}
}

func TestDomainErrorWrapped(t *testing.T) {
	s := &Server{logger: log.New(log.Writer(), "[API] ", log.LstdFlags)}

	rec := httptest.NewRecorder()
	s.writeDomainError(rec, errors.Join(errors.New("load job"), store.ErrNotFound))
	assert.Equal(t, 404, rec.Code)
}
