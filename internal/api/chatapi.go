package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/vap/backend/internal/files"
	"github.com/vap/backend/internal/store"
)

// requireParticipant loads the job and checks the session identity is a
// party to it.
func (s *Server) requireParticipant(w http.ResponseWriter, r *http.Request, jobID string) (*store.Session, *store.Job, bool) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return nil, nil, false
	}
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeDomainError(w, err)
		return nil, nil, false
	}
	if !job.Participant(sess.Identity) {
		writeError(w, http.StatusForbidden, codeForbidden, "not a participant of this job")
		return nil, nil, false
	}
	return sess, job, true
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	if _, _, ok := s.requireParticipant(w, r, jobID); !ok {
		return
	}
	limit, offset := pagination(r)
	msgs, err := s.store.ListMessages(r.Context(), jobID, limit, offset)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"limit":    limit,
		"offset":   offset,
	})
}

// handleUploadFile accepts one multipart upload into the job's file
// space, bounded by the service's session params when present.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	sess, job, ok := s.requireParticipant(w, r, jobID)
	if !ok {
		return
	}

	limit := int64(files.DefaultMaxBytes)
	if job.ServiceID != nil {
		if svc, err := s.store.GetService(r.Context(), *job.ServiceID); err == nil &&
			svc.SessionParams != nil && svc.SessionParams.MaxFileBytes > 0 {
			limit = svc.SessionParams.MaxFileBytes
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	saved, err := s.files.Save(r.Context(), jobID, sess.Identity, header.Filename, mimeType, file, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.hub.NotifyFileUploaded(jobID, saved)
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	if _, _, ok := s.requireParticipant(w, r, jobID); !ok {
		return
	}
	list, err := s.store.ListFiles(r.Context(), jobID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": list})
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	meta, rc, err := s.files.Open(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	defer rc.Close()

	job, err := s.store.GetJob(r.Context(), meta.JobID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !job.Participant(sess.Identity) {
		writeError(w, http.StatusForbidden, codeForbidden, "not a participant of this job")
		return
	}

	w.Header().Set("Content-Type", meta.MIMEType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.SizeBytes, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+meta.Filename+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Printf("file stream %s: %v", meta.ID, err)
	}
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if err := s.files.Delete(r.Context(), mux.Vars(r)["id"], sess.Identity); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListHold(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	sess, _, ok := s.requireParticipant(w, r, jobID)
	if !ok {
		return
	}
	limit, offset := pagination(r)
	entries, err := s.hold.List(r.Context(), jobID, sess.Identity, limit, offset)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"held": entries})
}

func (s *Server) handleReleaseHold(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	id, err := pathID64(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid hold id")
		return
	}
	msg, err := s.hold.Release(r.Context(), id, sess.Identity)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleRejectHold(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	id, err := pathID64(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid hold id")
		return
	}
	if err := s.hold.Reject(r.Context(), id, sess.Identity); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

type appealRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleAppealHold(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	id, err := pathID64(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid hold id")
		return
	}
	var req appealRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "appeal reason is required")
		return
	}
	if err := s.hold.Appeal(r.Context(), id, sess.Identity, req.Reason); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "appealed"})
}
