package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/projecteru2/core/log"

	"github.com/sparklane/sparklane/deploy"
)

// Form part names of POST /deploy.
const (
	partMetadata = "metadata"
	partFile     = "file"
)

// handleDeploy streams the multipart body. Parts other than metadata and
// file are skipped; a part without a name rejects the whole upload.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.WithFunc("server.handleDeploy")
	reqID := middleware.GetReqID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, s.uploadLimit)
	req, err := readUpload(r)
	if err != nil {
		logger.Warnf(ctx, "[%s] read upload: %v", reqID, err)
		writeError(w, deploy.MsgUpload)
		return
	}

	inst, err := s.deployer.Deploy(ctx, req)
	if err != nil {
		if inst != nil {
			logger.Warnf(ctx, "[%s] deploy %s (%s): %v", reqID, inst.ID, inst.Subdomain, err)
		} else {
			logger.Warnf(ctx, "[%s] deploy rejected: %v", reqID, err)
		}
		writeError(w, deploy.Message(err))
		return
	}
	logger.Infof(ctx, "[%s] deployed %s as %s", reqID, inst.ID, inst.Subdomain)
	writeJSON(w, http.StatusOK, struct{}{})
}

func readUpload(r *http.Request) (*deploy.Request, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	req := &deploy.Request{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return req, nil
		}
		if err != nil {
			return nil, err
		}
		if err := readPart(part, req); err != nil {
			return nil, err
		}
	}
}

func readPart(part *multipart.Part, req *deploy.Request) error {
	defer part.Close() //nolint:errcheck
	var dst *[]byte
	switch part.FormName() {
	case "":
		return errors.New("part without a form name")
	case partMetadata:
		dst = &req.Metadata
	case partFile:
		dst = &req.Archive
	default:
		_, err := io.Copy(io.Discard, part)
		return err
	}
	data, err := io.ReadAll(part)
	if err != nil {
		return err
	}
	*dst = data
	return nil
}

func writeError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
