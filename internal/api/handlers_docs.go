package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dgallion1/parentdoc/internal/doctree"
	"github.com/dgallion1/parentdoc/internal/rag"
	"github.com/go-chi/chi/v5"
)

type documentInput struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	DocID string `json:"doc_id"`
}

type ingestRequest struct {
	Documents []documentInput `json:"documents"`
}

type ingestResponse struct {
	ParentsCreated  int      `json:"parents_created"`
	ChildrenCreated int      `json:"children_created"`
	DocIDs          []string `json:"doc_ids"`
}

// handleIngestDocuments segments and indexes raw documents synchronously.
func (s *Server) handleIngestDocuments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	var body ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.Documents == nil {
		jsonError(w, "documents is required", http.StatusBadRequest)
		return
	}

	docs := make([]doctree.Document, len(body.Documents))
	for i, d := range body.Documents {
		docs[i] = doctree.Document{DocID: d.DocID, Title: d.Title, Text: d.Text}
	}
	res, err := s.svc.IngestDocuments(r.Context(), docs)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ingestResponse{
		ParentsCreated:  res.ParentsCreated,
		ChildrenCreated: res.ChildrenCreated,
		DocIDs:          res.DocIDs,
	})
}

// handleDeleteDocument removes every stored child of a document.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	n, err := s.svc.DeleteDocument(r.Context(), docID)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doc_id": docID, "children_deleted": n})
}

// serviceError maps service failures onto status codes. Capability failures
// are upstream problems and surface as 502.
func (s *Server) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, rag.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, rag.ErrEmbedding),
		errors.Is(err, rag.ErrIndex),
		errors.Is(err, rag.ErrGeneration),
		errors.Is(err, rag.ErrParentStore):
		code = http.StatusBadGateway
	}
	if code >= 500 {
		s.log.Error("request failed", "path", r.URL.Path, "status", code, "error", err)
	}
	jsonError(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
