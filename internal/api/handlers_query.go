package api

import (
	"encoding/json"
	"net/http"

	"github.com/dgallion1/parentdoc/internal/doctree"
	"github.com/dgallion1/parentdoc/internal/rag"
)

type queryRequest struct {
	Query          string `json:"query"`
	TopChildren    *int   `json:"top_children"`
	MaxParents     *int   `json:"max_parents"`
	GenerateAnswer *bool  `json:"generate_answer"`
}

type childHit struct {
	ID       string                `json:"id"`
	ParentID string                `json:"parent_id"`
	DocID    string                `json:"doc_id"`
	Title    string                `json:"title"`
	Score    float64               `json:"score"`
	Snippet  string                `json:"snippet"`
	Metadata doctree.ChildMetadata `json:"metadata"`
}

type queryResponse struct {
	Query    string                  `json:"query"`
	Children []childHit              `json:"children"`
	Parents  []doctree.ParentContext `json:"parents"`
	Answer   *string                 `json:"answer"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	req := rag.QueryRequest{Query: body.Query, GenerateAnswer: true}
	if body.TopChildren != nil {
		req.TopChildren = *body.TopChildren
	}
	if body.MaxParents != nil {
		req.MaxParents = *body.MaxParents
	}
	if body.GenerateAnswer != nil {
		req.GenerateAnswer = *body.GenerateAnswer
	}

	res, err := s.svc.Query(r.Context(), req)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	out := queryResponse{
		Query:    res.Query,
		Children: make([]childHit, 0, len(res.Children)),
		Parents:  res.Parents,
		Answer:   res.Answer,
	}
	if out.Parents == nil {
		out.Parents = []doctree.ParentContext{}
	}
	for _, h := range res.Children {
		out.Children = append(out.Children, childHit{
			ID:       h.ID,
			ParentID: h.Metadata.ParentID,
			DocID:    h.Metadata.DocID,
			Title:    h.Metadata.Title,
			Score:    h.Score,
			Snippet:  h.Text,
			Metadata: h.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
