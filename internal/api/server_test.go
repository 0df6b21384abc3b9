package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/parentdoc/internal/config"
	"github.com/dgallion1/parentdoc/internal/llm"
	"github.com/dgallion1/parentdoc/internal/pipeline"
	"github.com/dgallion1/parentdoc/internal/rag"
	"github.com/dgallion1/parentdoc/internal/vectorindex/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type letterEmbedding struct{ err error }

func (e *letterEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 26)
		for _, r := range strings.ToLower(t) {
			if r >= 'a' && r <= 'z' {
				v[r-'a']++
			}
		}
		out[i] = v
	}
	return out, nil
}
func (e *letterEmbedding) Dimensions() int { return 26 }
func (e *letterEmbedding) Model() string   { return "letters" }

type stubGenerator struct {
	stats *llm.Stats
}

func (g *stubGenerator) Generate(context.Context, string, string) (string, error) {
	g.stats.Record(12)
	return "stub answer", nil
}
func (g *stubGenerator) Model() string     { return "stub-model" }
func (g *stubGenerator) Stats() *llm.Stats { return g.stats }

type testEnv struct {
	handler http.Handler
	gen     *stubGenerator
}

func newTestEnv(t *testing.T, mutate func(*config.Config), emb *letterEmbedding) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.WorkerCount = 1
	if mutate != nil {
		mutate(&cfg)
	}
	if emb == nil {
		emb = &letterEmbedding{}
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	gen := &stubGenerator{stats: llm.NewStats(time.Hour)}

	settings := rag.DefaultSettings()
	svc, err := rag.New(settings, rag.Deps{Embedder: emb, Index: memory.New(26), Generator: gen, Logger: log})
	require.NoError(t, err)

	orch := pipeline.NewOrchestrator(cfg, svc, log)
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)

	return &testEnv{handler: NewServer(svc, orch, gen, log, cfg), gen: gen}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const ingestBody = `{"documents":[
	{"title":"Zoo","text":"Zebras graze lazily in the zoo while buzzing bees hover near the maze.","doc_id":"zoo"},
	{"title":"Kitchen","text":"Whisk eggs with milk, then fold into the flour and bake until golden."}
]}`

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","children":0}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/documents", ingestBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)["children_created"].(float64)

	rec = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, decode(t, rec)["children"])
}

type unreachableIndexService struct{ Service }

func (unreachableIndexService) Count(context.Context) (int, error) {
	return 0, errors.Join(rag.ErrIndex, errors.New("connection refused"))
}

func TestHealth_IndexUnreachable(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(unreachableIndexService{}, nil, nil, log, config.Default())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decode(t, rec)["status"])
}

func TestIngestAndQuery(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodPost, "/documents", ingestBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.EqualValues(t, 2, out["parents_created"])
	assert.EqualValues(t, 2, out["children_created"])

	rec = env.do(t, http.MethodPost, "/query", `{"query":"zebras in a maze","max_parents":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out = decode(t, rec)
	assert.Equal(t, "stub answer", out["answer"])

	children := out["children"].([]any)
	require.NotEmpty(t, children)
	first := children[0].(map[string]any)
	for _, key := range []string{"id", "parent_id", "doc_id", "title", "score", "snippet", "metadata"} {
		assert.Contains(t, first, key)
	}
	assert.Equal(t, "zoo::p0", first["parent_id"])

	parents := out["parents"].([]any)
	require.Len(t, parents, 1)
	assert.Equal(t, "Zoo", parents[0].(map[string]any)["title"])
}

func TestQueryWithoutAnswer(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.do(t, http.MethodPost, "/documents", ingestBody)

	rec := env.do(t, http.MethodPost, "/query", `{"query":"bake","generate_answer":false,"top_children":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Nil(t, out["answer"])
	assert.Contains(t, out, "answer")
	assert.Len(t, out["children"], 1)
}

func TestQueryEmptyIndex(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rec := env.do(t, http.MethodPost, "/query", `{"query":"anything"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, []any{}, out["children"])
	assert.Equal(t, []any{}, out["parents"])
	assert.Equal(t, "No relevant parent sections were retrieved.", out["answer"])
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodPost, "/query", `{"query":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec), "error")

	rec = env.do(t, http.MethodPost, "/query", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/documents", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	broken := newTestEnv(t, nil, &letterEmbedding{err: errors.New("embedding backend down")})
	rec = broken.do(t, http.MethodPost, "/documents", ingestBody)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	rec = broken.do(t, http.MethodPost, "/query", `{"query":"zebra"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = env.do(t, http.MethodGet, "/documents/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestEmptyList(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rec := env.do(t, http.MethodPost, "/documents", `{"documents":[]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	out := decode(t, rec)
	assert.EqualValues(t, 0, out["parents_created"])
	assert.EqualValues(t, 0, out["children_created"])
}

func TestDeleteDocument(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.do(t, http.MethodPost, "/documents", ingestBody)

	rec := env.do(t, http.MethodDelete, "/documents/zoo", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["children_deleted"])

	rec = env.do(t, http.MethodPost, "/query", `{"query":"zebra","generate_answer":false}`)
	for _, c := range decode(t, rec)["children"].([]any) {
		assert.NotEqual(t, "zoo", c.(map[string]any)["doc_id"])
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.APIKey = "secret" }, nil)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/query", `{"query":"q"}`).Code)
	assert.Equal(t, http.StatusUnauthorized,
		env.do(t, http.MethodPost, "/query", `{"query":"q"}`, "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK,
		env.do(t, http.MethodPost, "/query", `{"query":"q"}`, "Authorization", "Bearer secret").Code)
}

func TestCORS_AnyOrigin(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodOptions, "/query", "",
		"Origin", "http://localhost:5173",
		"Access-Control-Request-Method", "POST",
		"Access-Control-Request-Headers", "content-type")
	assert.GreaterOrEqual(t, rec.Code, 200)
	assert.Less(t, rec.Code, 300)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "content-type", strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers")))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = env.do(t, http.MethodGet, "/health", "", "Origin", "https://elsewhere.example")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_ConfiguredOrigins(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.CORSAllowedOrigins = []string{"https://app.example"}
	}, nil)

	rec := env.do(t, http.MethodGet, "/health", "", "Origin", "https://app.example")
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = env.do(t, http.MethodGet, "/health", "", "Origin", "https://evil.example")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func multipartUpload(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadAndPoll(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	body, ctype := multipartUpload(t, "notes.md", "# Zebras\n\nZebras graze in the zoo.\n", map[string]string{"doc_id": "notes"})
	req := httptest.NewRequest(http.MethodPost, "/documents/upload", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	out := decode(t, rec)
	jobID := out["job_id"].(string)
	assert.Equal(t, "/documents/jobs/"+jobID, out["poll_url"])

	var snap map[string]any
	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/documents/jobs/"+jobID, "")
		if rec.Code != http.StatusOK {
			return false
		}
		snap = decode(t, rec)
		return snap["status"] == string(pipeline.StatusCompleted)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "notes", snap["doc_id"])

	rec = env.do(t, http.MethodPost, "/query", `{"query":"zebras","generate_answer":false}`)
	children := decode(t, rec)["children"].([]any)
	require.NotEmpty(t, children)
	assert.Equal(t, "notes", children[0].(map[string]any)["doc_id"])
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	body, ctype := multipartUpload(t, "tool.exe", "MZ", nil)
	req := httptest.NewRequest(http.MethodPost, "/documents/upload", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadDisabled(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(nil, nil, nil, log, config.Default())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/documents/upload", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats/llm", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLLMStats(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.do(t, http.MethodPost, "/documents", ingestBody)
	env.do(t, http.MethodPost, "/query", `{"query":"zebra"}`)

	rec := env.do(t, http.MethodGet, "/api/stats/llm", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "stub-model", out["model"])
	assert.Contains(t, out, "stats")
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "passwd", sanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "report.pdf", sanitizeFilename(`C:\Users\me\report.pdf`))
	assert.Equal(t, "unnamed", sanitizeFilename(""))
	assert.Equal(t, "a_b.txt", sanitizeFilename("a..b.txt"))
}
