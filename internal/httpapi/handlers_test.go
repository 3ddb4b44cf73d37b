package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haneulab/deepresearch/internal/bus"
	"github.com/haneulab/deepresearch/internal/config"
	"github.com/haneulab/deepresearch/internal/engine"
	"github.com/haneulab/deepresearch/internal/llm"
	"github.com/haneulab/deepresearch/internal/prompts"
	"github.com/haneulab/deepresearch/internal/research"
	"github.com/haneulab/deepresearch/internal/search"
	"github.com/haneulab/deepresearch/internal/session"
)

type apiRig struct {
	api    *API
	store  session.Store
	bus    *bus.Bus
	engine *engine.Engine
	mux    *http.ServeMux
}

// scriptedBackend answers every prompt with a canned reply, enough to drive a
// session end to end through the HTTP surface.
func scriptedBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		reply := "generic reply"
		if strings.Contains(req.Prompt, "research supervisor") || strings.Contains(req.Prompt, "연구 감독자") {
			reply = `[{"question": "single task", "description": "d"}]`
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"response": reply, "done": true})
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func newAPIRig(t *testing.T, llmURL string) *apiRig {
	t.Helper()
	logger := zap.NewNop()

	gw, err := llm.NewGateway(config.LLMConfig{
		Provider:         config.ProviderLocal,
		Endpoints:        map[string]string{"local": llmURL},
		RequestTimeoutMS: 5000,
	}, logger)
	require.NoError(t, err)

	sc := search.NewClient(config.SearchConfig{MaxResults: 5, Endpoint: "http://unused.invalid"}, logger)

	store, err := session.New(filepath.Join(t.TempDir(), "api.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg, err := prompts.NewRegistry()
	require.NoError(t, err)

	b := bus.New()
	eng := engine.New(gw, sc, reg, store, b, engine.Config{}, logger)

	api := New(store, eng, b, gw, sc, logger)
	mux := http.NewServeMux()
	api.Register(mux)
	return &apiRig{api: api, store: store, bus: b, engine: eng, mux: mux}
}

func (rig *apiRig) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	rig.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestStartValidation(t *testing.T) {
	srv := scriptedBackend(t)
	defer srv.Close()
	rig := newAPIRig(t, srv.URL)

	cases := []struct {
		name string
		body map[string]interface{}
	}{
		{"empty query", map[string]interface{}{"query": ""}},
		{"whitespace query", map[string]interface{}{"query": "   "}},
		{"query too long", map[string]interface{}{"query": strings.Repeat("a", 1001)}},
		{"bad language", map[string]interface{}{"query": "q", "language": "fr"}},
		{"bad depth", map[string]interface{}{"query": "q", "depth": "abyssal"}},
		{"too many researchers", map[string]interface{}{"query": "q", "max_researchers": 9}},
		{"negative researchers", map[string]interface{}{"query": "q", "max_researchers": -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := rig.do(t, http.MethodPost, "/api/v1/research/start", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode[map[string]interface{}](t, rec)
			assert.Equal(t, string(research.KindInvalidInput), body["kind"])
		})
	}
}

func TestStartDetectsKorean(t *testing.T) {
	srv := scriptedBackend(t)
	defer srv.Close()
	rig := newAPIRig(t, srv.URL)

	rec := rig.do(t, http.MethodPost, "/api/v1/research/start", map[string]interface{}{
		"query": "AI 기술의 최신 동향",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[startResponse](t, rec)
	assert.Equal(t, "ko", resp.Language)
	assert.Equal(t, "started", resp.Status)
	assert.NotEmpty(t, resp.SessionID)

	// stop the background workflow before the store is torn down
	rig.engine.Cancel(resp.SessionID)
	rig.engine.Wait()
}

func TestStatusUnknownSession(t *testing.T) {
	srv := scriptedBackend(t)
	defer srv.Close()
	rig := newAPIRig(t, srv.URL)

	for _, path := range []string{
		"/api/v1/research/nope",
		"/api/v1/research/nope/report",
	} {
		rec := rig.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec := rig.do(t, http.MethodDelete, "/api/v1/research/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportGatedOnCompletion(t *testing.T) {
	srv := scriptedBackend(t)
	defer srv.Close()
	rig := newAPIRig(t, srv.URL)

	sess, err := rig.store.Create(context.Background(), research.Spec{
		Question: "q", Language: research.LangEnglish, Depth: research.DepthShallow, MaxResearchers: 1,
	})
	require.NoError(t, err)

	rec := rig.do(t, http.MethodGet, "/api/v1/research/"+sess.ID+"/report", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err = rig.store.Update(context.Background(), sess.ID, func(s *research.Session) error {
		s.Stage = research.StageCompleted
		s.Progress = 100
		s.State.FinalReport = "# Done"
		s.State.Subtasks = []research.Subtask{{Question: "sub"}}
		s.State.Summaries = []research.Summary{{SubtaskRef: 0, Text: "t", Sources: []string{"https://a"}}}
		return nil
	})
	require.NoError(t, err)

	rec = rig.do(t, http.MethodGet, "/api/v1/research/"+sess.ID+"/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[reportResponse](t, rec)
	assert.Equal(t, "# Done", resp.Report)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, []string{"https://a"}, resp.Sources[0])
}

func TestListFiltersAndPages(t *testing.T) {
	srv := scriptedBackend(t)
	defer srv.Close()
	rig := newAPIRig(t, srv.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sess, err := rig.store.Create(ctx, research.Spec{
			Question: fmt.Sprintf("q%d", i), Language: research.LangEnglish,
			Depth: research.DepthShallow, MaxResearchers: 1,
		})
		require.NoError(t, err)
		if i == 0 {
			_, err = rig.store.Update(ctx, sess.ID, func(s *research.Session) error {
				s.Stage = research.StageCompleted
				return nil
			})
			require.NoError(t, err)
		}
	}

	rec := rig.do(t, http.MethodGet, "/api/v1/research?stage=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[listResponse](t, rec)
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, research.StageCompleted, resp.Sessions[0].Stage)

	rec = rig.do(t, http.MethodGet, "/api/v1/research?limit=2", nil)
	resp = decode[listResponse](t, rec)
	assert.Equal(t, 3, resp.Total)
	assert.Len(t, resp.Sessions, 2)
}

func TestCancelIdempotent(t *testing.T) {
	srv := scriptedBackend(t)
	defer srv.Close()
	rig := newAPIRig(t, srv.URL)

	sess, err := rig.store.Create(context.Background(), research.Spec{
		Question: "q", Language: research.LangEnglish, Depth: research.DepthShallow, MaxResearchers: 1,
	})
	require.NoError(t, err)
	_, err = rig.store.Update(context.Background(), sess.ID, func(s *research.Session) error {
		s.Stage = research.StageErrored
		s.ErrorKind = research.KindCancelled
		return nil
	})
	require.NoError(t, err)

	first := rig.do(t, http.MethodPost, "/api/v1/research/"+sess.ID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, first.Code)
	second := rig.do(t, http.MethodPost, "/api/v1/research/"+sess.ID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, second.Code)

	loaded, err := rig.store.Load(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, research.KindCancelled, loaded.ErrorKind)
}

func TestHealth(t *testing.T) {
	srv := scriptedBackend(t)
	defer srv.Close()
	rig := newAPIRig(t, srv.URL)

	rec := rig.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[healthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.LLMAvailable)
	assert.False(t, resp.SearchAvailable) // no search key configured
}

func TestSSEReplaysTerminalForLateSubscriber(t *testing.T) {
	srv := scriptedBackend(t)
	defer srv.Close()
	rig := newAPIRig(t, srv.URL)

	sess, err := rig.store.Create(context.Background(), research.Spec{
		Question: "q", Language: research.LangEnglish, Depth: research.DepthShallow, MaxResearchers: 1,
	})
	require.NoError(t, err)

	// the session finished before anyone subscribed
	rig.bus.Publish(sess.ID, bus.Event{Type: bus.TypeProgressUpdate, Stage: research.StageFinalizing, Progress: 95})
	rig.bus.Publish(sess.ID, bus.Event{Type: bus.TypeComplete, Stage: research.StageCompleted, Progress: 100})

	apiSrv := httptest.NewServer(rig.mux)
	defer apiSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		apiSrv.URL+"/stream/sse?session_id="+sess.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			types = append(types, strings.TrimPrefix(line, "event: "))
		}
	}
	require.NotEmpty(t, types)
	assert.Equal(t, string(bus.TypeProgressUpdate), types[0])
	assert.Equal(t, string(bus.TypeComplete), types[len(types)-1])
}

func TestSSEUnknownSession(t *testing.T) {
	srv := scriptedBackend(t)
	defer srv.Close()
	rig := newAPIRig(t, srv.URL)

	rec := rig.do(t, http.MethodGet, "/stream/sse?session_id=ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORS([]string{"https://app.example"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
