package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haneulab/deepresearch/internal/config"
	"github.com/haneulab/deepresearch/internal/research"
)

// fakeLocal serves the local-inference generate API and records the options
// of the last request.
func fakeLocal(t *testing.T, reply string, lastTemp *atomic.Value) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Options map[string]float64 `json:"options"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if lastTemp != nil {
			lastTemp.Store(req.Options["temperature"])
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"response": reply, "done": true})
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"models": []interface{}{}})
	})
	return httptest.NewServer(mux)
}

// fakeOpenAI serves the chat completions API.
func fakeOpenAI(t *testing.T, reply string, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
		})
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{}})
	})
	return httptest.NewServer(mux)
}

func gatewayFor(t *testing.T, cfg config.LLMConfig) *Gateway {
	t.Helper()
	if cfg.RequestTimeoutMS == 0 {
		cfg.RequestTimeoutMS = 5000
	}
	gw, err := NewGateway(cfg, zap.NewNop())
	require.NoError(t, err)
	return gw
}

func TestStageProfiles(t *testing.T) {
	var lastTemp atomic.Value
	srv := fakeLocal(t, "ok", &lastTemp)
	defer srv.Close()

	gw := gatewayFor(t, config.LLMConfig{
		Provider:  config.ProviderLocal,
		Endpoints: map[string]string{"local": srv.URL},
		Model:     "test-model",
	})

	cases := []struct {
		stage Stage
		temp  float64
	}{
		{StageSummarization, 0.1},
		{StageResearch, 0.3},
		{StageCompression, 0.2},
		{StageFinalReport, 0.4},
	}
	for _, tc := range cases {
		_, err := gw.Generate(context.Background(), tc.stage, "prompt")
		require.NoError(t, err)
		assert.Equal(t, tc.temp, lastTemp.Load(), "stage %s", tc.stage)
	}
}

func TestFallbackToNextProvider(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer failing.Close()
	backup := fakeOpenAI(t, "from backup", nil)
	defer backup.Close()

	gw := gatewayFor(t, config.LLMConfig{
		Provider:  config.ProviderLocal,
		Endpoints: map[string]string{"local": failing.URL, "backup": backup.URL},
	})

	text, err := gw.Generate(context.Background(), StageResearch, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "from backup", text)
}

func TestAllProvidersFail(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer failing.Close()

	gw := gatewayFor(t, config.LLMConfig{
		Provider:  config.ProviderLocal,
		Endpoints: map[string]string{"local": failing.URL},
	})

	_, err := gw.Generate(context.Background(), StageResearch, "prompt")
	require.Error(t, err)
	assert.Equal(t, research.KindLLMUnavailable, research.KindOf(err))
}

func TestTimeoutFallsBack(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer slow.Close()
	backup := fakeOpenAI(t, "fast answer", nil)
	defer backup.Close()

	gw := gatewayFor(t, config.LLMConfig{
		Provider:         config.ProviderLocal,
		Endpoints:        map[string]string{"local": slow.URL, "backup": backup.URL},
		RequestTimeoutMS: 100,
	})

	text, err := gw.Generate(context.Background(), StageResearch, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "fast answer", text)
}

func TestHybridPerStageRouting(t *testing.T) {
	var localTemp atomic.Value
	local := fakeLocal(t, "local answer", &localTemp)
	defer local.Close()
	var vllmCalls atomic.Int64
	vllm := fakeOpenAI(t, "vllm answer", &vllmCalls)
	defer vllm.Close()

	gw := gatewayFor(t, config.LLMConfig{
		Provider:  config.ProviderHybrid,
		Endpoints: map[string]string{"local": local.URL, "vllm": vllm.URL},
		PerStage:  map[string]string{"final_report": "vllm", "research": "local"},
	})

	text, err := gw.Generate(context.Background(), StageFinalReport, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "vllm answer", text)
	assert.Equal(t, int64(1), vllmCalls.Load())

	text, err = gw.Generate(context.Background(), StageResearch, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "local answer", text)
}

func TestCancelledContextDoesNotFallBack(t *testing.T) {
	backup := fakeOpenAI(t, "should not be reached", nil)
	defer backup.Close()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer slow.Close()

	gw := gatewayFor(t, config.LLMConfig{
		Provider:  config.ProviderLocal,
		Endpoints: map[string]string{"local": slow.URL, "backup": backup.URL},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := gw.Generate(ctx, StageResearch, "prompt")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProbe(t *testing.T) {
	srv := fakeLocal(t, "ok", nil)
	gw := gatewayFor(t, config.LLMConfig{
		Provider:  config.ProviderLocal,
		Endpoints: map[string]string{"local": srv.URL},
	})
	assert.True(t, gw.Probe(context.Background(), time.Second))

	srv.Close()
	assert.False(t, gw.Probe(context.Background(), time.Second))
}

func TestStreamDisabledDegradesToGenerate(t *testing.T) {
	srv := fakeLocal(t, "single chunk", nil)
	defer srv.Close()

	gw := gatewayFor(t, config.LLMConfig{
		Provider:  config.ProviderLocal,
		Endpoints: map[string]string{"local": srv.URL},
	})

	ch, err := gw.Stream(context.Background(), StageResearch, "prompt")
	require.NoError(t, err)
	var got string
	for chunk := range ch {
		got += chunk
	}
	assert.Equal(t, "single chunk", got)
}
