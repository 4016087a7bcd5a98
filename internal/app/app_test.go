package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fanoutlab/fanoutlab/internal/config"
	"github.com/fanoutlab/fanoutlab/internal/steps"
	"github.com/fanoutlab/fanoutlab/internal/trace"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.GRPC.Enabled = false
	cfg.Workers.PollInterval = 20 * time.Millisecond
	return cfg
}

func TestApp_SeedFlowsThroughWorkers(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	defer a.Stop(ctx)

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/seed/fanout-trace", "application/json", nil)
	require.NoError(t, err)
	var seeded struct {
		CorrelationIDs []string `json:"correlationIds"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&seeded))
	resp.Body.Close()
	require.Len(t, seeded.CorrelationIDs, 3)

	// OrderPlaced/high reaches fulfillment and analytics.
	cid := seeded.CorrelationIDs[0]
	require.Eventually(t, func() bool {
		tr, err := a.traces.GetTrace(ctx, cid)
		return err == nil && tr.Summary.FulfillmentDone && tr.Summary.AnalyticsDone
	}, 5*time.Second, 20*time.Millisecond)

	sums, err := a.traces.Summaries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sums, 3)
}

func TestApp_StartTwiceFails(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	defer a.Stop(ctx)

	require.Error(t, a.Start(ctx))
}

func TestApp_BackfillsCatalogFromStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers.Enabled = false
	cfg.Resolve()

	// A trace written while the index was unavailable.
	key := filepath.Join(cfg.Storage.Path, filepath.FromSlash(steps.Key("orphan", steps.NamePublished)))
	require.NoError(t, os.MkdirAll(filepath.Dir(key), 0o755))
	require.NoError(t, os.WriteFile(key, []byte(`{"t":1,"message":{"correlationId":"orphan"}}`), 0o644))

	a, err := New(cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	defer a.Stop(ctx)

	ids, err := a.catalog.ListCorrelationIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"orphan"}, ids)

	sums, err := a.traces.Summaries(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []trace.Summary{trace.SummarizeNames("orphan", []string{steps.Key("orphan", steps.NamePublished)})}, sums)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "ftp"
	_, err := New(cfg)
	require.Error(t, err)
}
