package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/warnlevel-sync/internal/notify"
	"github.com/i474232898/warnlevel-sync/internal/store"
	"github.com/i474232898/warnlevel-sync/internal/warnlevel"
)

type stubFetcher struct {
	dataset warnlevel.RawDataset
	err     error
}

func (f *stubFetcher) Fetch(context.Context) (warnlevel.RawDataset, error) {
	return f.dataset, f.err
}

func newTestApp(t *testing.T, f warnlevel.Fetcher) *fiber.App {
	t.Helper()
	st, err := store.Open(context.Background(), store.NewMemoryBackend())
	require.NoError(t, err)

	app := fiber.New()
	RegisterRoutes(app, warnlevel.NewService(st, f), nil)
	return app
}

func do(t *testing.T, app *fiber.App, method, target string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	if len(body) > 0 && body[0] == '{' {
		require.NoError(t, json.Unmarshal(body, &out))
	}
	return resp.StatusCode, out
}

func wienFetcher() *stubFetcher {
	return &stubFetcher{dataset: warnlevel.RawDataset{
		PublishedAt: time.Date(2020, 10, 1, 12, 0, 0, 0, time.UTC),
		Regions: []warnlevel.RawRegion{
			{ID: "900", Name: "Wien", LevelCode: "3"},
			{ID: "10101", Name: "Eisenstadt", LevelCode: "2"},
		},
	}}
}

// TestRegionKeyValidation verifies that malformed keys are rejected before lookup.
func TestRegionKeyValidation(t *testing.T) {
	app := newTestApp(t, wienFetcher())

	for _, target := range []string{
		"/api/v1/regions/abc",
		"/api/v1/regions/12345678901",
		"/api/v1/level/9x0",
		"/api/v1/regions/-900",
		"/api/v1/regions/9.5",
		"/api/v1/level/+900",
	} {
		status, _ := do(t, app, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, status, target)
	}
}

func TestLookupBeforeAndAfterSync(t *testing.T) {
	app := newTestApp(t, wienFetcher())

	status, _ := do(t, app, http.MethodGet, "/api/v1/regions/900")
	assert.Equal(t, http.StatusNotFound, status)

	status, body := do(t, app, http.MethodGet, "/api/v1/level/900")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "0", body["warnstufe"])
	assert.Equal(t, "grey", body["color"])

	status, body = do(t, app, http.MethodPost, "/api/v1/sync")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "synced", body["outcome"])

	status, body = do(t, app, http.MethodGet, "/api/v1/regions/900")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Wien", body["name"])
	assert.Equal(t, "3", body["warnstufe"])
	assert.EqualValues(t, 3, body["level"])
	assert.Equal(t, "orange", body["color"])

	// A second sync within the threshold is a no-op.
	status, body = do(t, app, http.MethodPost, "/api/v1/sync")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "fresh", body["outcome"])
}

func TestRegionsListSortedByName(t *testing.T) {
	app := newTestApp(t, wienFetcher())
	do(t, app, http.MethodPost, "/api/v1/sync")

	status, body := do(t, app, http.MethodGet, "/api/v1/regions")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["count"])

	regions, ok := body["regions"].([]any)
	require.True(t, ok)
	require.Len(t, regions, 2)
	assert.Equal(t, "Eisenstadt", regions[0].(map[string]any)["name"])
	assert.Equal(t, "Wien", regions[1].(map[string]any)["name"])
}

func TestStatus(t *testing.T) {
	app := newTestApp(t, wienFetcher())

	status, body := do(t, app, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["stale"])
	assert.Nil(t, body["fetchedAt"])
	assert.EqualValues(t, 86400, body["thresholdSeconds"])

	do(t, app, http.MethodPost, "/api/v1/sync")

	status, body = do(t, app, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["stale"])
	assert.EqualValues(t, 2, body["count"])
	assert.Equal(t, "2020-10-01T12:00:00Z", body["datasetAsOf"])
}

func TestSyncFailureCategories(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		status   int
		category string
	}{
		{"network", warnlevel.NewNetworkError(errors.New("connection refused")), http.StatusBadGateway, "network"},
		{"decode", warnlevel.NewDecodeError(errors.New("empty array")), http.StatusBadGateway, "decode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(t, &stubFetcher{err: tc.err})

			status, body := do(t, app, http.MethodPost, "/api/v1/sync")
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.category, body["category"])
			assert.Equal(t, "failed", body["outcome"])
		})
	}
}

func TestSyncErrorStatusStorage(t *testing.T) {
	err := &warnlevel.SyncError{Stage: warnlevel.StageStore, Err: warnlevel.NewPersistError(errors.New("disk full"))}
	code, category := syncErrorStatus(err)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "storage", category)
}

func TestEventsDisabledWithoutBroker(t *testing.T) {
	app := newTestApp(t, wienFetcher())

	status, _ := do(t, app, http.MethodGet, "/api/v1/events")
	assert.Equal(t, http.StatusNotImplemented, status)
}

func TestEventsStreamsSnapshotAfterSync(t *testing.T) {
	st, err := store.Open(context.Background(), store.NewMemoryBackend())
	require.NoError(t, err)

	broker := notify.NewBroker()
	app := fiber.New()
	RegisterRoutes(app, warnlevel.NewService(st, wienFetcher(), warnlevel.WithNotifier(broker)), broker)

	go func() {
		// Wait for the stream to subscribe, sync once, then end the stream.
		deadline := time.Now().Add(3 * time.Second)
		for broker.Len() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil), 3000)
		if err == nil {
			resp.Body.Close()
		}
		broker.Close()
	}()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/events", nil), 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get(fiber.HeaderContentType))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	frames := strings.Split(string(body), "\n\n")
	var data string
	for _, frame := range frames {
		if strings.HasPrefix(frame, "event: snapshot\n") {
			data = strings.TrimPrefix(frame, "event: snapshot\ndata: ")
			break
		}
	}
	require.NotEmpty(t, data, "no snapshot frame in %q", body)

	var ev warnlevel.SnapshotEvent
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, 2, ev.Count)
	assert.NotEmpty(t, ev.SyncID)
	assert.True(t, ev.DatasetAsOf.Equal(time.Date(2020, 10, 1, 12, 0, 0, 0, time.UTC)))
}
