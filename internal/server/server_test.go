package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridstone/gridstone/internal/report"
	"github.com/gridstone/gridstone/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ts := httptest.NewServer(New(Config{Store: st}).Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func doJSON(t *testing.T, method, target string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createItemViaAPI(t *testing.T, ts *httptest.Server, projectID int64, payload itemPayload) itemResponse {
	t.Helper()
	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/projects/%d/items", ts.URL, projectID), payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[itemResponse](t, resp)
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestItemCRUD(t *testing.T) {
	ts, _ := newTestServer(t)

	created := createItemViaAPI(t, ts, 7, itemPayload{
		Name: "Demolition", Duration: 3, TimingMode: "dependent", ManualStartPeriod: 1,
	})
	assert.Equal(t, int64(7), created.ProjectID)
	assert.Equal(t, "Demolition", created.Name)
	assert.Nil(t, created.CalculatedStartPeriod)

	resp := doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/items/%d", ts.URL, created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[itemResponse](t, resp)
	assert.Equal(t, created, got)

	resp = doJSON(t, http.MethodPut, fmt.Sprintf("%s/api/items/%d", ts.URL, created.ID), itemPayload{
		Name: "Demolition & abatement", Duration: 4, TimingMode: "dependent", ManualStartPeriod: 2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[itemResponse](t, resp)
	assert.Equal(t, "Demolition & abatement", updated.Name)
	assert.Equal(t, 4, updated.Duration)

	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/projects/7/items", ts.URL), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := decode[[]itemResponse](t, resp)
	require.Len(t, items, 1)

	resp = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/api/items/%d", ts.URL, created.ID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/items/%d", ts.URL, created.ID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestItemValidationErrors(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/projects/1/items", itemPayload{
		Name: "Bad", TimingMode: "whenever",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/projects/1/items", itemPayload{
		TimingMode: "fixed",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/projects/nope/items", itemPayload{
		Name: "Bad", TimingMode: "fixed",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDependencyRoutes(t *testing.T) {
	ts, _ := newTestServer(t)

	foundation := createItemViaAPI(t, ts, 1, itemPayload{Name: "Foundation", Duration: 4, TimingMode: "fixed", ManualStartPeriod: 2})
	framing := createItemViaAPI(t, ts, 1, itemPayload{Name: "Framing", Duration: 10, TimingMode: "dependent"})

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/projects/1/dependencies", dependencyPayload{
		DependentItemID: framing.ID,
		TriggerItemID:   &foundation.ID,
		TriggerEvent:    "complete",
		OffsetPeriods:   1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	dep := decode[dependencyResponse](t, resp)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/projects/1/dependencies", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	deps := decode[[]dependencyResponse](t, resp)
	require.Len(t, deps, 1)
	assert.Equal(t, dep.ID, deps[0].ID)

	t.Run("invalid trigger event rejected", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/projects/1/dependencies", dependencyPayload{
			DependentItemID: framing.ID,
			TriggerItemID:   &foundation.ID,
			TriggerEvent:    "whenever",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("absolute with trigger item rejected", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/projects/1/dependencies", dependencyPayload{
			DependentItemID: framing.ID,
			TriggerItemID:   &foundation.ID,
			TriggerEvent:    "absolute",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	resp = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/api/dependencies/%d", ts.URL, dep.ID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestResolveTimelineEndpoint(t *testing.T) {
	ts, st := newTestServer(t)

	foundation := createItemViaAPI(t, ts, 1, itemPayload{Name: "Foundation", Duration: 4, TimingMode: "fixed", ManualStartPeriod: 2})
	framing := createItemViaAPI(t, ts, 1, itemPayload{Name: "Framing", Duration: 10, TimingMode: "dependent"})
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/projects/1/dependencies", dependencyPayload{
		DependentItemID: framing.ID,
		TriggerItemID:   &foundation.ID,
		TriggerEvent:    "complete",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	t.Run("dry run previews without persisting", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/projects/1/timeline/resolve", resolvePayload{DryRun: true})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		summary := decode[report.Summary](t, resp)
		assert.True(t, summary.DryRun)
		require.Len(t, summary.ResolvedPeriods, 1)
		assert.Equal(t, 6, summary.ResolvedPeriods[0].CalculatedStartPeriod)

		item, err := st.GetItem(t.Context(), framing.ID)
		require.NoError(t, err)
		assert.Nil(t, item.CalculatedStartPeriod)
	})

	t.Run("empty body applies", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/projects/1/timeline/resolve", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		summary := decode[report.Summary](t, resp)
		assert.False(t, summary.DryRun)

		item, err := st.GetItem(t.Context(), framing.ID)
		require.NoError(t, err)
		require.NotNil(t, item.CalculatedStartPeriod)
		assert.Equal(t, 6, *item.CalculatedStartPeriod)
		assert.Equal(t, 6, item.ManualStartPeriod)
	})
}

func TestResolveTimelineValidateOnly(t *testing.T) {
	ts, st := newTestServer(t)

	a := createItemViaAPI(t, ts, 1, itemPayload{Name: "A", Duration: 2, TimingMode: "dependent"})
	b := createItemViaAPI(t, ts, 1, itemPayload{Name: "B", Duration: 3, TimingMode: "dependent"})
	for _, pair := range [][2]int64{{a.ID, b.ID}, {b.ID, a.ID}} {
		trigger := pair[1]
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/projects/1/dependencies", dependencyPayload{
			DependentItemID: pair[0],
			TriggerItemID:   &trigger,
			TriggerEvent:    "complete",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/projects/1/timeline/resolve", resolvePayload{ValidateOnly: true})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	failure := decode[validationFailure](t, resp)
	assert.NotEmpty(t, failure.Errors)
	assert.Contains(t, failure.Error, "no periods were changed")

	item, err := st.GetItem(t.Context(), a.ID)
	require.NoError(t, err)
	assert.Nil(t, item.CalculatedStartPeriod)

	t.Run("plain dry run still succeeds with warnings", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/projects/1/timeline/resolve", resolvePayload{DryRun: true})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		summary := decode[report.Summary](t, resp)
		assert.NotEmpty(t, summary.Errors)
	})
}

func TestAnalyticsProxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/waterfall/runs", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"scenario":"base"}`)
	}))
	defer upstream.Close()

	st, err := store.Open(store.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	base, err := url.Parse(upstream.URL)
	require.NoError(t, err)
	ts := httptest.NewServer(New(Config{Store: st, AnalyticsURL: base}).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/analytics/waterfall/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	t.Run("disabled without base url", func(t *testing.T) {
		tsNoProxy, _ := newTestServer(t)
		resp, err := http.Get(tsNoProxy.URL + "/analytics/waterfall/runs")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
