package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/berfenger/surplus2evse/internal/core/domain"
	"github.com/berfenger/surplus2evse/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeMaster answers health and status requests like the master actor.
func fakeMaster(healthy bool, status domain.GetChargeStatusResponse) actor.ReceiveFunc {
	return func(ctx actor.Context) {
		switch ctx.Message().(type) {
		case domain.ActorHealthRequest:
			ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: healthy})
		case domain.GetChargeStatusRequest:
			ctx.Respond(status)
		}
	}
}

func newTestServer(t *testing.T, receive actor.ReceiveFunc, metrics http.Handler) http.Handler {
	as := actorutil.NewActorSystemWithZapLogger(zap.NewNop())
	t.Cleanup(as.Shutdown)
	pid := as.Root.Spawn(actor.PropsFromFunc(receive))
	s := &Server{
		rootContext: as.Root,
		masterActor: pid,
		metrics:     metrics,
	}
	return s.RegisterRoutes()
}

func get(handler http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthCheck(t *testing.T) {

	assert := assert.New(t)

	rec := get(newTestServer(t, fakeMaster(true, domain.GetChargeStatusResponse{}), nil), "/healthcheck")
	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal("health_check: OK", rec.Body.String())

	rec = get(newTestServer(t, fakeMaster(false, domain.GetChargeStatusResponse{}), nil), "/healthcheck")
	assert.Equal(http.StatusServiceUnavailable, rec.Code)
}

func TestStatus(t *testing.T) {

	require := require.New(t)

	next := time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC)
	handler := newTestServer(t, fakeMaster(true, domain.GetChargeStatusResponse{
		ActorState: "idle",
		Controller: domain.ControllerState{State: domain.ChargeStateCharging, LastCommanded: domain.EnableCommand(12)},
		LastReport: &domain.CycleReport{
			Timestamp: next.Add(-time.Minute),
			Outcome:   domain.CycleApplied,
			Sample:    &domain.NetPowerSample{AverageWatts: 2880, Interval: time.Minute},
		},
		Evse:      &domain.EvseStatus{State: "charging", StateCode: 3, Enabled: true, Charging: true, ChargeCurrentAmps: 12},
		NextCycle: next,
	}), nil)

	rec := get(handler, "/status")
	require.Equal(http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal("idle", doc["actor_state"])
	require.Equal("charging", doc["controller"].(map[string]any)["state"])
	require.Equal("applied", doc["last_cycle"].(map[string]any)["outcome"])
	require.Equal(3.0, doc["evse"].(map[string]any)["state_code"])
	require.Equal("2024-06-01T12:01:00Z", doc["next_cycle"])
	require.Contains(doc, "version")
}

func TestStatusBeforeFirstCycle(t *testing.T) {

	require := require.New(t)

	rec := get(newTestServer(t, fakeMaster(true, domain.GetChargeStatusResponse{ActorState: "starting"}), nil), "/status")
	require.Equal(http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &doc))
	require.NotContains(doc, "last_cycle")
	require.NotContains(doc, "evse")
	require.NotContains(doc, "next_cycle")
}

func TestMetricsRoute(t *testing.T) {

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("surplus2evse_cycles_total 1\n"))
	})

	rec := get(newTestServer(t, fakeMaster(true, domain.GetChargeStatusResponse{}), metrics), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "surplus2evse_cycles_total")

	rec = get(newTestServer(t, fakeMaster(true, domain.GetChargeStatusResponse{}), nil), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
