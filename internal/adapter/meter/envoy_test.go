package meter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/berfenger/surplus2evse/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const envoyMeters = `[
  {"eid": 704643328, "state": "enabled", "measurementType": "production", "phaseMode": "split"},
  {"eid": 704643584, "state": "enabled", "measurementType": "net-consumption", "phaseMode": "split"}
]`

const envoyReadingsFmt = `[
  {"eid": 704643328, "timestamp": %d, "actEnergyDlvd": 9999.0, "actEnergyRcvd": 1.0, "voltage": 241.0},
  {"eid": 704643584, "timestamp": %d, "actEnergyDlvd": 1200.5, "actEnergyRcvd": %f, "voltage": 239.8}
]`

type envoyStub struct {
	readings  atomic.Int32
	exported  atomic.Int64
	authFails atomic.Bool
}

func (s *envoyStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ivp/meters", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, envoyMeters)
	})
	mux.HandleFunc("/ivp/meters/readings", func(w http.ResponseWriter, r *http.Request) {
		n := s.readings.Add(1)
		ts := int64(1717243200) + int64(n)*60
		fmt.Fprintf(w, envoyReadingsFmt, ts, ts, float64(s.exported.Load()))
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authFails.Load() || r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func newEnvoyTest(t *testing.T) (*EnvoyMeterClient, *envoyStub) {
	stub := &envoyStub{}
	server := httptest.NewServer(stub.handler(t))
	t.Cleanup(server.Close)
	return NewEnvoyMeterClient(server.URL, "secret", false, zap.Must(zap.NewDevelopment())), stub
}

func TestEnvoyFetch(t *testing.T) {

	require := require.New(t)
	envoy, stub := newEnvoyTest(t)
	stub.exported.Store(5000)

	r, err := envoy.Fetch(context.Background())
	require.NoError(err)
	require.Equal(time.Unix(1717243260, 0), r.Timestamp)
	require.Equal(1200.5, r.EnergyImportedWh)
	require.Equal(5000.0, r.EnergyExportedWh)
	require.Equal(239.8, r.VoltageV)
	require.NotNil(envoy.eid)
	require.Equal(int64(704643584), *envoy.eid)

	stub.exported.Store(5100)
	r2, err := envoy.Fetch(context.Background())
	require.NoError(err)
	require.Equal(time.Minute, r2.Timestamp.Sub(r.Timestamp))
	require.Equal(5100.0, r2.EnergyExportedWh)
}

func TestEnvoyUnauthorized(t *testing.T) {

	envoy, stub := newEnvoyTest(t)
	stub.authFails.Store(true)

	_, err := envoy.Fetch(context.Background())
	var fetchErr *domain.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, domain.FetchUnreachable, fetchErr.Kind)
}

func TestEnvoyMalformed(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"not": "a list"`)
	}))
	defer server.Close()
	envoy := NewEnvoyMeterClient(server.URL, "secret", false, zap.NewNop())

	_, err := envoy.Fetch(context.Background())
	var fetchErr *domain.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, domain.FetchMalformedResponse, fetchErr.Kind)
}

func TestEnvoyNoNetMeter(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"eid": 1, "state": "enabled", "measurementType": "production"}]`)
	}))
	defer server.Close()
	envoy := NewEnvoyMeterClient(server.URL, "secret", false, zap.NewNop())

	_, err := envoy.Fetch(context.Background())
	var fetchErr *domain.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, domain.FetchMalformedResponse, fetchErr.Kind)
	assert.Nil(t, envoy.eid)
}

func TestEnvoyTimeout(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()
	envoy := NewEnvoyMeterClient(server.URL, "secret", false, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := envoy.Fetch(ctx)
	var fetchErr *domain.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, domain.FetchTimeout, fetchErr.Kind)
}
