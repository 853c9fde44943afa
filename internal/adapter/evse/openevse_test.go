package evse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/surplus2evse/internal/core/domain"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// rapiStub answers RAPI commands from a fixed table and records them.
type rapiStub struct {
	mu       sync.Mutex
	commands []string
	replies  map[string]string
	auth     string
}

func (s *rapiStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.auth != "" && r.Header.Get("Authorization") != s.auth {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	line := r.URL.Query().Get("rapi")
	s.mu.Lock()
	s.commands = append(s.commands, line)
	ret, ok := s.replies[strings.Fields(line)[0]]
	s.mu.Unlock()
	if !ok {
		ret = "$OK^20"
	}
	json.NewEncoder(w).Encode(rapiResponse{Cmd: line, Ret: ret})
}

func (s *rapiStub) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *rapiStub) reply(cmd, ret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replies == nil {
		s.replies = map[string]string{}
	}
	if ret == "" {
		delete(s.replies, cmd)
		return
	}
	s.replies[cmd] = ret
}

func newOpenEVSETest(t *testing.T, stub *rapiStub, auth string, clk clock.Clock) *OpenEVSEClient {
	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)
	return NewOpenEVSEClient(server.URL, auth, 5*time.Minute, clk, zap.Must(zap.NewDevelopment()))
}

func TestOpenEVSEEnable(t *testing.T) {

	require := require.New(t)

	stub := &rapiStub{}
	client := newOpenEVSETest(t, stub, "", clock.NewMock())

	require.NoError(client.Apply(context.Background(), domain.EnableCommand(16.7)))
	require.Equal([]string{"$SC 16 V", "$FE"}, stub.sent())

	require.NoError(client.Apply(context.Background(), domain.DisableCommand()))
	require.Equal([]string{"$SC 16 V", "$FE", "$FS"}, stub.sent())
}

func TestOpenEVSEResendInterval(t *testing.T) {

	require := require.New(t)

	stub := &rapiStub{}
	clk := clock.NewMock()
	client := newOpenEVSETest(t, stub, "", clk)
	ctx := context.Background()

	require.NoError(client.Apply(ctx, domain.EnableCommand(10)))
	clk.Add(time.Minute)
	require.NoError(client.Apply(ctx, domain.EnableCommand(10)))
	require.Len(stub.sent(), 2, "unchanged command is not sent again")

	clk.Add(5 * time.Minute)
	require.NoError(client.Apply(ctx, domain.EnableCommand(10)))
	require.Len(stub.sent(), 4, "resent after the interval")

	require.NoError(client.Apply(ctx, domain.EnableCommand(11)))
	require.Len(stub.sent(), 6)
}

func TestOpenEVSERejected(t *testing.T) {

	require := require.New(t)

	stub := &rapiStub{replies: map[string]string{"$SC": "$NK^21"}}
	client := newOpenEVSETest(t, stub, "", clock.NewMock())

	err := client.Apply(context.Background(), domain.EnableCommand(40))
	require.Error(err)
	require.True(domain.IsRejected(err))
	require.Equal([]string{"$SC 40 V"}, stub.sent(), "enable not sent after rejection")

	// failed command is forgotten, so the same command goes out again
	stub.reply("$SC", "")
	require.NoError(client.Apply(context.Background(), domain.EnableCommand(40)))
	require.Len(stub.sent(), 3)
}

func TestOpenEVSEStatus(t *testing.T) {

	require := require.New(t)

	stub := &rapiStub{replies: map[string]string{
		"$GE": "$OK 24 0121^21",
		"$GS": "$OK 3 1234^2C",
	}}
	client := newOpenEVSETest(t, stub, "", clock.NewMock())

	status, err := client.Status(context.Background())
	require.NoError(err)
	require.Equal(domain.EvseStatus{
		Enabled:           true,
		Charging:          true,
		ChargeCurrentAmps: 24,
		State:             "charging",
		StateCode:         3,
	}, status)

	stub.reply("$GS", "$OK 254 0^1A")
	status, err = client.Status(context.Background())
	require.NoError(err)
	require.False(status.Enabled)
	require.Equal("sleeping", status.State)

	stub.reply("$GS", "$OK garbage")
	_, err = client.Status(context.Background())
	require.Error(err)
}

func TestOpenEVSEBasicAuth(t *testing.T) {

	stub := &rapiStub{auth: "Basic YWRtaW46c2VjcmV0"}

	client := newOpenEVSETest(t, stub, "admin:secret", clock.NewMock())
	assert.NoError(t, client.Apply(context.Background(), domain.DisableCommand()))

	client = newOpenEVSETest(t, stub, "YWRtaW46c2VjcmV0", clock.NewMock())
	assert.NoError(t, client.Apply(context.Background(), domain.DisableCommand()))

	client = newOpenEVSETest(t, stub, "", clock.NewMock())
	err := client.Apply(context.Background(), domain.DisableCommand())
	var applyErr *domain.ApplyError
	require.True(t, errors.As(err, &applyErr))
	assert.Equal(t, domain.ApplyUnreachable, applyErr.Kind)
}

func TestOpenEVSETimeout(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()
	client := NewOpenEVSEClient(server.URL, "", time.Minute, clock.NewMock(), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := client.Apply(ctx, domain.DisableCommand())
	var applyErr *domain.ApplyError
	require.True(t, errors.As(err, &applyErr))
	assert.Equal(t, domain.ApplyTimeout, applyErr.Kind)
}
