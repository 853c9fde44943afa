package evse

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/berfenger/surplus2evse/internal/core/domain"
	"github.com/berfenger/surplus2evse/internal/core/port"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// RAPI commands, see open_evse firmware rapi_proc.h
const (
	rapiSetCurrent  = "SC"
	rapiEnable      = "FE"
	rapiSleep       = "FS"
	rapiGetCapacity = "GE"
	rapiGetState    = "GS"

	rapiOK = "$OK"
	rapiNK = "$NK"
)

var evseStateNames = map[int]string{
	1:   "not_connected",
	2:   "connected",
	3:   "charging",
	4:   "vent_required",
	5:   "diode_check_failed",
	6:   "gfci_fault",
	7:   "no_ground",
	8:   "stuck_relay",
	9:   "gfci_self_test_failed",
	10:  "over_temperature",
	254: "sleeping",
	255: "disabled",
}

type rapiResponse struct {
	Cmd string `json:"cmd"`
	Ret string `json:"ret"`
}

// OpenEVSEClient drives an OpenEVSE wifi module through the RAPI passthrough
// endpoint (/r?json=1&rapi=...).
type OpenEVSEClient struct {
	baseURL        string
	auth           string
	resendInterval time.Duration
	client         *http.Client
	clock          clock.Clock
	logger         *zap.Logger

	mu       sync.Mutex
	last     *domain.EvseCommand
	lastSent time.Time
}

var _ port.EvseClient = (*OpenEVSEClient)(nil)

// NewOpenEVSEClient builds a client for baseURL (http://openevse). auth is
// either "user:password" or an already encoded basic credential, empty
// disables authentication. An Apply equal to the last successful one is not
// sent again until resendInterval has passed.
func NewOpenEVSEClient(baseURL, auth string, resendInterval time.Duration, clk clock.Clock, logger *zap.Logger) *OpenEVSEClient {
	return &OpenEVSEClient{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		auth:           auth,
		resendInterval: resendInterval,
		client:         &http.Client{},
		clock:          clk,
		logger:         logger,
	}
}

func (c *OpenEVSEClient) Apply(ctx context.Context, cmd domain.EvseCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.last != nil && c.last.Equal(cmd) && now.Sub(c.lastSent) < c.resendInterval {
		c.logger.Debug("openevse: command unchanged, not sent", zap.Stringer("command", cmd))
		return nil
	}

	if err := c.send(ctx, cmd); err != nil {
		// the evse may be half way through the command
		c.last = nil
		return err
	}
	c.logger.Info("openevse: command applied", zap.Stringer("command", cmd))
	c.last = &cmd
	c.lastSent = now
	return nil
}

func (c *OpenEVSEClient) send(ctx context.Context, cmd domain.EvseCommand) error {
	if !cmd.Enabled {
		_, err := c.rapi(ctx, rapiSleep)
		return err
	}
	amps := int(math.Floor(cmd.ChargeCurrentAmps))
	if _, err := c.rapi(ctx, rapiSetCurrent, strconv.Itoa(amps), "V"); err != nil {
		return err
	}
	_, err := c.rapi(ctx, rapiEnable)
	return err
}

func (c *OpenEVSEClient) Status(ctx context.Context) (domain.EvseStatus, error) {
	capacity, err := c.rapi(ctx, rapiGetCapacity)
	if err != nil {
		return domain.EvseStatus{}, err
	}
	if len(capacity) < 1 {
		return domain.EvseStatus{}, malformed(rapiGetCapacity, capacity)
	}
	amps, err := strconv.ParseFloat(capacity[0], 64)
	if err != nil {
		return domain.EvseStatus{}, malformed(rapiGetCapacity, capacity)
	}

	state, err := c.rapi(ctx, rapiGetState)
	if err != nil {
		return domain.EvseStatus{}, err
	}
	if len(state) < 1 {
		return domain.EvseStatus{}, malformed(rapiGetState, state)
	}
	code, err := strconv.Atoi(state[0])
	if err != nil {
		return domain.EvseStatus{}, malformed(rapiGetState, state)
	}

	name, ok := evseStateNames[code]
	if !ok {
		name = "unknown"
	}
	return domain.EvseStatus{
		Enabled:           code >= 1 && code <= 3,
		Charging:          code == 3,
		ChargeCurrentAmps: amps,
		State:             name,
		StateCode:         code,
	}, nil
}

// rapi sends one command and returns the reply fields after $OK.
func (c *OpenEVSEClient) rapi(ctx context.Context, cmd string, args ...string) ([]string, error) {
	line := "$" + strings.Join(append([]string{cmd}, args...), " ")
	u := fmt.Sprintf("%s/r?json=1&rapi=%s", c.baseURL, url.QueryEscape(line))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, domain.NewApplyError(err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.NewApplyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewApplyError(fmt.Errorf("rapi %s: %s", cmd, resp.Status))
	}
	var body rapiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if ctx.Err() != nil {
			return nil, domain.NewApplyError(ctx.Err())
		}
		return nil, domain.NewApplyError(fmt.Errorf("rapi %s: %w", cmd, err))
	}

	fields := strings.Fields(stripChecksum(body.Ret))
	c.logger.Debug("openevse: rapi", zap.String("cmd", line), zap.String("ret", body.Ret))
	switch {
	case len(fields) == 0:
		return nil, domain.NewApplyError(fmt.Errorf("rapi %s: empty reply", cmd))
	case fields[0] == rapiNK:
		return nil, domain.Rejected(fmt.Sprintf("%s: %s", line, body.Ret))
	case fields[0] != rapiOK:
		return nil, domain.NewApplyError(fmt.Errorf("rapi %s: unexpected reply %q", cmd, body.Ret))
	}
	return fields[1:], nil
}

func (c *OpenEVSEClient) authorize(req *http.Request) {
	if c.auth == "" {
		return
	}
	if user, pass, ok := strings.Cut(c.auth, ":"); ok {
		req.SetBasicAuth(user, pass)
		return
	}
	req.Header.Set("Authorization", "Basic "+c.auth)
}

func stripChecksum(ret string) string {
	if i := strings.IndexByte(ret, '^'); i >= 0 {
		return ret[:i]
	}
	return ret
}

func malformed(cmd string, fields []string) error {
	return domain.NewApplyError(fmt.Errorf("rapi %s: malformed reply %v", cmd, fields))
}
