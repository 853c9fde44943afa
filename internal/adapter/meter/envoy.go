package meter

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/surplus2evse/internal/core/domain"
	"github.com/berfenger/surplus2evse/internal/core/port"

	"go.uber.org/zap"
)

const (
	envoyMetersPath         = "/ivp/meters"
	envoyMeterReadingsPath  = "/ivp/meters/readings"
	envoyNetConsumptionType = "net-consumption"
)

type envoyMeterInfo struct {
	Eid             int64  `json:"eid"`
	State           string `json:"state"`
	MeasurementType string `json:"measurementType"`
}

// actEnergyDlvd is the Wh delivered by the grid to the site,
// actEnergyRcvd the Wh the grid received from it.
type envoyMeterReading struct {
	Eid           int64   `json:"eid"`
	Timestamp     int64   `json:"timestamp"`
	ActEnergyDlvd float64 `json:"actEnergyDlvd"`
	ActEnergyRcvd float64 `json:"actEnergyRcvd"`
	Voltage       float64 `json:"voltage"`
}

// EnvoyMeterClient reads the net-consumption CT of an Enphase Envoy gateway
// through its local API.
type EnvoyMeterClient struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger

	// eid of the net-consumption meter, located on first fetch
	eid *int64
}

var _ port.MeterClient = (*EnvoyMeterClient)(nil)

// NewEnvoyMeterClient builds a client for baseURL (https://envoy.local). The Envoy
// ships a self signed certificate, hence insecureTLS.
func NewEnvoyMeterClient(baseURL, token string, insecureTLS bool, logger *zap.Logger) *EnvoyMeterClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &EnvoyMeterClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Transport: transport},
		logger:  logger,
	}
}

func (m *EnvoyMeterClient) Fetch(ctx context.Context) (domain.MeterReading, error) {
	if m.eid == nil {
		eid, err := m.locateNetMeter(ctx)
		if err != nil {
			return domain.MeterReading{}, err
		}
		m.logger.Info("envoy: using net-consumption meter", zap.Int64("eid", eid))
		m.eid = &eid
	}

	var readings []envoyMeterReading
	if err := m.getJSON(ctx, envoyMeterReadingsPath, &readings); err != nil {
		return domain.MeterReading{}, err
	}
	for _, r := range readings {
		if r.Eid != *m.eid {
			continue
		}
		if r.Timestamp <= 0 {
			return domain.MeterReading{}, domain.MalformedResponse("envoy reading without timestamp")
		}
		reading := domain.MeterReading{
			Timestamp:        time.Unix(r.Timestamp, 0),
			EnergyImportedWh: r.ActEnergyDlvd,
			EnergyExportedWh: r.ActEnergyRcvd,
			VoltageV:         r.Voltage,
		}
		m.logger.Debug("envoy: reading", zap.Stringer("reading", reading))
		return reading, nil
	}

	// meter list changed, locate it again next time
	missing := *m.eid
	m.eid = nil
	return domain.MeterReading{}, domain.MalformedResponse("envoy meter %d missing from readings", missing)
}

func (m *EnvoyMeterClient) locateNetMeter(ctx context.Context) (int64, error) {
	var meters []envoyMeterInfo
	if err := m.getJSON(ctx, envoyMetersPath, &meters); err != nil {
		return 0, err
	}
	for _, info := range meters {
		if info.MeasurementType == envoyNetConsumptionType && info.State == "enabled" {
			return info.Eid, nil
		}
	}
	return 0, domain.MalformedResponse("no enabled %s meter found", envoyNetConsumptionType)
}

func (m *EnvoyMeterClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return domain.NewFetchError(err)
	}
	req.Header.Set("Authorization", "Bearer "+m.token)
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return domain.NewFetchError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domain.FetchError{Kind: domain.FetchUnreachable, Err: fmt.Errorf("GET %s: %s", path, resp.Status)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return domain.NewFetchError(ctx.Err())
		}
		return domain.MalformedResponse("GET %s: %v", path, err)
	}
	return nil
}
