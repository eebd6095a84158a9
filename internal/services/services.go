package services

import (
	"github.com/n0needt0/goodies/switchyard/internal/alerts"
	"github.com/n0needt0/goodies/switchyard/internal/config"
	"github.com/n0needt0/goodies/switchyard/internal/domain"
	"github.com/n0needt0/goodies/switchyard/internal/ipfilter"
	"github.com/n0needt0/goodies/switchyard/internal/stats"
	"github.com/n0needt0/goodies/switchyard/internal/store"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	METER = "otel-meter"
)

// Services carries the shared dependencies every listener and handler
// needs: config, metrics, the IP filter and the session record sink.
type Services struct {
	Config    *config.Config
	OtelMeter metric.Meter
	Filter    *ipfilter.Filter
	Stats     *stats.Registry
	Alerts    *alerts.Client

	// RecordC receives one record per finished relay session. Nil when
	// history archiving is disabled.
	RecordC chan domain.SessionRecord
}

type HealthService interface {
	GetHealth() bool
}

func NewServices(conf *config.Config) (*Services, error) {
	ruleStore, err := store.NewRuleStore(conf)
	if err != nil {
		return nil, errors.Wrap(err, "creating rule store")
	}

	filter := ipfilter.New(ruleStore)
	if err := filter.Load(); err != nil {
		return nil, errors.Wrap(err, "loading filter rules")
	}

	svc := &Services{
		Config:    conf,
		OtelMeter: otel.Meter(METER),
		Filter:    filter,
		Alerts: alerts.NewClient(alerts.Config{
			Enabled:    conf.Alerts.Enabled,
			Endpoint:   conf.Alerts.Endpoint,
			Timeout:    conf.Alerts.TimeoutSeconds,
			AppName:    conf.App.Name,
			AppVersion: conf.App.Version,
			Dev:        conf.Server.Dev,
		}),
	}
	svc.Stats = stats.NewRegistry(svc.OtelMeter)

	if conf.History.Enabled {
		svc.RecordC = make(chan domain.SessionRecord, 1024)
	}

	return svc, nil
}

// Record hands a finished session to the history archiver without ever
// blocking the relay path. Records are dropped when the buffer is full
// or history is disabled.
func (svc *Services) Record(rec domain.SessionRecord) {
	if svc.RecordC == nil {
		return
	}
	select {
	case svc.RecordC <- rec:
	default:
	}
}
