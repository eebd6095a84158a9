package api

import (
	"context"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"
	"github.com/swaggest/usecase"
	"github.com/swaggest/usecase/status"

	"github.com/n0needt0/goodies/switchyard/internal/domain"
)

// mapError translates domain errors into transport status codes.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var (
		notFound domain.NotFound
		conflict domain.Conflict
		confErr  domain.ConfigError
	)
	switch {
	case errors.As(err, &notFound):
		return status.Wrap(err, status.NotFound)
	case errors.As(err, &conflict):
		return status.Wrap(err, status.AlreadyExists)
	case errors.As(err, &confErr):
		return status.Wrap(err, status.InvalidArgument)
	default:
		return status.Wrap(err, status.Internal)
	}
}

// maskSensitiveValue masks sensitive configuration values
func maskSensitiveValue(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "***"
	}
	return value[:4] + "***" + value[len(value)-4:]
}

// HealthCheck returns a health check handler
func (api *API) HealthCheck() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input struct{}, output *HealthResponse) error {
		snaps := api.Manager.Snapshots()

		overallStatus := "healthy"
		running := 0
		for _, s := range snaps {
			switch s.Status {
			case domain.StatusRunning:
				running++
			case domain.StatusFailed:
				overallStatus = "degraded"
			}
		}

		output.Status = overallStatus
		output.Version = api.Config.App.Version
		output.ServiceName = api.Config.App.Name
		output.Timestamp = time.Now().UTC().Format(time.RFC3339)
		output.Frontends = len(snaps)
		output.Running = running

		log.Debugf("Health check completed: status=%s", overallStatus)
		return nil
	})

	u.SetTitle("Health Check")
	u.SetDescription("Check the health status of the relay engine and its frontends")
	u.SetTags("Internal")
	u.SetExpectedErrors(status.Internal)
	return u
}

// ListFrontends returns every configured frontend with live counters.
func (api *API) ListFrontends() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input struct{}, output *FrontendListResponse) error {
		output.Frontends = api.Manager.Snapshots()
		return nil
	})

	u.SetTitle("List Frontends")
	u.SetDescription("List all configured frontends and their current status")
	u.SetTags("Frontends")
	u.SetExpectedErrors(status.Internal)
	return u
}

// GetFrontend returns one frontend snapshot by name.
func (api *API) GetFrontend() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input frontendRequest, output *domain.FrontendSnapshot) error {
		snap, err := api.Manager.Snapshot(input.Name)
		if err != nil {
			return mapError(err)
		}
		*output = snap
		return nil
	})

	u.SetTitle("Get Frontend")
	u.SetDescription("Retrieve the status and counters of a single frontend")
	u.SetTags("Frontends")
	u.SetExpectedErrors(status.NotFound, status.InvalidArgument)
	return u
}

// StartFrontend binds and launches a stopped frontend.
func (api *API) StartFrontend() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input frontendRequest, output *ActionResponse) error {
		api.count(ctx, "api/frontend_start", "Frontend start requests")

		if err := api.Manager.Start(input.Name); err != nil {
			return mapError(err)
		}
		output.Frontend = input.Name
		output.Action = "start"
		output.Status = domain.StatusRunning
		log.Infof("frontend %s started via api", input.Name)
		return nil
	})

	u.SetTitle("Start Frontend")
	u.SetDescription("Start the named frontend; other frontends are unaffected")
	u.SetTags("Frontends")
	u.SetExpectedErrors(status.NotFound, status.AlreadyExists, status.InvalidArgument, status.Internal)
	return u
}

// StopFrontend closes a frontend's listener and drains its relays.
func (api *API) StopFrontend() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input frontendRequest, output *ActionResponse) error {
		api.count(ctx, "api/frontend_stop", "Frontend stop requests")

		if err := api.Manager.Stop(input.Name); err != nil {
			return mapError(err)
		}
		output.Frontend = input.Name
		output.Action = "stop"
		output.Status = domain.StatusStopped
		log.Infof("frontend %s stopped via api", input.Name)
		return nil
	})

	u.SetTitle("Stop Frontend")
	u.SetDescription("Stop the named frontend; other frontends are unaffected")
	u.SetTags("Frontends")
	u.SetExpectedErrors(status.NotFound, status.InvalidArgument, status.Internal)
	return u
}

// RestartFrontend cycles a frontend through stop and start.
func (api *API) RestartFrontend() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input frontendRequest, output *ActionResponse) error {
		api.count(ctx, "api/frontend_restart", "Frontend restart requests")

		if err := api.Manager.Restart(input.Name); err != nil {
			return mapError(err)
		}
		output.Frontend = input.Name
		output.Action = "restart"
		output.Status = domain.StatusRunning
		log.Infof("frontend %s restarted via api", input.Name)
		return nil
	})

	u.SetTitle("Restart Frontend")
	u.SetDescription("Restart the named frontend; counters reset on restart")
	u.SetTags("Frontends")
	u.SetExpectedErrors(status.NotFound, status.InvalidArgument, status.Internal)
	return u
}

// GetStats returns the global aggregate plus per-frontend snapshots.
func (api *API) GetStats() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input struct{}, output *StatsResponse) error {
		output.Global = api.Manager.Global()
		output.Frontends = api.Manager.Snapshots()
		return nil
	})

	u.SetTitle("Get Stats")
	u.SetDescription("Retrieve traffic counters for all frontends and the global aggregate")
	u.SetTags("Stats")
	u.SetExpectedErrors(status.Internal)
	return u
}

// GetFilterRules returns current filter membership and denial counts.
func (api *API) GetFilterRules() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input struct{}, output *FilterRulesResponse) error {
		output.Rules = api.Services.Filter.Rules()
		output.Denials = api.Services.Filter.Denials()
		return nil
	})

	u.SetTitle("Get Filter Rules")
	u.SetDescription("Retrieve blacklist and whitelist membership plus per-IP denial counters")
	u.SetTags("Filter")
	u.SetExpectedErrors(status.Internal)
	return u
}

// AddFilterRule inserts a validated IP into a list and persists it.
func (api *API) AddFilterRule() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input filterAddRequest, output *FilterActionResponse) error {
		api.count(ctx, "api/filter_add", "Filter rule additions")

		if err := api.Services.Filter.Add(input.List, input.IP); err != nil {
			return mapError(err)
		}
		output.List = input.List
		output.IP = input.IP
		output.Action = "add"
		log.Infof("filter: added %s to %s", input.IP, input.List)
		return nil
	})

	u.SetTitle("Add Filter Rule")
	u.SetDescription("Add an IP literal to the blacklist or whitelist")
	u.SetTags("Filter")
	u.SetExpectedErrors(status.InvalidArgument, status.Internal)
	return u
}

// RemoveFilterRule deletes an IP from a list and persists the change.
func (api *API) RemoveFilterRule() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input filterRemoveRequest, output *FilterActionResponse) error {
		api.count(ctx, "api/filter_remove", "Filter rule removals")

		if err := api.Services.Filter.Remove(input.List, input.IP); err != nil {
			return mapError(err)
		}
		output.List = input.List
		output.IP = input.IP
		output.Action = "remove"
		log.Infof("filter: removed %s from %s", input.IP, input.List)
		return nil
	})

	u.SetTitle("Remove Filter Rule")
	u.SetDescription("Remove an IP literal from the blacklist or whitelist")
	u.SetTags("Filter")
	u.SetExpectedErrors(status.NotFound, status.InvalidArgument, status.Internal)
	return u
}

// ClearFilterList empties one list and persists the change.
func (api *API) ClearFilterList() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input filterListRequest, output *FilterActionResponse) error {
		api.count(ctx, "api/filter_clear", "Filter list clears")

		if err := api.Services.Filter.Clear(input.List); err != nil {
			return mapError(err)
		}
		output.List = input.List
		output.Action = "clear"
		log.Infof("filter: cleared %s", input.List)
		return nil
	})

	u.SetTitle("Clear Filter List")
	u.SetDescription("Remove every entry from the blacklist or whitelist")
	u.SetTags("Filter")
	u.SetExpectedErrors(status.InvalidArgument, status.Internal)
	return u
}

// GetConfig returns a handler for getting current system configuration
func (api *API) GetConfig() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input struct{}, output *ConfigResponse) error {
		cfg := api.Config

		output.App = AppConfig{
			Name:    cfg.App.Name,
			Version: cfg.App.Version,
		}
		output.Server = ServerConfig{
			ApiPort: cfg.Server.ApiPort,
		}
		output.Export = ExportConfig{
			Enabled: cfg.Export.Enabled,
			Port:    cfg.Export.Port,
		}
		output.Otel = OtelConfig{
			Enabled:               cfg.Otel.Enabled,
			Endpoint:              cfg.Otel.Endpoint,
			ScrapeIntervalSeconds: cfg.Otel.ScrapeIntervalSeconds,
		}
		output.Housekeeping = HousekeepingConfig{
			Enabled:         cfg.Housekeeping.Enabled,
			IntervalSeconds: cfg.Housekeeping.IntervalSeconds,
		}
		output.Alerts = AlertsConfig{
			Enabled:        cfg.Alerts.Enabled,
			Endpoint:       cfg.Alerts.Endpoint,
			TimeoutSeconds: cfg.Alerts.TimeoutSeconds,
		}
		output.Rules = RulesConfig{
			Source: cfg.Rules.Source,
			Path:   cfg.Rules.Path,
			S3Key:  cfg.Rules.S3Key,
		}
		output.S3 = S3ConfigMasked{
			BucketName: cfg.S3.BucketName,
			Region:     cfg.S3.Region,
			AccessKey:  maskSensitiveValue(cfg.S3.AccessKey),
			SecretKey:  maskSensitiveValue(cfg.S3.SecretKey),
			Endpoint:   cfg.S3.Endpoint,
			Ssl:        cfg.S3.Ssl,
		}
		output.History = HistoryConfig{
			Enabled:      cfg.History.Enabled,
			Directory:    cfg.History.Directory,
			BatchRows:    cfg.History.BatchRows,
			FlushSeconds: cfg.History.FlushSeconds,
			Parquet:      cfg.History.Parquet,
			S3Upload:     cfg.History.S3Upload,
			MaxFiles:     cfg.History.MaxFiles,
		}
		output.Frontends = len(cfg.Frontends) + len(cfg.InvalidFrontends)
		output.Backends = len(cfg.Backends)
		output.Dev = cfg.Server.Dev

		log.Debugf("Retrieved system configuration")
		return nil
	})

	u.SetTitle("Get System Configuration")
	u.SetDescription("Retrieve the current system configuration (sensitive values are masked)")
	u.SetTags("Internal")
	u.SetExpectedErrors(status.Internal)
	return u
}
