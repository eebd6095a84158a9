package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"github.com/swaggest/openapi-go/openapi3"
	"github.com/swaggest/rest/web"
	swgui "github.com/swaggest/swgui/v5emb"
	"go.opentelemetry.io/otel/metric"

	"github.com/n0needt0/goodies/switchyard/internal/config"
	"github.com/n0needt0/goodies/switchyard/internal/relay"
	"github.com/n0needt0/goodies/switchyard/internal/services"
)

type API struct {
	Services   *services.Services
	Manager    *relay.Manager
	ApiMetrics map[string]metric.Int64Counter
	HttpServer *http.Server
	sync.RWMutex
	Config *config.Config
}

func NewAPI(services *services.Services, conf *config.Config, manager *relay.Manager) *API {
	return &API{
		Services:   services,
		Manager:    manager,
		ApiMetrics: make(map[string]metric.Int64Counter),
		Config:     conf,
	}
}

// UseMetric returns the counter registered under label, creating it on
// first use. Metric labels follow root/something.
func (api *API) UseMetric(label, description string) metric.Int64Counter {
	api.RLock()
	mtr, ok := api.ApiMetrics[label]
	api.RUnlock()
	if !ok {
		m, err := api.Services.OtelMeter.Int64Counter(label, metric.WithDescription(description))
		if err != nil {
			log.Error("failed to init the metrics" + err.Error())
		} else {
			api.Lock()
			api.ApiMetrics[label] = m
			api.Unlock()
			mtr = m
		}
	}
	return mtr
}

func (api *API) count(ctx context.Context, label, description string) {
	if m := api.UseMetric(label, description); m != nil {
		m.Add(ctx, 1)
	}
}

// NewRouter returns a new router serving API endpoints
func (api *API) NewRouter() *web.Service {
	service := web.DefaultService()
	service.OpenAPI.Info.Title = "switchyard API"
	service.OpenAPI.Info.WithDescription("Management API for the switchyard relay engine")
	service.OpenAPI.Info.Version = "v1.0.0"
	tags := []struct{ name, description string }{
		{"Frontends", "Lifecycle control and inspection of relay frontends"},
		{"Filter", "IP blacklist and whitelist management"},
		{"Stats", "Traffic counters and snapshots"},
		{"Internal", "Health and configuration"},
	}
	apiTags := make([]openapi3.Tag, len(tags))
	for i, t := range tags {
		apiTags[i] = openapi3.Tag{Name: t.name, Description: &t.description}
	}
	service.OpenAPI.WithTags(apiTags...)
	service.DecoderFactory.ApplyDefaults = true

	service.Get("/api/v1/health", api.HealthCheck())
	service.Get("/api/v1/config", api.GetConfig())

	service.Get("/api/v1/frontends", api.ListFrontends())
	service.Get("/api/v1/frontends/{name}", api.GetFrontend())
	service.Post("/api/v1/frontends/{name}/start", api.StartFrontend())
	service.Post("/api/v1/frontends/{name}/stop", api.StopFrontend())
	service.Post("/api/v1/frontends/{name}/restart", api.RestartFrontend())

	service.Get("/api/v1/stats", api.GetStats())

	service.Get("/api/v1/filter", api.GetFilterRules())
	service.Post("/api/v1/filter/{list}", api.AddFilterRule())
	service.Delete("/api/v1/filter/{list}/{ip}", api.RemoveFilterRule())
	service.Delete("/api/v1/filter/{list}", api.ClearFilterList())

	// use /docs for docs UI and redirect from / to /docs
	service.Docs("/v1/docs", swgui.New)

	service.Router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.RequestURI+"v1/docs", http.StatusFound)
	})

	return service
}

// Serve serves http endpoints
func (api *API) Serve(address string, router http.Handler) {
	log.Infof("api server started: on %s", address)

	api.HttpServer = &http.Server{Addr: address, Handler: router}
	err := api.HttpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		log.Info("api server closed")
	} else {
		log.Errorf("api server failed and closed: %v", err)
	}
}

// Stop stops the server
func (api *API) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer func() {
		api.HttpServer = nil
		cancel()
	}()

	if err := api.HttpServer.Shutdown(ctx); err != nil {
		log.Fatal("error shutting down server")
	}
}
