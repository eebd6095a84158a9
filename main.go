package main

import (
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/n0needt0/goodies/switchyard/internal/api"
	"github.com/n0needt0/goodies/switchyard/internal/config"
	"github.com/n0needt0/goodies/switchyard/internal/export"
	"github.com/n0needt0/goodies/switchyard/internal/history"
	"github.com/n0needt0/goodies/switchyard/internal/relay"
	"github.com/n0needt0/goodies/switchyard/internal/services"
)

var (
	conf      = config.Config{}
	envPrefix = "SWY_"
)

var rootCmd = &cobra.Command{
	Use:          "switchyard",
	Short:        "protocol aware relay for tcp, udp and http traffic",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgFilePath, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}
		return Run(cmd, cfgFilePath)
	},
}

func init() {
	rootCmd.Flags().String("config", "config.yaml", "--config <FILE>")
	rootCmd.Flags().String("logging.level", "", "log level, one of debug info warn error")
	rootCmd.Flags().Int("server.api_port", 0, "management api port")
	rootCmd.Flags().Bool("server.dev", false, "dev mode")
}

// Run loads configuration, wires every subsystem and blocks on the api
// server until shutdown.
func Run(cmd *cobra.Command, cfgFilePath string) error {

	err := config.LoadConfig(cfgFilePath, envPrefix, cmd, &conf)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	setLogLevel(conf.Logging.Level)

	log.Infof("starting %s %s env %s", conf.App.Name, conf.App.Version, conf.App.Env)

	var otelshutdown func()

	if conf.Otel.Enabled {
		//this initializes global otel provider
		otelshutdown = InitOtelProvider(&conf)
	}

	// Business Logic
	services, err := services.NewServices(&conf)
	if err != nil {
		return errors.Wrap(err, "failed to build services")
	}

	//start stab server
	server := NewServer(services, &conf)

	server.Manager = relay.NewManager(services)

	server.HttpApi = api.NewAPI(services, &conf, server.Manager)

	if conf.History.Enabled {
		server.Archiver = history.NewArchiver(services, &conf)
		if err := server.Archiver.Start(); err != nil {
			return errors.Wrap(err, "failed to start history archiver")
		}
	}

	if conf.Export.Enabled {
		server.Export = export.NewListener(services, &conf, server.Manager)
		if err := server.Export.Listen(); err != nil {
			return errors.Wrap(err, "failed to start export listener")
		}
	}

	//bring up the frontends
	server.Manager.StartAll()

	//start server
	go server.Start(server.housekeeping, nil)

	//start api server
	server.HttpApi.Serve(":"+strconv.Itoa(conf.Server.ApiPort), server.HttpApi.NewRouter())

	if conf.Otel.Enabled {
		//cleanup otel
		otelshutdown()
	}

	return nil
}

func setLogLevel(levelStr string) {
	switch strings.ToLower(levelStr) {
	case "debug":
		log.SetMinLogLevel(log.MinLevelDebug)
	case "info":
		log.SetMinLogLevel(log.MinLevelInfo)
	case "warn":
		log.SetMinLogLevel(log.MinLevelWarn)
	case "error":
		log.SetMinLogLevel(log.MinLevelError)
	}
}

// Server provides basic service functions and state common to all service types
type Server struct {
	Config   *config.Config
	Name     string
	quitterC chan time.Duration // also internal-only
	HttpApi  *api.API
	Manager  *relay.Manager
	Export   *export.Listener
	Archiver *history.Archiver
	Services *services.Services
	//here you can add other services
}

// NewServer creates a new Server
func NewServer(services *services.Services, conf *config.Config) *Server {
	return &Server{
		Config:   conf,
		Name:     conf.App.Name,
		quitterC: make(chan time.Duration),
		Services: services,
	}
}

func (svc *Server) Start(housekeepingFn func(), quitterFn func(time.Duration)) {

	// exit cleanly on signal
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGABRT, syscall.SIGTERM)
	go func() {
		sig := <-signalC
		log.Debugf("Received signal %v", sig)

		if err := svc.Stop(2 * time.Second); err != nil {
			log.Fatalf("error stopping service: %v", err)
		}
	}()

	interval := time.Duration(svc.Config.Housekeeping.IntervalSeconds) * time.Second

	if interval <= 0 {
		interval = 10 * time.Second
		log.Errorf("invalid housekeeping-interval: %d", interval)
	}

	ticker := time.NewTicker(interval)

	// wait for quit, run housekeeping (if any)
	//
	for {
		select {
		case <-ticker.C:
			if housekeepingFn != nil && svc.Config.Housekeeping.Enabled {
				housekeepingFn()
			}

		case timeout := <-svc.quitterC:
			log.Debug("housekeeping")

			if quitterFn != nil {
				quitterFn(timeout)
			}

			//lets bring em down one by one
			svc.Manager.StopAll()

			if svc.Export != nil {
				svc.Export.Shutdown()
			}

			if svc.Archiver != nil {
				if err := svc.Archiver.Shutdown(); err != nil {
					log.Errorf("error stopping history archiver: %v", err)
				}
			}

			svc.HttpApi.Stop()

			return
		}
	}
}

// housekeeping trims old history batches between ticks.
func (svc *Server) housekeeping() {
	if svc.Archiver != nil {
		svc.Archiver.Cleanup()
	}
}

func (svc *Server) Stop(timeout time.Duration) error {
	defer close(svc.quitterC)

	log.Debugf("sending timeout %s to quitterC:", timeout)

	select {
	case svc.quitterC <- timeout:
		log.Debug("sent")
	case <-time.After(timeout + (100 * time.Millisecond)):
		log.Debug("timed out")
	default:
		log.Debug("must have already closed")
	}
	return nil
}

func main() {

	err := rootCmd.Execute()
	if err != nil {
		log.Fatalf("failed to start: %s\n", err.Error())
		os.Exit(11)
	}
}
