package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	flatten "github.com/jeremywohl/flatten"
	"github.com/n0needt0/go-goodies/log"

	"github.com/n0needt0/goodies/switchyard/internal/config"
	"github.com/n0needt0/goodies/switchyard/internal/domain"
	"github.com/n0needt0/goodies/switchyard/internal/relay"
	"github.com/n0needt0/goodies/switchyard/internal/services"
)

// Listener serves machine-readable stats snapshots on a port separate
// from the management API, for scrapers and spreadsheet pulls.
type Listener struct {
	Services   *services.Services
	Config     *config.Config
	Manager    *relay.Manager
	wg         sync.WaitGroup
	httpServer *http.Server
}

type statsPayload struct {
	Global    domain.GlobalSnapshot     `json:"global"`
	Frontends []domain.FrontendSnapshot `json:"frontends"`
}

func NewListener(svc *services.Services, conf *config.Config, manager *relay.Manager) *Listener {
	return &Listener{
		Services: svc,
		Config:   conf,
		Manager:  manager,
	}
}

func (l *Listener) Listen() error {
	r := mux.NewRouter()

	r.HandleFunc("/export/stats.json", l.handleJSON).Methods("GET")
	r.HandleFunc("/export/stats.csv", l.handleCSV).Methods("GET")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	l.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", l.Config.Export.Port),
		Handler: r,
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		log.Infof("Starting export server on :%d", l.Config.Export.Port)
		if err := l.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Error starting export server: " + err.Error())
		}
	}()

	return nil
}

func (l *Listener) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if l.httpServer != nil {
		if err := l.httpServer.Shutdown(ctx); err != nil {
			log.Errorf("Export server shutdown error: %v", err)
		} else {
			log.Info("Export server shutdown complete")
		}
	}
	l.wg.Wait()
}

func (l *Listener) handleJSON(w http.ResponseWriter, r *http.Request) {
	payload := statsPayload{
		Global:    l.Manager.Global(),
		Frontends: l.Manager.Snapshots(),
	}

	raw, err := sonic.Marshal(payload)
	if err != nil {
		log.Errorf("Encoding stats export failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// handleCSV flattens every snapshot to dotted columns and emits one row
// per frontend over the union of all columns.
func (l *Listener) handleCSV(w http.ResponseWriter, r *http.Request) {
	rows, columns, err := l.flattenSnapshots()
	if err != nil {
		log.Errorf("Flattening stats export failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="switchyard-stats.csv"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	cw.Write(columns)
	for _, row := range rows {
		rec := make([]string, len(columns))
		for i, col := range columns {
			if v, ok := row[col]; ok {
				rec[i] = fmt.Sprintf("%v", v)
			}
		}
		cw.Write(rec)
	}
	cw.Flush()
}

func (l *Listener) flattenSnapshots() ([]map[string]interface{}, []string, error) {
	snaps := l.Manager.Snapshots()
	colSet := make(map[string]struct{})
	rows := make([]map[string]interface{}, 0, len(snaps))

	for _, snap := range snaps {
		raw, err := sonic.Marshal(snap)
		if err != nil {
			return nil, nil, err
		}
		var m map[string]interface{}
		if err := sonic.Unmarshal(raw, &m); err != nil {
			return nil, nil, err
		}
		flat, err := flatten.Flatten(m, "", flatten.DotStyle)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, flat)
		for k := range flat {
			colSet[k] = struct{}{}
		}
	}

	columns := make([]string, 0, len(colSet))
	for k := range colSet {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return rows, columns, nil
}
