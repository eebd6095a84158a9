package relay

import (
	"net"
	"sync"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/switchyard/internal/domain"
	"github.com/n0needt0/goodies/switchyard/internal/services"
)

// Manager owns every configured frontend and exposes the start, stop,
// and restart control surface. Operations on one frontend never touch
// the others.
type Manager struct {
	svc   *services.Services
	grace time.Duration

	mu        sync.RWMutex
	frontends map[string]*Frontend
	order     []string
	invalid   map[string]string
}

func NewManager(svc *services.Services) *Manager {
	m := &Manager{
		svc:       svc,
		grace:     svc.Config.Grace(),
		frontends: make(map[string]*Frontend),
		invalid:   make(map[string]string),
	}
	for name, reason := range svc.Config.InvalidFrontends {
		m.invalid[name] = reason
	}
	for _, fc := range svc.Config.Frontends {
		m.frontends[fc.Name] = newFrontend(fc, svc)
		m.order = append(m.order, fc.Name)
	}
	return m
}

// StartAll brings up every valid frontend. A bind failure is logged,
// alerted, and contained to that frontend.
func (m *Manager) StartAll() {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for _, name := range names {
		f := m.get(name)
		if f == nil {
			continue
		}
		if err := f.Start(); err != nil {
			log.Errorf("frontend %s failed to start: %v", name, err)
			m.svc.Alerts.SendFrontendFailureAlert(name, err)
		}
	}

	for name, reason := range m.invalid {
		log.Errorf("frontend %s disabled by configuration: %s", name, reason)
	}
}

// StopAll shuts every frontend down, each with the configured grace.
func (m *Manager) StopAll() {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for _, name := range names {
		if f := m.get(name); f != nil {
			f.Stop(m.grace)
		}
	}
}

func (m *Manager) get(name string) *Frontend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frontends[name]
}

func (m *Manager) lookup(name string) (*Frontend, error) {
	if reason, bad := m.invalid[name]; bad {
		return nil, domain.ConfigError{Err: errors.Errorf("frontend %s: %s", name, reason)}
	}
	f := m.get(name)
	if f == nil {
		return nil, domain.NotFound{Err: errors.Errorf("frontend %s not found", name)}
	}
	return f, nil
}

func (m *Manager) Start(name string) error {
	f, err := m.lookup(name)
	if err != nil {
		return err
	}
	return f.Start()
}

func (m *Manager) Stop(name string) error {
	f, err := m.lookup(name)
	if err != nil {
		return err
	}
	f.Stop(m.grace)
	return nil
}

func (m *Manager) Restart(name string) error {
	f, err := m.lookup(name)
	if err != nil {
		return err
	}
	f.Stop(m.grace)
	return f.Start()
}

// Addr reports the bound address of a running frontend, nil when the
// frontend is stopped.
func (m *Manager) Addr(name string) (net.Addr, error) {
	f, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return f.Addr(), nil
}

// Snapshot returns the point-in-time view of one frontend.
func (m *Manager) Snapshot(name string) (domain.FrontendSnapshot, error) {
	f, err := m.lookup(name)
	if err != nil {
		return domain.FrontendSnapshot{}, err
	}
	return f.Snapshot(), nil
}

// Snapshots covers every configured frontend in config order, including
// stopped ones and those rejected at validation.
func (m *Manager) Snapshots() []domain.FrontendSnapshot {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	out := make([]domain.FrontendSnapshot, 0, len(names)+len(m.invalid))
	for _, name := range names {
		if f := m.get(name); f != nil {
			out = append(out, f.Snapshot())
		}
	}
	for name, reason := range m.invalid {
		out = append(out, domain.FrontendSnapshot{
			Name:      name,
			Status:    domain.StatusFailed,
			LastError: reason,
		})
	}
	return out
}

// Global aggregates running-frontend counters plus configured totals.
func (m *Manager) Global() domain.GlobalSnapshot {
	g := m.svc.Stats.Global()
	m.mu.RLock()
	g.Frontends = len(m.frontends) + len(m.invalid)
	m.mu.RUnlock()
	return g
}
