package ipfilter

import (
	"net"
	"sort"
	"sync"

	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/switchyard/internal/domain"
	"github.com/n0needt0/goodies/switchyard/internal/store"
)

// Filter list names accepted by the mutation operations.
const (
	ListBlacklist = "blacklist"
	ListWhitelist = "whitelist"
)

// Filter holds the process-wide allow/deny state over source addresses.
// A non-empty whitelist admits only its members; otherwise everything but
// the blacklist passes. Safe for concurrent use from all relay goroutines.
type Filter struct {
	mu        sync.RWMutex
	blacklist map[string]struct{}
	whitelist map[string]struct{}
	denials   map[string]int64

	persistMu sync.Mutex
	store     store.RuleStore
}

func New(st store.RuleStore) *Filter {
	return &Filter{
		blacklist: make(map[string]struct{}),
		whitelist: make(map[string]struct{}),
		denials:   make(map[string]int64),
		store:     st,
	}
}

// Load replaces the in-memory sets with the persisted membership. Called
// once at process start; entries that stopped being valid IP literals are
// skipped, not fatal.
func (f *Filter) Load() error {
	if f.store == nil {
		return nil
	}
	rules, err := f.store.Load()
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blacklist = make(map[string]struct{}, len(rules.Blacklist))
	for _, ip := range rules.Blacklist {
		if net.ParseIP(ip) == nil {
			log.Warnf("skipping invalid blacklist entry %q", ip)
			continue
		}
		f.blacklist[ip] = struct{}{}
	}
	f.whitelist = make(map[string]struct{}, len(rules.Whitelist))
	for _, ip := range rules.Whitelist {
		if net.ParseIP(ip) == nil {
			log.Warnf("skipping invalid whitelist entry %q", ip)
			continue
		}
		f.whitelist[ip] = struct{}{}
	}
	log.Infof("ip filter loaded: %d blacklisted, %d whitelisted", len(f.blacklist), len(f.whitelist))
	return nil
}

// Admit decides whether a source address may proceed. Denials are counted
// per address; the caller owns the per-frontend counter.
func (f *Filter) Admit(ip string) error {
	f.mu.RLock()
	var denied bool
	if len(f.whitelist) > 0 {
		_, ok := f.whitelist[ip]
		denied = !ok
	} else {
		_, denied = f.blacklist[ip]
	}
	f.mu.RUnlock()

	if !denied {
		return nil
	}
	f.mu.Lock()
	f.denials[ip]++
	f.mu.Unlock()
	return domain.IPDeniedError{IP: ip}
}

// Add validates the literal and inserts it into the named list, then
// persists the full membership.
func (f *Filter) Add(list, ip string) error {
	if net.ParseIP(ip) == nil {
		return domain.ConfigError{Err: errors.Errorf("invalid ip literal %q", ip)}
	}
	f.mu.Lock()
	set, err := f.set(list)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	set[ip] = struct{}{}
	f.mu.Unlock()
	return f.persist()
}

// Remove deletes the literal from the named list. Removing an absent entry
// reports NotFound so callers can answer 404.
func (f *Filter) Remove(list, ip string) error {
	f.mu.Lock()
	set, err := f.set(list)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	if _, ok := set[ip]; !ok {
		f.mu.Unlock()
		return domain.NotFound{Err: errors.Errorf("%s has no entry %q", list, ip)}
	}
	delete(set, ip)
	f.mu.Unlock()
	return f.persist()
}

// Clear empties the named list.
func (f *Filter) Clear(list string) error {
	f.mu.Lock()
	switch list {
	case ListBlacklist:
		f.blacklist = make(map[string]struct{})
	case ListWhitelist:
		f.whitelist = make(map[string]struct{})
	default:
		f.mu.Unlock()
		return domain.ConfigError{Err: errors.Errorf("unknown filter list %q", list)}
	}
	f.mu.Unlock()
	return f.persist()
}

func (f *Filter) set(list string) (map[string]struct{}, error) {
	switch list {
	case ListBlacklist:
		return f.blacklist, nil
	case ListWhitelist:
		return f.whitelist, nil
	default:
		return nil, domain.ConfigError{Err: errors.Errorf("unknown filter list %q", list)}
	}
}

// Rules returns the current membership, sorted for stable persistence.
func (f *Filter) Rules() domain.FilterRules {
	f.mu.RLock()
	defer f.mu.RUnlock()
	rules := domain.FilterRules{
		Blacklist: make([]string, 0, len(f.blacklist)),
		Whitelist: make([]string, 0, len(f.whitelist)),
	}
	for ip := range f.blacklist {
		rules.Blacklist = append(rules.Blacklist, ip)
	}
	for ip := range f.whitelist {
		rules.Whitelist = append(rules.Whitelist, ip)
	}
	sort.Strings(rules.Blacklist)
	sort.Strings(rules.Whitelist)
	return rules
}

// Denials copies the per-address denial counters.
func (f *Filter) Denials() map[string]int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]int64, len(f.denials))
	for ip, n := range f.denials {
		out[ip] = n
	}
	return out
}

// persist serializes saves so the last write always carries the freshest
// membership.
func (f *Filter) persist() error {
	if f.store == nil {
		return nil
	}
	f.persistMu.Lock()
	defer f.persistMu.Unlock()
	return errors.Wrap(f.store.Save(f.Rules()), "failed to persist ip filter rules")
}
