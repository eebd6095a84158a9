package store

import (
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/switchyard/internal/config"
	"github.com/n0needt0/goodies/switchyard/internal/domain"
)

// RuleStore persists IP filter membership between process runs. Every
// mutation is pushed through Save; Load runs once at process start.
type RuleStore interface {
	Load() (domain.FilterRules, error)
	Save(domain.FilterRules) error
}

// NewRuleStore picks the backing store from config, a local JSON file by
// default.
func NewRuleStore(conf *config.Config) (RuleStore, error) {
	if conf.Rules.Source == "s3" {
		return NewS3Store(conf)
	}
	return &FileStore{Path: conf.Rules.Path}, nil
}

// FileStore keeps the rules as a JSON file, rewritten atomically on every
// save.
type FileStore struct {
	Path string
}

func (s *FileStore) Load() (domain.FilterRules, error) {
	var rules domain.FilterRules
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return rules, nil
	}
	if err != nil {
		return rules, errors.Wrapf(err, "failed to read rules file %s", s.Path)
	}
	if len(data) == 0 {
		return rules, nil
	}
	if err := sonic.Unmarshal(data, &rules); err != nil {
		return rules, errors.Wrapf(err, "failed to parse rules file %s", s.Path)
	}
	return rules, nil
}

func (s *FileStore) Save(rules domain.FilterRules) error {
	data, err := sonic.MarshalIndent(rules, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode rules")
	}
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create rules directory %s", dir)
		}
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write rules file %s", tmp)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return errors.Wrapf(err, "failed to replace rules file %s", s.Path)
	}
	return nil
}
