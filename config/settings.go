package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/evdnx/gofloor/logger"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Settings is the process configuration of cmd/floorbot.
type Settings struct {
	Log         logger.Options     `yaml:"log"`
	Store       StoreSettings      `yaml:"store"`
	Audit       AuditSettings      `yaml:"audit"`
	MetricsAddr string             `yaml:"metrics_addr"`
	Ticks       TickSettings       `yaml:"ticks"`
	Paper       PaperSettings      `yaml:"paper"`
	Instances   []InstanceSettings `yaml:"instances" validate:"required,min=1,dive"`
}

type StoreSettings struct {
	Driver string `yaml:"driver" validate:"oneof=memory badger sqlite"`
	Path   string `yaml:"path" validate:"required_unless=Driver memory"`
}

type AuditSettings struct {
	// Buffer is the capacity of the asynchronous audit queue.
	Buffer int  `yaml:"buffer" validate:"gte=0"`
	SQLite bool `yaml:"sqlite"`
	// Path of the audit database; defaults to the store path when the store
	// is sqlite.
	Path string `yaml:"path"`
}

type TickSettings struct {
	File string `yaml:"file" validate:"required"`
	// QueueSize bounds each instance's inbound tick queue.
	QueueSize int `yaml:"queue_size" validate:"gte=0"`
}

type PaperSettings struct {
	Balance    float64 `yaml:"balance" validate:"gt=0"`
	MarginRate float64 `yaml:"margin_rate" validate:"gt=0,lte=1"`
	// LotUnits is the number of currency units in one lot.
	LotUnits float64 `yaml:"lot_units" validate:"gt=0"`
}

// InstanceSettings binds one strategy instance to an account and instruments.
type InstanceSettings struct {
	ID          string   `yaml:"id" validate:"required"`
	Type        string   `yaml:"type" validate:"required"`
	Account     string   `yaml:"account" validate:"required"`
	Instruments []string `yaml:"instruments" validate:"required,min=1,dive,required"`
	Params      Params   `yaml:"params"`
}

var validate = validator.New()

// LoadSettings reads .env (if present), then the YAML file at path with
// ${VAR} references expanded from the environment.
func LoadSettings(path string) (*Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	return ParseSettings([]byte(os.ExpandEnv(string(raw))))
}

// ParseSettings decodes YAML, applies defaults and validates the result.
func ParseSettings(raw []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) applyDefaults() {
	if s.Store.Driver == "" {
		s.Store.Driver = "memory"
	}
	if s.Audit.Buffer == 0 {
		s.Audit.Buffer = 1024
	}
	if s.Audit.Path == "" && s.Store.Driver == "sqlite" {
		s.Audit.Path = s.Store.Path
	}
	if s.Paper.Balance == 0 {
		s.Paper.Balance = 100_000
	}
	if s.Paper.MarginRate == 0 {
		s.Paper.MarginRate = 0.02
	}
	if s.Paper.LotUnits == 0 {
		s.Paper.LotUnits = 100_000
	}
	if s.Ticks.QueueSize == 0 {
		s.Ticks.QueueSize = 256
	}
}

// Validate checks struct constraints and that instance ids are unique.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if s.Audit.SQLite && s.Audit.Path == "" {
		return errors.New("invalid settings: audit.path is required when audit.sqlite is enabled")
	}
	seen := make(map[string]struct{}, len(s.Instances))
	for _, inst := range s.Instances {
		if _, dup := seen[inst.ID]; dup {
			return fmt.Errorf("invalid settings: duplicate instance id %q", inst.ID)
		}
		seen[inst.ID] = struct{}{}
	}
	return nil
}
