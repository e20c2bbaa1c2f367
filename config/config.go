package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config represents the complete simulation configuration
type Config struct {
	Account   AccountConfig   `json:"account" yaml:"account"`
	Execution ExecutionConfig `json:"execution" yaml:"execution"`
	Strategy  StrategyConfig  `json:"strategy" yaml:"strategy"`
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
	Data      DataConfig      `json:"data" yaml:"data"`
}

// AccountConfig contains account initialization parameters
type AccountConfig struct {
	ID       string  `json:"id" yaml:"id"`
	Balance  float64 `json:"balance" yaml:"balance"`
	Leverage float64 `json:"leverage" yaml:"leverage"`
	StopOut  float64 `json:"stop_out" yaml:"stop_out"`
	Hedging  bool    `json:"hedging" yaml:"hedging"`
}

// ExecutionConfig contains order execution parameters
type ExecutionConfig struct {
	PriceField string  `json:"price_field" yaml:"price_field"` // open, high, low, close
	Mode       string  `json:"mode" yaml:"mode"`               // current or next
	Commission float64 `json:"commission" yaml:"commission"`   // flat amount per fill
}

// StrategyConfig contains strategy parameters
type StrategyConfig struct {
	Name   string `json:"name" yaml:"name"`
	Symbol string `json:"symbol" yaml:"symbol"`
	Units  int64  `json:"units" yaml:"units"`
	Fast   int    `json:"fast" yaml:"fast"`
	Slow   int    `json:"slow" yaml:"slow"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type          string `json:"type" yaml:"type"` // "csv" or "sqlite"
	EquityFile    string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	PositionsFile string `json:"positions_file,omitempty" yaml:"positions_file,omitempty"`
	OrdersFile    string `json:"orders_file,omitempty" yaml:"orders_file,omitempty"`
	DBPath        string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// DataConfig names the bar file feeding the backtest
type DataConfig struct {
	File   string `json:"file" yaml:"file"`
	Symbol string `json:"symbol" yaml:"symbol"`
}

// LoadFromFile loads configuration from a file (JSON or YAML based on extension)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if cfg.Account.ID == "" {
		cfg.Account.ID = uuid.NewString()
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.Balance <= 0 {
		return fmt.Errorf("account.balance must be positive")
	}
	if c.Account.Leverage <= 0 {
		return fmt.Errorf("account.leverage must be positive")
	}
	if c.Account.StopOut < 0 || c.Account.StopOut >= 1 {
		return fmt.Errorf("account.stop_out must be in [0, 1)")
	}
	switch c.Execution.PriceField {
	case "open", "high", "low", "close":
	default:
		return fmt.Errorf("execution.price_field must be one of open, high, low, close")
	}
	if c.Execution.Mode != "current" && c.Execution.Mode != "next" {
		return fmt.Errorf("execution.mode must be 'current' or 'next'")
	}
	if c.Execution.Commission < 0 {
		return fmt.Errorf("execution.commission must not be negative")
	}
	if c.Strategy.Name == "" {
		return fmt.Errorf("strategy.name is required")
	}
	if c.Strategy.Symbol == "" {
		return fmt.Errorf("strategy.symbol is required")
	}
	if c.Strategy.Units <= 0 {
		return fmt.Errorf("strategy.units must be positive")
	}
	if c.Journal.Type != "csv" && c.Journal.Type != "sqlite" && c.Journal.Type != "none" {
		return fmt.Errorf("journal.type must be 'csv', 'sqlite' or 'none'")
	}
	if c.Journal.Type == "csv" && (c.Journal.EquityFile == "" || c.Journal.PositionsFile == "" || c.Journal.OrdersFile == "") {
		return fmt.Errorf("journal equity_file, positions_file and orders_file required for CSV type")
	}
	if c.Journal.Type == "sqlite" && c.Journal.DBPath == "" {
		return fmt.Errorf("journal db_path required for SQLite type")
	}
	if c.Data.File == "" {
		return fmt.Errorf("data.file is required")
	}
	if c.Data.Symbol == "" {
		return fmt.Errorf("data.symbol is required")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			ID:       uuid.NewString(),
			Balance:  100000,
			Leverage: 30,
			StopOut:  0.2,
		},
		Execution: ExecutionConfig{
			PriceField: "close",
			Mode:       "current",
			Commission: 0,
		},
		Strategy: StrategyConfig{
			Name:   "sma-cross",
			Symbol: "EUR_USD",
			Units:  1000,
			Fast:   10,
			Slow:   30,
		},
		Journal: JournalConfig{
			Type:          "csv",
			EquityFile:    "./equity.csv",
			PositionsFile: "./positions.csv",
			OrdersFile:    "./orders.csv",
		},
		Data: DataConfig{
			File:   "./bars.csv",
			Symbol: "EUR_USD",
		},
	}
}
