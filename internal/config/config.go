package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"coinfolio/internal/domain"
	"coinfolio/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig         `mapstructure:"app"`
	Logging    logging.Config    `mapstructure:"logging"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Poll       PollConfig        `mapstructure:"poll"`
	Rates      RatesConfig       `mapstructure:"rates"`
	Chains     ChainsConfig      `mapstructure:"chains"`
	Portfolios []PortfolioConfig `mapstructure:"portfolios"`
	Export     ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// PollConfig governs refresh cadence per domain.
type PollConfig struct {
	PricesInterval time.Duration            `mapstructure:"prices_interval"`
	BlockIntervals map[string]time.Duration `mapstructure:"block_intervals"`
}

// BlockInterval resolves the polling interval for a chain, falling back
// to per-chain defaults when not configured.
func (p PollConfig) BlockInterval(chain domain.Chain) time.Duration {
	if interval, ok := p.BlockIntervals[string(chain)]; ok && interval > 0 {
		return interval
	}
	switch chain {
	case domain.ChainBitcoin:
		return 10 * time.Minute
	default:
		return time.Minute
	}
}

// RatesConfig captures price feed connectivity.
type RatesConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	UserAgent      string            `mapstructure:"user_agent"`
	SymbolIDs      map[string]string `mapstructure:"symbol_ids"`
	HistoryDays    int               `mapstructure:"history_days"`
}

// ChainsConfig covers per-chain block count sources.
type ChainsConfig struct {
	EthereumRPCURL     string        `mapstructure:"ethereum_rpc_url"`
	BitcoinExplorerURL string        `mapstructure:"bitcoin_explorer_url"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
}

// PortfolioConfig declares one tracked portfolio.
type PortfolioConfig struct {
	Name      string          `mapstructure:"name"`
	Quote     string          `mapstructure:"quote"`
	Addresses []AddressConfig `mapstructure:"addresses"`
}

// AddressConfig declares one tracked address.
type AddressConfig struct {
	Chain   string   `mapstructure:"chain"`
	Address string   `mapstructure:"address"`
	Tokens  []string `mapstructure:"tokens"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COINFOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "coinfolio")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("poll.prices_interval", "30s")
	v.SetDefault("poll.block_intervals.ethereum", "1m")
	v.SetDefault("poll.block_intervals.bitcoin", "10m")

	v.SetDefault("rates.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("rates.request_timeout", "10s")
	v.SetDefault("rates.user_agent", "coinfolio/1.0")
	v.SetDefault("rates.history_days", 365)

	v.SetDefault("chains.bitcoin_explorer_url", "https://blockchain.info")
	v.SetDefault("chains.request_timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Poll.PricesInterval <= 0 {
		return fmt.Errorf("poll.prices_interval must be greater than zero")
	}
	if c.Rates.HistoryDays <= 0 {
		return fmt.Errorf("rates.history_days must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	names := make(map[string]struct{}, len(c.Portfolios))
	for _, p := range c.Portfolios {
		if p.Name == "" {
			return fmt.Errorf("portfolio name must not be empty")
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("duplicate portfolio name %q", p.Name)
		}
		names[p.Name] = struct{}{}
		if p.Quote == "" {
			return fmt.Errorf("portfolio %q: quote currency is required", p.Name)
		}
		for _, addr := range p.Addresses {
			if _, err := domain.ParseChain(addr.Chain); err != nil {
				return fmt.Errorf("portfolio %q: %w", p.Name, err)
			}
			if addr.Address == "" {
				return fmt.Errorf("portfolio %q: address must not be empty", p.Name)
			}
		}
	}
	return nil
}

// DomainPortfolios converts configured portfolios to domain values.
// Assumes Validate has passed.
func (c *Config) DomainPortfolios() []domain.Portfolio {
	out := make([]domain.Portfolio, 0, len(c.Portfolios))
	for _, p := range c.Portfolios {
		portfolio := domain.Portfolio{Name: p.Name, Quote: strings.ToUpper(p.Quote)}
		for _, addr := range p.Addresses {
			chain, _ := domain.ParseChain(addr.Chain)
			portfolio.Addresses = append(portfolio.Addresses, domain.Address{
				Chain:   chain,
				Address: addr.Address,
				Tokens:  addr.Tokens,
			})
		}
		out = append(out, portfolio)
	}
	return out
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
