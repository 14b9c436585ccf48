package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del rebalanceador.
type Config struct {
	Loop        LoopConfig        `yaml:"loop"`
	Provider    ProviderConfig    `yaml:"provider"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Chain       ChainConfig       `yaml:"chain"`
	Optimizer   OptimizerConfig   `yaml:"optimizer"`
	Precheck    PrecheckConfig    `yaml:"precheck"`
	SwapCost    SwapCostConfig    `yaml:"swap_cost"`
	Jobs        JobsConfig        `yaml:"jobs"`
	Deployments []DeploymentEntry `yaml:"deployments"`
	Policies    []PolicyEntry     `yaml:"policies"`
	Storage     StorageConfig     `yaml:"storage"`
	Log         LogConfig         `yaml:"log"`
}

// LoopConfig controla el ciclo programado de prechecks.
type LoopConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// ProviderConfig apunta al servicio de curvas de rendimiento.
type ProviderConfig struct {
	BaseURL             string  `yaml:"base_url"`
	TimeoutSeconds      int     `yaml:"timeout_seconds"`
	CurveQueryTimeoutMs int     `yaml:"curve_query_timeout_ms"`
	RequestsPerSecond   float64 `yaml:"requests_per_second"`
	MinPoolTVLUSD       float64 `yaml:"min_pool_tvl_usd"`
}

// ExecutionConfig apunta al servicio externo que firma y envía transacciones.
type ExecutionConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	SubmitRetries  int    `yaml:"submit_retries"`
}

// ChainConfig describe la red EVM y los tokens conocidos por cadena.
type ChainConfig struct {
	RPCURL            string                  `yaml:"rpc_url"`
	NativePriceUSD    float64                 `yaml:"native_price_usd"`
	GasPerAction      uint64                  `yaml:"gas_per_action"`
	ReceiptAttempts   int                     `yaml:"receipt_attempts"`
	ReceiptIntervalMs int                     `yaml:"receipt_interval_ms"`
	StableTokens      map[string][]string     `yaml:"stable_tokens"` // chain → símbolos
	Tokens            map[string][]TokenEntry `yaml:"tokens"`        // chain → registro de tokens
	SlippageBps       int                     `yaml:"slippage_bps"`
}

// TokenEntry es un token del registro de una cadena.
type TokenEntry struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// OptimizerConfig controla el asignador marginal.
type OptimizerConfig struct {
	IncrementFraction    float64 `yaml:"increment_fraction"`
	MinMarginalAPY       float64 `yaml:"min_marginal_apy"`
	MaxBreakevenHours    float64 `yaml:"max_breakeven_hours"`
	MaxIterations        int     `yaml:"max_iterations"`
	LPDerate             float64 `yaml:"lp_derate"`
	SupplyHoldingDays    float64 `yaml:"supply_holding_days"`
	LPHoldingDays        float64 `yaml:"lp_holding_days"`
	FirstSwapGasUSD      float64 `yaml:"first_swap_gas_usd"`
	EstimateOnly         bool    `yaml:"estimate_only"` // no consulta el APY real en cada incremento
	Workers              int     `yaml:"workers"`
	MaxPerOpportunityPct float64 `yaml:"max_per_opportunity_pct"` // tope por oportunidad, fracción del capital
}

// PrecheckConfig contiene los umbrales de disparo.
type PrecheckConfig struct {
	MinPortfolioUSD float64 `yaml:"min_portfolio_usd"`
	MinRatio        float64 `yaml:"min_ratio"`
	MinDiffPP       float64 `yaml:"min_diff_pp"`
	HorizonDays     float64 `yaml:"horizon_days"`
}

// SwapCostConfig controla la matriz de costes de swap.
type SwapCostConfig struct {
	BaseNotionalUSD        float64 `yaml:"base_notional_usd"`
	RefreshMinutes         int     `yaml:"refresh_minutes"`
	StaticFeeRate          float64 `yaml:"static_fee_rate"`
	StaticMaxSlippage      float64 `yaml:"static_max_slippage"`
	StaticSlippageScaleUSD float64 `yaml:"static_slippage_scale_usd"`
}

// JobsConfig controla el orquestador de jobs.
type JobsConfig struct {
	OpenWindowMinutes      int     `yaml:"open_window_minutes"`
	CompletedWindowMinutes int     `yaml:"completed_window_minutes"`
	CooldownSeconds        int     `yaml:"cooldown_seconds"`
	WorkerRatePerMinute    float64 `yaml:"worker_rate_per_minute"`
	QueueSize              int     `yaml:"queue_size"`
	GasUSDPerAction        float64 `yaml:"gas_usd_per_action"`
}

// DeploymentEntry es una cartera gestionada.
type DeploymentEntry struct {
	ID            string `yaml:"id"`
	UserID        string `yaml:"user_id"`
	ChainID       int64  `yaml:"chain_id"`
	Chain         string `yaml:"chain"`
	SafeAddress   string `yaml:"safe_address"`
	WalletAddress string `yaml:"wallet_address"`
}

// PolicyEntry es la política de riesgo de un usuario, sembrada en storage al arrancar.
type PolicyEntry struct {
	UserID          string   `yaml:"user_id"`
	Chains          []string `yaml:"chains"`
	AssetWhitelist  []string `yaml:"asset_whitelist"`
	MinAprLiftBps   float64  `yaml:"min_apr_lift_bps"`
	MinNetUSD       float64  `yaml:"min_net_usd"`
	MinHealthFactor float64  `yaml:"min_health_factor"`
	MaxSlippageBps  *float64 `yaml:"max_slippage_bps"` // nil: sin tope
	MaxGasUSD       *float64 `yaml:"max_gas_usd"`
	MaxPerTradeUSD  *float64 `yaml:"max_per_trade_usd"`
	AutoEnabled     bool     `yaml:"auto_enabled"`
}

// StorageConfig controla dónde se persisten los jobs.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres
	DSN    string `yaml:"dsn"`    // ruta al archivo SQLite, ":memory:" o DSN de postgres
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse interpreta un YAML ya leído, aplica overrides de entorno y defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Parse: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// LoopInterval devuelve el intervalo del ciclo programado.
func (c *Config) LoopInterval() time.Duration {
	return time.Duration(c.Loop.IntervalSeconds) * time.Second
}

// Deployment busca un deployment por ID.
func (c *Config) Deployment(id string) (DeploymentEntry, bool) {
	for _, d := range c.Deployments {
		if d.ID == id {
			return d, true
		}
	}
	return DeploymentEntry{}, false
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("EXECUTION_BASE_URL"); v != "" {
		cfg.Execution.BaseURL = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Loop.IntervalSeconds <= 0 {
		cfg.Loop.IntervalSeconds = 300
	}

	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "http://localhost:8080"
	}
	if cfg.Provider.TimeoutSeconds <= 0 {
		cfg.Provider.TimeoutSeconds = 10
	}
	if cfg.Provider.CurveQueryTimeoutMs <= 0 {
		cfg.Provider.CurveQueryTimeoutMs = 5000
	}
	if cfg.Provider.RequestsPerSecond <= 0 {
		cfg.Provider.RequestsPerSecond = 5
	}

	if cfg.Execution.BaseURL == "" {
		cfg.Execution.BaseURL = "http://localhost:8081"
	}
	if cfg.Execution.TimeoutSeconds <= 0 {
		cfg.Execution.TimeoutSeconds = 30
	}
	if cfg.Execution.SubmitRetries <= 0 {
		cfg.Execution.SubmitRetries = 3
	}

	if cfg.Chain.RPCURL == "" {
		cfg.Chain.RPCURL = "http://localhost:8545"
	}
	if cfg.Chain.NativePriceUSD <= 0 {
		cfg.Chain.NativePriceUSD = 3000
	}
	if cfg.Chain.GasPerAction == 0 {
		cfg.Chain.GasPerAction = 250_000
	}
	if cfg.Chain.ReceiptAttempts <= 0 {
		cfg.Chain.ReceiptAttempts = 10
	}
	if cfg.Chain.ReceiptIntervalMs <= 0 {
		cfg.Chain.ReceiptIntervalMs = 1000
	}
	if cfg.Chain.SlippageBps <= 0 {
		cfg.Chain.SlippageBps = 50
	}

	if cfg.Optimizer.IncrementFraction <= 0 || cfg.Optimizer.IncrementFraction > 1 {
		cfg.Optimizer.IncrementFraction = 0.5
	}
	if cfg.Optimizer.MaxBreakevenHours <= 0 {
		cfg.Optimizer.MaxBreakevenHours = 168
	}
	if cfg.Optimizer.MaxIterations <= 0 {
		cfg.Optimizer.MaxIterations = 100
	}
	if cfg.Optimizer.LPDerate <= 0 {
		cfg.Optimizer.LPDerate = 0.7
	}
	if cfg.Optimizer.SupplyHoldingDays <= 0 {
		cfg.Optimizer.SupplyHoldingDays = 7
	}
	if cfg.Optimizer.LPHoldingDays <= 0 {
		cfg.Optimizer.LPHoldingDays = 30
	}
	if cfg.Optimizer.FirstSwapGasUSD <= 0 {
		cfg.Optimizer.FirstSwapGasUSD = 0.01
	}
	if cfg.Optimizer.MaxPerOpportunityPct <= 0 || cfg.Optimizer.MaxPerOpportunityPct > 1 {
		cfg.Optimizer.MaxPerOpportunityPct = 0.5
	}

	if cfg.Precheck.MinPortfolioUSD <= 0 {
		cfg.Precheck.MinPortfolioUSD = 50
	}
	if cfg.Precheck.MinRatio <= 0 {
		cfg.Precheck.MinRatio = 1.10
	}
	if cfg.Precheck.MinDiffPP <= 0 {
		cfg.Precheck.MinDiffPP = 2.0
	}
	if cfg.Precheck.HorizonDays <= 0 {
		cfg.Precheck.HorizonDays = 30
	}

	if cfg.SwapCost.BaseNotionalUSD <= 0 {
		cfg.SwapCost.BaseNotionalUSD = 10_000
	}
	if cfg.SwapCost.RefreshMinutes <= 0 {
		cfg.SwapCost.RefreshMinutes = 15
	}
	if cfg.SwapCost.StaticFeeRate <= 0 {
		cfg.SwapCost.StaticFeeRate = 0.0001
	}
	if cfg.SwapCost.StaticMaxSlippage <= 0 {
		cfg.SwapCost.StaticMaxSlippage = 0.002
	}
	if cfg.SwapCost.StaticSlippageScaleUSD <= 0 {
		cfg.SwapCost.StaticSlippageScaleUSD = 100_000
	}

	if cfg.Jobs.OpenWindowMinutes <= 0 {
		cfg.Jobs.OpenWindowMinutes = 10
	}
	if cfg.Jobs.CompletedWindowMinutes <= 0 {
		cfg.Jobs.CompletedWindowMinutes = 30
	}
	if cfg.Jobs.CooldownSeconds <= 0 {
		cfg.Jobs.CooldownSeconds = 60
	}
	if cfg.Jobs.WorkerRatePerMinute <= 0 {
		cfg.Jobs.WorkerRatePerMinute = 10
	}
	if cfg.Jobs.QueueSize <= 0 {
		cfg.Jobs.QueueSize = 64
	}
	if cfg.Jobs.GasUSDPerAction <= 0 {
		cfg.Jobs.GasUSDPerAction = 0.05
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "yieldpilot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
