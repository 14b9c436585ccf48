package domain

// Severity de un RiskFlag. Solo critical bloquea sin política.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// RiskFlag es una advertencia asociada a una oportunidad o a una simulación.
type RiskFlag struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// RiskPolicy son los límites configurados por un usuario. Los mínimos se
// aplican siempre, también a cero; los máximos nil no tienen tope.
type RiskPolicy struct {
	UserID          string   `json:"userId"`
	Chains          []string `json:"chains,omitempty"`
	AssetWhitelist  []string `json:"assetWhitelist,omitempty"`
	MinAprLiftBps   float64  `json:"minAprLiftBps"`
	MinNetUSD       float64  `json:"minNetUsd"`
	MinHealthFactor float64  `json:"minHealthFactor"`
	MaxSlippageBps  *float64 `json:"maxSlippageBps,omitempty"`
	MaxGasUSD       *float64 `json:"maxGasUsd,omitempty"`
	MaxPerTradeUSD  *float64 `json:"maxPerTradeUsd,omitempty"`
	AutoEnabled     bool     `json:"autoEnabled"`
}

// Limit devuelve un tope para los campos Max de RiskPolicy.
func Limit(v float64) *float64 { return &v }

// Simulation es el resultado económico estimado de un plan de rebalanceo.
type Simulation struct {
	NetGainUSD    float64    `json:"netGainUsd"`
	AprLiftBps    float64    `json:"aprLiftBps"`
	HealthFactor  *float64   `json:"healthFactor,omitempty"`
	SlippageBps   float64    `json:"slippageBps"`
	GasUSD        float64    `json:"gasUsd"`
	SwapCostUSD   float64    `json:"swapCostUsd"`
	TradeValueUSD float64    `json:"tradeValueUsd"`
	Chain         string     `json:"chain"`
	Assets        []string   `json:"assets,omitempty"`
	RiskFlags     []RiskFlag `json:"riskFlags,omitempty"`
}

// Violation es un límite de la política que la simulación no cumple.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// GuardDecision agrupa todas las violaciones detectadas.
type GuardDecision struct {
	Approved   bool        `json:"approved"`
	Violations []Violation `json:"violations,omitempty"`
}
