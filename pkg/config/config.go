// Package config loads the mediator node's flat, enumerated option set from
// the environment (optionally overlaid with a YAML file), the way the
// teacher's service config does: typed getEnv* helpers feeding a plain
// struct, followed by an explicit Validate() pass.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every option the mediator node reads at startup.
type Config struct {
	// Chain service
	ChainEndpoint       string
	ChainID             string
	MediatorPrivateKey  string // hex or PEM; see pkg/identity
	MediatorPublicKey   string
	ChainRequestTimeout time.Duration

	// Consensus / rotation
	ConsensusMode     string // permissionless | dpos | poa | hybrid
	MinEffectiveStake float64

	// Economics
	FacilitationFeePercent float64
	BaseFilingBurn         float64
	FreeDailySubmissions   int
	BurnEscalationBase     float64
	BurnEscalationExponent float64
	SuccessBurnPercentage  float64
	MaxLoadMultiplier      float64
	TargetIntentRate       float64
	MaxIntentRate          float64
	LoadSmoothingFactor    float64
	LoadScalingEnabled     bool

	// Anti-Sybil
	EnableSybilResistance bool
	DailyFreeLimit        int
	ExcessDepositAmount   float64
	DepositRefundDays     int

	// Intent cache / vector index
	VectorDimensions     int
	MaxIntentsCache      int
	AcceptanceWindowHours int

	// Alignment cycle
	AlignmentCycleIntervalMs int
	TopNIntents              int
	TopKCandidates           int
	MaxClaimsPerCycle        int
	MinNegotiationConfidence float64

	// Work-claim gossip
	PeerEndpoints         []string
	PeerDiscoveryInterval time.Duration
	HeartbeatInterval     time.Duration
	WorkClaimTTL          time.Duration
	ListenAddr            string
	CORSAllowedOrigins    []string

	// Validator rotation: "mediatorId:effectiveStake" pairs. The chain
	// service exposes no dedicated validator-set endpoint (see §6), so the
	// rotation set is supplied directly at startup, like the peer list.
	ValidatorSet []string

	// External capability collaborator (Negotiator/Embedder/Validator/Detector)
	CapabilityEndpoint string
	CapabilityTimeout  time.Duration
	CapabilityTokenCap int

	// Challenge detector / semantic consensus
	EnableChallengeSubmission bool
	MinConfidenceToChallenge  float64
	EnableSemanticConsensus   bool
	HighValueThreshold        float64
	RequiredVerifiers         int
	RequiredConsensus         int
	SemanticSimilarityThreshold float64
	VerificationDeadlineHours float64

	// Dispute / evidence
	EnableDisputeSystem      bool
	AutoFreezeEvidence       bool
	RequireHumanRatification bool

	// Effort receipts
	EnableEffortCapture        bool
	EffortSegmentationStrategy string // fixed_window | activity_gap | hybrid
	EffortTimeWindowMinutes    float64
	EffortActivityGapMinutes   float64
	EffortRetentionDays        int

	// Prompt-injection defence
	InjectionRateLimitAttempts int
	InjectionRateLimitWindow   time.Duration

	// Ambient
	DataDir         string
	HealthAddr      string
	LogLevel        string
	ConfigFile      string
	AuditDatabaseURL string
}

// Load reads configuration from the environment, optionally layering a YAML
// file underneath it (env wins). This mirrors the teacher's Load()/getEnv*
// idiom.
func Load() (*Config, error) {
	cfg := &Config{
		ChainEndpoint:       getEnv("CHAIN_ENDPOINT", ""),
		ChainID:             getEnv("CHAIN_ID", "mediator-mainnet"),
		MediatorPrivateKey:  getEnv("MEDIATOR_PRIVATE_KEY", ""),
		MediatorPublicKey:   getEnv("MEDIATOR_PUBLIC_KEY", ""),
		ChainRequestTimeout: getEnvDuration("CHAIN_REQUEST_TIMEOUT", 10*time.Second),

		ConsensusMode:     getEnv("CONSENSUS_MODE", "permissionless"),
		MinEffectiveStake: getEnvFloat("MIN_EFFECTIVE_STAKE", 0),

		FacilitationFeePercent: getEnvFloat("FACILITATION_FEE_PERCENT", 0.01),
		BaseFilingBurn:         getEnvFloat("BASE_FILING_BURN", 10),
		FreeDailySubmissions:   getEnvInt("FREE_DAILY_SUBMISSIONS", 1),
		BurnEscalationBase:     getEnvFloat("BURN_ESCALATION_BASE", 2),
		BurnEscalationExponent: getEnvFloat("BURN_ESCALATION_EXPONENT", 1),
		SuccessBurnPercentage:  getEnvFloat("SUCCESS_BURN_PERCENTAGE", 0.0005),
		MaxLoadMultiplier:      getEnvFloat("MAX_LOAD_MULTIPLIER", 10),
		TargetIntentRate:       getEnvFloat("TARGET_INTENT_RATE", 10),
		MaxIntentRate:          getEnvFloat("MAX_INTENT_RATE", 50),
		LoadSmoothingFactor:    getEnvFloat("LOAD_SMOOTHING_FACTOR", 0.3),
		LoadScalingEnabled:     getEnvBool("LOAD_SCALING_ENABLED", true),

		EnableSybilResistance: getEnvBool("ENABLE_SYBIL_RESISTANCE", true),
		DailyFreeLimit:        getEnvInt("DAILY_FREE_LIMIT", 1),
		ExcessDepositAmount:   getEnvFloat("EXCESS_DEPOSIT_AMOUNT", 100),
		DepositRefundDays:     getEnvInt("DEPOSIT_REFUND_DAYS", 7),

		VectorDimensions:      getEnvInt("VECTOR_DIMENSIONS", 1536),
		MaxIntentsCache:       getEnvInt("MAX_INTENTS_CACHE", 10000),
		AcceptanceWindowHours: getEnvInt("ACCEPTANCE_WINDOW_HOURS", 72),

		AlignmentCycleIntervalMs: getEnvInt("ALIGNMENT_CYCLE_INTERVAL_MS", 30000),
		TopNIntents:              getEnvInt("TOP_N_INTENTS", 100),
		TopKCandidates:           getEnvInt("TOP_K_CANDIDATES", 10),
		MaxClaimsPerCycle:        getEnvInt("MAX_CLAIMS_PER_CYCLE", 3),
		MinNegotiationConfidence: getEnvFloat("MIN_NEGOTIATION_CONFIDENCE", 0.6),

		PeerEndpoints:         parseList(getEnv("PEER_ENDPOINTS", "")),
		PeerDiscoveryInterval: getEnvDuration("PEER_DISCOVERY_INTERVAL", 60*time.Second),
		HeartbeatInterval:     getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		WorkClaimTTL:          getEnvDuration("WORK_CLAIM_TTL", 5*time.Minute),
		ListenAddr:            getEnv("LISTEN_ADDR", "0.0.0.0:7700"),
		CORSAllowedOrigins:    parseList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		ValidatorSet:          parseList(getEnv("VALIDATOR_SET", "")),

		CapabilityEndpoint: getEnv("CAPABILITY_ENDPOINT", ""),
		CapabilityTimeout:  getEnvDuration("CAPABILITY_TIMEOUT", 20*time.Second),
		CapabilityTokenCap: getEnvInt("CAPABILITY_TOKEN_CAP", 4000),

		EnableChallengeSubmission:   getEnvBool("ENABLE_CHALLENGE_SUBMISSION", true),
		MinConfidenceToChallenge:    getEnvFloat("MIN_CONFIDENCE_TO_CHALLENGE", 0.75),
		EnableSemanticConsensus:     getEnvBool("ENABLE_SEMANTIC_CONSENSUS", true),
		HighValueThreshold:          getEnvFloat("HIGH_VALUE_THRESHOLD", 1000),
		RequiredVerifiers:           getEnvInt("REQUIRED_VERIFIERS", 3),
		RequiredConsensus:           getEnvInt("REQUIRED_CONSENSUS", 2),
		SemanticSimilarityThreshold: getEnvFloat("SEMANTIC_SIMILARITY_THRESHOLD", 0.85),
		VerificationDeadlineHours:   getEnvFloat("VERIFICATION_DEADLINE_HOURS", 1),

		EnableDisputeSystem:      getEnvBool("ENABLE_DISPUTE_SYSTEM", true),
		AutoFreezeEvidence:       getEnvBool("AUTO_FREEZE_EVIDENCE", true),
		RequireHumanRatification: getEnvBool("REQUIRE_HUMAN_RATIFICATION", true),

		EnableEffortCapture:        getEnvBool("ENABLE_EFFORT_CAPTURE", true),
		EffortSegmentationStrategy: getEnv("EFFORT_SEGMENTATION_STRATEGY", "hybrid"),
		EffortTimeWindowMinutes:    getEnvFloat("EFFORT_TIME_WINDOW_MINUTES", 10),
		EffortActivityGapMinutes:   getEnvFloat("EFFORT_ACTIVITY_GAP_MINUTES", 5),
		EffortRetentionDays:        getEnvInt("EFFORT_RETENTION_DAYS", 90),

		InjectionRateLimitAttempts: getEnvInt("INJECTION_RATE_LIMIT_ATTEMPTS", 5),
		InjectionRateLimitWindow:   getEnvDuration("INJECTION_RATE_LIMIT_WINDOW", time.Hour),

		DataDir:          getEnv("DATA_DIR", "./data"),
		HealthAddr:       getEnv("HEALTH_ADDR", "127.0.0.1:7701"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		ConfigFile:       getEnv("CONFIG_FILE", ""),
		AuditDatabaseURL: getEnv("AUDIT_DATABASE_URL", ""),
	}

	if cfg.ConfigFile != "" {
		if err := cfg.overlayYAML(cfg.ConfigFile); err != nil {
			return nil, fmt.Errorf("loading config overlay: %w", err)
		}
	}

	return cfg, nil
}

// overlayYAML merges values from a YAML file that were not already supplied
// via the environment. Env vars always win; this only fills gaps.
func (c *Config) overlayYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var overlay map[string]any
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	// Only a small, deliberately-supported subset of keys may come from the
	// overlay file; everything else must be set via the environment.
	if v, ok := overlay["chainEndpoint"].(string); ok && c.ChainEndpoint == "" {
		c.ChainEndpoint = v
	}
	if v, ok := overlay["dataDir"].(string); ok && c.DataDir == "./data" {
		c.DataDir = v
	}
	return nil
}

// Validate enforces every required option is present before the engine
// starts. A failure here is fatal (CLI exit code 1).
func (c *Config) Validate() error {
	var errs []string

	if c.ChainEndpoint == "" {
		errs = append(errs, "CHAIN_ENDPOINT is required")
	}
	if c.MediatorPrivateKey == "" {
		errs = append(errs, "MEDIATOR_PRIVATE_KEY is required")
	}
	if c.CapabilityEndpoint == "" {
		errs = append(errs, "CAPABILITY_ENDPOINT is required")
	}
	switch c.ConsensusMode {
	case "permissionless", "dpos", "poa", "hybrid":
	default:
		errs = append(errs, fmt.Sprintf("CONSENSUS_MODE %q is not one of permissionless|dpos|poa|hybrid", c.ConsensusMode))
	}
	if c.VectorDimensions <= 0 {
		errs = append(errs, "VECTOR_DIMENSIONS must be positive")
	}
	if c.MaxLoadMultiplier < 1 {
		errs = append(errs, "MAX_LOAD_MULTIPLIER must be >= 1")
	}
	if c.RequiredConsensus > c.RequiredVerifiers {
		errs = append(errs, "REQUIRED_CONSENSUS cannot exceed REQUIRED_VERIFIERS")
	}
	switch c.EffortSegmentationStrategy {
	case "fixed_window", "activity_gap", "hybrid":
	default:
		errs = append(errs, fmt.Sprintf("EFFORT_SEGMENTATION_STRATEGY %q is not one of fixed_window|activity_gap|hybrid", c.EffortSegmentationStrategy))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateForDevelopment performs relaxed validation for local iteration,
// where a private key may be auto-generated and there is no live chain.
func (c *Config) ValidateForDevelopment() error {
	if c.VectorDimensions <= 0 {
		return fmt.Errorf("development configuration validation failed:\n  - VECTOR_DIMENSIONS must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var parsed int
		if _, err := fmt.Sscanf(v, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		var parsed float64
		if _, err := fmt.Sscanf(v, "%g", &parsed); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
