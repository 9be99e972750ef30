package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages runtime toggles of optional infrastructure.
// None of them change ledger arithmetic; they select where locks, caches
// and events live, and how strict payment input checks are.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// Predefined feature flag names.
const (
	FeatureDistributedLock   = "ledger.distributed_lock"     // redis lock instead of in-process mutex
	FeatureSnapshotCache     = "ledger.snapshot_cache"       // cache getLedger results in redis
	FeatureRedisEvents       = "events.redis_publish"        // mirror domain events to redis pub/sub
	FeatureFutureDateCheck   = "payments.future_date_check"  // reject payments dated after today
	FeatureStatusRefresh     = "scheduler.status_refresh"    // periodic status label refresh
	FeatureParallelPromotion = "promotion.parallel_students" // promote students concurrently
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features: make(map[string]*Feature),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	defaults := []Feature{
		{Name: FeatureDistributedLock, Description: "Per-student lock in redis (multi-instance deployments)", Enabled: false},
		{Name: FeatureSnapshotCache, Description: "Read-through ledger snapshot cache", Enabled: false},
		{Name: FeatureRedisEvents, Description: "Publish domain events to redis channels", Enabled: false},
		{Name: FeatureFutureDateCheck, Description: "Reject payments dated in the future", Enabled: true},
		{Name: FeatureStatusRefresh, Description: "Refresh stored status labels on a schedule", Enabled: true},
		{Name: FeatureParallelPromotion, Description: "Process promotion batches concurrently", Enabled: true},
	}
	for i := range defaults {
		f := defaults[i]
		ff.features[f.Name] = &f
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false
// Example: FEATURE_LEDGER_DISTRIBUTED_LOCK=true
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "ledger.distributed_lock" -> "FEATURE_LEDGER_DISTRIBUTED_LOCK"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is currently enabled.
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	if ff == nil {
		return false
	}

	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}

	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}
	return true
}

// SetEnabled toggles a feature at runtime.
func (ff *FeatureFlags) SetEnabled(featureName string, enabled bool) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	feature.Enabled = enabled
	return nil
}

// EnableFeature enables a feature.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetEnabled(featureName, true)
}

// DisableFeature disables a feature.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetEnabled(featureName, false)
}

// EnabledNames lists enabled features, sorted. Logged at startup.
func (ff *FeatureFlags) EnabledNames() []string {
	ff.mu.RLock()
	all := make([]string, 0, len(ff.features))
	for name := range ff.features {
		all = append(all, name)
	}
	ff.mu.RUnlock()

	var names []string
	for _, name := range all {
		if ff.IsEnabled(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// --- Errors ---

var (
	ErrFeatureNotFound = &FeatureFlagError{Message: "feature not found"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
