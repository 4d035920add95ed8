// Package config loads every environment-driven tunable this module's
// entrypoint needs, following pkg/database's plain os.Getenv/strconv
// idiom rather than a YAML-and-registry config layer: this module has
// a handful of independent scalars, not the original's tree of
// per-component sections with env-var overrides and file reloads.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/tarsy-sandboxd/pkg/database"
)

// knownProviders is the fixed set of provider names this module ships
// webhook parsing for (pkg/providerevent.parsers); used only to decide
// which WEBHOOK_SECRET_<NAME> environment variables to look for.
var knownProviders = []string{"e2b", "daytona"}

// Config collects every tunable the entrypoint wires into its
// components. Unlike database.Config it has no cross-field invariants
// to enforce, so there is no Validate — each field stands alone.
type Config struct {
	Database database.Config

	// DefaultProvider is the provider a brand-new thread's lease is
	// created against.
	DefaultProvider string

	// IdleReaperInterval is how often sandbox.IdleReaper sweeps for
	// idle-timed-out chat sessions and cost-bearing leases to pause.
	IdleReaperInterval time.Duration

	// ProviderEventReconcileInterval / ProviderEventStaleAfter drive
	// providerevent.Reconciler's periodic force-refresh sweep of leases
	// whose last webhook observation didn't classify cleanly.
	ProviderEventReconcileInterval time.Duration
	ProviderEventStaleAfter        time.Duration

	// ProviderEventRetention / ProviderEventRetentionInterval drive the
	// periodic trim of the raw webhook event log.
	ProviderEventRetention         time.Duration
	ProviderEventRetentionInterval time.Duration

	// RunRetentionCount is how many of a thread's most recent runs
	// survive runpipeline.Producer's end-of-run prune.
	RunRetentionCount int

	// WebhookSecrets maps provider name to its HMAC signing secret, read
	// from WEBHOOK_SECRET_<PROVIDER> (upper-cased). A provider with no
	// secret configured skips signature verification for its webhooks.
	WebhookSecrets map[string][]byte

	// HTTPAddr is the address the API server listens on.
	HTTPAddr string

	// LocalSandboxBaseDir roots the local-shell provider's per-session
	// working directories.
	LocalSandboxBaseDir string

	// RemoteProviderAddrs maps a provider name (from knownProviders) to
	// the gRPC address of its out-of-process daemon, read from
	// <NAME>_PROVIDER_ADDR (upper-cased). A provider absent from this map
	// is not registered — only the local provider is always present.
	RemoteProviderAddrs map[string]string

	// AgentGraphAddr is the gRPC address of the external agent graph
	// daemon pkg/agentgraph dials. Empty disables run production
	// entirely — the entrypoint still serves sandbox/webhook/stream
	// endpoints without it.
	AgentGraphAddr string
}

// Load reads Config from the environment, applying production-ready
// defaults for everything not explicitly set.
func Load() (Config, error) {
	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return Config{}, err
	}

	idleInterval, err := parseDurationEnv("IDLE_REAPER_INTERVAL", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	reconcileInterval, err := parseDurationEnv("PROVIDER_EVENT_RECONCILE_INTERVAL", time.Minute)
	if err != nil {
		return Config{}, err
	}
	staleAfter, err := parseDurationEnv("PROVIDER_EVENT_STALE_AFTER", 2*time.Minute)
	if err != nil {
		return Config{}, err
	}
	retention, err := parseDurationEnv("PROVIDER_EVENT_RETENTION", 7*24*time.Hour)
	if err != nil {
		return Config{}, err
	}
	retentionInterval, err := parseDurationEnv("PROVIDER_EVENT_RETENTION_INTERVAL", time.Hour)
	if err != nil {
		return Config{}, err
	}

	runRetention, err := strconv.Atoi(getEnvOrDefault("RUN_RETENTION_COUNT", "20"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid RUN_RETENTION_COUNT: %w", err)
	}

	return Config{
		Database:                       dbCfg,
		DefaultProvider:                getEnvOrDefault("DEFAULT_PROVIDER", "local"),
		IdleReaperInterval:             idleInterval,
		ProviderEventReconcileInterval: reconcileInterval,
		ProviderEventStaleAfter:        staleAfter,
		ProviderEventRetention:         retention,
		ProviderEventRetentionInterval: retentionInterval,
		RunRetentionCount:              runRetention,
		WebhookSecrets:                 loadWebhookSecrets(),
		HTTPAddr:                       ":" + getEnvOrDefault("HTTP_PORT", "8080"),
		LocalSandboxBaseDir:            getEnvOrDefault("LOCAL_SANDBOX_BASE_DIR", "/tmp/tarsy-sandboxd"),
		RemoteProviderAddrs:            loadRemoteProviderAddrs(),
		AgentGraphAddr:                 os.Getenv("AGENT_GRAPH_ADDR"),
	}, nil
}

func loadWebhookSecrets() map[string][]byte {
	secrets := map[string][]byte{}
	for _, name := range knownProviders {
		if v := os.Getenv("WEBHOOK_SECRET_" + strings.ToUpper(name)); v != "" {
			secrets[name] = []byte(v)
		}
	}
	return secrets
}

func loadRemoteProviderAddrs() map[string]string {
	addrs := map[string]string{}
	for _, name := range knownProviders {
		if v := os.Getenv(strings.ToUpper(name) + "_PROVIDER_ADDR"); v != "" {
			addrs[name] = v
		}
	}
	return addrs
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return def, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
