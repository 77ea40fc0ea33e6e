package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_UsesCollabServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "COLLAB_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_InternalAPIKeyTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "INTERNAL_API_KEY", "primary-key")
	setEnvWithCleanup(t, "COLLAB_SERVICE_INTERNAL_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "primary-key" {
		t.Fatalf("expected InternalAPIKey to prioritize INTERNAL_API_KEY, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "PLATFORM_FEE_BPS")
	unsetEnvWithCleanup(t, "PLATFORM_FEE_PERCENT")
	unsetEnvWithCleanup(t, "MINIMUM_PAYOUT_KOBO")
	unsetEnvWithCleanup(t, "REQUEST_EXPIRY_HOURS")
	unsetEnvWithCleanup(t, "MAX_NEGOTIATION_ROUNDS")
	unsetEnvWithCleanup(t, "DECLINE_SUSPENSION_THRESHOLD")
	unsetEnvWithCleanup(t, "DECLINE_SUSPENSION_DAYS")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PlatformFeeBPS != 1000 {
		t.Errorf("expected default PlatformFeeBPS 1000, got %d", cfg.PlatformFeeBPS)
	}
	if cfg.MinimumPayoutKobo != 5000 {
		t.Errorf("expected default MinimumPayoutKobo 5000, got %d", cfg.MinimumPayoutKobo)
	}
	if cfg.RequestExpiryHours != 24 {
		t.Errorf("expected default RequestExpiryHours 24, got %d", cfg.RequestExpiryHours)
	}
	if cfg.MaxNegotiationRounds != 3 {
		t.Errorf("expected default MaxNegotiationRounds 3, got %d", cfg.MaxNegotiationRounds)
	}
	if cfg.DeclineSuspensionThreshold != 2 {
		t.Errorf("expected default DeclineSuspensionThreshold 2, got %d", cfg.DeclineSuspensionThreshold)
	}
	if cfg.DeclineSuspensionDays != 3 {
		t.Errorf("expected default DeclineSuspensionDays 3, got %d", cfg.DeclineSuspensionDays)
	}
}

func TestLoadConfig_PlatformFeePercentOverridesBPS(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "PLATFORM_FEE_PERCENT", "12.5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PlatformFeeBPS != 1250 {
		t.Fatalf("expected PLATFORM_FEE_PERCENT=12.5 to yield 1250 bps, got %d", cfg.PlatformFeeBPS)
	}
}

func TestLoadConfig_NegativeFeeCoercedToZero(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "PLATFORM_FEE_BPS", "-50")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PlatformFeeBPS != 0 {
		t.Fatalf("expected negative fee to coerce to 0, got %d", cfg.PlatformFeeBPS)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
