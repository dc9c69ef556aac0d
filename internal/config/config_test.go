package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/engine"
)

const sampleTOML = `
mode = "api"
log_level = "debug"

[engine]
home_chain = "16015286601757825753"
admin = "0x00000000000000000000000000000000000000ad"
treasury = "0x00000000000000000000000000000000000000fe"
kyc_verifier = "0x00000000000000000000000000000000000000c5"
supported_chains = ["2", "3"]
max_price_age = "15m"
inactivity_period = "720h"

[price]
source = "static"
static_usd = "60000"

[database]
driver = "memory"

[redis]
enabled = false

[server]
port = 9090
api_key = "k"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bitpesa.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	require := require.New(t)
	t.Setenv("BITPESA_SERVER_PORT", "9191")
	t.Setenv("BITPESA_ENGINE_LIQUIDATOR_REWARD_BPS", "700")
	t.Setenv("BITPESA_NOTIFY_EVENTS", " liquidated , ,will_released")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(err)
	require.NoError(cfg.Validate())

	require.Equal("api", cfg.Mode)
	require.Equal(9191, cfg.Server.Port)
	require.Equal(15*time.Minute, cfg.Engine.MaxPriceAge.Duration)
	require.Equal(uint64(150), cfg.Engine.RequiredCollateralRatio, "default kept")
	require.Equal(uint32(700), cfg.Engine.LiquidatorRewardBps)
	require.Equal([]string{"liquidated", "will_released"}, cfg.Notify.Events)

	ec, err := cfg.Engine.Build()
	require.NoError(err)
	require.Equal(domain.ChainSelector(16015286601757825753), ec.HomeChain)
	require.Equal([]domain.ChainSelector{2, 3}, ec.SupportedChains)
	require.NotNil(ec.KYCVerifier)
	require.Equal(engine.InactivityTrigger{Period: 720 * time.Hour}, cfg.Engine.Trigger())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.Admin = "nobody"
	cfg.Engine.Treasury = "0x00000000000000000000000000000000000000fe"
	cfg.Price.Source = "static"
	cfg.Price.StaticUSD = "lots"
	cfg.Relay.Enabled = true
	cfg.Mode = "full"
	cfg.Keeper.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"engine: admin",
		"price: static_usd",
		"relay: either private_key or encrypted_key_path",
		"relay: trusted_relayers must not be empty",
		"keeper: address",
	} {
		require.ErrorContains(t, err, want)
	}
}

func TestEngineBuildRejectsHomeChainAsPeer(t *testing.T) {
	ec := Defaults().Engine
	ec.Admin = "0x00000000000000000000000000000000000000ad"
	ec.Treasury = "0x00000000000000000000000000000000000000fe"
	ec.SupportedChains = []string{"1"}
	_, err := ec.Build()
	require.ErrorIs(t, err, domain.ErrValidation)

	ec.SupportedChains = nil
	built, err := ec.Build()
	require.NoError(t, err)
	require.Equal(t, engine.AlwaysTriggered{}, ec.Trigger())
	require.Nil(t, built.KYCVerifier)
}

func TestRedactedConfig(t *testing.T) {
	require := require.New(t)
	cfg := Defaults()
	cfg.Database.Password = "pw"
	cfg.Relay.PrivateKey = "0xabc"
	cfg.Server.APIKey = "key"

	out := RedactedConfig(&cfg)
	require.Equal("***", out.Database.Password)
	require.Equal("***", out.Relay.PrivateKey)
	require.Equal("***", out.Server.APIKey)
	require.Empty(out.Notify.TelegramToken)
	require.Equal("pw", cfg.Database.Password)

	out.Server.CORSOrigins[0] = "changed"
	require.NotEqual("changed", cfg.Server.CORSOrigins[0])
}
