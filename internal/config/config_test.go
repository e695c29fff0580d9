package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("LEDGER_DRIVER", "")
	t.Setenv("DB_DRIVER", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Ledger.Driver)
	assert.Equal(t, 10, cfg.Market.DefaultRewardPercent)
	assert.Equal(t, 120*time.Second, cfg.Ledger.FinalityWindow())
	assert.Equal(t, time.Second, cfg.Ledger.PollEvery())
	assert.Equal(t, int64(50<<20), cfg.Storage.MaxUploadSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("LEDGER_CLOSE_GAS", "500000")
	t.Setenv("LEDGER_FINALITY_TIMEOUT", "5")
	t.Setenv("EVENTS_QUEUE_LIMIT", "64")
	t.Setenv("DB_AUTO_MIGRATE", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(500000), cfg.Ledger.CloseGas)
	assert.Equal(t, 5*time.Second, cfg.Ledger.FinalityWindow())
	assert.Equal(t, 64, cfg.Events.QueueLimit)
	assert.False(t, cfg.Database.AutoMigrate)
	assert.Equal(t, "/tmp/x.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", cfg.Database.DSN())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Environment: "development",
			JWT:         JWTConfig{SecretKey: defaultJWTSecret},
			Database:    DatabaseConfig{Driver: "postgres"},
			Ledger:      LedgerConfig{Driver: "memory"},
			Storage:     StorageConfig{Driver: "memory"},
		}
	}

	assert.NoError(t, base().Validate())

	cfg := base()
	cfg.Environment = "production"
	assert.ErrorContains(t, cfg.Validate(), "JWT secret")

	cfg = base()
	cfg.Ledger.Driver = "ethereum"
	assert.ErrorContains(t, cfg.Validate(), "LEDGER_RPC_URL")

	cfg.Ledger.RPCURL = "http://localhost:8545"
	assert.ErrorContains(t, cfg.Validate(), "contract addresses")

	cfg.Ledger.TokenAddress = "0x01"
	cfg.Ledger.ChannelAddress = "0x02"
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Database.Driver = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Storage.Driver = "ftp"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Environment = "production"
	cfg.JWT.SecretKey = "s3cret"
	cfg.Database.Password = "pw"
	assert.ErrorContains(t, cfg.Validate(), "memory ledger")

	cfg = base()
	cfg.Database = DatabaseConfig{Driver: "sqlite", SQLitePath: "file:t?mode=memory&cache=shared"}
	assert.Equal(t, "file:t?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", cfg.Database.DSN())

	cfg = base()
	assert.Equal(t, "host= port= user= password= dbname= sslmode=", cfg.Database.DSN())
}
