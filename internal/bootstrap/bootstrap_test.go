package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academy-hub/tuition-ledger/config"
	"github.com/academy-hub/tuition-ledger/internal/application/command"
	"github.com/academy-hub/tuition-ledger/internal/infrastructure/lock"
	"github.com/academy-hub/tuition-ledger/internal/infrastructure/persistence/memory"
	"github.com/academy-hub/tuition-ledger/pkg/logger"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Dhaka")
	require.NoError(t, err)

	return &config.Config{
		App: config.AppConfig{
			Name:        "tuition-ledger",
			Environment: config.EnvDevelopment,
			Version:     "test",
			Timezone:    "Asia/Dhaka",
			Location:    loc,
		},
		Ledger: config.LedgerConfig{
			Storage:                config.StorageMemory,
			OverdueThresholdMonths: 3,
			LockTimeout:            time.Second,
		},
		Redis:    config.RedisConfig{Disabled: true},
		Features: config.LoadFeatureFlags(),
	}
}

func TestBuild_Memory(t *testing.T) {
	cfg := memoryConfig(t)

	infra, err := Build(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer infra.Close()

	assert.IsType(t, &memory.Store{}, infra.Store)
	assert.IsType(t, &lock.KeyedMutex{}, infra.Locker)
	assert.Nil(t, infra.Snapshots)
	assert.Equal(t, 3, infra.Engine.Policy().OverdueThresholdMonths)

	status := infra.Health.Check(context.Background())
	assert.True(t, status.Ready)
	assert.Empty(t, status.Checks)

	deps := infra.CommandDependencies()
	assert.Same(t, infra.Engine, deps.Engine)
	assert.NotNil(t, deps.Events)

	// The assembled dependencies drive a real admission.
	total := decimal.NewFromInt(1000)
	h := command.NewAdmitStudentHandler(deps, infra.FeeStructures, command.AdmitStudentHandlerConfig{})
	_, err = h.Handle(context.Background(), command.AdmitStudentCommand{
		StudentID:     "S-1",
		Name:          "Rafi",
		AdmissionDate: time.Now().AddDate(0, -1, 0),
		CycleLabel:    "unassigned",
		TotalFee:      &total,
	})
	require.NoError(t, err)
	assert.NotNil(t, infra.Bus.Metrics())
}

func TestBuild_MemorySnapshotCache(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Ledger.SnapshotCacheTTL = 2 * time.Minute
	require.NoError(t, cfg.Features.EnableFeature(config.FeatureSnapshotCache))

	infra, err := Build(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer infra.Close()

	assert.IsType(t, &memory.SnapshotCache{}, infra.Snapshots)
	deps := infra.CommandDependencies()
	assert.Same(t, infra.Snapshots, deps.Cache)
	assert.Equal(t, 2*time.Minute, deps.CacheTTL)
}

func TestBuild_FeeCatalogFile(t *testing.T) {
	cfg := memoryConfig(t)
	path := filepath.Join(t.TempDir(), "fees.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"CSE-6M": {"name": "CSE six months", "items": [
			{"label": "Admission", "amount": "5000", "due_offset_months": 0},
			{"label": "Month 2", "amount": "3000", "due_offset_months": 1}
		]}
	}`), 0o600))
	cfg.Ledger.FeeStructuresFile = path

	infra, err := Build(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer infra.Close()

	fs, err := infra.FeeStructures.FeeStructure(context.Background(), "CSE-6M")
	require.NoError(t, err)
	assert.Len(t, fs.Items, 2)
}

func TestBuild_MissingFeeCatalogFails(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Ledger.FeeStructuresFile = filepath.Join(t.TempDir(), "missing.json")

	_, err := Build(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}

func TestNewLogger_DebugInDevelopment(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.App.Debug = true
	cfg.Observability.LogLevel = "error"

	log := NewLogger(cfg, "test")
	require.NotNil(t, log)
}

func TestParseMigrateAction(t *testing.T) {
	for in, want := range map[string]MigrateAction{"up": MigrateUp, " DOWN ": MigrateDown, "status": MigrateStatus} {
		got, err := ParseMigrateAction(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseMigrateAction("redo")
	assert.Error(t, err)
}

func TestMigrate_RequiresPostgres(t *testing.T) {
	err := Migrate(context.Background(), memoryConfig(t), logger.Nop(), MigrateStatus)
	assert.ErrorContains(t, err, "LEDGER_STORAGE=postgres")
}
