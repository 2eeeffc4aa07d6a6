package budget

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/manyfutures/foresight/internal/clock"
	"github.com/manyfutures/foresight/internal/config"
	ledgerdomain "github.com/manyfutures/foresight/internal/ledger/domain"
	orgdomain "github.com/manyfutures/foresight/internal/organization/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockLedgerSvc struct {
	spendByOrg map[snowflake.ID]float64
}

func (m *mockLedgerSvc) RecordUsage(ctx context.Context, req ledgerdomain.RecordUsageRequest) (*ledgerdomain.RecordUsageResult, error) {
	return nil, nil
}

func (m *mockLedgerSvc) DailySpend(ctx context.Context, orgID snowflake.ID, day time.Time) (float64, error) {
	return m.spendByOrg[orgID], nil
}

func (m *mockLedgerSvc) EpisodeSpend(ctx context.Context, episodeID snowflake.ID) (float64, error) {
	return 0, nil
}

type mockOrgSvc struct {
	pausedUntil map[snowflake.ID]time.Time
	entitled    map[snowflake.ID]bool
}

func newMockOrgSvc() *mockOrgSvc {
	return &mockOrgSvc{
		pausedUntil: make(map[snowflake.ID]time.Time),
		entitled:    make(map[snowflake.ID]bool),
	}
}

func (m *mockOrgSvc) GetByID(ctx context.Context, id snowflake.ID) (orgdomain.Organization, error) {
	return orgdomain.Organization{ID: id}, nil
}

func (m *mockOrgSvc) EnsureGenerationAllowed(ctx context.Context, id snowflake.ID, now time.Time) error {
	if entitled, ok := m.entitled[id]; ok && !entitled {
		return orgdomain.ErrNotEntitled
	}
	if until, ok := m.pausedUntil[id]; ok && now.Before(until) {
		return orgdomain.ErrGenerationPaused
	}
	return nil
}

func (m *mockOrgSvc) PauseGenerationUntil(ctx context.Context, id snowflake.ID, until time.Time) error {
	m.pausedUntil[id] = until
	return nil
}

func newGuard(t *testing.T, ledgerSvc *mockLedgerSvc, orgSvc *mockOrgSvc, now time.Time) *guardService {
	t.Helper()
	holder := config.NewStaticBudgetPolicyHolder(config.BudgetPolicy{
		Currency:             "GBP",
		PerEpisodeCeiling:    2.0,
		OrgDailyCeiling:      50.0,
		EstimatedEpisodeCost: 0.5,
	})
	return NewService(ServiceParam{
		Log:       zap.NewNop(),
		LedgerSvc: ledgerSvc,
		OrgSvc:    orgSvc,
		Policy:    holder,
		Clock:     clock.NewFakeClock(now),
	}).(*guardService)
}

func TestPreflightAllowsUnderCeiling(t *testing.T) {
	now := time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)
	orgID := snowflake.ID(1)
	ledgerSvc := &mockLedgerSvc{spendByOrg: map[snowflake.ID]float64{orgID: 10}}

	guard := newGuard(t, ledgerSvc, newMockOrgSvc(), now)
	assert.NoError(t, guard.Preflight(context.Background(), orgID, snowflake.ID(2)))
}

func TestPreflightDeniesNearCeiling(t *testing.T) {
	now := time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)
	orgID := snowflake.ID(1)
	ledgerSvc := &mockLedgerSvc{spendByOrg: map[snowflake.ID]float64{orgID: 49.8}}

	guard := newGuard(t, ledgerSvc, newMockOrgSvc(), now)
	err := guard.Preflight(context.Background(), orgID, snowflake.ID(2))
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestPreflightDeniesPausedOrg(t *testing.T) {
	now := time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)
	orgID := snowflake.ID(1)
	orgSvc := newMockOrgSvc()
	orgSvc.pausedUntil[orgID] = now.Add(time.Hour)

	guard := newGuard(t, &mockLedgerSvc{spendByOrg: map[snowflake.ID]float64{}}, orgSvc, now)
	err := guard.Preflight(context.Background(), orgID, snowflake.ID(2))
	assert.ErrorIs(t, err, orgdomain.ErrGenerationPaused)
}

func TestPreflightDeniesUnentitledOrg(t *testing.T) {
	now := time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)
	orgID := snowflake.ID(1)
	orgSvc := newMockOrgSvc()
	orgSvc.entitled[orgID] = false

	guard := newGuard(t, &mockLedgerSvc{spendByOrg: map[snowflake.ID]float64{}}, orgSvc, now)
	err := guard.Preflight(context.Background(), orgID, snowflake.ID(2))
	assert.ErrorIs(t, err, orgdomain.ErrNotEntitled)
}

// Org already spent £49 today against a £50 ceiling; the generation lands at
// £3. Postflight reports the breach and pauses the org for the rest of the
// UTC day. Other organizations are unaffected.
func TestPostflightDailyBreachPausesOrg(t *testing.T) {
	now := time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)
	orgID := snowflake.ID(1)
	otherOrg := snowflake.ID(2)
	ledgerSvc := &mockLedgerSvc{spendByOrg: map[snowflake.ID]float64{
		orgID:    52, // 49 + the 3-pound episode already recorded
		otherOrg: 5,
	}}
	orgSvc := newMockOrgSvc()

	guard := newGuard(t, ledgerSvc, orgSvc, now)
	err := guard.Postflight(context.Background(), orgID, snowflake.ID(10), 3)
	require.ErrorIs(t, err, ErrBudgetExceeded)

	pausedUntil, paused := orgSvc.pausedUntil[orgID]
	require.True(t, paused)
	assert.Equal(t, time.Date(2025, 8, 21, 0, 0, 0, 0, time.UTC), pausedUntil)

	// The paused org is refused further generation today...
	err = guard.Preflight(context.Background(), orgID, snowflake.ID(3))
	assert.ErrorIs(t, err, orgdomain.ErrGenerationPaused)

	// ...while other orgs proceed.
	assert.NoError(t, guard.Preflight(context.Background(), otherOrg, snowflake.ID(4)))
}

func TestPostflightEpisodeCeilingFlagsWithoutPause(t *testing.T) {
	now := time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)
	orgID := snowflake.ID(1)
	ledgerSvc := &mockLedgerSvc{spendByOrg: map[snowflake.ID]float64{orgID: 10}}
	orgSvc := newMockOrgSvc()

	guard := newGuard(t, ledgerSvc, orgSvc, now)
	err := guard.Postflight(context.Background(), orgID, snowflake.ID(10), 2.5)
	require.ErrorIs(t, err, ErrEpisodeCeilingExceeded)

	_, paused := orgSvc.pausedUntil[orgID]
	assert.False(t, paused)
}

func TestPostflightWithinLimits(t *testing.T) {
	now := time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)
	orgID := snowflake.ID(1)
	ledgerSvc := &mockLedgerSvc{spendByOrg: map[snowflake.ID]float64{orgID: 10}}

	guard := newGuard(t, ledgerSvc, newMockOrgSvc(), now)
	assert.NoError(t, guard.Postflight(context.Background(), orgID, snowflake.ID(10), 1.2))
}
