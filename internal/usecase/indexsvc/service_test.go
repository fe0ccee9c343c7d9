package indexsvc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/indexd/internal/domain"
	"github.com/quantfolio/indexd/internal/store"
	"github.com/quantfolio/indexd/internal/usecase/valuation"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type mockIndexRepository struct {
	mock.Mock
}

func (m *mockIndexRepository) Create(ctx context.Context, ix *domain.Index) error {
	args := m.Called(ctx, ix)
	return args.Error(0)
}

func (m *mockIndexRepository) AppendSet(ctx context.Context, indexID int, set *domain.ConstituentSet) error {
	args := m.Called(ctx, indexID, set)
	return args.Error(0)
}

func (m *mockIndexRepository) LoadAll(ctx context.Context) ([]*domain.Index, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Index), args.Error(1)
}

type stubCaps struct {
	caps map[string]decimal.Decimal
}

func (s *stubCaps) CapsAt(ctx context.Context, coinIDs []string, date time.Time) (map[string]decimal.Decimal, error) {
	return s.caps, nil
}

var (
	btc = domain.Asset{CoinID: "bitcoin", Symbol: "BTC"}
	eth = domain.Asset{CoinID: "ethereum", Symbol: "ETH"}
)

func newFixture(t *testing.T) (*Service, *store.IndexStore, *store.PriceStore, *mockIndexRepository) {
	t.Helper()

	prices := store.NewPriceStore()
	require.NoError(t, prices.Register(btc))
	require.NoError(t, prices.Register(eth))
	require.NoError(t, prices.Append("bitcoin", domain.PricePoint{Date: day(2025, 1, 1), Price: dec("50000")}))
	require.NoError(t, prices.Append("ethereum", domain.PricePoint{Date: day(2025, 1, 1), Price: dec("2500")}))

	indexes := store.NewIndexStore()
	repo := new(mockIndexRepository)
	return NewService(indexes, prices, repo, nil), indexes, prices, repo
}

func equalWeightParams() CreateParams {
	return CreateParams{
		ID:                  1,
		Symbol:              "TOP2",
		Name:                "Top Two Index",
		Tokens:              []domain.Asset{btc, eth},
		InitialDate:         day(2025, 1, 1),
		InitialPrice:        dec("1000"),
		RebalancePeriodDays: 30,
		WeightStrategy:      "equal",
	}
}

func TestCreate_InceptionAnchoredAtInitialPrice(t *testing.T) {
	svc, indexes, prices, repo := newFixture(t)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	ix, err := svc.Create(context.Background(), equalWeightParams())
	require.NoError(t, err)
	require.Len(t, ix.Sets, 1)

	set := ix.Sets[0]
	assert.Equal(t, domain.RebalanceInitial, set.Reason)
	assert.True(t, set.Constituents[0].Quantity.Equal(dec("0.01")), "got %s", set.Constituents[0].Quantity)
	assert.True(t, set.Constituents[1].Quantity.Equal(dec("0.2")), "got %s", set.Constituents[1].Quantity)
	assert.True(t, set.AnchorPortfolioValue.Equal(dec("1000")))
	assert.True(t, set.AnchorIndexPrice.Equal(dec("1000")))

	val, err := valuation.NewEngine(indexes, prices).Valuate(1, day(2025, 1, 1))
	require.NoError(t, err)
	assert.True(t, val.IndexPrice.Equal(dec("1000")), "got %s", val.IndexPrice)

	repo.AssertExpectations(t)
}

func TestCreate_EmptyTokensStartsFlat(t *testing.T) {
	svc, indexes, prices, repo := newFixture(t)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	params := equalWeightParams()
	params.Tokens = nil

	ix, err := svc.Create(context.Background(), params)
	require.NoError(t, err)
	require.Len(t, ix.Sets, 1)
	assert.True(t, ix.Sets[0].IsEmpty())

	val, err := valuation.NewEngine(indexes, prices).Valuate(1, day(2025, 2, 1))
	require.NoError(t, err)
	assert.True(t, val.IndexPrice.Equal(dec("1000")))
	assert.True(t, val.PortfolioValue.IsZero())
}

func TestCreate_MarketCapWeighting(t *testing.T) {
	svc, _, _, repo := newFixture(t)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	svc.caps = &stubCaps{caps: map[string]decimal.Decimal{
		"bitcoin":  dec("1500000000"),
		"ethereum": dec("500000000"),
	}}

	params := equalWeightParams()
	params.WeightStrategy = "marketCap"

	ix, err := svc.Create(context.Background(), params)
	require.NoError(t, err)

	set := ix.Sets[0]
	require.Len(t, set.Constituents, 2)
	assert.True(t, set.Constituents[0].Weight.Equal(dec("75")), "got %s", set.Constituents[0].Weight)
	assert.True(t, set.Constituents[1].Weight.Equal(dec("25")))
	assert.True(t, set.AnchorPortfolioValue.Equal(dec("1000")))
}

func TestCreate_UnknownWeightStrategyRejected(t *testing.T) {
	svc, _, _, _ := newFixture(t)

	params := equalWeightParams()
	params.WeightStrategy = "volume"

	_, err := svc.Create(context.Background(), params)
	assert.Error(t, err)
}

func TestCreate_InvalidConfigRejectedBeforePersist(t *testing.T) {
	svc, _, _, repo := newFixture(t)

	params := equalWeightParams()
	params.InitialPrice = decimal.Zero

	_, err := svc.Create(context.Background(), params)
	require.Error(t, err)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreate_PersistFailureNotObservable(t *testing.T) {
	svc, indexes, _, repo := newFixture(t)
	repo.On("Create", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	_, err := svc.Create(context.Background(), equalWeightParams())
	require.Error(t, err)

	_, err = indexes.Get(1)
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestCreate_DuplicateIDRejected(t *testing.T) {
	svc, _, _, repo := newFixture(t)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	_, err := svc.Create(context.Background(), equalWeightParams())
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), equalWeightParams())
	assert.Error(t, err)
}

func TestListOrderedByID(t *testing.T) {
	svc, _, _, repo := newFixture(t)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	second := equalWeightParams()
	second.ID = 7
	second.Symbol = "TOP2B"

	_, err := svc.Create(context.Background(), second)
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), equalWeightParams())
	require.NoError(t, err)

	list := svc.List()
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].ID)
	assert.Equal(t, 7, list[1].ID)
}
