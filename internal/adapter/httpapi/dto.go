package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfolio/indexd/internal/domain"
)

const dateLayout = "2006-01-02"

type tokenDTO struct {
	CoinID string `json:"coinId" binding:"required"`
	Symbol string `json:"symbol" binding:"required"`
}

type createIndexRequest struct {
	ID         int    `json:"id" binding:"required"`
	Symbol     string `json:"symbol" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Address    string `json:"address"`
	Category   string `json:"category"`
	AssetClass string `json:"assetClass"`

	Tokens []tokenDTO `json:"tokens"`

	InitialDate  string          `json:"initialDate" binding:"required"`
	InitialPrice decimal.Decimal `json:"initialPrice"`

	RebalancePeriod int              `json:"rebalancePeriod"`
	WeightStrategy  string           `json:"weightStrategy"`
	WeightThreshold *decimal.Decimal `json:"weightThreshold,omitempty"`

	ExchangesAllowed    []string        `json:"exchangesAllowed"`
	ExchangeTradingFees decimal.Decimal `json:"exchangeTradingFees"`
	ExchangeAvgSpread   decimal.Decimal `json:"exchangeAvgSpread"`
}

type indexConfigResponse struct {
	ID         int    `json:"id"`
	Symbol     string `json:"symbol"`
	Name       string `json:"name"`
	Address    string `json:"address,omitempty"`
	Category   string `json:"category,omitempty"`
	AssetClass string `json:"assetClass,omitempty"`

	Tokens []tokenDTO `json:"tokens"`

	InitialDate  string          `json:"initialDate"`
	InitialPrice decimal.Decimal `json:"initialPrice"`

	RebalancePeriod int              `json:"rebalancePeriod"`
	WeightStrategy  string           `json:"weightStrategy"`
	WeightThreshold *decimal.Decimal `json:"weightThreshold,omitempty"`

	ExchangesAllowed    []string        `json:"exchangesAllowed,omitempty"`
	ExchangeTradingFees decimal.Decimal `json:"exchangeTradingFees"`
	ExchangeAvgSpread   decimal.Decimal `json:"exchangeAvgSpread"`
}

func toIndexConfig(ix *domain.Index) indexConfigResponse {
	tokens := make([]tokenDTO, 0, len(ix.Assets))
	for _, a := range ix.Assets {
		tokens = append(tokens, tokenDTO{CoinID: a.CoinID, Symbol: a.Symbol})
	}
	return indexConfigResponse{
		ID:                  ix.ID,
		Symbol:              ix.Symbol,
		Name:                ix.Name,
		Address:             ix.Address,
		Category:            ix.Category,
		AssetClass:          ix.AssetClass,
		Tokens:              tokens,
		InitialDate:         ix.InitialDate.Format(dateLayout),
		InitialPrice:        ix.InitialPrice,
		RebalancePeriod:     ix.RebalancePeriodDays,
		WeightStrategy:      string(ix.WeightStrategy),
		WeightThreshold:     ix.WeightThreshold,
		ExchangesAllowed:    ix.ExchangesAllowed,
		ExchangeTradingFees: ix.ExchangeTradingFees,
		ExchangeAvgSpread:   ix.ExchangeAvgSpread,
	}
}

type constituentWeightDTO struct {
	CoinID           string          `json:"coinId"`
	Symbol           string          `json:"symbol"`
	WeightPercentage decimal.Decimal `json:"weightPercentage"`
}

type currentWeightResponse struct {
	IndexID       int                    `json:"indexId"`
	EffectiveDate string                 `json:"effectiveDate"`
	Reason        string                 `json:"reason"`
	Weights       []constituentWeightDTO `json:"weights"`
}

type valuationResponse struct {
	IndexID        int             `json:"indexId"`
	Date           string          `json:"date"`
	Price          decimal.Decimal `json:"price"`
	PortfolioValue decimal.Decimal `json:"portfolioValue"`
	Partial        bool            `json:"partial"`
	MissingCoinIDs []string        `json:"missingCoinIds,omitempty"`
}

func toValuation(val *domain.Valuation) valuationResponse {
	return valuationResponse{
		IndexID:        val.IndexID,
		Date:           val.Date.Format(dateLayout),
		Price:          val.IndexPrice,
		PortfolioValue: val.PortfolioValue,
		Partial:        val.Partial,
		MissingCoinIDs: val.MissingCoinIDs,
	}
}

type lastPriceResponse struct {
	IndexID        int             `json:"indexId"`
	Timestamp      string          `json:"timestamp"`
	Price          decimal.Decimal `json:"price"`
	PortfolioValue decimal.Decimal `json:"portfolioValue"`
	Partial        bool            `json:"partial"`
	MissingCoinIDs []string        `json:"missingCoinIds,omitempty"`
}

type historicalPointDTO struct {
	Date            string          `json:"date"`
	Price           decimal.Decimal `json:"price"`
	NormalizedValue decimal.Decimal `json:"normalizedValue"`
}

type historicalDataResponse struct {
	IndexID int                  `json:"indexId"`
	From    string               `json:"from"`
	To      string               `json:"to"`
	Points  []historicalPointDTO `json:"points"`
	Skipped []string             `json:"skippedDates,omitempty"`
}

type coinHistoricalDataResponse struct {
	CoinID string               `json:"coinId"`
	Symbol string               `json:"symbol"`
	Points []historicalPointDTO `json:"points"`
}

type indexSummaryDTO struct {
	ID           int             `json:"id"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	InitialDate  string          `json:"initialDate"`
	LastPrice    decimal.Decimal `json:"lastPrice"`
	Constituents []string        `json:"constituents"`
}

type pricePointDTO struct {
	Date  string          `json:"date" binding:"required"`
	Price decimal.Decimal `json:"price"`
}

type addTokensRequest struct {
	Tokens []struct {
		tokenDTO
		Prices []pricePointDTO `json:"prices"`
	} `json:"tokens" binding:"required"`
	Upsert bool `json:"upsert"`
}

type subscribeRequest struct {
	Email   string `json:"email" binding:"required"`
	Twitter string `json:"twitter"`
}

type subscribeResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return domain.Day(t), nil
}
