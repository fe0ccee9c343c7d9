package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantfolio/indexd/internal/adapter/export"
	"github.com/quantfolio/indexd/internal/domain"
	"github.com/quantfolio/indexd/internal/usecase/history"
	"github.com/quantfolio/indexd/internal/usecase/indexsvc"
	"github.com/quantfolio/indexd/internal/usecase/ingest"
	"github.com/quantfolio/indexd/internal/usecase/valuation"
)

// IndexHandler serves the index lifecycle and valuation endpoints
type IndexHandler struct {
	indexes *indexsvc.Service
	engine  *valuation.Engine
	history *history.Reconstructor
	ingest  *ingest.Service
	log     *logrus.Logger

	// now is injectable for deterministic tests
	now func() time.Time
}

// NewIndexHandler creates a new index handler
func NewIndexHandler(indexes *indexsvc.Service, engine *valuation.Engine, hist *history.Reconstructor, ing *ingest.Service, log *logrus.Logger) *IndexHandler {
	return &IndexHandler{
		indexes: indexes,
		engine:  engine,
		history: hist,
		ingest:  ing,
		log:     log,
		now:     time.Now,
	}
}

// SetClock overrides the handler's notion of today for deterministic tests
func (h *IndexHandler) SetClock(now func() time.Time) {
	h.now = now
}

func (h *IndexHandler) CreateIndex(c *gin.Context) {
	var req createIndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	initialDate, err := parseDate(req.InitialDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "initialDate must be formatted as YYYY-MM-DD"})
		return
	}

	tokens := make([]domain.Asset, 0, len(req.Tokens))
	for _, t := range req.Tokens {
		tokens = append(tokens, domain.Asset{CoinID: t.CoinID, Symbol: t.Symbol})
	}

	ix, err := h.indexes.Create(c.Request.Context(), indexsvc.CreateParams{
		ID:                  req.ID,
		Symbol:              req.Symbol,
		Name:                req.Name,
		Address:             req.Address,
		Category:            req.Category,
		AssetClass:          req.AssetClass,
		Tokens:              tokens,
		InitialDate:         initialDate,
		InitialPrice:        req.InitialPrice,
		RebalancePeriodDays: req.RebalancePeriod,
		WeightStrategy:      req.WeightStrategy,
		WeightThreshold:     req.WeightThreshold,
		ExchangesAllowed:    req.ExchangesAllowed,
		ExchangeTradingFees: req.ExchangeTradingFees,
		ExchangeAvgSpread:   req.ExchangeAvgSpread,
	})
	if err != nil {
		h.log.WithError(err).WithField("index_id", req.ID).Warn("index creation rejected")
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toIndexConfig(ix))
}

func (h *IndexHandler) GetIndexConfig(c *gin.Context) {
	id, ok := indexID(c)
	if !ok {
		return
	}

	ix, err := h.indexes.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toIndexConfig(ix))
}

func (h *IndexHandler) CurrentIndexWeight(c *gin.Context) {
	id, ok := indexID(c)
	if !ok {
		return
	}

	ix, err := h.indexes.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}

	set, err := ix.ActiveSetAt(h.now())
	if err != nil {
		respondError(c, err)
		return
	}

	weights := make([]constituentWeightDTO, 0, len(set.Constituents))
	for _, con := range set.Constituents {
		weights = append(weights, constituentWeightDTO{
			CoinID:           con.Asset.CoinID,
			Symbol:           con.Asset.Symbol,
			WeightPercentage: set.WeightPercentage(con),
		})
	}

	c.JSON(http.StatusOK, currentWeightResponse{
		IndexID:       ix.ID,
		EffectiveDate: set.EffectiveDate.Format(dateLayout),
		Reason:        string(set.Reason),
		Weights:       weights,
	})
}

func (h *IndexHandler) LastPrice(c *gin.Context) {
	id, ok := indexID(c)
	if !ok {
		return
	}

	ix, err := h.indexes.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}

	val, err := h.engine.Valuate(id, h.now())
	if err != nil {
		respondError(c, err)
		return
	}

	// the timestamp reports when the current composition took effect,
	// the price is marked at today's carried-forward closes
	latest := ix.LatestSet()
	c.JSON(http.StatusOK, lastPriceResponse{
		IndexID:        val.IndexID,
		Timestamp:      latest.EffectiveDate.Format(dateLayout),
		Price:          val.IndexPrice,
		PortfolioValue: val.PortfolioValue,
		Partial:        val.Partial,
		MissingCoinIDs: val.MissingCoinIDs,
	})
}

func (h *IndexHandler) PriceAtDate(c *gin.Context) {
	id, ok := indexID(c)
	if !ok {
		return
	}

	date, err := parseDate(c.Query("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "date must be formatted as YYYY-MM-DD"})
		return
	}

	val, err := h.engine.Valuate(id, date)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toValuation(val))
}

func (h *IndexHandler) HistoricalData(c *gin.Context) {
	id, ok := indexID(c)
	if !ok {
		return
	}

	from, to, ok := h.dateRange(c, id)
	if !ok {
		return
	}

	points, skipped, err := h.history.Series(id, from, to)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := historicalDataResponse{
		IndexID: id,
		From:    from.Format(dateLayout),
		To:      to.Format(dateLayout),
		Points:  make([]historicalPointDTO, 0, len(points)),
	}
	for _, p := range points {
		resp.Points = append(resp.Points, historicalPointDTO{
			Date:            p.Date.Format(dateLayout),
			Price:           p.Price,
			NormalizedValue: p.NormalizedValue,
		})
	}
	for _, d := range skipped {
		resp.Skipped = append(resp.Skipped, d.Format(dateLayout))
	}

	c.JSON(http.StatusOK, resp)
}

func (h *IndexHandler) DownloadDailyPriceData(c *gin.Context) {
	id, ok := indexID(c)
	if !ok {
		return
	}

	ix, err := h.indexes.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}

	from, to, ok := h.dateRange(c, id)
	if !ok {
		return
	}

	cur, err := h.history.Reconstruct(id, from, to)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="`+ix.Symbol+`_daily_prices.csv"`)
	if err := export.WriteCSV(c.Writer, ix.Symbol, id, cur); err != nil {
		// headers are gone; all we can do is log and cut the stream
		h.log.WithError(err).WithField("index_id", id).Error("csv export aborted")
		c.Abort()
	}
}

// CoinHistoricalData serves one asset's stored daily closes, with the
// same 10000-base normalization the index series uses so single-coin and
// index charts overlay directly.
func (h *IndexHandler) CoinHistoricalData(c *gin.Context) {
	coinID := c.Param("coinId")

	tp, err := h.ingest.Series(coinID)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(tp.Points) == 0 {
		c.JSON(http.StatusNotFound, errorResponse{Error: "no price data for " + coinID})
		return
	}

	resp := coinHistoricalDataResponse{
		CoinID: tp.Asset.CoinID,
		Symbol: tp.Asset.Symbol,
		Points: make([]historicalPointDTO, 0, len(tp.Points)),
	}
	normalized := decimal.NewFromInt(10000)
	prev := tp.Points[0].Price
	for i, p := range tp.Points {
		if i > 0 && prev.IsPositive() {
			normalized = normalized.Mul(p.Price).Div(prev)
		}
		prev = p.Price
		resp.Points = append(resp.Points, historicalPointDTO{
			Date:            p.Date.Format(dateLayout),
			Price:           p.Price,
			NormalizedValue: normalized,
		})
	}

	c.JSON(http.StatusOK, resp)
}

func (h *IndexHandler) AddTokens(c *gin.Context) {
	var req addTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	batch := make([]ingest.TokenPrices, 0, len(req.Tokens))
	for _, t := range req.Tokens {
		tp := ingest.TokenPrices{Asset: domain.Asset{CoinID: t.CoinID, Symbol: t.Symbol}}
		for _, p := range t.Prices {
			date, err := parseDate(p.Date)
			if err != nil {
				c.JSON(http.StatusBadRequest, errorResponse{Error: "price dates must be formatted as YYYY-MM-DD"})
				return
			}
			tp.Points = append(tp.Points, domain.PricePoint{Date: date, Price: p.Price})
		}
		batch = append(batch, tp)
	}

	if err := h.ingest.AddTokens(c.Request.Context(), batch, req.Upsert); err != nil {
		h.log.WithError(err).Warn("token ingestion failed")
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *IndexHandler) ListIndexes(c *gin.Context) {
	list := h.indexes.List()
	now := h.now()

	summaries := make([]indexSummaryDTO, 0, len(list))
	for _, ix := range list {
		summary := indexSummaryDTO{
			ID:          ix.ID,
			Symbol:      ix.Symbol,
			Name:        ix.Name,
			InitialDate: ix.InitialDate.Format(dateLayout),
		}
		for _, a := range ix.Assets {
			summary.Constituents = append(summary.Constituents, a.Symbol)
		}
		if val, err := h.engine.Valuate(ix.ID, now); err == nil {
			summary.LastPrice = val.IndexPrice
		}
		summaries = append(summaries, summary)
	}

	c.JSON(http.StatusOK, summaries)
}

// dateRange resolves the from/to query range, defaulting to inception
// through today
func (h *IndexHandler) dateRange(c *gin.Context, id int) (time.Time, time.Time, bool) {
	ix, err := h.indexes.Get(id)
	if err != nil {
		respondError(c, err)
		return time.Time{}, time.Time{}, false
	}

	from := domain.Day(ix.InitialDate)
	to := domain.Day(h.now())

	if s := c.Query("start_date"); s != "" {
		if from, err = parseDate(s); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "start_date must be formatted as YYYY-MM-DD"})
			return time.Time{}, time.Time{}, false
		}
	}
	if s := c.Query("end_date"); s != "" {
		if to, err = parseDate(s); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "end_date must be formatted as YYYY-MM-DD"})
			return time.Time{}, time.Time{}, false
		}
	}
	return from, to, true
}

func indexID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "index id must be an integer"})
		return 0, false
	}
	return id, true
}
