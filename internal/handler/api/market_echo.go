package api

import (
	"errors"
	"net/http"
	"time"

	"TradeAlchemist/internal/domain/models"
	domrepo "TradeAlchemist/internal/domain/repository"
	"TradeAlchemist/internal/service/ratelimit"
	"TradeAlchemist/internal/usecase"
	xhttp "TradeAlchemist/pkg/http"
	xlogger "TradeAlchemist/pkg/logger"

	"github.com/labstack/echo/v4"
)

// TriggerLimit is the token bucket applied per client to manual tick triggers.
// Timeout bounds the tick itself; it does not follow the client connection.
type TriggerLimit struct {
	Burst     float64
	PerSecond float64
	Timeout   time.Duration
}

// MarketEchoHandler serves the market read API and the manual tick trigger.
type MarketEchoHandler struct {
	logger  *xlogger.Logger
	query   *usecase.MarketQuery
	runner  usecase.TickRunner
	limiter *ratelimit.Limiter
	limit   TriggerLimit
}

func NewMarketEchoHandler(logger *xlogger.Logger, query *usecase.MarketQuery, runner usecase.TickRunner, limiter *ratelimit.Limiter, limit TriggerLimit) *MarketEchoHandler {
	return &MarketEchoHandler{
		logger:  logger.With(xlogger.String("component", "market_api")),
		query:   query,
		runner:  runner,
		limiter: limiter,
		limit:   limit,
	}
}

func (h *MarketEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/prices/live", h.LivePrices)
	g.GET("/prices/history/:symbol", h.History)
	g.GET("/market/state", h.MarketState)
	g.POST("/market/tick", h.TriggerTick)
}

func (h *MarketEchoHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *MarketEchoHandler) LivePrices(c echo.Context) error {
	req := &models.LivePricesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	prices, err := h.query.LivePrices(c.Request().Context(), req.Exchange)
	if err != nil {
		h.logger.Error("live prices failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.ListResponse(c, prices, int64(len(prices)))
}

func (h *MarketEchoHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	bars, err := h.query.History(c.Request().Context(), req.Symbol, req.Exchange, req.Limit)
	if err != nil {
		if !errors.Is(err, domrepo.ErrNotFound) {
			h.logger.Error("history failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		}
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.ListResponse(c, bars, int64(len(bars)))
}

func (h *MarketEchoHandler) MarketState(c echo.Context) error {
	st, err := h.query.MarketState(c.Request().Context())
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *MarketEchoHandler) TriggerTick(c echo.Context) error {
	if h.limiter != nil && !h.limiter.Allow("tick:"+c.RealIP(), h.limit.Burst, h.limit.PerSecond) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many tick triggers"))
	}

	ctx, cancel := usecase.DetachTick(c.Request().Context(), h.limit.Timeout)
	defer cancel()
	res, err := h.runner.RunTick(ctx)
	if err != nil {
		if !errors.Is(err, usecase.ErrTickInProgress) {
			h.logger.Error("manual tick failed", xlogger.Error(err))
		}
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func toAppError(err error) error {
	switch {
	case errors.Is(err, usecase.ErrTickInProgress):
		return xhttp.ConflictError("tick already in progress").WithError(err)
	case errors.Is(err, usecase.ErrRegimePersistence):
		return xhttp.ServiceUnavailableError("regime persistence failed, retry").WithError(err)
	case errors.Is(err, usecase.ErrMarketNotInitialized):
		return xhttp.NotFoundErrorf("market state not initialized").WithError(err)
	case errors.Is(err, domrepo.ErrNotFound):
		return xhttp.NotFoundErrorf("no data found").WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}
