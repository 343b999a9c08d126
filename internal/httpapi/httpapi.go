// Package httpapi exposes the auction engine over HTTP. The engine itself is
// transport-agnostic; these handlers only translate between JSON payloads and
// the service calls, and map the error taxonomy onto status codes.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/farmlot/auctioneer/internal/bidding"
	"github.com/farmlot/auctioneer/internal/cache"
	"github.com/farmlot/auctioneer/internal/history"
	"github.com/farmlot/auctioneer/internal/lot"
	"github.com/farmlot/auctioneer/internal/store"
)

// Handler aggregates the services behind the HTTP surface.
type Handler struct {
	bids     *bidding.Service
	records  *history.Recorder
	listings *cache.Listings
	logger   *slog.Logger
}

// NewHandler returns a Handler. The listings cache may be nil.
func NewHandler(bids *bidding.Service, records *history.Recorder, listings *cache.Listings, logger *slog.Logger) *Handler {
	return &Handler{bids: bids, records: records, listings: listings, logger: logger}
}

// Register wires all routes onto the echo instance.
func (h *Handler) Register(e *echo.Echo) {
	v1 := e.Group("/v1")
	v1.POST("/lots", h.CreateLot)
	v1.GET("/lots", h.ListActiveLots)
	v1.GET("/lots/:id", h.GetLot)
	v1.POST("/lots/:id/bids", h.PlaceBid)
	v1.POST("/lots/:id/cancel", h.CancelLot)
	v1.GET("/participants/:id/history", h.ParticipantHistory)
}

// errorResponse is the uniform error payload.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError maps domain errors onto the HTTP taxonomy: validation 400,
// not-found 404, authorization 403, conflict 409.
func writeError(c echo.Context, err error) error {
	switch {
	case lot.IsValidation(err):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "validation"})
	case errors.Is(err, lot.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error(), Kind: "not_found"})
	case errors.Is(err, lot.ErrSelfBid), errors.Is(err, lot.ErrNotSeller):
		return c.JSON(http.StatusForbidden, errorResponse{Error: err.Error(), Kind: "authorization"})
	case errors.Is(err, lot.ErrLotClosed), errors.Is(err, lot.ErrStalePrice):
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error(), Kind: "conflict"})
	}
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error", Kind: "internal"})
}

type createLotRequest struct {
	SellerID      string          `json:"seller_id"`
	CommodityName string          `json:"commodity_name"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unit          string          `json:"unit"`
	Grade         string          `json:"grade"`
	HarvestDate   time.Time       `json:"harvest_date"`
	ExpiryDate    time.Time       `json:"expiry_date"`
	ClosesAt      time.Time       `json:"closes_at"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	District      string          `json:"district"`
	State         string          `json:"state"`
}

type lotResponse struct {
	ID            string          `json:"id"`
	SellerID      string          `json:"seller_id"`
	SellerName    string          `json:"seller_name"`
	CommodityName string          `json:"commodity_name"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unit          string          `json:"unit"`
	Grade         string          `json:"grade"`
	HarvestDate   time.Time       `json:"harvest_date"`
	ExpiryDate    time.Time       `json:"expiry_date"`
	ClosesAt      time.Time       `json:"closes_at"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	Status        string          `json:"status"`
	District      string          `json:"district,omitempty"`
	State         string          `json:"state,omitempty"`
	BidCount      int             `json:"bid_count"`
	UniqueBidders int             `json:"unique_bidders"`
	WinnerName    string          `json:"winner_name,omitempty"`
	WinningAmount string          `json:"winning_amount,omitempty"`
}

func toLotResponse(l *lot.Lot) lotResponse {
	resp := lotResponse{
		ID:            l.ID,
		SellerID:      l.SellerID,
		SellerName:    l.SellerName,
		CommodityName: l.Commodity.Name,
		Quantity:      l.Commodity.Quantity,
		Unit:          string(l.Commodity.Unit),
		Grade:         string(l.Commodity.Grade),
		HarvestDate:   l.HarvestDate,
		ExpiryDate:    l.ExpiryDate,
		ClosesAt:      l.ClosesAt,
		StartingPrice: l.StartingPrice,
		CurrentPrice:  l.CurrentPrice,
		Status:        string(l.Status),
		District:      l.District,
		State:         l.State,
		BidCount:      l.BidCount,
		UniqueBidders: l.UniqueBidders,
	}
	if l.Outcome != nil {
		resp.WinnerName = l.Outcome.WinnerName
		resp.WinningAmount = l.Outcome.WinningAmount.StringFixed(2)
	}
	return resp
}

// CreateLot handles POST /v1/lots.
func (h *Handler) CreateLot(c echo.Context) error {
	var req createLotRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body", Kind: "validation"})
	}

	l, err := h.bids.CreateLot(c.Request().Context(), lot.CreateSpec{
		SellerID:      req.SellerID,
		CommodityName: req.CommodityName,
		Quantity:      req.Quantity,
		Unit:          lot.Unit(req.Unit),
		Grade:         lot.Grade(req.Grade),
		HarvestDate:   req.HarvestDate,
		ExpiryDate:    req.ExpiryDate,
		ClosesAt:      req.ClosesAt,
		StartingPrice: req.StartingPrice,
		District:      req.District,
		State:         req.State,
	})
	if err != nil {
		return writeError(c, err)
	}

	h.listings.Invalidate(c.Request().Context())
	return c.JSON(http.StatusCreated, toLotResponse(l))
}

type placeBidRequest struct {
	BidderID string          `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
}

type placeBidResponse struct {
	LotID        string          `json:"lot_id"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

// PlaceBid handles POST /v1/lots/:id/bids. On a stale-price conflict the
// client is expected to refetch the lot and retry with a higher amount.
func (h *Handler) PlaceBid(c echo.Context) error {
	var req placeBidRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body", Kind: "validation"})
	}

	price, err := h.bids.PlaceBid(c.Request().Context(), c.Param("id"), req.BidderID, req.Amount)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, placeBidResponse{LotID: c.Param("id"), CurrentPrice: price})
}

type cancelLotRequest struct {
	SellerID string `json:"seller_id"`
}

// CancelLot handles POST /v1/lots/:id/cancel.
func (h *Handler) CancelLot(c echo.Context) error {
	var req cancelLotRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body", Kind: "validation"})
	}

	if err := h.bids.CancelLot(c.Request().Context(), c.Param("id"), req.SellerID); err != nil {
		return writeError(c, err)
	}

	h.listings.Invalidate(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

// GetLot handles GET /v1/lots/:id.
func (h *Handler) GetLot(c echo.Context) error {
	l, err := h.bids.GetLot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toLotResponse(l))
}

// ListActiveLots handles GET /v1/lots?district=&state=&limit=.
func (h *Handler) ListActiveLots(c echo.Context) error {
	ctx := c.Request().Context()
	district := c.QueryParam("district")
	state := c.QueryParam("state")

	if cached, ok := h.listings.Get(ctx, district, state); ok {
		return c.JSON(http.StatusOK, toListResponse(cached))
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid limit", Kind: "validation"})
		}
		limit = n
	}

	lots, err := h.bids.ListActive(ctx, store.ListFilter{District: district, State: state, Limit: limit})
	if err != nil {
		return writeError(c, err)
	}

	if limit == 0 {
		h.listings.Set(ctx, district, state, lots)
	}
	return c.JSON(http.StatusOK, toListResponse(lots))
}

type listResponse struct {
	Items []lotResponse `json:"items"`
}

func toListResponse(lots []lot.Lot) listResponse {
	items := make([]lotResponse, 0, len(lots))
	for i := range lots {
		items = append(items, toLotResponse(&lots[i]))
	}
	return listResponse{Items: items}
}

type historyRecordResponse struct {
	LotID           string       `json:"lot_id"`
	Role            string       `json:"role"`
	CommodityName   string       `json:"commodity_name"`
	Quantity        string       `json:"quantity"`
	Unit            string       `json:"unit"`
	Grade           string       `json:"grade"`
	MyHighestBid    string       `json:"my_highest_bid,omitempty"`
	FinalStatus     string       `json:"final_status"`
	WinnerName      string       `json:"winner_name,omitempty"`
	WinningAmount   string       `json:"winning_amount,omitempty"`
	IsWinner        bool         `json:"is_winner"`
	ContactExchange *lot.Contact `json:"contact_exchange,omitempty"`
	RecordedAt      time.Time    `json:"recorded_at"`
}

// ParticipantHistory handles GET /v1/participants/:id/history?status=&won=.
func (h *Handler) ParticipantHistory(c echo.Context) error {
	f := history.Filter{}
	if raw := c.QueryParam("status"); raw != "" {
		status, err := lot.ParseStatus(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "validation"})
		}
		f.Status = status
	}
	f.WonOnly = c.QueryParam("won") == "true"

	records, err := h.records.Participant(c.Request().Context(), c.Param("id"), f)
	if err != nil {
		return writeError(c, err)
	}

	items := make([]historyRecordResponse, 0, len(records))
	for _, rec := range records {
		item := historyRecordResponse{
			LotID:           rec.LotID,
			Role:            string(rec.Role),
			CommodityName:   rec.Commodity.Name,
			Quantity:        rec.Commodity.Quantity.String(),
			Unit:            string(rec.Commodity.Unit),
			Grade:           string(rec.Commodity.Grade),
			FinalStatus:     string(rec.FinalStatus),
			WinnerName:      rec.WinnerName,
			IsWinner:        rec.IsWinner,
			ContactExchange: rec.ContactExchange,
			RecordedAt:      rec.RecordedAt,
		}
		if rec.MyHighestBid != nil {
			item.MyHighestBid = rec.MyHighestBid.StringFixed(2)
		}
		if rec.WinningAmount != nil {
			item.WinningAmount = rec.WinningAmount.StringFixed(2)
		}
		items = append(items, item)
	}
	return c.JSON(http.StatusOK, map[string][]historyRecordResponse{"items": items})
}
