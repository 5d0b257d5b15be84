package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/camp-registration/internal/model"
	"github.com/iliyamo/camp-registration/internal/service"
)

// TentHandler serves the tent stock endpoints.
type TentHandler struct {
	Ledger *service.Ledger
}

// NewTentHandler panics on a nil ledger.
func NewTentHandler(ledger *service.Ledger) *TentHandler {
	if ledger == nil {
		panic("nil ledger passed to NewTentHandler")
	}
	return &TentHandler{Ledger: ledger}
}

// Stock handles GET /v1/admin/tent-types.
func (h *TentHandler) Stock(c echo.Context) error {
	types, err := h.Ledger.Stock(c.Request().Context())
	if err != nil {
		return err
	}
	if types == nil {
		types = []model.TentType{}
	}
	return respond(c, http.StatusOK, "tent stock", types)
}

type tentTypeRequest struct {
	Label    string `json:"label"`
	Capacity int    `json:"capacity"`
	Price    int64  `json:"price"`
	Stock    int    `json:"stock"`
}

// Create handles POST /v1/admin/tent-types.
func (h *TentHandler) Create(c echo.Context) error {
	var req tentTypeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	t := &model.TentType{Label: req.Label, Capacity: req.Capacity, Price: req.Price, StockInitial: req.Stock}
	if err := h.Ledger.CreateTentType(c.Request().Context(), t); err != nil {
		return err
	}
	return respond(c, http.StatusCreated, "tent type created", t)
}
