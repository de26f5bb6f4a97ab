package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/jitmaker/internal/domain"
)

type auctionRequest struct {
	RequestID    string `json:"request_id"`
	TokenIn      string `json:"token_in"`
	TokenOut     string `json:"token_out"`
	AmountIn     string `json:"amount_in"`
	MinAmountOut string `json:"min_amount_out"`
	IsMarket     bool   `json:"is_market"`
}

type auctionResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
	AmountOut string `json:"amount_out,omitempty"`
	Amount    string `json:"amount,omitempty"` // amount_in aceptado
	Price     string `json:"price,omitempty"`  // unidades base del quote token por 1 base
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (s *Server) handleAuction(w http.ResponseWriter, r *http.Request) {
	var body auctionRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", validationMessage(err))
		return
	}
	req, err := body.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", validationMessage(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QuoteTimeout)
	defer cancel()

	res, err := s.deps.Quoter.Quote(ctx, req)
	switch {
	case errors.Is(err, domain.ErrUnknownPair):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unsupported token pair")
		return
	case err != nil:
		slog.Error("httpapi: quote failed", "request_id", req.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "quote failed")
		return
	}

	at := s.now().UTC()
	resp := auctionResponse{
		Status:    string(res.Status),
		RequestID: res.RequestID,
		Timestamp: at.Unix(),
	}
	if res.Accepted() {
		resp.AmountOut = res.AmountOut.String()
		resp.Amount = req.AmountIn.String()
		resp.Price = s.rawPrice(res)
	} else {
		resp.Reason = string(res.Reason)
	}
	writeJSON(w, http.StatusOK, resp)

	s.deps.Metrics.QuoteIssued(r.Context(), res.Basis.Instrument, res.Status, res.Reason)
	if s.deps.Journal != nil {
		// Fuera del camino de latencia: la respuesta ya está escrita.
		if err := s.deps.Journal.SaveQuote(context.WithoutCancel(r.Context()), req, res, at); err != nil {
			slog.Warn("httpapi: journal quote failed", "request_id", req.ID, "err", err)
		}
	}
}

// rawPrice expresa el precio en enteros del quote token, como lo publica el venue.
func (s *Server) rawPrice(res domain.QuoteResult) string {
	if s.deps.Universe != nil {
		if inst, err := s.deps.Universe.Get(res.Basis.Instrument); err == nil {
			return inst.Quote.FromUnits(res.Basis.Price).String()
		}
	}
	return res.Basis.Price.String()
}

func (b auctionRequest) toDomain() (domain.AuctionRequest, error) {
	if !common.IsHexAddress(b.TokenIn) {
		return domain.AuctionRequest{}, domain.NewValidationError("token_in", "not a hex address: %q", b.TokenIn)
	}
	if !common.IsHexAddress(b.TokenOut) {
		return domain.AuctionRequest{}, domain.NewValidationError("token_out", "not a hex address: %q", b.TokenOut)
	}
	if strings.EqualFold(b.TokenIn, b.TokenOut) {
		return domain.AuctionRequest{}, domain.NewValidationError("token_out", "same token as token_in")
	}
	amountIn, err := parseAmount("amount_in", b.AmountIn, false)
	if err != nil {
		return domain.AuctionRequest{}, err
	}
	minOut := decimal.Zero
	if b.MinAmountOut != "" || !b.IsMarket {
		if minOut, err = parseAmount("min_amount_out", b.MinAmountOut, true); err != nil {
			return domain.AuctionRequest{}, err
		}
	}

	id := b.RequestID
	if id == "" {
		id = uuid.New().String()
	}
	return domain.AuctionRequest{
		ID:           id,
		TokenIn:      b.TokenIn,
		TokenOut:     b.TokenOut,
		AmountIn:     amountIn,
		MinAmountOut: minOut,
		IsMarket:     b.IsMarket,
	}, nil
}

// parseAmount acepta solo enteros decimales en unidades base.
func parseAmount(field, raw string, allowZero bool) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, domain.NewValidationError(field, "required")
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return decimal.Zero, domain.NewValidationError(field, "must be a base-unit integer string, got %q", raw)
		}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, domain.NewValidationError(field, "%v", err)
	}
	if d.Sign() == 0 && !allowZero {
		return decimal.Zero, domain.NewValidationError(field, "must be positive")
	}
	return d, nil
}
