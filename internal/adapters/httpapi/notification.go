package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/jitmaker/internal/domain"
)

type notificationRequest struct {
	EventID      string `json:"event_id"`
	TradeID      string `json:"trade_id"` // nombre legacy de event_id
	OrderID      string `json:"order_id"`
	Status       string `json:"status"`
	FilledAmount string `json:"filled_amount"` // entero en unidades base del base token
	Price        string `json:"price"`         // quote por base
	Sequence     uint64 `json:"sequence"`
	Timestamp    int64  `json:"timestamp"` // unix segundos
}

type notificationResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	var body notificationRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", validationMessage(err))
		return
	}
	n, err := body.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", validationMessage(err))
		return
	}

	if err := s.deps.Notifications.Enqueue(n); err != nil {
		if domain.IsValidation(err) {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", validationMessage(err))
			return
		}
		slog.Warn("httpapi: notification rejected", "event_id", n.EventID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "OVERLOADED", "notification queue full, retry later")
		return
	}
	writeJSON(w, http.StatusAccepted, notificationResponse{Status: "received", Timestamp: s.now().Unix()})
}

func (b notificationRequest) toDomain() (domain.TradeNotification, error) {
	id := b.EventID
	if id == "" {
		id = b.TradeID
	}

	status, err := parseStatus(b.Status)
	if err != nil {
		return domain.TradeNotification{}, err
	}

	filled := decimal.Zero
	if b.FilledAmount != "" || status != domain.FillCancelled {
		if filled, err = parseAmount("filled_amount", b.FilledAmount, true); err != nil {
			return domain.TradeNotification{}, err
		}
	}

	price := decimal.Zero
	if b.Price != "" {
		if price, err = decimal.NewFromString(b.Price); err != nil {
			return domain.TradeNotification{}, domain.NewValidationError("price", "not a decimal: %q", b.Price)
		}
	}

	var ts time.Time
	if b.Timestamp > 0 {
		ts = time.Unix(b.Timestamp, 0).UTC()
	}
	n := domain.TradeNotification{
		EventID:      id,
		OrderID:      b.OrderID,
		Status:       status,
		FilledAmount: filled,
		Price:        price,
		Sequence:     b.Sequence,
		Timestamp:    ts,
	}
	if n.EventID == "" && n.OrderID != "" {
		n.EventID = derivedEventID(n, b.Timestamp)
	}
	return n, nil
}

// derivedEventID identifica un cuerpo sin event_id ni trade_id. Se calcula
// sobre los valores ya normalizados, así que una re-entrega del mismo fill
// produce el mismo id y el reconciler la descarta.
func derivedEventID(n domain.TradeNotification, unix int64) string {
	key := fmt.Sprintf("%s|%s|%s|%s|%d|%d",
		n.OrderID, n.Status, n.FilledAmount.String(), n.Price.String(), unix, n.Sequence)
	return "derived-" + crypto.Keccak256Hash([]byte(key)).Hex()[2:18]
}

func parseStatus(raw string) (domain.FillStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "partial", "partially_filled", "partial_fill":
		return domain.FillPartial, nil
	case "filled", "complete", "completed":
		return domain.FillComplete, nil
	case "cancelled", "canceled":
		return domain.FillCancelled, nil
	}
	return "", domain.NewValidationError("status", "unknown status %q", raw)
}
