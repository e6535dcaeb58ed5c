package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"model-token-engine/internal/coordinator"
	"model-token-engine/internal/domain"
	"model-token-engine/internal/pricing"
)

// defaultEventLimit bounds /models/{id}/events when no limit is given.
const defaultEventLimit = 100

type mintBody struct {
	Amount    decimal.Decimal   `json:"amount"`
	Intent    domain.MintIntent `json:"intent"`
	Recipient string            `json:"recipientAddress"`
}

type burnBody struct {
	Amount      decimal.Decimal `json:"amount"`
	UserAddress string          `json:"userAddress"`
}

type createTokenBody struct {
	ModelID      string           `json:"modelId"`
	Name         string           `json:"name"`
	Type         domain.ModelType `json:"type"`
	Description  string           `json:"description"`
	OwnerID      string           `json:"ownerId"`
	TokenName    string           `json:"tokenName"`
	TokenSymbol  string           `json:"tokenSymbol"`
	IconURI      string           `json:"iconUri"`
	ProjectURI   string           `json:"projectUri"`
	KeyRef       string           `json:"keyRef"`
	InitialPrice float64          `json:"initialPrice"`
}

type operationView struct {
	OperationID     string          `json:"operationId"`
	TransactionHash string          `json:"transactionHash"`
	TokenAddress    string          `json:"tokenAddress"`
	Kind            string          `json:"kind"`
	Amount          decimal.Decimal `json:"amount"`
	Recipient       string          `json:"recipient,omitempty"`
	NewPrice        float64         `json:"newPrice"`
	TotalSupply     decimal.Decimal `json:"totalSupply"`
	PriceImpactPct  float64         `json:"priceImpactPct"`
	PriceUpdated    bool            `json:"priceUpdated"`
	NoPriceImpact   bool            `json:"noPriceImpact"`
	Clamped         bool            `json:"clamped"`
}

type modelView struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Type              string  `json:"type"`
	Description       string  `json:"description,omitempty"`
	OwnerID           string  `json:"ownerId,omitempty"`
	TokenName         string  `json:"tokenName"`
	TokenSymbol       string  `json:"tokenSymbol"`
	TokenAddress      string  `json:"tokenAddress"`
	CustodialAddress  string  `json:"custodialAddress"`
	QuotedPrice       float64 `json:"quotedPrice"`
	PurchaseCostOctas int64   `json:"purchaseCostOctas"`
	Version           int64   `json:"version"`
	CreatedAt         int64   `json:"createdAt"`
	UpdatedAt         int64   `json:"updatedAt"`
}

type eventView struct {
	EventID         string   `json:"eventId"`
	OperationID     string   `json:"operationId"`
	ModelID         string   `json:"modelId"`
	TokenAddress    string   `json:"tokenAddress,omitempty"`
	Kind            string   `json:"kind,omitempty"`
	Stage           string   `json:"stage"`
	FailedStage     string   `json:"failedStage,omitempty"`
	Status          string   `json:"status"`
	TransactionHash string   `json:"transactionHash,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	TotalSupply     *float64 `json:"totalSupply,omitempty"`
	ImpactPct       *float64 `json:"impactPct,omitempty"`
	Detail          string   `json:"detail,omitempty"`
	OccurredAt      int64    `json:"occurredAt"`
}

type tickView struct {
	TransactionHash string  `json:"transactionHash"`
	Kind            string  `json:"kind"`
	Amount          float64 `json:"amount"`
	SupplyBaseline  float64 `json:"supplyBaseline"`
	TotalSupply     float64 `json:"totalSupply"`
	OldPrice        float64 `json:"oldPrice"`
	NewPrice        float64 `json:"newPrice"`
	ImpactPct       float64 `json:"impactPct"`
	Timestamp       int64   `json:"timestamp"`
}

func toOperationView(r *coordinator.Result) operationView {
	return operationView{
		OperationID:     r.OperationID,
		TransactionHash: r.TransactionHash,
		TokenAddress:    r.TokenAddress,
		Kind:            r.Kind.String(),
		Amount:          r.Amount,
		Recipient:       r.Recipient,
		NewPrice:        r.NewPrice,
		TotalSupply:     r.TotalSupply,
		PriceImpactPct:  r.PriceImpactPct,
		PriceUpdated:    r.PriceUpdated,
		NoPriceImpact:   r.NoPriceImpact,
		Clamped:         r.Clamped,
	}
}

func toModelView(m *domain.Model, cost int64) modelView {
	return modelView{
		ID:                m.ID,
		Name:              m.Name,
		Type:              string(m.Type),
		Description:       m.Description,
		OwnerID:           m.OwnerID,
		TokenName:         m.TokenName,
		TokenSymbol:       m.TokenSymbol,
		TokenAddress:      m.TokenAddress,
		CustodialAddress:  m.CustodialAddress,
		QuotedPrice:       m.QuotedPrice,
		PurchaseCostOctas: cost,
		Version:           m.Version,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func toEventView(e *domain.UpdateEvent) eventView {
	return eventView{
		EventID:         e.EventID,
		OperationID:     e.OperationID,
		ModelID:         e.ModelID,
		TokenAddress:    e.TokenAddress,
		Kind:            e.Kind.String(),
		Stage:           string(e.Stage),
		FailedStage:     e.FailedStage,
		Status:          e.Status,
		TransactionHash: e.TransactionHash,
		Price:           e.Price,
		TotalSupply:     e.TotalSupply,
		ImpactPct:       e.ImpactPct,
		Detail:          e.Detail,
		OccurredAt:      e.OccurredAt,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var body mintBody
	if err := decodeBody(w, r, &body); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	res, err := s.engine.Mint(r.Context(), coordinator.MintRequest{
		ModelID:   chi.URLParam(r, "id"),
		Amount:    body.Amount,
		Intent:    body.Intent,
		Recipient: body.Recipient,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationView(res))
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var body burnBody
	if err := decodeBody(w, r, &body); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	res, err := s.engine.Burn(r.Context(), coordinator.BurnRequest{
		ModelID:     chi.URLParam(r, "id"),
		Amount:      body.Amount,
		UserAddress: body.UserAddress,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationView(res))
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var body createTokenBody
	if err := decodeBody(w, r, &body); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	res, err := s.engine.CreateToken(r.Context(), coordinator.CreateTokenRequest{
		ModelID:      body.ModelID,
		Name:         body.Name,
		Type:         body.Type,
		Description:  body.Description,
		OwnerID:      body.OwnerID,
		TokenName:    body.TokenName,
		TokenSymbol:  body.TokenSymbol,
		IconURI:      body.IconURI,
		ProjectURI:   body.ProjectURI,
		KeyRef:       body.KeyRef,
		InitialPrice: body.InitialPrice,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	cost, _ := pricing.PurchaseCostOctas(res.Model.QuotedPrice, decimal.NewFromInt(1))
	writeJSON(w, http.StatusCreated, map[string]any{
		"operationId":     res.OperationID,
		"transactionHash": res.TransactionHash,
		"model":           toModelView(res.Model, cost),
	})
}

func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.engine.InitWallet(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"address":   wallet.Address,
		"publicKey": wallet.PublicKey,
		"keyRef":    wallet.KeyRef,
	})
}

// handleGetModel returns the model with the cost of buying ?amount= tokens
// (default 1) at the quoted price.
func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	amount := decimal.NewFromInt(1)
	if raw := r.URL.Query().Get("amount"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || !parsed.IsPositive() {
			s.badRequest(w, "amount must be a positive number")
			return
		}
		amount = parsed
	}

	m, err := s.models.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	cost, err := pricing.PurchaseCostOctas(m.QuotedPrice, amount)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toModelView(m, cost))
}

func (s *Server) handleModelEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	id := chi.URLParam(r, "id")
	if _, err := s.models.GetByID(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	events, err := s.events.GetByModelID(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventViews(events))
}

func (s *Server) handleOperationEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.events.GetByOperationID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(events) == 0 {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "operation not found"})
		return
	}
	writeJSON(w, http.StatusOK, toEventViews(events))
}

// handlePriceHistory returns price ticks, optionally within ?from=&to= (ms).
func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "price history is not enabled"})
		return
	}

	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	var (
		ticks []*domain.PriceTick
		err   error
	)
	if q.Get("from") != "" || q.Get("to") != "" {
		from, ferr := parseMillis(q.Get("from"), 0)
		to, terr := parseMillis(q.Get("to"), time.Now().UnixMilli())
		if ferr != nil || terr != nil || from > to {
			s.badRequest(w, "from and to must be millisecond timestamps with from <= to")
			return
		}
		ticks, err = s.history.GetByTimeRange(r.Context(), id, from, to)
	} else {
		ticks, err = s.history.GetByModelID(r.Context(), id)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]tickView, 0, len(ticks))
	for _, t := range ticks {
		out = append(out, tickView{
			TransactionHash: t.TransactionHash,
			Kind:            t.Kind.String(),
			Amount:          t.Amount,
			SupplyBaseline:  t.SupplyBaseline,
			TotalSupply:     t.TotalSupply,
			OldPrice:        t.OldPrice,
			NewPrice:        t.NewPrice,
			ImpactPct:       t.ImpactPct,
			Timestamp:       t.TimestampMs,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func toEventViews(events []*domain.UpdateEvent) []eventView {
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, toEventView(e))
	}
	return out
}

func parseMillis(raw string, fallback int64) (int64, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
