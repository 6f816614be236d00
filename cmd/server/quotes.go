package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/yourorg/vault-rewards/internal/model"
	"github.com/yourorg/vault-rewards/internal/pending"
	"github.com/yourorg/vault-rewards/internal/quote"
	"github.com/yourorg/vault-rewards/internal/units"
)

type quoteRequest struct {
	// ClientID scopes the sequence numbers, one per open swap form
	ClientID string `json:"client_id"`
	Offer    string `json:"offer"`
	Receive  string `json:"receive"`
	Amount   string `json:"amount"`
}

type quoteResponse struct {
	model.SwapQuote
	TradeFormatted string `json:"trade_formatted"`
}

// clientQuoter is the quoter of one client_id
type clientQuoter struct {
	quoter   *quote.Quoter
	lastSeen time.Time
}

// quoter returns the sequenced quoter of a client, creating it on first use
func (s *Server) quoter(clientID string) *quote.Quoter {
	s.quotersMu.Lock()
	defer s.quotersMu.Unlock()
	c, ok := s.quoters[clientID]
	if !ok {
		c = &clientQuoter{quoter: quote.NewQuoter(s.deps.Router)}
		s.quoters[clientID] = c
	}
	c.lastSeen = time.Now()
	return c.quoter
}

// expireQuoters forgets quoters unused for longer than idle
func (s *Server) expireQuoters(idle time.Duration) int {
	s.quotersMu.Lock()
	defer s.quotersMu.Unlock()
	removed := 0
	for id, c := range s.quoters {
		if time.Since(c.lastSeen) > idle {
			delete(s.quoters, id)
			removed++
		}
	}
	return removed
}

// handleLatestQuote returns the last accepted quote of a client
func (s *Server) handleLatestQuote(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "client")
	s.quotersMu.Lock()
	c, ok := s.quoters[clientID]
	if ok {
		c.lastSeen = time.Now()
	}
	s.quotersMu.Unlock()
	if !ok {
		errorResponse(w, http.StatusNotFound, "unknown client")
		return
	}
	q, ok := c.quoter.Latest()
	if !ok {
		errorResponse(w, http.StatusNotFound, "no accepted quote")
		return
	}
	respond(w, http.StatusOK, quoteResponse{
		SwapQuote:      q,
		TradeFormatted: units.FormatAmount(q.TradeAmount, q.ReceiveToken.Decimals, 6),
	})
}

// handleQuote prices a swap. A response overtaken by a newer request of the
// same client is answered 409.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if s.deps.Router == nil {
		errorResponse(w, http.StatusServiceUnavailable, "swap router not configured")
		return
	}
	var req quoteRequest
	if err := decode(w, r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ClientID == "" {
		errorResponse(w, http.StatusBadRequest, "client_id is required")
		return
	}
	offer, ok := s.deps.Vaults.LookupToken(req.Offer)
	if !ok {
		errorResponse(w, http.StatusBadRequest, fmt.Sprintf("unknown offer token %q", req.Offer))
		return
	}
	receive, ok := s.deps.Vaults.LookupToken(req.Receive)
	if !ok {
		errorResponse(w, http.StatusBadRequest, fmt.Sprintf("unknown receive token %q", req.Receive))
		return
	}
	amount, err := units.ParseUnits(req.Amount, offer.Decimals)
	if err != nil || amount.Sign() <= 0 {
		errorResponse(w, http.StatusBadRequest, "amount must be a positive decimal")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()
	q, _, err := s.quoter(req.ClientID).Quote(ctx, offer, receive, amount)
	if err != nil {
		wizardError(w, err)
		return
	}
	respond(w, http.StatusOK, quoteResponse{
		SwapQuote:      q,
		TradeFormatted: units.FormatAmount(q.TradeAmount, receive.Decimals, 6),
	})
}

// handlePendingList lists recorded transactions, optionally by status
func (s *Server) handlePendingList(w http.ResponseWriter, r *http.Request) {
	status := model.TxStatus(r.URL.Query().Get("status"))
	switch status {
	case "":
		respond(w, http.StatusOK, s.deps.Registry.List())
	case model.TxStatusPending, model.TxStatusSuccess, model.TxStatusReverted:
		respond(w, http.StatusOK, s.deps.Registry.ListByStatus(status))
	default:
		errorResponse(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
	}
}

// handlePendingGet returns one transaction by hash
func (s *Server) handlePendingGet(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "hash")
	if len(raw) != 66 {
		errorResponse(w, http.StatusBadRequest, "hash must be 32 bytes hex")
		return
	}
	tx, err := s.deps.Registry.Get(common.HexToHash(raw))
	if err != nil {
		if errors.Is(err, pending.ErrNotFound) {
			errorResponse(w, http.StatusNotFound, err.Error())
			return
		}
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, tx)
}
