package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"oraculo/internal/domain"
	"oraculo/internal/pricing"
	"oraculo/internal/protocol"
	"oraculo/internal/storage"
)

// Request bodies.

// InitializeMintRequest creates a mint owned by the signer.
type InitializeMintRequest struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// MintToRequest mints amount to recipient.
type MintToRequest struct {
	Recipient domain.Address `json:"recipient"`
	Amount    uint64         `json:"amount"`
}

// PlaceBetRequest buys shares of one side.
type PlaceBetRequest struct {
	Side   domain.Side `json:"side"`
	Amount uint64      `json:"amount"`
}

// ProposeOutcomeRequest opens a resolution proposal.
type ProposeOutcomeRequest struct {
	Outcome  bool   `json:"outcome"`
	Evidence string `json:"evidence"`
}

// CastVoteRequest votes on a proposal.
type CastVoteRequest struct {
	Support bool `json:"support"`
}

// RedeemRequest burns winning shares.
type RedeemRequest struct {
	Shares uint64 `json:"shares"`
}

// Response bodies.

// BalanceResponse is a token balance.
type BalanceResponse struct {
	Owner   domain.Address `json:"owner"`
	Mint    domain.Address `json:"mint"`
	Balance uint64         `json:"balance"`
}

// AmountResponse carries the amount an operation paid out.
type AmountResponse struct {
	Amount uint64 `json:"amount"`
}

// HistoryResponse is a market's price history and activity stats.
type HistoryResponse struct {
	Points []*domain.PricePoint `json:"points"`
	Stats  *domain.MarketStats  `json:"stats"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// pathAddr parses a base58 path parameter, writing 400 on failure.
func pathAddr(w http.ResponseWriter, r *http.Request, name string) (domain.Address, bool) {
	a, err := domain.ParseAddress(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name+" address")
		return domain.Address{}, false
	}
	return a, true
}

func signer(r *http.Request) domain.Address {
	a, _ := SignerFrom(r.Context())
	return a
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if statusFor(err) >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("op", op),
			zap.String("request_id", RequestIDFrom(r.Context())),
			zap.Error(err),
		)
	}
	writeErr(w, err)
}

// Config.

func (s *Server) initializeConfig(w http.ResponseWriter, r *http.Request) {
	var req protocol.InitConfigParams
	if !decode(w, r, &req) {
		return
	}
	cfg, err := s.engine.InitializeConfig(r.Context(), signer(r), req)
	if err != nil {
		s.fail(w, r, "initialize_config", err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req protocol.ConfigUpdate
	if !decode(w, r, &req) {
		return
	}
	cfg, err := s.engine.UpdateConfig(r.Context(), signer(r), req)
	if err != nil {
		s.fail(w, r, "update_config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.GetConfig(r.Context())
	if err != nil {
		s.fail(w, r, "get_config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// Mints and balances.

func (s *Server) initializeMint(w http.ResponseWriter, r *http.Request) {
	var req InitializeMintRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := s.engine.InitializeMint(r.Context(), signer(r), req.Symbol, req.Decimals)
	if err != nil {
		s.fail(w, r, "initialize_mint", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) getMint(w http.ResponseWriter, r *http.Request) {
	mint, ok := pathAddr(w, r, "mint")
	if !ok {
		return
	}
	m, err := s.engine.GetMint(r.Context(), mint)
	if err != nil {
		s.fail(w, r, "get_mint", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) mintTo(w http.ResponseWriter, r *http.Request) {
	mint, ok := pathAddr(w, r, "mint")
	if !ok {
		return
	}
	var req MintToRequest
	if !decode(w, r, &req) {
		return
	}
	acct, err := s.engine.MintTokens(r.Context(), signer(r), mint, req.Recipient, req.Amount)
	if err != nil {
		s.fail(w, r, "mint_tokens", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathAddr(w, r, "owner")
	if !ok {
		return
	}
	mint, ok := pathAddr(w, r, "mint")
	if !ok {
		return
	}
	bal, err := s.engine.Balance(r.Context(), owner, mint)
	if err != nil {
		s.fail(w, r, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Owner: owner, Mint: mint, Balance: bal})
}

// Markets.

func (s *Server) createMarket(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateMarketParams
	if !decode(w, r, &req) {
		return
	}
	m, err := s.engine.CreateMarket(r.Context(), signer(r), req)
	if err != nil {
		s.fail(w, r, "create_market", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// listMarkets supports ?status=, ?category= and ?creator= filters.
func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f protocol.MarketFilter

	if v := q.Get("status"); v != "" {
		f.Status = domain.MarketStatus(strings.ToUpper(v))
		if !f.Status.IsValid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}
	if v := q.Get("category"); v != "" {
		cat, ok := domain.ParseCategory(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid category")
			return
		}
		f.Category = cat
	}
	if v := q.Get("creator"); v != "" {
		creator, err := domain.ParseAddress(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid creator address")
			return
		}
		f.Creator = &creator
	}

	markets, err := s.engine.ListMarkets(r.Context(), f)
	if err != nil {
		s.fail(w, r, "list_markets", err)
		return
	}
	if markets == nil {
		markets = []*domain.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	market, ok := pathAddr(w, r, "market")
	if !ok {
		return
	}
	m, err := s.engine.GetMarket(r.Context(), market)
	if err != nil {
		s.fail(w, r, "get_market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// getQuote returns spot prices, or with ?side=&amount= the quote of a
// prospective bet. Spot quotes go through the cache when one is set.
func (s *Server) getQuote(w http.ResponseWriter, r *http.Request) {
	market, ok := pathAddr(w, r, "market")
	if !ok {
		return
	}
	q := r.URL.Query()
	side := domain.Side(strings.ToUpper(q.Get("side")))
	var amount uint64
	if v := q.Get("amount"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		amount = n
	}

	spot := side == "" || amount == 0
	if spot && s.opts.Quotes != nil {
		if cached, err := s.opts.Quotes.Get(r.Context(), market); err == nil {
			writeJSON(w, http.StatusOK, cached)
			return
		} else if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("quote cache read failed", zap.Stringer("market", market), zap.Error(err))
		}
	}

	quote, err := s.engine.Quote(r.Context(), market, side, amount)
	if err != nil {
		s.fail(w, r, "quote", err)
		return
	}
	if spot && s.opts.Quotes != nil {
		s.cacheQuote(r, quote)
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) cacheQuote(r *http.Request, q *pricing.Quote) {
	if err := s.opts.Quotes.Set(r.Context(), q); err != nil {
		s.logger.Warn("quote cache write failed", zap.Stringer("market", q.Market), zap.Error(err))
	}
}

// getHistory returns price points within ?from=&to= (unix seconds,
// defaulting to the whole history).
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	market, ok := pathAddr(w, r, "market")
	if !ok {
		return
	}
	if s.opts.Activity == nil {
		writeError(w, http.StatusNotFound, "history not available")
		return
	}
	from, to := int64(0), s.opts.Now().Unix()
	for name, dst := range map[string]*int64{"from": &from, "to": &to} {
		if v := r.URL.Query().Get(name); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid "+name)
				return
			}
			*dst = n
		}
	}
	if from > to {
		writeError(w, http.StatusBadRequest, "from is after to")
		return
	}

	if _, err := s.engine.GetMarket(r.Context(), market); err != nil {
		s.fail(w, r, "history", err)
		return
	}
	points, err := s.opts.Activity.GetPriceHistory(r.Context(), market, from, to)
	if err != nil {
		s.fail(w, r, "history", err)
		return
	}
	stats, err := s.opts.Activity.GetMarketStats(r.Context(), market)
	if err != nil {
		s.fail(w, r, "history", err)
		return
	}
	if points == nil {
		points = []*domain.PricePoint{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Points: points, Stats: stats})
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	market, ok := pathAddr(w, r, "market")
	if !ok {
		return
	}
	owner, ok := pathAddr(w, r, "owner")
	if !ok {
		return
	}
	pos, err := s.engine.GetPosition(r.Context(), market, owner)
	if err != nil {
		s.fail(w, r, "get_position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	market, ok := pathAddr(w, r, "market")
	if !ok {
		return
	}
	var req PlaceBetRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.engine.PlaceBet(r.Context(), signer(r), market, req.Side, req.Amount)
	if err != nil {
		s.fail(w, r, "place_bet", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) proposeOutcome(w http.ResponseWriter, r *http.Request) {
	market, ok := pathAddr(w, r, "market")
	if !ok {
		return
	}
	var req ProposeOutcomeRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.engine.ProposeOutcome(r.Context(), signer(r), market, req.Outcome, req.Evidence)
	if err != nil {
		s.fail(w, r, "propose_outcome", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	market, ok := pathAddr(w, r, "market")
	if !ok {
		return
	}
	ps, err := s.engine.ListProposals(r.Context(), market)
	if err != nil {
		s.fail(w, r, "list_proposals", err)
		return
	}
	if ps == nil {
		ps = []*domain.Proposal{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *Server) redeem(w http.ResponseWriter, r *http.Request) {
	market, ok := pathAddr(w, r, "market")
	if !ok {
		return
	}
	var req RedeemRequest
	if !decode(w, r, &req) {
		return
	}
	payout, err := s.engine.Redeem(r.Context(), signer(r), market, req.Shares)
	if err != nil {
		s.fail(w, r, "redeem", err)
		return
	}
	writeJSON(w, http.StatusOK, AmountResponse{Amount: payout})
}

func (s *Server) cancelMarket(w http.ResponseWriter, r *http.Request) {
	market, ok := pathAddr(w, r, "market")
	if !ok {
		return
	}
	m, err := s.engine.CancelMarket(r.Context(), signer(r), market)
	if err != nil {
		s.fail(w, r, "cancel_market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) claimRefund(w http.ResponseWriter, r *http.Request) {
	market, ok := pathAddr(w, r, "market")
	if !ok {
		return
	}
	refund, err := s.engine.ClaimRefund(r.Context(), signer(r), market)
	if err != nil {
		s.fail(w, r, "claim_refund", err)
		return
	}
	writeJSON(w, http.StatusOK, AmountResponse{Amount: refund})
}

// Proposals.

func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	proposal, ok := pathAddr(w, r, "proposal")
	if !ok {
		return
	}
	p, err := s.engine.GetProposal(r.Context(), proposal)
	if err != nil {
		s.fail(w, r, "get_proposal", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) castVote(w http.ResponseWriter, r *http.Request) {
	proposal, ok := pathAddr(w, r, "proposal")
	if !ok {
		return
	}
	var req CastVoteRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := s.engine.CastVote(r.Context(), signer(r), proposal, req.Support)
	if err != nil {
		s.fail(w, r, "cast_vote", err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) getVote(w http.ResponseWriter, r *http.Request) {
	proposal, ok := pathAddr(w, r, "proposal")
	if !ok {
		return
	}
	voter, ok := pathAddr(w, r, "voter")
	if !ok {
		return
	}
	v, err := s.engine.GetVote(r.Context(), proposal, voter)
	if err != nil {
		s.fail(w, r, "get_vote", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) executeResolution(w http.ResponseWriter, r *http.Request) {
	proposal, ok := pathAddr(w, r, "proposal")
	if !ok {
		return
	}
	res, err := s.engine.ExecuteResolution(r.Context(), signer(r), proposal)
	if err != nil {
		s.fail(w, r, "execute_resolution", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) withdrawVote(w http.ResponseWriter, r *http.Request) {
	proposal, ok := pathAddr(w, r, "proposal")
	if !ok {
		return
	}
	returned, err := s.engine.WithdrawVote(r.Context(), signer(r), proposal)
	if err != nil {
		s.fail(w, r, "withdraw_vote", err)
		return
	}
	writeJSON(w, http.StatusOK, AmountResponse{Amount: returned})
}
