package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"gobridgetracker/types"

	"github.com/go-chi/chi"
)

const maxBodySize = 1 << 16

func (a *API) SubmitBridge(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		a.responseError(w, r, badRequest("", "Error reading request body"))
		return
	}

	var req BridgeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		a.responseError(w, r, badRequest("", "Cannot unmarshal input JSON"))
		return
	}

	id, err := a.svc.InitiateBridge(r.Context(), req.SourceChain, req.DestinationChain, req.Token, req.Amount, req.Owner)
	if err != nil {
		a.responseError(w, r, err)
		return
	}

	a.logger.Info().Str("id", id).Int("source", req.SourceChain).Int("destination", req.DestinationChain).
		Str("token", req.Token).Str("amount", req.Amount).Msg("bridge initiated")
	responseJSON(w, &APIBridgeResponse{
		Status: "ok",
		ID:     id,
	}, http.StatusCreated)
}

// BridgeStatus refreshes the transaction before answering.
func (a *API) BridgeStatus(w http.ResponseWriter, r *http.Request) {
	tx, err := a.svc.TrackBridgeStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	responseJSON(w, &APITransactionResponse{
		Status:      "ok",
		Transaction: tx,
	}, http.StatusOK)
}

func (a *API) CancelBridge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.svc.CancelBridge(r.Context(), id); err != nil {
		a.responseError(w, r, err)
		return
	}
	responseJSON(w, &APIBridgeResponse{
		Status: "ok",
		ID:     id,
	}, http.StatusOK)
}

func (a *API) RetryBridge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	newID, err := a.svc.RetryFailedBridge(r.Context(), id)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	responseJSON(w, &APIBridgeResponse{
		Status:  "ok",
		ID:      newID,
		RetryOf: id,
	}, http.StatusCreated)
}

func (a *API) History(w http.ResponseWriter, r *http.Request) {
	hist, err := a.svc.BridgeHistory(r.Context(), "")
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	if hist == nil {
		hist = []types.BridgeTransaction{}
	}
	responseJSON(w, &APIHistoryResponse{
		Status:       "ok",
		Transactions: hist,
	}, http.StatusOK)
}
