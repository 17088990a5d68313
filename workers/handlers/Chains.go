package handlers

import (
	"net/http"
	"strconv"
)

func (a *API) Chains(w http.ResponseWriter, r *http.Request) {
	responseJSON(w, &APIChainsResponse{
		Status: "ok",
		Chains: a.svc.SupportedChains(),
	}, http.StatusOK)
}

func (a *API) Fees(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source, err := strconv.Atoi(q.Get("source"))
	if err != nil {
		a.responseError(w, r, badRequest("source", "source chain id missing or not a number"))
		return
	}
	dest, err := strconv.Atoi(q.Get("dest"))
	if err != nil {
		a.responseError(w, r, badRequest("dest", "destination chain id missing or not a number"))
		return
	}

	estimate, err := a.svc.EstimateBridgeFee(r.Context(), source, dest, q.Get("token"), q.Get("amount"))
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	responseJSON(w, &APIFeeResponse{
		Status:   "ok",
		Estimate: estimate,
	}, http.StatusOK)
}
