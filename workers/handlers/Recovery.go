package handlers

import (
	"net/http"

	"github.com/go-chi/chi"
)

func (a *API) Recovery(w http.ResponseWriter, r *http.Request) {
	report, err := a.svc.Recovery(r.Context(), "")
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	responseJSON(w, &APIRecoveryResponse{
		Status: "ok",
		Report: report,
	}, http.StatusOK)
}

func (a *API) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "actionId")
	result, err := a.svc.ExecuteAction(r.Context(), actionID)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	responseJSON(w, &APIActionResponse{
		Status: "ok",
		Action: actionID,
		Result: result,
	}, http.StatusOK)
}
