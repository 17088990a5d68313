package handlers

import (
	"net/http"
)

func (a *API) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		if err := a.health(r.Context()); err != nil {
			a.logger.Warn().Err(err).Msg("health check failed")
			responseJSON(w, &APIResponse{
				Status:  "degraded",
				Message: err.Error(),
			}, http.StatusServiceUnavailable)
			return
		}
	}
	responseJSON(w, &APIResponse{
		Status: "ok",
	}, http.StatusOK)
}
