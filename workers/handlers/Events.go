package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"gobridgetracker/identity"
)

// Events streams lifecycle events as server-sent events. ?owner= limits the
// stream to one owner.
func (a *API) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		responseJSON(w, &APIResponse{
			Status:  "error",
			Message: "streaming not supported",
		}, http.StatusInternalServerError)
		return
	}

	var owner string
	if raw := r.URL.Query().Get(identity.QUERY_OWNER); raw != "" {
		var err error
		if owner, err = identity.NormalizeAddress(raw); err != nil {
			a.responseError(w, r, err)
			return
		}
	}

	ch, cancel := a.svc.Stream(a.streamBuffer)
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if owner != "" && ev.Transaction.OwnerAddress != owner {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				a.logger.Error().Err(err).Str("id", ev.TransactionID).Msg("encoding event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
