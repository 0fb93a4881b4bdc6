package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/browse"
)

// statusOf maps a screen state to an HTTP status. An error state that still
// carries earlier data is a normal response: the client shows both.
func statusOf(state browse.State, hasData bool) int {
	switch state {
	case browse.StateSuccess:
		return http.StatusOK
	case browse.StateLoading:
		return http.StatusAccepted
	default:
		if hasData {
			return http.StatusOK
		}
		return http.StatusBadGateway
	}
}

// writeResult writes r as {"state","error","data"}.
func writeResult[T any](w http.ResponseWriter, r browse.Result[T], encode func(*jx.Encoder, T)) {
	data, hasData := r.Data()

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("state")
	e.Str(r.State().String())
	if r.IsError() {
		e.FieldStart("error")
		e.Str(r.Message())
	}
	e.FieldStart("data")
	if hasData {
		encode(&e, data)
	} else {
		e.Null()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusOf(r.State(), hasData))
	_, _ = w.Write(e.Bytes())
}
