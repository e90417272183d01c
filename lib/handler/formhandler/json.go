package formhandler

import (
	"encoding/json"
	"net/http"
)

type jsonErrorMsg struct {
	Code int    `json:"code,omitempty"`
	Msg  string `json:"msg,omitempty"`
}

type jsonError struct {
	Err jsonErrorMsg `json:"error"`
}

func (h *Handler) prepareEncoder(
	w http.ResponseWriter, code int) *json.Encoder {

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if code != 0 {
		w.WriteHeader(code)
	}
	e := json.NewEncoder(w)
	e.SetEscapeHTML(false)
	e.SetIndent("", h.indent)
	return e
}

func (h *Handler) returnError(w http.ResponseWriter, err error) {
	code := StatusForError(err)
	e := h.prepareEncoder(w, code)
	jerr := jsonError{Err: jsonErrorMsg{Code: code, Msg: err.Error()}}
	e.Encode(&jerr)
}
