package system

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/nick0131/solventics-website/contact"
)

// ContactHandler shows the contact page on GET. A POST submits the form
// and redirects back to the page, which then shows the outcome. When the
// outcome doesn't fit in a cookie the page is rendered right away instead.
func (s *System) ContactHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		s.PageHandler(w, r)
		return
	case http.MethodPost:
	default:
		http.Error(w, "bad method", http.StatusMethodNotAllowed)
		return
	}

	res, ok := s.submit(w, r)
	if !ok {
		return
	}
	flash := map[string]string{"kind": res.Kind().String(), "msg": res.Message()}
	if err := s.writeFlash(w, flash); err != nil {
		s.log.Warn("can't write flash cookie, rendering outcome", zap.Error(err))
		page, _ := s.pages.Lookup("Contact")
		s.serveTemplate(w, r, page, flash)
		return
	}
	http.Redirect(w, r, "/contact", http.StatusSeeOther)
}

type ContactResponse struct {
	OK      bool   `json:"ok"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ContactJSONHandler is the form endpoint for scripts: same flow, JSON result.
func (s *System) ContactJSONHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		serveJSONError(w, "bad method", http.StatusMethodNotAllowed)
		return
	}
	res, ok := s.submit(w, r)
	if !ok {
		return
	}
	code := http.StatusOK
	switch res.Kind() {
	case contact.KindValidation:
		code = http.StatusBadRequest
	case contact.KindConfig:
		code = http.StatusServiceUnavailable
	case contact.KindRemote:
		code = http.StatusBadGateway
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ContactResponse{OK: res.OK(), Kind: res.Kind().String(), Message: res.Message()}); err != nil {
		s.log.Warn("encoding contact response", zap.Error(err))
	}
}

func (s *System) submit(w http.ResponseWriter, r *http.Request) (contact.Result, bool) {
	if err := r.ParseForm(); err != nil {
		s.log.Info("error parsing form", zap.Error(err))
		serveJSONError(w, "form parse error", http.StatusBadRequest)
		return contact.Result{}, false
	}
	ctx := withClient(r.Context(), s.clientIP(r))
	return s.contact.Submit(ctx, r.PostFormValue("name"), r.PostFormValue("email"), r.PostFormValue("message")), true
}

type JSONError struct {
	Error string `json:"error"`
}

func serveJSONError(w http.ResponseWriter, e string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(JSONError{e})
}
