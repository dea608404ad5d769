package system

import (
	"net/http"
	"net/url"
	"time"

	"github.com/crewjam/csp"
	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	"github.com/nick0131/solventics-website/greylist"
	"github.com/nick0131/solventics-website/pages"
	"github.com/nick0131/solventics-website/www"
)

// MaxAttempts is how many CSRF failures an ip gets before a temporary ban.
const MaxAttempts = 3

// Handler builds the router with CSRF protection, greylist and request logging.
func (s *System) Handler() http.Handler {
	cfg := s.Config()
	CSRF := csrf.Protect([]byte(cfg.Sec.CSRFKey),
		csrf.Secure(!cfg.Meta.DevelopmentMode), // is dev mode
		csrf.FieldName("_csrf"),
		csrf.CookieName(cfg.Sec.CookieName+"_csrf"),
		csrf.ErrorHandler(http.HandlerFunc(s.csrfFailure)))

	router := http.NewServeMux()

	// static files
	static := http.HandlerFunc(s.StaticHandler)
	router.Handle("/css/", static)
	router.Handle("/robots.txt", static)

	// forms
	router.Handle("/contact.json", CSRF(http.HandlerFunc(s.ContactJSONHandler)))
	router.Handle("/contact", CSRF(http.HandlerFunc(s.ContactHandler)))

	// status
	router.Handle("/status", http.HandlerFunc(s.StatusHandler))

	// pages and 404s
	router.Handle("/", CSRF(http.HandlerFunc(s.PageHandler)))

	var h http.Handler = router
	if s.greylist != nil {
		h = s.greylist.Protect(h)
	}
	return s.HitCounter(h)
}

func (s *System) SetCSPHeader(w http.ResponseWriter) {
	u, err := url.Parse(s.Config().Meta.SiteURL)
	if err != nil {
		s.log.Warn("cant set Content-Security-Policy", zap.Error(err))
		return
	}
	val := csp.Header{
		DefaultSrc: []string{"'self'", u.Hostname()},
	}.String()
	w.Header().Set("Content-Security-Policy", val)
}

func (s *System) serveTemplate(w http.ResponseWriter, r *http.Request, page pages.Page, flash map[string]string) {
	s.SetCSPHeader(w)
	s.mu.RLock()
	t, ok := s.templates["page.html"]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "no template", http.StatusInternalServerError)
		return
	}
	cfg := s.Config()

	var pageTitle = cfg.Meta.SiteName
	if pageTitle != "" {
		pageTitle += " | "
	}
	pageTitle += page.Label

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := t.ExecuteTemplate(w, "page.html", map[string]interface{}{
		csrf.TemplateTag: csrf.TemplateField(r),
		"csrfToken":      csrf.Token(r),
		"pageTitle":      pageTitle,
		"page":           page,
		"menu":           s.pages.Menu(page.Label),
		"flash":          flash,
		"sitename":       cfg.Meta.SiteName,
		"copyrightname":  cfg.Meta.CopyrightName,
		"year":           time.Now().Year(),
	})
	if err != nil {
		s.log.Error("executing template", zap.String("page", page.Label), zap.Error(err))
	}
}

// PageHandler renders the page for the request path. On / a ?page=<menu label>
// selects the page by label.
func (s *System) PageHandler(w http.ResponseWriter, r *http.Request) {
	// return OK if OPTIONS or HEAD
	if r.Method == http.MethodOptions || r.Method == http.MethodHead {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "bad method", http.StatusMethodNotAllowed)
		return
	}

	var (
		page pages.Page
		ok   bool
	)
	if label := r.URL.Query().Get("page"); label != "" && r.URL.Path == "/" {
		page, ok = s.pages.Lookup(label)
	} else {
		page, ok = s.pages.BySlug(r.URL.Path)
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	var flash map[string]string
	if page.Form {
		flash = s.readFlash(w, r)
	}
	w.Header().Set("X-CSRF-Token", csrf.Token(r))
	s.serveTemplate(w, r, page, flash)
}

func (s *System) StaticHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "bad method on staticHandler", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Expires", time.Now().Add(time.Hour*24).UTC().Truncate(time.Second).Format(http.TimeFormat))
	http.FileServer(http.FS(www.Public())).ServeHTTP(w, r)
}

func (s *System) flashCookieName() string {
	return s.Config().Sec.CookieName + "_flash"
}

// writeFlash stores a one-shot message for the next page view.
func (s *System) writeFlash(w http.ResponseWriter, value map[string]string) error {
	name := s.flashCookieName()
	encoded, err := s.cookies.Encode(name, value)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !s.Config().Meta.DevelopmentMode,
	})
	return nil
}

// readFlash returns and clears the flash message, nil if there is none.
func (s *System) readFlash(w http.ResponseWriter, r *http.Request) map[string]string {
	name := s.flashCookieName()
	cookie, err := r.Cookie(name)
	if err != nil {
		return nil
	}
	http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1})
	value := make(map[string]string)
	if err := s.cookies.Decode(name, cookie.Value, &value); err != nil {
		s.log.Info("dropping bad flash cookie", zap.Error(err))
		return nil
	}
	return value
}

// clientIP trusts X-Forwarded-For only from the configured proxies.
func (s *System) clientIP(r *http.Request) string {
	return greylist.ClientIP(r, s.Config().Sec.TrustedProxies...)
}

// HitCounter http middleware that logs and counts
func (s *System) HitCounter(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Info("request",
			zap.String("host", r.Host),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("ip", s.clientIP(r)),
			zap.String("ua", r.UserAgent()))
		s.hits.Add(1)
		h.ServeHTTP(w, r)
	})
}

func (s *System) csrfFailure(w http.ResponseWriter, r *http.Request) {
	s.log.Warn("csrf check failed", zap.Error(csrf.FailureReason(r)), zap.String("path", r.URL.Path))
	s.addBadAttempt(r)
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

// addBadAttempt bans an ip after MaxAttempts failures.
func (s *System) addBadAttempt(r *http.Request) {
	if s.greylist == nil {
		s.log.Debug("no greylist instance to add bad attempts")
		return
	}
	ip := s.clientIP(r)

	s.badguylock.Lock()
	s.badguys[ip]++
	n := s.badguys[ip]
	if n >= MaxAttempts {
		delete(s.badguys, ip)
	}
	s.badguylock.Unlock()

	if n >= MaxAttempts {
		s.greylist.Blacklist(ip)
	}
}
