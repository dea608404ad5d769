package system

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	// for cookies
	"github.com/gorilla/securecookie"
	"go.uber.org/zap"

	"github.com/nick0131/solventics-website/config"
	"github.com/nick0131/solventics-website/contact"
	"github.com/nick0131/solventics-website/greylist"
	"github.com/nick0131/solventics-website/i/sheets"
	"github.com/nick0131/solventics-website/pages"
	"github.com/nick0131/solventics-website/www"
)

type System struct {
	log     *zap.Logger
	cookies *securecookie.SecureCookie
	pages   *pages.Router
	contact *contact.Handler
	audit   *Audit
	hits    atomic.Uint64
	started time.Time

	mu        sync.RWMutex
	config    config.Config
	templates map[string]*template.Template

	badguylock sync.Mutex
	badguys    map[string]int
	greylist   *greylist.List
}

type Option func(*System)

// WithOpener replaces the spreadsheet built from config.
func WithOpener(open contact.Opener) Option {
	return func(s *System) {
		s.contact = contact.NewHandler(open, s.log, s.contactOptions()...)
	}
}

// New loads pages and templates, opens the audit log and wires the contact form.
func New(cfg config.Config, log *zap.Logger, opts ...Option) (*System, error) {
	t1 := time.Now()
	s := &System{
		log:    log,
		config: cfg,
		// flash cookies carry the visitor's name and email, always encrypted
		cookies: securecookie.New([]byte(cfg.Sec.HashKey), []byte(cfg.Sec.BlockKey)),
		badguys: make(map[string]int),
		started: t1,
	}

	var err error
	if s.pages, err = pages.Load(); err != nil {
		return nil, err
	}
	if err = s.ReloadTemplates(); err != nil {
		return nil, err
	}
	if cfg.Sec.BoltDB != "" {
		if s.audit, err = OpenAudit(cfg.Sec.BoltDB, []byte(cfg.Sec.HashKey), log); err != nil {
			return nil, err
		}
	}

	s.contact = contact.NewHandler(s.openSheet, log, s.contactOptions()...)
	for _, o := range opts {
		o(s)
	}
	log.Info("system ready", zap.Duration("took", time.Since(t1)), zap.Bool("audit", s.audit != nil))
	return s, nil
}

func (s *System) contactOptions() []contact.Option {
	if s.audit == nil {
		return nil
	}
	return []contact.Option{contact.WithRecorder(s.audit)}
}

// openSheet reads the current config so a SIGUSR1 reload picks up new credentials.
func (s *System) openSheet(ctx context.Context) (contact.Store, error) {
	c := s.Config().Sheets
	return sheets.Opener(sheets.Config{
		SpreadsheetID:   c.SpreadsheetID,
		Range:           c.Range,
		CredentialsFile: c.CredentialsFile,
		CredentialsJSON: c.CredentialsJSON,
	}, s.log)(ctx)
}

func (s *System) Config() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

func (s *System) SetGreylist(g *greylist.List) {
	s.greylist = g
}

func (s *System) templateFS() fs.FS {
	if dir := s.Config().Meta.PathTemplates; dir != "" {
		return os.DirFS(dir)
	}
	return www.Templates()
}

func (s *System) ReloadTemplates() error {
	t1 := time.Now()
	fsys := s.templateFS()
	partials, err := fs.Glob(fsys, "_partials/*.html")
	if err != nil {
		return fmt.Errorf("couldn't enumerate partial templates")
	}
	var templates = map[string]*template.Template{}
	for _, name := range []string{"page.html"} {
		templates[name], err = template.New(name).ParseFS(fsys, append([]string{name}, partials...)...)
		if err != nil {
			return fmt.Errorf("couldn't parse template %q: %v", name, err)
		}
	}
	s.log.Debug("parsed templates", zap.Int("count", len(templates)), zap.Strings("partials", partials), zap.Duration("took", time.Since(t1)))
	s.mu.Lock()
	s.templates = templates
	s.mu.Unlock()
	return nil
}

func (s *System) ReloadConfig() error {
	old := s.Config()
	if old.ConfigFilePath == "" {
		return fmt.Errorf("can't reload config, was set using stdin")
	}
	c, err := config.Read(old.ConfigFilePath, nil)
	if err != nil {
		return err
	}
	c.Meta.DevelopmentMode = c.Meta.DevelopmentMode || old.Meta.DevelopmentMode
	c.Meta.Version = old.Meta.Version
	if err := config.LoadEnv(c, s.log); err != nil {
		return err
	}
	if err := config.CheckConfig(c, s.log); err != nil {
		return err
	}
	s.mu.Lock()
	s.config = *c
	s.mu.Unlock()
	s.log.Info("reloaded config", zap.String("path", c.ConfigFilePath))
	return nil
}

// Run serves h until ctx is done or the process gets SIGINT/SIGTERM.
// SIGUSR1 reloads the config, SIGUSR2 the templates.
func (s *System) Run(ctx context.Context, h http.Handler) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(reload)

	srv := &http.Server{
		Addr:              s.Config().Meta.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("serving HTTP", zap.String("addr", srv.Addr), zap.String("siteurl", s.Config().Meta.SiteURL))
		errc <- srv.ListenAndServe()
	}()

	for {
		select {
		case sig := <-reload:
			s.log.Info("got signal", zap.String("signal", sig.String()))
			switch sig {
			case syscall.SIGUSR1:
				if err := s.ReloadConfig(); err != nil {
					s.log.Error("reloading config", zap.Error(err))
				}
			case syscall.SIGUSR2:
				if err := s.ReloadTemplates(); err != nil {
					s.log.Error("reloading templates", zap.Error(err))
				}
			}
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			s.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	}
}

func (s *System) Close() error {
	if s.audit != nil {
		return s.audit.Close()
	}
	return nil
}

type Stats struct {
	Hits        uint64            `json:"hits"`
	Average     float64           `json:"hits-per-second,omitempty"`
	Uptime      float64           `json:"uptime,omitempty"`
	Submissions map[string]uint64 `json:"submissions,omitempty"`
	Recent      []Outcome         `json:"recent,omitempty"`
}

// Outcome is an audit record without the client hash, for /status.
type Outcome struct {
	Time    time.Time `json:"time"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
}
