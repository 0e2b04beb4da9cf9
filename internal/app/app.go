package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ZetoOfficial/portal-cms/internal/auth"
	"github.com/ZetoOfficial/portal-cms/internal/billing"
	"github.com/ZetoOfficial/portal-cms/internal/config"
	"github.com/ZetoOfficial/portal-cms/internal/content"
	"github.com/ZetoOfficial/portal-cms/internal/dashboard"
	"github.com/ZetoOfficial/portal-cms/internal/mailer"
	"github.com/ZetoOfficial/portal-cms/internal/metrics"
	"github.com/ZetoOfficial/portal-cms/internal/server"
	"github.com/ZetoOfficial/portal-cms/internal/session"
	"github.com/ZetoOfficial/portal-cms/internal/settings"
	"github.com/ZetoOfficial/portal-cms/internal/storage"
	"github.com/ZetoOfficial/portal-cms/internal/storage/memstore"
)

const shutdownTimeout = 10 * time.Second

var newRedisClient = redis.NewClient

// Storage описывает всё, что сервисы ждут от хранилища.
type Storage interface {
	auth.UserStore
	auth.TokenStore
	content.ArticleStore
	content.CategoryStore
	content.CommentStore
	content.ProjectStore
	billing.Store
	dashboard.Store
	settings.Store
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// App связывает конфигурацию, хранилище и сервисы.
type App struct {
	cfg     *config.Config
	logFile string

	storage Storage
	redis   *redis.Client

	Metrics    *metrics.Registry
	Settings   *settings.Service
	Sessions   *session.Manager
	Tokens     *auth.TokenManager
	Auth       *auth.Service
	Articles   *content.ArticleService
	Categories *content.CategoryService
	Comments   *content.CommentService
	Projects   *content.ProjectService
	Invoices   *billing.Service
	Dashboard  *dashboard.Service
}

// OpenStorage connects to the configured backend and checks it answers.
func OpenStorage(ctx context.Context, cfg *config.Config) (Storage, error) {
	if cfg.StorageDriver == config.StorageMemory {
		logrus.Warn("Используется хранилище в памяти, данные не сохранятся")
		return memstore.New(), nil
	}
	st, err := storage.NewNeo4jStorage(cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		return nil, err
	}
	if err := st.Ping(ctx); err != nil {
		_ = st.Close(ctx)
		return nil, fmt.Errorf("ping neo4j: %w", err)
	}
	logrus.Info("Подключение к Neo4j успешно установлено")
	return st, nil
}

func newSender(cfg *config.Config) mailer.Sender {
	switch cfg.MailDriver {
	case config.MailSMTP:
		return mailer.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
	case config.MailAPI:
		return mailer.NewAPISender(cfg.MailAPIURL, cfg.MailAPIKey)
	}
	return mailer.LogSender{}
}

// New builds every service on top of an opened storage.
func New(ctx context.Context, cfg *config.Config, st Storage, logFile string) (*App, error) {
	a := &App{cfg: cfg, logFile: logFile, storage: st, Metrics: metrics.New()}

	var err error
	a.Settings, err = settings.New(st, cfg.SettingsFile)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	var sessionStore session.Store = session.NewMemoryStore()
	if cfg.RedisAddr != "" {
		a.redis = newRedisClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		rs := session.NewRedisStore(a.redis, cfg.SessionTTL)
		if err := rs.Ping(ctx); err != nil {
			_ = a.redis.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logrus.WithField("addr", cfg.RedisAddr).Info("Сессии хранятся в Redis")
		sessionStore = rs
	}
	a.Sessions = session.NewManager(sessionStore, session.Options{
		CookieName:  cfg.SessionCookie,
		TTL:         cfg.SessionTTL,
		IdleTimeout: cfg.SessionIdleTimeout,
		Secure:      cfg.CookieSecure,
	})

	siteName := a.Settings.String(ctx, settings.SiteName)
	ml, err := mailer.New(newSender(cfg), cfg.MailFrom, siteName, a.Metrics)
	if err != nil {
		return nil, fmt.Errorf("init mailer: %w", err)
	}

	a.Tokens = auth.NewTokenManager(st, cfg.VerifyTokenTTL, cfg.ResetTokenTTL, a.Metrics)
	a.Auth = auth.NewService(st, a.Tokens, ml, a.Sessions, a.Settings, a.Metrics, auth.Options{
		BaseURL:              cfg.BaseURL,
		RequireVerifiedEmail: cfg.RequireVerifiedEmail,
		LoginRatePerMinute:   cfg.LoginRatePerMinute,
		LoginBurst:           cfg.LoginBurst,
	})
	a.Articles = content.NewArticleService(st)
	a.Categories = content.NewCategoryService(st)
	a.Comments = content.NewCommentService(st, ml, a.Settings, a.Metrics, content.CommentOptions{
		AdminEmail: cfg.AdminEmail,
		BaseURL:    cfg.BaseURL,
		PerMinute:  cfg.LoginRatePerMinute,
		Burst:      cfg.LoginBurst,
	})
	a.Projects = content.NewProjectService(st)
	a.Invoices = billing.NewService(st, ml, a.Settings, cfg.BaseURL)
	a.Dashboard = dashboard.NewService(st)
	return a, nil
}

func (a *App) Close(ctx context.Context) {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logrus.Warningf("close redis: %v", err)
		}
	}
	if err := a.storage.Close(ctx); err != nil {
		logrus.Warningf("close storage: %v", err)
	}
}

// Handler returns the HTTP router wired to the services.
func (a *App) Handler() http.Handler {
	pingers := map[string]server.Pinger{"storage": a.storage}
	if a.redis != nil {
		pingers["redis"] = redisPinger{a.redis}
	}
	return server.New(server.Deps{
		Auth:       a.Auth,
		Sessions:   a.Sessions,
		Articles:   a.Articles,
		Categories: a.Categories,
		Comments:   a.Comments,
		Projects:   a.Projects,
		Invoices:   a.Invoices,
		Settings:   a.Settings,
		Dashboard:  a.Dashboard,
		Metrics:    a.Metrics,
		Pingers:    pingers,
		LogFile:    a.logFile,
		TrustProxy: a.cfg.TrustProxy,
	}).Router()
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Serve runs the HTTP server and the overdue sweeper until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.WithField("addr", srv.Addr).Info("HTTP сервер запущен")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.Invoices.RunSweeper(gctx, a.cfg.OverdueSweepInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("Остановка HTTP сервера...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Migrate applies schema constraints when the storage needs them.
func (a *App) Migrate(ctx context.Context) error {
	m, ok := a.storage.(migrator)
	if !ok {
		logrus.Info("Хранилищу не нужны миграции")
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logrus.Info("Схема применена")
	return nil
}

// Report runs a named report and logs every row.
func (a *App) Report(ctx context.Context, name string) error {
	results, err := a.Dashboard.Report(ctx, name)
	if err != nil {
		return fmt.Errorf("run query: %w", err)
	}
	for _, result := range results {
		logrus.Info(result)
	}
	return nil
}

func (a *App) MarkOverdue(ctx context.Context) (int, error) {
	return a.Invoices.MarkOverdue(ctx, time.Now())
}

func (a *App) PurgeTokens(ctx context.Context) (int, error) {
	return a.Tokens.PurgeExpired(ctx)
}
