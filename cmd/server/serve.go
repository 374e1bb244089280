package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/nextphaseit/portal-identity/authflow"
	"github.com/nextphaseit/portal-identity/entra"
	"github.com/nextphaseit/portal-identity/internal/config"
	"github.com/nextphaseit/portal-identity/internal/metrics"
	"github.com/nextphaseit/portal-identity/server"
	"github.com/nextphaseit/portal-identity/sessions"
	"github.com/nextphaseit/portal-identity/tenants"
	"github.com/nextphaseit/portal-identity/token"
	"github.com/nextphaseit/portal-identity/users"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const janitorInterval = time.Minute

func serve() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := build(ctx, c)
	if err != nil {
		return err
	}
	defer app.close()

	go app.manager.RunJanitor(ctx, janitorInterval)

	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           app.server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- listenAndServe(httpServer) }()

	select {
	case err := <-errCh:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer)
}

type application struct {
	server  *server.Server
	manager *sessions.Manager
	closers []func()
}

func (a *application) close() {
	// Pending provider sign-outs finish before storage goes away
	a.manager.Close()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, c config.Config) (*application, error) {
	app := &application{}
	logger := log.Logger

	registry, err := tenants.LoadRegistry(c.GetTenantsFile())
	if err != nil {
		return nil, err
	}
	policy, err := tenants.ParseAdminPolicy(c.GetAdminPolicy())
	if err != nil {
		return nil, err
	}
	directory, err := users.NewLocalDirectory(registry.LocalAccounts())
	if err != nil {
		return nil, err
	}

	m, err := metrics.New(nil)
	if err != nil {
		return nil, err
	}

	deps := sessions.Dependencies{
		Resolver:  tenants.NewResolver(registry, policy),
		Directory: directory,
	}
	options := []sessions.Option{
		sessions.WithLogger(logger.With().Str("component", "sessions").Logger()),
		sessions.WithMetrics(m),
		sessions.WithRefreshBuffer(c.GetRefreshBuffer()),
		sessions.WithMaxSessionAge(c.GetMaxSessionAge()),
		sessions.WithFlowTTL(c.GetAuthFlowTTL()),
		sessions.WithLiveCheck(c.GetSessionLiveCheck()),
		sessions.WithDefaultHints(entra.Hints{Prompt: c.GetEntraPrompt(), DomainHint: c.GetEntraDomainHint()}),
	}

	switch c.GetStorageDriver() {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.GetRedisAddr(),
			Password: c.GetRedisPassword(),
			DB:       c.GetRedisDB(),
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("[build] redis %s: %w", c.GetRedisAddr(), err)
		}
		app.closers = append(app.closers, func() { _ = rdb.Close() })
		deps.Sessions = sessions.NewRedisRepo(rdb, c.GetRedisPrefix())
		deps.Flows = authflow.NewRedisRepo(rdb, c.GetRedisPrefix(), c.GetAuthFlowTTL())
	case "memory":
		deps.Sessions = sessions.NewInMemoryRepo()
		deps.Flows = authflow.NewInMemoryRepo(c.GetAuthFlowTTL())
	default:
		return nil, fmt.Errorf("[build] unknown STORAGE_DRIVER %q", c.GetStorageDriver())
	}

	var serverOptions []server.Option
	if err := c.ValidateEntra(); err != nil {
		log.Warn().Err(err).Msg("microsoft sign-in disabled")
	} else {
		client, err := entra.NewClient(entra.Config{
			ClientID:      c.GetEntraClientID(),
			ClientSecret:  c.GetEntraClientSecret(),
			TenantID:      c.GetEntraTenantID(),
			AuthorityHost: c.GetEntraAuthorityHost(),
			RedirectURL:   c.GetRedirectURL(),
			Scopes:        c.GetEntraScopes(),
			Timeout:       c.GetEntraHTTPTimeout(),
		})
		if err != nil {
			return nil, err
		}
		graph := entra.NewGraphClient(c.GetGraphBaseURL(), c.GetEntraHTTPTimeout(), nil)
		deps.Client = client
		deps.Profiles = graph
		options = append(options,
			sessions.WithIDTokenVerifier(entra.NewIDTokenVerifier(ctx, c.GetEntraAuthorityHost(), c.GetEntraTenantID(), c.GetEntraClientID())),
		)
		if c.GetEntraRevokeSessions() {
			options = append(options, sessions.WithRevoker(graph, c.GetEntraHTTPTimeout()))
		}
		serverOptions = append(serverOptions, server.WithProviderLogout(client.LogoutURL))
		log.Info().Str("tenant", c.GetEntraTenantID()).Str("redirect_uri", c.GetRedirectURL()).Msg("microsoft sign-in enabled")
	}

	manager, err := sessions.NewManager(deps, options...)
	if err != nil {
		return nil, err
	}
	app.manager = manager

	secret, err := sessionSecret(c)
	if err != nil {
		return nil, err
	}
	signer, err := token.NewSigner(secret, c.GetBaseURL())
	if err != nil {
		return nil, err
	}

	serverOptions = append(serverOptions,
		server.WithLogger(logger.With().Str("component", "http").Logger()),
		server.WithMetrics(m),
	)
	app.server, err = server.New(c, manager, signer, serverOptions...)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("tenants", registry.Len()).
		Bool("local_accounts", manager.LocalEnabled()).
		Str("storage", c.GetStorageDriver()).
		Str("admin_policy", string(policy)).
		Msg("identity service ready")
	return app, nil
}

// sessionSecret returns SESSION_SECRET. DEV generates a throwaway secret, so sessions
// do not survive a restart there.
func sessionSecret(c config.Config) (string, error) {
	if secret := c.GetSessionSecret(); secret != "" {
		return secret, nil
	}
	if c.GetEnv() != "DEV" {
		return "", fmt.Errorf("[sessionSecret] SESSION_SECRET must be set outside DEV")
	}
	b := make([]byte, token.MinSecretLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	log.Warn().Msg("SESSION_SECRET not set, using a generated secret")
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}
