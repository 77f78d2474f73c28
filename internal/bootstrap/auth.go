package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/shipnorth/portal-auth/config"
	"github.com/shipnorth/portal-auth/internal/adapters/authroles"
	"github.com/shipnorth/portal-auth/internal/adapters/devauth"
	"github.com/shipnorth/portal-auth/internal/adapters/jwttoken"
	"github.com/shipnorth/portal-auth/internal/adapters/memstore"
	"github.com/shipnorth/portal-auth/internal/adapters/oidc"
	"github.com/shipnorth/portal-auth/internal/adapters/password"
	redisadapter "github.com/shipnorth/portal-auth/internal/adapters/redis"
	"github.com/shipnorth/portal-auth/internal/data"
	"github.com/shipnorth/portal-auth/internal/devseed"
	"github.com/shipnorth/portal-auth/internal/observability/metrics"
	"github.com/shipnorth/portal-auth/internal/ports"
	"github.com/shipnorth/portal-auth/internal/service"
)

// AuthDeps contains what BuildAuthService needs besides configuration.
// DB is required for the postgres user store and Redis for the redis session store.
type AuthDeps struct {
	Auth  config.AuthConfig
	DB    *sql.DB
	Redis redis.UniversalClient
	// SessionKeyPrefix namespaces session keys in Redis.
	SessionKeyPrefix string
	Metrics          *metrics.Auth
	Logger           *slog.Logger
}

// BuildAuthService creates the auth service for the configured store modes.
func BuildAuthService(ctx context.Context, deps AuthDeps) (*service.AuthService, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	users, err := buildUserStore(deps)
	if err != nil {
		return nil, err
	}
	sessions, err := buildSessionStore(deps)
	if err != nil {
		return nil, err
	}

	opts := service.AuthServiceOptions{
		Users:    users,
		Sessions: sessions,
		Hasher:   password.Bcrypt{Cost: deps.Auth.BcryptCost},
		Metrics:  deps.Metrics,
		Logger:   logger,
		TTL:      deps.Auth.SessionTTL,
	}

	if deps.Auth.TokensEnabled() {
		tokens, tokErr := jwttoken.New(jwttoken.Options{
			Secret: deps.Auth.JWTSecret,
			Issuer: deps.Auth.JWTIssuer,
			TTL:    deps.Auth.JWTTTL,
		})
		if tokErr != nil {
			return nil, fmt.Errorf("build token issuer: %w", tokErr)
		}
		opts.Tokens = tokens
	} else {
		logger.WarnContext(ctx, "bearer tokens disabled: AUTH_JWT_SECRET not set")
	}

	if deps.Auth.OIDC.Enabled {
		opts.Provider, opts.Roles, err = buildSSO(ctx, deps.Auth.OIDC)
		if err != nil {
			// Password login keeps working without the IdP.
			logger.WarnContext(ctx, "single sign-on disabled", "error", err)
			opts.Provider, opts.Roles = nil, nil
		} else {
			logger.InfoContext(ctx, "single sign-on enabled", "issuer", deps.Auth.OIDC.IssuerURL)
		}
	} else if deps.Auth.DevSSO.Enabled {
		opts.Provider, opts.Roles, err = buildDevSSO(deps.Auth)
		if err != nil {
			return nil, fmt.Errorf("build dev sso: %w", err)
		}
		logger.WarnContext(ctx, "dev single sign-on enabled", "email", deps.Auth.DevSSO.Email)
	}

	svc := service.NewAuthService(opts)

	if deps.Auth.SeedDemoUsers {
		if seedErr := devseed.Run(ctx, svc, logger); seedErr != nil {
			return nil, fmt.Errorf("seed demo accounts: %w", seedErr)
		}
	}
	return svc, nil
}

//nolint:ireturn // the store implementation is chosen by configuration.
func buildUserStore(deps AuthDeps) (ports.UserStore, error) {
	switch deps.Auth.UserStore {
	case config.UserStoreMemory:
		return memstore.NewUserStore(), nil
	case config.UserStorePostgres:
		if deps.DB == nil {
			return nil, errors.New("postgres user store requires a database connection")
		}
		return data.NewUserRepo(deps.DB), nil
	default:
		return nil, fmt.Errorf("unsupported user store %q", deps.Auth.UserStore)
	}
}

//nolint:ireturn // the store implementation is chosen by configuration.
func buildSessionStore(deps AuthDeps) (ports.SessionStore, error) {
	switch deps.Auth.SessionStore {
	case config.SessionStoreMemory:
		return memstore.NewSessionStore(), nil
	case config.SessionStoreRedis:
		if deps.Redis == nil {
			return nil, errors.New("redis session store requires a redis client")
		}
		return redisadapter.NewSessionStoreWithPrefix(deps.Redis, deps.SessionKeyPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported session store %q", deps.Auth.SessionStore)
	}
}

//nolint:ireturn // returns the ports the service consumes.
func buildSSO(ctx context.Context, cfg config.OIDCConfig) (ports.AuthProvider, ports.RoleMapper, error) {
	mapper := authroles.ParseGroupMap(cfg.GroupRoles)
	if len(mapper.Groups) == 0 {
		return nil, nil, fmt.Errorf("no usable group mapping in %q", cfg.GroupRoles)
	}
	prov, err := oidc.NewProvider(ctx, oidc.ProviderConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scope:        cfg.Scope,
		IssuerURL:    cfg.IssuerURL,
		GroupsClaim:  cfg.GroupsClaim,
	})
	if err != nil {
		return nil, nil, err
	}
	return prov, mapper, nil
}

func buildDevSSO(cfg config.AuthConfig) (ports.AuthProvider, ports.RoleMapper, error) {
	mapper := authroles.ParseGroupMap(cfg.OIDC.GroupRoles)
	if len(mapper.Groups) == 0 {
		return nil, nil, fmt.Errorf("no usable group mapping in %q", cfg.OIDC.GroupRoles)
	}
	prov, err := devauth.NewProvider(devauth.Config{
		Email:  cfg.DevSSO.Email,
		Name:   cfg.DevSSO.Name,
		Groups: cfg.DevSSO.Groups,
	})
	if err != nil {
		return nil, nil, err
	}
	return prov, mapper, nil
}
