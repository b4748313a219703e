// Command armisd serves the ARMIS authentication API.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	auth "github.com/Marriott12/armis-sub005"
	"github.com/Marriott12/armis-sub005/httpapi"
	"github.com/Marriott12/armis-sub005/store/postgres"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("armisd: %v", err)
	}
}

func run() error {
	// Optional; production sets real environment variables.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.Open(ctx, envStr("DATABASE_URL", "postgres://localhost:5432/armis?sslmode=disable"))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     envStr("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}

	engine, err := auth.New(configFromEnv(), auth.Dependencies{
		Credentials: store.Accounts(),
		MFA:         store.MFA(),
		Tokens:      store.Tokens(),
		Events:      store.Events(),
		Redis:       redisClient,
		AuditSink:   auth.NewJSONWriterSink(os.Stdout),
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	server := &http.Server{
		Addr:              envStr("LISTEN_ADDR", ":8080"),
		Handler:           httpapi.New(engine).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("armisd: listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func configFromEnv() auth.Config {
	var cfg auth.Config

	cfg.JWT.SigningMethod = envStr("JWT_SIGNING_METHOD", "ed25519")
	cfg.JWT.Issuer = envStr("JWT_ISSUER", "armis")
	cfg.JWT.KeyID = os.Getenv("JWT_KEY_ID")
	cfg.JWT.AccessTTL = envDuration("JWT_ACCESS_TTL", 0)
	cfg.JWT.RefreshTTL = envDuration("JWT_REFRESH_TTL", 0)

	cfg.JWT.PrivateKey = envKey("JWT_PRIVATE_KEY")
	cfg.JWT.PublicKey = envKey("JWT_PUBLIC_KEY")

	cfg.TOTP.Issuer = envStr("TOTP_ISSUER", "ARMIS")
	cfg.TOTP.QRSize = envInt("TOTP_QR_SIZE", 256)

	cfg.Password.UpgradeOnLogin = envStr("PASSWORD_UPGRADE_ON_LOGIN", "true") == "true"

	cfg.RateLimit.MaxLoginFailures = envInt("RATE_MAX_LOGIN_FAILURES", 0)
	cfg.RateLimit.LoginWindow = envDuration("RATE_LOGIN_WINDOW", 0)
	cfg.RateLimit.EnableIPThrottle = envStr("RATE_IP_THROTTLE", "true") == "true"

	cfg.Audit.Enabled = envStr("AUDIT_ENABLED", "true") == "true"
	cfg.Audit.DropIfFull = true

	return cfg
}

// envKey reads key material that may be raw base64 or a PEM block.
func envKey(name string) []byte {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return decoded
	}
	return []byte(raw)
}

func envStr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}
