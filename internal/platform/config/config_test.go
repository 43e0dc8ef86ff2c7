package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":   "lm-dev",
		"API_STORAGE_PHOTOS_BUCKET": "loopmarket-photos-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"server port", cfg.Server.Port, "8080"},
		{"read timeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"firestore project inherits firebase", cfg.Firestore.ProjectID, "lm-dev"},
		{"default rate limit", cfg.RateLimits.DefaultPerMinute, 120},
		{"webhook tolerance", cfg.PSP.WebhookTolerance, 5 * time.Minute},
		{"materials reload interval", cfg.Materials.ReloadInterval, 10 * time.Minute},
		{"points per kg", cfg.Rewards.PointsPerKg, int64(10)},
		{"vision timeout", cfg.Vision.Timeout, 10 * time.Second},
		{"security environment", cfg.Security.Environment, "local"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadResolvesOverridesAndSecretRefs(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":               "9191",
		"API_SERVER_READ_TIMEOUT":       "20s",
		"API_SERVER_WRITE_TIMEOUT":      "25s",
		"API_SERVER_IDLE_TIMEOUT":       "90s",
		"API_FIREBASE_PROJECT_ID":       "lm-prod",
		"API_FIRESTORE_PROJECT_ID":      "lm-prod-fs",
		"API_STORAGE_PHOTOS_BUCKET":     "loopmarket-photos",
		"API_PSP_STRIPE_API_KEY":        "secret://psp-stripe-key",
		"API_PSP_STRIPE_WEBHOOK_SECRET": "secret://psp-stripe-whsec",
		"API_PSP_WEBHOOK_TOLERANCE":     "3m",
		"API_VISION_ENDPOINT":           "https://vision.loopmarket.dev",
		"API_VISION_AUTH_TOKEN":         "secret://vision-token",
		"API_MATERIALS_TABLE_PATH":      "/srv/loopmarket/materials.json",
		"API_MATERIALS_RELOAD_INTERVAL": "45m",
		"API_REWARDS_POINTS_PER_KG":     "12",
		"API_EVENTS_ORDER_TOPIC":        "orders",
		"API_EVENTS_RECYCLING_TOPIC":    "recycling",
		"API_RATELIMIT_DEFAULT_PER_MIN": "200",
		"API_RATELIMIT_AUTH_PER_MIN":    "400",
		"API_RATELIMIT_WEBHOOK_BURST":   "60",
		"API_SECURITY_ENVIRONMENT":      "prod",
	}

	vault := map[string]string{
		"secret://psp-stripe-key":   "sk_live_abc",
		"secret://psp-stripe-whsec": "whsec_def",
		"secret://vision-token":     "vt_123",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		value, ok := vault[ref]
		if !ok {
			return "", errors.New("no such secret")
		}
		return value, nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "9191" {
		t.Errorf("server port: got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 90*time.Second {
		t.Errorf("idle timeout: got %s", cfg.Server.IdleTimeout)
	}
	if cfg.Firestore.ProjectID != "lm-prod-fs" {
		t.Errorf("firestore project: got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PSP.StripeAPIKey != "sk_live_abc" {
		t.Errorf("stripe api key not resolved: got %q", cfg.PSP.StripeAPIKey)
	}
	if cfg.PSP.StripeWebhookSecret != "whsec_def" {
		t.Errorf("stripe webhook secret not resolved: got %q", cfg.PSP.StripeWebhookSecret)
	}
	if cfg.PSP.WebhookTolerance != 3*time.Minute {
		t.Errorf("webhook tolerance: got %s", cfg.PSP.WebhookTolerance)
	}
	if cfg.Vision.AuthToken != "vt_123" {
		t.Errorf("vision token not resolved: got %q", cfg.Vision.AuthToken)
	}
	if cfg.Materials.TablePath != "/srv/loopmarket/materials.json" {
		t.Errorf("materials table path: got %s", cfg.Materials.TablePath)
	}
	if cfg.Materials.ReloadInterval != 45*time.Minute {
		t.Errorf("materials reload interval: got %s", cfg.Materials.ReloadInterval)
	}
	if cfg.Rewards.PointsPerKg != 12 {
		t.Errorf("points per kg: got %d", cfg.Rewards.PointsPerKg)
	}
	if cfg.Events.OrderTopic != "orders" {
		t.Errorf("order topic: got %s", cfg.Events.OrderTopic)
	}
	if cfg.RateLimits.WebhookBurst != 60 {
		t.Errorf("webhook burst: got %d", cfg.RateLimits.WebhookBurst)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("security environment: got %s", cfg.Security.Environment)
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env.test")
	body := "API_SERVER_PORT=7171\nAPI_FIREBASE_PROJECT_ID=lm-dotenv\nAPI_STORAGE_PHOTOS_BUCKET=photos-dotenv\n"
	if err := os.WriteFile(envPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "7171" {
		t.Errorf("server port from dotenv: got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "lm-dotenv" {
		t.Errorf("firebase project from dotenv: got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadSurfacesSecretResolutionFailure(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "lm-dev",
		"API_PSP_STRIPE_API_KEY":  "secret://does-not-exist",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("want secret resolution error")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("want *SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://does-not-exist" {
		t.Errorf("secret ref: got %s", secretErr.Ref)
	}
}

func TestLoadEnforcesRequiredSecrets(t *testing.T) {
	env := map[string]string{"API_FIREBASE_PROJECT_ID": "lm-dev"}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeWebhookSecret"))
	if err == nil {
		t.Fatal("want missing secrets error")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("want *MissingSecretsError, got %T", err)
	}
	if names := missing.Names(); len(names) != 2 {
		t.Fatalf("want 2 missing secrets, got %v", names)
	}
}

func TestEnvironmentValuesPrecedence(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env.test")
	body := "API_FIREBASE_PROJECT_ID=from-dotenv\nAPI_MATERIALS_TABLE_PATH=/dotenv/materials.json\n"
	if err := os.WriteFile(envPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "from-os")
	t.Setenv("API_EVENTS_ORDER_TOPIC", "topic-from-os")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"API_FIREBASE_PROJECT_ID": "from-map",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}

	// Explicit map beats OS env, OS env beats dotenv.
	if got := values["API_FIREBASE_PROJECT_ID"]; got != "from-map" {
		t.Fatalf("project id: got %s", got)
	}
	if got := values["API_MATERIALS_TABLE_PATH"]; got != "/dotenv/materials.json" {
		t.Fatalf("materials path: got %s", got)
	}
	if got := values["API_EVENTS_ORDER_TOPIC"]; got != "topic-from-os" {
		t.Fatalf("order topic: got %s", got)
	}
}
