package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/feeder-core/internal/auth"
	"github.com/nerrad567/feeder-core/internal/infrastructure/mqtt"
)

const testSecret = "test-secret-for-development-only-0123456789"

// writeConfig writes a config file to a temp dir and returns its path.
// dbPath and brokerPort are substituted into the template.
func writeConfig(t *testing.T, dbPath string, brokerPort string) string {
	t.Helper()
	content := `
site:
  id: test-site

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: ` + brokerPort + `
    client_id: "feederd-test"
  qos: 1
  reconnect:
    initial_delay: 1
    max_delay: 5

engine:
  liveness_interval: 1
  liveness_threshold: 5

api:
  enabled: false

influxdb:
  enabled: false

logging:
  level: warn
  format: text
  output: stdout

security:
  jwt:
    secret: "` + testSecret + `"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

// =============================================================================
// Flags
// =============================================================================

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv(configEnvVar, "")

	if got := getConfigPath(""); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	t.Setenv(configEnvVar, "/custom/path/config.yaml")

	if got := getConfigPath(""); got != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env value", got)
	}
}

func TestGetConfigPath_FlagWins(t *testing.T) {
	t.Setenv(configEnvVar, "/custom/path/config.yaml")

	if got := getConfigPath("/flag/config.yaml"); got != "/flag/config.yaml" {
		t.Errorf("getConfigPath() = %q, want flag value", got)
	}
}

func TestParseFlags(t *testing.T) {
	t.Setenv(configEnvVar, "")

	tests := []struct {
		name       string
		args       []string
		wantConfig string
		wantErr    bool
	}{
		{"no flags", nil, defaultConfigPath, false},
		{"config flag", []string{"--config", "/etc/feeder.yaml"}, "/etc/feeder.yaml", false},
		{"config equals", []string{"--config=/etc/feeder.yaml"}, "/etc/feeder.yaml", false},
		{"unknown flag", []string{"--bogus"}, "", true},
		{"positional argument", []string{"extra"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseFlags(tt.args, &bytes.Buffer{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && opts.configPath != tt.wantConfig {
				t.Errorf("configPath = %q, want %q", opts.configPath, tt.wantConfig)
			}
		})
	}
}

func TestParseFlags_Help(t *testing.T) {
	var out bytes.Buffer
	_, err := parseFlags([]string{"--help"}, &out)
	if !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("parseFlags(--help) error = %v, want ErrHelp", err)
	}
	if !strings.Contains(out.String(), "--config") {
		t.Errorf("help output missing --config:\n%s", out.String())
	}
}

func TestParseFlags_VersionAndToken(t *testing.T) {
	opts, err := parseFlags([]string{"--version", "--issue-token", "dev", "--subject", "alice"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if !opts.version || opts.issueRole != "dev" || opts.subject != "alice" {
		t.Errorf("opts = %+v", opts)
	}
}

// =============================================================================
// Token issuing
// =============================================================================

func TestIssueToken(t *testing.T) {
	t.Setenv("FEEDER_JWT_SECRET", "")
	path := writeConfig(t, filepath.Join(t.TempDir(), "feeder.db"), "1883")

	var out bytes.Buffer
	err := issueToken(&out, options{configPath: path, issueRole: "dev", subject: "alice"})
	if err != nil {
		t.Fatalf("issueToken() error = %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(out.String()), testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("subject = %q, want alice", claims.Subject)
	}
	if claims.Role != auth.RoleDeveloper {
		t.Errorf("role = %q, want %q", claims.Role, auth.RoleDeveloper)
	}
}

func TestIssueToken_UnknownRole(t *testing.T) {
	err := issueToken(&bytes.Buffer{}, options{configPath: "/nonexistent.yaml", issueRole: "janitor"})
	if !errors.Is(err, auth.ErrUnknownRole) {
		t.Errorf("issueToken() error = %v, want ErrUnknownRole", err)
	}
}

// =============================================================================
// Startup
// =============================================================================

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_MissingDatabasePath(t *testing.T) {
	t.Setenv("FEEDER_DATABASE_PATH", "")
	path := writeConfig(t, "", "1883")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, path)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("run() error = %v, want database.path validation", err)
	}
}

func TestRun_BrokerUnreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the MQTT connect timeout")
	}
	path := writeConfig(t, filepath.Join(t.TempDir(), "feeder.db"), "19999")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := run(ctx, path)
	if !errors.Is(err, mqtt.ErrConnectionFailed) {
		t.Errorf("run() error = %v, want ErrConnectionFailed", err)
	}
}

// Requires an MQTT broker at 127.0.0.1:1883.
func TestRun_StartupAndShutdown(t *testing.T) {
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 200*time.Millisecond)
	if err != nil {
		t.Skip("MQTT broker not available at 127.0.0.1:1883")
	}
	conn.Close()

	path := writeConfig(t, filepath.Join(t.TempDir(), "feeder.db"), "1883")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx, path); err != nil {
		t.Errorf("run() error = %v, want clean shutdown", err)
	}
}
