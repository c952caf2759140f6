package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDecode(t *testing.T) {
	src := `
server:
  addr: ":9090"
store:
  driver: mysql
  dsn: "weave:secret@tcp(localhost:3306)/weave?parseTime=true"
llm:
  attempt_timeout: 90s
media:
  processor: remote
  url: http://media:8000
strict_kinds: true
`
	cfg := Default()
	if err := Decode(strings.NewReader(src), &cfg); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Default()
	want.Server.Addr = ":9090"
	want.Store = StoreConfig{Driver: DriverMySQL, DSN: "weave:secret@tcp(localhost:3306)/weave?parseTime=true"}
	want.LLM.AttemptTimeout = 90 * time.Second
	want.Media.Processor = MediaRemote
	want.Media.URL = "http://media:8000"
	want.StrictKinds = true
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	cfg := Default()
	err := Decode(strings.NewReader("server:\n  adress: \":1\"\n"), &cfg)
	if err == nil || !strings.Contains(err.Error(), "adress") {
		t.Errorf("err = %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"DATABASE_URL":          "postgres://weave@db/weave",
		"GOOGLE_GEMINI_API_KEY": "g-key",
		"OPENAI_API_KEY":        "o-key",
		"WEAVE_MEDIA_URL":       "http://media:8000",
		"WEAVE_ATTEMPT_TIMEOUT": "15s",
		"WEAVE_STRICT_KINDS":    "true",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Driver != DriverPostgres || cfg.Store.DSN != "postgres://weave@db/weave" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.LLM.GoogleAPIKey != "g-key" || cfg.LLM.OpenAIAPIKey != "o-key" || !cfg.HasLLM() {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Media.Processor != MediaRemote || cfg.LLM.AttemptTimeout != 15*time.Second || !cfg.StrictKinds {
		t.Errorf("cfg = %+v", cfg)
	}

	explicit := Default()
	_ = explicit.ApplyEnv(env(map[string]string{
		"DATABASE_URL":       "postgres://weave@db/weave",
		"WEAVE_STORE_DRIVER": "memory",
	}))
	if explicit.Store.Driver != DriverMemory {
		t.Errorf("WEAVE_STORE_DRIVER did not win: %s", explicit.Store.Driver)
	}

	for _, bad := range []map[string]string{
		{"WEAVE_ATTEMPT_TIMEOUT": "soon"},
		{"WEAVE_STRICT_KINDS": "maybe"},
	} {
		c := Default()
		if err := c.ApplyEnv(env(bad)); err == nil {
			t.Errorf("ApplyEnv(%v) accepted", bad)
		}
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Addr = ""
	cfg.Store = StoreConfig{Driver: "oracle"}
	cfg.Media = MediaConfig{Processor: MediaRemote}
	cfg.LLM.MaxAttempts = 0
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, want := range []string{"server.addr", "store.driver", "media.url", "llm.max_attempts", "log.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weave.yaml")
	if err := os.WriteFile(path, []byte("store:\n  driver: memory\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DATABASE_URL", "")
	t.Setenv("WEAVE_STORE_DRIVER", "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Errorf("driver = %s", cfg.Store.Driver)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
