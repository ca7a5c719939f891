package main

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/minios-linux/gametl/config"
	"github.com/minios-linux/gametl/langmeta"
	"github.com/minios-linux/gametl/lockfile"
	"github.com/minios-linux/gametl/memory"
	"github.com/minios-linux/gametl/report"
	"github.com/minios-linux/gametl/translate"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "file.txt")
	writeFile(t, filePath, "ok")

	if !fileExists(filePath) {
		t.Fatalf("fileExists(file) = false, want true")
	}
	if fileExists(filepath.Join(dir, "missing.txt")) {
		t.Fatalf("fileExists(missing) = true, want false")
	}
}

// ---------------------------------------------------------------------------
// Engines and file discovery
// ---------------------------------------------------------------------------

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "data", "Map001.json"), "{}")
	writeFile(t, filepath.Join(dir, "data", "Actors.json"), "[]")
	writeFile(t, filepath.Join(dir, "data", "MapInfos.json"), "[]")
	writeFile(t, filepath.Join(dir, "readme.txt"), "hi")

	cfg := config.Default()
	eng, err := engineFor(cfg)
	if err != nil {
		t.Fatalf("engineFor() error: %v", err)
	}
	got, err := collectFiles(dir, eng.supported)
	if err != nil {
		t.Fatalf("collectFiles() error: %v", err)
	}
	want := []string{"data/Actors.json", "data/Map001.json"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("collectFiles() = %v, want %v", got, want)
	}

	if _, err := collectFiles(filepath.Join(dir, "missing"), eng.supported); err == nil {
		t.Fatalf("collectFiles(missing) should fail")
	}
}

func TestEngineFor(t *testing.T) {
	for _, name := range []string{config.EngineMV, config.EngineACE, config.EngineKS} {
		cfg := config.Default()
		cfg.Engine = name
		eng, err := engineFor(cfg)
		if err != nil {
			t.Fatalf("engineFor(%s) error: %v", name, err)
		}
		if eng.parse == nil || eng.supported == nil {
			t.Fatalf("engineFor(%s) returned an incomplete engine", name)
		}
	}

	cfg := config.Default()
	cfg.Engine = "renpy"
	if _, err := engineFor(cfg); err == nil {
		t.Fatalf("engineFor(renpy) should fail")
	}

	cfg.Engine = config.EngineKS
	eng, _ := engineFor(cfg)
	if !eng.supported("scenario/first.KS") || eng.supported("first.json") {
		t.Fatalf("ks engine accepts the wrong files")
	}
}

// ---------------------------------------------------------------------------
// Flags and providers
// ---------------------------------------------------------------------------

func TestRunArgsApply(t *testing.T) {
	cfg := config.Default()
	cfg.Memory = ".gametl-memory.db"

	a := runArgs{
		engine:      config.EngineKS,
		model:       "gpt-4o",
		language:    "ja",
		fileThreads: 4,
		timeout:     30 * time.Second,
		noMem:       true,
	}
	a.apply(cfg)

	if cfg.Engine != config.EngineKS || cfg.Model != "gpt-4o" || cfg.Language != "ja" {
		t.Fatalf("string flags not applied: %+v", cfg)
	}
	if cfg.FileThreads != 4 || cfg.PageThreads != 1 {
		t.Fatalf("threads = %d/%d, want 4/1", cfg.FileThreads, cfg.PageThreads)
	}
	if cfg.Timeout != 30*time.Second {
		t.Fatalf("timeout = %v", cfg.Timeout)
	}
	if cfg.Memory != "" {
		t.Fatalf("--no-memory should clear memory, got %q", cfg.Memory)
	}
	if cfg.Provider != config.DefaultProvider || cfg.Width != config.DefaultWidth {
		t.Fatalf("unset flags must keep config values: %+v", cfg)
	}
}

func TestNewLogger(t *testing.T) {
	if got := newLogger("error", false).GetLevel(); got != logrus.ErrorLevel {
		t.Fatalf("level = %v, want error", got)
	}
	if got := newLogger("warn", true).GetLevel(); got != logrus.DebugLevel {
		t.Fatalf("verbose level = %v, want debug", got)
	}
	if got := newLogger("nonsense", false).GetLevel(); got != logrus.WarnLevel {
		t.Fatalf("fallback level = %v, want warn", got)
	}
}

func TestResolveProvider(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	prov := resolveProvider("OpenAI", "", "sk-test", "gpt-4o", "http://proxy:3128", 10*time.Second)
	if prov.ID != translate.ProviderOpenAI || prov.APIKey != "sk-test" || prov.Model != "gpt-4o" {
		t.Fatalf("unexpected provider: %+v", prov)
	}
	if prov.Proxy != "http://proxy:3128" || prov.Timeout != 10*time.Second {
		t.Fatalf("overrides not applied: %+v", prov)
	}

	custom := resolveProvider("http://localhost:8080/v1", "", "", "local", "", 0)
	if custom.ID != translate.ProviderCustomOpenAI || custom.BaseURL != "http://localhost:8080/v1" {
		t.Fatalf("unknown names should become custom endpoints: %+v", custom)
	}
}

func TestValidateProvider(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cases := []struct {
		name    string
		prov    translate.Provider
		wantErr bool
	}{
		{"missing model", resolveProvider("openai", "", "key", "", "", 0), true},
		{"missing key", resolveProvider("anthropic", "", "", "claude-3-5-haiku-latest", "", 0), true},
		{"custom without url", translate.Provider{ID: translate.ProviderCustomOpenAI, Model: "m"}, true},
		{"ollama needs no key", resolveProvider("ollama", "", "", "qwen2.5", "", 0), false},
		{"openai with key", resolveProvider("openai", "", "key", "gpt-4o-mini", "", 0), false},
	}
	for _, tc := range cases {
		err := validateProvider(tc.prov)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: validateProvider() error = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestPickProvider(t *testing.T) {
	if id, ok := pickProvider("1"); !ok || id != translate.ProviderOpenAI {
		t.Fatalf("pickProvider(1) = %q, %v", id, ok)
	}
	if id, ok := pickProvider(" groq "); !ok || id != translate.ProviderGroq {
		t.Fatalf("pickProvider(groq) = %q, %v", id, ok)
	}
	if _, ok := pickProvider("99"); ok {
		t.Fatalf("pickProvider(99) should fail")
	}
	if _, ok := pickProvider("copilot"); ok {
		t.Fatalf("pickProvider(copilot) should fail")
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func withRoot(t *testing.T, dir string) {
	t.Helper()
	old := rootDir
	rootDir = dir
	t.Cleanup(func() { rootDir = old })
}

func TestInitWritesProjectFile(t *testing.T) {
	dir := t.TempDir()
	withRoot(t, dir)

	cmd := newInitCmd()
	cmd.SetArgs([]string{"--engine", "ks"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("init error: %v", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("config.Load() error: %v", err)
	}
	if cfg.Engine != config.EngineKS {
		t.Fatalf("engine = %q, want ks", cfg.Engine)
	}

	cmd = newInitCmd()
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("second init without --force should fail")
	}
}

func TestEstimateDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	withRoot(t, dir)
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	writeFile(t, filepath.Join(dir, config.FileName), "engine: ks\nencoding: utf-8\n")
	writeFile(t, filepath.Join(dir, "files", "first.ks"),
		"*start\n[ns]ワタル[nse]\nこんにちは[p]\n")

	a := runArgs{noProgress: true, summary: filepath.Join(dir, "run.yaml")}
	a.memoryPath = filepath.Join(dir, "mem.db")
	if err := runTranslate(t.Context(), a, true); err != nil {
		t.Fatalf("runTranslate(estimate) error: %v", err)
	}

	if fileExists(filepath.Join(dir, "translated", "first.ks")) {
		t.Fatalf("estimate must not write output files")
	}
	if fileExists(filepath.Join(dir, "mem.db")) {
		t.Fatalf("estimate must not open the translation memory")
	}
	data, err := os.ReadFile(filepath.Join(dir, "run.yaml"))
	if err != nil {
		t.Fatalf("summary not written: %v", err)
	}
	if !bytes.Contains(data, []byte("estimate: true")) {
		t.Fatalf("summary should record estimate mode:\n%s", data)
	}
}

func TestCleanDropsRemovedFiles(t *testing.T) {
	dir := t.TempDir()
	withRoot(t, dir)

	writeFile(t, filepath.Join(dir, config.FileName), "engine: ks\nencoding: utf-8\nmemory: mem.db\n")
	writeFile(t, filepath.Join(dir, "files", "first.ks"), "*start\nこんにちは[p]\n")

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("config.Load() error: %v", err)
	}
	lang := langmeta.Name(cfg.Language)
	lock, err := lockfile.Load(cfg.OutputPath(dir))
	if err != nil {
		t.Fatalf("lockfile.Load() error: %v", err)
	}
	lock.Update(lang, "first.ks", "a")
	lock.Update(lang, "gone.ks", "b")
	lock.Update("German", "gone.ks", "c")
	if err := lock.Save(); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	store, err := memory.Open(filepath.Join(dir, "mem.db"))
	if err != nil {
		t.Fatalf("memory.Open() error: %v", err)
	}
	if err := store.Put(t.Context(), "k", "v"); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	store.Close()

	if err := runClean(t.Context(), cleanArgs{memoryAge: time.Hour}); err != nil {
		t.Fatalf("runClean() error: %v", err)
	}
	lock, err = lockfile.Load(cfg.OutputPath(dir))
	if err != nil {
		t.Fatalf("lockfile.Load() error: %v", err)
	}
	if lock.IsChanged(lang, "first.ks", "a") {
		t.Fatalf("entry of an existing file was dropped")
	}
	if !lock.IsChanged(lang, "gone.ks", "b") {
		t.Fatalf("entry of a removed file was kept")
	}
	if lock.IsChanged("German", "gone.ks", "c") {
		t.Fatalf("other languages must not be touched")
	}

	store, err = memory.Open(filepath.Join(dir, "mem.db"))
	if err != nil {
		t.Fatalf("memory.Open() error: %v", err)
	}
	entries, _, err := store.Stats(t.Context())
	store.Close()
	if err != nil || entries != 1 {
		t.Fatalf("recent memory entries = %d (%v), want 1", entries, err)
	}

	if err := runClean(t.Context(), cleanArgs{reset: true}); err != nil {
		t.Fatalf("runClean(reset) error: %v", err)
	}
	lock, err = lockfile.Load(cfg.OutputPath(dir))
	if err != nil {
		t.Fatalf("lockfile.Load() error: %v", err)
	}
	if got := lock.Languages(); !reflect.DeepEqual(got, []string{"German"}) {
		t.Fatalf("languages after reset = %v, want [German]", got)
	}
}

func TestResultPrinterQuiet(t *testing.T) {
	p := newResultPrinter(2, true, report.Pricing{})
	p.file(report.FileResult{File: "a.ks", Unchanged: true})
	p.finish()
	if p.bar != nil {
		t.Fatalf("quiet printer should have no progress bar")
	}
}
