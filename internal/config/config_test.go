package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envKeys {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
	t.Setenv("DISCUSHY_CONFIG", "")
	os.Unsetenv("DISCUSHY_CONFIG")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Domain != DefaultDomain {
		t.Errorf("Expected domain %s, got %s", DefaultDomain, cfg.Domain)
	}
	if cfg.WebSocketURL != "wss://"+DefaultDomain+"/ws" {
		t.Errorf("Unexpected websocket url %s", cfg.WebSocketURL)
	}
	if cfg.SpeakingHold != DefaultSpeakingHold {
		t.Errorf("Expected hold %v, got %v", DefaultSpeakingHold, cfg.SpeakingHold)
	}
	if cfg.SpeakingThreshold != DefaultSpeakingThreshold {
		t.Errorf("Expected threshold %v, got %v", DefaultSpeakingThreshold, cfg.SpeakingThreshold)
	}
	if cfg.UserRole != "member" || cfg.Codec != "json" {
		t.Errorf("Unexpected role/codec %s/%s", cfg.UserRole, cfg.Codec)
	}
}

func TestLoadPrecedence(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	file := filepath.Join(dir, "discushy.yaml")
	content := "domain: file.example.com\nstun_server: stun:file:3478\nspeaking_hold: 750ms\nuser_name: Filed\n"
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("STUN_SERVER", "stun:env:3478")

	cfg, err := Load(Options{ConfigFile: file, UserName: "Flagged"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Domain != "file.example.com" {
		t.Errorf("Expected file domain, got %s", cfg.Domain)
	}
	if cfg.STUNServer != "stun:env:3478" {
		t.Errorf("Expected env to beat file, got %s", cfg.STUNServer)
	}
	if cfg.UserName != "Flagged" {
		t.Errorf("Expected flag to beat file, got %s", cfg.UserName)
	}
	if cfg.SpeakingHold != 750*time.Millisecond {
		t.Errorf("Expected 750ms hold, got %v", cfg.SpeakingHold)
	}
}

func TestLoadRejectsUnknownCodec(t *testing.T) {
	clearEnv(t)

	if _, err := Load(Options{Codec: "xml"}); err == nil {
		t.Fatal("Expected error for unknown codec")
	}
	if _, err := Load(Options{UserRole: "admin"}); err == nil {
		t.Fatal("Expected error for unknown role")
	}
}

func TestTURNServers(t *testing.T) {
	cfg := &Config{TURNServer: "turn:relay.example.com"}
	urls := cfg.GetTURNServers()
	if len(urls) != 3 {
		t.Fatalf("Expected 3 TURN urls, got %d", len(urls))
	}
	if urls[2] != "turns:relay.example.com:5349?transport=tcp" {
		t.Errorf("Unexpected turns url %s", urls[2])
	}

	cfg.TURNServer = ""
	if cfg.GetTURNServers() != nil {
		t.Error("Expected no TURN servers")
	}
	if cfg.UseRelay() {
		t.Error("Relay cannot be forced without TURN")
	}
}

func TestVirtualInterfaceHeuristic(t *testing.T) {
	for _, name := range []string{"wg0", "tun1", "CloudflareWARP"} {
		if !isVirtualInterface(name) {
			t.Errorf("%s should be virtual", name)
		}
	}
	if isVirtualInterface("eth0") {
		t.Error("eth0 should not be virtual")
	}
}
