package mcpext

import (
	"context"
	"testing"
)

func TestNew_ValidatesConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "stdio ok", cfg: Config{Name: "fetch", Command: "fetch-server"}},
		{name: "missing name", cfg: Config{Command: "fetch-server"}, wantErr: true},
		{name: "stdio missing command", cfg: Config{Name: "fetch", Transport: TransportStdio}, wantErr: true},
		{name: "sse ok", cfg: Config{Name: "remote", Transport: TransportSSE, URL: "https://example.com/sse"}},
		{name: "sse missing url", cfg: Config{Name: "remote", Transport: TransportSSE}, wantErr: true},
		{name: "unknown transport", cfg: Config{Name: "x", Transport: "carrier-pigeon"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg)
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestOnCapabilitiesChanged(t *testing.T) {
	p, err := New(Config{Name: "fetch", Command: "fetch-server"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// Server notifications arriving before a listener is hooked up are dropped.
	p.notifyCapabilitiesChanged(context.Background())

	fired := 0
	p.OnCapabilitiesChanged(func(ctx context.Context) { fired++ })
	p.notifyCapabilitiesChanged(context.Background())
	p.notifyCapabilitiesChanged(context.Background())
	if fired != 2 {
		t.Fatalf("listener fired %d times, expected 2", fired)
	}
}

func TestNew_DefaultsToStdio(t *testing.T) {
	p, err := New(Config{Name: "fetch", Command: "fetch-server"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if p.cfg.Transport != TransportStdio {
		t.Fatalf("expected stdio default, got %q", p.cfg.Transport)
	}
}
