package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoad(t *testing.T) {
	// Reset viper state before each test
	defer viper.Reset()

	tests := []struct {
		name    string
		setup   func()
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default configuration",
			setup: func() {
				viper.Reset()
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				if cfg.APIPort != 8080 {
					t.Errorf("APIPort = %d, want 8080", cfg.APIPort)
				}
				if cfg.ProbePort != 8081 {
					t.Errorf("ProbePort = %d, want 8081", cfg.ProbePort)
				}
				if cfg.MetricsPort != 9090 {
					t.Errorf("MetricsPort = %d, want 9090", cfg.MetricsPort)
				}
				if cfg.LogLevel != "info" {
					t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
				}
				if cfg.LogFormat != "json" {
					t.Errorf("LogFormat = %s, want json", cfg.LogFormat)
				}
				if cfg.ShutdownTimeout != 30*time.Second {
					t.Errorf("ShutdownTimeout = %s, want 30s", cfg.ShutdownTimeout)
				}
				if cfg.LeaseTTL != 5*time.Minute {
					t.Errorf("LeaseTTL = %s, want 5m", cfg.LeaseTTL)
				}
				if cfg.SweepInterval != time.Minute {
					t.Errorf("SweepInterval = %s, want 1m", cfg.SweepInterval)
				}
				if cfg.StoreBackend != "olric" {
					t.Errorf("StoreBackend = %s, want olric", cfg.StoreBackend)
				}
				if cfg.HistoryBackend != "mongo" {
					t.Errorf("HistoryBackend = %s, want mongo", cfg.HistoryBackend)
				}
				if cfg.HistoryRetentionDays != 90 {
					t.Errorf("HistoryRetentionDays = %d, want 90", cfg.HistoryRetentionDays)
				}
				if cfg.NATSURL != "" {
					t.Errorf("NATSURL = %s, want empty (in-process bus)", cfg.NATSURL)
				}
			},
		},
		{
			name: "custom configuration via viper",
			setup: func() {
				viper.Reset()
				viper.Set("api.port", 9000)
				viper.Set("log.level", "debug")
				viper.Set("log.format", "console")
				viper.Set("lock.lease_ttl", "90s")
				viper.Set("lock.sweep_interval", "15s")
				viper.Set("store.backend", "memory")
				viper.Set("history.backend", "memory")
				viper.Set("history.retention_days", 30)
				viper.Set("bus.nats_url", "nats://127.0.0.1:4222")
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				if cfg.APIPort != 9000 {
					t.Errorf("APIPort = %d, want 9000", cfg.APIPort)
				}
				if cfg.LeaseTTL != 90*time.Second {
					t.Errorf("LeaseTTL = %s, want 90s", cfg.LeaseTTL)
				}
				if cfg.SweepInterval != 15*time.Second {
					t.Errorf("SweepInterval = %s, want 15s", cfg.SweepInterval)
				}
				if cfg.StoreBackend != "memory" {
					t.Errorf("StoreBackend = %s, want memory", cfg.StoreBackend)
				}
				if cfg.HistoryBackend != "memory" {
					t.Errorf("HistoryBackend = %s, want memory", cfg.HistoryBackend)
				}
				if cfg.HistoryRetentionDays != 30 {
					t.Errorf("HistoryRetentionDays = %d, want 30", cfg.HistoryRetentionDays)
				}
				if cfg.NATSURL != "nats://127.0.0.1:4222" {
					t.Errorf("NATSURL = %s, want nats://127.0.0.1:4222", cfg.NATSURL)
				}
			},
		},
		{
			name: "cluster join addresses",
			setup: func() {
				viper.Reset()
				viper.Set("store.join", "10.0.0.1:3320, 10.0.0.2:3320")
				viper.Set("store.replication_factor", 2)
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				if len(cfg.Olric.JoinAddrs) != 2 {
					t.Fatalf("JoinAddrs = %v, want 2 entries", cfg.Olric.JoinAddrs)
				}
				if cfg.Olric.JoinAddrs[1] != "10.0.0.2:3320" {
					t.Errorf("JoinAddrs[1] = %s, want 10.0.0.2:3320", cfg.Olric.JoinAddrs[1])
				}
				if cfg.Olric.MemberCountQuorum != 3 {
					t.Errorf("MemberCountQuorum = %d, want 3", cfg.Olric.MemberCountQuorum)
				}
			},
		},
		{
			name: "invalid api port",
			setup: func() {
				viper.Reset()
				viper.Set("api.port", 0)
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			setup: func() {
				viper.Reset()
				viper.Set("log.level", "verbose")
			},
			wantErr: true,
		},
		{
			name: "invalid lease ttl",
			setup: func() {
				viper.Reset()
				viper.Set("lock.lease_ttl", "not-a-duration")
			},
			wantErr: true,
		},
		{
			name: "negative sweep interval",
			setup: func() {
				viper.Reset()
				viper.Set("lock.sweep_interval", "-10s")
			},
			wantErr: true,
		},
		{
			name: "unknown store backend",
			setup: func() {
				viper.Reset()
				viper.Set("store.backend", "etcd")
			},
			wantErr: true,
		},
		{
			name: "mongo backend without uri",
			setup: func() {
				viper.Reset()
				viper.Set("history.mongo_uri", "")
			},
			wantErr: true,
		},
		{
			name: "zero retention",
			setup: func() {
				viper.Reset()
				viper.Set("history.retention_days", 0)
			},
			wantErr: true,
		},
		{
			name: "tls without certificate",
			setup: func() {
				viper.Reset()
				viper.Set("tls.enabled", true)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}
