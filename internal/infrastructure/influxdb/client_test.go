package influxdb_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/device"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/config"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/influxdb"
)

func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "fleetlink-dev-token",
		Org:           "fleetlink",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// skipIfNoInfluxDB skips the test unless a local InfluxDB answers.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") != "" {
		return
	}
	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Skip("InfluxDB not available, skipping integration test")
	}
	client.Close()
}

func ptr(v float64) *float64 { return &v }

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestNilClient(t *testing.T) {
	var client *influxdb.Client

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true on nil client")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	// Dropped silently.
	client.WriteHardware("AA:BB:CC:DD:EE:01", &device.Hardware{CPU: &device.CPU{Usage: ptr(5)}}, time.Now())
}

func TestHardwareFields(t *testing.T) {
	tests := []struct {
		name string
		hw   *device.Hardware
		want map[string]any
	}{
		{name: "nil", hw: nil, want: map[string]any{}},
		{name: "empty", hw: &device.Hardware{}, want: map[string]any{}},
		{
			name: "static facts only",
			hw: &device.Hardware{
				CPU:         &device.CPU{Model: "Ryzen 7", Cores: 8, Speed: 3.8},
				Motherboard: &device.Motherboard{Manufacturer: "ASUS"},
			},
			want: map[string]any{},
		},
		{
			name: "full",
			hw: &device.Hardware{
				CPU:     &device.CPU{Model: "Ryzen 7", Usage: ptr(12.5)},
				Memory:  &device.Capacity{Total: 32, Used: 8, Usage: ptr(25)},
				Storage: &device.Capacity{Total: 1000, Used: 400},
				GPU:     &device.GPU{Model: "RTX", Usage: ptr(3)},
				OS:      &device.OS{Name: "linux", Uptime: ptr(3600)},
			},
			want: map[string]any{
				"cpu_usage":    12.5,
				"memory_used":  8.0,
				"memory_usage": 25.0,
				"storage_used": 400.0,
				"gpu_usage":    3.0,
				"os_uptime":    3600.0,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := influxdb.HardwareFields(tt.hw)
			if len(got) != len(tt.want) {
				t.Fatalf("HardwareFields() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("field %s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	skipIfNoInfluxDB(t)
	cfg := testConfig()
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestHealthCheck(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	if err := client.HealthCheck(cancelled); err == nil {
		t.Error("HealthCheck() should fail for a cancelled context")
	}
}

func TestWriteHardware(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var writeErr error
	var mu sync.Mutex
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	client.WriteHardware("AA:BB:CC:DD:EE:01", &device.Hardware{
		CPU:    &device.CPU{Usage: ptr(42)},
		Memory: &device.Capacity{Total: 16, Used: 4},
	}, time.Now())
	client.Flush()
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("write error = %v", writeErr)
	}
}

func TestClose(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	client.Flush()
}
