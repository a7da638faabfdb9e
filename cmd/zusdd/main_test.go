package main

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"
)

func TestDialAddressForDefaultsHost(t *testing.T) {
	cases := map[string]string{
		":8645":         "127.0.0.1:8645",
		"0.0.0.0:9000":  "0.0.0.0:9000",
		"127.0.0.1:100": "127.0.0.1:100",
		"not-an-addr":   "not-an-addr",
	}
	for input, want := range cases {
		if got := dialAddressFor(input); got != want {
			t.Fatalf("dialAddressFor(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestWaitForRPCStartupSucceedsOnceListening(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate listener: %v", err)
	}
	defer listener.Close()

	errCh := make(chan error, 1)
	if err := waitForRPCStartup(listener.Addr().String(), errCh, 2*time.Second); err != nil {
		t.Fatalf("expected startup confirmation, got %v", err)
	}
}

func TestWaitForRPCStartupSurfacesServerError(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	boom := errors.New("listen refused")
	errCh := make(chan error, 1)
	errCh <- boom
	if err := waitForRPCStartup(addr, errCh, 2*time.Second); !errors.Is(err, boom) {
		t.Fatalf("expected server error to surface, got %v", err)
	}
}

func TestWaitForRPCStartupTimesOut(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	errCh := make(chan error, 1)
	err = waitForRPCStartup(addr, errCh, 300*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout message, got %v", err)
	}
}

func TestInitTelemetryDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if shutdown := initTelemetry(logger, "dev"); shutdown != nil {
		t.Fatal("expected telemetry to stay disabled without an endpoint")
	}
}
