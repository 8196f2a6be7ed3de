package main

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestHealthChecker(t *testing.T) {
	hc := NewHealthChecker("test")
	var storeErr, natsErr error
	hc.Register("store", func(context.Context) error { return storeErr })
	hc.RegisterOptional("nats", func(context.Context) error { return natsErr })

	h := hc.CheckHealth(context.Background())
	if h.OverallStatus != Healthy || h.HTTPStatus() != http.StatusOK {
		t.Fatalf("overall = %s, want healthy", h.OverallStatus)
	}
	if len(h.Components) != 2 || h.Components[0].Name != "nats" {
		t.Fatalf("components should be sorted by name: %+v", h.Components)
	}

	natsErr = errors.New("disconnected")
	h = hc.CheckHealth(context.Background())
	if h.OverallStatus != Degraded || h.HTTPStatus() != http.StatusOK {
		t.Fatalf("optional failure: overall = %s, want degraded", h.OverallStatus)
	}
	if h.Components[0].Message != "disconnected" {
		t.Fatalf("message = %q", h.Components[0].Message)
	}

	storeErr = errors.New("closed")
	h = hc.CheckHealth(context.Background())
	if h.OverallStatus != Unhealthy || h.HTTPStatus() != http.StatusServiceUnavailable {
		t.Fatalf("required failure: overall = %s, want unhealthy", h.OverallStatus)
	}

	// GetHealth reports the last check without running another.
	storeErr, natsErr = nil, nil
	if got := hc.GetHealth().OverallStatus; got != Unhealthy {
		t.Fatalf("GetHealth = %s, want the cached unhealthy", got)
	}
}
