package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/evfleet/ocppsim/internal/config"
)

func writeTemplate(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestFleetStartStopLifecycle(t *testing.T) {
	dir := t.TempDir()
	tplPath := writeTemplate(t, dir, "cs.yaml", `
baseName: "CS"
model: "Terra 54"
vendor: "ABB"
connectors:
  "1": {}
`)

	cfg := &config.Config{
		SupervisionURLs: []string{"ws://127.0.0.1:1/steve"},
		StationTemplateURLs: []config.TemplateURL{
			{File: tplPath, NumberOfStations: 2},
		},
	}

	f := New(cfg, nil, nil)
	if f.State() != StateStopped {
		t.Fatalf("State() = %v, want Stopped before Start", f.State())
	}

	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if f.State() != StateRunning {
		t.Fatalf("State() = %v, want Running", f.State())
	}
	if len(f.List()) != 2 {
		t.Fatalf("List() = %v, want 2 stations", f.List())
	}

	if err := f.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if f.State() != StateStopped {
		t.Fatalf("State() = %v, want Stopped after Stop", f.State())
	}
}

func TestFleetStartIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	tplPath := writeTemplate(t, dir, "cs.yaml", `
baseName: "CS"
model: "Terra 54"
vendor: "ABB"
connectors:
  "1": {}
`)
	cfg := &config.Config{
		SupervisionURLs:     []string{"ws://127.0.0.1:1/steve"},
		StationTemplateURLs: []config.TemplateURL{{File: tplPath, NumberOfStations: 1}},
	}

	f := New(cfg, nil, nil)
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if len(f.List()) != 1 {
		t.Fatalf("List() = %v, want 1 station (no duplicate spawn on repeat Start)", f.List())
	}
}

func TestFleetAddAndDelete(t *testing.T) {
	dir := t.TempDir()
	tplPath := writeTemplate(t, dir, "cs.yaml", `
baseName: "CS"
model: "Terra 54"
vendor: "ABB"
connectors:
  "1": {}
`)
	cfg := &config.Config{SupervisionURLs: []string{"ws://127.0.0.1:1/steve"}}
	f := New(cfg, nil, nil)

	if err := f.Add(context.Background(), tplPath, 1); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	ids := f.List()
	if len(ids) != 1 {
		t.Fatalf("List() = %v, want 1 station after Add", ids)
	}

	if err := f.Delete(context.Background(), ids[0]); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(f.List()) != 0 {
		t.Fatalf("List() = %v, want 0 stations after Delete", f.List())
	}
}

func TestNextSupervisionURLRoundRobin(t *testing.T) {
	cfg := &config.Config{
		SupervisionURLs:             []string{"ws://a", "ws://b"},
		SupervisionURLDistribution:  config.DistributionRoundRobin,
	}
	f := New(cfg, nil, nil)

	first := f.nextSupervisionURL(1)
	second := f.nextSupervisionURL(2)
	if first == second {
		t.Fatalf("round-robin returned the same URL twice in a row: %q", first)
	}
}

func TestNextSupervisionURLAffinity(t *testing.T) {
	cfg := &config.Config{
		SupervisionURLs:            []string{"ws://a", "ws://b"},
		SupervisionURLDistribution: config.DistributionChargingStationAffinity,
	}
	f := New(cfg, nil, nil)

	if got := f.nextSupervisionURL(2); got != "ws://a" {
		t.Errorf("nextSupervisionURL(2) = %q, want ws://a (2 mod 2 == 0)", got)
	}
	if got := f.nextSupervisionURL(3); got != "ws://b" {
		t.Errorf("nextSupervisionURL(3) = %q, want ws://b (3 mod 2 == 1)", got)
	}
}
