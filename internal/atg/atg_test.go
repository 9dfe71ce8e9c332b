package atg

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeStation struct {
	mu            sync.Mutex
	bootAccepted  bool
	unavailable   bool
	nextTxID      int
	startCalls    int
	stopCalls     int
	authorizeCalls int
}

func (f *fakeStation) BootAccepted() bool                         { return f.bootAccepted }
func (f *fakeStation) StationUnavailable() bool                    { return f.unavailable }
func (f *fakeStation) ConnectorUnavailable(int) bool                { return false }
func (f *fakeStation) OutgoingReady() bool                          { return true }
func (f *fakeStation) NextIdTag() (string, bool)                    { return "TAG1", true }

func (f *fakeStation) Authorize(ctx context.Context, connectorID int, idTag string) (bool, error) {
	f.mu.Lock()
	f.authorizeCalls++
	f.mu.Unlock()
	return true, nil
}

func (f *fakeStation) StartTransaction(ctx context.Context, connectorID int, idTag string) (bool, int, error) {
	f.mu.Lock()
	f.startCalls++
	f.nextTxID++
	id := f.nextTxID
	f.mu.Unlock()
	return true, id, nil
}

func (f *fakeStation) StopTransaction(ctx context.Context, connectorID, transactionID int, reason string) error {
	f.mu.Lock()
	f.stopCalls++
	f.mu.Unlock()
	return nil
}

func TestConfigValidateRejectsInvertedDurations(t *testing.T) {
	cfg := Config{MinDurationSeconds: 100, MaxDurationSeconds: 10}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for max < min")
	}
}

func TestGeneratorRunsFastSessionsUnderBudget(t *testing.T) {
	station := &fakeStation{bootAccepted: true}
	cfg := Config{
		StopAfterHours:              1.0 / 3600, // 1 second budget
		MinDelayBetweenTransactions: 0,
		MaxDelayBetweenTransactions: 0,
		ProbabilityOfStart:          1.0,
		RequireAuthorize:            true,
		MinDurationSeconds:          0,
		MaxDurationSeconds:          0,
		InitializationPoll:          10 * time.Millisecond,
	}

	gen, err := New(station, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	gen.Start(ctx, []int{1})
	time.Sleep(500 * time.Millisecond)
	gen.StopAll()

	station.mu.Lock()
	defer station.mu.Unlock()
	if station.startCalls == 0 {
		t.Fatal("expected at least one StartTransaction call")
	}
	if station.startCalls != station.stopCalls {
		t.Fatalf("startCalls=%d stopCalls=%d, every accepted start should be followed by a stop within the test window", station.startCalls, station.stopCalls)
	}

	stats := gen.Stats(1)
	if stats == nil {
		t.Fatal("Stats(1) = nil, want non-nil after running")
	}
	if stats.StartAccepted == 0 {
		t.Fatal("StartAccepted = 0, want > 0")
	}
}

func TestGeneratorSkipsWhenProbabilityIsZero(t *testing.T) {
	station := &fakeStation{bootAccepted: true}
	cfg := Config{
		StopAfterHours:              1.0 / 3600,
		MinDelayBetweenTransactions: 0,
		MaxDelayBetweenTransactions: 0,
		ProbabilityOfStart:          0,
		MinDurationSeconds:          0,
		MaxDurationSeconds:          0,
		InitializationPoll:          10 * time.Millisecond,
	}
	gen, err := New(station, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	gen.Start(ctx, []int{1})
	time.Sleep(300 * time.Millisecond)
	gen.StopAll()

	station.mu.Lock()
	defer station.mu.Unlock()
	if station.startCalls != 0 {
		t.Fatalf("startCalls = %d, want 0 when probabilityOfStart is 0", station.startCalls)
	}

	stats := gen.Stats(1)
	if stats == nil || stats.SkippedTotal == 0 {
		t.Fatal("expected SkippedTotal > 0 when every draw is skipped")
	}
}

func TestGeneratorNeverDrivesConnectorZero(t *testing.T) {
	station := &fakeStation{bootAccepted: true}
	cfg := Config{StopAfterHours: 1, ProbabilityOfStart: 1, InitializationPoll: 10 * time.Millisecond}
	gen, err := New(station, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	gen.Start(ctx, []int{0})
	time.Sleep(100 * time.Millisecond)
	gen.StopAll()

	if gen.Stats(0) != nil {
		t.Fatal("Stats(0) should remain nil: connector 0 is never driven by the ATG")
	}
}
