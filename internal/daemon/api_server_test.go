package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"playrunaddict/internal/api"
	"playrunaddict/internal/config"
	"playrunaddict/internal/ledger"
	"playrunaddict/internal/watch"
)

func waitForCompleted(t *testing.T, f *fixture, fileID string) *ledger.Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, err := f.store.LastCompleted(context.Background(), fileID)
		if err != nil {
			t.Fatalf("LastCompleted failed: %v", err)
		}
		if record != nil {
			return record
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to complete", fileID)
	return nil
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	var status api.PipelineStatus
	resp := getJSON(t, "http://"+f.daemon.Addr()+"/api/status", &status)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}
	if !status.Running || status.Workers < 1 {
		t.Fatalf("unexpected payload: %#v", status)
	}
}

func TestLedgerEndpointFiltersByState(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	waitForCompleted(t, f, "playlist-1")

	base := "http://" + f.daemon.Addr()

	var list api.LedgerListResponse
	resp := getJSON(t, base+"/api/ledger?state=done", &list)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}
	if len(list.Records) != 1 || list.Records[0].FileID != "playlist-1" {
		t.Fatalf("unexpected records: %#v", list.Records)
	}

	resp = getJSON(t, base+"/api/ledger?state=failed", &list)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}

	resp = getJSON(t, base+"/api/ledger?state=bogus", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown state, got %d", resp.StatusCode)
	}
}

func TestLedgerRecordEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	record := waitForCompleted(t, f, "playlist-1")

	base := "http://" + f.daemon.Addr()

	var single api.LedgerRecordResponse
	resp := getJSON(t, fmt.Sprintf("%s/api/ledger/%d", base, record.ID), &single)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}
	if single.Record.FileID != "playlist-1" || single.Record.State != "done" {
		t.Fatalf("unexpected record: %#v", single.Record)
	}

	resp = getJSON(t, fmt.Sprintf("%s/api/ledger/%d", base, record.ID+100), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown record, got %d", resp.StatusCode)
	}
}

func TestRetryEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Seed a failed run for a file the poller does not see.
	if _, _, err := f.store.Admit(ctx, "playlist-2", "rev-9", "evening_mix.m3u"); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if err := f.store.Complete(ctx, "playlist-2", "rev-9", ledger.StateFailed, "upload", "HTTP 503"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	failedRecords, err := f.store.List(ctx, ledger.StateFailed)
	if err != nil || len(failedRecords) != 1 {
		t.Fatalf("missing failed record: %v (%d)", err, len(failedRecords))
	}
	failed := failedRecords[0]

	f.start(t)
	base := "http://" + f.daemon.Addr()

	resp, err := http.Post(fmt.Sprintf("%s/api/ledger/%d/retry", base, failed.ID), "application/json", nil)
	if err != nil {
		t.Fatalf("retry request failed: %v", err)
	}
	var retry api.RetryResponse
	if err := json.NewDecoder(resp.Body).Decode(&retry); err != nil {
		t.Fatalf("decode retry response: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted || !retry.Submitted {
		t.Fatalf("unexpected retry response %d %#v", resp.StatusCode, retry)
	}

	record := waitForCompleted(t, f, "playlist-2")
	if record.State != ledger.StateDone {
		t.Fatalf("expected retried run to complete, got %s", record.State)
	}

	// A completed revision refuses further retries.
	resp, err = http.Post(fmt.Sprintf("%s/api/ledger/%d/retry", base, record.ID), "application/json", nil)
	if err != nil {
		t.Fatalf("second retry request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for done record, got %d", resp.StatusCode)
	}
}

func TestCheckEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	waitForCompleted(t, f, "playlist-1")

	base := "http://" + f.daemon.Addr()
	resp, err := http.Post(base+"/api/check", "application/json", nil)
	if err != nil {
		t.Fatalf("check request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}
	var check api.CheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&check); err != nil {
		t.Fatalf("decode check response: %v", err)
	}
	if check.Changed != 0 {
		t.Fatalf("expected unchanged listing, got %#v", check)
	}

	resp, err = http.Get(base + "/api/check")
	if err != nil {
		t.Fatalf("GET check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", resp.StatusCode)
	}
}

func TestWebhookAuthorization(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Watch.WebhookEnabled = true
	})
	// The poller must stay quiet so the webhook is the only change source.
	f.lister.files = nil
	f.start(t)

	base := "http://" + f.daemon.Addr()
	url := base + "/webhook/drive"

	send := func(token, resourceID, state string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(""))
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		if token != "" {
			req.Header.Set(watch.HeaderChannelToken, token)
		}
		req.Header.Set(watch.HeaderResourceID, resourceID)
		req.Header.Set(watch.HeaderResourceState, state)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("send webhook: %v", err)
		}
		resp.Body.Close()
		return resp
	}

	if resp := send("", "playlist-1", watch.StateUpdate); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for missing token, got %d", resp.StatusCode)
	}
	if resp := send("wrong", "playlist-1", watch.StateUpdate); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong token, got %d", resp.StatusCode)
	}

	if resp := send("test-secret", "playlist-1", watch.StateUpdate); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 for valid notification, got %d", resp.StatusCode)
	}
	record := waitForCompleted(t, f, "playlist-1")
	if record.State != ledger.StateDone {
		t.Fatalf("expected webhook-driven run to complete, got %s", record.State)
	}
}

type gatedLookup struct {
	inner   *stubLookup
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedLookup) FileForResource(ctx context.Context, resourceID string) (watch.SourceFile, bool, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.inner.FileForResource(ctx, resourceID)
}

func (g *gatedLookup) HeadRevision(ctx context.Context, fileID string) (string, error) {
	return g.inner.HeadRevision(ctx, fileID)
}

func TestStopWaitsForWebhookNormalization(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Watch.WebhookEnabled = true
	})
	f.lister.files = nil
	gate := &gatedLookup{
		inner:   f.lookup,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	f.daemon.lookup = gate
	f.start(t)

	req, err := http.NewRequest(http.MethodPost, "http://"+f.daemon.Addr()+"/webhook/drive", strings.NewReader(""))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set(watch.HeaderChannelToken, "test-secret")
	req.Header.Set(watch.HeaderResourceID, "playlist-1")
	req.Header.Set(watch.HeaderResourceState, watch.StateUpdate)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("send webhook: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	<-gate.entered
	stopped := make(chan struct{})
	go func() {
		f.daemon.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop must wait for the in-flight webhook dispatch")
	case <-time.After(100 * time.Millisecond):
	}

	close(gate.release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after webhook dispatch finished")
	}
}

func TestWebhookDisabledByDefault(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	resp, err := http.Post("http://"+f.daemon.Addr()+"/webhook/drive", "application/json", nil)
	if err != nil {
		t.Fatalf("webhook request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 when webhook disabled, got %d", resp.StatusCode)
	}
}
