package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vidkeep/internal/api"
)

func runCommand(t *testing.T, server *httptest.Server, args ...string) string {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--api", strings.TrimPrefix(server.URL, "http://")))
	if err := cmd.Execute(); err != nil {
		t.Fatalf("command %v failed: %v\noutput: %s", args, err, out.String())
	}
	return out.String()
}

func jsonHandler(t *testing.T, payload any) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode: %v", err)
		}
	}
}

func TestStatusCommandRendersSections(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", jsonHandler(t, api.DaemonStatus{
		Running:      true,
		DatabasePath: "/data/vidkeep.db",
		Queue: map[string]map[string]int{
			"download": {"queued": 2, "active": 1},
		},
		Scheduler: []api.SchedulerEntry{
			{SubscriptionID: 1, CheckFrequency: "0 * * * *", NextRun: time.Now().Add(time.Hour)},
		},
		Backoff: api.BackoffStatus{Active: true, ConsecutiveFailures: 4, NextAvailableIn: "2m0s"},
	}))
	server := httptest.NewServer(mux)
	defer server.Close()

	out := runCommand(t, server, "status")
	for _, want := range []string{"Daemon", "running", "download", "0 * * * *", "4 consecutive failures", "2m0s"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestSubscriptionListCommand(t *testing.T) {
	lastCheck := time.Now().Add(-30 * time.Minute)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/subscriptions", jsonHandler(t, api.SubscriptionListResponse{
		Subscriptions: []api.SubscriptionView{{
			ID:             7,
			Type:           "channel",
			SourceURL:      "https://example.com/channel/UCx",
			Enabled:        true,
			CheckFrequency: "*/15 * * * *",
			LastCheck:      &lastCheck,
			NewVideosCount: 3,
		}},
	}))
	server := httptest.NewServer(mux)
	defer server.Close()

	out := runCommand(t, server, "subscription", "list")
	for _, want := range []string{"7", "channel", "enabled", "*/15 * * * *"} {
		if !strings.Contains(out, want) {
			t.Fatalf("list output missing %q:\n%s", want, out)
		}
	}
}

func TestQueueRetryCommand(t *testing.T) {
	var gotPath string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/queue/", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	out := runCommand(t, server, "queue", "retry", "42")
	if gotPath != "POST /api/queue/42/retry" {
		t.Fatalf("request = %q", gotPath)
	}
	if !strings.Contains(out, "Requeued job 42") {
		t.Fatalf("output = %q", out)
	}
}

func TestQueueRetryRejectsBadID(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"queue", "retry", "abc", "--api", "127.0.0.1:1"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "invalid id") {
		t.Fatalf("err = %v", err)
	}
}

func TestRenderQueueStatsOrdersTypes(t *testing.T) {
	out := renderQueueStats(map[string]map[string]int{
		"metadata":  {"queued": 1},
		"discovery": {"completed": 5},
		"download":  {"failed": 2},
	})
	discovery := strings.Index(out, "discovery")
	download := strings.Index(out, "download")
	metadata := strings.Index(out, "metadata")
	if discovery == -1 || download == -1 || metadata == -1 {
		t.Fatalf("missing rows:\n%s", out)
	}
	if !(discovery < download && download < metadata) {
		t.Fatalf("rows not sorted:\n%s", out)
	}
}

func TestRenderStatusLineColor(t *testing.T) {
	plain := renderStatusLine("State", statusOK, "running", false)
	if strings.Contains(plain, "\x1b[") {
		t.Fatalf("uncolored line has ANSI codes: %q", plain)
	}
	colored := renderStatusLine("State", statusOK, "running", true)
	if !strings.HasPrefix(colored, statusColors[statusOK]) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("colored line = %q", colored)
	}
}
