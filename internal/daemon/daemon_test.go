package daemon_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"vidkeep/internal/api"
	"vidkeep/internal/daemon"
	"vidkeep/internal/source"
	"vidkeep/internal/testsupport"
)

func startDaemon(t *testing.T, adapter *testsupport.FakeAdapter) (*daemon.Daemon, *api.Client) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	d, err := daemon.New(cfg, nil, daemon.WithAdapter(adapter))
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		d.Close()
		t.Fatalf("start daemon: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	addr := d.APIAddr()
	if addr == "" {
		t.Fatal("api server not listening")
	}
	return d, api.NewClient(addr)
}

func TestDaemonStartStop(t *testing.T) {
	d, client := startDaemon(t, &testsupport.FakeAdapter{})

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running {
		t.Fatal("daemon not reported running")
	}
	if status.DatabasePath == "" || status.LockFilePath == "" {
		t.Fatalf("status paths = %+v", status)
	}

	d.Stop()
	if d.APIAddr() != "" {
		t.Fatal("api still bound after stop")
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, err := daemon.New(cfg, nil, daemon.WithAdapter(&testsupport.FakeAdapter{}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer first.Close()
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	second, err := daemon.New(cfg, nil, daemon.WithAdapter(&testsupport.FakeAdapter{}))
	if err != nil {
		t.Fatalf("new second: %v", err)
	}
	defer second.Close()
	err = second.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("second start err = %v", err)
	}
}

func TestDaemonSubscriptionLifecycleOverAPI(t *testing.T) {
	ctx := context.Background()
	adapter := &testsupport.FakeAdapter{
		Items: []source.Item{{
			ExternalID: "v1",
			Title:      "First Upload",
			WebpageURL: "https://example.com/channel/UCapi",
			Channel:    source.ChannelInfo{ExternalID: "UCapi", Name: "API Channel"},
		}},
	}
	_, client := startDaemon(t, adapter)

	sub, err := client.CreateSubscription(ctx, api.CreateSubscriptionRequest{
		SourceURL:      "https://example.com/channel/UCapi",
		CheckFrequency: "0 * * * *",
	})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if !sub.Enabled || sub.CheckFrequency != "0 * * * *" {
		t.Fatalf("subscription = %+v", sub)
	}

	listed, err := client.Subscriptions(ctx)
	if err != nil || len(listed.Subscriptions) != 1 {
		t.Fatalf("list = %+v, %v", listed, err)
	}

	job, err := client.TriggerSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if job.Type != "discovery" {
		t.Fatalf("trigger job type = %q", job.Type)
	}

	// The discovery worker picks the job up and catalogs the item.
	deadline := time.Now().Add(10 * time.Second)
	for {
		done, err := client.Job(ctx, job.ID)
		if err != nil {
			t.Fatalf("job: %v", err)
		}
		if done.Status == "completed" {
			break
		}
		if done.Status == "failed" {
			t.Fatalf("discovery failed: %s", done.ErrorMessage)
		}
		if time.Now().After(deadline) {
			t.Fatalf("discovery never completed, status %s", done.Status)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := client.PauseSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	listed, err = client.Subscriptions(ctx)
	if err != nil || len(listed.Subscriptions) != 1 || listed.Subscriptions[0].Enabled {
		t.Fatalf("after pause = %+v, %v", listed, err)
	}
	if err := client.ResumeSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := client.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	listed, err = client.Subscriptions(ctx)
	if err != nil || len(listed.Subscriptions) != 0 {
		t.Fatalf("after delete = %+v, %v", listed, err)
	}
}

func TestDaemonAddVideoOverAPI(t *testing.T) {
	ctx := context.Background()
	adapter := &testsupport.FakeAdapter{
		Items: []source.Item{{
			ExternalID: "manual1",
			Title:      "Manual Video",
			WebpageURL: "https://example.com/watch?v=manual1",
			Channel:    source.ChannelInfo{ExternalID: "UCapi", Name: "API Channel"},
		}},
		FetchSize: 2048,
	}
	_, client := startDaemon(t, adapter)

	job, err := client.AddVideo(ctx, api.AddVideoRequest{
		URL:          "https://example.com/watch?v=manual1",
		AutoDownload: true,
	})
	if err != nil {
		t.Fatalf("add video: %v", err)
	}
	if job.Type != "metadata" {
		t.Fatalf("job type = %q", job.Type)
	}

	// Metadata resolution and the follow-on download both run to completion.
	deadline := time.Now().Add(15 * time.Second)
	for {
		if adapter.FetchCalls() > 0 {
			queueView, err := client.Queue(ctx, "", 0)
			if err != nil {
				t.Fatalf("queue: %v", err)
			}
			if queueView.Stats["download"]["completed"] == 1 {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("download never completed")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestDaemonJobNotFound(t *testing.T) {
	_, client := startDaemon(t, &testsupport.FakeAdapter{})
	if _, err := client.Job(context.Background(), 9999); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v", err)
	}
}
