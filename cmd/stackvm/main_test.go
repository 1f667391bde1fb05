package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/stackvm/config"
	"github.com/chazu/stackvm/store"
)

func TestLineWriterEndLine(t *testing.T) {
	var buf bytes.Buffer
	w := &lineWriter{w: &buf}

	w.EndLine()
	if buf.Len() != 0 {
		t.Fatalf("EndLine on a fresh writer wrote %q", buf.String())
	}

	w.Write([]byte("012"))
	w.EndLine()
	w.Write([]byte("Result is 3\n"))
	w.EndLine()

	if got, want := buf.String(), "012\nResult is 3\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestReadSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "one.sbc")
	if err := os.WriteFile(path, []byte("LOAD_VAL 1\nRETURN_VALUE\n"), 0644); err != nil {
		t.Fatal(err)
	}

	sources, err := readSources([]string{path})
	if err != nil {
		t.Fatalf("readSources failed: %v", err)
	}
	if len(sources) != 1 || sources[0].name != path {
		t.Fatalf("sources = %+v", sources)
	}
	if sources[0].text != "LOAD_VAL 1\nRETURN_VALUE\n" {
		t.Errorf("text = %q", sources[0].text)
	}

	if _, err := readSources([]string{filepath.Join(dir, "missing.sbc")}); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestLoadConfigFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	content := "[server]\nport = 9000\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.GRPCPort != 4568 {
		t.Errorf("GRPCPort = %d, want default 4568", cfg.Server.GRPCPort)
	}
}

func TestCheckSources(t *testing.T) {
	good := source{name: "good.sbc", text: "JUMP :missing\nRETURN_VALUE"}
	bad := source{name: "bad.sbc", text: "ADD extra token"}

	if code := checkSources([]source{good}); code != 0 {
		t.Errorf("checkSources(good) = %d, want 0", code)
	}
	if code := checkSources([]source{good, bad}); code != 1 {
		t.Errorf("checkSources(bad) = %d, want 1", code)
	}
}

func TestStructSubmission(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st, err := structpb.NewStruct(map[string]any{
		"id":            "sub_1",
		"source":        "LOAD_VAL 1",
		"program_hash":  "abc",
		"success":       true,
		"has_value":     true,
		"result":        "1",
		"error_kind":    "",
		"error_message": "",
		"created_at":    created.Format(time.RFC3339Nano),
		"elapsed":       "1.5ms",
	})
	if err != nil {
		t.Fatal(err)
	}

	sub := structSubmission(st)
	if sub.ID != "sub_1" || sub.Result != "1" || !sub.Success || !sub.HasValue {
		t.Errorf("submission = %+v", sub)
	}
	if !sub.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", sub.CreatedAt, created)
	}
	if sub.Elapsed != 1500*time.Microsecond {
		t.Errorf("Elapsed = %v, want 1.5ms", sub.Elapsed)
	}
}

func TestDialRemoteConnect(t *testing.T) {
	client, closeFn, err := dialRemote("http://localhost:4567")
	if err != nil {
		t.Fatalf("dialRemote failed: %v", err)
	}
	defer closeFn()
	if _, ok := client.(grpcClient); ok {
		t.Error("http URL should not produce a gRPC client")
	}
}

func TestServeReturnsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Server.GRPCPort = 0
	cfg.Store.Path = filepath.Join(t.TempDir(), "history.db")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	// The history database was closed and can be reopened.
	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		t.Fatalf("reopening history failed: %v", err)
	}
	s.Close()
}

func TestCompileAndRunCompiled(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "arith"+compiledExt)
	src := source{name: "arith.sbc", text: "LOAD_VAL 3\nLOAD_VAL 4\nMULTIPLY\nRETURN_VALUE"}

	if err := compileSources([]source{src}, out); err != nil {
		t.Fatalf("compileSources failed: %v", err)
	}
	if err := compileSources([]source{src, src}, out); err == nil {
		t.Error("compileSources should reject more than one program")
	}
	if err := compileSources([]source{{name: "bad.sbc", text: "ADD extra token"}}, out+".bad"); err == nil {
		t.Error("compileSources should report assembly errors")
	}

	sources, err := readSources([]string{out})
	if err != nil {
		t.Fatalf("readSources failed: %v", err)
	}
	if len(sources) != 1 || sources[0].program == nil {
		t.Fatalf("compiled file not decoded: %+v", sources)
	}
	if sources[0].program.Len() != 4 {
		t.Errorf("decoded %d instructions, want 4", sources[0].program.Len())
	}

	cfg := config.Default()
	cfg.Store.Path = filepath.Join(dir, "history.db")
	if code := runSources(context.Background(), cfg, sources); code != 0 {
		t.Errorf("runSources = %d, want 0", code)
	}

	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer s.Close()
	subs, err := s.Recent(context.Background(), 1)
	if err != nil || len(subs) != 1 {
		t.Fatalf("Recent = %v, %v", subs, err)
	}
	if subs[0].Result != "12" {
		t.Errorf("recorded result = %q, want 12", subs[0].Result)
	}
}

func TestReadSourcesRejectsCorruptCompiled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk"+compiledExt)
	if err := os.WriteFile(path, []byte("not cbor"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := readSources([]string{path}); err == nil {
		t.Error("expected a decode error")
	}
}

func TestLocalHistoryAndShow(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	sub := &store.Submission{Source: "LOAD_VAL 1\nRETURN_VALUE", Success: true, HasValue: true, Result: "1"}
	if err := s.Record(ctx, sub); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	s.Close()

	if err := printLocalHistory(ctx, cfg, 5); err != nil {
		t.Errorf("printLocalHistory failed: %v", err)
	}
	if err := printLocalSubmission(ctx, cfg, sub.ID); err != nil {
		t.Errorf("printLocalSubmission failed: %v", err)
	}
	if err := printLocalSubmission(ctx, cfg, "sub_missing"); !errors.Is(err, store.ErrSubmissionNotFound) {
		t.Errorf("missing id error = %v, want ErrSubmissionNotFound", err)
	}

	cfg.Store.Path = ""
	if err := printLocalHistory(ctx, cfg, 5); err == nil {
		t.Error("expected an error with history disabled")
	}
}
