package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBuildArgsSkipsNameEmptyAndDefault(t *testing.T) {
	cfg := EndpointConfig{
		Name: "local",
		Flags: map[string]string{
			"name":        "local",
			"model":       "model.gguf",
			"ctx-size":    "",
			"flash-attn":  "default",
			"no-mmap":     "true",
			"lora":        "false",
			"n-gpu-layers": "32",
		},
	}

	args := BuildArgs(cfg)

	want := map[string]bool{
		"--model":        false,
		"model.gguf":     false,
		"--no-mmap":      false,
		"--n-gpu-layers": false,
		"32":             false,
	}
	for _, a := range args {
		if _, ok := want[a]; ok {
			want[a] = true
		}
		if a == "--ctx-size" || a == "--flash-attn" || a == "--lora" || a == "--name" {
			t.Errorf("unexpected arg %q emitted for empty/default/false/reserved key", a)
		}
	}
	for arg, found := range want {
		if !found {
			t.Errorf("expected arg %q in %v", arg, args)
		}
	}
}

func writeSleepScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-backend.sh")
	script := "#!/bin/sh\ntrap 'exit 0' TERM\nsleep 30 &\nwait\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestCreateListStop(t *testing.T) {
	script := writeSleepScript(t)
	processList := filepath.Join(t.TempDir(), "process_list.json")

	endpoints := []EndpointConfig{{Name: "local", Flags: map[string]string{"port": "8080"}}}
	s := New(script, endpoints, processList)

	if err := s.Create("local"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	records := s.List()
	if len(records) != 1 || records[0].Name != "local" || records[0].Status != StatusRunning {
		t.Fatalf("List() = %+v, want one running record named local", records)
	}

	if err := s.Create("local"); err == nil {
		t.Fatal("expected error creating an already-live process")
	}

	if err := s.Stop("local"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if records := s.List(); len(records) != 0 {
		t.Fatalf("expected no records after Stop, got %+v", records)
	}

	if _, err := os.Stat(processList); err != nil {
		t.Errorf("expected process_list.json to be written: %v", err)
	}
}

func TestStopUnknownProcessIsSafe(t *testing.T) {
	s := New("/bin/true", nil, "")
	if err := s.Stop("nope"); err != nil {
		t.Fatalf("Stop on unknown name should be safe, got %v", err)
	}
}

func TestCreateUnknownEndpointFails(t *testing.T) {
	s := New("/bin/true", nil, "")
	if err := s.Create("nope"); err == nil {
		t.Fatal("expected error creating an unconfigured endpoint")
	}
}

func TestCreateMissingExecutableFails(t *testing.T) {
	endpoints := []EndpointConfig{{Name: "local", Flags: map[string]string{}}}
	s := New(filepath.Join(t.TempDir(), "does-not-exist"), endpoints, "")
	if err := s.Create("local"); err == nil {
		t.Fatal("expected error for a missing executable")
	}
}

func TestStopAll(t *testing.T) {
	script := writeSleepScript(t)
	endpoints := []EndpointConfig{
		{Name: "a", Flags: map[string]string{}},
		{Name: "b", Flags: map[string]string{}},
	}
	s := New(script, endpoints, "")

	if err := s.Create("a"); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if err := s.Create("b"); err != nil {
		t.Fatalf("Create b: %v", err)
	}

	s.StopAll()
	if records := s.List(); len(records) != 0 {
		t.Fatalf("expected no records after StopAll, got %+v", records)
	}
}

func TestRestart(t *testing.T) {
	script := writeSleepScript(t)
	endpoints := []EndpointConfig{{Name: "local", Flags: map[string]string{}}}
	s := New(script, endpoints, "")

	if err := s.Create("local"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	first := s.List()[0].PID

	if err := s.Restart("local"); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	records := s.List()
	if len(records) != 1 {
		t.Fatalf("expected one record after Restart, got %+v", records)
	}
	if records[0].PID == first {
		t.Errorf("expected Restart to spawn a new process with a different PID")
	}

	s.StopAll()
	time.Sleep(10 * time.Millisecond)
}
