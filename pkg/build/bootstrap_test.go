package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"testing"
)

func resetDockerFallback(t *testing.T) {
	t.Helper()
	dockerFallback.mu.Lock()
	dockerFallback.resolved = false
	dockerFallback.addr = ""
	dockerFallback.err = nil
	dockerFallback.mu.Unlock()
}

func TestIsDialError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "not exist", err: os.ErrNotExist, want: true},
		{name: "wrapped not exist", err: fmt.Errorf("dial: %w", os.ErrNotExist), want: true},
		{name: "syscall refused", err: &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED}, want: true},
		{name: "grpc dial message", err: errors.New("rpc error: code = Unavailable desc = error while dialing"), want: true},
		{name: "refused message", err: errors.New("connect: connection refused"), want: true},
		{name: "solve failure", err: errors.New("failed to solve: process exited 1"), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isDialError(tc.err); got != tc.want {
				t.Fatalf("isDialError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestEnsureDockerBackedBuilderWithoutDockerCLI(t *testing.T) {
	resetDockerFallback(t)
	origLookPath := dockerLookPath
	t.Cleanup(func() {
		dockerLookPath = origLookPath
		resetDockerFallback(t)
	})
	dockerLookPath = func(string) (string, error) { return "", errors.New("not in PATH") }

	_, err := ensureDockerBackedBuilder(context.Background(), io.Discard)
	if err == nil {
		t.Fatal("expected error without docker CLI")
	}
	if !strings.Contains(err.Error(), "docker CLI not found") {
		t.Fatalf("error = %q", err)
	}
}

func TestEnsureDockerBackedBuilderCreatesMissingBuilder(t *testing.T) {
	resetDockerFallback(t)
	origLookPath := dockerLookPath
	origRunner := dockerBuildxRunner
	t.Cleanup(func() {
		dockerLookPath = origLookPath
		dockerBuildxRunner = origRunner
		resetDockerFallback(t)
	})
	dockerLookPath = func(string) (string, error) { return "/usr/bin/docker", nil }

	var calls [][]string
	dockerBuildxRunner = func(_ context.Context, _ io.Writer, args ...string) error {
		calls = append(calls, args)
		if len(args) == 2 && args[0] == "inspect" && args[1] == dockerFallbackBuilderName {
			return errors.New("no such builder")
		}
		return nil
	}

	addr, err := ensureDockerBackedBuilder(context.Background(), io.Discard)
	if err != nil {
		t.Fatalf("ensure builder: %v", err)
	}
	want := "docker-container://buildx_buildkit_" + dockerFallbackBuilderName + "0"
	if addr != want {
		t.Fatalf("addr = %q, want %q", addr, want)
	}
	if len(calls) != 3 {
		t.Fatalf("buildx calls = %v", calls)
	}
	if calls[1][0] != "create" {
		t.Fatalf("expected create after failed inspect, got %v", calls)
	}
	if calls[2][0] != "inspect" || calls[2][1] != "--bootstrap" {
		t.Fatalf("expected bootstrap inspect, got %v", calls)
	}
}

func TestEnsureDockerBackedBuilderMemoizes(t *testing.T) {
	resetDockerFallback(t)
	origLookPath := dockerLookPath
	origRunner := dockerBuildxRunner
	t.Cleanup(func() {
		dockerLookPath = origLookPath
		dockerBuildxRunner = origRunner
		resetDockerFallback(t)
	})
	dockerLookPath = func(string) (string, error) { return "/usr/bin/docker", nil }
	count := 0
	dockerBuildxRunner = func(context.Context, io.Writer, ...string) error {
		count++
		return nil
	}

	first, err := ensureDockerBackedBuilder(context.Background(), nil)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	callsAfterFirst := count
	second, err := ensureDockerBackedBuilder(context.Background(), nil)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if first != second {
		t.Fatalf("addresses differ: %q vs %q", first, second)
	}
	if count != callsAfterFirst {
		t.Fatal("second call re-ran docker buildx")
	}
}
