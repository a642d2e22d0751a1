package execrun

import (
	"context"
	"strings"
	"testing"
)

func TestRunCapturesStdout(t *testing.T) {
	out, err := Run(context.Background(), "echo", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Fatalf("got %q, want %q", out, "hello")
	}
}

func TestRunFailFastOnNonZeroExit(t *testing.T) {
	_, err := Run(context.Background(), "false")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
}

func TestRunQuietPropagatesFailure(t *testing.T) {
	if err := RunQuiet(context.Background(), "false"); err == nil {
		t.Fatal("expected error for non-zero exit")
	}
}
