package content

import (
	"context"
	"os/exec"
	"testing"
	"time"
)

func shellRunner(ctx context.Context, workDir, code string) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", code)
	cmd.Dir = workDir
	return cmd, nil
}

func TestExecuteCodeSamplesCapturesOutputAndExitCode(t *testing.T) {
	samples := []Sample{
		{Index: 0, Language: "sh", Code: "echo hello"},
		{Index: 1, Language: "sh", Code: "exit 3"},
	}
	cfg := ExecConfig{
		Runners: map[string]Runner{"sh": shellRunner},
		Timeout: 2 * time.Second,
	}
	results := ExecuteCodeSamples(context.Background(), samples, cfg)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err != nil || results[0].Stdout != "hello\n" {
		t.Fatalf("unexpected result 0: %+v", results[0])
	}
	if results[1].ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %+v", results[1])
	}
}

func TestExecuteCodeSamplesReportsTimeout(t *testing.T) {
	samples := []Sample{{Index: 0, Language: "sh", Code: "sleep 5"}}
	cfg := ExecConfig{
		Runners: map[string]Runner{"sh": shellRunner},
		Timeout: 50 * time.Millisecond,
	}
	results := ExecuteCodeSamples(context.Background(), samples, cfg)
	if results[0].Err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestExecuteCodeSamplesReportsOutputOverflow(t *testing.T) {
	samples := []Sample{{Index: 0, Language: "sh", Code: "yes | head -c 100000"}}
	cfg := ExecConfig{
		Runners:        map[string]Runner{"sh": shellRunner},
		Timeout:        2 * time.Second,
		OutputCapBytes: 16,
	}
	results := ExecuteCodeSamples(context.Background(), samples, cfg)
	if results[0].Err == nil {
		t.Fatal("expected an output overflow error")
	}
}

func TestExecuteCodeSamplesUnknownLanguageErrors(t *testing.T) {
	samples := []Sample{{Index: 0, Language: "cobol", Code: "DISPLAY 'HI'"}}
	results := ExecuteCodeSamples(context.Background(), samples, ExecConfig{Runners: map[string]Runner{}})
	if results[0].Err == nil {
		t.Fatal("expected an error for an unconfigured language")
	}
}

func TestExecuteCodeSamplesBlocksReentrantInvocation(t *testing.T) {
	samples := []Sample{{Index: 0, Language: "sh", Code: "echo hi"}}
	cfg := ExecConfig{Runners: map[string]Runner{"sh": shellRunner}}

	reentrancyGuard.Store(true)
	defer reentrancyGuard.Store(false)

	results := ExecuteCodeSamples(context.Background(), samples, cfg)
	if results[0].Err == nil {
		t.Fatal("expected a reentrancy error while the guard is held")
	}
}

func TestExecuteCodeSamplesKillsUnboundedProducerOnOverflow(t *testing.T) {
	// Unlike TestExecuteCodeSamplesReportsOutputOverflow, "yes" never
	// terminates on its own: this only passes if the output cap itself
	// kills the process rather than just discarding bytes past the cap.
	samples := []Sample{{Index: 0, Language: "sh", Code: "yes"}}
	cfg := ExecConfig{
		Runners:        map[string]Runner{"sh": shellRunner},
		Timeout:        5 * time.Second,
		OutputCapBytes: 16,
	}

	done := make(chan []Result, 1)
	go func() { done <- ExecuteCodeSamples(context.Background(), samples, cfg) }()

	select {
	case results := <-done:
		if results[0].Err == nil {
			t.Fatal("expected an output overflow error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ExecuteCodeSamples did not return promptly; the overflowing process was not killed")
	}
}

func TestExtractCodeSamplesMatchesFenceCount(t *testing.T) {
	doc, err := ParseMarkdown("t.md", []byte("```go\nfmt.Println(1)\n```\n\n```py\nprint(1)\n```\n"))
	if err != nil {
		t.Fatalf("ParseMarkdown: %v", err)
	}
	samples := ExtractCodeSamples(doc)
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0].Language != "go" || samples[1].Language != "py" {
		t.Fatalf("unexpected sample languages: %+v", samples)
	}
}
