package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// RunResult is the outcome of one sandboxed code execution.
type RunResult struct {
	ReturnCode int
	Output     string
	Stderr     string
}

// Ok reports whether the execution completed successfully.
func (r *RunResult) Ok() bool {
	return r != nil && r.ReturnCode == 0
}

// CodeRunner executes generated code lines assembled with an example
// invocation. When dataFramePath is non-empty the sandbox exposes it to the
// script through the COSA_DF_PATH environment variable.
type CodeRunner interface {
	Run(ctx context.Context, code []string, exampleInvocation, dataFramePath string) (*RunResult, error)
}

// Ensure PythonRunner implements CodeRunner.
var _ CodeRunner = (*PythonRunner)(nil)

// PythonRunner executes code in a python3 subprocess. The process runs in
// its own group so a timeout kills the whole tree, not just the leader.
type PythonRunner struct {
	// PythonPath is the interpreter binary; "python3" when empty.
	PythonPath string

	// WorkDir is where scratch scripts are written; os.TempDir() when empty.
	WorkDir string

	// Timeout bounds one execution; 30s when zero.
	Timeout time.Duration
}

// Run implements CodeRunner.
func (r *PythonRunner) Run(ctx context.Context, code []string, exampleInvocation, dataFramePath string) (*RunResult, error) {
	python := r.PythonPath
	if python == "" {
		python = "python3"
	}
	workDir := r.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	timeout := r.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	script := assembleScript(code, exampleInvocation)
	scriptFile, err := os.CreateTemp(workDir, "cosa-run-*.py")
	if err != nil {
		return nil, fmt.Errorf("create script file: %w", err)
	}
	defer os.Remove(scriptFile.Name())
	if _, err := scriptFile.WriteString(script); err != nil {
		scriptFile.Close()
		return nil, fmt.Errorf("write script file: %w", err)
	}
	if err := scriptFile.Close(); err != nil {
		return nil, fmt.Errorf("close script file: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, python, filepath.Base(scriptFile.Name()))
	cmd.Dir = workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid targets the whole process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second
	cmd.Env = os.Environ()
	if dataFramePath != "" {
		cmd.Env = append(cmd.Env, "COSA_DF_PATH="+dataFramePath)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	result := &RunResult{
		Output: strings.TrimRight(stdout.String(), "\n"),
		Stderr: strings.TrimRight(stderr.String(), "\n"),
	}
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case runCtx.Err() != nil:
			result.ReturnCode = -1
			if result.Stderr == "" {
				result.Stderr = "execution timed out"
			}
		case errors.As(err, &exitErr):
			result.ReturnCode = exitErr.ExitCode()
		default:
			return nil, fmt.Errorf("run script: %w", err)
		}
	}
	return result, nil
}

// assembleScript joins the generated code lines and appends the example
// invocation wrapped in a print so the sandbox captures the value.
func assembleScript(code []string, exampleInvocation string) string {
	var b strings.Builder
	for _, line := range code {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	invocation := strings.TrimSpace(exampleInvocation)
	if invocation != "" {
		if strings.HasPrefix(invocation, "print(") {
			b.WriteString(invocation)
		} else {
			b.WriteString("print(" + invocation + ")")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Ensure MockCodeRunner implements CodeRunner.
var _ CodeRunner = (*MockCodeRunner)(nil)

// MockCodeRunner is a scripted CodeRunner for tests. Results are consumed
// in FIFO order; when the queue is empty the last result repeats.
type MockCodeRunner struct {
	Results []*RunResult
	Err     error

	// Calls records the code passed to each Run invocation.
	Calls [][]string
}

// Run implements CodeRunner.
func (m *MockCodeRunner) Run(_ context.Context, code []string, _, _ string) (*RunResult, error) {
	m.Calls = append(m.Calls, append([]string(nil), code...))
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Results) == 0 {
		return &RunResult{ReturnCode: 0, Output: ""}, nil
	}
	result := m.Results[0]
	if len(m.Results) > 1 {
		m.Results = m.Results[1:]
	}
	return result, nil
}
