package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/haasonsaas/agentengine/internal/registry"
	"github.com/haasonsaas/agentengine/internal/types"
)

type terminalArgs struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout"`
}

// NewTerminalTool shells out to `sh -c command`, capped at Timeout
// seconds (default 30) and rooted at deps.DataDir.
func NewTerminalTool(deps Deps) types.Tool {
	return types.Tool{
		Name:        registry.Terminal,
		Description: "Execute a shell command in the sandboxed working directory. Use relative paths for file operations.",
		Schema: schema(map[string]any{
			"command": prop("string", "The shell command to execute."),
			"timeout": prop("integer", "Maximum execution time in seconds (default 30)."),
		}, []string{"command"}),
		Invoke: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var a terminalArgs
			if err := json.Unmarshal(raw, &a); err != nil {
				return "", fmt.Errorf("terminal: invalid arguments: %w", err)
			}
			if strings.TrimSpace(a.Command) == "" {
				return "Error: command cannot be empty.", nil
			}
			timeout := time.Duration(a.Timeout) * time.Second
			if a.Timeout <= 0 {
				timeout = deps.commandTimeout()
			}

			return runCached(ctx, deps, registry.Terminal, 0, raw, func(ctx context.Context) (string, error) {
				return runGated(ctx, deps, registry.Terminal, a.Command, func(ctx context.Context) (string, error) {
					return execShell(ctx, a.Command, deps.DataDir, timeout)
				})
			})
		},
	}
}

func execShell(ctx context.Context, command, dir string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("[ERROR] command timed out (%ds)", int(timeout.Seconds())), nil
	}

	out := stdout.String()
	if stderr.Len() > 0 {
		out += "\n[stderr]: " + stderr.String()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out += fmt.Sprintf("\n[exit code]: %d", exitErr.ExitCode())
		} else {
			return "", fmt.Errorf("terminal: %w", err)
		}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		out = "(no output)"
	}
	return out, nil
}
