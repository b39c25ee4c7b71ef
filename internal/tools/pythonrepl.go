package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/haasonsaas/agentengine/internal/registry"
	"github.com/haasonsaas/agentengine/internal/types"
)

type pythonArgs struct {
	Code string `json:"code"`
}

// NewPythonREPLTool executes code with the python3 interpreter on the
// host, rooted at deps.DataDir. Go has no embeddable CPython, so this
// shells out to the python3 binary the way terminal.go shells out to sh,
// and leans on the gate classification (classify.ClassifyPython) for the
// dangerous-import-and-call checks before anything executes.
func NewPythonREPLTool(deps Deps) types.Tool {
	return types.Tool{
		Name:        registry.PythonREPL,
		Description: "Execute Python code and return stdout/stderr. The working directory is the sandboxed data directory.",
		Schema: schema(map[string]any{
			"code": prop("string", "Python code to execute."),
		}, []string{"code"}),
		Invoke: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var a pythonArgs
			if err := json.Unmarshal(raw, &a); err != nil {
				return "", fmt.Errorf("python_repl: invalid arguments: %w", err)
			}
			if strings.TrimSpace(a.Code) == "" {
				return "Error: code cannot be empty.", nil
			}

			return runCached(ctx, deps, registry.PythonREPL, 0, raw, func(ctx context.Context) (string, error) {
				return runGated(ctx, deps, registry.PythonREPL, a.Code, func(ctx context.Context) (string, error) {
					return execPython(ctx, a.Code, deps.DataDir, deps.commandTimeout())
				})
			})
		},
	}
}

func execPython(ctx context.Context, code, dir string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "python3", "-c", code)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return fmt.Sprintf("[ERROR] code execution timed out (%ds)", int(timeout.Seconds())), nil
	}
	text := strings.TrimSpace(string(out))
	if err != nil {
		if text == "" {
			return fmt.Sprintf("[ERROR] python3: %s", err), nil
		}
		return text, nil
	}
	if text == "" {
		text = "(no output)"
	}
	return text, nil
}
