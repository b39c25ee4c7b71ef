package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/agentengine/internal/registry"
	"github.com/haasonsaas/agentengine/internal/types"
)

type readFileArgs struct {
	Path string `json:"path"`
}

const readFileMaxChars = 20000

// NewReadFileTool reads a file relative to deps.DataDir, giving the
// agent a direct, classifiable read path so reads don't need a shell
// round trip through terminal's `cat`; the registry reserves a
// dedicated read_file
// slot and risk classifier (classify.ClassifyFilePath).
func NewReadFileTool(deps Deps) types.Tool {
	return types.Tool{
		Name:        registry.ReadFile,
		Description: "Read a text file from the sandboxed working directory. Path must be relative.",
		Schema: schema(map[string]any{
			"path": prop("string", "Path to the file, relative to the working directory."),
		}, []string{"path"}),
		Invoke: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var a readFileArgs
			if err := json.Unmarshal(raw, &a); err != nil {
				return "", fmt.Errorf("read_file: invalid arguments: %w", err)
			}
			if strings.TrimSpace(a.Path) == "" {
				return "Error: path cannot be empty.", nil
			}
			if filepath.IsAbs(a.Path) || strings.Contains(a.Path, "..") {
				return "❌ Error: path must be relative and stay within the working directory.", nil
			}

			return runGated(ctx, deps, registry.ReadFile, a.Path, func(ctx context.Context) (string, error) {
				full := filepath.Join(deps.DataDir, a.Path)
				content, err := os.ReadFile(full)
				if err != nil {
					return fmt.Sprintf("❌ Error reading file: %s", err), nil
				}
				return truncate(string(content), readFileMaxChars), nil
			})
		},
	}
}
