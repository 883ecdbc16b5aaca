package workflow

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"flowpilot/internal/logging"
	"flowpilot/internal/trigger"
	"flowpilot/internal/types"
)

// LocalExecutor is the built-in StepExecutor for file and shell tools.
// Network-backed tools (email.*, web.*, llm.*) have no local implementation
// and report an unknown-tool failure; richer executors wrap this one and
// handle those families before delegating.
type LocalExecutor struct{}

// NewLocalExecutor returns the built-in executor.
func NewLocalExecutor() LocalExecutor {
	return LocalExecutor{}
}

// Execute dispatches on the tool id. Tool-level failures come back inside the
// StepResult; the error return is reserved for infrastructure problems.
func (LocalExecutor) Execute(ctx context.Context, tool string, params map[string]interface{}) (*types.StepResult, error) {
	logging.WorkflowDebug("Executing tool %s", tool)
	switch tool {
	case "shell.run":
		return execShell(ctx, params)
	case "file.list":
		return execFileList(params)
	case "file.read":
		return execFileRead(params)
	case "file.write":
		return execFileWrite(params)
	case "file.move":
		return execFileMove(params)
	default:
		return &types.StepResult{Success: false, Error: fmt.Sprintf("unknown tool %q", tool)}, nil
	}
}

func execShell(ctx context.Context, params map[string]interface{}) (*types.StepResult, error) {
	command, err := stringParam(params, "command")
	if err != nil {
		return failure(err), nil
	}
	out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
	if err != nil {
		return &types.StepResult{
			Success: false,
			Output:  string(out),
			Error:   fmt.Sprintf("command failed: %v", err),
		}, nil
	}
	return &types.StepResult{
		Success: true,
		Output:  string(out),
		Summary: fmt.Sprintf("ran %q (%d bytes of output)", command, len(out)),
	}, nil
}

func execFileList(params map[string]interface{}) (*types.StepResult, error) {
	dir, err := stringParam(params, "dir")
	if err != nil {
		return failure(err), nil
	}
	pattern, _ := optionalString(params, "pattern")
	if pattern == "" {
		pattern = "*"
	}

	dir = filepath.Clean(trigger.ExpandHome(dir))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return failure(err), nil
	}

	var matched []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ok, err := filepath.Match(strings.ToLower(pattern), strings.ToLower(entry.Name()))
		if err != nil {
			return failure(fmt.Errorf("bad pattern %q: %w", pattern, err)), nil
		}
		if ok {
			matched = append(matched, filepath.Join(dir, entry.Name()))
		}
	}
	return &types.StepResult{
		Success: true,
		Output:  matched,
		Summary: fmt.Sprintf("%d file(s) in %s matching %s", len(matched), dir, pattern),
	}, nil
}

func execFileRead(params map[string]interface{}) (*types.StepResult, error) {
	path, err := stringParam(params, "path")
	if err != nil {
		return failure(err), nil
	}
	data, err := os.ReadFile(trigger.ExpandHome(path))
	if err != nil {
		return failure(err), nil
	}
	return &types.StepResult{Success: true, Output: string(data), Summary: fmt.Sprintf("read %d bytes", len(data))}, nil
}

func execFileWrite(params map[string]interface{}) (*types.StepResult, error) {
	path, err := stringParam(params, "path")
	if err != nil {
		return failure(err), nil
	}
	content, err := stringParam(params, "content")
	if err != nil {
		return failure(err), nil
	}
	path = trigger.ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return failure(err), nil
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return failure(err), nil
	}
	return &types.StepResult{Success: true, Output: path, Summary: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}, nil
}

func execFileMove(params map[string]interface{}) (*types.StepResult, error) {
	src, err := stringParam(params, "src")
	if err != nil {
		return failure(err), nil
	}
	dst, err := stringParam(params, "dst")
	if err != nil {
		return failure(err), nil
	}
	src, dst = trigger.ExpandHome(src), trigger.ExpandHome(dst)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return failure(err), nil
	}
	if err := os.Rename(src, dst); err != nil {
		return failure(err), nil
	}
	return &types.StepResult{Success: true, Output: dst, Summary: fmt.Sprintf("moved %s to %s", src, dst)}, nil
}

func failure(err error) *types.StepResult {
	return &types.StepResult{Success: false, Error: err.Error()}
}

func stringParam(params map[string]interface{}, key string) (string, error) {
	v, err := optionalString(params, key)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return v, nil
}

func optionalString(params map[string]interface{}, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string, got %T", key, raw)
	}
	return s, nil
}
