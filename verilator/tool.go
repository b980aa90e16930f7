package verilator

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/hashicorp/go-version"
	"go.uber.org/zap"

	"github.com/wippyai/vlsim/errors"
)

// DefaultName is the executable looked up when no explicit path is given.
const DefaultName = "verilator"

// Tool is a located external executable.
type Tool struct {
	Name string
	Path string
}

// Find resolves name on PATH. A missing executable is reported as
// KindToolNotFound.
func Find(name string) (*Tool, error) {
	if name == "" {
		name = DefaultName
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, errors.ToolNotFound(errors.PhaseBuild, name, err)
	}
	Logger().Debug("found tool", zap.String("name", name), zap.String("path", path))
	return &Tool{Name: name, Path: path}, nil
}

// Run executes the tool with args in dir. Combined output is returned;
// a non-zero exit becomes KindBuildFailed naming the command line.
func (t *Tool) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, t.Path, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	line := commandLine(t.Name, args)
	Logger().Debug("run", zap.String("cmd", line), zap.String("dir", dir))

	if err := cmd.Run(); err != nil {
		return out.String(), errors.BuildFailed(line, out.String(), err)
	}
	return out.String(), nil
}

// Version runs "verilator --version" and parses the release number.
func (t *Tool) Version(ctx context.Context) (*version.Version, error) {
	out, err := t.Run(ctx, "", "--version")
	if err != nil {
		return nil, err
	}
	return ParseVersion(out)
}

func commandLine(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
