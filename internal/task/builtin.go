package task

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Built-in task kinds.
const (
	// KindIdentity forwards its inputs unchanged. Graph tooling treats
	// identity nodes as pass-throughs and collapses them across boundaries.
	KindIdentity = "identity"
	// KindValue emits its params as outputs.
	KindValue = "value"
	// KindCommand runs an external program.
	KindCommand = "command"
)

func registerBuiltins(r *Registry) {
	r.Register(KindIdentity, func(map[string]any) (Task, error) {
		return Func(func(_ context.Context, in Inputs) (Result, error) {
			out := make(Result, len(in))
			for k, v := range in {
				out[k] = v
			}
			return out, nil
		}), nil
	})
	r.Register(KindValue, func(params map[string]any) (Task, error) {
		return Func(func(context.Context, Inputs) (Result, error) {
			out := make(Result, len(params))
			for k, v := range params {
				out[k] = v
			}
			return out, nil
		}), nil
	})
	r.Register(KindCommand, newCommand)
}

type workDirKey struct{}

// WithWorkDir records the node working directory for tasks that need it.
func WithWorkDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, workDirKey{}, dir)
}

// WorkDirFrom returns the directory stored by WithWorkDir, or "".
func WorkDirFrom(ctx context.Context) string {
	dir, _ := ctx.Value(workDirKey{}).(string)
	return dir
}

// command runs argv with ${name} references expanded from the inputs and
// ${workdir}. Declared outputs are templates expanded the same way, stdout
// is always reported.
type command struct {
	argv    []string
	shell   bool
	outputs map[string]string
	env     map[string]string
}

func newCommand(params map[string]any) (Task, error) {
	c := &command{outputs: map[string]string{}, env: map[string]string{}}
	switch v := params["command"].(type) {
	case string:
		c.argv = []string{v}
		c.shell = true
	case []any:
		for _, a := range v {
			c.argv = append(c.argv, fmt.Sprint(a))
		}
	case []string:
		c.argv = append(c.argv, v...)
	default:
		return nil, fmt.Errorf("param %q must be a string or a list of strings", "command")
	}
	if len(c.argv) == 0 || c.argv[0] == "" {
		return nil, fmt.Errorf("param %q is empty", "command")
	}
	if outs, ok := params["outputs"].(map[string]any); ok {
		for k, v := range outs {
			c.outputs[k] = fmt.Sprint(v)
		}
	}
	if env, ok := params["env"].(map[string]any); ok {
		for k, v := range env {
			c.env[k] = fmt.Sprint(v)
		}
	}
	return c, nil
}

func (c *command) Run(ctx context.Context, in Inputs) (Result, error) {
	workDir := WorkDirFrom(ctx)
	expand := func(s string) string {
		return os.Expand(s, func(name string) string {
			if name == "workdir" {
				return workDir
			}
			if v, ok := in[name]; ok && v != nil {
				return fmt.Sprint(v)
			}
			return ""
		})
	}

	argv := make([]string, len(c.argv))
	for i, a := range c.argv {
		argv[i] = expand(a)
	}
	var cmd *exec.Cmd
	if c.shell {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", argv[0])
	} else {
		cmd = exec.CommandContext(ctx, argv[0], argv[1:]...)
	}
	cmd.Dir = workDir
	cmd.Env = os.Environ()
	for k, v := range c.env {
		cmd.Env = append(cmd.Env, k+"="+expand(v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}

	out := Result{"stdout": strings.TrimSpace(stdout.String())}
	for k, tmpl := range c.outputs {
		out[k] = expand(tmpl)
	}
	return out, nil
}
