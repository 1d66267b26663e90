package toolregistry

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/kandev/orcad/internal/common/config"
	"github.com/kandev/orcad/internal/common/logger"
)

// DockerExecTool runs a one-shot command in a sandboxed container per
// invocation: create, start, wait for exit, collect output, remove. It is
// the sandbox backend for tools whose catalog entry names a container
// image instead of an in-process implementation.
type DockerExecTool struct {
	cli    *client.Client
	cfg    config.DockerConfig
	logger *logger.Logger
}

// NewDockerExecTool opens a Docker client for sandboxed tool execution.
func NewDockerExecTool(cfg config.DockerConfig, log *logger.Logger) (*DockerExecTool, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker exec tool: create client: %w", err)
	}
	return &DockerExecTool{cli: cli, cfg: cfg, logger: log}, nil
}

// ExecSpec describes one sandboxed command run.
type ExecSpec struct {
	Name  string
	Image string
	Cmd   []string
	Env   []string
}

// Run executes spec in a fresh container and returns its combined
// stdout/stderr and exit code.
func (t *DockerExecTool) Run(ctx context.Context, spec ExecSpec) (output string, exitCode int64, err error) {
	containerCfg := &container.Config{
		Image: spec.Image,
		Cmd:   spec.Cmd,
		Env:   spec.Env,
	}
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(t.cfg.DefaultNetwork),
		AutoRemove:  false,
	}

	resp, err := t.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", -1, fmt.Errorf("docker exec tool: create container: %w", err)
	}
	defer func() {
		_ = t.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := t.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", -1, fmt.Errorf("docker exec tool: start container: %w", err)
	}

	statusCh, errCh := t.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case werr := <-errCh:
		if werr != nil {
			return "", -1, fmt.Errorf("docker exec tool: wait container: %w", werr)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-ctx.Done():
		return "", -1, ctx.Err()
	}

	logs, err := t.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", exitCode, fmt.Errorf("docker exec tool: read logs: %w", err)
	}
	defer logs.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, logs); err != nil && err != io.EOF {
		t.logger.Warn("docker exec tool: truncated log read", zap.Error(err))
	}

	return buf.String(), exitCode, nil
}

// AsInvoker adapts Run to the registry's Invoker signature for a tool whose
// inputs carry "image" and "cmd".
func (t *DockerExecTool) AsInvoker(namePrefix string) Invoker {
	return func(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
		image, _ := inputs["image"].(string)
		if image == "" {
			return nil, fmt.Errorf("docker exec tool: missing image input")
		}
		var cmd []string
		if raw, ok := inputs["cmd"].([]interface{}); ok {
			for _, c := range raw {
				if s, ok := c.(string); ok {
					cmd = append(cmd, s)
				}
			}
		}
		output, exitCode, err := t.Run(ctx, ExecSpec{Name: namePrefix, Image: image, Cmd: cmd})
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"output": output, "exit_code": exitCode}, nil
	}
}

// Close releases the underlying Docker client.
func (t *DockerExecTool) Close() error {
	return t.cli.Close()
}
