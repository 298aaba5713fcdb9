// Package containerhost starts function images with Docker and connects to them over the
// shim protocol or gRPC.
package containerhost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"github.com/3s-rg-codes/apexrt/pkg/shim"
)

const (
	containerPrefix = "apexrt-"
	functionPort    = nat.Port("50052/tcp")
)

// Regex that matches all chars that are not valid in a container name
var forbiddenChars = regexp.MustCompile("[^a-zA-Z0-9_.-]")

type Runtime struct {
	cli    *client.Client
	logger *slog.Logger
}

// NewRuntime connects to the Docker daemon configured by the DOCKER_* environment.
func NewRuntime(logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("could not create Docker client: %w", err)
	}
	return &Runtime{cli: cli, logger: logger}, nil
}

func (r *Runtime) Close() error {
	return r.cli.Close()
}

// Instance is a running function container.
type Instance struct {
	ID      string
	// Address is the host address of the gRPC transport. Empty in shim mode.
	Address string
	// Client talks to the container over its attached stdio. Nil in gRPC mode.
	Client  *shim.Client

	runtime *Runtime
	stdin   interface{ CloseWrite() error }
	closers []io.Closer
	copied  chan error
}

// RunShim starts imageTag with its stdio attached. Function logs are copied to logs.
func (r *Runtime) RunShim(ctx context.Context, imageTag string, env []string, logs io.Writer) (*Instance, error) {
	if logs == nil {
		logs = io.Discard
	}
	if err := r.ensureImage(ctx, imageTag); err != nil {
		return nil, err
	}

	id, err := r.create(ctx, imageTag, &container.Config{
		Image:        imageTag,
		Env:          append([]string{"APEXRT_TRANSPORT=shim"}, env...),
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		OpenStdin:    true,
		StdinOnce:    true,
	}, &container.HostConfig{})
	if err != nil {
		return nil, err
	}

	hijacked, err := r.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		r.remove(id)
		return nil, fmt.Errorf("could not attach to container: %w", err)
	}

	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		hijacked.Close()
		r.remove(id)
		return nil, fmt.Errorf("could not start container: %w", err)
	}

	stdout, copied := demux(hijacked.Reader, logs)
	inst := &Instance{
		ID:      id,
		Client:  shim.NewClient(hijacked.Conn, stdout),
		runtime: r,
		stdin:   &hijacked,
		closers: []io.Closer{stdout},
		copied:  copied,
	}
	inst.closers = append(inst.closers, closerFunc(func() error {
		hijacked.Close()
		return nil
	}))
	r.logger.Debug("Started function container", "id", id, "image", imageTag, "transport", "shim")
	return inst, nil
}

// RunGRPC starts imageTag serving gRPC and publishes its port on the loopback interface.
func (r *Runtime) RunGRPC(ctx context.Context, imageTag string, env []string) (*Instance, error) {
	if err := r.ensureImage(ctx, imageTag); err != nil {
		return nil, err
	}

	id, err := r.create(ctx, imageTag, &container.Config{
		Image: imageTag,
		Env:   append([]string{"APEXRT_TRANSPORT=grpc", "APEXRT_ADDRESS=0.0.0.0:50052"}, env...),
		ExposedPorts: nat.PortSet{
			functionPort: struct{}{},
		},
	}, &container.HostConfig{
		PortBindings: nat.PortMap{
			functionPort: []nat.PortBinding{{HostIP: "127.0.0.1"}},
		},
	})
	if err != nil {
		return nil, err
	}

	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		r.remove(id)
		return nil, fmt.Errorf("could not start container: %w", err)
	}

	info, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		r.remove(id)
		return nil, fmt.Errorf("could not inspect container: %w", err)
	}
	if info.NetworkSettings == nil {
		r.remove(id)
		return nil, fmt.Errorf("container %s has no network settings", id)
	}
	address, err := publishedAddress(info.NetworkSettings.Ports)
	if err != nil {
		r.remove(id)
		return nil, err
	}

	r.logger.Debug("Started function container", "id", id, "image", imageTag, "transport", "grpc", "address", address)
	return &Instance{ID: id, Address: address, runtime: r}, nil
}

// Close ends the instance: stdin is closed, the container gets a moment to exit and is removed.
func (i *Instance) Close(ctx context.Context) error {
	var errs []error
	if i.stdin != nil {
		if err := i.stdin.CloseWrite(); err != nil {
			errs = append(errs, fmt.Errorf("close stdin: %w", err))
		}
		waitC, errC := i.runtime.cli.ContainerWait(ctx, i.ID, container.WaitConditionNotRunning)
		select {
		case <-waitC:
		case err := <-errC:
			errs = append(errs, fmt.Errorf("wait for container: %w", err))
		case <-ctx.Done():
		}
	}
	for _, c := range i.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if i.copied != nil {
		if err := <-i.copied; err != nil {
			errs = append(errs, fmt.Errorf("copy output: %w", err))
		}
	}
	if err := i.runtime.cli.ContainerRemove(context.WithoutCancel(ctx), i.ID, container.RemoveOptions{Force: true}); err != nil {
		errs = append(errs, fmt.Errorf("remove container: %w", err))
	}
	return errors.Join(errs...)
}

func (r *Runtime) ensureImage(ctx context.Context, imageTag string) error {
	imageListArgs := filters.NewArgs()
	imageListArgs.Add("reference", imageTag)
	images, err := r.cli.ImageList(ctx, image.ListOptions{Filters: imageListArgs})
	if err != nil {
		return fmt.Errorf("could not list Docker images: %w", err)
	}
	if len(images) > 0 {
		return nil
	}

	r.logger.Info("Pulling image", "image", imageTag)
	reader, err := r.cli.ImagePull(ctx, imageTag, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("could not pull image %s: %w", imageTag, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("could not pull image %s: %w", imageTag, err)
	}
	r.logger.Info("Pulled image", "image", imageTag)
	return nil
}

func (r *Runtime) create(ctx context.Context, imageTag string, config *container.Config, hostConfig *container.HostConfig) (string, error) {
	resp, err := r.cli.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, nil, containerName(imageTag))
	if err != nil {
		return "", fmt.Errorf("could not create container: %w", err)
	}
	if len(resp.Warnings) > 0 {
		r.logger.Warn("Container created with warnings", "id", resp.ID, "warnings", resp.Warnings)
	}
	return resp.ID, nil
}

func (r *Runtime) remove(id string) {
	if err := r.cli.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true}); err != nil {
		r.logger.Warn("Could not remove container", "id", id, "error", err)
	}
}

// containerName derives a unique container name from an image tag.
func containerName(imageTag string) string {
	name := containerPrefix + imageTag + "-" + uuid.NewString()[:8]
	// only [a-zA-Z0-9][a-zA-Z0-9_.-] are allowed in the container name, just remove all forbidden characters
	return forbiddenChars.ReplaceAllString(name, "")
}

// publishedAddress returns the host address the function port is bound to.
func publishedAddress(ports nat.PortMap) (string, error) {
	for _, binding := range ports[functionPort] {
		if binding.HostPort == "" {
			continue
		}
		host := binding.HostIP
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		return net.JoinHostPort(host, binding.HostPort), nil
	}
	return "", fmt.Errorf("port %s is not published", functionPort)
}

// demux splits the multiplexed attach stream: stdout goes to the returned reader, stderr to
// logs. The channel yields the copy result once the stream ends.
func demux(src io.Reader, logs io.Writer) (*io.PipeReader, chan error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(pw, logs, src)
		pw.CloseWithError(err)
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
			err = nil
		}
		done <- err
	}()
	return pr, done
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
