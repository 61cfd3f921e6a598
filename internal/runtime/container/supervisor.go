// Package container runs plugins as Docker containers: pull, create,
// start, stop, health-poll, and log-stream, all via the Docker SDK.
package container

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/forgehook/forgehook/internal/models"
	"github.com/forgehook/forgehook/internal/port"
	"github.com/forgehook/forgehook/internal/runtime"
)

// pluginContainerPort is the internal port a container-runtime plugin
// image is expected to listen on when its manifest does not declare one
// explicitly via the top-level port field.
const pluginContainerPort = 8080

// containerPort returns the manifest's declared port, falling back to
// pluginContainerPort.
func containerPort(manifest models.ForgeHookManifest) int {
	if manifest.Port != nil && *manifest.Port > 0 {
		return *manifest.Port
	}
	return pluginContainerPort
}

// containerEnv renders the manifest's declared environment defaults as
// Docker's KEY=VALUE slice form.
func containerEnv(manifest models.ForgeHookManifest) []string {
	defaults := manifest.EnvDefaults()
	env := make([]string, 0, len(defaults))
	for k, v := range defaults {
		env = append(env, k+"="+v)
	}
	return env
}

const (
	maxPullAttempts   = 3
	pullAttemptTimeout = 120 * time.Second
	startTimeout      = 30 * time.Second
)

// Supervisor implements runtime.Driver for models.RuntimeContainer.
type Supervisor struct {
	cli         *client.Client
	network     string
	allocator   *port.Allocator
	httpClient  *http.Client
}

// NewSupervisor creates a container supervisor talking to dockerHost,
// joining every plugin container to networkName (created lazily).
func NewSupervisor(dockerHost, networkName string, allocator *port.Allocator) (*Supervisor, error) {
	cli, err := client.NewClientWithOpts(client.WithHost(dockerHost), client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Supervisor{
		cli:        cli,
		network:    networkName,
		allocator:  allocator,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (s *Supervisor) Runtime() models.Runtime { return models.RuntimeContainer }

func (s *Supervisor) containerName(pluginID string) string {
	return fmt.Sprintf("forgehook-%s", pluginID)
}

// ensureNetwork creates the shared forgehook bridge network if absent.
func (s *Supervisor) ensureNetwork(ctx context.Context) error {
	networks, err := s.cli.NetworkList(ctx, types.NetworkListOptions{})
	if err != nil {
		return fmt.Errorf("listing networks: %w", err)
	}
	for _, n := range networks {
		if n.Name == s.network {
			return nil
		}
	}
	_, err = s.cli.NetworkCreate(ctx, s.network, types.NetworkCreate{
		Driver: "bridge",
		Labels: map[string]string{"app": "forgehook", "component": "plugin-network"},
	})
	if err != nil {
		return fmt.Errorf("creating network %s: %w", s.network, err)
	}
	return nil
}

// pullImage pulls image if not already present locally, retrying up to
// maxPullAttempts times with exponential backoff.
func (s *Supervisor) pullImage(ctx context.Context, image string) error {
	if _, _, err := s.cli.ImageInspectWithRaw(ctx, image); err == nil {
		return nil
	}

	var lastErr error
	backoff := 2 * time.Second
	for attempt := 1; attempt <= maxPullAttempts; attempt++ {
		pullCtx, cancel := context.WithTimeout(ctx, pullAttemptTimeout)
		reader, err := s.cli.ImagePull(pullCtx, image, types.ImagePullOptions{})
		if err == nil {
			_, err = io.Copy(io.Discard, reader)
			reader.Close()
		}
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxPullAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return fmt.Errorf("pulling image %s after %d attempts: %w", image, maxPullAttempts, lastErr)
}

// Start pulls the manifest's image, creates and starts a container bound
// to a freshly allocated host port, and waits for it to report running.
func (s *Supervisor) Start(ctx context.Context, inst *models.PluginInstance) error {
	if err := s.ensureNetwork(ctx); err != nil {
		return err
	}
	if err := s.pullImage(ctx, inst.Manifest.Entrypoint.ImageTag); err != nil {
		return err
	}

	hostPort, err := s.allocator.Allocate()
	if err != nil {
		return err
	}

	natPort := nat.Port(fmt.Sprintf("%d/tcp", containerPort(inst.Manifest)))
	config := &dockercontainer.Config{
		Image: inst.Manifest.Entrypoint.ImageTag,
		Labels: map[string]string{
			"app":       "forgehook",
			"plugin-id": inst.ID,
		},
		Env:          containerEnv(inst.Manifest),
		ExposedPorts: nat.PortSet{natPort: struct{}{}},
	}

	hostConfig := &dockercontainer.HostConfig{
		PortBindings: nat.PortMap{
			natPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", hostPort)}},
		},
		RestartPolicy: dockercontainer.RestartPolicy{Name: "unless-stopped"},
	}

	if inst.Manifest.Resources != nil {
		if inst.Manifest.Resources.Memory != "" {
			mem, err := parseMemory(inst.Manifest.Resources.Memory)
			if err != nil {
				s.allocator.Release(hostPort)
				return fmt.Errorf("invalid resources.memory: %w", err)
			}
			hostConfig.Resources.Memory = mem
		}
		if inst.Manifest.Resources.CPU != "" {
			cpu, err := parseCPU(inst.Manifest.Resources.CPU)
			if err != nil {
				s.allocator.Release(hostPort)
				return fmt.Errorf("invalid resources.cpu: %w", err)
			}
			hostConfig.Resources.NanoCPUs = cpu
		}
	}

	networkConfig := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{s.network: {}},
	}

	name := s.containerName(inst.ID)
	resp, err := s.cli.ContainerCreate(ctx, config, hostConfig, networkConfig, nil, name)
	if err != nil {
		s.allocator.Release(hostPort)
		return fmt.Errorf("creating container %s: %w", name, err)
	}

	if err := s.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		s.allocator.Release(hostPort)
		return fmt.Errorf("starting container %s: %w", name, err)
	}

	if err := s.waitForRunning(ctx, resp.ID, startTimeout); err != nil {
		s.allocator.Release(hostPort)
		return err
	}

	inst.ContainerID = &resp.ID
	inst.Port = &hostPort
	return nil
}

func (s *Supervisor) waitForRunning(ctx context.Context, containerID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		inspect, err := s.cli.ContainerInspect(ctx, containerID)
		if err != nil {
			return fmt.Errorf("inspecting container: %w", err)
		}
		if inspect.State.Running {
			return nil
		}
		if inspect.State.Status == "exited" || inspect.State.Status == "dead" {
			return fmt.Errorf("container exited unexpectedly (status=%s, exit=%d)", inspect.State.Status, inspect.State.ExitCode)
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for container to report running")
}

// Stop stops inst's container but leaves it (and its allocated port)
// intact so Start can resume it later.
func (s *Supervisor) Stop(ctx context.Context, inst *models.PluginInstance) error {
	if inst.ContainerID == nil {
		return nil
	}
	timeoutSec := 10
	if err := s.cli.ContainerStop(ctx, *inst.ContainerID, dockercontainer.StopOptions{Timeout: &timeoutSec}); err != nil {
		return fmt.Errorf("stopping container: %w", err)
	}
	return nil
}

// Remove removes inst's container and releases its port, called after
// Stop during uninstall.
func (s *Supervisor) Remove(ctx context.Context, inst *models.PluginInstance) error {
	if inst.ContainerID != nil {
		if err := s.cli.ContainerRemove(ctx, *inst.ContainerID, types.ContainerRemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("removing container: %w", err)
		}
	}
	if inst.Port != nil {
		s.allocator.Release(*inst.Port)
	}
	return nil
}

// HealthCheck reports unhealthy if the container is not running or its
// HTTP surface does not answer GET /health.
func (s *Supervisor) HealthCheck(ctx context.Context, inst *models.PluginInstance) error {
	if inst.ContainerID == nil {
		return fmt.Errorf("instance has no container")
	}
	inspect, err := s.cli.ContainerInspect(ctx, *inst.ContainerID)
	if err != nil {
		return fmt.Errorf("inspecting container: %w", err)
	}
	if !inspect.State.Running {
		return fmt.Errorf("container not running (status=%s)", inspect.State.Status)
	}
	if inst.Port == nil {
		return fmt.Errorf("instance has no assigned port")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/health", *inst.Port), nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Invoke POSTs the payload to the container's {basePath}/{function} endpoint.
func (s *Supervisor) Invoke(ctx context.Context, inst *models.PluginInstance, function string, payload []byte) (*runtime.InvokeResult, error) {
	if inst.Port == nil {
		return nil, fmt.Errorf("instance has no assigned port")
	}
	url := s.containerURL(inst, function)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	latency := time.Since(start).Seconds()
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	result, err := classifyResponse(resp)
	if err != nil {
		return nil, err
	}
	result.Latency = latency
	return result, nil
}

// Proxy mirrors an arbitrary request to the container's HTTP surface.
func (s *Supervisor) Proxy(ctx context.Context, inst *models.PluginInstance, method, path string, header http.Header, body io.Reader) (*http.Response, error) {
	if inst.Port == nil {
		return nil, fmt.Errorf("instance has no assigned port")
	}
	url := s.containerURL(inst, path)

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for k, vv := range header {
		lk := strings.ToLower(k)
		if lk == "host" || lk == "connection" {
			continue
		}
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	return s.httpClient.Do(req)
}

// containerURL builds the instance's {host}:{port}/{basePath}/{path} URL,
// joining the manifest's basePath ahead of the invoked function/proxy path.
func (s *Supervisor) containerURL(inst *models.PluginInstance, path string) string {
	base := strings.Trim(inst.Manifest.EffectiveBasePath(), "/")
	p := strings.TrimLeft(path, "/")
	if base == "" {
		return fmt.Sprintf("http://127.0.0.1:%d/%s", *inst.Port, p)
	}
	return fmt.Sprintf("http://127.0.0.1:%d/%s/%s", *inst.Port, base, p)
}

// ImageSave streams imageTag as a docker-save tarball, used by the
// Package Codec to embed image.tar in a .fhk export of a container-runtime
// plugin.
func (s *Supervisor) ImageSave(ctx context.Context, imageTag string) (io.ReadCloser, error) {
	rc, err := s.cli.ImageSave(ctx, []string{imageTag})
	if err != nil {
		return nil, fmt.Errorf("saving image %s: %w", imageTag, err)
	}
	return rc, nil
}

// ImageLoad imports a docker-save tarball (as produced by ImageSave or
// `docker save`) into the local image store, so its imageTag becomes
// startable without a registry pull. Used by the Package Codec on .fhk
// import.
func (s *Supervisor) ImageLoad(ctx context.Context, r io.Reader) error {
	resp, err := s.cli.ImageLoad(ctx, r, true)
	if err != nil {
		return fmt.Errorf("loading image: %w", err)
	}
	defer resp.Body.Close()
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

// Logs streams the container's recent stdout/stderr.
func (s *Supervisor) Logs(ctx context.Context, inst *models.PluginInstance, tailLines int) (io.ReadCloser, error) {
	if inst.ContainerID == nil {
		return nil, fmt.Errorf("instance has no container")
	}
	tail := "200"
	if tailLines > 0 {
		tail = fmt.Sprintf("%d", tailLines)
	}
	return s.cli.ContainerLogs(ctx, *inst.ContainerID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
	})
}

func classifyResponse(resp *http.Response) (*runtime.InvokeResult, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	result := &runtime.InvokeResult{StatusCode: resp.StatusCode}
	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "application/json"):
		var v interface{}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &v); err != nil {
				return nil, fmt.Errorf("decoding json response: %w", err)
			}
		}
		result.Result = v
	case strings.HasPrefix(contentType, "text/"):
		result.Text = string(body)
	default:
		result.RawBase64 = base64.StdEncoding.EncodeToString(body)
	}
	return result, nil
}
