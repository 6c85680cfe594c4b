package commands

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/christophe-duc/previewd/pkg/config"
)

// SandboxCommand is our interface to the container runtime. The orchestrator
// is the only component holding the runtime socket; everything it does with
// containers and volumes goes through here.
type SandboxCommand struct {
	Log    *logrus.Entry
	Config *config.AppConfig
	Client *client.Client
}

// VolumeMount binds a named docker volume into a container. These are docker
// volume names, not paths: the spawned container cannot see our filesystem.
type VolumeMount struct {
	Name     string
	Target   string
	ReadOnly bool
}

// NewSandboxCommand connects to the container runtime socket.
func NewSandboxCommand(log *logrus.Entry, appConfig *config.AppConfig) (*SandboxCommand, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}

	return &SandboxCommand{
		Log:    log,
		Config: appConfig,
		Client: cli,
	}, nil
}

func (c *SandboxCommand) Close() error {
	return c.Client.Close()
}

// EnsureVolumes creates any of the named volumes that do not exist yet.
func (c *SandboxCommand) EnsureVolumes(names ...string) error {
	for _, name := range names {
		_, err := c.Client.VolumeInspect(context.Background(), name)
		if err == nil {
			continue
		}
		if !errdefs.IsNotFound(err) {
			return err
		}
		if _, err := c.Client.VolumeCreate(context.Background(), volume.CreateOptions{Name: name}); err != nil {
			return err
		}
		c.Log.WithField("volume", name).Info("created volume")
	}
	return nil
}

// CreateVolume creates an ephemeral job volume.
func (c *SandboxCommand) CreateVolume(name string) error {
	_, err := c.Client.VolumeCreate(context.Background(), volume.CreateOptions{Name: name})
	return err
}

// RemoveVolume force-removes a volume. Not-found is ignored: cleanup paths
// run unconditionally.
func (c *SandboxCommand) RemoveVolume(name string) error {
	err := c.Client.VolumeRemove(context.Background(), name, true)
	if err != nil && errdefs.IsNotFound(err) {
		return nil
	}
	return err
}

// RunHelper runs a throwaway container from the minimal helper image with the
// given shell script and volume mounts, waits for it and removes it. No
// network. Used for marshalling files between stage volumes.
func (c *SandboxCommand) RunHelper(script string, mounts []VolumeMount) error {
	sandbox := c.Config.UserConfig.Sandbox

	containerConfig := &container.Config{
		Image: sandbox.HelperImage,
		Cmd:   []string{"sh", "-c", script},
	}
	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		AutoRemove:  false,
		Mounts:      toMounts(mounts),
	}

	created, err := c.Client.ContainerCreate(context.Background(), containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return err
	}
	defer c.RemoveContainer(created.ID)

	if err := c.Client.ContainerStart(context.Background(), created.ID, container.StartOptions{}); err != nil {
		return err
	}

	exitCode, err := c.WaitContainer(created.ID, 60*time.Second)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		logs, _ := c.ContainerLogs(created.ID)
		return fmt.Errorf("helper container exited with code %d: %s", exitCode, strings.TrimSpace(logs))
	}
	return nil
}

// StartProcessor spawns the air-gapped processor container for one job: no
// network, read-only root, memory/cpu/pids caps, scratch tmpfs, and the
// configured kernel-isolation runtime. Returns the container ID.
func (c *SandboxCommand) StartProcessor(jobVolume string) (string, error) {
	sandbox := c.Config.UserConfig.Sandbox
	volumes := c.Config.UserConfig.Volumes

	mounts := []VolumeMount{
		{Name: jobVolume, Target: "/work"},
		{Name: volumes.CADExchange, Target: "/cad-exchange"},
		{Name: volumes.OCRExchange, Target: "/ocr-exchange"},
	}

	return c.startSandboxed(sandbox.Image, sandboxLimits{
		memory:    sandbox.Memory,
		cpus:      sandbox.CPUs,
		pidsLimit: sandbox.PidsLimit,
		tmpfsSize: sandbox.TmpfsSize,
	}, mounts, nil)
}

// StartCADSidecar spawns the CAD converter sidecar bound to the shared CAD
// exchange volume. The sidecar is just as untrusted as the processor (it
// parses attacker-controlled CAD files), so it gets the same runtime.
func (c *SandboxCommand) StartCADSidecar() (string, error) {
	cad := c.Config.UserConfig.CAD
	volumes := c.Config.UserConfig.Volumes

	mounts := []VolumeMount{
		{Name: volumes.CADExchange, Target: "/cad-exchange"},
	}

	return c.startSandboxed(cad.Image, sandboxLimits{
		memory:    cad.Memory,
		pidsLimit: cad.PidsLimit,
		tmpfsSize: cad.TmpfsSize,
	}, mounts, nil)
}

type sandboxLimits struct {
	memory    string
	cpus      float64
	pidsLimit int64
	tmpfsSize string
}

func (c *SandboxCommand) startSandboxed(image string, limits sandboxLimits, mounts []VolumeMount, cmd []string) (string, error) {
	memBytes, err := units.RAMInBytes(limits.memory)
	if err != nil {
		return "", fmt.Errorf("invalid memory limit %q: %w", limits.memory, err)
	}

	pidsLimit := limits.pidsLimit

	containerConfig := &container.Config{
		Image: image,
		Cmd:   cmd,
	}
	hostConfig := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Mounts:         toMounts(mounts),
		Tmpfs: map[string]string{
			"/tmp": fmt.Sprintf("size=%s,mode=1777", limits.tmpfsSize),
		},
		Resources: container.Resources{
			Memory:    memBytes,
			NanoCPUs:  int64(limits.cpus * 1e9),
			PidsLimit: &pidsLimit,
		},
	}

	// runc is the daemon default; only pass a runtime name when we want
	// kernel isolation (runsc/kata)
	if runtime := c.Config.UserConfig.Sandbox.Runtime; runtime != "" && runtime != "runc" {
		hostConfig.Runtime = runtime
	}

	created, err := c.Client.ContainerCreate(context.Background(), containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return "", err
	}

	if err := c.Client.ContainerStart(context.Background(), created.ID, container.StartOptions{}); err != nil {
		c.RemoveContainer(created.ID)
		return "", err
	}

	c.Log.WithFields(logrus.Fields{
		"container": shortID(created.ID),
		"image":     image,
		"runtime":   c.Config.UserConfig.Sandbox.Runtime,
	}).Debug("started sandboxed container")

	return created.ID, nil
}

// WaitContainer waits for the container to stop, killing it if the timeout
// elapses first. Returns the exit code.
func (c *SandboxCommand) WaitContainer(containerID string, timeout time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	statusCh, errCh := c.Client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case status := <-statusCh:
		if status.Error != nil {
			return status.StatusCode, fmt.Errorf("container wait: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	case err := <-errCh:
		// context deadline or daemon failure: make sure the container dies
		if killErr := c.Client.ContainerKill(context.Background(), containerID, "KILL"); killErr != nil && !errdefs.IsNotFound(killErr) {
			c.Log.WithField("container", shortID(containerID)).Warn("failed to kill container after wait error")
		}
		return -1, err
	}
}

// ContainerLogs returns the container's combined stdout and stderr.
func (c *SandboxCommand) ContainerLogs(containerID string) (string, error) {
	reader, err := c.Client.ContainerLogs(context.Background(), containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RemoveContainer force-removes a container, ignoring not-found.
func (c *SandboxCommand) RemoveContainer(containerID string) {
	err := c.Client.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		c.Log.WithField("container", shortID(containerID)).WithError(err).Warn("failed to remove container")
	}
}

// KillContainer kills and removes a container, ignoring not-found. Used on
// cleanup paths where the container may already be gone.
func (c *SandboxCommand) KillContainer(containerID string) {
	if err := c.Client.ContainerKill(context.Background(), containerID, "KILL"); err != nil && !errdefs.IsNotFound(err) {
		c.Log.WithField("container", shortID(containerID)).WithError(err).Debug("kill failed")
	}
	c.RemoveContainer(containerID)
}

// SweepExchange removes every file in the CAD exchange volume whose name
// starts with the given prefix. Run after each CAD job so a crashed processor
// cannot leave requests behind for the next job to trip on.
func (c *SandboxCommand) SweepExchange(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("refusing to sweep exchange with empty prefix")
	}
	script := fmt.Sprintf("rm -f /cad-exchange/%s*", prefix)
	return c.RunHelper(script, []VolumeMount{
		{Name: c.Config.UserConfig.Volumes.CADExchange, Target: "/cad-exchange"},
	})
}

func toMounts(vms []VolumeMount) []mount.Mount {
	mounts := make([]mount.Mount, len(vms))
	for i, vm := range vms {
		mounts[i] = mount.Mount{
			Type:     mount.TypeVolume,
			Source:   vm.Name,
			Target:   vm.Target,
			ReadOnly: vm.ReadOnly,
		}
	}
	return mounts
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
