package vmtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roach88/vmtest/internal/config"
	"github.com/roach88/vmtest/internal/qga"
)

const (
	// shareTag is the 9p mount tag of the working directory share.
	shareTag = "vmtest-share"
	// GuestWorkDir is where the working directory appears in the guest.
	GuestWorkDir = "/mnt/vmtest"

	agentPollInterval = 250 * time.Millisecond
	execPollInterval  = 100 * time.Millisecond
)

// ovmfPaths are the usual install locations of UEFI firmware.
var ovmfPaths = []string{
	"/usr/share/edk2/ovmf/OVMF_CODE.fd",
	"/usr/share/OVMF/OVMF_CODE.fd",
	"/usr/share/edk2-ovmf/x64/OVMF_CODE.fd",
	"/usr/share/qemu/OVMF.fd",
}

type qemuMachine struct {
	spec        MachineSpec
	socket      string
	bootTimeout time.Duration

	mu     sync.Mutex
	cmd    *exec.Cmd
	stderr bytes.Buffer
	exited chan error
	agent  *qga.Client
}

func (v *Vmtest) newQEMU(spec MachineSpec) (Machine, error) {
	return &qemuMachine{
		spec:        spec,
		socket:      filepath.Join(os.TempDir(), fmt.Sprintf("vmtest-%s.sock", spec.Session)),
		bootTimeout: v.bootTimeout,
	}, nil
}

// Boot starts QEMU and waits until the guest agent answers a ping.
func (m *qemuMachine) Boot(ctx context.Context) error {
	args, err := qemuArgs(m.spec, m.socket)
	if err != nil {
		return err
	}
	bin := findBinary(qemuBinary())

	m.mu.Lock()
	// The VM outlives Boot's deadline; Shutdown stops it.
	m.cmd = exec.Command(bin, args...)
	m.cmd.Stderr = &m.stderr
	m.exited = make(chan error, 1)
	m.mu.Unlock()

	m.spec.Logger.Debug("starting qemu", "bin", bin, "args", strings.Join(args, " "))
	if err := m.cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", bin, err)
	}
	go func() { m.exited <- m.cmd.Wait() }()

	bootCtx, cancel := context.WithTimeout(ctx, m.bootTimeout)
	defer cancel()

	ticker := time.NewTicker(agentPollInterval)
	defer ticker.Stop()
	for {
		if agent, err := qga.Dial(bootCtx, m.socket); err == nil {
			if err := agent.Ping(bootCtx); err == nil {
				m.mu.Lock()
				m.agent = agent
				m.mu.Unlock()
				return nil
			}
			_ = agent.Close()
		}

		select {
		case err := <-m.exited:
			m.exited <- err
			return fmt.Errorf("qemu exited during boot: %v: %s", err, strings.TrimSpace(m.stderr.String()))
		case <-bootCtx.Done():
			return fmt.Errorf("waiting for guest agent: %w", bootCtx.Err())
		case <-ticker.C:
		}
	}
}

// Setup mounts the working directory share and any configured mounts.
func (m *qemuMachine) Setup(ctx context.Context, out func(string)) error {
	rc, err := m.exec(ctx, setupScript(m.spec.Target), out)
	if err != nil {
		return err
	}
	if rc != 0 {
		return fmt.Errorf("setup script exited with status %d", rc)
	}
	return nil
}

// Run executes command with /bin/sh from the shared working directory.
func (m *qemuMachine) Run(ctx context.Context, command string, out func(string)) (int64, error) {
	return m.exec(ctx, fmt.Sprintf("cd %s && %s", GuestWorkDir, command), out)
}

// exec runs script and reports its output after it exits; guest-exec-status
// only carries out-data once the process has ended.
func (m *qemuMachine) exec(ctx context.Context, script string, out func(string)) (int64, error) {
	m.mu.Lock()
	agent := m.agent
	m.mu.Unlock()
	if agent == nil {
		return 0, errors.New("guest agent not connected")
	}

	pid, err := agent.Exec(ctx, "/bin/sh", []string{"-c", script}, nil)
	if err != nil {
		return 0, err
	}
	st, err := agent.Wait(ctx, pid, execPollInterval)
	if err != nil {
		return 0, err
	}

	for _, stream := range [][]byte{st.Stdout, st.Stderr} {
		for _, line := range splitLines(stream) {
			out(line)
		}
	}
	return st.ExitCode, nil
}

// Shutdown closes the agent connection and kills QEMU.
func (m *qemuMachine) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.agent != nil {
		if err := m.agent.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close guest agent: %w", err))
		}
		m.agent = nil
	}
	if m.cmd != nil && m.cmd.Process != nil {
		if err := m.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("kill qemu: %w", err))
		}
		<-m.exited
		m.cmd = nil
	}
	if err := os.Remove(m.socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// qemuArgs builds the QEMU command line for spec.
func qemuArgs(spec MachineSpec, socket string) ([]string, error) {
	t := spec.Target
	args := []string{
		"-nodefaults",
		"-display", "none",
		"-no-reboot",
		"-machine", "accel=kvm:tcg",
		"-smp", fmt.Sprint(t.VM.NumCPUs),
		"-m", t.VM.Memory,
		"-chardev", fmt.Sprintf("socket,path=%s,server=on,wait=off,id=qga0", socket),
		"-device", "virtio-serial",
		"-device", "virtserialport,chardev=qga0,name=org.qemu.guest_agent.0",
		"-virtfs", fmt.Sprintf("local,path=%s,mount_tag=%s,security_model=none,id=%s", spec.WorkDir, shareTag, shareTag),
	}

	for i, guest := range sortedMounts(t.VM.Mounts) {
		m := t.VM.Mounts[guest]
		opt := fmt.Sprintf("local,path=%s,mount_tag=%s,security_model=none,id=%s", m.HostPath, mountTag(i), mountTag(i))
		if !m.Writable {
			opt += ",readonly=on"
		}
		args = append(args, "-virtfs", opt)
	}

	if t.KernelMode() {
		cmdline := "console=ttyS0"
		if t.KernelArgs != "" {
			cmdline += " " + t.KernelArgs
		}
		args = append(args, "-kernel", t.Kernel, "-append", cmdline)
	} else {
		format := "raw"
		if strings.EqualFold(filepath.Ext(t.Image), ".qcow2") {
			format = "qcow2"
		}
		args = append(args, "-drive", fmt.Sprintf("file=%s,format=%s,if=virtio,snapshot=on", t.Image, format))
	}

	switch {
	case t.VM.Bios != "":
		args = append(args, "-bios", t.VM.Bios)
	case t.UEFI:
		fw := firstExisting(ovmfPaths)
		if fw == "" {
			return nil, errors.New("uefi requested but no OVMF firmware found; set vm.bios")
		}
		args = append(args, "-bios", fw)
	}

	return append(args, t.VM.ExtraArgs...), nil
}

// setupScript mounts the shares inside the guest.
func setupScript(t config.Target) string {
	mount := func(tag, dir string) string {
		return fmt.Sprintf("mkdir -p %s && mount -t 9p -o trans=virtio,version=9p2000.L %s %s", dir, tag, dir)
	}

	steps := []string{"set -e", mount(shareTag, GuestWorkDir)}
	for i, guest := range sortedMounts(t.VM.Mounts) {
		steps = append(steps, mount(mountTag(i), guest))
	}
	return strings.Join(steps, "\n")
}

func mountTag(i int) string {
	return fmt.Sprintf("vmtest-mount%d", i)
}

func sortedMounts(mounts map[string]config.Mount) []string {
	keys := make([]string, 0, len(mounts))
	for k := range mounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitLines(b []byte) []string {
	s := strings.TrimRight(string(b), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func qemuBinary() string {
	switch runtime.GOARCH {
	case "arm64":
		return "qemu-system-aarch64"
	default:
		return "qemu-system-x86_64"
	}
}

func findBinary(name string) string {
	if p, err := exec.LookPath(name); err == nil {
		return p
	}

	// Common locations on macOS/Linux if not in PATH
	extraPaths := []string{
		"/usr/local/bin/" + name,
		"/opt/homebrew/bin/" + name,
		"/usr/bin/" + name,
		"/bin/" + name,
	}
	if p := firstExisting(extraPaths); p != "" {
		return p
	}

	return name // Fallback to original, which will eventually fail
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
