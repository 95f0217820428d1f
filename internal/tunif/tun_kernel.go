//go:build linux || darwin

package tunif

import (
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/songgao/water"
)

// KernelDevice is the real, kernel-backed TUN implementation. It acquires
// a cloning TUN device directly and retains the handle in-process — no
// helper-process bridge, per design (a privileged-sidecar Unix-socket
// bridge is an artifact of a different runtime's restricted raw-socket
// access, not part of this design).
type KernelDevice struct {
	iface  *water.Interface
	name   string
	mtu    int
	subnet *net.IPNet
	gw     net.IP

	writeMu sync.Mutex

	natApplied    bool
	natOutIface   string
	forwardSubnet string
}

// NewKernel acquires a kernel TUN device and records the given
// configuration; AssignIP is what brings the interface up.
func NewKernel(cfg Config) (*KernelDevice, error) {
	wcfg := water.Config{DeviceType: water.TUN}
	if cfg.Name != "" && runtime.GOOS != "darwin" {
		wcfg.Name = cfg.Name
	}

	iface, err := water.New(wcfg)
	if err != nil {
		return nil, fmt.Errorf("tunif: create device: %w", err)
	}

	dev := &KernelDevice{
		iface:  iface,
		name:   iface.Name(),
		mtu:    cfg.MTU,
		subnet: cfg.Subnet,
		gw:     cfg.GatewayIP,
	}
	return dev, nil
}

// AssignIP brings the interface up with addr/mask and, on Linux, enables
// IPv4 forwarding plus a NAT masquerade rule for the VPN subnet. Failure to
// configure forwarding/NAT is soft: the error is discarded (not logged) and
// AssignIP returns nil, since a container without NET_ADMIN may rely on the
// host having configured this externally.
func (d *KernelDevice) AssignIP(addr net.IP, mask net.IPMask) error {
	switch runtime.GOOS {
	case "linux":
		if err := d.configureLinux(addr, mask); err != nil {
			return err
		}
		if err := d.enableForwardingAndNAT(); err != nil {
			// soft failure: forwarding/NAT may already be configured
			// externally by the container host.
			return nil //nolint:nilerr
		}
		return nil
	case "darwin":
		return d.configureDarwin(addr, mask)
	default:
		return fmt.Errorf("tunif: unsupported OS %q", runtime.GOOS)
	}
}

func (d *KernelDevice) configureLinux(addr net.IP, mask net.IPMask) error {
	ones, _ := mask.Size()

	cmd := exec.Command("ip", "link", "set", "dev", d.name, "mtu", fmt.Sprintf("%d", d.mtu), "up")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tunif: ip link set failed: %s: %w", string(out), err)
	}

	cmd = exec.Command("ip", "addr", "add", fmt.Sprintf("%s/%d", addr.String(), ones), "dev", d.name)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tunif: ip addr add failed: %s: %w", string(out), err)
	}
	return nil
}

func (d *KernelDevice) configureDarwin(addr net.IP, mask net.IPMask) error {
	cmd := exec.Command("ifconfig", d.name, addr.String(), addr.String(), "mtu", fmt.Sprintf("%d", d.mtu), "up")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tunif: ifconfig failed: %s: %w", string(out), err)
	}

	if d.subnet != nil {
		ones, _ := mask.Size()
		cmd = exec.Command("route", "add", "-net", fmt.Sprintf("%s/%d", d.subnet.IP, ones), addr.String())
		_, _ = cmd.CombinedOutput() // route may already exist; non-fatal
	}
	return nil
}

// enableForwardingAndNAT turns on IPv4 forwarding and masquerades the VPN
// subnet out the detected default interface.
func (d *KernelDevice) enableForwardingAndNAT() error {
	if d.subnet == nil {
		return nil
	}

	cmd := exec.Command("sysctl", "-w", "net.ipv4.ip_forward=1")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tunif: enable forwarding: %s: %w", string(out), err)
	}

	outIface, err := defaultEgressInterface()
	if err != nil {
		return fmt.Errorf("tunif: detect default interface: %w", err)
	}

	cmd = exec.Command("iptables", "-t", "nat", "-A", "POSTROUTING",
		"-s", d.subnet.String(), "-o", outIface, "-j", "MASQUERADE")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tunif: add masquerade rule: %s: %w", string(out), err)
	}

	d.natApplied = true
	d.natOutIface = outIface
	d.forwardSubnet = d.subnet.String()
	return nil
}

func (d *KernelDevice) removeNAT() {
	if !d.natApplied {
		return
	}
	cmd := exec.Command("iptables", "-t", "nat", "-D", "POSTROUTING",
		"-s", d.forwardSubnet, "-o", d.natOutIface, "-j", "MASQUERADE")
	_, _ = cmd.CombinedOutput()
}

func defaultEgressInterface() (string, error) {
	out, err := exec.Command("ip", "route", "show", "default").Output()
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(out))
	for i, f := range fields {
		if f == "dev" && i+1 < len(fields) {
			return fields[i+1], nil
		}
	}
	return "", fmt.Errorf("no default route found")
}

// Read returns the next outbound IPv4 datagram from the kernel.
func (d *KernelDevice) Read() ([]byte, error) {
	buf := make([]byte, d.mtu+64)
	n, err := d.iface.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Write pushes a packet toward the kernel. Serialized: multiple sessions
// may call concurrently.
func (d *KernelDevice) Write(packet []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_, err := d.iface.Write(packet)
	return err
}

func (d *KernelDevice) Name() string { return d.name }
func (d *KernelDevice) MTU() int     { return d.mtu }

// Destroy removes the NAT masquerade rule added by AssignIP (if any) and
// closes the handle. The ip_forward sysctl is left as it is.
func (d *KernelDevice) Destroy() error {
	d.removeNAT()
	return d.iface.Close()
}

var _ Interface = (*KernelDevice)(nil)
