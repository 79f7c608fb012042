// Package fingerprint derives a stable machine identity, adapted
// directly from the teacher's fingerprint.go/device_info.go/
// network_info.go: a sha1 hash of hostname + machine-id + MAC
// addresses + interface names, persisted once as a device id so a
// machine keeps the same identity across agent restarts.
package fingerprint

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Info is the fingerprint payload reported in agent:register.
type Info struct {
	Hostname     string   `json:"hostname"`
	MachineID    string   `json:"machineId"`
	MACAddresses []string `json:"macAddresses"`
	NICs         []string `json:"nics"`
	Fingerprint  string   `json:"fingerprint"`
}

// Collect gathers the current machine's fingerprint material.
func Collect() Info {
	hostname, _ := os.Hostname()
	machineID := readFileTrim("/etc/machine-id")
	macs, nics := listInterfaces()

	h := sha1.New()
	h.Write([]byte(hostname))
	h.Write([]byte(machineID))
	h.Write([]byte(strings.Join(macs, ",")))
	h.Write([]byte(strings.Join(nics, ",")))

	return Info{
		Hostname:     hostname,
		MachineID:    machineID,
		MACAddresses: macs,
		NICs:         nics,
		Fingerprint:  hex.EncodeToString(h.Sum(nil)),
	}
}

func readFileTrim(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func listInterfaces() ([]string, []string) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, nil
	}
	macs := []string{}
	nics := []string{}
	for _, iface := range ifs {
		nics = append(nics, iface.Name)
		if len(iface.HardwareAddr) > 0 {
			macs = append(macs, iface.HardwareAddr.String())
		}
	}
	return macs, nics
}

// NetworkInfo enumerates IPv4/IPv6 addresses of non-loopback,
// up interfaces, adapted from network_info.go.
type NetworkInfo struct {
	IPv4 []string `json:"ipv4"`
	IPv6 []string `json:"ipv6"`
}

// CollectNetworkInfo reports this machine's routable addresses.
func CollectNetworkInfo() NetworkInfo {
	var ipv4, ipv6 []string

	ifaces, err := net.Interfaces()
	if err != nil {
		return NetworkInfo{}
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP == nil || ipNet.IP.IsLoopback() {
				continue
			}
			if ipNet.IP.To4() != nil {
				ipv4 = append(ipv4, ipNet.IP.String())
			} else if ipNet.IP.To16() != nil {
				ipv6 = append(ipv6, ipNet.IP.String())
			}
		}
	}
	return NetworkInfo{IPv4: ipv4, IPv6: ipv6}
}

// DeviceInfo is a persisted, random device id independent of network
// hardware (unlike the sha1 Fingerprint above, it survives a NIC
// swap). relay-agent reports it as the MachineID only when Collect
// yields an empty Fingerprint.
type DeviceInfo struct {
	DeviceID string `json:"deviceId"`
}

func deviceInfoPath() (string, error) {
	home := os.Getenv("CNM_AGENT_HOME")
	if home == "" {
		var err error
		home, err = os.UserHomeDir()
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(home, ".cnm-agent", "device-info.json"), nil
}

// EnsureDeviceInfo loads or creates the persisted device id.
func EnsureDeviceInfo() (DeviceInfo, error) {
	path, err := deviceInfoPath()
	if err != nil {
		return DeviceInfo{}, err
	}

	if data, err := os.ReadFile(path); err == nil {
		var info DeviceInfo
		if json.Unmarshal(data, &info) == nil && info.DeviceID != "" {
			return info, nil
		}
	}

	info := DeviceInfo{DeviceID: generateDeviceID()}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return DeviceInfo{}, err
	}
	payload, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return DeviceInfo{}, err
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return DeviceInfo{}, err
	}
	return info, nil
}

func generateDeviceID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
