package netdiag

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/netmedic/netmedic/pkg/models"
)

var getIPConfigDef = models.ToolDefinition{
	Name:        "get_ip_config",
	DisplayName: "Get IP Configuration",
	Description: "Report the machine's network configuration: interface addresses, default gateway, and DNS servers.",
	Category:    models.ToolCategoryIPConfig,
	OSILayer:    3,
	Parameters:  []models.ToolParameter{},
}

var renewDHCPDef = models.ToolDefinition{
	Name:        "renew_dhcp",
	DisplayName: "Renew DHCP Lease",
	Description: "Release and renew the DHCP lease. Fixes stale or conflicting addresses; briefly interrupts connectivity.",
	Category:    models.ToolCategoryIPConfig,
	OSILayer:    3,
	Mutating:    true,
	Parameters: []models.ToolParameter{
		{Name: "interface", Type: models.ParamString, Description: "Interface to renew. Defaults to the one carrying the default route."},
	},
}

var listInterfacesDef = models.ToolDefinition{
	Name:        "list_interfaces",
	DisplayName: "List Network Interfaces",
	Description: "Enumerate all network interfaces with their state, addresses, and hardware details.",
	Category:    models.ToolCategoryAdapter,
	OSILayer:    1,
	Parameters:  []models.ToolParameter{},
}

func (s *Suite) getIPConfig(ctx context.Context, _ map[string]any) (*models.DiagnosticResult, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return s.failure("get_ip_config", fmt.Sprintf("enumerate interfaces: %v", err)), nil
	}

	var active []map[string]any
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs := interfaceIPv4s(iface)
		if len(addrs) == 0 {
			continue
		}
		active = append(active, map[string]any{
			"name":      iface.Name,
			"addresses": addrs,
			"mac":       iface.HardwareAddr.String(),
		})
	}

	data := map[string]any{"interfaces": active}
	if gw, err := s.defaultGateway(ctx); err == nil {
		data["gateway"] = gw
	}
	if servers := s.dnsServers(ctx); len(servers) > 0 {
		data["dns_servers"] = servers
	}

	if len(active) == 0 {
		result := s.failure("get_ip_config", "no interface has an IPv4 address",
			"The machine is not on any network. Check cabling or WiFi, then run renew_dhcp.")
		result.Data = data
		return result, nil
	}
	return s.success("get_ip_config", data), nil
}

// dnsServers reads the configured resolvers through the platform's
// native source.
func (s *Suite) dnsServers(ctx context.Context) []string {
	switch s.goos {
	case "linux":
		raw, err := os.ReadFile("/etc/resolv.conf")
		if err != nil {
			return nil
		}
		return parseResolvConf(string(raw))
	case "darwin":
		res := s.run(ctx, []string{"scutil", "--dns"}, commandTimeout)
		return parseScutilDNS(res.Stdout)
	case "windows":
		res := s.shell(ctx, `Get-DnsClientServerAddress -AddressFamily IPv4 | Select-Object -ExpandProperty ServerAddresses`, commandTimeout)
		return parseLines(res.Stdout)
	default:
		return nil
	}
}

func (s *Suite) renewDHCP(ctx context.Context, args map[string]any) (*models.DiagnosticResult, error) {
	var input struct {
		Interface string `json:"interface"`
	}
	if err := decodeArgs(args, &input); err != nil {
		return s.failure("renew_dhcp", err.Error()), nil
	}
	iface := strings.TrimSpace(input.Interface)

	switch s.goos {
	case "linux":
		if iface == "" {
			iface = s.defaultRouteInterface(ctx)
		}
		if iface == "" {
			return s.failure("renew_dhcp", "could not determine which interface to renew",
				"Pass the interface name explicitly, for example renew_dhcp{interface:\"eth0\"}."), nil
		}
		s.run(ctx, []string{"dhclient", "-r", iface}, mutateTimeout)
		res := s.run(ctx, []string{"dhclient", iface}, mutateTimeout)
		if res.ExitCode != 0 {
			// dhclient is absent on NetworkManager-only hosts; bounce the
			// device through nmcli instead.
			down := s.run(ctx, []string{"nmcli", "device", "disconnect", iface}, mutateTimeout)
			up := s.run(ctx, []string{"nmcli", "device", "connect", iface}, mutateTimeout)
			if down.ExitCode != 0 || up.ExitCode != 0 {
				return s.failure("renew_dhcp", strings.TrimSpace(firstNonEmpty(res.Stderr, up.Stderr, "lease renewal failed")),
					"Renewal usually needs elevated privileges.",
					"Check that a DHCP server is reachable on the local network."), nil
			}
		}
		return s.verifyLease(iface), nil
	case "darwin":
		if iface == "" {
			iface = "en0"
		}
		res := s.run(ctx, []string{"ipconfig", "set", iface, "DHCP"}, mutateTimeout)
		if res.ExitCode != 0 {
			return s.failure("renew_dhcp", strings.TrimSpace(firstNonEmpty(res.Stderr, "ipconfig set failed")),
				"Renewal needs elevated privileges (sudo)."), nil
		}
		return s.verifyLease(iface), nil
	case "windows":
		release := []string{"ipconfig", "/release"}
		renew := []string{"ipconfig", "/renew"}
		if iface != "" {
			release = append(release, iface)
			renew = append(renew, iface)
		}
		s.run(ctx, release, mutateTimeout)
		res := s.run(ctx, renew, mutateTimeout)
		if res.ExitCode != 0 {
			return s.failure("renew_dhcp", strings.TrimSpace(firstNonEmpty(res.Stderr, res.Stdout, "ipconfig /renew failed")),
				"Run from an elevated prompt.",
				"Check that a DHCP server is reachable on the local network."), nil
		}
		return s.verifyLease(iface), nil
	default:
		return models.Unsupported("renew_dhcp", s.goos), nil
	}
}

// verifyLease re-reads interface state after the renew so success means
// an address is actually held, not just that the command exited zero.
func (s *Suite) verifyLease(iface string) *models.DiagnosticResult {
	data := map[string]any{"renewed": true}
	if iface != "" {
		data["interface"] = iface
		if ni, err := net.InterfaceByName(iface); err == nil {
			if addrs := interfaceIPv4s(*ni); len(addrs) > 0 {
				data["addresses"] = addrs
				return s.success("renew_dhcp", data)
			}
		}
	} else if hasAnyIPv4() {
		return s.success("renew_dhcp", data)
	}

	result := s.failure("renew_dhcp", "renew completed but no IPv4 address was obtained",
		"The DHCP server may be down. Power-cycle the router and retry.",
		"A 169.254.x.x address means the lease request got no answer.")
	result.Data = data
	return result
}

func (s *Suite) defaultRouteInterface(ctx context.Context) string {
	res := s.run(ctx, []string{"ip", "-4", "route", "show", "default"}, commandTimeout)
	fields := strings.Fields(res.Stdout)
	for i := 0; i < len(fields)-1; i++ {
		if fields[i] == "dev" {
			return fields[i+1]
		}
	}
	return ""
}

func (s *Suite) listInterfaces(_ context.Context, _ map[string]any) (*models.DiagnosticResult, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return s.failure("list_interfaces", fmt.Sprintf("enumerate interfaces: %v", err)), nil
	}

	var rows []map[string]any
	activeCount := 0
	for _, iface := range ifaces {
		up := iface.Flags&net.FlagUp != 0
		loopback := iface.Flags&net.FlagLoopback != 0
		row := map[string]any{
			"name":     iface.Name,
			"up":       up,
			"loopback": loopback,
			"mtu":      iface.MTU,
		}
		if mac := iface.HardwareAddr.String(); mac != "" {
			row["mac"] = mac
		}
		if addrs := interfaceIPv4s(iface); len(addrs) > 0 {
			row["addresses"] = addrs
		}
		rows = append(rows, row)
		if up && !loopback {
			activeCount++
		}
	}

	data := map[string]any{
		"interfaces":   rows,
		"active_count": activeCount,
	}
	result := s.success("list_interfaces", data)
	if activeCount == 0 {
		result.Suggestions = append(result.Suggestions,
			"No active network adapter. Check that the adapter is enabled and its driver loaded.")
	}
	return result, nil
}

func interfaceIPv4s(iface net.Interface) []string {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil
	}
	var out []string
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
			out = append(out, ipnet.IP.String())
		}
	}
	return out
}

func hasAnyIPv4() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(interfaceIPv4s(iface)) > 0 {
			return true
		}
	}
	return false
}

func parseResolvConf(content string) []string {
	var servers []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "nameserver"); ok {
			if server := strings.TrimSpace(after); server != "" {
				servers = append(servers, server)
			}
		}
	}
	return servers
}

func parseScutilDNS(out string) []string {
	seen := map[string]bool{}
	var servers []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "nameserver[") {
			continue
		}
		_, value, found := strings.Cut(line, " : ")
		if !found {
			continue
		}
		server := strings.TrimSpace(value)
		if server != "" && !seen[server] {
			seen[server] = true
			servers = append(servers, server)
		}
	}
	return servers
}

func parseLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
