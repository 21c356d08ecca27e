package netdiag

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/netmedic/netmedic/pkg/models"
)

var pingGatewayDef = models.ToolDefinition{
	Name:        "ping_gateway",
	DisplayName: "Ping Gateway",
	Description: "Ping the default gateway and report latency and packet loss. Use this to check whether the local router is reachable.",
	Category:    models.ToolCategoryGateway,
	OSILayer:    3,
	Parameters: []models.ToolParameter{
		{Name: "count", Type: models.ParamNumber, Description: "Number of echo requests to send (1-20).", Default: 4},
	},
}

var pingHostDef = models.ToolDefinition{
	Name:        "ping_host",
	DisplayName: "Ping Host",
	Description: "Ping an arbitrary host by name or IP and report latency and packet loss.",
	Category:    models.ToolCategoryConnectivity,
	OSILayer:    3,
	Parameters: []models.ToolParameter{
		{Name: "host", Type: models.ParamString, Description: "Hostname or IP address to ping.", Required: true},
		{Name: "count", Type: models.ParamNumber, Description: "Number of echo requests to send (1-20).", Default: 4},
	},
}

func (s *Suite) pingGateway(ctx context.Context, args map[string]any) (*models.DiagnosticResult, error) {
	var input struct {
		Count int `json:"count"`
	}
	if err := decodeArgs(args, &input); err != nil {
		return s.failure("ping_gateway", err.Error()), nil
	}

	gateway, err := s.defaultGateway(ctx)
	if err != nil {
		return s.failure("ping_gateway", fmt.Sprintf("could not determine default gateway: %v", err),
			"Check that the machine has an active network connection.",
			"Run get_ip_config to inspect the routing setup."), nil
	}

	result := s.ping(ctx, "ping_gateway", gateway, input.Count)
	if result.Data != nil {
		result.Data["gateway"] = gateway
	}
	if !result.Success {
		result.Suggestions = append(result.Suggestions,
			"The router may be down or the local link broken. Check cables or WiFi association.")
	}
	return result, nil
}

func (s *Suite) pingHost(ctx context.Context, args map[string]any) (*models.DiagnosticResult, error) {
	var input struct {
		Host  string `json:"host"`
		Count int    `json:"count"`
	}
	if err := decodeArgs(args, &input); err != nil {
		return s.failure("ping_host", err.Error()), nil
	}
	host := strings.TrimSpace(input.Host)
	if host == "" {
		return s.failure("ping_host", "host is required"), nil
	}

	result := s.ping(ctx, "ping_host", host, input.Count)
	if !result.Success {
		result.Suggestions = append(result.Suggestions,
			"If the gateway pings fine, the problem is upstream of the local network.",
			"Try check_dns if you used a hostname; the name may not resolve.")
	}
	return result, nil
}

// ping runs the platform ping command and parses its output into the
// shared latency/loss shape.
func (s *Suite) ping(ctx context.Context, tool, host string, count int) *models.DiagnosticResult {
	if count < 1 {
		count = 4
	}
	if count > 20 {
		count = 20
	}

	var argv []string
	switch s.goos {
	case "linux":
		argv = []string{"ping", "-c", strconv.Itoa(count), "-W", "2", host}
	case "darwin":
		argv = []string{"ping", "-c", strconv.Itoa(count), "-t", "10", host}
	case "windows":
		argv = []string{"ping", "-n", strconv.Itoa(count), "-w", "2000", host}
	default:
		return models.Unsupported(tool, s.goos)
	}

	res := s.run(ctx, argv, pingTimeout)
	stats := parsePingOutput(s.goos, res.Stdout)
	data := map[string]any{
		"host":                host,
		"packets_sent":        stats.sent,
		"packets_received":    stats.received,
		"packet_loss_percent": stats.lossPercent,
	}
	if stats.received > 0 {
		data["min_time_ms"] = stats.minMS
		data["avg_time_ms"] = stats.avgMS
		data["max_time_ms"] = stats.maxMS
	}

	result := &models.DiagnosticResult{
		Tool:      tool,
		Platform:  s.goos,
		Data:      data,
		RawOutput: res.Stdout,
	}
	switch {
	case res.TimedOut:
		result.Error = "ping timed out"
	case stats.received > 0:
		result.Success = true
	case res.ExitCode != 0 && stats.sent == 0:
		result.Error = strings.TrimSpace(firstNonEmpty(res.Stderr, res.Stdout, "ping failed"))
	default:
		result.Error = fmt.Sprintf("100%% packet loss to %s", host)
	}
	return result
}

// defaultGateway discovers the IPv4 default gateway via the platform
// routing table.
func (s *Suite) defaultGateway(ctx context.Context) (string, error) {
	switch s.goos {
	case "linux":
		res := s.run(ctx, []string{"ip", "-4", "route", "show", "default"}, commandTimeout)
		if gw := parseLinuxGateway(res.Stdout); gw != "" {
			return gw, nil
		}
		return "", fmt.Errorf("no default route in %q", strings.TrimSpace(res.Stdout))
	case "darwin":
		res := s.run(ctx, []string{"route", "-n", "get", "default"}, commandTimeout)
		if gw := parseDarwinGateway(res.Stdout); gw != "" {
			return gw, nil
		}
		return "", fmt.Errorf("no default route in %q", strings.TrimSpace(res.Stdout))
	case "windows":
		res := s.shell(ctx, `(Get-NetRoute -DestinationPrefix '0.0.0.0/0' | Sort-Object RouteMetric | Select-Object -First 1).NextHop`, commandTimeout)
		gw := strings.TrimSpace(res.Stdout)
		if gw != "" && gw != "0.0.0.0" {
			return gw, nil
		}
		return "", fmt.Errorf("no default route")
	default:
		return "", fmt.Errorf("unsupported platform %s", s.goos)
	}
}

func parseLinuxGateway(out string) string {
	// "default via 192.168.1.1 dev wlan0 proto dhcp metric 600"
	fields := strings.Fields(out)
	for i := 0; i < len(fields)-1; i++ {
		if fields[i] == "via" {
			return fields[i+1]
		}
	}
	return ""
}

func parseDarwinGateway(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "gateway:"); ok {
			return strings.TrimSpace(after)
		}
	}
	return ""
}

type pingStats struct {
	sent        int
	received    int
	lossPercent float64
	minMS       float64
	avgMS       float64
	maxMS       float64
}

var (
	unixPingPackets = regexp.MustCompile(`(\d+) packets transmitted, (\d+)(?: packets)? received`)
	unixPingLoss    = regexp.MustCompile(`([\d.]+)% packet loss`)
	unixPingRTT     = regexp.MustCompile(`(?:rtt|round-trip) min/avg/max[^=]*= ([\d.]+)/([\d.]+)/([\d.]+)`)
	winPingPackets  = regexp.MustCompile(`Sent = (\d+), Received = (\d+), Lost = \d+ \((\d+)% loss\)`)
	winPingRTT      = regexp.MustCompile(`Minimum = (\d+)ms, Maximum = (\d+)ms, Average = (\d+)ms`)
)

// parsePingOutput extracts packet and latency statistics from the
// platform ping summary. Absent fields stay zero.
func parsePingOutput(goos, out string) pingStats {
	var stats pingStats
	if goos == "windows" {
		if m := winPingPackets.FindStringSubmatch(out); m != nil {
			stats.sent, _ = strconv.Atoi(m[1])
			stats.received, _ = strconv.Atoi(m[2])
			stats.lossPercent, _ = strconv.ParseFloat(m[3], 64)
		}
		if m := winPingRTT.FindStringSubmatch(out); m != nil {
			stats.minMS, _ = strconv.ParseFloat(m[1], 64)
			stats.maxMS, _ = strconv.ParseFloat(m[2], 64)
			stats.avgMS, _ = strconv.ParseFloat(m[3], 64)
		}
		return stats
	}
	if m := unixPingPackets.FindStringSubmatch(out); m != nil {
		stats.sent, _ = strconv.Atoi(m[1])
		stats.received, _ = strconv.Atoi(m[2])
	}
	if m := unixPingLoss.FindStringSubmatch(out); m != nil {
		stats.lossPercent, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := unixPingRTT.FindStringSubmatch(out); m != nil {
		stats.minMS, _ = strconv.ParseFloat(m[1], 64)
		stats.avgMS, _ = strconv.ParseFloat(m[2], 64)
		stats.maxMS, _ = strconv.ParseFloat(m[3], 64)
	}
	return stats
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
