package netdiag

import (
	"context"
	"strconv"
	"strings"

	"github.com/netmedic/netmedic/pkg/models"
)

var checkWiFiDef = models.ToolDefinition{
	Name:        "check_wifi",
	DisplayName: "Check WiFi",
	Description: "Report the WiFi radio state, connected network (SSID), signal strength, and channel.",
	Category:    models.ToolCategoryWiFi,
	OSILayer:    1,
	Parameters:  []models.ToolParameter{},
}

const airportPath = "/System/Library/PrivateFrameworks/Apple80211.framework/Versions/Current/Resources/airport"

func (s *Suite) checkWiFi(ctx context.Context, _ map[string]any) (*models.DiagnosticResult, error) {
	switch s.goos {
	case "linux":
		return s.checkWiFiLinux(ctx), nil
	case "darwin":
		return s.checkWiFiDarwin(ctx), nil
	case "windows":
		return s.checkWiFiWindows(ctx), nil
	default:
		return models.Unsupported("check_wifi", s.goos), nil
	}
}

func (s *Suite) checkWiFiLinux(ctx context.Context) *models.DiagnosticResult {
	radio := s.run(ctx, []string{"nmcli", "radio", "wifi"}, commandTimeout)
	if radio.ExitCode == 0 && strings.Contains(strings.TrimSpace(radio.Stdout), "disabled") {
		result := s.failure("check_wifi", "WiFi radio is disabled",
			"Enable the radio with 'nmcli radio wifi on' and retry.")
		result.Data = map[string]any{"radio_enabled": false, "connected": false}
		return result
	}

	res := s.run(ctx, []string{"nmcli", "-t", "-f", "ACTIVE,SSID,SIGNAL,CHAN,RATE", "dev", "wifi"}, commandTimeout)
	if res.ExitCode == 0 {
		if data, ok := parseNmcliWifi(res.Stdout); ok {
			return s.wifiResult(data, res.Stdout)
		}
		result := s.failure("check_wifi", "not connected to any WiFi network",
			"Connect with 'nmcli dev wifi connect <SSID>' or through the desktop network menu.")
		result.Data = map[string]any{"radio_enabled": true, "connected": false}
		result.RawOutput = res.Stdout
		return result
	}

	// NetworkManager absent. Fall back to iw against the first wireless
	// interface.
	dev := s.run(ctx, []string{"iw", "dev"}, commandTimeout)
	iface := parseIwInterface(dev.Stdout)
	if iface == "" {
		return s.failure("check_wifi", "no wireless interface found",
			"This machine may not have a WiFi adapter, or its driver is not loaded.")
	}
	link := s.run(ctx, []string{"iw", "dev", iface, "link"}, commandTimeout)
	data, connected := parseIwLink(link.Stdout)
	data["interface"] = iface
	if !connected {
		result := s.failure("check_wifi", "not connected to any WiFi network",
			"Associate with a network and retry.")
		result.Data = data
		result.RawOutput = link.Stdout
		return result
	}
	return s.wifiResult(data, link.Stdout)
}

func (s *Suite) checkWiFiDarwin(ctx context.Context) *models.DiagnosticResult {
	res := s.run(ctx, []string{airportPath, "-I"}, commandTimeout)
	if res.ExitCode == 0 && strings.TrimSpace(res.Stdout) != "" {
		data, connected := parseAirport(res.Stdout)
		if !connected {
			result := s.failure("check_wifi", "not connected to any WiFi network",
				"Turn WiFi on in the menu bar and join a network.")
			result.Data = data
			result.RawOutput = res.Stdout
			return result
		}
		return s.wifiResult(data, res.Stdout)
	}

	fallback := s.run(ctx, []string{"networksetup", "-getairportnetwork", "en0"}, commandTimeout)
	out := strings.TrimSpace(fallback.Stdout)
	if after, ok := strings.CutPrefix(out, "Current Wi-Fi Network: "); ok {
		return s.wifiResult(map[string]any{"connected": true, "ssid": after, "interface": "en0"}, out)
	}
	return s.failure("check_wifi", "could not read WiFi state",
		"Turn WiFi on in the menu bar and join a network.")
}

func (s *Suite) checkWiFiWindows(ctx context.Context) *models.DiagnosticResult {
	res := s.run(ctx, []string{"netsh", "wlan", "show", "interfaces"}, commandTimeout)
	if res.ExitCode != 0 {
		return s.failure("check_wifi", strings.TrimSpace(firstNonEmpty(res.Stderr, res.Stdout, "netsh failed")),
			"This machine may not have a WiFi adapter, or the WLAN service is stopped.")
	}
	data, connected := parseNetshWlan(res.Stdout)
	if !connected {
		result := s.failure("check_wifi", "not connected to any WiFi network",
			"Open the network flyout and connect to a network.")
		result.Data = data
		result.RawOutput = res.Stdout
		return result
	}
	return s.wifiResult(data, res.Stdout)
}

// wifiResult wraps the parsed fields in a success result and adds
// quality-based suggestions.
func (s *Suite) wifiResult(data map[string]any, raw string) *models.DiagnosticResult {
	result := s.success("check_wifi", data)
	result.RawOutput = raw
	switch quality(data) {
	case "weak":
		result.Suggestions = append(result.Suggestions,
			"Signal is weak. Move closer to the access point or remove obstructions.")
	case "fair":
		result.Suggestions = append(result.Suggestions,
			"Signal is moderate. A 5 GHz band or closer placement would improve throughput.")
	}
	return result
}

// quality classifies the signal as good, fair, or weak from whichever
// measurement the platform exposed.
func quality(data map[string]any) string {
	if pct, ok := data["signal_percent"].(int); ok {
		switch {
		case pct >= 70:
			return "good"
		case pct >= 40:
			return "fair"
		default:
			return "weak"
		}
	}
	if dbm, ok := data["signal_dbm"].(int); ok {
		switch {
		case dbm >= -60:
			return "good"
		case dbm >= -75:
			return "fair"
		default:
			return "weak"
		}
	}
	return ""
}

// parseNmcliWifi finds the active row of terse nmcli output. Fields are
// colon-separated with backslash escapes inside values.
func parseNmcliWifi(out string) (map[string]any, bool) {
	for _, line := range strings.Split(out, "\n") {
		fields := splitNmcliRow(line)
		if len(fields) < 4 || fields[0] != "yes" {
			continue
		}
		data := map[string]any{
			"connected":     true,
			"radio_enabled": true,
			"ssid":          fields[1],
		}
		if sig, err := strconv.Atoi(fields[2]); err == nil {
			data["signal_percent"] = sig
		}
		if ch, err := strconv.Atoi(fields[3]); err == nil {
			data["channel"] = ch
		}
		if len(fields) > 4 {
			data["rate"] = fields[4]
		}
		return data, true
	}
	return nil, false
}

// splitNmcliRow splits a terse-mode nmcli row on unescaped colons.
func splitNmcliRow(line string) []string {
	var fields []string
	var b strings.Builder
	escaped := false
	for _, r := range line {
		switch {
		case escaped:
			b.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ':':
			fields = append(fields, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	fields = append(fields, b.String())
	return fields
}

func parseIwInterface(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "Interface "); ok {
			return strings.TrimSpace(after)
		}
	}
	return ""
}

func parseIwLink(out string) (map[string]any, bool) {
	data := map[string]any{"connected": false}
	if strings.Contains(out, "Not connected") {
		return data, false
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "SSID: "); ok {
			data["ssid"] = strings.TrimSpace(after)
			data["connected"] = true
		}
		if after, ok := strings.CutPrefix(line, "signal: "); ok {
			val := strings.TrimSuffix(strings.TrimSpace(after), " dBm")
			if dbm, err := strconv.Atoi(val); err == nil {
				data["signal_dbm"] = dbm
			}
		}
	}
	_, connected := data["ssid"]
	return data, connected
}

func parseAirport(out string) (map[string]any, bool) {
	kv := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), ": ")
		if found {
			kv[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	data := map[string]any{"connected": false}
	if ssid := kv["SSID"]; ssid != "" {
		data["ssid"] = ssid
		data["connected"] = true
	}
	if rssi, err := strconv.Atoi(kv["agrCtlRSSI"]); err == nil {
		data["signal_dbm"] = rssi
	}
	if ch := kv["channel"]; ch != "" {
		// "44,80" means channel 44 at 80 MHz width.
		num, _, _ := strings.Cut(ch, ",")
		if n, err := strconv.Atoi(strings.TrimSpace(num)); err == nil {
			data["channel"] = n
		}
	}
	connected, _ := data["connected"].(bool)
	return data, connected
}

func parseNetshWlan(out string) (map[string]any, bool) {
	kv := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		key, value, found := strings.Cut(line, " : ")
		if found {
			kv[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	data := map[string]any{"connected": false}
	if name := kv["Name"]; name != "" {
		data["interface"] = name
	}
	if !strings.EqualFold(kv["State"], "connected") {
		return data, false
	}
	data["connected"] = true
	if ssid := kv["SSID"]; ssid != "" {
		data["ssid"] = ssid
	}
	if sig := strings.TrimSuffix(kv["Signal"], "%"); sig != "" {
		if pct, err := strconv.Atoi(sig); err == nil {
			data["signal_percent"] = pct
		}
	}
	if ch, err := strconv.Atoi(kv["Channel"]); err == nil {
		data["channel"] = ch
	}
	return data, true
}
