// Package netdiag implements the built-in network and system diagnostic
// tools. Each tool probes or remediates one aspect of the host (gateway
// reachability, DNS, WiFi, DHCP leases, ports, disk, processes) and
// reports a structured DiagnosticResult the agent loop feeds back to the
// model. Tools never return errors to the dispatcher: failures, refusals,
// and unsupported platforms all become failed results with suggestions.
package netdiag

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/netmedic/netmedic/internal/execx"
	"github.com/netmedic/netmedic/internal/tools"
	"github.com/netmedic/netmedic/pkg/models"
)

const (
	pingTimeout    = 15 * time.Second
	commandTimeout = 10 * time.Second
	mutateTimeout  = 30 * time.Second
)

// Suite holds the shared machinery behind the diagnostic tools: the host
// platform, the command runners, and the network clients. Tests swap the
// function fields to script OS behavior without touching the real host.
type Suite struct {
	goos  string
	run   func(ctx context.Context, argv []string, timeout time.Duration) execx.Result
	shell func(ctx context.Context, command string, timeout time.Duration) execx.Result

	httpClient *http.Client
	dial       func(ctx context.Context, network, addr string) (net.Conn, error)
	resolver   *net.Resolver

	// tempDirs overrides the platform temp directory set for clean_temp_files.
	tempDirs []string
}

// NewSuite builds a suite wired to the real host.
func NewSuite() *Suite {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return &Suite{
		goos:       runtime.GOOS,
		run:        execx.Run,
		shell:      execx.RunShell,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		dial:       dialer.DialContext,
		resolver:   net.DefaultResolver,
	}
}

// Register installs every diagnostic tool into the registry.
func (s *Suite) Register(reg *tools.Registry) {
	reg.Register(pingGatewayDef, s.pingGateway)
	reg.Register(pingHostDef, s.pingHost)
	reg.Register(checkDNSDef, s.checkDNS)
	reg.Register(flushDNSDef, s.flushDNS)
	reg.Register(checkWiFiDef, s.checkWiFi)
	reg.Register(getIPConfigDef, s.getIPConfig)
	reg.Register(renewDHCPDef, s.renewDHCP)
	reg.Register(listInterfacesDef, s.listInterfaces)
	reg.Register(checkPortDef, s.checkPort)
	reg.Register(httpCheckDef, s.httpCheck)
	reg.Register(checkDiskSpaceDef, s.checkDiskSpace)
	reg.Register(listProcessesDef, s.listProcesses)
	reg.Register(killProcessDef, s.killProcess)
	reg.Register(cleanTempFilesDef, s.cleanTempFiles)
}

// decodeArgs maps the already-validated argument object into a typed
// record. The round trip through JSON keeps number coercion consistent
// with what the schema validated.
func decodeArgs(args map[string]any, out any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}

// failure builds a failed result for the given tool with an error line
// and optional suggestions.
func (s *Suite) failure(tool, errText string, suggestions ...string) *models.DiagnosticResult {
	return &models.DiagnosticResult{
		Tool:        tool,
		Platform:    s.goos,
		Error:       errText,
		Suggestions: suggestions,
	}
}

// success builds a succeeded result with the parsed data map.
func (s *Suite) success(tool string, data map[string]any) *models.DiagnosticResult {
	return &models.DiagnosticResult{
		Success:  true,
		Tool:     tool,
		Platform: s.goos,
		Data:     data,
	}
}

// refusal is the structured answer a mutating tool gives when the target
// is on the protected list. The mutation is never attempted.
func (s *Suite) refusal(tool, target, why string) *models.DiagnosticResult {
	return &models.DiagnosticResult{
		Tool:     tool,
		Platform: s.goos,
		Error:    fmt.Sprintf("refusing to touch protected target %q", target),
		Suggestions: []string{
			why,
			"Pick a non-system target and try again.",
		},
	}
}

func roundMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
