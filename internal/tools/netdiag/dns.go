package netdiag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/netmedic/netmedic/pkg/models"
)

var checkDNSDef = models.ToolDefinition{
	Name:        "check_dns",
	DisplayName: "Check DNS",
	Description: "Resolve a domain name through the system resolver and report the addresses and resolution time.",
	Category:    models.ToolCategoryDNS,
	OSILayer:    7,
	Parameters: []models.ToolParameter{
		{Name: "domain", Type: models.ParamString, Description: "Domain name to resolve.", Default: "google.com"},
	},
}

var flushDNSDef = models.ToolDefinition{
	Name:        "flush_dns",
	DisplayName: "Flush DNS Cache",
	Description: "Flush the operating system's DNS resolver cache. Useful when stale records point at the wrong address.",
	Category:    models.ToolCategoryDNS,
	OSILayer:    7,
	Mutating:    true,
	Parameters:  []models.ToolParameter{},
}

func (s *Suite) checkDNS(ctx context.Context, args map[string]any) (*models.DiagnosticResult, error) {
	var input struct {
		Domain string `json:"domain"`
	}
	if err := decodeArgs(args, &input); err != nil {
		return s.failure("check_dns", err.Error()), nil
	}
	domain := strings.TrimSpace(input.Domain)
	if domain == "" {
		domain = "google.com"
	}

	lookupCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	start := time.Now()
	addrs, err := s.resolver.LookupHost(lookupCtx, domain)
	elapsed := time.Since(start)

	if err != nil {
		return s.failure("check_dns", fmt.Sprintf("resolution of %s failed: %v", domain, err),
			"Try flush_dns to clear a poisoned cache.",
			"Run get_ip_config to confirm which DNS servers are configured.",
			"If the gateway pings fine, the configured DNS server may be unreachable."), nil
	}

	data := map[string]any{
		"domain":             domain,
		"addresses":          addrs,
		"resolution_time_ms": roundMS(elapsed),
	}
	result := s.success("check_dns", data)
	if elapsed > 2*time.Second {
		result.Suggestions = append(result.Suggestions,
			"Resolution worked but was slow. A closer DNS server (for example the gateway or 1.1.1.1) may help.")
	}
	return result, nil
}

func (s *Suite) flushDNS(ctx context.Context, _ map[string]any) (*models.DiagnosticResult, error) {
	switch s.goos {
	case "linux":
		// resolvectl on systemd-resolved hosts, with the older binary name
		// as fallback. Non-resolved distros typically have no system cache.
		res := s.run(ctx, []string{"resolvectl", "flush-caches"}, mutateTimeout)
		method := "resolvectl flush-caches"
		if res.ExitCode != 0 {
			res = s.run(ctx, []string{"systemd-resolve", "--flush-caches"}, mutateTimeout)
			method = "systemd-resolve --flush-caches"
		}
		if res.ExitCode != 0 {
			return s.failure("flush_dns", strings.TrimSpace(firstNonEmpty(res.Stderr, "flush command failed")),
				"This host may not run systemd-resolved; there may be no system DNS cache to flush.",
				"If a local dnsmasq or nscd is in use, restart that service instead."), nil
		}
		return s.verifyFlush(ctx, method), nil
	case "darwin":
		res := s.run(ctx, []string{"dscacheutil", "-flushcache"}, mutateTimeout)
		if res.ExitCode != 0 {
			return s.failure("flush_dns", strings.TrimSpace(firstNonEmpty(res.Stderr, "dscacheutil failed")),
				"Run the command with elevated privileges."), nil
		}
		// mDNSResponder also caches; a HUP makes it drop its cache.
		s.run(ctx, []string{"killall", "-HUP", "mDNSResponder"}, mutateTimeout)
		return s.verifyFlush(ctx, "dscacheutil -flushcache"), nil
	case "windows":
		res := s.run(ctx, []string{"ipconfig", "/flushdns"}, mutateTimeout)
		if res.ExitCode != 0 {
			return s.failure("flush_dns", strings.TrimSpace(firstNonEmpty(res.Stderr, res.Stdout, "ipconfig /flushdns failed")),
				"Run the command from an elevated prompt."), nil
		}
		return s.verifyFlush(ctx, "ipconfig /flushdns"), nil
	default:
		return models.Unsupported("flush_dns", s.goos), nil
	}
}

// verifyFlush re-resolves a known name so the result reflects the state
// of the resolver after the flush, not just the flush command's exit code.
func (s *Suite) verifyFlush(ctx context.Context, method string) *models.DiagnosticResult {
	data := map[string]any{
		"flushed": true,
		"method":  method,
	}

	lookupCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	start := time.Now()
	if _, err := s.resolver.LookupHost(lookupCtx, "google.com"); err == nil {
		data["verified_resolution_ms"] = roundMS(time.Since(start))
	} else {
		data["verification_error"] = err.Error()
	}

	result := s.success("flush_dns", data)
	result.Suggestions = []string{"Cache flushed. Retry the operation that was failing."}
	return result
}
