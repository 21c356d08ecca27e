package netdiag

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/netmedic/netmedic/pkg/models"
)

var checkPortDef = models.ToolDefinition{
	Name:        "check_port",
	DisplayName: "Check TCP Port",
	Description: "Attempt a TCP connection to a host and port and report whether it is open.",
	Category:    models.ToolCategoryConnectivity,
	OSILayer:    4,
	Parameters: []models.ToolParameter{
		{Name: "host", Type: models.ParamString, Description: "Hostname or IP address.", Required: true},
		{Name: "port", Type: models.ParamNumber, Description: "TCP port number (1-65535).", Required: true},
		{Name: "timeout_seconds", Type: models.ParamNumber, Description: "Connect timeout in seconds.", Default: 5},
	},
}

var httpCheckDef = models.ToolDefinition{
	Name:        "http_check",
	DisplayName: "HTTP Check",
	Description: "Fetch a URL and report the HTTP status and latency. Distinguishes network failures from server errors.",
	Category:    models.ToolCategoryConnectivity,
	OSILayer:    7,
	Parameters: []models.ToolParameter{
		{Name: "url", Type: models.ParamString, Description: "URL to fetch. Scheme defaults to https.", Required: true},
	},
}

func (s *Suite) checkPort(ctx context.Context, args map[string]any) (*models.DiagnosticResult, error) {
	var input struct {
		Host           string  `json:"host"`
		Port           int     `json:"port"`
		TimeoutSeconds float64 `json:"timeout_seconds"`
	}
	if err := decodeArgs(args, &input); err != nil {
		return s.failure("check_port", err.Error()), nil
	}
	host := strings.TrimSpace(input.Host)
	if host == "" {
		return s.failure("check_port", "host is required"), nil
	}
	if input.Port < 1 || input.Port > 65535 {
		return s.failure("check_port", fmt.Sprintf("port %d out of range", input.Port)), nil
	}
	timeout := time.Duration(input.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	addr := net.JoinHostPort(host, strconv.Itoa(input.Port))
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	conn, err := s.dial(dialCtx, "tcp", addr)
	elapsed := time.Since(start)

	data := map[string]any{
		"host": host,
		"port": input.Port,
	}
	if err != nil {
		data["open"] = false
		result := s.failure("check_port", fmt.Sprintf("connect to %s failed: %v", addr, portErrText(err)),
			portSuggestion(err, input.Port))
		result.Data = data
		return result, nil
	}
	conn.Close()

	data["open"] = true
	data["latency_ms"] = roundMS(elapsed)
	return s.success("check_port", data), nil
}

func portErrText(err error) string {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return "connection timed out"
	}
	return err.Error()
}

func portSuggestion(err error, port int) string {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return "A timeout usually means a firewall is dropping packets or the host is unreachable."
	}
	if strings.Contains(err.Error(), "refused") {
		return fmt.Sprintf("The host answered but nothing listens on port %d. Check that the service is running.", port)
	}
	return "Verify the host name and that the machine is on the network."
}

func (s *Suite) httpCheck(ctx context.Context, args map[string]any) (*models.DiagnosticResult, error) {
	var input struct {
		URL string `json:"url"`
	}
	if err := decodeArgs(args, &input); err != nil {
		return s.failure("http_check", err.Error()), nil
	}
	target := strings.TrimSpace(input.URL)
	if target == "" {
		return s.failure("http_check", "url is required"), nil
	}
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}
	parsed, err := url.Parse(target)
	if err != nil || parsed.Host == "" {
		return s.failure("http_check", fmt.Sprintf("invalid url %q", input.URL)), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return s.failure("http_check", fmt.Sprintf("build request: %v", err)), nil
	}

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	elapsed := time.Since(start)

	data := map[string]any{"url": parsed.String()}
	if err != nil {
		result := s.failure("http_check", fmt.Sprintf("request failed: %v", err),
			httpFailureSuggestion(err))
		result.Data = data
		return result, nil
	}
	defer resp.Body.Close()

	data["status_code"] = resp.StatusCode
	data["status"] = resp.Status
	data["latency_ms"] = roundMS(elapsed)

	if resp.StatusCode >= 400 {
		result := s.failure("http_check", fmt.Sprintf("server returned %s", resp.Status),
			"The network path works; the server itself is rejecting or failing the request.")
		result.Data = data
		return result, nil
	}
	return s.success("http_check", data), nil
}

func httpFailureSuggestion(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such host"):
		return "The name did not resolve. Run check_dns against the host."
	case strings.Contains(msg, "certificate"):
		return "TLS failed. Check the system clock; a wrong date breaks certificate validation."
	case strings.Contains(msg, "refused"):
		return "The host is reachable but not serving on that port."
	default:
		return "Run ping_gateway and check_dns to locate where the path breaks."
	}
}
