// Package paymail resolves payment handles (alias@domain) to output scripts
// through the bsvalias directory protocol.
package paymail

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

const (
	srvService = "_bsvalias._tcp."
	wellKnown  = "/.well-known/bsvalias"

	// capability key of the payment destination endpoint
	paymentDestination = "paymentDestination"
)

var (
	ErrInvalidHandle      = errors.New("invalid payment handle")
	ErrHandleUnresolvable = errors.New("payment handle unresolvable")
)

// IsHandle reports whether dest looks like a payment handle rather than an
// address.
func IsHandle(dest string) bool {
	return strings.Contains(dest, "@")
}

// SplitHandle splits alias@domain.
func SplitHandle(handle string) (alias, domain string, err error) {
	alias, domain, ok := strings.Cut(strings.TrimSpace(handle), "@")
	if !ok || alias == "" || domain == "" || strings.Contains(domain, "@") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	return strings.ToLower(alias), strings.ToLower(domain), nil
}

// Config configures a Client.
type Config struct {
	// SenderHandle identifies the requesting party to the receiver.
	SenderHandle string

	// Nameserver is host:port of the DNS server used for SRV lookups. Empty
	// uses the first server from /etc/resolv.conf.
	Nameserver string

	Timeout time.Duration

	// Scheme is "https" unless overridden for tests.
	Scheme string
}

// Client resolves payment handles.
type Client struct {
	cfg  Config
	dns  *dns.Client
	http *http.Client
	log  *zap.Logger
	now  func() time.Time
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:  cfg,
		dns:  &dns.Client{Timeout: cfg.Timeout},
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.Named("paymail"),
		now:  time.Now,
	}
}

// Resolve asks the receiver's directory for an output script paying
// satoshis to handle.
func (c *Client) Resolve(ctx context.Context, handle string, satoshis int64) ([]byte, error) {
	alias, domain, err := SplitHandle(handle)
	if err != nil {
		return nil, err
	}

	host := c.lookupHost(ctx, domain)

	template, err := c.capability(ctx, host, paymentDestination)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrHandleUnresolvable, handle, err)
	}

	endpoint := strings.NewReplacer("{alias}", alias, "{domain.tld}", domain).Replace(template)
	script, err := c.requestOutput(ctx, endpoint, satoshis)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrHandleUnresolvable, handle, err)
	}

	c.log.Debug("resolved handle", zap.String("handle", handle), zap.Int("script_len", len(script)))
	return script, nil
}

// lookupHost returns host:port serving the directory for domain, using the
// SRV record when there is one and domain:443 otherwise.
func (c *Client) lookupHost(ctx context.Context, domain string) string {
	fallback := net.JoinHostPort(domain, "443")

	server := c.cfg.Nameserver
	if server == "" {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil || len(conf.Servers) == 0 {
			return fallback
		}
		server = net.JoinHostPort(conf.Servers[0], conf.Port)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(srvService+domain), dns.TypeSRV)
	msg.RecursionDesired = true

	in, _, err := c.dns.ExchangeContext(ctx, msg, server)
	if err != nil {
		c.log.Debug("srv lookup failed", zap.String("domain", domain), zap.Error(err))
		return fallback
	}

	for _, rr := range in.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			target := strings.TrimSuffix(srv.Target, ".")
			return net.JoinHostPort(target, strconv.Itoa(int(srv.Port)))
		}
	}
	return fallback
}

func (c *Client) capability(ctx context.Context, host, key string) (string, error) {
	url := c.cfg.Scheme + "://" + host + wellKnown
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}

	var doc struct {
		Capabilities map[string]json.RawMessage `json:"capabilities"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return "", fmt.Errorf("decode capabilities: %w", err)
	}

	raw, ok := doc.Capabilities[key]
	if !ok {
		return "", fmt.Errorf("capability %s not offered", key)
	}
	var template string
	if err := json.Unmarshal(raw, &template); err != nil || template == "" {
		return "", fmt.Errorf("capability %s is not a url", key)
	}
	return template, nil
}

func (c *Client) requestOutput(ctx context.Context, endpoint string, satoshis int64) ([]byte, error) {
	payload, err := json.Marshal(map[string]any{
		"senderHandle": c.cfg.SenderHandle,
		"amount":       satoshis,
		"dt":           c.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post %s: status %d", endpoint, resp.StatusCode)
	}

	var out struct {
		Output string `json:"output"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode destination: %w", err)
	}
	script, err := hex.DecodeString(out.Output)
	if err != nil || len(script) == 0 {
		return nil, fmt.Errorf("destination output %q is not a script", out.Output)
	}
	return script, nil
}
