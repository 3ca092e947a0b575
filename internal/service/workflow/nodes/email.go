package nodes

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// emailNode sends an email via SMTP. All string config fields (to, cc, bcc,
// subject, body, from, reply_to) are resolved as {{ }} expressions against
// each input item. SMTP server settings are configured directly on the node.
//
// Config (def.Parameters):
//
//	"to":                   string — comma-separated recipient list expression (required)
//	"cc":                   string — comma-separated CC list expression (optional)
//	"bcc":                  string — comma-separated BCC list expression (optional)
//	"subject":               string — subject line expression (required)
//	"body":                  string — email body expression (required)
//	"content_type":          string — "text/plain" or "text/html" (default "text/plain")
//	"from":                  string — sender address expression (required unless smtp.from is set)
//	"reply_to":              string — Reply-To header expression (optional)
//	"smtp": object —
//	    "host":                 string  — SMTP server hostname (required)
//	    "port":                 float64 — SMTP server port (default 587)
//	    "username":             string  — SMTP auth username
//	    "password":             string  — SMTP auth password
//	    "from":                 string  — default sender address
//	    "tls":                  bool    — use implicit TLS (port 465); false = STARTTLS
//	    "no_tls":               bool    — disable TLS entirely (plain SMTP, default false)
//	    "insecure_skip_verify": bool    — skip TLS verification (default false)
//	    "proxy":                string  — HTTP Connect Proxy URL (optional)
//
// Output ports:
//
//	"success" — one item per item sent successfully
//	"error"   — one item per item that failed to send, with "error" set
type emailNode struct{}

func init() {
	workflow.RegisterNodeType("email", func() workflow.Noder { return &emailNode{} })
}

func (n *emailNode) Type() string    { return "email" }
func (n *emailNode) InputCount() int { return 1 }

func (n *emailNode) Validate(_ context.Context, _ *workflow.Registry, def workflow.NodeDefinition) error {
	if s, _ := def.Parameters["to"].(string); s == "" {
		return fmt.Errorf("email: 'to' is required")
	}
	if s, _ := def.Parameters["subject"].(string); s == "" {
		return fmt.Errorf("email: 'subject' is required")
	}
	if s, _ := def.Parameters["body"].(string); s == "" {
		return fmt.Errorf("email: 'body' is required")
	}
	smtp, _ := def.Parameters["smtp"].(map[string]any)
	if host, _ := smtp["host"].(string); host == "" {
		return fmt.Errorf("email: 'smtp.host' is required")
	}
	return nil
}

func (n *emailNode) Execute(ctx context.Context, ec *workflow.ExecutionContext, def workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	smtp, _ := def.Parameters["smtp"].(map[string]any)
	sc := parseSMTPConfig(smtp)

	contentType, _ := def.Parameters["content_type"].(string)
	if contentType == "" {
		contentType = "text/plain"
	}

	client, err := buildMailClient(sc)
	if err != nil {
		return nil, fmt.Errorf("email: build client: %w", err)
	}

	var success, errored []workflow.Item

	for idx, item := range inputs {
		exprCtx := workflow.NewExpressionContext(ec, inputs, idx)

		to := resolveEmailField(def.Parameters["to"], exprCtx)
		cc := resolveEmailField(def.Parameters["cc"], exprCtx)
		bcc := resolveEmailField(def.Parameters["bcc"], exprCtx)
		subject := resolveEmailField(def.Parameters["subject"], exprCtx)
		body := resolveEmailField(def.Parameters["body"], exprCtx)
		replyTo := resolveEmailField(def.Parameters["reply_to"], exprCtx)

		from := sc.From
		if override := resolveEmailField(def.Parameters["from"], exprCtx); override != "" {
			from = override
		}
		if from == "" {
			errored = append(errored, workflow.Item{JSON: map[string]any{"error": "no 'from' address configured", "input": item.JSON}})
			continue
		}

		m := mail.NewMsg()
		sendErr := buildMessage(m, from, to, cc, bcc, subject, body, replyTo, contentType)
		if sendErr == nil {
			sendErr = client.DialAndSend(m)
		}

		if sendErr != nil {
			errored = append(errored, workflow.Item{JSON: map[string]any{"status": "failed", "error": sendErr.Error()}})
			continue
		}
		success = append(success, workflow.Item{JSON: map[string]any{"status": "sent", "to": to}})
	}

	return &workflow.NodeExecutionResult{Outputs: map[string]workflow.PortOutput{
		"success": workflow.Output(success),
		"error":   workflow.Output(errored),
	}}, nil
}

func resolveEmailField(raw any, exprCtx workflow.ExpressionContext) string {
	tmpl, _ := raw.(string)
	if tmpl == "" {
		return ""
	}
	s, _ := workflow.ResolveExpressions(tmpl, exprCtx, false).(string)
	return s
}

func buildMessage(m *mail.Msg, from, to, cc, bcc, subject, body, replyTo, contentType string) error {
	if err := m.From(from); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := m.To(splitAddresses(to)...); err != nil {
		return fmt.Errorf("set to: %w", err)
	}
	if ccAddresses := splitAddresses(cc); len(ccAddresses) > 0 {
		if err := m.Cc(ccAddresses...); err != nil {
			return fmt.Errorf("set cc: %w", err)
		}
	}
	if bccAddresses := splitAddresses(bcc); len(bccAddresses) > 0 {
		if err := m.Bcc(bccAddresses...); err != nil {
			return fmt.Errorf("set bcc: %w", err)
		}
	}
	m.Subject(subject)
	m.SetBodyString(mail.ContentType(contentType), body)
	if replyTo != "" {
		if err := m.ReplyTo(replyTo); err != nil {
			return fmt.Errorf("set reply-to: %w", err)
		}
	}
	return nil
}

// smtpConfig holds parsed SMTP settings from the node's "smtp" parameter.
type smtpConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	TLS                bool
	NoTLS              bool
	InsecureSkipVerify bool
	Proxy              string
}

func parseSMTPConfig(raw map[string]any) smtpConfig {
	sc := smtpConfig{Port: 587}
	sc.Host, _ = raw["host"].(string)
	if p, ok := raw["port"].(float64); ok && p > 0 {
		sc.Port = int(p)
	}
	sc.Username, _ = raw["username"].(string)
	sc.Password, _ = raw["password"].(string)
	sc.From, _ = raw["from"].(string)
	sc.TLS, _ = raw["tls"].(bool)
	sc.NoTLS, _ = raw["no_tls"].(bool)
	sc.InsecureSkipVerify, _ = raw["insecure_skip_verify"].(bool)
	sc.Proxy, _ = raw["proxy"].(string)
	return sc
}

func buildMailClient(sc smtpConfig) (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(sc.Port),
		mail.WithTimeout(30 * time.Second),
	}

	if sc.Username != "" || sc.Password != "" {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain), mail.WithUsername(sc.Username), mail.WithPassword(sc.Password))
	}

	if sc.NoTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	} else {
		tlsConfig := &tls.Config{
			ServerName:         sc.Host,
			InsecureSkipVerify: sc.InsecureSkipVerify,
		}
		opts = append(opts, mail.WithTLSConfig(tlsConfig))

		if sc.TLS {
			opts = append(opts, mail.WithSSL(), mail.WithTLSPolicy(mail.TLSMandatory))
		} else {
			opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
		}
	}

	if sc.Proxy != "" {
		proxyURL, err := url.Parse(sc.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		dialFunc := func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialViaProxy(ctx, proxyURL, addr)
		}
		opts = append(opts, mail.WithDialContextFunc(dialFunc))
	}

	return mail.NewClient(sc.Host, opts...)
}

// splitAddresses splits a list of email addresses by comma or semicolon,
// trimming whitespace and stripping brackets.
func splitAddresses(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, ";", ",")
	s = strings.ReplaceAll(s, "[", "")
	s = strings.ReplaceAll(s, "]", "")
	s = strings.ReplaceAll(s, "\"", "")

	parts := strings.Split(s, ",")
	addrs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			addrs = append(addrs, p)
		}
	}
	return addrs
}

// dialViaProxy establishes a connection to targetAddr via the HTTP proxy at proxyURL.
func dialViaProxy(ctx context.Context, proxyURL *url.URL, targetAddr string) (net.Conn, error) {
	proxyAddr := proxyURL.Host
	if !strings.Contains(proxyAddr, ":") {
		proxyAddr = net.JoinHostPort(proxyAddr, "8080")
	}

	d := net.Dialer{Timeout: 30 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("dial proxy: %w", err)
	}

	connectReq := &http.Request{
		Method: "CONNECT",
		URL:    &url.URL{Opaque: targetAddr},
		Host:   targetAddr,
		Header: make(http.Header),
	}

	if user := proxyURL.User; user != nil {
		password, _ := user.Password()
		auth := user.Username() + ":" + password
		basicAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte(auth))
		connectReq.Header.Set("Proxy-Authorization", basicAuth)
	}

	if err := connectReq.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write connect req: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, connectReq)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read connect resp: %w", err)
	}
	if resp.StatusCode != 200 {
		conn.Close()
		return nil, fmt.Errorf("proxy connect failed: %s", resp.Status)
	}

	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, nil
	}

	return conn, nil
}

type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (bc *bufferedConn) Read(b []byte) (int, error) {
	return bc.r.Read(b)
}
