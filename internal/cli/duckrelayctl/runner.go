// Package duckrelayctl implements the duckrelayctl command line client.
// It can probe the service and send a signed message, printing the
// streamed reply as it arrives.
package duckrelayctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/duckrelay/duckrelay/internal/auth"
)

type Options struct {
	BaseURL    string
	Token      string
	KeyID      string
	Secret     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("duckrelayctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "relay base URL")
	token := fs.String("token", defaults.Token, "identity token")
	keyID := fs.String("key-id", defaults.KeyID, "signing key id")
	secret := fs.String("secret", defaults.Secret, "signing key secret")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	base := strings.TrimRight(*baseURL, "/")
	switch command := strings.TrimSpace(fs.Arg(0)); command {
	case "health":
		return getJSON(ctx, client, base+"/v1/health", stdout, stderr)
	case "ready":
		return getJSON(ctx, client, base+"/v1/ready", stdout, stderr)
	case "send":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "send requires a message argument")
			return 2
		}
		message := strings.Join(fs.Args()[1:], " ")
		return send(ctx, client, base, *token, *keyID, *secret, message, stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
}

func getJSON(ctx context.Context, client *http.Client, url string, stdout, stderr io.Writer) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "read response: %v\n", err)
		return 1
	}
	if resp.StatusCode >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
		return 1
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
	} else if len(body) > 0 {
		_, _ = fmt.Fprintln(stdout, string(body))
	}
	return 0
}

func send(ctx context.Context, client *http.Client, base, token, keyID, secret, message string, stdout, stderr io.Writer) int {
	payload := map[string]any{
		"messages": []map[string]string{{"role": "user", "content": message}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "encode request: %v\n", err)
		return 1
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if strings.TrimSpace(token) != "" {
		req.Header.Set(auth.HeaderToken, strings.TrimSpace(token))
	}
	if strings.TrimSpace(keyID) != "" && strings.TrimSpace(secret) != "" {
		keyring, err := auth.NewStaticKeyring(strings.TrimSpace(keyID) + ":" + strings.TrimSpace(secret))
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "signing key error: %v\n", err)
			return 1
		}
		signature, err := keyring.Sign(strings.TrimSpace(keyID), body)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "signing error: %v\n", err)
			return 1
		}
		req.Header.Set(auth.HeaderKeyID, strings.TrimSpace(keyID))
		req.Header.Set(auth.HeaderSignature, signature)
	}

	resp, err := client.Do(req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", resp.StatusCode, strings.TrimSpace(string(raw)))
		return 1
	}

	return printEvents(resp.Body, stdout, stderr)
}

// printEvents decodes the SSE stream: text chunks go to stdout verbatim,
// an errors event goes to stderr and fails the command.
func printEvents(body io.Reader, stdout, stderr io.Writer) int {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	event := ""
	failed := false
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			switch event {
			case "text":
				var chunk struct {
					Chunk string `json:"chunk"`
				}
				if err := json.Unmarshal([]byte(data), &chunk); err == nil {
					_, _ = fmt.Fprint(stdout, chunk.Chunk)
				}
			case "errors":
				_, _ = fmt.Fprintf(stderr, "error: %s\n", data)
				failed = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		_, _ = fmt.Fprintf(stderr, "stream error: %v\n", err)
		return 1
	}
	if failed {
		return 1
	}
	return 0
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: duckrelayctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health           GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready            GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  send <message>   POST /v1/messages and stream the reply")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
