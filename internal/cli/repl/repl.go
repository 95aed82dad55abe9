package repl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	httpclient "buildforge/internal/cli/http"
	"buildforge/internal/cli/pack"
	"buildforge/internal/model"

	"github.com/google/shlex"
)

// Session holds REPL state.
type Session struct {
	client       *httpclient.Client
	outputDir    string
	outputWriter *bufio.Writer
}

func New(client *httpclient.Client, outputDir string) *Session {
	return &Session{
		client:       client,
		outputDir:    outputDir,
		outputWriter: bufio.NewWriter(os.Stdout),
	}
}

func (s *Session) Run(ctx context.Context) {
	reader := bufio.NewReader(os.Stdin)
	for {
		_, _ = s.outputWriter.WriteString("buildforge> ")
		_ = s.outputWriter.Flush()
		line, err := reader.ReadString('\n')
		if err != nil {
			s.printLine("read input failed: %v", err)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if s.handleSystemCommand(line) {
			continue
		}

		if err := s.handleCommand(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func (s *Session) handleSystemCommand(line string) bool {
	switch line {
	case "exit", "quit":
		s.printLine("bye")
		os.Exit(0)
	case "help":
		s.printHelp()
		return true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true
	}
	return false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|timeout|out")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8080")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 10m")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "out":
		if len(parts) < 2 {
			s.printLine("usage: set out ./artifacts")
			return
		}
		s.outputDir = parts[1]
		s.printLine("output dir set to %s", parts[1])
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "config":
		s.printLine("base:      %s", s.client.BaseURL())
		s.printLine("timeout:   %s", s.client.Timeout())
		s.printLine("outputDir: %s", s.outputDir)
	default:
		s.printLine("usage: show config")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	params := map[string]string{}
	for _, token := range tokens[1:] {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid param: %s", token)
		}
		params[parts[0]] = parts[1]
	}

	switch tokens[0] {
	case "submit":
		return s.handleSubmit(ctx, params)
	case "health":
		return s.handleHealth(ctx)
	case "status":
		return s.handleStatus(ctx)
	default:
		return fmt.Errorf("unknown command: %s", tokens[0])
	}
}

func (s *Session) handleSubmit(ctx context.Context, params map[string]string) error {
	dir := params["dir"]
	if dir == "" {
		return fmt.Errorf("submit needs dir=<path>")
	}

	bundleBytes, err := pack.Dir(dir)
	if err != nil {
		return err
	}
	s.printLine("packed %s (%d bytes)", dir, len(bundleBytes))

	body, contentType, err := buildMultipart(bundleBytes, params)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(ctx, http.MethodPost, "/build", map[string]string{"Content-Type": contentType}, body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		s.renderFailure(resp)
		return nil
	}

	jobID := resp.Headers.Get("X-Job-Id")
	outPath := params["out"]
	if outPath == "" {
		outPath = filepath.Join(s.outputDir, jobID+".artifact")
	}
	if err := os.WriteFile(outPath, resp.Body, 0644); err != nil {
		return fmt.Errorf("save artifact failed: %w", err)
	}
	s.printLine("job %s succeeded in %s", jobID, resp.Duration)
	s.printLine("artifact saved to %s (%d bytes)", outPath, len(resp.Body))
	s.printBuildLog(resp.Headers.Get("X-Build-Log"))
	return nil
}

func (s *Session) handleHealth(ctx context.Context) error {
	resp, err := s.client.Do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return err
	}
	s.printLine("HTTP %d (%s) %s", resp.StatusCode, resp.Duration, strings.TrimSpace(string(resp.Body)))
	return nil
}

func (s *Session) handleStatus(ctx context.Context) error {
	resp, err := s.client.Do(ctx, http.MethodGet, "/readyz", nil, nil)
	if err != nil {
		return err
	}
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	s.printJSON(resp.Body)
	return nil
}

// buildMultipart assembles the upload body. Override fields come first so
// the server applies them before it streams the bundle.
func buildMultipart(bundleBytes []byte, params map[string]string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	overrides := map[string]string{
		model.FieldTarget:            params["target"],
		model.FieldTimeoutSec:        params["timeout"],
		model.FieldMaxBundleBytes:    params["maxBundleBytes"],
		model.FieldMaxExtractedBytes: params["maxExtractedBytes"],
	}
	for field, value := range overrides {
		if value == "" {
			continue
		}
		if err := w.WriteField(field, value); err != nil {
			return nil, "", fmt.Errorf("write field %s failed: %w", field, err)
		}
	}

	fw, err := w.CreateFormFile("bundle", "bundle.tar.gz")
	if err != nil {
		return nil, "", fmt.Errorf("create bundle field failed: %w", err)
	}
	if _, err := fw.Write(bundleBytes); err != nil {
		return nil, "", fmt.Errorf("write bundle failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer failed: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func (s *Session) renderFailure(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)

	var envelope struct {
		Code    int                    `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		s.printLine("%s", string(resp.Body))
		return
	}
	s.printLine("code %d: %s", envelope.Code, envelope.Message)
	if encoded, ok := envelope.Details["log"].(string); ok {
		s.printBuildLog(encoded)
	}
}

func (s *Session) printBuildLog(encoded string) {
	if encoded == "" {
		return
	}
	logBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(logBytes) == 0 {
		return
	}
	s.printLine("--- build log ---")
	s.printLine("%s", strings.TrimRight(string(logBytes), "\n"))
}

func (s *Session) printJSON(body []byte) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		s.printLine("%s", string(body))
		return
	}
	formatted, _ := json.MarshalIndent(raw, "", "  ")
	s.printLine("%s", string(formatted))
}

func (s *Session) printHelp() {
	s.printLine("usage: submit dir=<path> [target=all] [timeout=90] [maxBundleBytes=N] [maxExtractedBytes=N] [out=<file>]")
	s.printLine("       health | status")
	s.printLine("system: help | exit | set base|timeout|out | show config")
	s.printLine("examples:")
	s.printLine("  submit dir=./myproject target=release timeout=120")
	s.printLine("  submit dir=./myproject out=./myproject.bin")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.outputWriter, format+"\n", args...)
	_ = s.outputWriter.Flush()
}
