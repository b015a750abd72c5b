// Package exiftool wraps a persistent exiftool process in stay-open mode.
// One process serves many files: arguments stream in over stdin, results
// stream back over stdout delimited by the {ready} marker, so the per-file
// cost is a pipe round trip rather than a process launch.
package exiftool

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrNotRunning indicates the client was used after Close or after the
// process exited.
var ErrNotRunning = errors.New("exiftool process is not running")

// Config holds exiftool client configuration.
type Config struct {
	// Path is the exiftool binary to launch. Empty means "exiftool" resolved
	// from PATH.
	Path string
}

// DefaultConfig returns the default exiftool client configuration.
func DefaultConfig() Config {
	return Config{Path: "exiftool"}
}

// Client is a handle on one running exiftool process. Methods serialize
// internally; a Client is safe for use from multiple goroutines but commands
// execute one at a time.
type Client struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
	logger logrus.FieldLogger

	stderrMu  sync.Mutex
	stderrBuf bytes.Buffer

	closed bool
}

// New launches exiftool in stay-open mode.
func New(cfg Config) (*Client, error) {
	if cfg.Path == "" {
		cfg.Path = "exiftool"
	}
	if _, err := exec.LookPath(cfg.Path); err != nil {
		return nil, fmt.Errorf("locate exiftool binary: %w", err)
	}

	cmd := exec.Command(cfg.Path, "-stay_open", "True", "-@", "-")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	c := &Client{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewScanner(stdout),
		logger: logrus.New(),
	}
	c.stdout.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			c.stderrMu.Lock()
			c.stderrBuf.WriteString(scanner.Text())
			c.stderrBuf.WriteByte('\n')
			c.stderrMu.Unlock()
		}
	}()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start exiftool: %w", err)
	}
	return c, nil
}

// SetLogger sets a custom logger.
func (c *Client) SetLogger(logger logrus.FieldLogger) {
	c.logger = logger
}

// execute sends one command to the process and reads stdout up to the
// {ready} marker. The stderr text accumulated during the command is returned
// alongside.
func (c *Client) execute(args ...string) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", "", ErrNotRunning
	}

	c.takeStderr()

	for _, arg := range args {
		if _, err := fmt.Fprintln(c.stdin, arg); err != nil {
			return "", "", fmt.Errorf("write arg %q: %w", arg, err)
		}
	}
	if _, err := fmt.Fprintln(c.stdin, "-execute"); err != nil {
		return "", "", fmt.Errorf("write execute: %w", err)
	}

	var out strings.Builder
	for c.stdout.Scan() {
		line := c.stdout.Text()
		if strings.HasPrefix(line, "{ready}") {
			return out.String(), c.takeStderr(), nil
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := c.stdout.Err(); err != nil {
		return "", "", fmt.Errorf("read output: %w", err)
	}
	return "", "", fmt.Errorf("%w: output stream ended", ErrNotRunning)
}

// takeStderr drains and clears the accumulated stderr text.
func (c *Client) takeStderr() string {
	c.stderrMu.Lock()
	defer c.stderrMu.Unlock()
	s := c.stderrBuf.String()
	c.stderrBuf.Reset()
	return s
}

// ReadMetadata reads all tags from one file as group-qualified names
// ("EXIF:DateTimeOriginal"), every value rendered as a string. Numeric
// values keep their literal JSON text.
func (c *Client) ReadMetadata(path string) (map[string]string, error) {
	out, stderrText, err := c.execute("-G", "-json", path)
	if err != nil {
		return nil, err
	}
	fields, err := decodeReadOutput(out)
	if err != nil {
		if errText := parseErrors(stderrText); errText != "" {
			return nil, fmt.Errorf("read metadata from %s: %s", path, errText)
		}
		return nil, fmt.Errorf("read metadata from %s: %w", path, err)
	}
	return fields, nil
}

// WriteMetadata writes the given tag values to one file in place. It returns
// any warning text the tool emitted; a hard error from the tool is returned
// as err with the tool's own message.
func (c *Client) WriteMetadata(path string, fields map[string]string) (string, error) {
	if len(fields) == 0 {
		return "", nil
	}

	args := buildWriteArgs(path, fields)
	out, stderrText, err := c.execute(args...)
	if err != nil {
		return "", err
	}

	warning := parseWarnings(stderrText)
	if errText := parseErrors(stderrText); errText != "" {
		return warning, fmt.Errorf("write metadata to %s: %s", path, errText)
	}
	if !strings.Contains(out, "1 image files updated") {
		c.logger.WithFields(logrus.Fields{
			"path":   path,
			"output": strings.TrimSpace(out),
		}).Debug("exiftool reported no update")
	}
	return warning, nil
}

// Close shuts the process down via the stay-open handshake and waits for it
// to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if _, err := fmt.Fprintln(c.stdin, "-stay_open"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(c.stdin, "False"); err != nil {
		return err
	}
	if err := c.stdin.Close(); err != nil {
		return err
	}
	return c.cmd.Wait()
}

// buildWriteArgs renders one write command: -overwrite_original plus one
// -TAG=VALUE argument per field, sorted for a stable argument order.
func buildWriteArgs(path string, fields map[string]string) []string {
	tags := make([]string, 0, len(fields))
	for tag := range fields {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	args := make([]string, 0, len(fields)+2)
	args = append(args, "-overwrite_original")
	for _, tag := range tags {
		args = append(args, fmt.Sprintf("-%s=%s", tag, fields[tag]))
	}
	return append(args, path)
}

// decodeReadOutput parses `-G -json` output for a single file into a flat
// string map.
func decodeReadOutput(jsonText string) (map[string]string, error) {
	dec := json.NewDecoder(strings.NewReader(jsonText))
	dec.UseNumber()

	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode tag JSON: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("no records in tag JSON")
	}

	fields := make(map[string]string, len(records[0]))
	for tag, value := range records[0] {
		fields[tag] = stringifyTagValue(value)
	}
	return fields, nil
}

// stringifyTagValue flattens one JSON tag value to its string form. Lists
// join with ", " the way exiftool itself renders multi-valued tags.
func stringifyTagValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = stringifyTagValue(item)
		}
		return strings.Join(parts, ", ")
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// parseWarnings collects "Warning:" lines from stderr text.
func parseWarnings(stderrText string) string {
	return collectPrefixed(stderrText, "Warning:")
}

// parseErrors collects "Error:" lines from stderr text.
func parseErrors(stderrText string) string {
	return collectPrefixed(stderrText, "Error:")
}

func collectPrefixed(text, prefix string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			lines = append(lines, strings.TrimSpace(strings.TrimPrefix(line, prefix)))
		}
	}
	return strings.Join(lines, "; ")
}
