package tunnel

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"tunnel-agent/agent/internal/logging"
)

const (
	DefaultNgrokBin     = "ngrok"
	DefaultNgrokAPIAddr = "127.0.0.1:4040"
	DefaultProto        = "tcp"
	DefaultStartTimeout = 20 * time.Second
	defaultPollInterval = 250 * time.Millisecond
	stopTimeout         = 5 * time.Second
)

var (
	errExited    = errors.New("ngrok exited before the tunnel came up")
	errNoTunnels = errors.New("no tunnel reported yet")
)

var _ Controller = (*Ngrok)(nil)

type NgrokOptions struct {
	Bin          string
	Proto        string
	Region       string
	APIAddr      string
	StartTimeout time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Ngrok runs the ngrok agent as a child process and reads the public
// address from its local inspection API.
type Ngrok struct {
	opts   NgrokOptions
	api    *resty.Client
	logger *slog.Logger

	mu        sync.Mutex
	proc      *ngrokProcess
	publicURL string
}

type ngrokProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
	// exited closes after done, once the tunnel state has been cleared.
	exited chan struct{}
}

type apiTunnels struct {
	Tunnels []struct {
		Name      string `json:"name"`
		PublicURL string `json:"public_url"`
		Proto     string `json:"proto"`
		Config    struct {
			Addr string `json:"addr"`
		} `json:"config"`
	} `json:"tunnels"`
}

func NewNgrok(opts NgrokOptions) *Ngrok {
	if opts.Bin == "" {
		opts.Bin = DefaultNgrokBin
	}
	if opts.Proto == "" {
		opts.Proto = DefaultProto
	}
	if opts.APIAddr == "" {
		opts.APIAddr = DefaultNgrokAPIAddr
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	api := resty.New().
		SetBaseURL("http://"+opts.APIAddr).
		SetTimeout(2*time.Second).
		SetHeader("Accept", "application/json")
	return &Ngrok{
		opts:   opts,
		api:    api,
		logger: logging.OrNop(opts.Logger).With(logging.KeyComponent, "ngrok"),
	}
}

// Open starts ngrok for localPort. A tunnel that is already running is
// stopped first.
func (n *Ngrok) Open(ctx context.Context, credential string, localPort int) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.stopLocked(ctx); err != nil {
		n.logger.Warn("failed to stop previous ngrok process", logging.KeyError, err)
	}

	args := []string{n.opts.Proto, strconv.Itoa(localPort),
		"--authtoken", credential,
		"--log", "stdout",
		"--log-format", "json",
	}
	if n.opts.Region != "" {
		args = append(args, "--region", n.opts.Region)
	}

	proc, err := n.start(args)
	if err != nil {
		return "", &Error{Op: "open", Err: err}
	}
	n.proc = proc

	url, err := n.waitForPublicURL(ctx, proc.done, localPort)
	if err != nil {
		if stopErr := n.stopLocked(ctx); stopErr != nil {
			n.logger.Warn("failed to stop ngrok after open failure", logging.KeyError, stopErr)
		}
		return "", &Error{Op: "open", Err: err}
	}
	n.publicURL = url
	n.logger.Info("ngrok tunnel created", logging.KeyAddress, url)
	return url, nil
}

func (n *Ngrok) Close(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.stopLocked(ctx); err != nil {
		return &Error{Op: "close", Err: err}
	}
	return nil
}

func (n *Ngrok) Done() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.proc == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return n.proc.exited
}

// PublicURL returns the address of the running tunnel, or "".
func (n *Ngrok) PublicURL() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.publicURL
}

func (n *Ngrok) start(args []string) (*ngrokProcess, error) {
	cmd := exec.Command(n.opts.Bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", n.opts.Bin, err)
	}

	proc := &ngrokProcess{cmd: cmd, done: make(chan struct{}), exited: make(chan struct{})}
	go func() {
		n.pipeLog(stdout)
		proc.err = cmd.Wait()
		close(proc.done)

		n.mu.Lock()
		if n.proc == proc {
			n.logger.Warn("ngrok exited, tunnel is gone", logging.KeyAddress, n.publicURL, logging.KeyError, proc.err)
			n.proc = nil
			n.publicURL = ""
		}
		n.mu.Unlock()
		close(proc.exited)
	}()
	return proc, nil
}

func (n *Ngrok) pipeLog(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry struct {
			Lvl string `json:"lvl"`
			Msg string `json:"msg"`
			Err string `json:"err"`
		}
		if json.Unmarshal([]byte(line), &entry) != nil || entry.Msg == "" {
			n.logger.Debug(line)
			continue
		}
		if entry.Lvl == "eror" || entry.Lvl == "crit" {
			n.logger.Error(entry.Msg, logging.KeyError, entry.Err)
			continue
		}
		n.logger.Debug(entry.Msg)
	}
}

func (n *Ngrok) waitForPublicURL(ctx context.Context, exited <-chan struct{}, localPort int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.opts.StartTimeout)
	defer cancel()

	ticker := time.NewTicker(n.opts.PollInterval)
	defer ticker.Stop()

	lastErr := errNoTunnels
	for {
		url, err := n.lookup(ctx, localPort)
		if err == nil {
			return url, nil
		}
		lastErr = err

		select {
		case <-exited:
			return "", errExited
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for public url: %w (last: %v)", ctx.Err(), lastErr)
		case <-ticker.C:
		}
	}
}

func (n *Ngrok) lookup(ctx context.Context, localPort int) (string, error) {
	var result apiTunnels
	resp, err := n.api.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/tunnels")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", errors.New(resp.String())
	}

	suffix := ":" + strconv.Itoa(localPort)
	var fallback string
	for _, t := range result.Tunnels {
		if t.PublicURL == "" {
			continue
		}
		if strings.HasSuffix(t.Config.Addr, suffix) || t.Config.Addr == strconv.Itoa(localPort) {
			return t.PublicURL, nil
		}
		if fallback == "" {
			fallback = t.PublicURL
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", errNoTunnels
}

func (n *Ngrok) stopLocked(ctx context.Context) error {
	proc := n.proc
	n.proc = nil
	n.publicURL = ""
	if proc == nil {
		return nil
	}

	select {
	case <-proc.done:
		return nil
	default:
	}

	sig := os.Interrupt
	if runtime.GOOS == "windows" {
		sig = os.Kill
	}
	if err := proc.cmd.Process.Signal(sig); err != nil {
		n.logger.Debug("signal ngrok failed, killing", logging.KeyError, err)
		proc.cmd.Process.Kill()
	}

	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-proc.done:
		n.logger.Info("ngrok stopped")
		return nil
	case <-ctx.Done():
	case <-timer.C:
	}
	if err := proc.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	<-proc.done
	return nil
}
