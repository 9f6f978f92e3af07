package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/foxxcyber/dococr/internal/apperr"
)

// maxResponseLine bounds one worker response, which carries the
// captured console output of a single call.
const maxResponseLine = 64 * 1024 * 1024

// workerStopTimeout is how long Close waits for the worker to exit after
// its stdin is closed
const workerStopTimeout = 5 * time.Second

// Command runs the model in a long-lived inference worker started from an
// external script. The model is loaded once when the worker starts. Each
// call sends one JSON request line and reads one JSON response line that
// carries the console output of that call only.
type Command struct {
	python  string
	script  string
	modelID string
	device  string
	log     *logrus.Logger

	mu     sync.Mutex
	worker *worker
}

type workerRequest struct {
	Prompt       string `json:"prompt"`
	Image        string `json:"image"`
	Output       string `json:"output"`
	BaseSize     int    `json:"base_size"`
	ImageSize    int    `json:"image_size"`
	CropMode     bool   `json:"crop_mode"`
	SaveResults  bool   `json:"save_results"`
	TestCompress bool   `json:"test_compress"`
}

type workerResponse struct {
	Ready  bool   `json:"ready"`
	Device string `json:"device"`
	OK     bool   `json:"ok"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Error  string `json:"error"`
}

// NewCommand creates a script-driven backend. A missing interpreter or
// script is only logged here; calls fail with ErrBackendUnavailable.
func NewCommand(cfg Config, log *logrus.Logger) (*Command, error) {
	if cfg.Python == "" {
		return nil, fmt.Errorf("%w: python interpreter not configured", apperr.ErrBackendUnavailable)
	}
	c := &Command{
		python:  cfg.Python,
		script:  cfg.Script,
		modelID: cfg.ModelID,
		device:  cfg.Device,
		log:     log,
	}
	if err := c.check(); err != nil {
		log.WithError(err).Warn("OCR command backend is not ready")
	}
	return c, nil
}

func (c *Command) Name() string {
	return KindCommand
}

// Infer sends one image to the worker, starting it first if needed.
// Calls are serialized; the worker handles one image at a time.
func (c *Command) Infer(ctx context.Context, req Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, err := c.ensureWorker(ctx)
	if err != nil {
		return err
	}

	c.log.WithFields(logrus.Fields{
		"image":  req.ImagePath,
		"output": req.OutputDir,
	}).Debug("Sending image to OCR worker")

	resp, err := w.call(ctx, newWorkerRequest(req))
	if err != nil {
		// The request/response pairing is lost, so the worker is replaced
		c.stopWorker()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("OCR worker call interrupted: %w", ctxErr)
		}
		return fmt.Errorf("%w: %v", apperr.ErrBackendFailed, err)
	}

	io.WriteString(writer(req.Stdout), resp.Stdout)
	io.WriteString(writer(req.Stderr), resp.Stderr)

	if !resp.OK {
		detail := resp.Error
		if detail == "" {
			detail = Tail(resp.Stderr, 512)
		}
		return fmt.Errorf("%w: %s", apperr.ErrBackendFailed, detail)
	}
	return nil
}

// Close stops the worker
func (c *Command) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.worker == nil {
		return nil
	}
	err := c.worker.shutdown(workerStopTimeout)
	c.worker = nil
	return err
}

func (c *Command) check() error {
	if _, err := exec.LookPath(c.python); err != nil {
		return fmt.Errorf("%w: interpreter %s: %v", apperr.ErrBackendUnavailable, c.python, err)
	}
	if c.script == "" {
		return fmt.Errorf("%w: inference script not configured", apperr.ErrBackendUnavailable)
	}
	if _, err := os.Stat(c.script); err != nil {
		return fmt.Errorf("%w: inference script %s: %v", apperr.ErrBackendUnavailable, c.script, err)
	}
	return nil
}

func (c *Command) env() []string {
	var env []string
	if c.modelID != "" {
		env = append(env, "DEEPSEEK_OCR_MODEL="+c.modelID)
	}
	if c.device != "" {
		env = append(env, "OCR_DEVICE="+c.device)
	}
	return env
}

// ensureWorker returns the running worker or starts a new one and waits
// until it reports the model loaded. Caller holds c.mu.
func (c *Command) ensureWorker(ctx context.Context) (*worker, error) {
	if c.worker != nil && !c.worker.exited() {
		return c.worker, nil
	}
	c.worker = nil

	if err := c.check(); err != nil {
		return nil, err
	}

	w, err := c.startWorker()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := w.next(ctx)
	if err != nil {
		w.kill()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("OCR worker startup interrupted: %w", ctxErr)
		}
		return nil, fmt.Errorf("%w: OCR worker did not start: %v", apperr.ErrBackendUnavailable, err)
	}
	if !resp.Ready {
		w.kill()
		return nil, fmt.Errorf("%w: OCR worker sent no ready message", apperr.ErrBackendUnavailable)
	}

	c.log.WithFields(logrus.Fields{
		"pid":     w.cmd.Process.Pid,
		"device":  resp.Device,
		"startup": time.Since(start).Round(time.Millisecond),
	}).Info("OCR worker ready")

	c.worker = w
	return w, nil
}

func (c *Command) startWorker() (*worker, error) {
	cmd := exec.Command(c.python, c.script, "--serve")
	cmd.Env = append(os.Environ(), c.env()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrBackendUnavailable, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrBackendUnavailable, err)
	}
	logWriter := c.log.WithField("backend", KindCommand).WriterLevel(logrus.DebugLevel)
	cmd.Stderr = logWriter

	if err := cmd.Start(); err != nil {
		logWriter.Close()
		return nil, fmt.Errorf("%w: start OCR worker: %v", apperr.ErrBackendUnavailable, err)
	}

	w := &worker{
		cmd:       cmd,
		stdin:     stdin,
		responses: make(chan *workerResponse),
		done:      make(chan struct{}),
		gone:      make(chan struct{}),
	}
	go w.readLoop(stdout, logWriter, c.log)
	return w, nil
}

// stopWorker kills the current worker. Caller holds c.mu.
func (c *Command) stopWorker() {
	if c.worker != nil {
		c.worker.kill()
		c.worker = nil
	}
}

func newWorkerRequest(req Request) workerRequest {
	return workerRequest{
		Prompt:       req.Prompt,
		Image:        req.ImagePath,
		Output:       req.OutputDir,
		BaseSize:     req.Options.BaseSize,
		ImageSize:    req.Options.ImageSize,
		CropMode:     req.Options.CropMode,
		SaveResults:  req.Options.SaveResults,
		TestCompress: req.Options.TestCompress,
	}
}

// worker is one running inference process
type worker struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	responses chan *workerResponse
	done      chan struct{}
	gone      chan struct{}
	waitErr   error
}

// readLoop decodes response lines until the worker exits. Lines that are
// not JSON are logged and skipped.
func (w *worker) readLoop(stdout io.Reader, logWriter io.Closer, log *logrus.Logger) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxResponseLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		var resp workerResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			log.WithField("line", Tail(string(line), 200)).Debug("Ignoring non-protocol output from OCR worker")
			continue
		}
		select {
		case w.responses <- &resp:
		case <-w.done:
		}
	}
	w.waitErr = w.cmd.Wait()
	logWriter.Close()
	close(w.gone)
	close(w.responses)
}

func (w *worker) call(ctx context.Context, req workerRequest) (*workerResponse, error) {
	line, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := w.stdin.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	return w.next(ctx)
}

func (w *worker) next(ctx context.Context) (*workerResponse, error) {
	select {
	case resp, ok := <-w.responses:
		if !ok {
			return nil, w.exitError()
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *worker) exitError() error {
	if w.waitErr != nil {
		return fmt.Errorf("OCR worker exited: %v", w.waitErr)
	}
	return errors.New("OCR worker exited")
}

func (w *worker) exited() bool {
	select {
	case <-w.gone:
		return true
	default:
		return false
	}
}

func (w *worker) kill() {
	w.stop()
	_ = w.cmd.Process.Kill()
}

func (w *worker) stop() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	_ = w.stdin.Close()
}

// shutdown closes stdin and waits for the worker to leave on its own
// before killing it
func (w *worker) shutdown(timeout time.Duration) error {
	w.stop()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case _, ok := <-w.responses:
			if !ok {
				return nil
			}
		case <-timer.C:
			return w.cmd.Process.Kill()
		}
	}
}

// Tail returns at most the last n bytes of s, trimmed
func Tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return "..." + s[start:]
}
