package stt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/locale"
	"github.com/mattn/go-shellwords"
)

// execEngine runs an external recognizer command once per submission. The
// command receives --audio and --language and writes one JSON object per
// line on stdout.
type execEngine struct {
	cmd []string
	cfg config.STTConfig
}

type execLine struct {
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error"`
}

func NewExecEngine(cfg config.STTConfig) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execEngine{cmd: args, cfg: cfg}, nil
}

func (e *execEngine) Name() string { return config.ModeExec }

func (e *execEngine) Close() error { return nil }

func (e *execEngine) Recognizer(_ context.Context, id string) (Recognizer, error) {
	if !locale.Supported(id, e.cfg.Locales) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocale, id)
	}
	canonical, _ := locale.Canonical(id)
	return &execRecognizer{engine: e, locale: canonical}, nil
}

type execRecognizer struct {
	engine *execEngine
	locale string
}

func (r *execRecognizer) Locale() string { return r.locale }

func (r *execRecognizer) Ready(context.Context) bool {
	_, err := exec.LookPath(r.engine.cmd[0])
	return err == nil
}

func (r *execRecognizer) args(path string, opts SubmitOptions) []string {
	args := append([]string{}, r.engine.cmd[1:]...)
	args = append(args, "--audio", path, "--language", r.locale)
	if r.engine.cfg.ModelPath != "" {
		args = append(args, "--model", r.engine.cfg.ModelPath)
	}
	if opts.Hint != HintUnspecified {
		args = append(args, "--hint", string(opts.Hint))
	}
	return args
}

func (r *execRecognizer) Submit(ctx context.Context, path string, opts SubmitOptions) (<-chan Result, <-chan error) {
	results := make(chan Result)
	errs := make(chan error, 1)
	go func() {
		defer close(results)
		defer close(errs)

		command := exec.CommandContext(ctx, r.engine.cmd[0], r.args(path, opts)...)
		var stderr bytes.Buffer
		command.Stderr = &stderr
		stdout, err := command.StdoutPipe()
		if err != nil {
			errs <- err
			return
		}
		if err := command.Start(); err != nil {
			errs <- fmt.Errorf("start stt command: %w", err)
			return
		}

		abort := func() {
			_ = command.Process.Kill()
			_ = command.Wait()
		}

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(nil, 1<<20)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var resp execLine
			if err := json.Unmarshal(line, &resp); err != nil {
				errs <- fmt.Errorf("decode stt response: %w", err)
				abort()
				return
			}
			if resp.Error != "" {
				errs <- errors.New(resp.Error)
				abort()
				return
			}
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				abort()
				return
			case results <- Result{Text: resp.Text, Confidence: resp.Confidence, Final: resp.Final}:
			}
			if resp.Final {
				// Nothing after the final result is surfaced.
				_, _ = io.Copy(io.Discard, stdout)
				_ = command.Wait()
				return
			}
		}
		if err := command.Wait(); err != nil {
			errs <- fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
			return
		}
		if err := scanner.Err(); err != nil {
			errs <- err
		}
	}()
	return results, errs
}
