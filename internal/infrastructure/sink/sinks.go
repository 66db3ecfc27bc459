package sink

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"lancast/internal/core/ports"
)

// Kind selects a concrete sink variant at construction time.
type Kind string

const (
	KindFfplay Kind = "ffplay"
	KindFile   Kind = "file"
	KindNone   Kind = "none"
)

// New builds a decoder sink of the given kind. target is the output
// path for KindFile and is ignored otherwise.
func New(kind Kind, target string, logger *zap.SugaredLogger) (ports.DecoderSink, error) {
	switch kind {
	case KindFfplay:
		return newFfplaySink(logger)
	case KindFile:
		return newFileSink(target, logger)
	case KindNone:
		return newWriteQueue(nopWriteCloser{}, logger), nil
	default:
		return nil, fmt.Errorf("unknown sink kind %q", kind)
	}
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

// fileSink appends Annex-B payloads to a raw elementary stream file.
func newFileSink(path string, logger *zap.SugaredLogger) (ports.DecoderSink, error) {
	if path == "" {
		path = "lancast-capture.h264"
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create sink file: %w", err)
	}
	logger.Infow("writing stream to file", "path", path)
	return newWriteQueue(f, logger), nil
}

// ffplayOut couples the ffplay child's stdin with process teardown so
// closing the sink also reaps the player.
type ffplayOut struct {
	stdin io.WriteCloser
	cmd   *exec.Cmd
}

func (o *ffplayOut) Write(p []byte) (int, error) { return o.stdin.Write(p) }

func (o *ffplayOut) Close() error {
	err := o.stdin.Close()
	if waitErr := o.cmd.Wait(); waitErr != nil && err == nil {
		err = waitErr
	}
	return err
}

// newFfplaySink spawns ffplay reading an H.264 elementary stream from
// stdin with its latency-reducing flags set.
func newFfplaySink(logger *zap.SugaredLogger) (ports.DecoderSink, error) {
	cmd := exec.Command("ffplay",
		"-loglevel", "warning",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-framedrop",
		"-probesize", "32",
		"-analyzeduration", "0",
		"-f", "h264",
		"-i", "pipe:0",
	)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffplay stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffplay: %w", err)
	}
	logger.Infow("ffplay started", "pid", cmd.Process.Pid)

	return newWriteQueue(&ffplayOut{stdin: stdin, cmd: cmd}, logger), nil
}
