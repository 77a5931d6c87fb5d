package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"os"

	"github.com/andresmejia3/facesampler/internal/sampler"
	"github.com/andresmejia3/facesampler/internal/types"
	"github.com/andresmejia3/facesampler/internal/utils" // Using the SafeCommand wrapper
)

const jpegQuality = 95

// Response status bytes written by the Python side.
const (
	statusOK    = 0
	statusError = 1
	statusReady = 2 // sent once, after the detector imported successfully
)

// ErrWorkerExited is returned once the pipe to the child is broken. It wraps
// sampler.ErrDetectorUnavailable so a sampling pass stops instead of aborting every video.
var ErrWorkerExited = fmt.Errorf("python worker exited: %w", sampler.ErrDetectorUnavailable)

// PythonWorker runs face detection in a Python child process (cvlib), one frame at a time.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	exited bool
}

// NewPythonWorker starts script with the given interpreter.
func NewPythonWorker(ctx context.Context, id int, python, script string) (*PythonWorker, error) {
	// 1. Initialize the SafeCommand we built
	py := utils.NewSafeCommand(ctx, python, "-u", script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	pw := &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}

	// Block until the child reports its detector loaded, so a broken environment
	// fails the run up front.
	if err := pw.awaitReady(); err != nil {
		pw.Close()
		if py.Stderr.Len() > 0 {
			return nil, fmt.Errorf("worker %d not ready: %w\nPYTHON CRASH LOGS:\n%s", id, err, py.Stderr.String())
		}
		return nil, fmt.Errorf("worker %d not ready: %w", id, err)
	}
	return pw, nil
}

// awaitReady reads the startup frame.
// Protocol: [Status:2] on success, [Status:1][MsgLen][Msg] if the detector failed to load.
func (w *PythonWorker) awaitReady() error {
	resp, err := w.readFrame()
	if err != nil {
		return err
	}
	if len(resp) == 0 {
		return fmt.Errorf("empty handshake from python worker")
	}
	switch resp[0] {
	case statusReady:
		return nil
	case statusError:
		return parseError(resp[1:])
	default:
		return fmt.Errorf("unexpected handshake status %d", resp[0])
	}
}

// Communicate sends one framed request and reads one framed response.
// Any I/O failure means the child is gone; the worker stays unusable afterwards.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	if w.exited {
		return nil, ErrWorkerExited
	}

	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, w.broken(err)
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, w.broken(err)
	}

	resp, err := w.readFrame()
	if err != nil {
		return nil, w.broken(err) // This is where we catch the "ModuleNotFoundError" crash
	}
	return resp, nil
}

func (w *PythonWorker) readFrame() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, w.broken(err)
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return nil, w.broken(err)
	}
	return respBody, nil
}

func (w *PythonWorker) broken(err error) error {
	w.exited = true
	if errors.Is(err, ErrWorkerExited) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrWorkerExited, err)
}

// Detect implements sampler.Detector.
// Request payload: [Threshold float32][JPEG bytes].
func (w *PythonWorker) Detect(frame image.Image, threshold float64) ([]types.Detection, error) {
	payload := bytes.NewBuffer(binary.BigEndian.AppendUint32(nil, math.Float32bits(float32(threshold))))
	if err := jpeg.Encode(payload, frame, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	resp, err := w.Communicate(payload.Bytes())
	if err != nil {
		return nil, err
	}
	return parseDetections(resp, threshold)
}

// parseDetections decodes a response payload.
// OK:    [Status:0][NumFaces uint32] then per face [Box [4]int32 x0,y0,x1,y1][Confidence float32]
// Error: [Status:1][MsgLen uint32][Msg]
func parseDetections(resp []byte, threshold float64) ([]types.Detection, error) {
	if len(resp) == 0 {
		return nil, fmt.Errorf("empty response from python worker")
	}
	r := bytes.NewReader(resp[1:])

	switch resp[0] {
	case statusOK:
	case statusError:
		return nil, parseError(resp[1:])
	default:
		return nil, fmt.Errorf("unknown python worker status %d", resp[0])
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}

	faces := make([]types.Detection, 0, count)
	for i := uint32(0); i < count; i++ {
		var box [4]int32
		var conf float32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("malformed face %d: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &conf); err != nil {
			return nil, fmt.Errorf("malformed face %d: %w", i, err)
		}
		// The threshold crossed the wire as float32; compare at that precision.
		if conf < float32(threshold) {
			continue
		}
		faces = append(faces, types.Detection{
			// Keep the box as reported; the sampler clips and drops degenerate boxes.
			Box:        image.Rectangle{Min: image.Pt(int(box[0]), int(box[1])), Max: image.Pt(int(box[2]), int(box[3]))},
			Confidence: float64(conf),
		})
	}
	return faces, nil
}

// parseError decodes [MsgLen uint32][Msg].
func parseError(body []byte) error {
	r := bytes.NewReader(body)
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return fmt.Errorf("malformed error response: %w", err)
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(r, msg); err != nil {
		return fmt.Errorf("malformed error response: %w", err)
	}
	return fmt.Errorf("python worker error: %s", msg)
}

// Close shuts the pipes and waits for the child to exit.
func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
