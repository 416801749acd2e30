package sensor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

const serialReadTimeout = 3 * time.Second

// LineSensor reads "<tempC>,<humidity%>,<pressure hPa>" lines from a UART
// bridge that samples the sensor on its own.
type LineSensor struct {
	rc io.ReadCloser
	r  *bufio.Reader
}

func OpenSerial(port string, baud int) (*LineSensor, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", port, err)
	}
	if err := p.SetReadTimeout(serialReadTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("serial read timeout: %w", err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("serial reset: %w", err)
	}
	return NewLineSensor(timeoutReader{p}), nil
}

var errReadTimeout = errors.New("sensor: serial read timeout")

// timeoutReader turns the port's silent (0, nil) timeout into an error so a
// quiet bridge cannot stall the caller.
type timeoutReader struct {
	serial.Port
}

func (t timeoutReader) Read(p []byte) (int, error) {
	n, err := t.Port.Read(p)
	if n == 0 && err == nil {
		return 0, errReadTimeout
	}
	return n, err
}

func NewLineSensor(rc io.ReadCloser) *LineSensor {
	return &LineSensor{rc: rc, r: bufio.NewReader(rc)}
}

// Sense returns the next complete line.
func (s *LineSensor) Sense(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	line, err := s.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return Reading{}, fmt.Errorf("serial read: %w", err)
	}
	return ParseLine(line)
}

func (s *LineSensor) Close() error { return s.rc.Close() }

// ParseLine decodes one bridge line.
func ParseLine(line string) (Reading, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 3 {
		return Reading{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Reading{}, fmt.Errorf("%w: %q", ErrMalformed, line)
		}
		vals[i] = v
	}
	return Reading{TemperatureC: vals[0], Humidity: vals[1], PressureHPa: vals[2]}, nil
}
