package imu

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.bug.st/serial"

	"github.com/luacghee/D2SLAM/internal/telemetry"
)

// SerialSource reads IMU samples from a UART-connected inertial sensor,
// the typical deployment on embedded flight-controller rigs. Each line
// is a CSV record "t,ax,ay,az,gx,gy,gz" (seconds, m/s^2, rad/s).
type SerialSource struct {
	port serial.Port
}

// OpenSerialSource opens portName at baud and returns a SerialSource
// ready for Run.
func OpenSerialSource(portName string, baud int) (*SerialSource, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("imu: open serial port %s: %w", portName, err)
	}
	return &SerialSource{port: port}, nil
}

// Run reads lines from the serial port until ctx is done, parsing and
// appending each sample to buf. Malformed lines are logged and skipped —
// per §7 this is a transient data gap, not reported up the call stack.
func (s *SerialSource) Run(ctx context.Context, buf *Buffer) error {
	scan := bufio.NewScanner(s.port)
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.port.Close()
		close(done)
	}()

	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		sample, err := parseIMULine(line)
		if err != nil {
			telemetry.Logf("imu: skipping malformed serial line %q: %v", line, err)
			continue
		}
		if err := buf.Add(sample); err != nil {
			telemetry.Logf("imu: dropping out-of-order sample: %v", err)
		}
	}
	select {
	case <-done:
	default:
	}
	return ctx.Err()
}

// Close closes the underlying serial port.
func (s *SerialSource) Close() error { return s.port.Close() }

func parseIMULine(line string) (Sample, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 7 {
		return Sample{}, fmt.Errorf("expected 7 fields, got %d", len(fields))
	}
	vals := make([]float64, 7)
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Sample{}, fmt.Errorf("field %d: %w", i, err)
		}
		vals[i] = v
	}
	return Sample{
		T:    vals[0],
		Acc:  [3]float64{vals[1], vals[2], vals[3]},
		Gyro: [3]float64{vals[4], vals[5], vals[6]},
	}, nil
}
