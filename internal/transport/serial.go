package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialConfig describes the RS-485 line settings (spec.md §6: "8N1 by
// default, configurable parity/stop bits, default 9600 baud; configurable up
// to 115200").
type SerialConfig struct {
	Device   string
	BaudRate int    // default 9600
	Parity   string // "N" (default), "E", "O"
	StopBits int    // 1 (default) or 2
}

// SerialSink writes panel messages to a real RS-485 serial port.
type SerialSink struct {
	cfg SerialConfig

	mu   sync.Mutex
	port serial.Port
}

// NewSerialSink returns a SerialSink for cfg; Open must be called before use.
func NewSerialSink(cfg SerialConfig) *SerialSink {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = 1
	}
	if cfg.Parity == "" {
		cfg.Parity = "N"
	}
	return &SerialSink{cfg: cfg}
}

func (s *SerialSink) mode() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: s.cfg.BaudRate,
		DataBits: 8,
	}
	switch s.cfg.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("transport(serial): unsupported parity %q", s.cfg.Parity)
	}
	switch s.cfg.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("transport(serial): unsupported stop bits %d", s.cfg.StopBits)
	}
	return mode, nil
}

func (s *SerialSink) Open(ctx context.Context) error {
	mode, err := s.mode()
	if err != nil {
		return err
	}
	port, err := serial.Open(s.cfg.Device, mode)
	if err != nil {
		return fmt.Errorf("transport(serial): open %s: %w", s.cfg.Device, err)
	}
	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	log.Printf("transport(serial): opened %s at %d baud %s%d%d", s.cfg.Device, s.cfg.BaudRate, s.cfg.Parity, 8, s.cfg.StopBits)
	return nil
}

func (s *SerialSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// WriteAll writes b in full, respecting ctx cancellation for the dispatcher's
// write_timeout (spec.md §5).
func (s *SerialSink) WriteAll(ctx context.Context, b []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return fmt.Errorf("%w: transport(serial): not open", ErrPermanent)
	}
	done := make(chan error, 1)
	go func() {
		_, err := port.Write(b)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("transport(serial): write: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("transport(serial): write: %w", err)
		}
		return nil
	}
}

func (s *SerialSink) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// IsPermanentError reports whether err indicates the serial device itself is
// gone (unplugged, permission revoked) rather than a transient timeout.
func (s *SerialSink) IsPermanentError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) {
		return true
	}
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.InvalidSerialPort, serial.PermissionDenied:
			return true
		}
	}
	return false
}
