package device

import (
	"bufio"
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// Transport owns the byte-stream connection to the sensor. It has no
// protocol knowledge beyond newline framing.
type Transport interface {
	// Open connects; it returns nil when already open.
	Open(ctx context.Context) error
	// WriteLine sends line followed by '\n'.
	WriteLine(line string) error
	// Lines returns the received lines of the current connection. The
	// channel is closed when the connection ends.
	Lines() <-chan string
	// Close releases the port; calling it on a closed transport is a no-op.
	Close() error
}

// SerialConfig addresses a serial port.
type SerialConfig struct {
	Address  string
	BaudRate int
}

var _ Transport = (*SerialTransport)(nil)

// SerialTransport is a Transport over a local serial port.
type SerialTransport struct {
	cfg SerialConfig

	// openPort is swapped in tests.
	openPort func(address string, mode *serial.Mode) (serial.Port, error)

	mu    sync.Mutex
	port  serial.Port
	lines chan string
}

// NewSerialTransport builds a transport; the port is opened lazily by Open.
func NewSerialTransport(cfg SerialConfig) (*SerialTransport, error) {
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Address == "" {
		return nil, errors.New("serial transport: address is required")
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 9600
	}
	return &SerialTransport{cfg: cfg, openPort: serial.Open}, nil
}

// Open implements Transport.
func (t *SerialTransport) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}

	port, err := t.openPort(t.cfg.Address, &serial.Mode{
		BaudRate: t.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return errors.Wrapf(err, "open serial port %s", t.cfg.Address)
	}

	lines := make(chan string, 32)
	t.port = port
	t.lines = lines
	go t.readLoop(port, lines)

	log.Info().Str("port", t.cfg.Address).Int("baud", t.cfg.BaudRate).Msg("serial port opened")
	return nil
}

func (t *SerialTransport) readLoop(port serial.Port, lines chan<- string) {
	defer close(lines)

	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		lines <- line
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Str("port", t.cfg.Address).Msg("serial port read failed")
	} else {
		log.Warn().Str("port", t.cfg.Address).Msg("serial port reached EOF")
	}

	t.mu.Lock()
	if t.port == port {
		_ = port.Close()
		t.port = nil
	}
	t.mu.Unlock()
}

// WriteLine implements Transport.
func (t *SerialTransport) WriteLine(line string) error {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return ErrPortClosed
	}
	if _, err := port.Write([]byte(line + "\n")); err != nil {
		return errors.Wrapf(err, "write to %s", t.cfg.Address)
	}
	return nil
}

// Lines implements Transport.
func (t *SerialTransport) Lines() <-chan string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lines
}

// Close implements Transport.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	port := t.port
	t.port = nil
	t.mu.Unlock()
	if port == nil {
		return nil
	}
	log.Info().Str("port", t.cfg.Address).Msg("serial port closed")
	if err := port.Close(); err != nil {
		return errors.Wrapf(err, "close serial port %s", t.cfg.Address)
	}
	return nil
}

// ListPorts returns the serial ports present on this host.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "list serial ports")
	}
	return ports, nil
}
