// Package terminal is the high-level client: it owns the transport,
// drives the transmission and exposes the operations a cash register
// needs — registration, payment, end-of-day, status, display and
// printing.
package terminal

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/gregLibert/zvt-ecr/pkg/packets"
	"github.com/gregLibert/zvt-ecr/pkg/transmission"
	"github.com/gregLibert/zvt-ecr/pkg/transport"
)

// MaxTextLines is the number of display lines the basic terminal
// profile allows an ECR to use.
const MaxTextLines = 4

// printChunkLines bounds how many receipt lines go into one
// print-text block.
const printChunkLines = 10

// Config describes a terminal connection.
type Config struct {
	// Device selects the transport: a path such as /dev/ttyUSB0 or
	// COM3 for serial, socket://host:port for TCP.
	Device string

	// Password is the 6-digit terminal password. Defaults to 123456.
	Password string

	// Currency is the ISO 4217 numeric code. Defaults to EUR.
	Currency uint16

	// AckTimeout bounds the wait for the frame acknowledge.
	AckTimeout time.Duration

	// InsertDelays opts into conservative pacing between frames.
	InsertDelays bool

	// Logger receives protocol traffic at debug level.
	Logger *log.Logger

	// Printer receives the ordered receipt lines of an exchange.
	Printer func(lines []string)

	// StatusListener receives intermediate status codes as they
	// arrive.
	StatusListener func(code byte)

	// Listener, if set, receives every intermediate, status and
	// print packet of an exchange.
	Listener func(p packets.Packet)

	// Clock supplies the host time; the end-of-day date has no year
	// on the wire. Defaults to time.Now.
	Clock func() time.Time
}

// ECR is a connected client. It is not safe for concurrent use.
type ECR struct {
	cfg         Config
	logger      *log.Logger
	transport   transport.Transport
	transmitter *transmission.Transmission
	clock       func() time.Time

	version    string
	terminalID uint64
	registered bool
	daylog     []string
}

// New builds the transport for the configured device, connects it and
// wires the transmission. Close releases the connection.
func New(cfg Config) (*ECR, error) {
	if cfg.Password == "" {
		cfg.Password = "123456"
	}
	if cfg.Currency == 0 {
		cfg.Currency = packets.CurrencyEUR
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	tr, err := transport.New(cfg.Device, transport.Config{
		Logger:       cfg.Logger,
		AckTimeout:   cfg.AckTimeout,
		InsertDelays: cfg.InsertDelays,
	})
	if err != nil {
		return nil, err
	}
	if err := tr.Connect(); err != nil {
		return nil, err
	}

	return &ECR{
		cfg:         cfg,
		logger:      cfg.Logger,
		transport:   tr,
		transmitter: transmission.New(tr, cfg.Logger),
		clock:       cfg.Clock,
	}, nil
}

// Close releases the transport.
func (e *ECR) Close() error {
	return e.transport.Close()
}

// Last returns the record of the most recent exchange.
func (e *ECR) Last() *transmission.Exchange {
	return e.transmitter.Last()
}

// Version returns the terminal software version, once a status
// enquiry reported it.
func (e *ECR) Version() string {
	return e.version
}

// TerminalID returns the terminal identifier, once a registration
// reported it.
func (e *ECR) TerminalID() uint64 {
	return e.terminalID
}

// Registered reports whether a registration completed since the last
// restart.
func (e *ECR) Registered() bool {
	return e.registered
}

// Daylog returns the receipt of the last end-of-day run.
func (e *ECR) Daylog() []string {
	return append([]string(nil), e.daylog...)
}

// transmit routes every command of the client through one place,
// pacing the channel when requested and fanning receipt lines and
// status codes out to the configured callbacks.
func (e *ECR) transmit(cmd packets.Command) error {
	if e.transport.InsertDelays() {
		time.Sleep(200 * time.Millisecond)
	}

	var lines []string
	err := e.transmitter.Transmit(cmd, func(p packets.Packet) {
		switch r := p.(type) {
		case *packets.IntermediateStatus:
			if e.cfg.StatusListener != nil {
				e.cfg.StatusListener(r.Status)
			}
		case *packets.PrintLine:
			lines = append(lines, r.Text)
		case *packets.PrintTextBlock:
			lines = append(lines, r.Lines...)
		}
		if e.cfg.Listener != nil {
			e.cfg.Listener(p)
		}
	})

	if len(lines) > 0 && e.cfg.Printer != nil {
		e.cfg.Printer(lines)
	}
	return err
}

// Register registers the ECR at the PT with the given configuration
// byte, locking menus according to the claimed duties. The terminal id
// from the completion is remembered.
func (e *ECR) Register(config byte, bitmaps ...packets.Bitmap) error {
	cmd, err := packets.NewRegistration(e.cfg.Password, config, e.cfg.Currency, bitmaps...)
	if err != nil {
		return err
	}
	if err := e.transmit(cmd); err != nil {
		return err
	}

	if completion, ok := e.Last().Completion.(*packets.Completion); ok {
		if tid, ok := completion.TerminalID(); ok {
			e.terminalID = tid
		}
		e.registered = true
	}
	return nil
}

// RegisterUnlocked registers without locking the admin menu on the
// PT. Not for production use.
func (e *ECR) RegisterUnlocked() error {
	cfg := packets.DefaultRegistrationConfig()
	cfg.ControlsAdmin = false
	return e.Register(cfg.Byte())
}

// Payment authorises a payment of the given amount in minor currency
// units. It returns true when the PT completed the payment and false
// when the PT aborted it; the abort reason is on Last().Completion.
func (e *ECR) Payment(amountMinor uint64, bitmaps ...packets.Bitmap) (bool, error) {
	cmd, err := packets.NewAuthorisation(amountMinor, e.cfg.Currency, bitmaps...)
	if err != nil {
		return false, err
	}
	if err := e.transmit(cmd); err != nil {
		return false, err
	}

	_, ok := e.Last().Completion.(*packets.Completion)
	return ok, nil
}

// Cancel aborts the currently running transaction in the PT. The
// running exchange then terminates with an Abort.
func (e *ECR) Cancel() error {
	return e.transmit(&packets.AbortCommand{})
}

// Status runs a status enquiry and returns the terminal status byte;
// zero means ready. The software version is captured on first sight.
func (e *ECR) Status() (byte, error) {
	cmd, err := packets.NewStatusEnquiry(e.cfg.Password)
	if err != nil {
		return 0, err
	}
	if err := e.transmit(cmd); err != nil {
		return 0, err
	}

	completion, ok := e.Last().Completion.(*packets.Completion)
	if !ok {
		return 0, fmt.Errorf("terminal: status enquiry ended without completion")
	}
	if e.version == "" {
		e.version = completion.SWVersion
	}
	if completion.TerminalStatus == nil {
		return 0, nil
	}
	return *completion.TerminalStatus, nil
}

// WaitForStatus polls the PT until it reports ready, logging each
// non-zero status on the way.
func (e *ECR) WaitForStatus() error {
	for {
		status, err := e.Status()
		if err != nil {
			return err
		}
		if status == 0 {
			return nil
		}
		e.logger.Info("terminal busy", "status", packets.TerminalStatusDescription(status))
		if e.transport.InsertDelays() {
			time.Sleep(2 * time.Second)
		}
	}
}

// EndOfDay runs the end-of-day reconciliation. The decoded totals are
// returned (nil if the PT sent none) and the printout, or a summary
// rendered from the totals, is kept as the daylog.
func (e *ECR) EndOfDay() (*packets.EndOfDaySummary, error) {
	cmd, err := packets.NewEndOfDay(e.cfg.Password)
	if err != nil {
		return nil, err
	}
	if err := e.transmit(cmd); err != nil {
		return nil, err
	}

	summary := e.endOfDaySummary()
	e.daylog = e.LastPrintout()
	if len(e.daylog) == 0 && summary != nil {
		e.daylog = formatDaylog(summary, e.terminalID)
	}
	return summary, nil
}

// endOfDaySummary scans the last exchange for the status information
// carrying the totals.
func (e *ECR) endOfDaySummary() *packets.EndOfDaySummary {
	var summary *packets.EndOfDaySummary
	for _, entry := range e.transmitter.LastHistory() {
		if entry.Dir != transmission.Received {
			continue
		}
		info, ok := entry.Packet.(*packets.StatusInformation)
		if !ok {
			continue
		}
		decoded, err := info.EndOfDay(e.clock())
		if err != nil {
			e.logger.Warn("end-of-day totals not decodable", "err", err)
			continue
		}
		if decoded != nil {
			summary = decoded
		}
	}
	return summary
}

func formatDaylog(s *packets.EndOfDaySummary, terminalID uint64) []string {
	lines := []string{
		"END-OF-DAY",
		fmt.Sprintf("terminal %08d", terminalID),
		fmt.Sprintf("receipts %d-%d", s.ReceiptStart, s.ReceiptEnd),
	}
	for _, b := range s.Brands {
		if b.Count == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("%-10s %3dx %10.2f", b.Brand, b.Count, b.Major()))
	}
	return append(lines, fmt.Sprintf("%-10s %3dx %10.2f", "total", s.TotalCount, float64(s.Amount)/100))
}

// LastPrintout returns the receipt lines of the last exchange.
func (e *ECR) LastPrintout() []string {
	var lines []string
	for _, entry := range e.transmitter.LastHistory() {
		if entry.Dir != transmission.Received {
			continue
		}
		switch p := entry.Packet.(type) {
		case *packets.PrintLine:
			lines = append(lines, p.Text)
		case *packets.PrintTextBlock:
			lines = append(lines, p.Lines...)
		}
	}
	return lines
}

// ShowText displays up to four lines on the PT for the given duration
// in seconds (0 keeps them until the next command).
func (e *ECR) ShowText(lines []string, duration byte, beeps byte) error {
	if len(lines) > MaxTextLines {
		lines = lines[:MaxTextLines]
	}
	cmd, err := packets.NewDisplayText(lines, duration, beeps)
	if err != nil {
		return err
	}
	return e.transmit(cmd)
}

// PrintText sends receipt lines to the PT printer in text-block
// chunks.
func (e *ECR) PrintText(lines []string) error {
	for start := 0; start < len(lines); start += printChunkLines {
		end := start + printChunkLines
		if end > len(lines) {
			end = len(lines)
		}
		if err := e.transmit(packets.NewPrintTextBlock(0, lines[start:end])); err != nil {
			return err
		}
	}
	return nil
}

// Diagnose runs the PT self test; progress arrives through the
// printer callback.
func (e *ECR) Diagnose() error {
	return e.transmit(&packets.Diagnosis{})
}

// Initialise forces the PT to run a network initialisation.
func (e *ECR) Initialise() error {
	cmd, err := packets.NewInitialisation(e.cfg.Password)
	if err != nil {
		return err
	}
	return e.transmit(cmd)
}

// Restart resets the PT. The registration does not survive.
func (e *ECR) Restart() error {
	e.registered = false
	return e.transmit(&packets.ResetTerminal{})
}

// Reset re-establishes the transport and restarts the PT.
func (e *ECR) Reset() error {
	if err := e.transport.Reset(); err != nil {
		return err
	}
	return e.Restart()
}

// DetectPT probes whether a terminal answers on the configured
// device.
func (e *ECR) DetectPT() bool {
	_, err := e.Status()
	return err == nil
}
