// Package transmission drives the master/slave turn-taking of the ZVT
// protocol: one command goes out, the terminal answers with status,
// print and acknowledge packets, and the exchange ends when master
// rights return to the ECR.
package transmission

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/gregLibert/zvt-ecr/pkg/packets"
	"github.com/gregLibert/zvt-ecr/pkg/transport"
)

// State of the transmission. A transmission is Idle between commands;
// the terminal states describe how the last exchange ended.
type State int

const (
	Idle State = iota
	Sending
	AwaitingResponse
	Completed
	Aborted
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case AwaitingResponse:
		return "awaiting response"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Direction of a history entry.
type Direction int

const (
	Sent Direction = iota
	Received
)

func (d Direction) String() string {
	if d == Sent {
		return ">"
	}
	return "<"
}

// Entry is one packet of an exchange, tagged with its direction.
type Entry struct {
	Dir    Direction
	Packet packets.Packet
}

// Listener receives the intermediate status, status-information and
// print packets of an exchange as they arrive. It is called
// synchronously from the receive loop.
type Listener func(packets.Packet)

// CommandError reports an exchange terminated by the PT with a
// PacketReceivedError. An Abort is not an error: it ends the exchange
// regularly and is kept as Exchange.Completion.
type CommandError struct {
	Code byte
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command failed with code 0x%02X: %s", e.Code, packets.ErrorDescription(e.Code))
}

// Exchange is the record of one command and everything the PT sent
// back until master rights returned.
type Exchange struct {
	Command packets.Command

	// Completion is the closing packet: *packets.Completion on
	// success, *packets.Abort when the PT broke the exchange off.
	Completion packets.Packet

	History []Entry
	Result  State
}

// Aborted reports whether the PT closed the exchange with an Abort.
func (e *Exchange) Aborted() bool {
	_, ok := e.Completion.(*packets.Abort)
	return ok
}

// Transmission owns the transport for the duration of one command.
// It is not safe for concurrent use; callers must not issue
// overlapping commands.
type Transmission struct {
	transport transport.Transport
	logger    *log.Logger

	state State
	last  *Exchange
}

// New wires a transmission to a connected transport. A nil logger
// disables protocol logging.
func New(tr transport.Transport, logger *log.Logger) *Transmission {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Transmission{transport: tr, logger: logger}
}

// State returns the current state.
func (t *Transmission) State() State {
	return t.state
}

// Last returns the record of the most recent exchange.
func (t *Transmission) Last() *Exchange {
	return t.last
}

// LastHistory returns the ordered packets of the most recent exchange.
func (t *Transmission) LastHistory() []Entry {
	if t.last == nil {
		return nil
	}
	return t.last.History
}

// Transmit sends one command and runs the exchange until the PT
// returns master rights, feeding intermediate packets to the listener
// (which may be nil). An Abort by the PT ends the exchange regularly;
// callers inspect Last().Completion for the outcome. On any failure
// the history so far is retained and the transmission returns to
// Idle.
func (t *Transmission) Transmit(cmd packets.Command, listener Listener) error {
	if t.state != Idle {
		return fmt.Errorf("transmission: busy (%s); overlapping commands are not allowed", t.state)
	}

	ex := &Exchange{Command: cmd}
	t.last = ex
	t.state = Sending
	defer func() {
		if t.state != Completed && t.state != Aborted {
			t.state = Failed
		}
		ex.Result = t.state
		t.state = Idle
	}()

	raw, err := packets.Marshal(cmd)
	if err != nil {
		return err
	}

	t.logger.Debug("send", "packet", fmt.Sprint(cmd))
	ex.History = append(ex.History, Entry{Dir: Sent, Packet: cmd})
	if err := t.transport.Send(raw); err != nil {
		return fmt.Errorf("transmission: send: %w", err)
	}

	t.state = AwaitingResponse
	timeout := cmd.ResponseTimeout()

	for {
		raw, err := t.transport.Receive(timeout)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				return fmt.Errorf("transmission: no response within %s: %w", timeout, err)
			}
			return fmt.Errorf("transmission: receive: %w", err)
		}

		resp, err := packets.Parse(raw)
		if err != nil {
			return fmt.Errorf("transmission: %w", err)
		}

		t.logger.Debug("recv", "packet", fmt.Sprint(resp))
		ex.History = append(ex.History, Entry{Dir: Received, Packet: resp})

		master, err := t.handle(ex, resp, listener)
		if err != nil {
			return err
		}
		if master {
			if ex.Aborted() {
				t.state = Aborted
			} else {
				t.state = Completed
			}
			return nil
		}
	}
}

// handle applies one response to the running exchange and reports
// whether the ECR regained master rights.
func (t *Transmission) handle(ex *Exchange, resp packets.Packet, listener Listener) (bool, error) {
	switch r := resp.(type) {
	case *packets.PacketReceived:
		// The APDU-level ack closes commands that do not wait for a
		// completion; everyone else keeps listening.
		return !ex.Command.WaitForCompletion(), nil

	case *packets.PacketReceivedError:
		return false, &CommandError{Code: r.Code}

	case *packets.Completion:
		ex.Completion = r
		return true, t.sendReceived(ex)

	case *packets.Abort:
		ex.Completion = r
		return true, t.sendReceived(ex)

	case *packets.StatusInformation, *packets.IntermediateStatus,
		*packets.PrintLine, *packets.PrintTextBlock:
		if err := t.sendReceived(ex); err != nil {
			return false, err
		}
		if listener != nil {
			listener(resp)
		}
		return false, nil

	default:
		t.logger.Debug("unexpected response", "packet", fmt.Sprint(resp))
		return false, t.sendReceived(ex)
	}
}

// sendReceived acknowledges a PT packet at the APDU layer with 80 00.
func (t *Transmission) sendReceived(ex *Exchange) error {
	ack := &packets.PacketReceived{}
	raw, err := packets.Marshal(ack)
	if err != nil {
		return err
	}

	ex.History = append(ex.History, Entry{Dir: Sent, Packet: ack})
	if err := t.transport.Send(raw); err != nil {
		return fmt.Errorf("transmission: acknowledge: %w", err)
	}
	return nil
}
