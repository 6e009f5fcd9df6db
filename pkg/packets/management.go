package packets

import (
	"time"
)

// Administrative commands. Most carry only the password and keep the
// exchange open until the PT returns master rights.

// EndOfDay (06 50) triggers the end-of-day reconciliation. The PT
// answers with a StatusInformation carrying the totals, possibly a
// printout, and a Completion.
type EndOfDay struct {
	base
	Password string
}

// NewEndOfDay builds the command.
func NewEndOfDay(password string) (*EndOfDay, error) {
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	return &EndOfDay{Password: password}, nil
}

func (e *EndOfDay) Header() Header                 { return Header{ClassStandard, 0x50} }
func (e *EndOfDay) WaitForCompletion() bool        { return true }
func (e *EndOfDay) ResponseTimeout() time.Duration { return LongTimeout }

func (e *EndOfDay) AppendFixed(dst []byte) ([]byte, error) {
	return appendPassword(dst, e.Password)
}

func (e *EndOfDay) ConsumeFixed(body []byte) ([]byte, error) {
	pw, rest, err := consumePassword(body)
	if err != nil {
		return nil, err
	}
	e.Password = pw
	return rest, nil
}

// Kassenbericht (0F 10) requests the turnover report without closing
// the batch. Not every terminal implements it.
type Kassenbericht struct {
	base
	Password string
}

// NewKassenbericht builds the command.
func NewKassenbericht(password string) (*Kassenbericht, error) {
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	return &Kassenbericht{Password: password}, nil
}

func (k *Kassenbericht) Header() Header                 { return Header{0x0F, 0x10} }
func (k *Kassenbericht) WaitForCompletion() bool        { return true }
func (k *Kassenbericht) ResponseTimeout() time.Duration { return LongTimeout }

func (k *Kassenbericht) AppendFixed(dst []byte) ([]byte, error) {
	return appendPassword(dst, k.Password)
}

func (k *Kassenbericht) ConsumeFixed(body []byte) ([]byte, error) {
	pw, rest, err := consumePassword(body)
	if err != nil {
		return nil, err
	}
	k.Password = pw
	return rest, nil
}

// StatusEnquiry (05 01) asks the PT for its current status. The answer
// is a Completion whose payload carries the terminal status and,
// optionally, the software version.
type StatusEnquiry struct {
	base
	Password string
}

// NewStatusEnquiry builds the command. A service byte bitmap may be
// attached.
func NewStatusEnquiry(password string, bitmaps ...Bitmap) (*StatusEnquiry, error) {
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	s := &StatusEnquiry{Password: password}
	for _, bm := range bitmaps {
		s.bitmaps.add(bm)
	}
	return s, nil
}

func (s *StatusEnquiry) Header() Header                 { return Header{ClassStatus, 0x01} }
func (s *StatusEnquiry) WaitForCompletion() bool        { return true }
func (s *StatusEnquiry) ResponseTimeout() time.Duration { return DefaultTimeout }

func (s *StatusEnquiry) AppendFixed(dst []byte) ([]byte, error) {
	return appendPassword(dst, s.Password)
}

func (s *StatusEnquiry) ConsumeFixed(body []byte) ([]byte, error) {
	pw, rest, err := consumePassword(body)
	if err != nil {
		return nil, err
	}
	s.Password = pw
	return rest, nil
}

// ResetTerminal (06 18) restarts the PT.
type ResetTerminal struct {
	base
}

func (r *ResetTerminal) Header() Header                 { return Header{ClassStandard, 0x18} }
func (r *ResetTerminal) WaitForCompletion() bool        { return true }
func (r *ResetTerminal) ResponseTimeout() time.Duration { return DefaultTimeout }

// Diagnosis (06 70) runs the PT self test. The PT reports progress as
// print lines before completing.
type Diagnosis struct {
	base
}

func (d *Diagnosis) Header() Header                 { return Header{ClassStandard, 0x70} }
func (d *Diagnosis) WaitForCompletion() bool        { return true }
func (d *Diagnosis) ResponseTimeout() time.Duration { return LongTimeout }

// AbortCommand (06 B0) cancels a running transaction in the PT. It is
// allowed without master rights; the PT answers the aborted command
// with an Abort.
type AbortCommand struct {
	base
}

func (a *AbortCommand) Header() Header                 { return Header{ClassStandard, 0xB0} }
func (a *AbortCommand) WaitForCompletion() bool        { return false }
func (a *AbortCommand) ResponseTimeout() time.Duration { return DefaultTimeout }

// ReadCard (06 C0) asks the PT to read the inserted card. New
// integrations should poll with Status-Enquiry instead of using an
// infinite timeout here.
type ReadCard struct {
	base
	Timeout byte // seconds
}

// NewReadCard builds the command with the given timeout in seconds.
func NewReadCard(timeout byte) *ReadCard {
	if timeout == 0 {
		timeout = 30
	}
	return &ReadCard{Timeout: timeout}
}

func (r *ReadCard) Header() Header                 { return Header{ClassStandard, 0xC0} }
func (r *ReadCard) WaitForCompletion() bool        { return true }
func (r *ReadCard) ResponseTimeout() time.Duration { return LongTimeout }

func (r *ReadCard) AppendFixed(dst []byte) ([]byte, error) {
	return append(dst, r.Timeout), nil
}

func (r *ReadCard) ConsumeFixed(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, nil
	}
	r.Timeout = body[0]
	if r.Timeout == 0 {
		r.Timeout = 30
	}
	return body[1:], nil
}
