package packets

import (
	"fmt"
	"time"

	"github.com/gregLibert/zvt-ecr/pkg/bcd"
)

// Responses from the PT: the frame-closing Completion and Abort, the
// APDU-level acknowledges, and the status packets delivered while a
// command runs.

// Completion (06 0F) returns master rights to the ECR. Depending on
// the command it answers, the body is empty, a single terminal-status
// byte, or a software version followed by the status, plus optional
// bitmaps (terminal id, TLV).
type Completion struct {
	base
	SWVersion      string
	TerminalStatus *byte
}

func (c *Completion) Header() Header { return Header{ClassStandard, 0x0F} }

func (c *Completion) AppendFixed(dst []byte) ([]byte, error) {
	if c.SWVersion != "" {
		var err error
		dst, err = bcd.AppendLLLVar(dst, []byte(c.SWVersion))
		if err != nil {
			return nil, err
		}
	}
	if c.TerminalStatus != nil {
		dst = append(dst, *c.TerminalStatus)
	}
	return dst, nil
}

// ConsumeFixed is data-directed: a one-byte body is the terminal
// status alone; otherwise a software version is attempted and, failing
// that, the body is handed on to the bitmap reader untouched.
func (c *Completion) ConsumeFixed(body []byte) ([]byte, error) {
	switch {
	case len(body) == 0:
		return nil, nil
	case len(body) == 1:
		status := body[0]
		c.TerminalStatus = &status
		return nil, nil
	}

	version, rest, err := bcd.ConsumeLLLVar(body)
	if err != nil {
		return body, nil
	}
	c.SWVersion = string(version)
	if len(rest) > 0 {
		status := rest[0]
		c.TerminalStatus = &status
		rest = rest[1:]
	}
	return rest, nil
}

// TerminalID returns the terminal identifier bitmap, if present.
func (c *Completion) TerminalID() (uint64, bool) {
	return c.bitmaps.Number(BmpTID)
}

func (c *Completion) String() string {
	if c.TerminalStatus != nil {
		return fmt.Sprintf("Completion{06 0F} status=%02X", *c.TerminalStatus)
	}
	return "Completion{06 0F}"
}

// Abort (06 1E) ends an exchange unsuccessfully. The first body byte
// is the error code.
type Abort struct {
	base
	ErrorCode byte
}

func (a *Abort) Header() Header { return Header{ClassStandard, 0x1E} }

func (a *Abort) AppendFixed(dst []byte) ([]byte, error) {
	if a.ErrorCode != 0 {
		dst = append(dst, a.ErrorCode)
	}
	return dst, nil
}

func (a *Abort) ConsumeFixed(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, nil
	}
	a.ErrorCode = body[0]
	return body[1:], nil
}

// Description resolves the error code against the documented table.
func (a *Abort) Description() string {
	return ErrorDescription(a.ErrorCode)
}

func (a *Abort) String() string {
	return fmt.Sprintf("Abort{06 1E} %02X: %s", a.ErrorCode, a.Description())
}

// PacketReceived (80 00) is the APDU-level positive acknowledge, the
// most travelled packet of the protocol.
type PacketReceived struct {
	base
}

func (p *PacketReceived) Header() Header { return Header{ClassReceived, 0x00} }

// PacketReceivedError (84 xx) is the APDU-level negative acknowledge;
// the instruction byte carries the error code.
type PacketReceivedError struct {
	base
	Code byte
}

func (p *PacketReceivedError) Header() Header { return Header{ClassRecvError, p.Code} }

// Description resolves the error code against the documented table.
func (p *PacketReceivedError) Description() string {
	return ErrorDescription(p.Code)
}

func (p *PacketReceivedError) String() string {
	return fmt.Sprintf("PacketReceivedError{84 %02X}: %s", p.Code, p.Description())
}

// IntermediateStatus (04 FF) reports progress during a long-running
// command: one status byte, an optional BCD timeout and an optional
// TLV container.
type IntermediateStatus struct {
	base
	Status  byte
	Timeout *byte
}

func (i *IntermediateStatus) Header() Header { return Header{ClassPT, 0xFF} }

func (i *IntermediateStatus) AppendFixed(dst []byte) ([]byte, error) {
	dst = append(dst, i.Status)
	if i.Timeout != nil {
		dst = append(dst, *i.Timeout)
	}
	return dst, nil
}

func (i *IntermediateStatus) ConsumeFixed(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, nil
	}
	i.Status = body[0]
	body = body[1:]
	if len(body) > 0 && body[0] != BmpTLV {
		timeout := body[0]
		i.Timeout = &timeout
		body = body[1:]
	}
	return body, nil
}

// Description resolves the status byte against the documented table.
func (i *IntermediateStatus) Description() string {
	return IntermediateStatusDescription(i.Status)
}

func (i *IntermediateStatus) String() string {
	return fmt.Sprintf("IntermediateStatus{04 FF}: %s", i.Description())
}

// StatusInformation (04 0F) carries transaction results and, after an
// end-of-day run, the totals per card brand. The body is pure bitmaps.
type StatusInformation struct {
	base
}

func (s *StatusInformation) Header() Header { return Header{ClassPT, 0x0F} }

// ResultCode returns the result code bitmap, if present.
func (s *StatusInformation) ResultCode() (byte, bool) {
	n, ok := s.bitmaps.Number(BmpResultCode)
	return byte(n), ok
}

// Amount returns the amount bitmap in minor currency units.
func (s *StatusInformation) Amount() (uint64, bool) {
	return s.bitmaps.Number(BmpAmount)
}

func (s *StatusInformation) String() string {
	return fmt.Sprintf("StatusInformation{04 0F} %d bitmaps", len(s.bitmaps))
}

// END-OF-DAY TOTALS:
// Bitmap 60 is a fixed 53-byte block: receipt-number range in two
// two-byte BCD fields, then for each card brand in a fixed order one
// count byte and a six-byte BCD turnover.

// Card brands of the totals block, in wire order.
var totalBrands = [...]string{
	"ec-card", "jcb", "eurocard", "amex", "visa", "diners", "remaining",
}

const totalsBlockLen = 4 + len(totalBrands)*7

// BrandTotal is the end-of-day figure for one card brand.
type BrandTotal struct {
	Brand    string
	Count    int
	Turnover uint64 // minor currency units
}

// Major returns the turnover in major currency units.
func (b BrandTotal) Major() float64 {
	return float64(b.Turnover) / 100
}

// EndOfDaySummary is the decoded end-of-day information.
type EndOfDaySummary struct {
	Amount       uint64
	ReceiptStart uint64
	ReceiptEnd   uint64
	Brands       []BrandTotal
	TotalCount   int
	Timestamp    time.Time
}

// EndOfDay decodes the end-of-day information, if this status
// information carries any. The terminal reports only month and day;
// the year is taken from the caller's clock.
func (s *StatusInformation) EndOfDay(now time.Time) (*EndOfDaySummary, error) {
	amount, ok := s.Amount()
	if !ok {
		return nil, nil
	}
	summary := &EndOfDaySummary{Amount: amount}

	totals, ok := s.bitmaps.Bytes(BmpTotals)
	if !ok {
		return summary, nil
	}
	if len(totals) < totalsBlockLen {
		return nil, fmt.Errorf("totals block of %d bytes, need %d", len(totals), totalsBlockLen)
	}

	var err error
	if summary.ReceiptStart, err = bcd.Decode(totals[0:2]); err != nil {
		return nil, fmt.Errorf("receipt-number-start: %w", err)
	}
	if summary.ReceiptEnd, err = bcd.Decode(totals[2:4]); err != nil {
		return nil, fmt.Errorf("receipt-number-end: %w", err)
	}

	offset := 4
	for _, brand := range totalBrands {
		count := int(totals[offset])
		turnover, err := bcd.Decode(totals[offset+1 : offset+7])
		if err != nil {
			return nil, fmt.Errorf("turnover %s: %w", brand, err)
		}
		summary.Brands = append(summary.Brands, BrandTotal{
			Brand:    brand,
			Count:    count,
			Turnover: turnover,
		})
		summary.TotalCount += count
		offset += 7
	}

	summary.Timestamp = s.timestamp(now)
	return summary, nil
}

// timestamp rebuilds date and time from the HHMMSS and MMDD bitmaps.
func (s *StatusInformation) timestamp(now time.Time) time.Time {
	hhmmss, _ := s.bitmaps.Number(BmpTime)
	mmdd, okDate := s.bitmaps.Number(BmpDateDay)
	if !okDate {
		return time.Time{}
	}

	return time.Date(
		now.Year(),
		time.Month(mmdd/100), int(mmdd%100),
		int(hhmmss/10000), int(hhmmss/100%100), int(hhmmss%100),
		0, now.Location(),
	)
}
