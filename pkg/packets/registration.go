package packets

import (
	"fmt"
	"time"

	"github.com/gregLibert/zvt-ecr/pkg/bcd"
	"github.com/gregLibert/zvt-ecr/pkg/bits"
)

// REGISTRATION (06 00):
// The ECR's opening move. It hands the PT the password, a configuration
// byte describing which duties the ECR takes over (receipt printing,
// admin menu, intermediate status) and the currency. The PT answers
// with a Completion that may carry its terminal id and software
// version. Master rights return to the ECR with the Completion.

// Registration registers the ECR at the PT.
type Registration struct {
	base
	Password string // 6 BCD digits
	Config   byte
	Currency uint16 // ISO 4217 numeric, e.g. 978 for EUR
}

// NewRegistration builds a registration command. The password must be
// six decimal digits.
func NewRegistration(password string, config byte, currency uint16, bitmaps ...Bitmap) (*Registration, error) {
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	r := &Registration{Password: password, Config: config, Currency: currency}
	for _, bm := range bitmaps {
		r.bitmaps.add(bm)
	}
	return r, nil
}

func (r *Registration) Header() Header            { return Header{ClassStandard, 0x00} }
func (r *Registration) WaitForCompletion() bool   { return true }
func (r *Registration) ResponseTimeout() time.Duration { return DefaultTimeout }

func (r *Registration) AppendFixed(dst []byte) ([]byte, error) {
	pw, err := bcd.EncodeString(r.Password)
	if err != nil {
		return nil, fmt.Errorf("password: %w", err)
	}
	dst = append(dst, pw...)
	dst = append(dst, r.Config)

	cc, err := bcd.Encode(uint64(r.Currency), 4)
	if err != nil {
		return nil, fmt.Errorf("currency: %w", err)
	}
	return append(dst, cc...), nil
}

func (r *Registration) ConsumeFixed(body []byte) ([]byte, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("registration needs at least 4 bytes, got %d", len(body))
	}

	pw, err := bcd.DecodeString(body[:3])
	if err != nil {
		return nil, fmt.Errorf("password: %w", err)
	}
	r.Password = pw
	r.Config = body[3]

	if len(body) < 6 {
		return nil, nil
	}
	cc, err := bcd.Decode(body[4:6])
	if err != nil {
		return nil, fmt.Errorf("currency: %w", err)
	}
	r.Currency = uint16(cc)
	return body[6:], nil
}

func (r *Registration) String() string {
	return fmt.Sprintf("Registration{06 00} config=%02X currency=%03d", r.Config, r.Currency)
}

// RegistrationConfig describes the duties the ECR claims in the
// registration config byte. Bits 1 and 7 are reserved for future use
// and always stay clear.
type RegistrationConfig struct {
	PrintsReceipt      bool // ECR prints the customer receipt
	PrintsAdminReceipt bool // ECR prints the administration receipt
	IntermediateStatus bool // PT sends intermediate status; mandatory for most terminals
	ControlsPayment    bool // amount comes from the ECR, not the PT keypad
	ControlsAdmin      bool // administration functions run from the ECR
	UsePrintLines      bool // PT sends receipts as print-line commands
}

// DefaultRegistrationConfig claims every duty, yielding config byte
// 0xBE.
func DefaultRegistrationConfig() RegistrationConfig {
	return RegistrationConfig{
		PrintsReceipt:      true,
		PrintsAdminReceipt: true,
		IntermediateStatus: true,
		ControlsPayment:    true,
		ControlsAdmin:      true,
		UsePrintLines:      true,
	}
}

// Byte encodes the configuration into its wire form. The RFU mask
// keeps bits 1 and 7 clear no matter what.
func (c RegistrationConfig) Byte() byte {
	var b byte
	if c.PrintsReceipt {
		b = bits.Set(b, 2)
	}
	if c.PrintsAdminReceipt {
		b = bits.Set(b, 3)
	}
	if c.IntermediateStatus {
		b = bits.Set(b, 4)
	} else {
		logger.Warn("intermediate status not requested, but mandatory for most terminals")
	}
	if c.ControlsPayment {
		b = bits.Set(b, 5)
	}
	if c.ControlsAdmin {
		b = bits.Set(b, 6)
	}
	if c.UsePrintLines {
		b = bits.Set(b, 8)
	}
	return b & 0xBE
}

// ServiceConfig describes the optional registration service byte.
type ServiceConfig struct {
	KeepServiceMenu bool // do not assign the service menu to the PT
	UseCapitals     bool // print receipts in capital letters
}

// Byte encodes the service configuration; all other bits are RFU.
func (c ServiceConfig) Byte() byte {
	var b byte
	if c.KeepServiceMenu {
		b = bits.Set(b, 1)
	}
	if c.UseCapitals {
		b = bits.Set(b, 2)
	}
	return b & 0x03
}

// LogOff (06 02) releases the registration.
type LogOff struct {
	base
}

func (l *LogOff) Header() Header                 { return Header{ClassStandard, 0x02} }
func (l *LogOff) WaitForCompletion() bool        { return false }
func (l *LogOff) ResponseTimeout() time.Duration { return DefaultTimeout }

// Initialisation (06 93) forces the PT to run a network initialisation.
type Initialisation struct {
	base
	Password string
}

// NewInitialisation builds the command; password rules as for
// registration.
func NewInitialisation(password string) (*Initialisation, error) {
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	return &Initialisation{Password: password}, nil
}

func (i *Initialisation) Header() Header                 { return Header{ClassStandard, 0x93} }
func (i *Initialisation) WaitForCompletion() bool        { return true }
func (i *Initialisation) ResponseTimeout() time.Duration { return LongTimeout }

func (i *Initialisation) AppendFixed(dst []byte) ([]byte, error) {
	return appendPassword(dst, i.Password)
}

func (i *Initialisation) ConsumeFixed(body []byte) ([]byte, error) {
	pw, rest, err := consumePassword(body)
	if err != nil {
		return nil, err
	}
	i.Password = pw
	return rest, nil
}

func validatePassword(password string) error {
	if len(password) != 6 {
		return fmt.Errorf("password must be 6 digits, got %d", len(password))
	}
	if _, err := bcd.EncodeString(password); err != nil {
		return err
	}
	return nil
}

func appendPassword(dst []byte, password string) ([]byte, error) {
	pw, err := bcd.EncodeString(password)
	if err != nil {
		return nil, fmt.Errorf("password: %w", err)
	}
	return append(dst, pw...), nil
}

func consumePassword(body []byte) (string, []byte, error) {
	if len(body) < 3 {
		return "", nil, fmt.Errorf("password needs 3 bytes, got %d", len(body))
	}
	pw, err := bcd.DecodeString(body[:3])
	if err != nil {
		return "", nil, fmt.Errorf("password: %w", err)
	}
	return pw, body[3:], nil
}
