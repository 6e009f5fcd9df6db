package packets

import (
	"fmt"
	"time"
)

// AUTHORISATION (06 01):
// The payment command. The ECR supplies the amount in minor currency
// units; the PT guides the cardholder, talks to its host and reports
// progress through intermediate status and print packets before the
// closing StatusInformation/Completion pair. Everything the command
// carries is bitmap-encoded.

// Payment types for the payment_type bitmap.
const (
	PaymentTypePTDecides  = 0x00 // payment according to PT decision
	PaymentTypeGeldKarte  = 0x10
	PaymentTypeOnline     = 0x40 // mandatory online authorisation
	PaymentTypeOffline    = 0x50
	PaymentTypeAutomatic  = 0x60 // PT chooses cheapest procedure
	PaymentTypeTipAllowed = 0x04
)

// authorisationBitmaps is the set of optional fields the command
// accepts.
var authorisationBitmaps = map[byte]bool{
	BmpAmount:         true,
	BmpCurrencyCode:   true,
	BmpPaymentType:    true,
	BmpTrack1:         true,
	BmpCardExpire:     true,
	BmpCardNumber:     true,
	BmpTrack2:         true,
	BmpTrack3:         true,
	BmpTimeout:        true,
	BmpMaxStatusInfos: true,
	BmpPumpNr:         true,
	BmpCVV:            true,
	BmpAdditional:     true,
	BmpCardType:       true,
	BmpTLV:            true,
}

// Authorisation starts a payment.
type Authorisation struct {
	base
}

// NewAuthorisation builds a payment for the given amount in minor
// currency units, with the currency attached. Further bitmaps may be
// added as long as the command admits them.
func NewAuthorisation(amountMinor uint64, currency uint16, bitmaps ...Bitmap) (*Authorisation, error) {
	a := &Authorisation{}
	a.bitmaps.add(Bitmap{ID: BmpAmount, Value: amountMinor})
	a.bitmaps.add(Bitmap{ID: BmpCurrencyCode, Value: uint64(currency)})
	for _, bm := range bitmaps {
		if !authorisationBitmaps[bm.ID] {
			return nil, fmt.Errorf("bitmap %s not allowed in an authorisation", bm.Name())
		}
		a.bitmaps.add(bm)
	}
	return a, nil
}

func (a *Authorisation) Header() Header                 { return Header{ClassStandard, 0x01} }
func (a *Authorisation) WaitForCompletion() bool        { return true }
func (a *Authorisation) ResponseTimeout() time.Duration { return LongTimeout }

// Amount returns the amount bitmap in minor currency units.
func (a *Authorisation) Amount() (uint64, bool) {
	return a.bitmaps.Number(BmpAmount)
}

func (a *Authorisation) String() string {
	amount, _ := a.Amount()
	return fmt.Sprintf("Authorisation{06 01} amount=%d", amount)
}
