package packets

// PACKET REGISTRY:
// Every variant registers its command tag here at startup. Parsing
// looks the full (class, instr) tuple up first and falls back to a
// class-only entry; class 0x84 claims every instruction because the
// instruction byte itself carries the error code. Tags nobody claims
// become *Raw packets. New variants are added declaratively below.

var (
	constructors      = map[uint16]func() Packet{}
	classConstructors = map[byte]func(instr byte) Packet{}
)

func register(class, instr byte, fn func() Packet) {
	constructors[Header{Class: class, Instr: instr}.Key()] = fn
}

func registerClass(class byte, fn func(instr byte) Packet) {
	classConstructors[class] = fn
}

func newPacket(h Header) Packet {
	if fn, ok := constructors[h.Key()]; ok {
		return fn()
	}
	if fn, ok := classConstructors[h.Class]; ok {
		return fn(h.Instr)
	}
	logger.Debug("unknown packet", "header", h.String())
	return &Raw{Tag: h}
}

func init() {
	register(ClassStandard, 0x00, func() Packet { return &Registration{} })
	register(ClassStandard, 0x01, func() Packet { return &Authorisation{} })
	register(ClassStandard, 0x02, func() Packet { return &LogOff{} })
	register(ClassStandard, 0x0F, func() Packet { return &Completion{} })
	register(ClassStandard, 0x18, func() Packet { return &ResetTerminal{} })
	register(ClassStandard, 0x1E, func() Packet { return &Abort{} })
	register(ClassStandard, 0x50, func() Packet { return &EndOfDay{} })
	register(ClassStandard, 0x70, func() Packet { return &Diagnosis{} })
	register(ClassStandard, 0x93, func() Packet { return &Initialisation{} })
	register(ClassStandard, 0xB0, func() Packet { return &AbortCommand{} })
	register(ClassStandard, 0xC0, func() Packet { return &ReadCard{} })
	register(ClassStandard, 0xD1, func() Packet { return &PrintLine{} })
	register(ClassStandard, 0xD3, func() Packet { return &PrintTextBlock{} })
	register(ClassStandard, 0xE0, func() Packet { return &DisplayText{} })
	register(ClassStandard, 0xE2, func() Packet { return &DisplayTextInput{} })
	register(ClassStatus, 0x01, func() Packet { return &StatusEnquiry{} })
	register(ClassPT, 0x0F, func() Packet { return &StatusInformation{} })
	register(ClassPT, 0xFF, func() Packet { return &IntermediateStatus{} })
	register(ClassReceived, 0x00, func() Packet { return &PacketReceived{} })
	register(0x0F, 0x10, func() Packet { return &Kassenbericht{} })

	registerClass(ClassRecvError, func(instr byte) Packet {
		return &PacketReceivedError{Code: instr}
	})
}
