package driver

// Register addresses
const (
	IntStat1      = 0x00
	IntStat2      = 0x01
	IntEna1       = 0x02
	IntEna2       = 0x03
	FIFOWrPtr     = 0x04
	OvfCount      = 0x05
	FIFORdPtr     = 0x06
	FIFOData      = 0x07
	FIFOCfg       = 0x08
	ModeCfg       = 0x09
	SpO2Cfg       = 0x0A
	Led1PA        = 0x0C
	Led2PA        = 0x0D
	Led3PA        = 0x0E
	PilotPA       = 0x10
	MultiLedCtrl1 = 0x11
	MultiLedCtrl2 = 0x12
	TempInt       = 0x1F
	TempFrac      = 0x20
	TempCfg       = 0x21
	ProxIntThresh = 0x30
	RegRevID      = 0xFE
	RegPartID     = 0xFF
)

// Device constants
const (
	Addr   = 0x57
	PartID = 0x15

	// FIFODepth is the number of samples the FIFO can hold.
	FIFODepth = 32
	// MaxADC is the full scale of a FIFO word.
	MaxADC = 1<<18 - 1
)

// An Interrupt is a set of interrupt flags. The low byte maps to the status
// and enable registers 1, the high byte to registers 2.
type Interrupt uint16

// Interrupt flags
const (
	AlmostFull            Interrupt = 1 << 7
	NewFIFOData           Interrupt = 1 << 6
	AmbientLightCancelOvf Interrupt = 1 << 5
	Proximity             Interrupt = 1 << 4
	PowerReady            Interrupt = 1 << 0

	DieTempReady Interrupt = 1 << (8 + 1)
)

// A Mode selects which LEDs are sampled.
type Mode byte

// Modes
const (
	ModeRed      Mode = 0b010
	ModeRedIR    Mode = 0b011
	ModeMultiLed Mode = 0b111
)

func (m Mode) String() string {
	switch m {
	case ModeRed:
		return "red"
	case ModeRedIR:
		return "red+ir"
	case ModeMultiLed:
		return "multi-led"
	}
	return "unknown"
}

// An LED identifies one of the three emitters.
type LED int

// LEDs
const (
	Red LED = iota
	IR
	Green
)

func (l LED) String() string {
	switch l {
	case Red:
		return "red"
	case IR:
		return "ir"
	case Green:
		return "green"
	}
	return "unknown"
}

// A SlotLED is what a multi-LED time slot fires.
type SlotLED byte

// Slot sources
const (
	SlotOff SlotLED = iota
	SlotRed
	SlotIR
	SlotGreen
	SlotNone
	SlotPilotRed
	SlotPilotIR
	SlotPilotGreen
)

// led returns the LED a slot samples and whether the slot is enabled.
func (s SlotLED) led() (LED, bool) {
	switch s {
	case SlotRed, SlotPilotRed:
		return Red, true
	case SlotIR, SlotPilotIR:
		return IR, true
	case SlotGreen, SlotPilotGreen:
		return Green, true
	}
	return 0, false
}

// Settings
const (
	shutdownControl byte = 0b1000_0000
	resetControl    byte = 0b0100_0000
	modeMask        byte = 0b0000_0111

	tempEna byte = 0b0000_0001

	smpAveMask   byte = 0b1110_0000
	rolloverMask byte = 0b0001_0000
	fifoFullMask byte = 0b0000_1111

	adcMask byte = 0b0110_0000
	srMask  byte = 0b0001_1100
	pwMask  byte = 0b0000_0011

	slotLowMask  byte = 0b0000_0111
	slotHighMask byte = 0b0111_0000

	ptrMask byte = 0b0001_1111
)

// Lookup tables from physical values to field codes.
var (
	sampleAverages = map[int]byte{1: 0, 2: 1, 4: 2, 8: 3, 16: 4, 32: 5}
	adcRanges      = map[int]byte{2048: 0, 4096: 1, 8192: 2, 16384: 3}
	sampleRates    = map[int]byte{50: 0, 100: 1, 200: 2, 400: 3, 800: 4, 1000: 5, 1600: 6, 3200: 7}
	pulseWidths    = map[int]byte{69: 0, 118: 1, 215: 2, 411: 3}
)

// maxPulseAmp is the highest LED current in mA.
const maxPulseAmp = 51.0

func lookup(table map[int]byte, v int) (byte, bool) {
	b, ok := table[v]
	return b, ok
}

func reverse(table map[int]byte, b byte) int {
	for k, v := range table {
		if v == b {
			return k
		}
	}
	return 0
}
