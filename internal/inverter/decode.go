// Package inverter polls a Sofar-style solar inverter over Modbus TCP.
package inverter

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/diondokter/p1-reader/internal/domain"
)

var ErrShortRead = errors.New("inverter: short register read")

// The realtime block starts at 0x0109 and runs through 0x0132.
const (
	RegisterBase  = 0x0109
	RegisterCount = 0x0133 - RegisterBase

	regPV1Power    = 0x0109
	regTemperature = 0x0111
	regOutputPower = 0x0113
	regL1Voltage   = 0x0116
	regL1Current   = 0x0117
	regL1Power     = 0x011A
	regEnergyHigh  = 0x0131
	regEnergyLow   = 0x0132
)

// Decode turns one realtime block read into a sample stamped with now.
func Decode(regs []uint16, now time.Time) (domain.SolarReading, error) {
	if len(regs) < RegisterCount {
		return domain.SolarReading{}, fmt.Errorf("%w: got %d registers, want %d", ErrShortRead, len(regs), RegisterCount)
	}
	reg := func(addr int) uint16 { return regs[addr-RegisterBase] }

	temp := float64(int16(reg(regTemperature))) / 10
	energy := float32(uint32(reg(regEnergyHigh))<<16|uint32(reg(regEnergyLow))) / 100

	return domain.SolarReading{
		Data: domain.SolarDataPoint{
			Time:                now.UTC(),
			ActivePowerOutput:   int32(reg(regOutputPower)),
			ActivePowerInput:    int32(reg(regPV1Power)),
			TotalEnergy:         energy,
			InverterTemperature: int16(math.Round(temp)),
		},
		L1Voltage: float32(reg(regL1Voltage)) / 10,
		L1Current: float32(reg(regL1Current)) / 100,
		L1Power:   float32(reg(regL1Power)),
	}, nil
}
