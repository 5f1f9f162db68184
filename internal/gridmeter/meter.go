// Package gridmeter emulates a Carlo Gavazzi EM24 energy meter over Modbus
// TCP, so inverters and battery controllers that expect one can read the
// home's live grid values.
package gridmeter

import (
	"fmt"
	"sync"
)

// MeasuringSystem is the EM24 wiring setup reported at register 0x1002.
type MeasuringSystem uint16

const (
	Setup3PN MeasuringSystem = 0 // 3P.N
	Setup3P1 MeasuringSystem = 1 // 3P.1
	Setup2P  MeasuringSystem = 2 // 2P
	Setup1P  MeasuringSystem = 3 // 1P
	Setup3P  MeasuringSystem = 4 // 3P
)

var measuringSystemNames = map[MeasuringSystem]string{
	Setup3PN: "3P.N",
	Setup3P1: "3P.1",
	Setup2P:  "2P",
	Setup1P:  "1P",
	Setup3P:  "3P",
}

func (m MeasuringSystem) String() string {
	if s, ok := measuringSystemNames[m]; ok {
		return s
	}
	return fmt.Sprintf("MeasuringSystem(%d)", uint16(m))
}

func ParseMeasuringSystem(s string) (MeasuringSystem, error) {
	for m, name := range measuringSystemNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown measuring system %q", s)
}

// InstantaneousData mirrors the EM24 instantaneous register block 0x0000-0x004F.
// Units follow the meter: V×10, A×1000, W/VA/var×10, kWh×10, PF×1000, Hz×10.
type InstantaneousData struct {
	VL1N, VL2N, VL3N    int32
	VL1L2, VL2L3, VL3L1 int32

	AL1, AL2, AL3 int32

	WL1, WL2, WL3       int32
	VAL1, VAL2, VAL3    int32
	VarL1, VarL2, VarL3 int32

	VLNSum, VLLSum int32
	WSum           int32
	VASum          int32
	VarSum         int32

	PFL1, PFL2, PFL3, PFSum int16
	PhaseSequence           int16
	Hz                      uint16

	KWhPlusTotal   int32
	KVarhPlusTotal int32
	DmdWSum        int32
	DmdWSumMax     int32
	KWhPlusPar     int32
	KVarhPlusPar   int32

	KWhPlusL1, KWhPlusL2, KWhPlusL3 int32

	KWhPlusT1, KWhPlusT2, KWhPlusT3, KWhPlusT4 int32

	KWhNegTotal int32
}

// InstantaneousWords is the size of the instantaneous block in registers.
const InstantaneousWords = 80

// Registers encodes d the way the EM24 lays it out: INT32 values take two
// registers with the least significant word first.
func (d *InstantaneousData) Registers() []uint16 {
	w := make([]uint16, 0, InstantaneousWords)
	i32 := func(vs ...int32) {
		for _, v := range vs {
			w = append(w, uint16(uint32(v)), uint16(uint32(v)>>16))
		}
	}
	i16 := func(vs ...int16) {
		for _, v := range vs {
			w = append(w, uint16(v))
		}
	}

	i32(d.VL1N, d.VL2N, d.VL3N, d.VL1L2, d.VL2L3, d.VL3L1)
	i32(d.AL1, d.AL2, d.AL3)
	i32(d.WL1, d.WL2, d.WL3, d.VAL1, d.VAL2, d.VAL3, d.VarL1, d.VarL2, d.VarL3)
	i32(d.VLNSum, d.VLLSum, d.WSum, d.VASum, d.VarSum)
	i16(d.PFL1, d.PFL2, d.PFL3, d.PFSum, d.PhaseSequence)
	w = append(w, d.Hz)
	i32(d.KWhPlusTotal, d.KVarhPlusTotal, d.DmdWSum, d.DmdWSumMax, d.KWhPlusPar, d.KVarhPlusPar)
	i32(d.KWhPlusL1, d.KWhPlusL2, d.KWhPlusL3)
	i32(d.KWhPlusT1, d.KWhPlusT2, d.KWhPlusT3, d.KWhPlusT4)
	i32(d.KWhNegTotal)
	return w
}

// Image is the live register image shared between the process that measures
// and the Modbus server that serves it.
type Image struct {
	mu   sync.Mutex
	data InstantaneousData
}

func NewImage(initial InstantaneousData) *Image {
	return &Image{data: initial}
}

// Update applies fn under the image lock.
func (img *Image) Update(fn func(*InstantaneousData)) {
	img.mu.Lock()
	defer img.mu.Unlock()
	fn(&img.data)
}

func (img *Image) Snapshot() InstantaneousData {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.data
}
