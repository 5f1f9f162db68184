package gridmeter

import (
	"fmt"
	"time"

	"github.com/diondokter/p1-reader/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/simonvetter/modbus"
)

// Fixed EM24 identification registers.
const (
	regIdentification   = 0x000B
	regApplication      = 0xA000
	regMeasureVersion   = 0x0302
	regCommsVersion     = 0x0304
	regMeasuringSystem  = 0x1002
	regSerialNumber     = 0x5000
	regFrontSelector    = 0xA100
	regInstantaneous    = 0x0000
	serialNumberWords   = 7
	identificationEM24  = 0x0670 // EM24DINAV23XE1X
	applicationH        = 0x0007
	firmwareVersion1030 = 0x101E // 1.0.30
)

// Handler answers holding register reads from an Image. Everything the real
// meter would accept beyond the registers listed here, including all writes,
// is rejected with an illegal function exception.
type Handler struct {
	image  *Image
	system MeasuringSystem
	serial []uint16
}

// NewHandler builds a handler. serial is the meter serial number, at most 13
// characters; it is NUL padded to seven registers.
func NewHandler(image *Image, system MeasuringSystem, serial string) (*Handler, error) {
	if len(serial) > 2*serialNumberWords-1 {
		return nil, fmt.Errorf("serial number %q longer than %d characters", serial, 2*serialNumberWords-1)
	}
	var raw [2 * serialNumberWords]byte
	copy(raw[:], serial)
	words := make([]uint16, serialNumberWords)
	for i := range words {
		words[i] = uint16(raw[2*i])<<8 | uint16(raw[2*i+1])
	}
	return &Handler{image: image, system: system, serial: words}, nil
}

func (h *Handler) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	if req.IsWrite {
		metrics.GridMeterRequests.WithLabelValues("write", "rejected").Inc()
		return nil, modbus.ErrIllegalFunction
	}

	var res []uint16
	switch {
	case req.Addr == regIdentification && req.Quantity == 1:
		res = []uint16{identificationEM24}
	case req.Addr == regApplication && req.Quantity == 1:
		res = []uint16{applicationH}
	case req.Addr == regMeasureVersion && req.Quantity == 1,
		req.Addr == regCommsVersion && req.Quantity == 1:
		res = []uint16{firmwareVersion1030}
	case req.Addr == regMeasuringSystem && req.Quantity == 1:
		res = []uint16{uint16(h.system)}
	case req.Addr == regSerialNumber && req.Quantity == serialNumberWords:
		res = append([]uint16(nil), h.serial...)
	case req.Addr == regFrontSelector && req.Quantity == 1:
		res = []uint16{0}
	case req.Addr == regInstantaneous && req.Quantity == InstantaneousWords:
		snap := h.image.Snapshot()
		res = snap.Registers()
	default:
		log.Debug().
			Str("client", req.ClientAddr).
			Uint16("addr", req.Addr).
			Uint16("quantity", req.Quantity).
			Msg("unsupported grid meter read")
		metrics.GridMeterRequests.WithLabelValues("other", "rejected").Inc()
		return nil, modbus.ErrIllegalFunction
	}
	metrics.GridMeterRequests.WithLabelValues(fmt.Sprintf("0x%04X", req.Addr), "ok").Inc()
	return res, nil
}

func (h *Handler) HandleCoils(*modbus.CoilsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

func (h *Handler) HandleDiscreteInputs(*modbus.DiscreteInputsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

func (h *Handler) HandleInputRegisters(*modbus.InputRegistersRequest) ([]uint16, error) {
	return nil, modbus.ErrIllegalFunction
}

// Server is a running EM24 emulator.
type Server struct {
	srv  *modbus.ModbusServer
	addr string
}

// Start listens on addr ("host:port") and serves h until Stop.
func Start(addr string, h *Handler) (*Server, error) {
	srv, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        "tcp://" + addr,
		Timeout:    30 * time.Second,
		MaxClients: 8,
	}, h)
	if err != nil {
		return nil, fmt.Errorf("create grid meter server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return nil, fmt.Errorf("start grid meter server on %s: %w", addr, err)
	}
	log.Info().Str("addr", addr).Str("system", h.system.String()).Msg("grid meter server listening")
	return &Server{srv: srv, addr: addr}, nil
}

func (s *Server) Stop() error {
	if err := s.srv.Stop(); err != nil {
		return fmt.Errorf("stop grid meter server on %s: %w", s.addr, err)
	}
	log.Info().Str("addr", s.addr).Msg("grid meter server stopped")
	return nil
}
