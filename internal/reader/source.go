package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/diondokter/p1-reader/internal/dsmr"
	"github.com/diondokter/p1-reader/internal/metrics"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// ErrSourceClosed is returned by Next after Close.
var ErrSourceClosed = errors.New("reader: source closed")

// TelegramSource yields raw telegram frames. The returned slice is only valid
// until the next call.
type TelegramSource interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// StreamSource frames telegrams out of a byte stream such as a serial port or
// a capture file.
type StreamSource struct {
	rc     io.ReadCloser
	framer *dsmr.Framer
}

func NewStreamSource(rc io.ReadCloser) *StreamSource {
	return &StreamSource{rc: rc, framer: dsmr.NewFramer(rc)}
}

func (s *StreamSource) Next(context.Context) ([]byte, error) {
	return s.framer.ReadTelegram()
}

func (s *StreamSource) Close() error {
	return s.rc.Close()
}

// OpenSerial opens a P1 port. The meter pushes a telegram every second or so;
// readTimeout only bounds how long Close can take to unblock a read.
func OpenSerial(name string, baud int, readTimeout time.Duration) (*StreamSource, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	log.Info().Str("port", name).Int("baud", baud).Msg("serial port opened")
	return NewStreamSource(&serialReader{port: port}), nil
}

// serialReader hides read timeouts, which go.bug.st/serial reports as a zero
// byte read, from the bufio reader inside the framer.
type serialReader struct {
	port   serial.Port
	closed atomic.Bool
}

func (r *serialReader) Read(p []byte) (int, error) {
	for {
		if r.closed.Load() {
			return 0, ErrSourceClosed
		}
		n, err := r.port.Read(p)
		if err != nil {
			if r.closed.Load() {
				return 0, ErrSourceClosed
			}
			return n, err
		}
		if n > 0 {
			return n, nil
		}
	}
}

func (r *serialReader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.port.Close()
}

// MQTTSource receives raw telegrams published to a topic, for meters read by
// a remote P1 dongle.
type MQTTSource struct {
	client mqtt.Client
	topic  string
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

const mqttBacklog = 16

// SubscribeMQTT subscribes to topic on an already connected client.
func SubscribeMQTT(client mqtt.Client, topic string) (*MQTTSource, error) {
	s := &MQTTSource{
		client: client,
		topic:  topic,
		frames: make(chan []byte, mqttBacklog),
		done:   make(chan struct{}),
	}
	token := client.Subscribe(topic, 1, s.onMessage)
	if !token.WaitTimeout(30 * time.Second) {
		return nil, fmt.Errorf("subscribe %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	log.Info().Str("topic", topic).Msg("subscribed to P1 telegrams")
	return s, nil
}

func (s *MQTTSource) onMessage(_ mqtt.Client, msg mqtt.Message) {
	select {
	case s.frames <- msg.Payload():
	case <-s.done:
	default:
		metrics.Telegrams.WithLabelValues("dropped").Inc()
		log.Warn().Str("topic", msg.Topic()).Msg("telegram backlog full, dropping")
	}
}

func (s *MQTTSource) Next(ctx context.Context) ([]byte, error) {
	select {
	case raw := <-s.frames:
		return raw, nil
	case <-s.done:
		return nil, ErrSourceClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *MQTTSource) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.client.Unsubscribe(s.topic).WaitTimeout(5 * time.Second)
		s.client.Disconnect(250)
	})
	return nil
}
