package sink

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/diondokter/p1-reader/internal/domain"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeSink struct {
	name   string
	err    error
	writes int
	closed bool
}

func (f *fakeSink) WriteElectricity(context.Context, *domain.ElectricityDataPoint) error {
	f.writes++
	return f.err
}

func (f *fakeSink) WriteSlave(context.Context, *domain.SlaveDataPoint) error {
	f.writes++
	return f.err
}

func (f *fakeSink) WriteSolar(context.Context, *domain.SolarDataPoint) error {
	f.writes++
	return f.err
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Close() error {
	f.closed = true
	return f.err
}

func TestMulti_WritesToEverySink(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b", err: boom}
	c := &fakeSink{name: "c"}
	m := Multi{a, b, c}

	err := m.WriteSolar(context.Background(), &domain.SolarDataPoint{})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
	for _, s := range []*fakeSink{a, b, c} {
		if s.writes != 1 {
			t.Fatalf("%s writes=%d want 1", s.name, s.writes)
		}
	}
	if got, want := Failed(err), []string{"b"}; !slices.Equal(got, want) {
		t.Fatalf("failed=%v want %v", got, want)
	}

	if err := m.Close(); !errors.Is(err, boom) {
		t.Fatalf("close err=%v want boom", err)
	}
	if !a.closed || !c.closed {
		t.Fatal("every sink must be closed")
	}
}

func TestMulti_EmptyIsNoop(t *testing.T) {
	t.Parallel()
	var m Multi
	if err := m.WriteElectricity(context.Background(), &domain.ElectricityDataPoint{}); err != nil {
		t.Fatalf("err=%v", err)
	}
	if got := Failed(nil); got != nil {
		t.Fatalf("failed=%v want nil", got)
	}
}

func TestInfluxPoints(t *testing.T) {
	t.Parallel()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	p := electricityPoint(&domain.ElectricityDataPoint{Time: ts, Voltages: domain.Phases{230, 231, 232}})
	if got, want := p.Name(), "electricity"; got != want {
		t.Fatalf("measurement=%q want %q", got, want)
	}
	if got, want := len(p.FieldList()), 4+3*3; got != want {
		t.Fatalf("fields=%d want %d", got, want)
	}

	s := slavePoint(&domain.SlaveDataPoint{Time: ts, ID: 2, Value: 1.5})
	tags := s.TagList()
	if len(tags) != 1 || tags[0].Key != "id" || tags[0].Value != "2" {
		t.Fatalf("tags=%v want id=2", tags)
	}
}

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type publishRecorder struct {
	mqtt.Client
	topics   []string
	payloads [][]byte
}

func (p *publishRecorder) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload.([]byte))
	return doneToken{}
}

func TestMQTT_Topics(t *testing.T) {
	t.Parallel()
	rec := &publishRecorder{}
	s := NewMQTT(rec, "energy")
	ctx := context.Background()

	if err := s.WriteElectricity(ctx, &domain.ElectricityDataPoint{}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteSlave(ctx, &domain.SlaveDataPoint{ID: 3, Value: 12.5}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteSolar(ctx, &domain.SolarDataPoint{}); err != nil {
		t.Fatal(err)
	}

	want := []string{"energy/electricity", "energy/slave/3", "energy/solar"}
	if !slices.Equal(rec.topics, want) {
		t.Fatalf("topics=%v want %v", rec.topics, want)
	}

	var slave domain.SlaveDataPoint
	if err := json.Unmarshal(rec.payloads[1], &slave); err != nil {
		t.Fatalf("decode slave payload: %v", err)
	}
	if slave.ID != 3 || slave.Value != 12.5 {
		t.Fatalf("slave payload=%+v", slave)
	}
}
