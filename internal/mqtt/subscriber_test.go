package mqtt

import (
	"context"
	"errors"
	"testing"

	"github.com/ntentasd/acuamon-api/internal/ingest"
	"github.com/ntentasd/acuamon-api/pkg/types"
	"github.com/rs/zerolog"
)

type fakeIngester struct {
	got []ingest.Payload
	err error
}

func (f *fakeIngester) Ingest(_ context.Context, source string, p ingest.Payload) (types.Reading, error) {
	if source != ingest.SourceMQTT {
		return types.Reading{}, errors.New("wrong source " + source)
	}
	f.got = append(f.got, p)
	return types.Reading{}, f.err
}

func TestUnitFromTopic(t *testing.T) {
	tests := []struct {
		pattern, topic, want string
	}{
		{"estanques/+/lecturas", "estanques/Estanque 3/lecturas", "Estanque 3"},
		{"estanques/+/lecturas", "estanques/4b1e0b9c-8f7d-4d7e-9a53-2a0d2b0c1f11/lecturas", "4b1e0b9c-8f7d-4d7e-9a53-2a0d2b0c1f11"},
		{"granja/norte/+/datos", "granja/norte/Caja A/datos", "Caja A"},
		{"estanques/lecturas", "estanques/lecturas", ""},
		{"estanques/+/lecturas", "estanques", ""},
	}
	for _, tt := range tests {
		if got := unitFromTopic(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("unitFromTopic(%q, %q) = %q; want %q", tt.pattern, tt.topic, got, tt.want)
		}
	}
}

func TestHandleMessage(t *testing.T) {
	ing := &fakeIngester{}
	s := NewSubscriber(Options{Broker: "tcp://localhost:1883", Topic: "estanques/+/lecturas", ClientID: "test"}, ing, zerolog.Nop())

	if !s.handleMessage(context.Background(), "estanques/Estanque 3/lecturas", []byte(`{"timestamp":"2025-01-06T10:00:00Z","ph":7.1}`)) {
		t.Fatal("valid message not handled")
	}
	if len(ing.got) != 1 || ing.got[0].Unit != "Estanque 3" {
		t.Fatalf("unit from topic not applied: %+v", ing.got)
	}

	// The payload wins over the topic.
	s.handleMessage(context.Background(), "estanques/Estanque 3/lecturas", []byte(`{"estanque":"Estanque 9","timestamp":"2025-01-06T10:00:00Z","ph":7.1}`))
	if ing.got[1].Unit != "Estanque 9" {
		t.Errorf("unit = %q; want Estanque 9", ing.got[1].Unit)
	}

	if s.handleMessage(context.Background(), "estanques/x/lecturas", []byte("{")) {
		t.Error("malformed message reported as handled")
	}
	if len(ing.got) != 2 {
		t.Error("malformed message reached the ingester")
	}

	ing.err = &ingest.ValidationError{Fields: map[string]string{"ph": "fuera de rango"}}
	if s.handleMessage(context.Background(), "estanques/x/lecturas", []byte(`{"ph":99}`)) {
		t.Error("rejected message reported as handled")
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	s := NewSubscriber(Options{Broker: "tcp://localhost:1883", Topic: "estanques/+/lecturas", ClientID: "test"}, &fakeIngester{}, zerolog.Nop())
	s.Disconnect()
	s.Disconnect()
	if err := s.Connect(context.Background()); err == nil {
		t.Error("Connect after Disconnect succeeded")
	}
}
