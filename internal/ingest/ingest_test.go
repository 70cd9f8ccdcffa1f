package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/ntentasd/acuamon-api/internal/cache"
	"github.com/ntentasd/acuamon-api/internal/db"
	"github.com/ntentasd/acuamon-api/internal/period"
	"github.com/ntentasd/acuamon-api/pkg/types"
	"github.com/rs/zerolog"
)

type fakeStore struct {
	units    []types.Unit
	inserted []types.Reading
	failWith error
	// lookupFail replaces the not-found answer of unit lookups.
	lookupFail error
}

func (f *fakeStore) lookupErr() error {
	if f.lookupFail != nil {
		return f.lookupFail
	}
	return db.ErrUnitNotFound
}

func (f *fakeStore) GetUnitByID(_ context.Context, id uuid.UUID) (*types.Unit, error) {
	for _, u := range f.units {
		if u.UnitID == id {
			return &u, nil
		}
	}
	return nil, f.lookupErr()
}

func (f *fakeStore) GetUnitByName(_ context.Context, name string) (*types.Unit, error) {
	for _, u := range f.units {
		if strings.EqualFold(u.Name, name) {
			return &u, nil
		}
	}
	return nil, f.lookupErr()
}

func (f *fakeStore) InsertReading(_ context.Context, r types.Reading) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.inserted = append(f.inserted, r)
	return nil
}

type recordingCache struct {
	cache.Noop
	stored  []types.Reading
	deleted []string
}

func (c *recordingCache) DeleteAggregates(_ context.Context, keys ...string) error {
	c.deleted = append(c.deleted, keys...)
	return nil
}

func (c *recordingCache) StoreReading(_ context.Context, r types.Reading) error {
	c.stored = append(c.stored, r)
	return nil
}

var fixedNow = time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)

func newService(store *fakeStore, c cache.Cache) *Service {
	s := NewService(store, c, period.NewResolver(time.UTC), zerolog.Nop())
	s.now = func() time.Time { return fixedNow }
	return s
}

func ts(t time.Time) *time.Time { return &t }

func TestPayload_Validate(t *testing.T) {
	valid := Payload{Unit: "Estanque 1", Timestamp: ts(fixedNow), Values: types.Values{PH: types.Float(7)}}

	tests := []struct {
		name      string
		mutate    func(p *Payload)
		wantField string
	}{
		{"valid", func(p *Payload) {}, ""},
		{"no unit", func(p *Payload) { p.Unit = "" }, "estanque"},
		{"no timestamp", func(p *Payload) { p.Timestamp = nil }, "timestamp"},
		{"future timestamp", func(p *Payload) { p.Timestamp = ts(fixedNow.Add(time.Hour)) }, "timestamp"},
		{"no quantity", func(p *Payload) { p.Values = types.Values{} }, "valores"},
		{"ph above 14", func(p *Payload) { p.PH = types.Float(14.5) }, "ph"},
		{"ph below 0", func(p *Payload) { p.PH = types.Float(-1) }, "ph"},
		{"humidity above 100", func(p *Payload) { p.Humidity = types.Float(101) }, "humedad"},
		{"humidity edge", func(p *Payload) { p.Humidity = types.Float(100) }, ""},
		{"ph edge", func(p *Payload) { p.PH = types.Float(0) }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate(fixedNow)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want ValidationError", err)
			}
			if _, ok := verr.Fields[tt.wantField]; !ok {
				t.Errorf("fields = %v, want %q flagged", verr.Fields, tt.wantField)
			}
		})
	}
}

func TestPayload_DecodesFlatJSON(t *testing.T) {
	raw := `{"estanque":"Estanque 2","timestamp":"2025-01-06T10:00:00-06:00","ph":7.1,"humedad":55}`
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p.Unit != "Estanque 2" || p.PH == nil || *p.PH != 7.1 || p.Humidity == nil || p.CO2 != nil {
		t.Errorf("payload = %+v", p)
	}
	if !p.Timestamp.Equal(time.Date(2025, 1, 6, 16, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", p.Timestamp)
	}
}

func TestService_Ingest(t *testing.T) {
	unit := types.Unit{UnitID: uuid.New(), Name: "Estanque 1"}
	store := &fakeStore{units: []types.Unit{unit}}
	c := &recordingCache{}
	s := newService(store, c)

	tests := []struct {
		name string
		p    Payload
	}{
		{"by name", Payload{Unit: "estanque 1", Timestamp: ts(fixedNow.Add(-time.Minute)), Values: types.Values{PH: types.Float(7.2)}}},
		{"by id", Payload{UnitID: unit.UnitID.String(), Timestamp: ts(fixedNow.Add(-time.Minute)), Values: types.Values{CO2: types.Float(400)}}},
	}
	for _, tt := range tests {
		r, err := s.Ingest(context.Background(), SourceHTTP, tt.p)
		if err != nil {
			t.Fatalf("%s: Ingest: %v", tt.name, err)
		}
		if r.UnitID == nil || *r.UnitID != unit.UnitID || r.UnitName != unit.Name {
			t.Errorf("%s: unit not resolved: %+v", tt.name, r)
		}
		if !r.UpdatedAt.Equal(fixedNow) || r.ReadingID == uuid.Nil {
			t.Errorf("%s: server fields not set: %+v", tt.name, r)
		}
	}
	if len(store.inserted) != 2 || len(c.stored) != 2 {
		t.Errorf("inserted %d, cached %d; want 2 and 2", len(store.inserted), len(c.stored))
	}
}

func TestService_IngestRejects(t *testing.T) {
	store := &fakeStore{units: []types.Unit{{UnitID: uuid.New(), Name: "Estanque 1"}}}
	s := newService(store, nil)

	_, err := s.Ingest(context.Background(), SourceMQTT, Payload{Unit: "Estanque 9", Timestamp: ts(fixedNow), Values: types.Values{PH: types.Float(7)}})
	if !errors.Is(err, ErrUnknownUnit) {
		t.Errorf("unknown unit: err = %v", err)
	}

	_, err = s.Ingest(context.Background(), SourceMQTT, Payload{Unit: "Estanque 1", Values: types.Values{PH: types.Float(7)}})
	if !errors.Is(err, &ValidationError{}) {
		t.Errorf("missing timestamp: err = %v", err)
	}

	store.failWith = errors.New("scylla down")
	_, err = s.Ingest(context.Background(), SourceKafka, Payload{Unit: "Estanque 1", Timestamp: ts(fixedNow), Values: types.Values{PH: types.Float(7)}})
	if err == nil || errors.Is(err, &ValidationError{}) {
		t.Errorf("store failure: err = %v", err)
	}
	if len(store.inserted) != 0 {
		t.Errorf("inserted %d readings, want 0", len(store.inserted))
	}
}

func TestService_UnitLookupOutage(t *testing.T) {
	store := &fakeStore{lookupFail: gocql.ErrTimeoutNoResponse}
	s := newService(store, nil)

	for _, ref := range []string{"Estanque 1", uuid.NewString()} {
		_, err := s.Ingest(context.Background(), SourceKafka, Payload{Unit: ref, Timestamp: ts(fixedNow), Values: types.Values{PH: types.Float(7)}})
		if !errors.Is(err, gocql.ErrTimeoutNoResponse) {
			t.Errorf("%s: err = %v, want the store timeout", ref, err)
		}
		if errors.Is(err, ErrUnknownUnit) || Permanent(err) {
			t.Errorf("%s: store outage classified as a rejection: %v", ref, err)
		}
	}
	if len(store.inserted) != 0 {
		t.Errorf("inserted %d readings, want 0", len(store.inserted))
	}
}

func TestPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"validation", &ValidationError{Fields: map[string]string{"ph": "fuera de rango"}}, true},
		{"unknown unit", fmt.Errorf("%w %q", ErrUnknownUnit, "Estanque 9"), true},
		{"store timeout", fmt.Errorf("resolve unit: %w", gocql.ErrTimeoutNoResponse), false},
		{"insert failure", errors.New("store reading: unavailable"), false},
	}
	for _, tt := range tests {
		if got := Permanent(tt.err); got != tt.want {
			t.Errorf("%s: Permanent = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestService_LateReadingDropsClosedReports(t *testing.T) {
	unit := types.Unit{UnitID: uuid.New(), Name: "Estanque 1"}
	c := &recordingCache{}
	s := newService(&fakeStore{units: []types.Unit{unit}}, c)

	// Current readings touch no closed period.
	if _, err := s.Ingest(context.Background(), SourceMQTT, Payload{Unit: "Estanque 1", Timestamp: ts(fixedNow), Values: types.Values{PH: types.Float(7)}}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(c.deleted) != 0 {
		t.Fatalf("deleted %v for a current reading", c.deleted)
	}

	// Friday of the previous week: its day and week are closed, the month and
	// year are not.
	late := time.Date(2025, 1, 3, 10, 0, 0, 0, time.UTC)
	if _, err := s.Ingest(context.Background(), SourceMQTT, Payload{Unit: "Estanque 1", Timestamp: ts(late), Values: types.Values{PH: types.Float(7)}}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	want := []string{
		cache.ReportKey(period.Daily, "2025-01-03", &unit.UnitID),
		cache.ReportKey(period.Daily, "2025-01-03", nil),
		cache.ReportKey(period.Weekly, "2024-12-30", &unit.UnitID),
		cache.ReportKey(period.Weekly, "2024-12-30", nil),
	}
	if !reflect.DeepEqual(c.deleted, want) {
		t.Errorf("deleted = %v, want %v", c.deleted, want)
	}
}
