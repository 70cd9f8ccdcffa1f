package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/ntentasd/acuamon-api/internal/auth"
	"github.com/ntentasd/acuamon-api/internal/cache"
	"github.com/ntentasd/acuamon-api/internal/db"
	"github.com/ntentasd/acuamon-api/internal/ingest"
	"github.com/ntentasd/acuamon-api/internal/period"
	"github.com/ntentasd/acuamon-api/internal/rollup"
	"github.com/ntentasd/acuamon-api/internal/worker"
	"github.com/ntentasd/acuamon-api/pkg/types"
	"github.com/rs/zerolog"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeStore struct {
	mu         sync.Mutex
	units      map[uuid.UUID]types.Unit
	readings   []types.Reading
	users      map[string]types.User
	aggregates []types.Aggregate
	rangeCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		units: map[uuid.UUID]types.Unit{},
		users: map[string]types.User{},
	}
}

func (s *fakeStore) addUnit(name string) types.Unit {
	u := types.Unit{UnitID: uuid.New(), Name: name}
	s.units[u.UnitID] = u
	return u
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) ListUnits(context.Context) ([]types.Unit, error) {
	out := make([]types.Unit, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, u)
	}
	return out, nil
}

func (s *fakeStore) UnitsByID(context.Context) (map[uuid.UUID]types.Unit, error) {
	return s.units, nil
}

func (s *fakeStore) GetUnitByID(_ context.Context, id uuid.UUID) (*types.Unit, error) {
	u, ok := s.units[id]
	if !ok {
		return nil, db.ErrUnitNotFound
	}
	return &u, nil
}

func (s *fakeStore) GetUnitByName(_ context.Context, name string) (*types.Unit, error) {
	for _, u := range s.units {
		if u.Name == name {
			return &u, nil
		}
	}
	return nil, db.ErrUnitNotFound
}

func (s *fakeStore) CreateUnit(_ context.Context, name, description string) (*types.Unit, error) {
	for _, u := range s.units {
		if u.Name == name {
			return nil, &db.UnitAlreadyExistsError{Name: name}
		}
	}
	u := s.addUnit(name)
	u.Description = description
	s.units[u.UnitID] = u
	return &u, nil
}

func (s *fakeStore) UpdateUnit(ctx context.Context, id uuid.UUID, name, description string) (*types.Unit, error) {
	u, err := s.GetUnitByID(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Name, u.Description = name, description
	s.units[id] = *u
	return u, nil
}

func (s *fakeStore) DeleteUnit(_ context.Context, id uuid.UUID) error {
	if _, ok := s.units[id]; !ok {
		return db.ErrUnitNotFound
	}
	delete(s.units, id)
	return nil
}

func (s *fakeStore) GetSensorsByUnitID(context.Context, uuid.UUID) ([]types.Sensor, error) {
	return []types.Sensor{}, nil
}

func (s *fakeStore) RegisterSensor(_ context.Context, unitID uuid.UUID, name string, st types.SensorType) (*types.Sensor, error) {
	if _, ok := s.units[unitID]; !ok {
		return nil, db.ErrUnitNotFound
	}
	return &types.Sensor{SensorID: uuid.New(), SensorName: name, SensorType: st, UnitID: &unitID}, nil
}

func (s *fakeStore) StoreSensorCredentials(context.Context, types.SensorCredentials) error {
	return nil
}

func (s *fakeStore) GetSensorCredentials(context.Context, uuid.UUID) (*types.SensorCredentials, error) {
	return nil, db.ErrSensorNotFound
}

func (s *fakeStore) GetReadings(_ context.Context, rng period.Range, unitID *uuid.UUID) ([]types.Reading, error) {
	s.mu.Lock()
	s.rangeCalls++
	s.mu.Unlock()
	var out []types.Reading
	for _, r := range s.readings {
		if !rng.Contains(r.Timestamp) {
			continue
		}
		if unitID != nil && (r.UnitID == nil || *r.UnitID != *unitID) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) LatestReadings(_ context.Context, unitID uuid.UUID, n int) ([]types.Reading, error) {
	var out []types.Reading
	for i := len(s.readings) - 1; i >= 0 && len(out) < n; i-- {
		if r := s.readings[i]; r.UnitID != nil && *r.UnitID == unitID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListAggregates keeps the store's contract: newest period first, at most limit.
func (s *fakeStore) ListAggregates(_ context.Context, unitID uuid.UUID, kind string, limit int) ([]types.Aggregate, error) {
	var out []types.Aggregate
	for _, a := range s.aggregates {
		if a.UnitID == unitID && a.Kind == kind {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.After(out[j].PeriodStart) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) GetUserByUsername(_ context.Context, username string) (*types.User, error) {
	u, ok := s.users[username]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	return &u, nil
}

func (s *fakeStore) ListUsers(context.Context) ([]types.User, error) {
	var out []types.User
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *fakeStore) CreateUser(_ context.Context, username, hash string, role types.Role) (*types.User, error) {
	if _, ok := s.users[username]; ok {
		return nil, &db.UserAlreadyExistsError{Username: username}
	}
	u := types.User{UserID: uuid.New(), Username: username, PasswordHash: hash, Role: role}
	s.users[username] = u
	return &u, nil
}

// memCache keeps aggregates in memory and misses everything else.
type memCache struct {
	cache.Noop
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memCache) StoreAggregate(_ context.Context, key string, data any, _ time.Duration) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = b
	return nil
}

func (c *memCache) FetchAggregate(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return b, nil
}

type fakeIngester struct{}

func (fakeIngester) Ingest(_ context.Context, _ string, p ingest.Payload) (types.Reading, error) {
	if err := p.Validate(time.Now()); err != nil {
		return types.Reading{}, err
	}
	return types.Reading{ReadingID: uuid.New(), Timestamp: *p.Timestamp, Values: p.Values}, nil
}

type fakeTrigger struct {
	err  error
	kind period.Kind
}

func (f *fakeTrigger) Trigger(_ context.Context, kind period.Kind, _ time.Time) (rollup.Result, error) {
	f.kind = kind
	if f.err != nil {
		return rollup.Result{}, f.err
	}
	return rollup.Result{RunID: uuid.New(), Kind: kind.String(), Created: 2}, nil
}

type fixture struct {
	store   *fakeStore
	cache   *memCache
	trigger *fakeTrigger
	issuer  *auth.Issuer
	handler http.Handler
	loc     *time.Location
	unit    types.Unit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc, err := time.LoadLocation("America/Mexico_City")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	f := &fixture{
		store:   newFakeStore(),
		cache:   &memCache{data: map[string][]byte{}},
		trigger: &fakeTrigger{},
		issuer:  auth.NewIssuer(testSecret, time.Hour),
		loc:     loc,
	}
	f.unit = f.store.addUnit("Estanque 1")

	// Week of Monday 2025-01-06, deliberately out of order.
	uid := f.unit.UnitID
	for _, ts := range []time.Time{
		time.Date(2025, 1, 8, 14, 30, 0, 0, loc),
		time.Date(2025, 1, 6, 9, 0, 0, 0, loc),
		time.Date(2025, 1, 12, 23, 0, 0, 0, loc),
	} {
		f.store.readings = append(f.store.readings, types.Reading{
			ReadingID: uuid.New(),
			UnitID:    &uid,
			Timestamp: ts.UTC(),
			Values:    types.Values{PH: types.Float(7.1), Humidity: types.Float(60)},
		})
	}

	hash, err := auth.HashPassword("secreto123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	f.store.users["ana"] = types.User{UserID: uuid.New(), Username: "ana", PasswordHash: hash, Role: types.RoleAdmin}
	f.store.users["luis"] = types.User{UserID: uuid.New(), Username: "luis", PasswordHash: hash, Role: types.RoleOperator}

	app := New(Deps{
		Store:     f.store,
		Cache:     f.cache,
		Ingester:  fakeIngester{},
		Resolver:  period.NewResolver(loc),
		Rollup:    f.trigger,
		Issuer:    f.issuer,
		ReportTTL: time.Minute,
		Logger:    zerolog.Nop(),
	})
	f.handler = NewMux(app)
	return f
}

func (f *fixture) token(t *testing.T, username string) string {
	t.Helper()
	u := f.store.users[username]
	tok, _, err := f.issuer.Sign(u)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func (f *fixture) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if decode(t, rec)["state"] != "healthy" {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		body     any
		wantCode int
	}{
		{"ok", map[string]string{"username": "ana", "password": "secreto123"}, http.StatusOK},
		{"wrong password", map[string]string{"username": "ana", "password": "nope"}, http.StatusUnauthorized},
		{"unknown user", map[string]string{"username": "eva", "password": "secreto123"}, http.StatusUnauthorized},
		{"missing fields", map[string]string{"username": "ana"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/auth/login", "", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			body := decode(t, rec)
			tok, _ := body["token"].(string)
			claims, err := f.issuer.Verify(tok)
			if err != nil {
				t.Fatalf("issued token does not verify: %v", err)
			}
			if claims.Role != types.RoleAdmin || body["role"] != "admin" {
				t.Errorf("role = %v / %v", claims.Role, body["role"])
			}
		})
	}
}

func TestAuthGuards(t *testing.T) {
	f := newFixture(t)
	admin, operator := f.token(t, "ana"), f.token(t, "luis")

	tests := []struct {
		name     string
		method   string
		target   string
		token    string
		body     any
		wantCode int
	}{
		{"no token", http.MethodGet, "/estanques", "", nil, http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/estanques", "abc.def.ghi", nil, http.StatusUnauthorized},
		{"operator reads", http.MethodGet, "/estanques", operator, nil, http.StatusOK},
		{"operator cannot create", http.MethodPost, "/estanques", operator, map[string]string{"nombre": "Estanque 2"}, http.StatusForbidden},
		{"admin creates", http.MethodPost, "/estanques", admin, map[string]string{"nombre": "Estanque 2"}, http.StatusCreated},
		{"duplicate name", http.MethodPost, "/estanques", admin, map[string]string{"nombre": "Estanque 1"}, http.StatusConflict},
		{"empty name", http.MethodPost, "/estanques", admin, map[string]string{"nombre": " "}, http.StatusBadRequest},
		{"operator cannot list users", http.MethodGet, "/usuarios", operator, nil, http.StatusForbidden},
		{"unknown unit", http.MethodGet, "/estanques/" + uuid.NewString(), operator, nil, http.StatusNotFound},
		{"bad unit id", http.MethodGet, "/estanques/nope", operator, nil, http.StatusBadRequest},
		{"method not allowed", http.MethodPatch, "/estanques", admin, nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.target, tt.token, tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body)
			}
		})
	}
}

func TestReadingsByPeriod(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "luis")

	rec := f.do(t, http.MethodGet, "/datos/semanal/2025-01-06", tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var body struct {
		Zone  string          `json:"zona_horaria"`
		Count int             `json:"cantidad_datos"`
		Data  []types.Reading `json:"datos"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Zone != "America/Mexico_City" || body.Count != 3 || len(body.Data) != 3 {
		t.Fatalf("body = %+v", body)
	}
	for i := 1; i < len(body.Data); i++ {
		if body.Data[i].Timestamp.Before(body.Data[i-1].Timestamp) {
			t.Errorf("datos not ascending at %d: %v", i, body.Data)
		}
	}
	if body.Data[0].UnitName != "Estanque 1" {
		t.Errorf("unit name not resolved: %q", body.Data[0].UnitName)
	}

	// Daily range only covers one of them.
	rec = f.do(t, http.MethodGet, "/datos/diario/2025-01-08?estanque=Estanque%201", tok, nil)
	if rec.Code != http.StatusOK || decode(t, rec)["cantidad_datos"] != float64(1) {
		t.Errorf("daily: status = %d: %s", rec.Code, rec.Body)
	}
}

func TestReadingsByPeriod_Errors(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "luis")

	tests := []struct {
		name     string
		target   string
		wantCode int
		wantMsg  string
	}{
		{"not monday", "/datos/semanal/2025-01-07", http.StatusBadRequest, "martes"},
		{"bad format", "/datos/mensual/2025-1", http.StatusBadRequest, "formato"},
		{"bad kind", "/datos/quincenal/2025-01-06", http.StatusBadRequest, "periodo"},
		{"no data", "/datos/anual/2019", http.StatusNotFound, "no hay datos"},
		{"unknown unit", "/datos/anual/2025?estanque=Fantasma", http.StatusNotFound, "estanque"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.target, tok, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body)
			}
			msg, _ := decode(t, rec)["error"].(string)
			if !strings.Contains(msg, tt.wantMsg) {
				t.Errorf("error = %q, want it to mention %q", msg, tt.wantMsg)
			}
		})
	}

	// The non-Monday rejection carries an example.
	rec := f.do(t, http.MethodGet, "/datos/semanal/2025-01-07", tok, nil)
	details, _ := decode(t, rec)["detalles"].(map[string]any)
	if details["ejemplo"] != "2025-01-06" {
		t.Errorf("detalles = %v", details)
	}
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "luis")

	rec := f.do(t, http.MethodPost, "/reportes", tok, map[string]string{"periodo": "semanal", "fecha": "2025-01-06", "estanque": "Estanque 1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q", ct)
	}
	want := `attachment; filename="reporte_Estanque_1_semanal_2025-01-06.pdf"`
	if cd := rec.Header().Get("Content-Disposition"); cd != want {
		t.Errorf("Content-Disposition = %q, want %q", cd, want)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
		t.Errorf("body is not a PDF: %q", rec.Body.Bytes()[:min(16, rec.Body.Len())])
	}

	// A past range is served from the cache the second time.
	calls := f.store.rangeCalls
	rec = f.do(t, http.MethodGet, "/reportes?periodo=semanal&fecha=2025-01-06&estanque=Estanque%201", tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cached: status = %d: %s", rec.Code, rec.Body)
	}
	if f.store.rangeCalls != calls {
		t.Errorf("second report queried the store %d more times", f.store.rangeCalls-calls)
	}

	rec = f.do(t, http.MethodGet, "/reportes?periodo=anual&fecha=2025", tok, nil)
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "reporte_anual_2025.pdf") {
		t.Errorf("all-units filename = %q", cd)
	}
}

func TestReport_Errors(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "luis")

	tests := []struct {
		name     string
		body     map[string]string
		wantCode int
	}{
		{"not monday", map[string]string{"periodo": "semanal", "fecha": "2025-01-07"}, http.StatusBadRequest},
		{"bad format", map[string]string{"periodo": "diario", "fecha": "06/01/2025"}, http.StatusBadRequest},
		{"no data", map[string]string{"periodo": "mensual", "fecha": "2024-03"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/reportes", tok, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want JSON error", ct)
			}
		})
	}
}

func TestIngest(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "luis")

	rec := f.do(t, http.MethodPost, "/datos", tok, map[string]any{
		"estanque":  "Estanque 1",
		"timestamp": time.Now().Add(-time.Minute).UTC(),
		"ph":        7.2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodPost, "/datos", tok, map[string]any{"estanque": "Estanque 1", "ph": 20})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid: status = %d: %s", rec.Code, rec.Body)
	}
	details, _ := decode(t, rec)["detalles"].(map[string]any)
	if _, ok := details["ph"]; !ok {
		t.Errorf("detalles = %v, want ph entry", details)
	}
}

// lookupStore answers every unit lookup with err.
type lookupStore struct{ err error }

func (s lookupStore) GetUnitByID(context.Context, uuid.UUID) (*types.Unit, error) {
	return nil, s.err
}

func (s lookupStore) GetUnitByName(context.Context, string) (*types.Unit, error) {
	return nil, s.err
}

func (lookupStore) InsertReading(context.Context, types.Reading) error { return nil }

func TestIngest_UnitLookupErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"absent unit", db.ErrUnitNotFound, http.StatusNotFound},
		{"store timeout", gocql.ErrTimeoutNoResponse, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.handler = NewMux(New(Deps{
				Store:    f.store,
				Cache:    f.cache,
				Ingester: ingest.NewService(lookupStore{err: tt.err}, nil, nil, zerolog.Nop()),
				Resolver: period.NewResolver(f.loc),
				Rollup:   f.trigger,
				Issuer:   f.issuer,
				Logger:   zerolog.Nop(),
			}))

			rec := f.do(t, http.MethodPost, "/datos", f.token(t, "luis"), map[string]any{
				"estanque":  "Estanque 1",
				"timestamp": time.Now().Add(-time.Minute).UTC(),
				"ph":        7.2,
			})
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body)
			}
		})
	}
}

func TestLatest(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "luis")

	rec := f.do(t, http.MethodGet, "/estanques/"+f.unit.UnitID.String()+"/ultimas?n=2", tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	data, _ := decode(t, rec)["data"].([]any)
	if len(data) != 2 {
		t.Errorf("got %d readings, want 2", len(data))
	}

	rec = f.do(t, http.MethodGet, "/estanques/"+f.unit.UnitID.String()+"/ultimas?n=0", tok, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("n=0: status = %d", rec.Code)
	}
}

func TestAggregates(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "luis")
	f.store.aggregates = []types.Aggregate{
		{UnitID: f.unit.UnitID, Kind: "diario", Samples: 3},
		{UnitID: f.unit.UnitID, Kind: "semanal", Samples: 9},
	}

	rec := f.do(t, http.MethodGet, "/promedios?estanque=Estanque%201&periodo=semanal", tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if data, _ := decode(t, rec)["data"].([]any); len(data) != 1 {
		t.Errorf("got %d aggregates, want 1", len(data))
	}

	rec = f.do(t, http.MethodGet, "/promedios?estanque="+f.unit.UnitID.String(), tok, nil)
	if data, _ := decode(t, rec)["data"].([]any); len(data) != 2 {
		t.Errorf("all kinds: got %d aggregates, want 2", len(data))
	}

	if rec := f.do(t, http.MethodGet, "/promedios", tok, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing unit: status = %d", rec.Code)
	}
}

func TestAggregates_AllKindsNewestFirst(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "luis")
	day := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, f.loc) }
	f.store.aggregates = []types.Aggregate{
		{UnitID: f.unit.UnitID, Kind: "diario", PeriodStart: day(5)},
		{UnitID: f.unit.UnitID, Kind: "diario", PeriodStart: day(12)},
		{UnitID: f.unit.UnitID, Kind: "semanal", PeriodStart: day(6)},
		{UnitID: f.unit.UnitID, Kind: "mensual", PeriodStart: day(1)},
		{UnitID: f.unit.UnitID, Kind: "anual", PeriodStart: time.Date(2024, 1, 1, 0, 0, 0, 0, f.loc)},
	}

	rec := f.do(t, http.MethodGet, "/promedios?estanque=Estanque%201&limite=3", tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var body struct {
		Data []types.Aggregate `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 3 {
		t.Fatalf("got %d aggregates, want the limit of 3", len(body.Data))
	}
	for i, want := range []time.Time{day(12), day(6), day(5)} {
		if !body.Data[i].PeriodStart.Equal(want) {
			t.Errorf("row %d starts %v, want %v", i, body.Data[i].PeriodStart, want)
		}
	}
}

func TestTriggerRollup(t *testing.T) {
	f := newFixture(t)
	admin := f.token(t, "ana")

	rec := f.do(t, http.MethodPost, "/promedios/mensual/ejecutar", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if f.trigger.kind != period.Monthly {
		t.Errorf("triggered kind = %s", f.trigger.kind)
	}

	f.trigger.err = worker.ErrRunInProgress
	if rec := f.do(t, http.MethodPost, "/promedios/mensual/ejecutar", admin, nil); rec.Code != http.StatusConflict {
		t.Errorf("in progress: status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/promedios/mensual/ejecutar", f.token(t, "luis"), nil); rec.Code != http.StatusForbidden {
		t.Errorf("operator: status = %d", rec.Code)
	}
}

func TestCreateUser(t *testing.T) {
	f := newFixture(t)
	admin := f.token(t, "ana")

	rec := f.do(t, http.MethodPost, "/usuarios", admin, map[string]string{"usuario": "eva", "password": "largaclave", "rol": "operador"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if strings.Contains(rec.Body.String(), "largaclave") || strings.Contains(rec.Body.String(), "$2a$") {
		t.Error("response leaks the password or its hash")
	}
	if err := auth.CheckPassword(f.store.users["eva"].PasswordHash, "largaclave"); err != nil {
		t.Errorf("stored hash does not match: %v", err)
	}

	if rec := f.do(t, http.MethodPost, "/usuarios", admin, map[string]string{"usuario": "eva", "password": "largaclave"}); rec.Code != http.StatusConflict {
		t.Errorf("duplicate: status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/usuarios", admin, map[string]string{"usuario": "x", "password": "corta", "rol": "root"}); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid: status = %d", rec.Code)
	}
}
