package routes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/ntentasd/acuamon-api/internal/aggregate"
	"github.com/ntentasd/acuamon-api/internal/cache"
	"github.com/ntentasd/acuamon-api/internal/period"
	"github.com/ntentasd/acuamon-api/internal/report"
	"github.com/ntentasd/acuamon-api/pkg/types"
	"github.com/ntentasd/acuamon-api/pkg/utils"
)

// periodQuery is a validated (periodo, fecha, estanque?) triple.
type periodQuery struct {
	kind period.Kind
	date string
	rng  period.Range
	unit *types.Unit
}

// resolvePeriod validates the request and resolves its range before any
// reading is queried. It writes the error response itself.
func (app *App) resolvePeriod(w http.ResponseWriter, r *http.Request, rawKind, date, unitRef string) (periodQuery, bool) {
	kind, err := period.ParseKind(rawKind)
	if err != nil {
		periodError(w, kind, err)
		return periodQuery{}, false
	}
	date = strings.TrimSpace(date)
	rng, err := app.resolver.Resolve(kind, date)
	if err != nil {
		if !periodError(w, kind, err) {
			app.replyErr(w, r, err)
		}
		return periodQuery{}, false
	}

	q := periodQuery{kind: kind, date: date, rng: rng}
	if strings.TrimSpace(unitRef) != "" {
		unit, err := app.lookupUnit(r.Context(), unitRef)
		if err != nil {
			app.replyErr(w, r, err)
			return periodQuery{}, false
		}
		q.unit = unit
	}
	return q, true
}

func (q periodQuery) unitID() *uuid.UUID {
	if q.unit == nil {
		return nil
	}
	id := q.unit.UnitID
	return &id
}

func (q periodQuery) unitName() string {
	if q.unit == nil {
		return ""
	}
	return q.unit.Name
}

// readingsByPeriodHandler lists the readings of a period in ascending order.
func (app *App) readingsByPeriodHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	q, ok := app.resolvePeriod(w, r, vars["periodo"], vars["fecha"], r.URL.Query().Get("estanque"))
	if !ok {
		return
	}

	readings, err := app.store.GetReadings(r.Context(), q.rng, q.unitID())
	if err != nil {
		app.replyErr(w, r, err)
		return
	}
	if len(readings) == 0 {
		app.replyErr(w, r, aggregate.ErrNoData)
		return
	}

	units, err := app.store.UnitsByID(r.Context())
	if err != nil {
		app.replyErr(w, r, err)
		return
	}
	for i := range readings {
		if id := readings[i].UnitID; id != nil {
			readings[i].UnitName = units[*id].Name
		}
	}
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})

	utils.ReplyJSON(w, http.StatusOK, utils.Body{
		"zona_horaria":   app.resolver.Location().String(),
		"cantidad_datos": len(readings),
		"datos":          readings,
	})
}

type reportRequest struct {
	Kind string `json:"periodo"`
	Date string `json:"fecha"`
	Unit string `json:"estanque"`
}

// reportHandler renders the bucketed readings of a period as a PDF.
func (app *App) reportHandler(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.ReplyError(w, http.StatusBadRequest, "cuerpo de la petición inválido",
				utils.Body{"ejemplo": reportRequest{Kind: "semanal", Date: period.Weekly.Example()}})
			return
		}
	} else {
		qs := r.URL.Query()
		req = reportRequest{Kind: qs.Get("periodo"), Date: qs.Get("fecha"), Unit: qs.Get("estanque")}
	}

	q, ok := app.resolvePeriod(w, r, req.Kind, req.Date, req.Unit)
	if !ok {
		return
	}

	series, err := app.reportSeries(r, q)
	if err != nil {
		app.replyErr(w, r, err)
		return
	}

	var buf bytes.Buffer
	_, err = app.renderer.Render(r.Context(), report.Request{
		Kind:        q.kind,
		Date:        q.date,
		Range:       q.rng,
		UnitName:    q.unitName(),
		Location:    app.resolver.Location(),
		GeneratedAt: app.now(),
	}, series, &buf)
	if err != nil {
		app.replyErr(w, r, err)
		return
	}

	filename := report.Filename(q.kind, q.date, q.unitName())
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// reportSeries buckets the readings of q. Ranges entirely in the past are
// immutable, so their series are cached.
func (app *App) reportSeries(r *http.Request, q periodQuery) ([]aggregate.UnitSeries, error) {
	ctx := r.Context()
	cacheable := app.reportTTL > 0 && q.rng.End.Before(app.now())
	key := cache.ReportKey(q.kind, q.date, q.unitID())

	if cacheable {
		raw, err := app.cache.FetchAggregate(ctx, key)
		if err == nil {
			var series []aggregate.UnitSeries
			if err := json.Unmarshal(raw, &series); err == nil && len(series) > 0 {
				return series, nil
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			app.logger.Warn().Err(err).Str("key", key).Msg("report cache unavailable")
		}
	}

	readings, err := app.store.GetReadings(ctx, q.rng, q.unitID())
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, aggregate.ErrNoData
	}
	units, err := app.store.UnitsByID(ctx)
	if err != nil {
		return nil, err
	}
	series, err := app.agg.Bucket(readings, units, q.kind)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := app.cache.StoreAggregate(ctx, key, series, app.reportTTL); err != nil {
			app.logger.Warn().Err(err).Str("key", key).Msg("failed to cache report series")
		}
	}
	return series, nil
}

const maxAggregates = 500

// aggregatesHandler lists persisted rollup aggregates of a unit, newest first.
func (app *App) aggregatesHandler(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	ref := qs.Get("estanque")
	if strings.TrimSpace(ref) == "" {
		utils.ReplyError(w, http.StatusBadRequest, "el parámetro estanque es requerido", nil)
		return
	}

	kinds := period.Kinds
	if raw := qs.Get("periodo"); raw != "" {
		kind, err := period.ParseKind(raw)
		if err != nil {
			periodError(w, kind, err)
			return
		}
		kinds = []period.Kind{kind}
	}

	limit := 100
	if raw := qs.Get("limite"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxAggregates {
			utils.ReplyError(w, http.StatusBadRequest, "limite inválido", fmt.Sprintf("entero entre 1 y %d", maxAggregates))
			return
		}
		limit = v
	}

	unit, err := app.lookupUnit(r.Context(), ref)
	if err != nil {
		app.replyErr(w, r, err)
		return
	}

	out := make([]types.Aggregate, 0)
	for _, kind := range kinds {
		aggs, err := app.store.ListAggregates(r.Context(), unit.UnitID, kind.String(), limit)
		if err != nil {
			app.replyErr(w, r, err)
			return
		}
		out = append(out, aggs...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PeriodStart.After(out[j].PeriodStart)
	})
	if len(out) > limit {
		out = out[:limit]
	}

	utils.ReplyJSON(w, http.StatusOK, utils.Body{
		"estanque": unit,
		"data":     out,
	})
}

func (app *App) triggerRollupHandler(w http.ResponseWriter, r *http.Request) {
	kind, err := period.ParseKind(mux.Vars(r)["periodo"])
	if err != nil {
		periodError(w, kind, err)
		return
	}
	if app.rollup == nil {
		utils.ReplyError(w, http.StatusServiceUnavailable, "el cálculo de promedios no está disponible", nil)
		return
	}

	res, err := app.rollup.Trigger(r.Context(), kind, app.now())
	if err != nil {
		app.replyErr(w, r, err)
		return
	}
	utils.ReplyJSON(w, http.StatusOK, utils.Body{
		"data": res,
	})
}
