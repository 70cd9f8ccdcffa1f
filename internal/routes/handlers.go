package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/ntentasd/acuamon-api/internal/auth"
	"github.com/ntentasd/acuamon-api/internal/cache"
	"github.com/ntentasd/acuamon-api/internal/db"
	"github.com/ntentasd/acuamon-api/internal/ingest"
	"github.com/ntentasd/acuamon-api/pkg/types"
	"github.com/ntentasd/acuamon-api/pkg/utils"
)

const defaultLatest = 5

func (app *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	body := utils.Body{"state": "healthy"}
	status := http.StatusOK
	if err := app.store.Ping(r.Context()); err != nil {
		body["state"], body["scylla"] = "unhealthy", err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := app.cache.Ping(r.Context()); err != nil {
		body["state"], body["cache"] = "unhealthy", err.Error()
		status = http.StatusServiceUnavailable
	}
	utils.ReplyJSON(w, status, body)
}

func (app *App) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		utils.ReplyBadRequest(w, "se requieren username y password")
		return
	}

	user, err := app.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			utils.ReplyError(w, http.StatusUnauthorized, "credenciales inválidas", nil)
			return
		}
		app.replyErr(w, r, err)
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		utils.ReplyError(w, http.StatusUnauthorized, "credenciales inválidas", nil)
		return
	}

	token, exp, err := app.issuer.Sign(*user)
	if err != nil {
		app.replyErr(w, r, err)
		return
	}
	utils.ReplyJSON(w, http.StatusOK, utils.Body{
		"token":  token,
		"role":   user.Role,
		"expira": exp.UTC(),
	})
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		utils.ReplyBadRequest(w, "identificador inválido")
		return uuid.Nil, false
	}
	return id, true
}

// lookupUnit accepts a unit id or a unit name.
func (app *App) lookupUnit(ctx context.Context, ref string) (*types.Unit, error) {
	ref = strings.TrimSpace(ref)
	if id, err := uuid.Parse(ref); err == nil {
		return app.store.GetUnitByID(ctx, id)
	}
	return app.store.GetUnitByName(ctx, ref)
}

func (app *App) listUnitsHandler(w http.ResponseWriter, r *http.Request) {
	units, err := app.store.ListUnits(r.Context())
	if err != nil {
		app.replyErr(w, r, err)
		return
	}
	utils.ReplyJSON(w, http.StatusOK, utils.Body{
		"data": units,
	})
}

func (app *App) getUnitHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	unit, err := app.store.GetUnitByID(r.Context(), id)
	if err != nil {
		app.replyErr(w, r, err)
		return
	}
	utils.ReplyJSON(w, http.StatusOK, utils.Body{
		"data": unit,
	})
}

type unitRequest struct {
	Name        string `json:"nombre"`
	Description string `json:"descripcion"`
}

func decodeUnit(w http.ResponseWriter, r *http.Request) (unitRequest, bool) {
	var req unitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ReplyBadRequest(w, "cuerpo de la petición inválido")
		return req, false
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		utils.ReplyError(w, http.StatusBadRequest, "el nombre es requerido", nil)
		return req, false
	}
	return req, true
}

func (app *App) createUnitHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeUnit(w, r)
	if !ok {
		return
	}
	unit, err := app.store.CreateUnit(r.Context(), req.Name, req.Description)
	if err != nil {
		app.replyErr(w, r, err)
		return
	}
	utils.ReplyJSON(w, http.StatusCreated, utils.Body{
		"data": unit,
	})
}

func (app *App) updateUnitHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	req, ok := decodeUnit(w, r)
	if !ok {
		return
	}
	unit, err := app.store.UpdateUnit(r.Context(), id, req.Name, req.Description)
	if err != nil {
		app.replyErr(w, r, err)
		return
	}
	utils.ReplyJSON(w, http.StatusOK, utils.Body{
		"data": unit,
	})
}

func (app *App) deleteUnitHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := app.store.DeleteUnit(r.Context(), id); err != nil {
		app.replyErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *App) sensorsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	unit, err := app.store.GetUnitByID(r.Context(), id)
	if err != nil {
		app.replyErr(w, r, err)
		return
	}
	sensors, err := app.store.GetSensorsByUnitID(r.Context(), id)
	if err != nil {
		app.replyErr(w, r, err)
		return
	}
	utils.ReplyJSON(w, http.StatusOK, utils.Body{
		"data":     sensors,
		"estanque": unit,
	})
}

func (app *App) registerSensorHandler(w http.ResponseWriter, r *http.Request) {
	unitID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		SensorName string `json:"sensor_name"`
		SensorType string `json:"sensor_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ReplyBadRequest(w, "cuerpo de la petición inválido")
		return
	}
	req.SensorName = strings.TrimSpace(req.SensorName)
	if req.SensorName == "" {
		utils.ReplyBadRequest(w, "el nombre del sensor es requerido")
		return
	}
	sensorType, err := types.ToSensorType(req.SensorType)
	if err != nil {
		utils.ReplyError(w, http.StatusBadRequest, "tipo de sensor inválido",
			"valores permitidos: ph, water_temperature, ambient_temperature, humidity, light, conductivity, co2")
		return
	}

	sensor, err := app.store.RegisterSensor(r.Context(), unitID, req.SensorName, sensorType)
	if err != nil {
		app.replyErr(w, r, err)
		return
	}

	creds := types.SensorCredentials{
		SensorID: sensor.SensorID,
		Username: fmt.Sprintf("%s_%s", sensor.SensorID.String()[:8], sensor.SensorName),
		Password: strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
	}
	log := app.logger.With().Str("sensor_id", sensor.SensorID.String()).Str("mqtt_user", creds.Username).Logger()

	if app.provisioner != nil {
		if err := app.provisioner.ProvisionSensor(r.Context(), creds); err != nil {
			log.Warn().Err(err).Msg("failed to create broker user for sensor")
		} else {
			log.Info().Msg("created broker user for sensor")
		}
	}
	if err := app.store.StoreSensorCredentials(r.Context(), creds); err != nil {
		log.Warn().Err(err).Msg("failed to store mqtt credentials")
	}

	utils.ReplyJSON(w, http.StatusCreated, utils.Body{
		"data": map[string]any{
			"sensor":    sensor,
			"mqtt_user": creds.Username,
			"mqtt_pass": creds.Password,
		},
	})
}

func (app *App) getSensorCredentialsHandler(w http.ResponseWriter, r *http.Request) {
	sensorID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	creds, err := app.store.GetSensorCredentials(r.Context(), sensorID)
	if err != nil {
		app.replyErr(w, r, err)
		return
	}
	utils.ReplyJSON(w, http.StatusOK, utils.Body{
		"data": creds,
	})
}

// latestHandler serves the newest readings of a unit from the cache, falling
// back to the store when the cache holds fewer than requested.
func (app *App) latestHandler(w http.ResponseWriter, r *http.Request) {
	unitID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	n := defaultLatest
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > cache.MaxLatest {
			utils.ReplyError(w, http.StatusBadRequest, "n inválido", fmt.Sprintf("entero entre 1 y %d", cache.MaxLatest))
			return
		}
		n = v
	}

	if _, err := app.store.GetUnitByID(r.Context(), unitID); err != nil {
		app.replyErr(w, r, err)
		return
	}

	res, err := app.cache.FetchLast(r.Context(), unitID, n)
	miss := errors.Is(err, cache.ErrCacheMiss)
	if err != nil && !miss {
		app.logger.Warn().Err(err).Msg("latest readings cache unavailable")
	}

	// Less than n, cache is stale
	if len(res) < n {
		res, err = app.store.LatestReadings(r.Context(), unitID, n)
		if err != nil {
			app.replyErr(w, r, err)
			return
		}
		if miss {
			for _, entry := range res {
				if err := app.cache.StoreReading(r.Context(), entry); err != nil {
					app.logger.Warn().Err(err).Msg("cache backfill failed")
					break
				}
			}
		}
	}

	utils.ReplyJSON(w, http.StatusOK, utils.Body{
		"data": res,
	})
}

func (app *App) ingestHandler(w http.ResponseWriter, r *http.Request) {
	var p ingest.Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		utils.ReplyError(w, http.StatusBadRequest, "cuerpo de la petición inválido", err.Error())
		return
	}
	reading, err := app.ingest.Ingest(r.Context(), ingest.SourceHTTP, p)
	if err != nil {
		app.replyErr(w, r, err)
		return
	}
	utils.ReplyJSON(w, http.StatusCreated, utils.Body{
		"data": reading,
	})
}

func (app *App) listUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := app.store.ListUsers(r.Context())
	if err != nil {
		app.replyErr(w, r, err)
		return
	}
	utils.ReplyJSON(w, http.StatusOK, utils.Body{
		"data": users,
	})
}

const minPasswordLength = 8

func (app *App) createUserHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string     `json:"usuario"`
		Password string     `json:"password"`
		Role     types.Role `json:"rol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ReplyBadRequest(w, "cuerpo de la petición inválido")
		return
	}
	fields := map[string]string{}
	if strings.TrimSpace(req.Username) == "" {
		fields["usuario"] = "requerido"
	}
	if len(req.Password) < minPasswordLength {
		fields["password"] = fmt.Sprintf("mínimo %d caracteres", minPasswordLength)
	}
	if req.Role == "" {
		req.Role = types.RoleOperator
	}
	if !req.Role.Valid() {
		fields["rol"] = "valores permitidos: admin, operador"
	}
	if len(fields) > 0 {
		utils.ReplyError(w, http.StatusBadRequest, "usuario inválido", fields)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		app.replyErr(w, r, err)
		return
	}
	user, err := app.store.CreateUser(r.Context(), req.Username, hash, req.Role)
	if err != nil {
		app.replyErr(w, r, err)
		return
	}
	utils.ReplyJSON(w, http.StatusCreated, utils.Body{
		"data": user,
	})
}
