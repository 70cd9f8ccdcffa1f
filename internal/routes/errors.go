package routes

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ntentasd/acuamon-api/internal/aggregate"
	"github.com/ntentasd/acuamon-api/internal/db"
	"github.com/ntentasd/acuamon-api/internal/ingest"
	"github.com/ntentasd/acuamon-api/internal/period"
	"github.com/ntentasd/acuamon-api/internal/worker"
	"github.com/ntentasd/acuamon-api/pkg/utils"
)

var weekdays = map[time.Weekday]string{
	time.Sunday:    "domingo",
	time.Monday:    "lunes",
	time.Tuesday:   "martes",
	time.Wednesday: "miércoles",
	time.Thursday:  "jueves",
	time.Friday:    "viernes",
	time.Saturday:  "sábado",
}

const allowedKinds = "valores permitidos: diario, semanal, mensual, anual"

// periodError maps a period parse or resolve failure. It returns false when
// err is none of them.
func periodError(w http.ResponseWriter, kind period.Kind, err error) bool {
	var nm *period.NotMondayError
	switch {
	case errors.As(err, &nm):
		utils.ReplyError(w, http.StatusBadRequest,
			fmt.Sprintf("el periodo semanal debe iniciar en lunes; %s es %s", nm.Date, weekdays[nm.Weekday]),
			utils.Body{"ejemplo": period.Weekly.Example()},
		)
	case errors.Is(err, period.ErrInvalidKind):
		utils.ReplyError(w, http.StatusBadRequest, "periodo inválido", allowedKinds)
	case errors.Is(err, period.ErrInvalidFormat):
		utils.ReplyError(w, http.StatusBadRequest,
			fmt.Sprintf("formato de fecha inválido para el periodo %s", kind),
			utils.Body{"ejemplo": kind.Example()},
		)
	default:
		return false
	}
	return true
}

// replyErr maps domain errors to statuses. Anything unknown is a 500 with
// the technical detail.
func (app *App) replyErr(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve        *ingest.ValidationError
		unitDup   *db.UnitAlreadyExistsError
		sensorDup *db.SensorAlreadyExistsError
		userDup   *db.UserAlreadyExistsError
	)
	switch {
	case errors.As(err, &ve):
		utils.ReplyError(w, http.StatusBadRequest, "lectura inválida", ve.Fields)
	case errors.Is(err, ingest.ErrUnknownUnit), errors.Is(err, db.ErrUnitNotFound):
		utils.ReplyNotFound(w, "estanque no encontrado")
	case errors.Is(err, db.ErrSensorNotFound):
		utils.ReplyNotFound(w, "sensor no encontrado")
	case errors.Is(err, db.ErrUserNotFound):
		utils.ReplyNotFound(w, "usuario no encontrado")
	case errors.Is(err, aggregate.ErrNoData):
		utils.ReplyNotFound(w, "no hay datos para el periodo seleccionado")
	case errors.As(err, &unitDup):
		utils.ReplyError(w, http.StatusConflict, fmt.Sprintf("ya existe un estanque llamado %q", unitDup.Name), nil)
	case errors.As(err, &sensorDup):
		utils.ReplyError(w, http.StatusConflict, fmt.Sprintf("ya existe un sensor llamado %q", sensorDup.SensorName), nil)
	case errors.As(err, &userDup):
		utils.ReplyError(w, http.StatusConflict, fmt.Sprintf("el usuario %q ya existe", userDup.Username), nil)
	case errors.Is(err, worker.ErrRunInProgress):
		utils.ReplyError(w, http.StatusConflict, "ya hay una ejecución de este periodo en curso", nil)
	default:
		app.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		utils.ReplyInternalServerError(w, err.Error())
	}
}
