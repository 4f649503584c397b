// handlers содержит HTTP-обработчики API учётных записей.
// Здесь выполняются только разбор/валидация DTO и маппинг ответов,
// бизнес-логика находится в пакете service.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/accounts-auth/internal/metrics"
	"github.com/pribylovaa/accounts-auth/internal/service"
	apierrors "github.com/pribylovaa/accounts-auth/internal/transport/http/errors"
)

// Handlers агрегирует зависимости обработчиков.
type Handlers struct {
	Service *service.Service
}

func New(svc *service.Service) *Handlers {
	return &Handlers{Service: svc}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: неизвестные поля запрещены.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(value); err != nil {
		return fmt.Errorf("%w: %v", apierrors.ErrInvalidArgument, err)
	}
	return nil
}

// validator реализуется DTO запросов.
type validator interface {
	Validate() error
}

// bind разбирает тело запроса и валидирует DTO.
func bind(r *http.Request, dto validator) error {
	if err := decodeStrict(r, dto); err != nil {
		return err
	}
	return dto.Validate()
}

// fail учитывает неуспешную операцию и пишет ответ об ошибке.
func fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	_, resp := apierrors.ToHTTP(err)
	metrics.RecordOperation(op, resp.Error.Code)
	apierrors.WriteError(w, r, err)
}

// ok учитывает успешную операцию.
func ok(op string) {
	metrics.RecordOperation(op, metrics.ResultOK)
}

// pathID разбирает {id} маршрута как UUID.
func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad id", apierrors.ErrInvalidArgument)
	}
	return id, nil
}

// queryInt читает неотрицательный целый query-параметр; пустой даёт 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: bad %s", apierrors.ErrInvalidArgument, name)
	}
	return v, nil
}
