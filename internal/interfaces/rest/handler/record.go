package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/infrastructure/validate"
	"github.com/Facely1er/EduSolucePlus-sub000/internal/record"
	"github.com/labstack/echo/v4"
)

// RecordUseCase what progress.UseCase and result.UseCase have in common
type RecordUseCase[R any] interface {
	List(ctx context.Context, userID string) ([]R, error)
	Save(ctx context.Context, userID string, records []R) ([]R, error)
	Update(ctx context.Context, userID, id string, fields map[string]interface{}) (R, error)
}

// RecordHandler serves one record kind under /users/:user_id/<kind>
type RecordHandler[R any] struct {
	useCase   RecordUseCase[R]
	validator validate.Validator
}

// NewRecordHandler create a record controller instance
func NewRecordHandler[R any](UseCase RecordUseCase[R], Validator validate.Validator) *RecordHandler[R] {
	return &RecordHandler[R]{UseCase, Validator}
}

// HandleList GET, every record of the user
func (rh *RecordHandler[R]) HandleList(c echo.Context) error {
	records, err := rh.useCase.List(c.Request().Context(), c.Param("user_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, records)
}

// HandleSave POST, accepts one record or an array and answers with the stored array
func (rh *RecordHandler[R]) HandleSave(c echo.Context) error {
	body, err := ioutil.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity,
			NewRESTStandardError(http.StatusUnprocessableEntity, "Failed to read body").SetDetail(err.Error()))
	}

	var records []R
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &records)
	} else {
		var one R
		if err = json.Unmarshal(trimmed, &one); err == nil {
			records = append(records, one)
		}
	}
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity,
			NewRESTStandardError(http.StatusUnprocessableEntity, "Failed to bind records").SetDetail(err.Error()))
	}
	if len(records) == 0 {
		return c.JSON(http.StatusBadRequest,
			NewRESTValidationError(http.StatusBadRequest, "Failed to validate fields",
				[]*validate.FieldError{validate.NewFieldError("records", "at least one record is required")}))
	}
	if errs := rh.validator.Slice(records); len(errs) > 0 {
		return c.JSON(http.StatusBadRequest,
			NewRESTValidationError(http.StatusBadRequest, "Failed to validate fields", errs))
	}

	saved, err := rh.useCase.Save(c.Request().Context(), c.Param("user_id"), records)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, saved)
}

// HandleUpdate PATCH, shallow merge of the body onto the record
func (rh *RecordHandler[R]) HandleUpdate(c echo.Context) error {
	fields := make(map[string]interface{})
	if err := json.NewDecoder(c.Request().Body).Decode(&fields); err != nil {
		return c.JSON(http.StatusUnprocessableEntity,
			NewRESTStandardError(http.StatusUnprocessableEntity, "Failed to bind fields").SetDetail(err.Error()))
	}

	updated, err := rh.useCase.Update(c.Request().Context(), c.Param("user_id"), c.Param("id"), fields)
	switch {
	case errors.Is(err, record.ErrNotFound):
		return c.JSON(http.StatusNotFound, NewRESTStandardError(http.StatusNotFound, err.Error()))
	case errors.Is(err, record.ErrInvalidFields):
		return c.JSON(http.StatusBadRequest, NewRESTStandardError(http.StatusBadRequest, err.Error()))
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, updated)
}
