package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/0xlemi/polytune/internal/tuner"
	"github.com/0xlemi/polytune/internal/tuning"
	"github.com/go-playground/validator/v10"
)

// Message is the envelope for everything sent over the socket, in both directions.
type Message struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// SelectRequest is the request body for select.
type SelectRequest struct {
	Instrument string `json:"instrument" validate:"required"`
	Tuning     string `json:"tuning" validate:"omitempty"`
}

// ModeRequest is the request body for mode.
type ModeRequest struct {
	Mode string `json:"mode" validate:"required,oneof=poly chromatic"`
}

// ReferenceRequest is the request body for reference.
type ReferenceRequest struct {
	ReferenceHz float64 `json:"reference_hz" validate:"required"`
}

// ToleranceRequest is the request body for tolerance.
type ToleranceRequest struct {
	Cents float64 `json:"cents" validate:"gt=0,lte=50"`
}

// validate is the shared validator instance for request validation.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names in error messages instead of struct field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// decode unmarshals and validates a command payload.
func decode[T any](raw json.RawMessage, out *T) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// ErrUnknownCommand is returned for an unrecognized message type.
var ErrUnknownCommand = errors.New("unknown command")

// apply executes a command against the engine and returns the new display.
func apply(engine *tuner.Engine, msg Message) (tuner.Display, error) {
	switch msg.Type {
	case "select":
		var req SelectRequest
		if err := decode(msg.Data, &req); err != nil {
			return tuner.Display{}, err
		}
		if req.Tuning == "" {
			return engine.SelectInstrument(req.Instrument)
		}
		return engine.Select(req.Instrument, req.Tuning)

	case "mode":
		var req ModeRequest
		if err := decode(msg.Data, &req); err != nil {
			return tuner.Display{}, err
		}
		return engine.SetMode(tuning.Mode(req.Mode))

	case "reference":
		var req ReferenceRequest
		if err := decode(msg.Data, &req); err != nil {
			return tuner.Display{}, err
		}
		if req.ReferenceHz != 440 && req.ReferenceHz != 432 {
			return tuner.Display{}, fmt.Errorf("reference_hz: must be 440 or 432")
		}
		return engine.SetReference(req.ReferenceHz)

	case "tolerance":
		var req ToleranceRequest
		if err := decode(msg.Data, &req); err != nil {
			return tuner.Display{}, err
		}
		return engine.SetTolerance(req.Cents)

	case "snapshot":
		return engine.Snapshot(), nil
	}
	return tuner.Display{}, fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Type)
}
