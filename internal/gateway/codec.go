package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/lazyclaw/agentdash/internal/models"
)

var (
	// ErrInvalidFrame means the frame is not a JSON object with a string type
	// and an object payload
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrUnknownType means the discriminant is not registered
	ErrUnknownType = errors.New("unknown message type")

	// ErrMissingField means a required payload field is absent or null
	ErrMissingField = errors.New("missing required field")
)

// DecodeError describes why a frame could not be decoded.
// It never indicates a broken connection.
type DecodeError struct {
	Type  string // discriminant, empty if it could not be read
	Field string // dotted path of the offending payload field, if any
	Err   error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString("decode")
	if e.Type != "" {
		b.WriteString(" ")
		b.WriteString(e.Type)
	}
	if e.Field != "" {
		b.WriteString(" field ")
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// payloadTypes maps each discriminant to a constructor for its payload.
// Adding a variant is a matter of adding an entry here.
var payloadTypes = map[models.MessageType]func() any{
	models.MessageInit:         func() any { return new(models.FsmStatePayload) },
	models.MessageUpdate:       func() any { return new(models.FsmStatePayload) },
	models.MessageLog:          func() any { return new(models.LogPayload) },
	models.MessageAgentMetrics: func() any { return new(models.AgentMetricsPayload) },
	models.MessageGameMetrics:  func() any { return new(models.GameMetricsPayload) },
	models.MessageTraceEvent:   func() any { return new(models.TraceEventPayload) },
	models.MessageMemoryUpdate: func() any { return new(models.MemoryPayload) },
}

type inboundFrame struct {
	Type    *string         `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundFrame struct {
	Type    models.CommandType     `json:"type"`
	Payload models.OutboundCommand `json:"payload"`
}

// Decode parses one inbound text frame of the form
// {"type": <discriminant>, "payload": {...}}
func Decode(frame []byte) (models.DashboardMessage, error) {
	var in inboundFrame
	if err := json.Unmarshal(frame, &in); err != nil {
		return models.DashboardMessage{}, &DecodeError{Err: fmt.Errorf("%w: %v", ErrInvalidFrame, err)}
	}
	if in.Type == nil {
		return models.DashboardMessage{}, &DecodeError{Field: "type", Err: ErrMissingField}
	}

	msgType := models.MessageType(*in.Type)
	newPayload, ok := payloadTypes[msgType]
	if !ok {
		return models.DashboardMessage{}, &DecodeError{Type: *in.Type, Err: ErrUnknownType}
	}

	raw := bytes.TrimSpace(in.Payload)
	if len(raw) == 0 || raw[0] != '{' {
		return models.DashboardMessage{}, &DecodeError{
			Type:  *in.Type,
			Field: "payload",
			Err:   fmt.Errorf("%w: payload must be an object", ErrInvalidFrame),
		}
	}

	payload := newPayload()
	if field, err := checkRequired(raw, reflect.TypeOf(payload), ""); err != nil {
		return models.DashboardMessage{}, &DecodeError{Type: *in.Type, Field: field, Err: err}
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		var typeErr *json.UnmarshalTypeError
		field := ""
		if errors.As(err, &typeErr) {
			field = typeErr.Field
		}
		return models.DashboardMessage{}, &DecodeError{Type: *in.Type, Field: field, Err: err}
	}

	return models.DashboardMessage{Type: msgType, Payload: payload}, nil
}

// Encode renders an outbound command as a text frame. It fails only for
// commands holding values JSON cannot represent, such as NaN.
func Encode(cmd models.OutboundCommand) ([]byte, error) {
	data, err := json.Marshal(outboundFrame{Type: cmd.CommandType(), Payload: cmd})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.CommandType(), err)
	}
	return data, nil
}

// checkRequired walks a payload type and verifies that every required field
// is present in raw. Pointer fields and fields tagged omitempty are optional.
// Interface fields must be present but may be null. It returns the path of
// the first offending field.
func checkRequired(raw json.RawMessage, t reflect.Type, path string) (string, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return path, err
		}
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name, optional := jsonFieldName(f)
			if name == "-" || optional || f.Type.Kind() == reflect.Pointer {
				continue
			}
			fieldPath := joinPath(path, name)
			value, ok := fields[name]
			if !ok {
				return fieldPath, ErrMissingField
			}
			if isNull(value) {
				if f.Type.Kind() == reflect.Interface {
					continue
				}
				return fieldPath, fmt.Errorf("%w: null", ErrMissingField)
			}
			if field, err := checkRequired(value, f.Type, fieldPath); err != nil {
				return field, err
			}
		}

	case reflect.Slice:
		elem := t.Elem()
		for elem.Kind() == reflect.Pointer {
			elem = elem.Elem()
		}
		if elem.Kind() != reflect.Struct {
			return "", nil
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return path, err
		}
		for i, item := range items {
			if field, err := checkRequired(item, elem, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return field, err
			}
		}
	}

	return "", nil
}

func jsonFieldName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("json")
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	return name, strings.Contains(opts, "omitempty")
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
