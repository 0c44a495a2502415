package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrEmptyBody is returned when the reader holds no JSON value at all.
var ErrEmptyBody = errors.New("request body is empty")

// DecodeJSON decodes exactly one JSON value from r into v.
//
// Unknown object fields are ignored. Anything other than whitespace after the
// value is an error.
func DecodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return fmt.Errorf("unexpected trailing JSON content")
		}
		return fmt.Errorf("unexpected trailing JSON content: %w", err)
	}
	return nil
}

// DescribeJSONError turns a decoding error into a short client-facing message.
func DescribeJSONError(err error) string {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, ErrEmptyBody):
		return "corpo da requisição vazio"
	case errors.As(err, &syntaxErr):
		return fmt.Sprintf("JSON inválido na posição %d", syntaxErr.Offset)
	case errors.As(err, &typeErr):
		if typeErr.Field != "" {
			return fmt.Sprintf("campo %q deve ser do tipo %s", typeErr.Field, jsonKind(typeErr.Type.Kind().String()))
		}
		return "tipo JSON inesperado"
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "JSON incompleto"
	default:
		return err.Error()
	}
}

func jsonKind(goKind string) string {
	switch goKind {
	case "float64", "float32", "int", "int64":
		return "number"
	case "string":
		return "string"
	case "slice", "array":
		return "array"
	case "struct", "map":
		return "object"
	default:
		return goKind
	}
}
