package backend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/longanisha/Mahidol-Forum-sub000/internal/errors"
)

// Kind is the typed failure every backend call maps to.
type Kind string

const (
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindValidation   Kind = "validation"
	KindNetwork      Kind = "network"
	KindOther        Kind = "other"
)

var kindSentinels = map[Kind]error{
	KindUnauthorized: errors.ErrUnauthorized,
	KindForbidden:    errors.ErrForbidden,
	KindValidation:   errors.ErrValidation,
	KindNetwork:      errors.ErrNetworkUnreachable,
	KindOther:        errors.ErrOther,
}

// FieldError is one entry of a 422 response.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// CallError describes a failed backend call. It matches the sentinel for its
// Kind with errors.Is.
type CallError struct {
	Kind   Kind
	Status int // Zero when the request never got a response
	Method string
	Path   string
	Detail string
	Fields []FieldError
	Err    error
}

func (e *CallError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s", e.Method, e.Path, e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func (e *CallError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// KindForStatus maps an HTTP status to the failure taxonomy.
func KindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusRequestTimeout, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindNetwork
	default:
		return KindOther
	}
}

type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

type validationItem struct {
	FieldError
	Loc []interface{} `json:"loc"`
	Msg string        `json:"msg"`
}

// parseErrorBody reads the backend's error shapes: {"detail": "..."},
// {"detail": [...], "message": "..."} for validation failures, and the older
// {"error": "..."}.
func parseErrorBody(body []byte) (string, []FieldError) {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return strings.TrimSpace(string(body)), nil
	}

	var detail string
	var fields []FieldError
	if len(eb.Detail) > 0 {
		if err := json.Unmarshal(eb.Detail, &detail); err != nil {
			var items []validationItem
			if json.Unmarshal(eb.Detail, &items) == nil {
				for _, item := range items {
					fe := item.FieldError
					if fe.Message == "" {
						fe.Message = item.Msg
					}
					if fe.Field == "" && len(item.Loc) > 0 {
						fe.Field = fmt.Sprint(item.Loc[len(item.Loc)-1])
					}
					fields = append(fields, fe)
				}
			}
		}
	}

	switch {
	case detail != "":
	case eb.Message != "":
		detail = eb.Message
	case eb.Error != "":
		detail = eb.Error
	case len(fields) > 0:
		detail = fields[0].Message
	}
	return detail, fields
}
