package apierror

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Handler converts a raw transport Failure into a normalized *Error.
type Handler func(f Failure) *Error

// Options customizes a Handler. Zero value yields the generic handler.
type Options struct {
	// Messages overrides the user-facing message for specific HTTP
	// statuses. Unlisted statuses inherit the generic messages.
	Messages map[int]string
	// RetryableOverride, when non-nil, forces the Retryable flag on every
	// HTTP failure regardless of classification.
	RetryableOverride *bool
}

// Statuses treated as transient service degradation: retryable, softer
// user-facing wording.
var transientStatuses = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
	525: true,
}

const transientMessage = "The service is temporarily unavailable. Please try again shortly."

// Generic messages for the fixed, non-retryable client-error statuses.
var genericMessages = map[int]string{
	400: "Invalid request. Please check your input.",
	401: "Your session has expired. Please sign in again.",
	403: "You do not have permission to perform this action.",
	404: "The requested resource was not found.",
}

// NewHandler builds a classifier with the given customizations.
//
// Classification priority:
//  1. no response at all → NETWORK_ERROR or TIMEOUT, status 0, retryable
//  2. 502/503/504/525/429/500 → transient service error, retryable
//  3. 400/401/403/404 → fixed messages, not retryable
//  4. 422 → validation error with field details joined, not retryable
//  5. anything else → server-provided or generic message, retryable iff ≥500
func NewHandler(opts Options) Handler {
	return func(f Failure) *Error {
		e := classify(f, opts.Messages)
		if opts.RetryableOverride != nil {
			if _, ok := f.(HTTPFailure); ok {
				e.Retryable = *opts.RetryableOverride
			}
		}
		return e
	}
}

// Generic is the default handler with no customization.
var Generic = NewHandler(Options{})

func classify(f Failure, overrides map[int]string) *Error {
	switch v := f.(type) {
	case NetworkFailure:
		if v.Timeout {
			return &Error{
				Message:   "The request timed out. Please try again.",
				Code:      CodeTimeout,
				Status:    0,
				Retryable: true,
			}
		}
		return &Error{
			Message:   "Unable to reach the server. Please check your connection.",
			Code:      CodeNetworkError,
			Status:    0,
			Retryable: true,
		}

	case AbortFailure:
		return Aborted(v.Err)

	case HTTPFailure:
		return classifyHTTP(v, overrides)
	}

	// Unknown failure variant: non-retryable so bugs are not masked.
	return &Error{
		Message:   "An unexpected error occurred.",
		Code:      CodeNetworkError,
		Status:    0,
		Retryable: false,
	}
}

func classifyHTTP(f HTTPFailure, overrides map[int]string) *Error {
	message := func(status int, fallback string) string {
		if m, ok := overrides[status]; ok {
			return m
		}
		return fallback
	}

	switch {
	case transientStatuses[f.Status]:
		return &Error{
			Message:   message(f.Status, transientMessage),
			Code:      HTTPCode(f.Status),
			Status:    f.Status,
			Retryable: true,
		}

	case f.Status == 400 || f.Status == 401 || f.Status == 403 || f.Status == 404:
		return &Error{
			Message:   message(f.Status, genericMessages[f.Status]),
			Code:      HTTPCode(f.Status),
			Status:    f.Status,
			Retryable: false,
		}

	case f.Status == 422:
		msg, details := parseValidationBody(f.Body)
		if m, ok := overrides[422]; ok {
			msg = m
		}
		return &Error{
			Message:   msg,
			Code:      HTTPCode(422),
			Status:    422,
			Details:   details,
			Retryable: false,
		}

	default:
		msg := serverMessage(f.Body)
		if msg == "" {
			msg = fmt.Sprintf("Server error (%d)", f.Status)
		}
		return &Error{
			Message:   message(f.Status, msg),
			Code:      HTTPCode(f.Status),
			Status:    f.Status,
			Retryable: f.Status >= 500,
		}
	}
}

// validationBody mirrors the backend's 422 shape: detail is either a plain
// string or a list of {loc, msg} issue objects.
type validationBody struct {
	Detail json.RawMessage `json:"detail"`
}

type validationIssue struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

// parseValidationBody extracts field-level issues from a 422 body and joins
// them into one user-facing message.
func parseValidationBody(body []byte) (string, []FieldIssue) {
	const fallback = "Validation failed. Please check your input."

	var vb validationBody
	if err := json.Unmarshal(body, &vb); err != nil || len(vb.Detail) == 0 {
		return fallback, nil
	}

	var asString string
	if err := json.Unmarshal(vb.Detail, &asString); err == nil && asString != "" {
		return asString, nil
	}

	var issues []validationIssue
	if err := json.Unmarshal(vb.Detail, &issues); err != nil || len(issues) == 0 {
		return fallback, nil
	}

	details := make([]FieldIssue, 0, len(issues))
	msgs := make([]string, 0, len(issues))
	for _, iss := range issues {
		field := ""
		// loc is typically ["body", "<field>", ...]; take the last segment.
		if n := len(iss.Loc); n > 0 {
			if s, ok := iss.Loc[n-1].(string); ok {
				field = s
			}
		}
		details = append(details, FieldIssue{Field: field, Message: iss.Msg})
		if field != "" {
			msgs = append(msgs, field+": "+iss.Msg)
		} else {
			msgs = append(msgs, iss.Msg)
		}
	}
	return strings.Join(msgs, "; "), details
}

// serverMessage pulls a message out of an arbitrary error body, trying the
// common "message", "error", and "detail" keys in order.
func serverMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var m struct {
		Message string          `json:"message"`
		Error   string          `json:"error"`
		Detail  json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &m); err != nil {
		return ""
	}
	if m.Message != "" {
		return m.Message
	}
	if m.Error != "" {
		return m.Error
	}
	var detail string
	if err := json.Unmarshal(m.Detail, &detail); err == nil {
		return detail
	}
	return ""
}

// WorkOrderHandler classifies failures from the work-order endpoints,
// overriding the resource-specific messages.
func WorkOrderHandler() Handler {
	return NewHandler(Options{
		Messages: map[int]string{
			403: "You do not have permission to modify this work order.",
			404: "Work order not found. It may have been deleted.",
			409: "This work order was modified by someone else. Please reload and try again.",
		},
	})
}

// AuthHandler classifies failures from the authentication endpoints. A 401
// here means bad credentials rather than an expired session, and auth
// failures are handled via forced logout rather than surfaced as retryable.
func AuthHandler() Handler {
	return NewHandler(Options{
		Messages: map[int]string{
			401: "Invalid email or password.",
			403: "This account has been disabled. Contact your administrator.",
			429: "Too many sign-in attempts. Please wait a moment and try again.",
		},
	})
}
