package rpcserver

import (
	"encoding/json"

	"tabletdb/pkg/dberrors"
)

// Response is the {code, msg} pair spec.md §6 says every remote
// operation returns, plus an optional kind-specific payload, rendered
// the way the teacher's internal/http.Response renders {status,value}.
type Response struct {
	Code dberrors.Code   `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// OK builds a success response, marshaling data (nil allowed) into the
// payload field.
func OK(data interface{}) Response {
	r := Response{Code: dberrors.CodeOK, Msg: "OK"}
	if data == nil {
		return r
	}
	b, err := json.Marshal(data)
	if err != nil {
		return ErrorResponse(err)
	}
	r.Data = b
	return r
}

// ErrorResponse renders err as its dberrors.Code (CodeInvalidParameter
// for anything outside the closed taxonomy) plus its message.
func ErrorResponse(err error) Response {
	return Response{Code: dberrors.AsCode(err), Msg: err.Error()}
}
