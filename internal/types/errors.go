package types

// API error codes, grouped by the area that raises them.
const (
	CodeAuthBadRequest  = "AUTH_400"
	CodeAuthDisabled    = "AUTH_404"
	CodeAuthLocked      = "AUTH_429"
	CodeAuthInvalid     = "AUTH_401"
	CodeConfigInvalid   = "CONFIG_400"
	CodeConfigApply     = "CONFIG_500"
	CodeTestInvalid     = "TEST_400"
	CodeRowNotFound     = "ROW_404"
	CodeRowUpdate       = "ROW_500"
	CodeLogUnknown      = "LOG_404"
	CodeSnmpInvalid     = "SNMP_400"
	CodeAuditDisabled   = "AUDIT_503"
	CodeAuditBadRequest = "AUDIT_400"
	CodeAuditLoad       = "AUDIT_500"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply except the SNMP SET
// refusals, which keep the {ok:false} shape.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// Detail turns an error into a details value; nil stays nil.
func Detail(err error) any {
	if err == nil {
		return nil
	}
	return err.Error()
}
