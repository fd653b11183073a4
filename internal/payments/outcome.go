package payments

import "strings"

// Gateway response codes that carry a definite meaning.
const (
	CodePaymentSuccess      = "PAYMENT_SUCCESS"
	CodePaymentPending      = "PAYMENT_PENDING"
	CodePaymentError        = "PAYMENT_ERROR"
	CodePaymentDeclined     = "PAYMENT_DECLINED"
	CodeTimedOut            = "TIMED_OUT"
	CodeTransactionNotFound = "TRANSACTION_NOT_FOUND"
	CodeAuthorizationFailed = "AUTHORIZATION_FAILED"
	CodeInternalServerError = "INTERNAL_SERVER_ERROR"
)

// StatusResponse is the subset of the gateway status body the mapper inspects.
type StatusResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		MerchantID            string `json:"merchantId"`
		MerchantTransactionID string `json:"merchantTransactionId"`
		TransactionID         string `json:"transactionId"`
		Amount                *int64 `json:"amount"`
		State                 string `json:"state"`
		ResponseCode          string `json:"responseCode"`
	} `json:"data"`
}

// MapStatusResponse converts a raw status body into a PaymentOutcome. The gateway signals
// success through either code or success, so both are accepted as proof of payment.
// success=true wins over any code, including PAYMENT_PENDING; keep that precedence.
func MapStatusResponse(resp StatusResponse) PaymentOutcome {
	code := strings.ToUpper(strings.TrimSpace(resp.Code))
	outcome := PaymentOutcome{
		Code:      code,
		Reference: strings.TrimSpace(resp.Data.TransactionID),
	}
	if resp.Data.Amount != nil {
		outcome.Amount = *resp.Data.Amount
		outcome.AmountKnown = true
	}

	switch {
	case code == CodePaymentSuccess || resp.Success:
		outcome.Kind = OutcomePaid
	case code == CodePaymentPending, code == CodeInternalServerError:
		outcome.Kind = OutcomePending
	case code == CodePaymentError, code == CodePaymentDeclined, code == CodeTimedOut,
		code == CodeTransactionNotFound, code == CodeAuthorizationFailed:
		outcome.Kind = OutcomeFailed
	default:
		outcome.Kind = OutcomeUnknown
	}
	return outcome
}

func isFailureCode(code string) bool {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case CodePaymentError, CodePaymentDeclined, CodeTimedOut, CodeTransactionNotFound:
		return true
	}
	return false
}
