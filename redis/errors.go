package redis

import (
	"strings"

	"github.com/joomcode/errorx"
)

var (
	// Errors is a root namespace of all redispool errors.
	Errors = errorx.NewNamespace("redispool")

	// ErrTraitConnectivity marks errors caused by an unavailable or broken connection.
	ErrTraitConnectivity = errorx.RegisterTrait("network")
	// ErrTraitNotSent signals the request was certainly not written to the network.
	ErrTraitNotSent = errorx.RegisterTrait("request_not_sent")

	// ErrOpts - options are wrong
	ErrOpts = Errors.NewSubNamespace("opts")
	// ErrContextIsNil - context is not passed to constructor
	ErrContextIsNil = ErrOpts.NewType("context_is_nil")
	// ErrNoAddressProvided - no address is given to constructor
	ErrNoAddressProvided = ErrOpts.NewType("no_address")

	// ErrContextClosed - context were explicitly closed (or connection / pool were shut down)
	ErrContextClosed = Errors.NewType("connection_context_closed", ErrTraitConnectivity, ErrTraitNotSent)

	// ErrIO - io error: read/write error, or timeout, or connection closed while reading/writing.
	// It is not known if request were processed or not.
	ErrIO = Errors.NewType("io_error", ErrTraitConnectivity)

	// ErrUsage - caller's mistake, request is not sent.
	ErrUsage = Errors.NewSubNamespace("usage", ErrTraitNotSent)
	// ErrArgumentType - argument is not serializable
	ErrArgumentType = ErrUsage.NewType("argument_type")
	// ErrBatchFormat - some other command in batch is malformed
	ErrBatchFormat = ErrUsage.NewType("batch_format")
	// ErrTextEncoding - text argument passed to connection configured for raw bytes
	ErrTextEncoding = ErrUsage.NewType("text_encoding")
	// ErrTxState - command is not allowed in current transaction phase
	ErrTxState = ErrUsage.NewType("transaction_state")
	// ErrCommandForbidden - command is not allowed for this kind of connection
	ErrCommandForbidden = ErrUsage.NewType("command_forbidden")
	// ErrRequestCancelled - request already cancelled
	ErrRequestCancelled = ErrUsage.NewType("request_cancelled")

	// ErrResponse - response malformed. Redis returns unexpected response.
	ErrResponse = Errors.NewSubNamespace("response")
	// ErrResponseFormat - response is not valid Redis response
	ErrResponseFormat = ErrResponse.NewType("format")
	// ErrResponseUnexpected - response is valid redis response, but its structure/type unexpected
	ErrResponseUnexpected = ErrResponse.NewType("unexpected")
	// ErrHeaderlineEmpty - header line is empty
	ErrHeaderlineEmpty = ErrResponse.NewType("headerline_empty")
	// ErrIntegerParsing - integer malformed
	ErrIntegerParsing = ErrResponse.NewType("integer_parsing")
	// ErrNoFinalRN - no final "\r\n"
	ErrNoFinalRN = ErrResponse.NewType("no_final_rn")
	// ErrUnknownHeaderType - unknown header type
	ErrUnknownHeaderType = ErrResponse.NewType("unknown_headerline_type")
	// ErrPing - ping receives wrong response
	ErrPing = ErrResponse.NewType("ping")

	// ErrResult - just regular redis response.
	ErrResult = Errors.NewType("result").ApplyModifiers(errorx.TypeModifierOmitStackTrace)
	// ErrNoScript - EVALSHA got NOSCRIPT
	ErrNoScript = ErrResult.NewSubtype("no_script")
	// ErrNotBusy - SCRIPT KILL got NOTBUSY: no script is running
	ErrNotBusy = ErrResult.NewSubtype("not_busy")
	// ErrLoading - redis didn't finish start
	ErrLoading = ErrResult.NewSubtype("loading", errorx.Temporary())
	// ErrExecAbort - EXEC returns EXECABORT
	ErrExecAbort = ErrResult.NewSubtype("exec_abort")
	// ErrWatchAborted - EXEC returns nil: watched key were modified
	ErrWatchAborted = ErrResult.NewSubtype("watch_aborted")

	// ErrTimeout - blocking command reached its server-side timeout
	ErrTimeout = Errors.NewType("timeout", errorx.Timeout())
)

var (
	// EKLine - set by response parser for unrecognized header lines.
	EKLine = errorx.RegisterProperty("line")
	// EKMessage - set by response parser for server error.
	EKMessage = errorx.RegisterProperty("message")
	// EKArgPos - set by request writer if argument has unsupported type.
	EKArgPos = errorx.RegisterProperty("argpos")
	// EKVal - set by request writer if argument has unsupported type.
	EKVal = errorx.RegisterProperty("val")
	// EKResponse - unexpected response
	EKResponse = errorx.RegisterProperty("response")
	// EKRequest - request that triggered error.
	EKRequest = errorx.RegisterPrintableProperty("request")
	// EKRequests - batch requests that triggered error.
	EKRequests = errorx.RegisterPrintableProperty("requests")
	// EKAddress - address of redis that has a problems
	EKAddress = errorx.RegisterPrintableProperty("address")
)

// ResultError converts server error line into *errorx.Error of proper kind.
func ResultError(txt string) *errorx.Error {
	var kind *errorx.Type
	switch {
	case strings.HasPrefix(txt, "NOSCRIPT"):
		kind = ErrNoScript
	case strings.HasPrefix(txt, "NOTBUSY"):
		kind = ErrNotBusy
	case strings.HasPrefix(txt, "LOADING"):
		kind = ErrLoading
	case strings.HasPrefix(txt, "EXECABORT"):
		kind = ErrExecAbort
	default:
		kind = ErrResult
	}
	return kind.New(txt)
}
