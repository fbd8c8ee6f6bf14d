package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Identity errors
// 12000-12999: Problem errors
// 13000-13999: Judge errors
// 14000-14999: Match room errors
// 15000-15999: Rating errors

const (
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Messaging and storage (10400-10499)
	MQError      ErrorCode = 10400
	StorageError ErrorCode = 10410

	// Identity (11000-11099)
	UserNotFound ErrorCode = 11001
	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// Problem (12000-12199)
	ProblemNotFound  ErrorCode = 12000
	TestCaseNotFound ErrorCode = 12100
	TestCaseInvalid  ErrorCode = 12102

	// Submission (13000-13099)
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003
	SubmitTooFrequently  ErrorCode = 13004

	// Judge (13100-13199)
	JudgeSystemError       ErrorCode = 13101
	CompilationError       ErrorCode = 13102
	RuntimeError           ErrorCode = 13103
	TimeLimitExceeded      ErrorCode = 13104
	RemoteJudgeUnavailable ErrorCode = 13110
	SandboxFailed          ErrorCode = 13111

	// Room lifecycle (14000-14099)
	RoomNotFound          ErrorCode = 14000
	RoomExpired           ErrorCode = 14001
	RoomFull              ErrorCode = 14002
	MatchAlreadyStarted   ErrorCode = 14003
	NotRoomHost           ErrorCode = 14004
	NotEnoughParticipants ErrorCode = 14005
	RoomCodeExhausted     ErrorCode = 14006
	MatchNotInProgress    ErrorCode = 14007

	// Participants (14100-14199)
	AlreadyJoined     ErrorCode = 14100
	NotParticipant    ErrorCode = 14101
	AlreadySubmitted  ErrorCode = 14102
	InvalidTransition ErrorCode = 14103

	// Rating (15000-15099)
	RatingUpdateFailed ErrorCode = 15000
	ProfileNotFound    ErrorCode = 15001
	RatingApplied      ErrorCode = 15002
)

// Category groups error codes by how callers should treat them.
type Category int

const (
	CategoryNone Category = iota
	CategoryValidation
	CategoryNotFound
	CategoryConflict
	CategoryInfrastructure
)

var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	CacheError: "Cache operation failed",
	LockFailed: "Failed to acquire lock",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	MQError:      "Message queue operation failed",
	StorageError: "Object storage operation failed",

	UserNotFound: "User not found",
	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	ProblemNotFound:  "Problem not found",
	TestCaseNotFound: "Test case not found",
	TestCaseInvalid:  "Invalid test case format",

	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",
	SubmitTooFrequently:  "Submitting too frequently, please wait",

	JudgeSystemError:       "Judge system error",
	CompilationError:       "Compilation error",
	RuntimeError:           "Runtime error",
	TimeLimitExceeded:      "Time limit exceeded",
	RemoteJudgeUnavailable: "Remote judge unavailable",
	SandboxFailed:          "Local sandbox failed",

	RoomNotFound:          "Invalid or expired room code",
	RoomExpired:           "Room has expired",
	RoomFull:              "Room is full",
	MatchAlreadyStarted:   "Match has already started or completed",
	NotRoomHost:           "Unauthorized: Only host can start the match",
	NotEnoughParticipants: "Not enough participants to start",
	RoomCodeExhausted:     "Could not allocate a room code",
	MatchNotInProgress:    "Match is not in progress",

	AlreadyJoined:     "You are already in this room",
	NotParticipant:    "You are not in this room",
	AlreadySubmitted:  "Code has already been submitted",
	InvalidTransition: "Invalid participant status",

	RatingUpdateFailed: "Rating update failed",
	ProfileNotFound:    "User profile not found",
	RatingApplied:      "Ratings already applied for this match",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// Category maps a code onto the validation/not-found/conflict/infrastructure taxonomy.
func (c ErrorCode) Category() Category {
	switch {
	case c == Success:
		return CategoryNone
	case c == InvalidParams, c >= 10300 && c < 10400, c == LanguageNotSupported, c == CodeTooLarge,
		c == TestCaseInvalid, c == InvalidTransition:
		return CategoryValidation
	case c == NotFound, c == RecordNotFound, c == UserNotFound, c == ProblemNotFound,
		c == TestCaseNotFound, c == RoomNotFound, c == NotParticipant, c == ProfileNotFound:
		return CategoryNotFound
	case c >= 14000 && c < 15000, c == RecordAlreadyExists, c == SubmitTooFrequently,
		c == RatingApplied:
		return CategoryConflict
	default:
		return CategoryInfrastructure
	}
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden, c == NotRoomHost:
		return 403
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable, c == RemoteJudgeUnavailable:
		return 503
	case c == RoomCodeExhausted:
		return 500
	}
	switch c.Category() {
	case CategoryValidation:
		return 400
	case CategoryNotFound:
		return 404
	case CategoryConflict:
		return 409
	default:
		return 500
	}
}
