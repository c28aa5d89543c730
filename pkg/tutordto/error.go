package tutordto

// Rejection codes carried by "rejected" and "error" frames.
const (
	CodeIllegalMove         = "illegal_move"
	CodeWrongLessonMove     = "wrong_lesson_move"
	CodeLessonComplete      = "lesson_complete"
	CodeNothingToUndo       = "nothing_to_undo"
	CodeEngineUnavailable   = "engine_unavailable"
	CodeImportFormatInvalid = "import_format_invalid"
	CodeLessonOutOfRange    = "lesson_out_of_range"
	CodeBadCommand          = "bad_command"
	CodeInternal            = "internal"
)

type Rejection struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (e Rejection) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "chess tutor error"
}
