package response

import (
	"errors"
	"net/http"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrProctorAccessOnly ErrCode = "PROCTOR_ACCESS_ONLY"
	ErrSessionNotOwned   ErrCode = "SESSION_NOT_OWNED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Exam session ──────────────────────────────────────────────────
	ErrCourseNotFound  ErrCode = "COURSE_NOT_FOUND"
	ErrNoQuestions     ErrCode = "NO_QUESTIONS"
	ErrSessionNotFound ErrCode = "SESSION_NOT_FOUND"
	ErrSessionExpired  ErrCode = "SESSION_EXPIRED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"
	ErrInternal          ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrProctorAccessOnly:
		return "Sumber daya ini terbatas untuk pengawas."
	case ErrSessionNotOwned:
		return "Sesi ujian ini milik siswa lain."

	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	case ErrCourseNotFound:
		return "Mata pelajaran tidak ditemukan."
	case ErrNoQuestions:
		return "Ujian ini tidak memiliki pertanyaan."
	case ErrSessionNotFound:
		return "Sesi ujian tidak ditemukan."
	case ErrSessionExpired:
		return "Waktu ujian telah habis."

	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}

// FromError maps a service error onto an HTTP status and code.
func FromError(err error) (int, ErrCode) {
	switch {
	case errors.Is(err, model.ErrCourseNotFound):
		return http.StatusNotFound, ErrCourseNotFound
	case errors.Is(err, model.ErrNoQuestions):
		return http.StatusUnprocessableEntity, ErrNoQuestions
	case errors.Is(err, model.ErrSessionNotFound):
		return http.StatusNotFound, ErrSessionNotFound
	case errors.Is(err, model.ErrSessionNotOwned):
		return http.StatusForbidden, ErrSessionNotOwned
	case errors.Is(err, model.ErrSessionExpired):
		return http.StatusGone, ErrSessionExpired
	case errors.Is(err, model.ErrInvalidPayload):
		return http.StatusBadRequest, ErrInvalidPayload
	default:
		return http.StatusInternalServerError, ErrInternal
	}
}

// ToError is the inverse of FromError, used by clients decoding an envelope.
// Codes without a domain sentinel return nil.
func ToError(code ErrCode) error {
	switch code {
	case ErrCourseNotFound:
		return model.ErrCourseNotFound
	case ErrNoQuestions:
		return model.ErrNoQuestions
	case ErrSessionNotFound:
		return model.ErrSessionNotFound
	case ErrSessionNotOwned:
		return model.ErrSessionNotOwned
	case ErrSessionExpired:
		return model.ErrSessionExpired
	case ErrInvalidPayload, ErrValidation, ErrInvalidID:
		return model.ErrInvalidPayload
	default:
		return nil
	}
}
