package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/sellerdesk/internal/model"
	"github.com/hitoshi/sellerdesk/internal/session"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteError はエラーの分類からステータスコードを決定してレスポンスを書き込む。
// *model.APIError以外のエラーは、一時的な失敗なら503、それ以外は内部エラーとして扱う。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, StatusFor(apiErr), apiErr)
		return
	}

	if model.IsSoftFailure(err) {
		slog.Warn("dependency unavailable", slog.String("error", err.Error()))
		WriteErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
			Code:     "SERVICE_UNAVAILABLE",
			Message:  "データストアに接続できませんでした。",
			Category: "system",
			Action:   "しばらく待ってから再度お試しください。",
		})
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	WriteInternalServerError(w)
}

// StatusFor はAPIErrorに対応するHTTPステータスコードを返す。
func StatusFor(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeNotAuthenticated:
		return http.StatusUnauthorized
	}

	switch err := apiErr.Err; {
	case errors.Is(err, model.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrEmailNotConfirmed), errors.Is(err, model.ErrProfileNotFound):
		return http.StatusForbidden
	case errors.Is(err, model.ErrEmailInUse), errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, model.ErrConfirmationRequired):
		return http.StatusAccepted
	case errors.Is(err, model.ErrUnknownShop):
		return http.StatusNotFound
	case errors.Is(err, model.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, model.ErrNetwork):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrProviderError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
