package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/chewtoys/kentcdodds.com/internal/metrics"
	"github.com/chewtoys/kentcdodds.com/internal/middleware"
	"github.com/chewtoys/kentcdodds.com/internal/model"
)

// MagicLinkSenderInterface はマジックリンクメールの送信インターフェース。
type MagicLinkSenderInterface interface {
	SendMagicLink(to, magicLink string) error
}

// LoginHandler はマジックリンク発行のHTTPハンドラー。
type LoginHandler struct {
	links   LinkGeneratorInterface
	mailer  MagicLinkSenderInterface
	metrics metrics.MetricsCollector
}

// NewLoginHandler はLoginHandlerを生成する。
func NewLoginHandler(links LinkGeneratorInterface, mailer MagicLinkSenderInterface, collector metrics.MetricsCollector) *LoginHandler {
	return &LoginHandler{
		links:   links,
		mailer:  mailer,
		metrics: collector,
	}
}

// loginResponse はマジックリンク発行のレスポンス。
// メールアドレスの登録有無は漏らさず、常に同じ応答を返す。
type loginResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HandleLogin はマジックリンクを発行しメールで送信する。
// POST /login
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "フォームの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいフォーム形式でリクエストしてください。",
		})
		return
	}

	email := strings.TrimSpace(r.PostForm.Get("email"))
	if email == "" || !strings.Contains(email, "@") {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("email", "有効なメールアドレスを入力してください"))
		return
	}

	link, err := h.links.GenerateLink(email)
	if err != nil {
		slog.Error("failed to generate magic link",
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	if err := h.mailer.SendMagicLink(email, link); err != nil {
		apiErr := &model.APIError{}
		if errors.As(err, &apiErr) {
			middleware.WriteErrorResponse(w, http.StatusInternalServerError, apiErr)
			return
		}
		middleware.WriteInternalServerError(w)
		return
	}

	h.metrics.RecordMagicLinkIssued()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loginResponse{
		Status:  "success",
		Message: "サインインリンクをメールで送信しました。受信トレイを確認してください。",
	})
}
