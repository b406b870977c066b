// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, account, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidMagicLink = "INVALID_MAGIC_LINK"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeMailSendFailed   = "MAIL_SEND_FAILED"
)

// NewInvalidMagicLinkError はマジックリンク検証失敗エラーを生成する。
// reasonには不正・期限切れ・使用済みなどの内部向け理由を渡す。
func NewInvalidMagicLinkError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMagicLink,
		Message:  fmt.Sprintf("サインインリンクが無効です: %s", reason),
		Category: "auth",
		Action:   "新しいサインインリンクをリクエストしてください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("%s が不正です: %s", field, reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewMailSendFailedError はマジックリンクメール送信失敗エラーを生成する。
func NewMailSendFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeMailSendFailed,
		Message:  "サインインリンクの送信に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// RedirectError は意図的なリダイレクトによる処理の中断を表す。
// エラーではなく制御の移譲であり、受け取った側は変換せずに
// そのままリダイレクトとして応答しなければならない。
type RedirectError struct {
	Location string
	Status   int
}

// Error はerrorインターフェースを実装する。
func (e *RedirectError) Error() string {
	return fmt.Sprintf("redirect to %s", e.Location)
}

// NewRedirectError は指定先へのリダイレクト指示を生成する。
// statusが0の場合は307 Temporary Redirectとして扱われる。
func NewRedirectError(location string, status int) *RedirectError {
	if status == 0 {
		status = 307
	}
	return &RedirectError{Location: location, Status: status}
}
