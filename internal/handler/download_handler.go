package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/chewtoys/kentcdodds.com/internal/middleware"
	"github.com/chewtoys/kentcdodds.com/internal/model"
)

// PostReadListerInterface は閲覧記録の一覧取得インターフェース。
// repository.PostReadRepositoryの部分集合として定義する。
type PostReadListerInterface interface {
	ListByUserID(ctx context.Context, userID string) ([]*model.PostRead, error)
}

// DownloadHandler はアカウントデータのエクスポートを処理する。
type DownloadHandler struct {
	postReads PostReadListerInterface
}

// NewDownloadHandler はDownloadHandlerを生成する。
func NewDownloadHandler(postReads PostReadListerInterface) *DownloadHandler {
	return &DownloadHandler{postReads: postReads}
}

// downloadResponse はエクスポートされるアカウントデータ一式。
type downloadResponse struct {
	User      meUserResponse     `json:"user"`
	PostReads []postReadResponse `json:"postReads"`
}

// postReadResponse はエクスポートされる閲覧記録1件。
type postReadResponse struct {
	PostSlug  string    `json:"postSlug"`
	CreatedAt time.Time `json:"createdAt"`
}

// HandleDownload は本人のアカウントデータをJSONで返す。
// GET /me/download
func (h *DownloadHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	reads, err := h.postReads.ListByUserID(r.Context(), user.ID)
	if err != nil {
		slog.Error("failed to list post reads",
			slog.String("error", err.Error()),
			slog.String("user_id", user.ID),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	readResponses := make([]postReadResponse, 0, len(reads))
	for _, read := range reads {
		readResponses = append(readResponses, postReadResponse{
			PostSlug:  read.PostSlug,
			CreatedAt: read.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="kcd-account-data.json"`)
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(downloadResponse{
		User: meUserResponse{
			ID:        user.ID,
			Email:     user.Email,
			FirstName: user.FirstName,
			DiscordID: user.DiscordID,
			KitID:     user.KitID,
		},
		PostReads: readResponses,
	})
}
