package message

import (
	"errors"
	"net/http"
	"time"

	"chat-timeline/internal/httputil"
	"chat-timeline/internal/platform/middleware"
	store "chat-timeline/internal/storage/database/message"
	"chat-timeline/internal/timeline"

	"github.com/gin-gonic/gin"
)

// MessageHandler message 處理器.
type MessageHandler struct {
	service    *Service
	normalizer *timeline.Normalizer
	grouper    timeline.Grouper
}

// NewMessageHandler 創建新的 message 處理器.
func NewMessageHandler(service *Service, normalizer *timeline.Normalizer, grouper timeline.Grouper) *MessageHandler {
	if normalizer == nil {
		normalizer = timeline.NewNormalizer()
	}
	return &MessageHandler{service: service, normalizer: normalizer, grouper: grouper}
}

// ListChannelMessages 列出頻道訊息.
func (h *MessageHandler) ListChannelMessages(c *gin.Context) {
	h.list(c, c.Param("channel_id"))
}

// SendChannelMessage 發送頻道訊息.
func (h *MessageHandler) SendChannelMessage(c *gin.Context) {
	h.send(c, c.Param("channel_id"))
}

// ListDirectMessages 列出與指定用戶的私訊.
func (h *MessageHandler) ListDirectMessages(c *gin.Context) {
	channelID, ok := h.directChannel(c)
	if !ok {
		return
	}
	h.list(c, channelID)
}

// SendDirectMessage 發送私訊.
func (h *MessageHandler) SendDirectMessage(c *gin.Context) {
	channelID, ok := h.directChannel(c)
	if !ok {
		return
	}
	h.send(c, channelID)
}

// UpdateMessage 修改訊息內容.
func (h *MessageHandler) UpdateMessage(c *gin.Context) {
	var req UpdateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}
	req.ID = c.Param("id")

	rec, err := h.service.Update(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse(httputil.DataUpdated, rec))
}

// DeleteMessage 刪除訊息.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	rec, err := h.service.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse(httputil.DataDeleted, DeletedEvent(rec)))
}

// Timeline 回傳頻道已合併並分組的時間軸.
func (h *MessageHandler) Timeline(c *gin.Context) {
	channelID := c.Param("channel_id")
	groups, err := h.service.Timeline(c.Request.Context(), channelID, h.normalizer, h.grouper)
	if err != nil {
		respondError(c, err)
		return
	}

	views := make([]groupView, 0, len(groups))
	for _, g := range groups {
		views = append(views, newGroupView(g))
	}
	resp := httputil.NewSuccessResponse(httputil.DataRetrieved, views)
	resp.Count = len(views)
	c.JSON(http.StatusOK, resp)
}

func (h *MessageHandler) list(c *gin.Context, channelID string) {
	var req ListMessagesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httputil.ValidationError(c, "since", "必須是 RFC3339 時間")
		return
	}
	req.ChannelID = channelID

	recs, err := h.service.List(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := httputil.NewSuccessResponse(httputil.DataRetrieved, recs)
	resp.Count = len(recs)
	c.JSON(http.StatusOK, resp)
}

func (h *MessageHandler) send(c *gin.Context, channelID string) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}
	req.ChannelID = channelID

	rec, err := h.service.Send(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httputil.NewSuccessResponse(httputil.DataCreated, rec))
}

func (h *MessageHandler) directChannel(c *gin.Context) (string, bool) {
	me := middleware.UserFromContext(c.Request.Context())
	if me == nil {
		httputil.Unauthorized(c, "")
		return "", false
	}
	other := c.Param("user_id")
	if err := middleware.ValidateUserID(other); err != nil {
		httputil.ValidationError(c, "user_id", err.Error())
		return "", false
	}
	return timeline.DirectChannelID(me.ID, other), true
}

// respondError 依錯誤類型回應，不洩露內部錯誤
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		httputil.BadRequest(c, err.Error())
	case errors.Is(err, ErrUnauthenticated):
		httputil.Unauthorized(c, "")
	case errors.Is(err, ErrForbidden):
		httputil.Forbidden(c, "只能修改自己的訊息")
	case errors.Is(err, store.ErrNotFound):
		httputil.NotFoundError(c, httputil.RecordNotFound)
	default:
		httputil.InternalServerError(c, err)
	}
}

type messageView struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	ClientID  string    `json:"clientId,omitempty"`
}

type groupView struct {
	Kind        string        `json:"kind"`
	Day         string        `json:"day,omitempty"`
	Label       string        `json:"label,omitempty"`
	AuthorID    string        `json:"authorId,omitempty"`
	AuthorName  string        `json:"authorName,omitempty"`
	AuthorImage string        `json:"authorImage,omitempty"`
	Messages    []messageView `json:"messages,omitempty"`
}

func newGroupView(g timeline.RenderGroup) groupView {
	v := groupView{Kind: g.Kind.String()}
	if g.Kind == timeline.KindSeparator {
		v.Day = g.Day.Format(time.DateOnly)
		v.Label = g.Label
		return v
	}
	v.AuthorID = g.AuthorID
	v.AuthorName = g.AuthorName
	v.AuthorImage = g.AuthorImage
	v.Messages = make([]messageView, 0, len(g.Messages))
	for _, m := range g.Messages {
		v.Messages = append(v.Messages, messageView{
			ID:        m.ID,
			AuthorID:  m.AuthorID,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
			ClientID:  m.ClientID,
		})
	}
	return v
}
