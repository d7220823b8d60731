package message

import "time"

// DecryptFailedText 無法解密時顯示的內容.
const DecryptFailedText = "[解密失敗]"

// SendMessageRequest 發送訊息請求；ChannelID 由路由決定.
type SendMessageRequest struct {
	ChannelID string `json:"-"`
	Content   string `json:"content" binding:"required"`
	ClientID  string `json:"clientId,omitempty"`
}

// UpdateMessageRequest 更新訊息請求.
type UpdateMessageRequest struct {
	ID      string `json:"-"`
	Content string `json:"content" binding:"required"`
}

// ListMessagesRequest 訊息列表請求.
type ListMessagesRequest struct {
	ChannelID string    `form:"-"`
	Since     time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit     int       `form:"limit"`
}
