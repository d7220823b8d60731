package message

import (
	"errors"
	"strings"

	"chat-timeline/internal/constants"
	"chat-timeline/internal/platform/middleware"
)

// ValidateSendMessageRequest 驗證發送訊息請求.
func ValidateSendMessageRequest(req *SendMessageRequest) error {
	if err := middleware.ValidateChannelID(req.ChannelID); err != nil {
		return err
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		return err
	}
	if req.ClientID != "" && !strings.HasPrefix(req.ClientID, constants.ClientIDPrefix) {
		return errors.New("clientId 必須以 " + constants.ClientIDPrefix + " 開頭")
	}
	if len(req.ClientID) > constants.MaxUserIDLength {
		return errors.New("clientId 過長")
	}
	return nil
}

// ValidateUpdateMessageRequest 驗證更新訊息請求.
func ValidateUpdateMessageRequest(req *UpdateMessageRequest) error {
	if strings.TrimSpace(req.ID) == "" {
		return errors.New("訊息 ID 不能為空")
	}
	return middleware.ValidateMessageContent(req.Content)
}

// ValidateListMessagesRequest 驗證訊息列表請求.
func ValidateListMessagesRequest(req *ListMessagesRequest) error {
	if err := middleware.ValidateChannelID(req.ChannelID); err != nil {
		return err
	}
	if req.Limit < 0 {
		return errors.New("limit 不能為負數")
	}
	return nil
}
