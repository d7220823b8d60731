package timeline

import (
	"slices"
	"strings"

	"chat-timeline/internal/constants"
)

// DirectChannelID 私訊頻道 ID：兩個參與者 ID 排序後以 "-" 連接，與發起方無關.
func DirectChannelID(a, b string) string {
	ids := []string{a, b}
	slices.Sort(ids)
	return strings.Join(ids, "-")
}

// RelayChannel 頻道對應的推送頻道名稱.
func RelayChannel(channelID string) string {
	return constants.RelayChannelPrefix + channelID
}

// IsClientID 是否為客戶端產生的暫存 ID.
func IsClientID(id string) bool {
	return strings.HasPrefix(id, constants.ClientIDPrefix)
}
