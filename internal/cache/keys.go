package cache

import (
	"strconv"
	"time"
)

// TTLs por familia de claves: agregados que cambian más rápido viven menos.
const (
	TTLDirectTargets     = 300 * time.Second
	TTLConversationList  = 120 * time.Second
	TTLMessagePage       = 60 * time.Second
	TTLNotificationList  = 60 * time.Second
	TTLUnreadCount       = 30 * time.Second
	TTLNotificationCount = 30 * time.Second
)

func MessagePagePrefix(conversationID string) string {
	return "msgs:" + conversationID + ":"
}

func MessagePageKey(conversationID string, limit int) string {
	return MessagePagePrefix(conversationID) + strconv.Itoa(limit)
}

func ConversationListKey(userID string) string {
	return "conv:list:" + userID
}

func UnreadCountKey(userID, conversationID string) string {
	return "conv:unread:" + userID + ":" + conversationID
}

func DirectTargetsKey(companyID, userID string) string {
	return "dm:targets:" + companyID + ":" + userID
}

func DirectTargetsPrefix(companyID string) string {
	return "dm:targets:" + companyID + ":"
}

func NotificationListPrefix(companyID, userID string) string {
	return "notif:list:" + companyID + ":" + userID + ":"
}

func NotificationListKey(companyID, userID string, limit, offset int, unreadOnly bool) string {
	return NotificationListPrefix(companyID, userID) +
		strconv.Itoa(limit) + ":" + strconv.Itoa(offset) + ":" + strconv.FormatBool(unreadOnly)
}

func NotificationUnreadKey(companyID, userID string) string {
	return "notif:unread:" + companyID + ":" + userID
}
