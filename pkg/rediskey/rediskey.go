package rediskey

import "fmt"

const (
	UserPrefix          = "user"
	ReminderChannelName = "reminders"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildUserReminderChannel returns "user:{userID}:reminders", the pub/sub
// channel the socket layer subscribes to for a connected user.
func BuildUserReminderChannel(userID string) string {
	return NamespaceKey(NamespaceKey(UserPrefix, userID), ReminderChannelName)
}
