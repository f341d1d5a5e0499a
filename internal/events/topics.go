package events

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TopicKind is the audience a topic addresses.
type TopicKind string

const (
	TopicShop TopicKind = "shop"
	TopicUser TopicKind = "user"
)

// ShopTopic is the topic staff of shopID listen on.
func ShopTopic(shopID uuid.UUID) string {
	return string(TopicShop) + ":" + shopID.String()
}

// UserTopic is the topic a student listens on for their own orders.
func UserTopic(userID uuid.UUID) string {
	return string(TopicUser) + ":" + userID.String()
}

// ParseTopic splits a "kind:uuid" topic.
func ParseTopic(topic string) (TopicKind, uuid.UUID, error) {
	kind, rawID, ok := strings.Cut(topic, ":")
	if !ok {
		return "", uuid.Nil, fmt.Errorf("invalid topic %q", topic)
	}
	switch TopicKind(kind) {
	case TopicShop, TopicUser:
	default:
		return "", uuid.Nil, fmt.Errorf("unknown topic kind %q", kind)
	}
	id, err := uuid.Parse(rawID)
	if err != nil || id == uuid.Nil {
		return "", uuid.Nil, fmt.Errorf("invalid topic id %q", rawID)
	}
	return TopicKind(kind), id, nil
}
