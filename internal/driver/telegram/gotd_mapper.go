package telegram

import (
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"rollcall/pkg/rollcall"
)

// MetadataTopicID carries the forum topic a message was posted in.
const MetadataTopicID = "telegram_topic_id"

// gotdEnvelope is one new message plus the entities delivered alongside it.
type gotdEnvelope struct {
	message    *tg.Message
	occurredAt time.Time
	usersByID  map[int64]*tg.User
	chatsByID  map[int64]gotdChatInfo
}

type gotdChatInfo struct {
	title     string
	kind      rollcall.ConversationType
	inputPeer tg.InputPeerClass
}

// mapEnvelope projects a gotd message into an Update. Service messages and
// messages without text are skipped.
func mapEnvelope(envelope gotdEnvelope, peers *PeerCache) (Update, bool) {
	message := envelope.message
	if message == nil || strings.TrimSpace(message.Message) == "" {
		return Update{}, false
	}

	chat := resolveChat(message.PeerID, envelope)
	actor := ActorRef{}
	if from, ok := message.GetFromID(); ok {
		actor = resolveActor(from, envelope)
	} else if _, private := message.PeerID.(*tg.PeerUser); private {
		actor = resolveActor(message.PeerID, envelope)
	}

	payload := &MessagePayload{
		ID:   strconv.Itoa(message.ID),
		Text: message.Message,
	}
	var metadata map[string]string
	if replyTo, ok := message.GetReplyTo(); ok {
		if header, ok := replyTo.(*tg.MessageReplyHeader); ok {
			if replyID, ok := header.GetReplyToMsgID(); ok {
				payload.ReplyToID = strconv.Itoa(replyID)
			}
			// Only forum topics are threads; plain reply chains stay unthreaded.
			if header.ForumTopic {
				payload.ThreadID = payload.ReplyToID
				if topID, ok := header.GetReplyToTopID(); ok {
					payload.ThreadID = strconv.Itoa(topID)
				}
				metadata = map[string]string{MetadataTopicID: payload.ThreadID}
			}
		}
	}

	occurredAt := unixUTC(message.Date)
	if occurredAt.IsZero() {
		occurredAt = envelope.occurredAt
	}
	peers.RememberConversation(chat, inputPeerFor(message.PeerID, envelope))

	return Update{
		ID:         "tg:" + chat.ID + ":" + payload.ID,
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      actor,
		Message:    payload,
		Metadata:   metadata,
	}, true
}

func indexUsers(users []tg.UserClass) map[int64]*tg.User {
	if len(users) == 0 {
		return nil
	}

	out := make(map[int64]*tg.User, len(users))
	for _, user := range users {
		if full, ok := user.(*tg.User); ok && full != nil {
			out[full.ID] = full
		}
	}

	return out
}

func indexChats(chats []tg.ChatClass) map[int64]gotdChatInfo {
	if len(chats) == 0 {
		return nil
	}

	out := make(map[int64]gotdChatInfo, len(chats))
	for _, chat := range chats {
		switch typed := chat.(type) {
		case *tg.Chat:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      rollcall.ConversationTypeGroup,
				inputPeer: &tg.InputPeerChat{ChatID: typed.ID},
			}
		case *tg.Channel:
			kind := rollcall.ConversationTypeChannel
			if typed.Megagroup {
				kind = rollcall.ConversationTypeGroup
			}
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      kind,
				inputPeer: &tg.InputPeerChannel{ChannelID: typed.ID, AccessHash: typed.AccessHash},
			}
		}
	}

	return out
}

func resolveChat(peer tg.PeerClass, envelope gotdEnvelope) ChatRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		actor := resolveActor(typed, envelope)
		return ChatRef{ID: actor.ID, Type: rollcall.ConversationTypePrivate, Title: actor.DisplayName}
	case *tg.PeerChat:
		return chatRef(typed.ChatID, rollcall.ConversationTypeGroup, envelope)
	case *tg.PeerChannel:
		return chatRef(typed.ChannelID, rollcall.ConversationTypeChannel, envelope)
	default:
		return ChatRef{}
	}
}

func chatRef(id int64, fallback rollcall.ConversationType, envelope gotdEnvelope) ChatRef {
	ref := ChatRef{ID: strconv.FormatInt(id, 10), Type: fallback}
	if info, ok := envelope.chatsByID[id]; ok {
		ref.Title = info.title
		ref.Type = info.kind
	}

	return ref
}

func resolveActor(peer tg.PeerClass, envelope gotdEnvelope) ActorRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		id := strconv.FormatInt(typed.UserID, 10)
		user, ok := envelope.usersByID[typed.UserID]
		if !ok {
			return ActorRef{ID: id}
		}
		displayName := strings.TrimSpace(user.FirstName + " " + user.LastName)
		if displayName == "" {
			displayName = user.Username
		}
		return ActorRef{ID: id, Username: user.Username, DisplayName: displayName, IsBot: user.Bot}
	case *tg.PeerChannel:
		ref := chatRef(typed.ChannelID, rollcall.ConversationTypeChannel, envelope)
		return ActorRef{ID: ref.ID, DisplayName: ref.Title}
	case *tg.PeerChat:
		ref := chatRef(typed.ChatID, rollcall.ConversationTypeGroup, envelope)
		return ActorRef{ID: ref.ID, DisplayName: ref.Title}
	default:
		return ActorRef{}
	}
}

func inputPeerFor(peer tg.PeerClass, envelope gotdEnvelope) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		user, ok := envelope.usersByID[typed.UserID]
		if !ok {
			return nil
		}
		return &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: typed.ChatID}
	case *tg.PeerChannel:
		info, ok := envelope.chatsByID[typed.ChannelID]
		if !ok {
			return nil
		}
		return info.inputPeer
	default:
		return nil
	}
}
