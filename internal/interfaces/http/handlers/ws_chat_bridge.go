package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/turnengine/turnengine/internal/application/usecase"
	"github.com/turnengine/turnengine/internal/domain/entity"
	"github.com/turnengine/turnengine/internal/domain/valueobject"
	"github.com/turnengine/turnengine/internal/interfaces/websocket"
	"go.uber.org/zap"
)

// WSChatBridge drives ProcessMessageUseCase from chat messages arriving over
// a websocket.Hub connection, the same flow MessageHandler.SendMessage uses
// for the plain HTTP endpoint, so /ws and POST /api/v1/messages share one
// conversational backend.
type WSChatBridge struct {
	uc     *usecase.ProcessMessageUseCase
	logger *zap.Logger
}

// NewWSChatBridge wires uc as the message handler for hub.
func NewWSChatBridge(hub *websocket.Hub, uc *usecase.ProcessMessageUseCase, logger *zap.Logger) *WSChatBridge {
	b := &WSChatBridge{uc: uc, logger: logger}
	hub.SetMessageHandler(b.handle)
	return b
}

func (b *WSChatBridge) handle(client *websocket.Client, msg *websocket.WSMessage) {
	if msg.Type != websocket.MessageTypeChat {
		return
	}

	conversationID := msg.SessionID
	if conversationID == "" {
		conversationID = client.GetSessionID()
	}

	user := valueobject.NewUser(client.GetUserID(), client.GetUserID(), "user")
	content := valueobject.NewMessageContent(msg.Content, valueobject.ContentTypeText)
	message, err := entity.NewMessage(fmt.Sprintf("ws_%d", time.Now().UnixNano()), conversationID, content, user)
	if err != nil {
		client.SendMessage(&websocket.WSMessage{Type: websocket.MessageTypeError, Content: err.Error(), SessionID: conversationID})
		return
	}

	resp, err := b.uc.Execute(context.Background(), message)
	if err != nil {
		b.logger.Error("WS chat execute failed", zap.Error(err))
		client.SendMessage(&websocket.WSMessage{Type: websocket.MessageTypeError, Content: err.Error(), SessionID: conversationID})
		return
	}

	client.SendMessage(&websocket.WSMessage{
		Type:      websocket.MessageTypeStream,
		ID:        resp.ID(),
		Content:   resp.Content().Text(),
		SessionID: conversationID,
	})
}
