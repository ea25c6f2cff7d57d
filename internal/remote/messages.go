package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/matheus3301/chatsync/internal/chat"
)

// SendMessage posts a draft as multipart form data. The correlation token
// travels with the message so the push echo can be matched to it.
func (c *Client) SendMessage(ctx context.Context, d chat.Draft) (chat.Message, error) {
	body, contentType, err := encodeDraft(d)
	if err != nil {
		return chat.Message{}, fmt.Errorf("SendMessage: %w", err)
	}
	var p chat.MessagePayload
	err = c.do(ctx, request{op: "SendMessage", method: http.MethodPost, path: "/messages", body: body, contentType: contentType}, &p)
	if err != nil {
		return chat.Message{}, err
	}
	if p.ConversationID == nil {
		p.ConversationID = &d.ConversationID
	}
	if p.CorrelationToken == nil && d.CorrelationToken != "" {
		p.CorrelationToken = &d.CorrelationToken
	}
	return p.ToMessage()
}

// ReactionMessage sets my reaction on a message and returns the updated message.
func (c *Client) ReactionMessage(ctx context.Context, messageID, symbol string) (chat.Message, error) {
	r, err := jsonRequest("ReactionMessage", http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/reactions", struct {
		Symbol string `json:"symbol"`
	}{symbol})
	if err != nil {
		return chat.Message{}, err
	}
	var p chat.MessagePayload
	if err := c.do(ctx, r, &p); err != nil {
		return chat.Message{}, err
	}
	return p.ToMessage()
}

func encodeDraft(d chat.Draft) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := writeDraft(w, d); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func writeDraft(w *multipart.Writer, d chat.Draft) error {
	fields := []struct{ name, value string }{
		{"senderId", d.SenderID},
		{"conversationId", d.ConversationID},
		{"content", d.Content},
		{"fileType", string(d.FileType)},
		{"repliedMessageId", d.RepliedMessageID},
		{"correlationToken", d.CorrelationToken},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := w.WriteField(f.name, f.value); err != nil {
			return err
		}
	}
	for _, f := range d.Files {
		if err := writeFile(w, f.Path); err != nil {
			return err
		}
	}
	return w.Close()
}

func writeFile(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	part, err := w.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}
