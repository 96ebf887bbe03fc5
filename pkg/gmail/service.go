package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	maildomain "scholarmail-backend/internal/mail/domain"
	"scholarmail-backend/pkg/htmltext"

	"github.com/emersion/go-message/mail"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Service implements maildomain.MailProvider against the Gmail API. It is
// stateless: every call builds a client from the access token the token
// lifecycle manager resolved immediately beforehand.
type Service struct {
	log *slog.Logger
}

func NewService() *Service {
	return &Service{log: slog.With("component", "gmail")}
}

var _ maildomain.MailProvider = (*Service)(nil)

func (s *Service) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	srv, err := gmail.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, src)))
	if err != nil {
		return nil, fmt.Errorf("unable to create gmail service: %w", err)
	}
	return srv, nil
}

// CurrentHistoryID fetches the mailbox profile, which carries the current
// history cursor without listing any messages.
func (s *Service) CurrentHistoryID(ctx context.Context, accessToken string) (uint64, error) {
	srv, err := s.service(ctx, accessToken)
	if err != nil {
		return 0, err
	}

	profile, err := srv.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("unable to retrieve profile: %w", err)
	}
	return profile.HistoryId, nil
}

// ListHistory returns every message added strictly after startHistoryID,
// following pagination, along with the newest cursor Gmail reported.
func (s *Service) ListHistory(ctx context.Context, accessToken string, startHistoryID uint64) (*maildomain.HistoryPage, error) {
	srv, err := s.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	page := &maildomain.HistoryPage{LatestHistoryID: startHistoryID}
	seen := make(map[string]bool)
	pageToken := ""

	for {
		call := srv.Users.History.List("me").
			StartHistoryId(startHistoryID).
			HistoryTypes("messageAdded").
			LabelId("INBOX").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve history: %w", err)
		}

		if resp.HistoryId > page.LatestHistoryID {
			page.LatestHistoryID = resp.HistoryId
		}
		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil || seen[added.Message.Id] {
					continue
				}
				seen[added.Message.Id] = true
				page.AddedMessageIDs = append(page.AddedMessageIDs, added.Message.Id)
			}
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return page, nil
}

// GetMessage fetches the full message and normalizes it: plain-text body
// preferred, HTML stripped to text as the fallback.
func (s *Service) GetMessage(ctx context.Context, accessToken, messageID string) (*maildomain.NormalizedMessage, error) {
	srv, err := s.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	msg, err := srv.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve message %s: %w", messageID, err)
	}

	body := extractBody(msg.Payload)

	var to []string
	if header := getHeader(msg.Payload.Headers, "To"); header != "" {
		for _, addr := range strings.Split(header, ",") {
			to = append(to, strings.TrimSpace(addr))
		}
	}

	return &maildomain.NormalizedMessage{
		ProviderMessageID: msg.Id,
		ThreadID:          msg.ThreadId,
		RFCMessageID:      strings.Trim(getHeader(msg.Payload.Headers, "Message-Id"), "<>"),
		From:              getHeader(msg.Payload.Headers, "From"),
		To:                to,
		Subject:           getHeader(msg.Payload.Headers, "Subject"),
		Body:              body,
		Snippet:           msg.Snippet,
		ReceivedAt:        time.Unix(msg.InternalDate/1000, 0),
	}, nil
}

// SendReply builds an RFC822 reply threaded onto the original message and
// sends it through the mailbox.
func (s *Service) SendReply(ctx context.Context, accessToken, fromAddress string, original *maildomain.NormalizedMessage, text string) error {
	srv, err := s.service(ctx, accessToken)
	if err != nil {
		return err
	}

	raw, err := buildReply(fromAddress, original, text)
	if err != nil {
		return fmt.Errorf("unable to build reply: %w", err)
	}

	msg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: original.ThreadID,
	}
	if _, err := srv.Users.Messages.Send("me", msg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("unable to send reply: %w", err)
	}

	s.log.Info("reply sent", "message_id", original.ProviderMessageID, "thread_id", original.ThreadID)
	return nil
}

// Watch re-registers push notifications for the mailbox inbox. Gmail
// expires watches after seven days, so this runs on a renewal schedule.
func (s *Service) Watch(ctx context.Context, accessToken, topicName string) error {
	srv, err := s.service(ctx, accessToken)
	if err != nil {
		return err
	}

	// Clear any existing watch first; Gmail allows only one client.
	_ = srv.Users.Stop("me").Context(ctx).Do()

	req := &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}
	resp, err := srv.Users.Watch("me", req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to watch mailbox: %w", err)
	}

	s.log.Info("mailbox watch registered", "topic", topicName,
		"expiration", resp.Expiration, "history_id", resp.HistoryId)
	return nil
}

func buildReply(fromAddress string, original *maildomain.NormalizedMessage, text string) ([]byte, error) {
	subject := original.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: fromAddress}})
	h.SetAddressList("To", []*mail.Address{{Address: replyAddress(original.From)}})
	h.SetSubject(subject)
	if original.RFCMessageID != "" {
		h.SetMsgIDList("In-Reply-To", []string{original.RFCMessageID})
		h.SetMsgIDList("References", []string{original.RFCMessageID})
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	var th mail.InlineHeader
	th.Set("Content-Type", "text/plain; charset=utf-8")
	pw, err := tw.CreatePart(th)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(pw, text); err != nil {
		return nil, err
	}
	pw.Close()
	tw.Close()
	mw.Close()

	return buf.Bytes(), nil
}

// replyAddress pulls the bare address out of a "Name <addr>" From header.
func replyAddress(from string) string {
	if start := strings.Index(from, "<"); start != -1 {
		if end := strings.Index(from[start:], ">"); end != -1 {
			return from[start+1 : start+end]
		}
	}
	return strings.TrimSpace(from)
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

// extractBody walks the MIME tree preferring text/plain; an HTML-only
// message is stripped down to text.
func extractBody(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}

	var plainBody, htmlBody string

	var walk func(part *gmail.MessagePart)
	walk = func(part *gmail.MessagePart) {
		if part.Body != nil && part.Body.Data != "" {
			if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
				switch part.MimeType {
				case "text/plain":
					if plainBody == "" {
						plainBody = string(data)
					}
				case "text/html":
					if htmlBody == "" {
						htmlBody = string(data)
					}
				}
			}
		}
		for _, child := range part.Parts {
			walk(child)
		}
	}
	walk(payload)

	if plainBody != "" {
		return plainBody
	}
	if htmlBody != "" {
		if text, err := htmltext.Strip(htmlBody); err == nil {
			return text
		}
	}
	return ""
}
