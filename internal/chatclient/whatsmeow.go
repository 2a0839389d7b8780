package chatclient

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	. "github.com/relaywave/wagateway/internal/logging"
)

// gatewayLogger bridges whatsmeow's waLog.Logger to our L_* functions.
type gatewayLogger struct {
	module string
}

func (l *gatewayLogger) Debugf(msg string, args ...interface{}) {
	L_debug(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}

func (l *gatewayLogger) Infof(msg string, args ...interface{}) {
	L_info(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}

func (l *gatewayLogger) Warnf(msg string, args ...interface{}) {
	L_warn(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}

func (l *gatewayLogger) Errorf(msg string, args ...interface{}) {
	L_error(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}

func (l *gatewayLogger) Sub(module string) waLog.Logger {
	return &gatewayLogger{module: l.module + "/" + module}
}

// whatsmeowClient implements Client for one agent's device store.
type whatsmeowClient struct {
	agentID string
	authDir string

	db        *sql.DB
	container *sqlstore.Container
	client    *whatsmeow.Client

	events chan Event
}

// NewWhatsmeowClient opens (creating if absent) the per-agent SQLite device
// store under wwebjsAuthDir/session-{agentID}/store.db and returns a Client
// bound to that device. It does not connect; call Initialize to do that.
func NewWhatsmeowClient(wwebjsAuthDir, agentID string) (Client, error) {
	authDir := filepath.Join(wwebjsAuthDir, "session-"+agentID)
	if err := os.MkdirAll(authDir, 0700); err != nil {
		return nil, fmt.Errorf("chatclient: create auth dir: %w", err)
	}

	dbPath := filepath.Join(authDir, "store.db")
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("chatclient: open device store: %w", err)
	}

	storeLog := &gatewayLogger{module: "store." + agentID}
	container := sqlstore.NewWithDB(db, "sqlite3", storeLog)
	if err := container.Upgrade(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("chatclient: upgrade device store: %w", err)
	}

	device, err := container.GetFirstDevice(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("chatclient: get device: %w", err)
	}
	if device == nil {
		device = container.NewDevice()
	}

	clientLog := &gatewayLogger{module: "client." + agentID}
	wac := whatsmeow.NewClient(device, clientLog)

	c := &whatsmeowClient{
		agentID:   agentID,
		authDir:   authDir,
		db:        db,
		container: container,
		client:    wac,
		events:    make(chan Event, 64),
	}
	c.client.AddEventHandler(c.handleEvent)
	return c, nil
}

func (c *whatsmeowClient) Events() <-chan Event { return c.events }

func (c *whatsmeowClient) SelfJID() string {
	if c.client.Store.ID == nil {
		return ""
	}
	return c.client.Store.ID.User
}

func (c *whatsmeowClient) emit(evt Event) {
	select {
	case c.events <- evt:
	default:
		L_warn("chatclient: event channel full, dropping event", "agentId", c.agentID)
	}
}

// Initialize connects the client. If the device isn't yet paired, the
// first events delivered on Events() will be EventQR payloads until a scan
// completes and EventReady fires.
func (c *whatsmeowClient) Initialize(ctx context.Context) error {
	if c.client.Store.ID == nil {
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("chatclient: get QR channel: %w", err)
		}
		go func() {
			for item := range qrChan {
				switch item.Event {
				case "code":
					c.emit(EventQR{Code: item.Code})
				case "timeout":
					c.emit(EventDisconnected{Reason: "QR code expired"})
				case "success":
					// events.Connected/PairSuccess drive readiness via handleEvent.
				}
			}
		}()
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("chatclient: connect: %w", err)
	}
	return nil
}

func (c *whatsmeowClient) handleEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.QR:
		if len(evt.Codes) > 0 {
			c.emit(EventQR{Code: evt.Codes[0]})
		}
	case *events.PairSuccess:
		L_info("chatclient: pair success", "agentId", c.agentID, "jid", evt.ID)
	case *events.Connected:
		c.emit(EventReady{})
	case *events.LoggedOut:
		if evt.OnConnect {
			c.emit(EventAuthFailure{Reason: fmt.Sprintf("logged out: %v", evt.Reason)})
		} else {
			c.emit(EventDisconnected{Reason: "logged out"})
		}
	case *events.Disconnected:
		c.emit(EventDisconnected{Reason: "disconnected"})
	case *events.Message:
		c.emit(translateMessage(evt))
	}
}

func translateMessage(evt *events.Message) EventMessage {
	info := evt.Info
	msgType := "chat"
	if info.Chat.Server == types.BroadcastServer && info.Chat.User == "status" {
		msgType = "status"
	} else if info.Chat.Server == types.NewsletterServer {
		msgType = "channel"
	}

	var mentioned []string
	if ext := evt.Message.GetExtendedTextMessage(); ext != nil {
		if ctx := ext.GetContextInfo(); ctx != nil {
			mentioned = ctx.GetMentionedJID()
		}
	}

	body := evt.Message.GetConversation()
	if body == "" {
		if ext := evt.Message.GetExtendedTextMessage(); ext != nil {
			body = ext.GetText()
		}
	}

	return EventMessage{
		From:         info.Sender.User,
		ChatID:       info.Chat.String(),
		Body:         body,
		MentionedIDs: mentioned,
		Type:         msgType,
		FromMe:       info.IsFromMe,
		IsStatus:     msgType == "status",
		IsChannel:    msgType == "channel",
		WhatsAppName: info.PushName,
		ChatName:     info.Chat.User,
	}
}

func (c *whatsmeowClient) SendMessage(ctx context.Context, to, body string, quotedID string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("chatclient: parse jid %q: %w", to, err)
	}
	msg := &waE2E.Message{Conversation: proto.String(body)}
	_, err = c.client.SendMessage(ctx, jid, msg)
	return err
}

func (c *whatsmeowClient) SendMedia(ctx context.Context, to string, media PreparedMedia, caption string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("chatclient: parse jid %q: %w", to, err)
	}

	resp, err := c.client.Upload(ctx, media.Data, mimeToMediaType(media.MimeType))
	if err != nil {
		return fmt.Errorf("chatclient: upload media: %w", err)
	}

	msg := buildMediaMessage(media.MimeType, &resp, caption, uint64(len(media.Data)))
	_, err = c.client.SendMessage(ctx, jid, msg)
	return err
}

func (c *whatsmeowClient) SetTyping(ctx context.Context, to string, typing bool) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("chatclient: parse jid %q: %w", to, err)
	}
	state := types.ChatPresencePaused
	if typing {
		state = types.ChatPresenceComposing
	}
	return c.client.SendChatPresence(ctx, jid, state, types.ChatPresenceMediaText)
}

func (c *whatsmeowClient) Destroy(ctx context.Context) error {
	c.client.Disconnect()
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("chatclient: close device store: %w", err)
	}
	close(c.events)
	return nil
}

func mimeToMediaType(mimeType string) whatsmeow.MediaType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return whatsmeow.MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		return whatsmeow.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

func buildMediaMessage(mimeType string, resp *whatsmeow.UploadResponse, caption string, fileLength uint64) *waE2E.Message {
	if strings.HasPrefix(mimeType, "image/") {
		return &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{
				Caption:       proto.String(caption),
				Mimetype:      proto.String(mimeType),
				URL:           &resp.URL,
				DirectPath:    &resp.DirectPath,
				MediaKey:      resp.MediaKey,
				FileEncSHA256: resp.FileEncSHA256,
				FileSHA256:    resp.FileSHA256,
				FileLength:    &fileLength,
			},
		}
	}
	return &waE2E.Message{
		DocumentMessage: &waE2E.DocumentMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimeType),
			URL:           &resp.URL,
			DirectPath:    &resp.DirectPath,
			MediaKey:      resp.MediaKey,
			FileEncSHA256: resp.FileEncSHA256,
			FileSHA256:    resp.FileSHA256,
			FileLength:    &fileLength,
		},
	}
}

// RemoveAuthDir deletes this agent's on-disk device store directory
// recursively. Failures are the caller's to log; per the teardown
// contract they are swallowed, never propagated as a hard error beyond a
// warning.
func RemoveAuthDir(wwebjsAuthDir, agentID string) error {
	return os.RemoveAll(filepath.Join(wwebjsAuthDir, "session-"+agentID))
}
