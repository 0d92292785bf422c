package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/cloudwego/kitex/pkg/klog"
)

type AlarmLevel string

const (
	AlarmLevelWarn  AlarmLevel = "WARN"
	AlarmLevelError AlarmLevel = "ERROR"
)

type AlarmEvent struct {
	Level   AlarmLevel `json:"level"`
	Title   string     `json:"title"`
	Content string     `json:"content"`
}

type AlarmChannelType string

const (
	AlarmChannelDingtalk AlarmChannelType = "DINGTALK"
	AlarmChannelWecom    AlarmChannelType = "WECOM"
	AlarmChannelFeishu   AlarmChannelType = "FEISHU"
	AlarmChannelWebhook  AlarmChannelType = "WEBHOOK"
	AlarmChannelEmail    AlarmChannelType = "EMAIL"
)

type AlarmChannel interface {
	Type() AlarmChannelType
	Send(ctx context.Context, event *AlarmEvent) error
}

// AlarmService 告警扇出。Notify不阻塞调度路径，队列满了直接丢并记日志
type AlarmService struct {
	channels   []AlarmChannel
	eventCh    chan *AlarmEvent
	shutdownCh chan struct{}
}

func NewAlarmService(channels []AlarmChannel) *AlarmService {
	return &AlarmService{
		channels:   channels,
		eventCh:    make(chan *AlarmEvent, 256),
		shutdownCh: make(chan struct{}),
	}
}

func (s *AlarmService) Notify(event *AlarmEvent) {
	select {
	case s.eventCh <- event:
	default:
		klog.Warnf("alarm queue full, dropped alarm:%v", event.Title)
	}
}

func (s *AlarmService) Start() {
	for {
		select {
		case <-s.shutdownCh:
			return
		case event := <-s.eventCh:
			for _, ch := range s.channels {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := ch.Send(ctx, event); err != nil {
					klog.Errorf("failed to send alarm via %v:%v", ch.Type(), err)
				}
				cancel()
			}
		}
	}
}

func (s *AlarmService) Stop() {
	s.shutdownCh <- struct{}{}
}

func postJSON(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("alarm endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// DingtalkChannel 钉钉群机器人
type DingtalkChannel struct {
	WebhookURL string
}

func (c *DingtalkChannel) Type() AlarmChannelType { return AlarmChannelDingtalk }

func (c *DingtalkChannel) Send(ctx context.Context, event *AlarmEvent) error {
	return postJSON(ctx, c.WebhookURL, map[string]interface{}{
		"msgtype": "text",
		"text": map[string]string{
			"content": fmt.Sprintf("[%s] %s\n%s", event.Level, event.Title, event.Content),
		},
	})
}

// WecomChannel 企业微信群机器人
type WecomChannel struct {
	WebhookURL string
}

func (c *WecomChannel) Type() AlarmChannelType { return AlarmChannelWecom }

func (c *WecomChannel) Send(ctx context.Context, event *AlarmEvent) error {
	return postJSON(ctx, c.WebhookURL, map[string]interface{}{
		"msgtype": "text",
		"text": map[string]string{
			"content": fmt.Sprintf("[%s] %s\n%s", event.Level, event.Title, event.Content),
		},
	})
}

// FeishuChannel 飞书群机器人
type FeishuChannel struct {
	WebhookURL string
}

func (c *FeishuChannel) Type() AlarmChannelType { return AlarmChannelFeishu }

func (c *FeishuChannel) Send(ctx context.Context, event *AlarmEvent) error {
	return postJSON(ctx, c.WebhookURL, map[string]interface{}{
		"msg_type": "text",
		"content": map[string]string{
			"text": fmt.Sprintf("[%s] %s\n%s", event.Level, event.Title, event.Content),
		},
	})
}

// WebhookChannel 通用webhook，原样POST事件JSON
type WebhookChannel struct {
	URL string
}

func (c *WebhookChannel) Type() AlarmChannelType { return AlarmChannelWebhook }

func (c *WebhookChannel) Send(ctx context.Context, event *AlarmEvent) error {
	return postJSON(ctx, c.URL, event)
}

// EmailChannel smtp直发
type EmailChannel struct {
	Addr     string //host:port
	From     string
	Password string
	To       []string
}

func (c *EmailChannel) Type() AlarmChannelType { return AlarmChannelEmail }

func (c *EmailChannel) Send(ctx context.Context, event *AlarmEvent) error {
	host := c.Addr
	if idx := strings.Index(host, ":"); idx >= 0 {
		host = host[:idx]
	}

	msg := fmt.Sprintf("To: %s\r\nSubject: [%s] %s\r\n\r\n%s\r\n",
		strings.Join(c.To, ","), event.Level, event.Title, event.Content)

	auth := smtp.PlainAuth("", c.From, c.Password, host)
	return smtp.SendMail(c.Addr, auth, c.From, c.To, []byte(msg))
}

var (
	_ AlarmChannel = (*DingtalkChannel)(nil)
	_ AlarmChannel = (*WecomChannel)(nil)
	_ AlarmChannel = (*FeishuChannel)(nil)
	_ AlarmChannel = (*WebhookChannel)(nil)
	_ AlarmChannel = (*EmailChannel)(nil)
)
