package alerting

import (
	"context"
	"strings"

	"github.com/slack-go/slack"

	xerrors "OpenMCP-WalletKit/internal/errors"
)

// SlackConfig 描述 Slack Web API 的访问参数。
type SlackConfig struct {
	Token     string
	ChannelID string
	// APIURL 为空时使用 Slack 官方地址，测试时指向本地服务。
	APIURL string
}

// SlackAPISender 使用 slack-go 调用 chat.postMessage。
type SlackAPISender struct {
	client *slack.Client
}

// NewSlackAPISender 创建 Slack 发送器。
func NewSlackAPISender(cfg SlackConfig) (*SlackAPISender, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Slack token 不能为空")
	}
	var opts []slack.Option
	if url := strings.TrimSpace(cfg.APIURL); url != "" {
		if !strings.HasSuffix(url, "/") {
			url += "/"
		}
		opts = append(opts, slack.OptionAPIURL(url))
	}
	return &SlackAPISender{client: slack.New(token, opts...)}, nil
}

// Send 实现 SlackSender。
func (s *SlackAPISender) Send(ctx context.Context, channel, content string) error {
	_, _, err := s.client.PostMessageContext(ctx, channel, slack.MsgOptionText(content, false))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnavailable, err, "发送 Slack 消息失败")
	}
	return nil
}

// NewSlackNotifier 组装基于 Web API 的 SlackNotifier。
func NewSlackNotifier(cfg SlackConfig) (*SlackNotifier, error) {
	if strings.TrimSpace(cfg.ChannelID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Slack channel 不能为空")
	}
	sender, err := NewSlackAPISender(cfg)
	if err != nil {
		return nil, err
	}
	return &SlackNotifier{Sender: sender, ChannelID: cfg.ChannelID}, nil
}

var _ SlackSender = (*SlackAPISender)(nil)
