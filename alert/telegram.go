package alert

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"riptide/pkg/logger"
)

// Telegram 告警推送器
// token 为空时降级为只写日志，交易流程不依赖告警可用性
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *zap.Logger
}

// NewTelegram 创建 telegram 推送器，token 为空返回降级实例
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	t := &Telegram{
		chatID: chatID,
		log:    logger.NewModuleLogger("alert.telegram"),
	}
	if token == "" {
		t.log.Warn("未配置 telegram token，告警只写日志")
		return t, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	t.bot = bot
	t.log.Info("📨 telegram 告警已启用", zap.String("bot", bot.Self.UserName))
	return t, nil
}

// Notify 发送一条告警消息，失败只记日志不上抛
func (t *Telegram) Notify(msg string) {
	t.log.Info("告警", zap.String("message", msg))
	if t.bot == nil {
		return
	}
	m := tgbotapi.NewMessage(t.chatID, msg)
	if _, err := t.bot.Send(m); err != nil {
		t.log.Warn("telegram 发送失败", zap.Error(err))
	}
}
