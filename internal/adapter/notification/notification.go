package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// NotificationType 通知类型
type NotificationType string

const (
	NotifyDeploySuccess   NotificationType = "deploy_success"   // 部署成功
	NotifyDeployFailed    NotificationType = "deploy_failed"    // 部署失败
	NotifyPromoteSuccess  NotificationType = "promote_success"  // 流量切换完成
	NotifyRollbackSuccess NotificationType = "rollback_success" // 回滚完成
	NotifyAutoRollback    NotificationType = "auto_rollback"    // 健康检查触发自动回滚
	NotifySlotReaped      NotificationType = "slot_reaped"      // 过期槽位已回收
)

// NotificationMessage 通知消息
type NotificationMessage struct {
	Type      NotificationType       `json:"type"`
	Title     string                 `json:"title"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Extra     map[string]interface{} `json:"extra,omitempty"` // 额外信息
}

// Notifier 通知器接口
type Notifier interface {
	// Send 发送通知
	Send(ctx context.Context, msg *NotificationMessage) error

	// SendSlotNotification 发送槽位事件通知
	SendSlotNotification(ctx context.Context, project, environment, slot string, notifyType NotificationType, message string) error
}

// ============= Lark 通知适配器 =============

// LarkNotifier Lark通知器
type LarkNotifier struct {
	webhookURL string
	enabled    bool
	logger     *zap.Logger
	client     *http.Client
}

// NewLarkNotifier 创建Lark通知器
func NewLarkNotifier(webhookURL string, enabled bool, logger *zap.Logger) *LarkNotifier {
	return &LarkNotifier{
		webhookURL: webhookURL,
		enabled:    enabled,
		logger:     logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send 发送通知
func (n *LarkNotifier) Send(ctx context.Context, msg *NotificationMessage) error {
	if !n.enabled {
		n.logger.Debug("通知已禁用,跳过发送")
		return nil
	}

	if n.webhookURL == "" {
		n.logger.Warn("Lark Webhook URL未配置")
		return nil
	}

	larkMsg := n.buildLarkMessage(msg)

	jsonData, err := json.Marshal(larkMsg)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Lark API返回错误状态码: %d", resp.StatusCode)
	}

	n.logger.Info("Lark通知发送成功",
		zap.String("type", string(msg.Type)),
		zap.String("title", msg.Title))

	return nil
}

// SendSlotNotification 发送槽位事件通知
func (n *LarkNotifier) SendSlotNotification(ctx context.Context, project, environment, slot string, notifyType NotificationType, message string) error {
	var title, color string

	switch notifyType {
	case NotifyDeploySuccess:
		title = "✅ 部署成功"
		color = "green"
	case NotifyDeployFailed:
		title = "❌ 部署失败"
		color = "red"
	case NotifyPromoteSuccess:
		title = "🔀 流量已切换"
		color = "blue"
	case NotifyRollbackSuccess:
		title = "⏪ 已回滚"
		color = "orange"
	case NotifyAutoRollback:
		title = "🚨 自动回滚"
		color = "red"
	case NotifySlotReaped:
		title = "🧹 槽位已回收"
		color = "grey"
	default:
		title = "📢 槽位通知"
		color = "grey"
	}

	content := fmt.Sprintf("**项目**: %s\n**环境**: %s\n**槽位**: %s\n**消息**: %s",
		project, environment, slot, message)

	msg := &NotificationMessage{
		Type:      notifyType,
		Title:     title,
		Content:   content,
		Timestamp: time.Now(),
		Extra: map[string]interface{}{
			"project":     project,
			"environment": environment,
			"slot":        slot,
			"color":       color,
		},
	}

	return n.Send(ctx, msg)
}

// buildLarkMessage 构建Lark消息格式
func (n *LarkNotifier) buildLarkMessage(msg *NotificationMessage) map[string]interface{} {
	color := "grey"
	if c, ok := msg.Extra["color"].(string); ok {
		color = c
	}

	// Lark富文本消息格式
	return map[string]interface{}{
		"msg_type": "interactive",
		"card": map[string]interface{}{
			"header": map[string]interface{}{
				"title": map[string]interface{}{
					"tag":     "plain_text",
					"content": msg.Title,
				},
				"template": color,
			},
			"elements": []interface{}{
				map[string]interface{}{
					"tag": "div",
					"text": map[string]interface{}{
						"tag":     "lark_md",
						"content": msg.Content,
					},
				},
				map[string]interface{}{
					"tag": "div",
					"text": map[string]interface{}{
						"tag":     "plain_text",
						"content": fmt.Sprintf("时间: %s", msg.Timestamp.Format("2006-01-02 15:04:05")),
					},
				},
			},
		},
	}
}

// ============= 日志通知器(仅记录日志,不发送实际通知) =============

// LogNotifier 日志通知器
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier 创建日志通知器
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{
		logger: logger,
	}
}

// Send 记录通知到日志
func (n *LogNotifier) Send(ctx context.Context, msg *NotificationMessage) error {
	n.logger.Info("📢 通知",
		zap.String("type", string(msg.Type)),
		zap.String("title", msg.Title),
		zap.String("content", msg.Content),
		zap.Any("extra", msg.Extra))
	return nil
}

// SendSlotNotification 记录槽位事件通知到日志
func (n *LogNotifier) SendSlotNotification(ctx context.Context, project, environment, slot string, notifyType NotificationType, message string) error {
	n.logger.Info("📢 槽位通知",
		zap.String("type", string(notifyType)),
		zap.String("project", project),
		zap.String("environment", environment),
		zap.String("slot", slot),
		zap.String("message", message))
	return nil
}
