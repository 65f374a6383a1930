// Package notifications delivers parent OTP messages and publishes request
// lifecycle events.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hostelgate/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// OtpLanguages are the locales every OTP message is delivered in.
var OtpLanguages = []string{"te", "en"}

// OtpMessage is the payload handed to a Dispatcher.
type OtpMessage struct {
	Phone     string   `json:"phone"`
	Code      string   `json:"code"`
	Languages []string `json:"languages"`
}

// NewOtpMessage builds the standard bilingual message.
func NewOtpMessage(phone, code string) OtpMessage {
	langs := make([]string, len(OtpLanguages))
	copy(langs, OtpLanguages)
	return OtpMessage{Phone: phone, Code: code, Languages: langs}
}

// Dispatcher delivers OTP codes to a parent's phone.
type Dispatcher interface {
	SendOtp(ctx context.Context, msg OtpMessage) error
}

// LogDispatcher only logs the message. Used when no gateway is configured.
type LogDispatcher struct{}

// SendOtp logs the destination; the code itself is never logged.
func (LogDispatcher) SendOtp(ctx context.Context, msg OtpMessage) error {
	middleware.Logger.InfoContext(ctx, "otp dispatch skipped: no sms gateway configured",
		"phone_suffix", phoneSuffix(msg.Phone),
		"languages", msg.Languages,
	)
	return nil
}

// SMSDispatcher posts OTP messages to an HTTP SMS gateway.
type SMSDispatcher struct {
	url      string
	token    string
	senderID string
	timeout  time.Duration
}

// NewSMSDispatcher creates a dispatcher for the gateway at url.
func NewSMSDispatcher(url, token, senderID string) *SMSDispatcher {
	return &SMSDispatcher{url: url, token: token, senderID: senderID, timeout: 5 * time.Second}
}

type smsRequest struct {
	MessageID string   `json:"message_id"`
	SenderID  string   `json:"sender_id"`
	To        string   `json:"to"`
	Code      string   `json:"code"`
	Languages []string `json:"languages"`
	Template  string   `json:"template"`
}

// SendOtp posts one message. Any non-2xx response is an error.
func (d *SMSDispatcher) SendOtp(ctx context.Context, msg OtpMessage) error {
	timeout := d.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return fmt.Errorf("sms dispatch: %w", context.DeadlineExceeded)
	}

	body := smsRequest{
		MessageID: uuid.NewString(),
		SenderID:  d.senderID,
		To:        msg.Phone,
		Code:      msg.Code,
		Languages: msg.Languages,
		Template:  "parent_otp",
	}

	agent := fiber.Post(d.url)
	if d.token != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+d.token)
	}
	agent.JSON(body).Timeout(timeout)
	if err := agent.Parse(); err != nil {
		return fmt.Errorf("sms dispatch: %w", err)
	}

	code, resp, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("sms dispatch: %w", errs[0])
	}
	if code < 200 || code >= 300 {
		var gw struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(resp, &gw)
		return fmt.Errorf("sms dispatch: gateway returned %d %s", code, gw.Error)
	}

	middleware.Logger.InfoContext(ctx, "otp dispatched",
		"message_id", body.MessageID,
		"phone_suffix", phoneSuffix(msg.Phone),
	)
	return nil
}

func phoneSuffix(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return phone[len(phone)-4:]
}
