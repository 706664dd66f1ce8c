package telegram

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	cmdpkg "github.com/stupiduntilnot/windowchat/internal/commander"
)

// Telegram rejects messages over 4096 characters.
const maxMessageChars = 3900

// Client is a minimal Telegram Bot API client.
type Client struct {
	apiBase    string
	httpClient *http.Client
}

// NewClient creates a Telegram client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>").
func NewClient(apiBase string, requestTimeout time.Duration) *Client {
	return &Client{
		apiBase: apiBase,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Response is the generic Telegram API response wrapper.
type Response struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
}

type Update = cmdpkg.Update
type Message = cmdpkg.Message
type Chat = cmdpkg.Chat

type tgRawUpdate struct {
	UpdateID      int64            `json:"update_id"`
	Message       *cmdpkg.Message  `json:"message,omitempty"`
	CallbackQuery *tgCallbackQuery `json:"callback_query,omitempty"`
}

type tgCallbackQuery struct {
	ID      string          `json:"id"`
	Data    string          `json:"data"`
	Message *cmdpkg.Message `json:"message,omitempty"`
}

// GetUpdates calls the getUpdates API.
func (c *Client) GetUpdates(offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeout))

	resp, err := c.httpClient.Get(c.apiBase + "/getUpdates?" + params.Encode())
	if err != nil {
		return nil, fmt.Errorf("telegram getUpdates request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read getUpdates response: %w", err)
	}

	var tgResp Response
	if err := json.Unmarshal(body, &tgResp); err != nil {
		return nil, fmt.Errorf("failed to parse getUpdates response: %w", err)
	}

	if !tgResp.OK {
		return nil, nil
	}

	var raws []tgRawUpdate
	if err := json.Unmarshal(tgResp.Result, &raws); err != nil {
		return nil, fmt.Errorf("failed to parse getUpdates result: %w", err)
	}
	updates := make([]Update, 0, len(raws))
	for _, ru := range raws {
		if ru.Message != nil {
			updates = append(updates, Update{UpdateID: ru.UpdateID, Message: ru.Message})
			continue
		}
		if ru.CallbackQuery != nil && ru.CallbackQuery.Message != nil {
			msg := *ru.CallbackQuery.Message
			data := strings.TrimSpace(ru.CallbackQuery.Data)
			msg.Text = &data
			if msg.Date == 0 {
				msg.Date = time.Now().Unix()
			}
			updates = append(updates, Update{UpdateID: ru.UpdateID, Message: &msg})
			_ = c.answerCallbackQuery(ru.CallbackQuery.ID)
			continue
		}
		// Keep unsupported updates so the caller still advances its offset.
		updates = append(updates, Update{UpdateID: ru.UpdateID})
	}
	return updates, nil
}

// SendMessage sends a text message to the given chat.
func (c *Client) SendMessage(chatID int64, text string) error {
	payload := fmt.Sprintf(`{"chat_id":%d,"text":%s}`, chatID, jsonString(truncate(text, maxMessageChars)))
	return c.post("sendMessage", payload)
}

// SendWithReset sends text with an inline button that starts a new
// conversation. The button press comes back as a ResetCommand message.
func (c *Client) SendWithReset(chatID int64, text string) error {
	payload := fmt.Sprintf(
		`{"chat_id":%d,"text":%s,"reply_markup":{"inline_keyboard":[[{"text":"New conversation","callback_data":%s}]]}}`,
		chatID, jsonString(truncate(text, maxMessageChars)), jsonString(cmdpkg.ResetCommand),
	)
	return c.post("sendMessage", payload)
}

func (c *Client) post(method, payload string) error {
	resp, err := c.httpClient.Post(
		c.apiBase+"/"+method,
		"application/json",
		strings.NewReader(payload),
	)
	if err != nil {
		return fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram %s failed: status=%d body=%s", method, resp.StatusCode, truncate(string(body), 200))
	}
	return nil
}

func (c *Client) answerCallbackQuery(callbackID string) error {
	callbackID = strings.TrimSpace(callbackID)
	if callbackID == "" {
		return nil
	}
	return c.post("answerCallbackQuery", fmt.Sprintf(`{"callback_query_id":%s}`, jsonString(callbackID)))
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
