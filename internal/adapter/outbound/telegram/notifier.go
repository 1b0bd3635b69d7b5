// Package telegram implements the notifier.OutboundNotifier port against
// the Telegram Bot HTTP API. No chat-bot SDK for Telegram (or any other
// transport) is available, so this adapter speaks the wire protocol
// directly with net/http: a small struct wrapping *http.Client, JSON
// request/response DTOs, and no retry/backoff on Send or Resolve beyond
// what net/http already provides. Run's getUpdates loop waits 5 seconds
// and polls again after a failed poll.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/clawguard/clawguard/internal/domain/audit"
	"github.com/clawguard/clawguard/internal/domain/notifier"
	"github.com/clawguard/clawguard/internal/domain/secret"
)

const apiBase = "https://api.telegram.org"

// ttlTags lists the TTL tags in prompt-button declaration order.
var ttlTags = []string{"once", "15m", "1h", "8h", "24h"}

// callbackAction maps a TTL tag to its callback_data action token.
func callbackAction(tag string) string {
	if tag == "once" {
		return "approve_once"
	}
	return "approve_" + tag
}

// Notifier adapts PendingApproval prompts to Telegram messages with inline
// keyboards, and routes inbound callback-query updates back to the
// Approval Coordinator via the wired DecisionHandler.
type Notifier struct {
	httpClient *http.Client
	token      string
	chatID     string
	logger     *slog.Logger

	pairingEnabled bool
	pairingSecret  string // hashed, compared via secret.Verify

	mu              sync.Mutex
	pairedApprovers map[string]string // chat id -> display name
	messageIDs      map[string]int    // request id -> Telegram message id, for Resolve's edit
	updateOffset    int64

	handler    notifier.DecisionHandler
	auditStore audit.Store                     // optional, persists pairing across restarts
	statusFn   func(ctx context.Context) string // optional, answers /status
}

// Option configures a Notifier at construction.
type Option func(*Notifier)

// WithPairing enables the pairing handshake, requiring hashedSecret (in
// any format secret.Verify accepts) before a chat identity is recorded as
// a PairedApprover.
func WithPairing(hashedSecret string) Option {
	return func(n *Notifier) { n.SetPairing(true, hashedSecret) }
}

// SetPairing updates the pairing requirement and secret in place, letting
// the config watcher hot-reload them without restarting the server.
func (n *Notifier) SetPairing(enabled bool, hashedSecret string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pairingEnabled = enabled
	n.pairingSecret = hashedSecret
}

// pairingState returns the current pairing-enabled flag and hashed secret
// under lock, since SetPairing can mutate them concurrently with request
// handling.
func (n *Notifier) pairingState() (bool, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pairingEnabled, n.pairingSecret
}

// WithAuditStore persists paired-approver state to store so pairing
// survives a restart. Without it, pairing is session-lived only.
func WithAuditStore(store audit.Store) Option {
	return func(n *Notifier) { n.auditStore = store }
}

// WithStatusProvider wires a callback invoked when a paired approver sends
// /status; its return value is sent back as a chat message.
func WithStatusProvider(fn func(ctx context.Context) string) Option {
	return func(n *Notifier) { n.statusFn = fn }
}

// New constructs a Telegram Notifier. token is the bot token; chatID is
// the chat the prompts are posted to.
func New(token, chatID string, logger *slog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		token:           token,
		chatID:          chatID,
		logger:          logger,
		pairedApprovers: make(map[string]string),
		messageIDs:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SetDecisionHandler wires the reply-routing callback.
func (n *Notifier) SetDecisionHandler(handler notifier.DecisionHandler) {
	n.handler = handler
}

// correlationTag returns a short, non-cryptographic tag derived from a
// request id, embedded in callback_data alongside the action so an
// operator skimming raw Telegram logs can eyeball correlation without the
// full UUID.
func correlationTag(requestID string) string {
	h := xxhash.Sum64String(requestID)
	return strconv.FormatUint(h, 36)[:6]
}

type sendMessageRequest struct {
	ChatID      string             `json:"chat_id"`
	Text        string             `json:"text"`
	ReplyMarkup *inlineKeyboard    `json:"reply_markup,omitempty"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type sendMessageResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		MessageID int `json:"message_id"`
	} `json:"result"`
	Description string `json:"description"`
}

func (n *Notifier) callbackData(action, requestID string) string {
	return fmt.Sprintf("%s:%s:%s", action, requestID, correlationTag(requestID))
}

// Send delivers a prompt with its six choice actions as an inline
// keyboard.
func (n *Notifier) Send(ctx context.Context, prompt notifier.Prompt) error {
	text := fmt.Sprintf(
		"Approval requested\nservice: %s\nmethod: %s\npath: %s\nagent: %s\ntime: %s\nrequest: %s",
		prompt.Service, prompt.Method, prompt.Path, prompt.AgentIP,
		prompt.At.Local().Format(time.RFC3339), prompt.RequestID,
	)

	var row []inlineButton
	for _, tag := range ttlTags {
		row = append(row, inlineButton{Text: tag, CallbackData: n.callbackData(callbackAction(tag), prompt.RequestID)})
	}
	denyRow := []inlineButton{{Text: "deny", CallbackData: n.callbackData("deny", prompt.RequestID)}}

	req := sendMessageRequest{
		ChatID: n.chatID,
		Text:   text,
		ReplyMarkup: &inlineKeyboard{
			InlineKeyboard: [][]inlineButton{row, denyRow},
		},
	}

	var resp sendMessageResponse
	if err := n.call(ctx, "sendMessage", req, &resp); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("telegram: send rejected: %s", resp.Description)
	}

	n.mu.Lock()
	n.messageIDs[prompt.RequestID] = resp.Result.MessageID
	n.mu.Unlock()
	return nil
}

type editMessageTextRequest struct {
	ChatID    string `json:"chat_id"`
	MessageID int    `json:"message_id"`
	Text      string `json:"text"`
}

// Resolve edits the original prompt message to record the decision and
// approver.
func (n *Notifier) Resolve(ctx context.Context, requestID string, decision notifier.Decision, reason string) error {
	n.mu.Lock()
	messageID, ok := n.messageIDs[requestID]
	delete(n.messageIDs, requestID)
	n.mu.Unlock()
	if !ok {
		return nil
	}

	outcome := "denied"
	if decision.Approved {
		outcome = "approved"
	}
	by := decision.ApproverName
	if by == "" {
		by = reason
	}
	text := fmt.Sprintf("Decision: %s\nby: %s", outcome, by)

	var resp sendMessageResponse
	req := editMessageTextRequest{ChatID: n.chatID, MessageID: messageID, Text: text}
	if err := n.call(ctx, "editMessageText", req, &resp); err != nil {
		return fmt.Errorf("telegram: resolve: %w", err)
	}
	return nil
}

// call executes a Telegram Bot API method with a JSON body and decodes
// the JSON response.
func (n *Notifier) call(ctx context.Context, method string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", apiBase, n.token, method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// callbackUpdate is the subset of a Telegram Update the webhook/poller
// decodes for a callback query.
type callbackUpdate struct {
	CallbackQuery *struct {
		Data string `json:"data"`
		From struct {
			ID        int64  `json:"id"`
			FirstName string `json:"first_name"`
			Username  string `json:"username"`
		} `json:"from"`
	} `json:"callback_query"`
	Message *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			FirstName string `json:"first_name"`
			Username  string `json:"username"`
		} `json:"from"`
	} `json:"message"`
}

// HandleUpdate processes one decoded Telegram Update: a callback query
// carrying an approval decision, or a /pair, /unpair, /status command
// sent as an ordinary message.
func (n *Notifier) HandleUpdate(ctx context.Context, upd callbackUpdate) {
	switch {
	case upd.CallbackQuery != nil:
		n.handleCallback(ctx, *upd.CallbackQuery)
	case upd.Message != nil:
		name := upd.Message.From.FirstName
		if upd.Message.From.Username != "" {
			name = upd.Message.From.Username
		}
		n.handleCommand(ctx, upd.Message.Text, fmt.Sprintf("%d", upd.Message.Chat.ID), name)
	}
}

func (n *Notifier) handleCallback(ctx context.Context, cb struct {
	Data string `json:"data"`
	From struct {
		ID        int64  `json:"id"`
		FirstName string `json:"first_name"`
		Username  string `json:"username"`
	} `json:"from"`
}) {
	chatID := strconv.FormatInt(cb.From.ID, 10)
	pairingEnabled, _ := n.pairingState()
	if pairingEnabled && !n.isPaired(chatID) {
		n.logger.Info("telegram: callback from unpaired chat", "chat_id", chatID)
		n.notifyChat(ctx, chatID, "Not authorized: pair this chat first with /pair <secret>.")
		return
	}

	parts := strings.SplitN(cb.Data, ":", 3)
	if len(parts) < 2 {
		return
	}
	action, requestID := parts[0], parts[1]

	name := cb.From.FirstName
	if cb.From.Username != "" {
		name = cb.From.Username
	}

	decision := notifier.Decision{ApproverName: name}
	if action == "deny" {
		decision.Approved = false
	} else {
		tag := strings.TrimPrefix(action, "approve_")
		seconds, ok := ttlSeconds(tag)
		if !ok {
			return
		}
		decision.Approved = true
		decision.TTLSeconds = seconds
	}

	if n.handler == nil {
		return
	}
	if !n.handler(ctx, requestID, decision) {
		n.logger.Info("telegram: decision for unknown or already-resolved request", "request_id", requestID)
		n.notifyChat(ctx, chatID, "expired")
	}
}

// notifyChat sends a plain text message to chatID, best-effort: a failure
// here is logged and swallowed since the caller has no decision left to
// make based on whether the reply was delivered.
func (n *Notifier) notifyChat(ctx context.Context, chatID, text string) {
	var resp sendMessageResponse
	req := sendMessageRequest{ChatID: chatID, Text: text}
	if err := n.call(ctx, "sendMessage", req, &resp); err != nil {
		n.logger.Warn("telegram: chat notification failed", "chat_id", chatID, "error", err)
	}
}

// ttlSeconds is duplicated from the grant package's tag table to avoid
// this transport adapter importing the approval domain; it must be kept
// in sync with grant.Seconds.
func ttlSeconds(tag string) (int64, bool) {
	switch tag {
	case "once":
		return 1, true
	case "15m":
		return 900, true
	case "1h":
		return 3600, true
	case "8h":
		return 28800, true
	case "24h":
		return 86400, true
	default:
		return 0, false
	}
}

func (n *Notifier) handleCommand(ctx context.Context, text, chatID, displayName string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "/pair":
		if len(fields) < 2 {
			return
		}
		n.tryPair(ctx, chatID, displayName, fields[1])
	case "/unpair":
		n.unpair(ctx, chatID)
	case "/status":
		pairingEnabled, _ := n.pairingState()
		if !pairingEnabled || n.isPaired(chatID) {
			n.replyStatus(ctx, chatID)
		}
	}
}

func (n *Notifier) tryPair(ctx context.Context, chatID, displayName, presentedSecret string) {
	pairingEnabled, pairingSecret := n.pairingState()
	if !pairingEnabled {
		return
	}
	ok, err := secret.Verify(presentedSecret, pairingSecret)
	if err != nil || !ok {
		n.logger.Info("telegram: pairing attempt rejected", "chat_id", chatID)
		return
	}
	if displayName == "" {
		displayName = chatID
	}

	pairedAt := time.Now().UTC()
	n.mu.Lock()
	n.pairedApprovers[chatID] = displayName
	n.mu.Unlock()

	if n.auditStore != nil {
		row := audit.PairedApproverRow{ChatID: chatID, Name: displayName, PairedAt: pairedAt}
		if err := n.auditStore.PutPairedApprover(ctx, row); err != nil {
			n.logger.Warn("telegram: persist paired approver failed", "chat_id", chatID, "error", err)
		}
	}
}

func (n *Notifier) unpair(ctx context.Context, chatID string) {
	n.mu.Lock()
	delete(n.pairedApprovers, chatID)
	n.mu.Unlock()

	if n.auditStore != nil {
		if err := n.auditStore.DeletePairedApprover(ctx, chatID); err != nil {
			n.logger.Warn("telegram: delete paired approver failed", "chat_id", chatID, "error", err)
		}
	}
}

// isPaired reports whether chatID is a recognized approver. It checks the
// in-memory cache first, falling back to the audit store (if wired) for a
// chat that paired in a previous process lifetime and hasn't replied since
// this one started — audit.Store has no "list all paired approvers" call,
// so there is nothing to bulk-preload at startup; lookups are lazy instead.
func (n *Notifier) isPaired(chatID string) bool {
	if pairingEnabled, _ := n.pairingState(); !pairingEnabled {
		return true
	}
	n.mu.Lock()
	_, ok := n.pairedApprovers[chatID]
	n.mu.Unlock()
	if ok {
		return true
	}
	if n.auditStore == nil {
		return false
	}
	row, found, err := n.auditStore.GetPairedApprover(context.Background(), chatID)
	if err != nil || !found {
		return false
	}
	n.mu.Lock()
	n.pairedApprovers[chatID] = row.Name
	n.mu.Unlock()
	return true
}

// replyStatus answers a /status command with whatever the wired status
// provider reports (typically active/pending grant counts).
func (n *Notifier) replyStatus(ctx context.Context, chatID string) {
	if n.statusFn == nil {
		return
	}
	text := n.statusFn(ctx)
	var resp sendMessageResponse
	req := sendMessageRequest{ChatID: chatID, Text: text}
	if err := n.call(ctx, "sendMessage", req, &resp); err != nil {
		n.logger.Warn("telegram: status reply failed", "chat_id", chatID, "error", err)
	}
}


// SeedPairedApprover records chatID as paired without the handshake.
// Nothing in this module calls it; chats paired in an earlier run are
// found in the Audit Store lazily by isPaired.
func (n *Notifier) SeedPairedApprover(chatID, name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pairedApprovers[chatID] = name
}

// getUpdatesResponse is the subset of Telegram's getUpdates response this
// adapter decodes.
type getUpdatesResponse struct {
	OK     bool             `json:"ok"`
	Result []updateEnvelope `json:"result"`
}

// updateEnvelope carries the update_id alongside the callbackUpdate body,
// since getUpdates returns a batch and HandleUpdate only needs the body.
type updateEnvelope struct {
	UpdateID int64 `json:"update_id"`
	callbackUpdate
}

const longPollTimeoutSeconds = 30

// Run starts the long-polling loop against Telegram's getUpdates, routing
// every decoded update through HandleUpdate until ctx is canceled. It is
// the Notifier's half of the reverse channel: Send/Resolve push prompts
// out, Run pulls the approver's replies back in.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := n.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.logger.Warn("telegram: getUpdates failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, upd := range updates {
			n.updateOffset = upd.UpdateID + 1
			n.HandleUpdate(ctx, upd.callbackUpdate)
		}
	}
}

func (n *Notifier) getUpdates(ctx context.Context) ([]updateEnvelope, error) {
	reqBody := struct {
		Offset  int64 `json:"offset,omitempty"`
		Timeout int   `json:"timeout"`
	}{Offset: n.updateOffset, Timeout: longPollTimeoutSeconds}

	// getUpdates' long-poll timeout exceeds this adapter's default HTTP
	// client timeout (used for Send/Resolve's fire-and-forget calls), so it
	// gets its own deadline instead of reusing n.httpClient.Timeout.
	pollCtx, cancel := context.WithTimeout(ctx, (longPollTimeoutSeconds+10)*time.Second)
	defer cancel()

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal getUpdates request: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/getUpdates", apiBase, n.token)
	httpReq, err := http.NewRequestWithContext(pollCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build getUpdates request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	pollClient := *n.httpClient
	pollClient.Timeout = 0
	resp, err := pollClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do getUpdates request: %w", err)
	}
	defer resp.Body.Close()

	var decoded getUpdatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode getUpdates response: %w", err)
	}
	if !decoded.OK {
		return nil, fmt.Errorf("telegram: getUpdates rejected")
	}
	return decoded.Result, nil
}

var _ notifier.OutboundNotifier = (*Notifier)(nil)
