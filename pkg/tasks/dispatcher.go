// Package tasks routes parsed intents to mailbox operations and wraps every
// outcome in a result envelope. A handler never panics its way out: internal
// failures become {success: false} results.
package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/lLiuRunze/mail-agent/pkg/address"
	"github.com/lLiuRunze/mail-agent/pkg/ai"
	"github.com/lLiuRunze/mail-agent/pkg/batch"
	"github.com/lLiuRunze/mail-agent/pkg/messagestore"
	"github.com/lLiuRunze/mail-agent/pkg/models/draft"
	"github.com/lLiuRunze/mail-agent/pkg/models/message"
	"github.com/lLiuRunze/mail-agent/pkg/mutations"
)

// Result is the envelope returned for every executed intent.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func failure(format string, args ...any) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

func success(msg string, data map[string]any) Result {
	return Result{Success: true, Message: msg, Data: data}
}

// Assistant generates reply drafts, summaries, and priority verdicts.
// *ai.Client satisfies it; a nil Assistant disables those intents.
type Assistant interface {
	GenerateReply(ctx context.Context, m message.Message, instruction string) (string, error)
	Summarize(ctx context.Context, m message.Message) (string, error)
	AnalyzePriority(ctx context.Context, m message.Message) (ai.Priority, error)
}

type handlerFunc func(ctx context.Context, params Params) Result

// Dispatcher executes intents against one account.
type Dispatcher struct {
	store     messagestore.Store
	resolver  *address.Resolver
	ops       *mutations.Operator
	drafts    *draft.Cache
	assistant Assistant
	logger    *slog.Logger
	handlers  map[string]handlerFunc
}

type DispatcherOption func(*Dispatcher)

func WithStore(store messagestore.Store) DispatcherOption {
	return func(d *Dispatcher) { d.store = store }
}

func WithAddressResolver(r *address.Resolver) DispatcherOption {
	return func(d *Dispatcher) { d.resolver = r }
}

func WithOperator(ops *mutations.Operator) DispatcherOption {
	return func(d *Dispatcher) { d.ops = ops }
}

func WithDraftCache(c *draft.Cache) DispatcherOption {
	return func(d *Dispatcher) { d.drafts = c }
}

func WithAssistant(a Assistant) DispatcherOption {
	return func(d *Dispatcher) { d.assistant = a }
}

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

func NewDispatcher(opts ...DispatcherOption) (*Dispatcher, error) {
	var d Dispatcher
	for _, opt := range opts {
		opt(&d)
	}
	if d.store == nil {
		return nil, errors.New("message store is required")
	}
	if d.resolver == nil {
		return nil, errors.New("address resolver is required")
	}
	if d.ops == nil {
		return nil, errors.New("operator is required")
	}
	if d.drafts == nil {
		return nil, errors.New("draft cache is required")
	}
	if d.logger == nil {
		return nil, errors.New("logger is required")
	}

	d.handlers = map[string]handlerFunc{
		"list_emails":      d.listEmails,
		"search_email":     d.searchEmail,
		"reply_email":      d.replyEmail,
		"generate_reply":   d.generateReply,
		"confirm_reply":    d.confirmReply,
		"forward_email":    d.forwardEmail,
		"send_email":       d.sendEmail,
		"archive_email":    d.mutate("archived", func(folder string, id message.StableID) error { return d.ops.Archive(folder, id, "archive") }),
		"delete_email":     d.mutate("deleted", d.ops.Delete),
		"mark_read":        d.mutate("marked read", d.ops.MarkRead),
		"mark_unread":      d.mutate("marked unread", d.ops.MarkUnread),
		"move_email":       d.moveEmail,
		"summarize_email":  d.summarizeEmail,
		"analyze_priority": d.analyzePriority,
	}
	return &d, nil
}

// Intents lists the intent tags this dispatcher understands.
func (d *Dispatcher) Intents() []string {
	out := make([]string, 0, len(d.handlers))
	for intent := range d.handlers {
		out = append(out, intent)
	}
	return out
}

// Execute runs one intent and always returns an envelope, converting
// handler errors and panics into failure results.
func (d *Dispatcher) Execute(ctx context.Context, intent string, params Params) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("intent handler panicked",
				slog.String("intent", intent),
				slog.Any("panic", r),
			)
			res = failure("internal error handling %s", intent)
		}
	}()

	handler, ok := d.handlers[intent]
	if !ok {
		d.logger.Warn("unknown intent", slog.String("intent", intent))
		return failure("unknown intent %q", intent)
	}

	d.logger.Info("executing intent", slog.String("intent", intent))
	return handler(ctx, params)
}

func folderOf(params Params) string {
	if folder := params.String("folder"); folder != "" {
		return folder
	}
	return "inbox"
}

func tokenOf(params Params) string {
	if token := params.String("email_id"); token != "" {
		return token
	}
	return "latest"
}

func messageData(msgs []message.Message) map[string]any {
	return map[string]any{"messages": msgs, "count": len(msgs)}
}

func (d *Dispatcher) listEmails(ctx context.Context, params Params) Result {
	folder := folderOf(params)
	count := params.Int("count", 10)
	days := params.Int("days", 0)

	msgs, err := d.store.ListRecent(folder, count, days)
	if err != nil {
		return failure("listing %s failed: %v", folder, err)
	}
	if len(msgs) == 0 {
		return success(fmt.Sprintf("no messages in %s", folder), messageData(nil))
	}
	return success(fmt.Sprintf("found %d messages in %s", len(msgs), folder), messageData(msgs))
}

func (d *Dispatcher) searchEmail(ctx context.Context, params Params) Result {
	keyword := params.String("keyword")
	if keyword == "" {
		keyword = params.String("query")
	}
	if keyword == "" {
		return failure("search needs a keyword")
	}

	msgs, err := d.store.Search(folderOf(params), keyword, params.Int("count", 10))
	if err != nil {
		return failure("search failed: %v", err)
	}
	if len(msgs) == 0 {
		return success(fmt.Sprintf("no messages matching %q", keyword), messageData(nil))
	}
	return success(fmt.Sprintf("found %d messages matching %q", len(msgs), keyword), messageData(msgs))
}

// replyEmail sends immediately when the caller supplies the reply text.
// Without text it drafts one with the assistant and stages it for
// confirm_reply instead of sending unreviewed machine output.
func (d *Dispatcher) replyEmail(ctx context.Context, params Params) Result {
	folder := folderOf(params)
	id, err := d.resolver.Resolve(tokenOf(params), folder, params.Int("count", 10))
	if err != nil {
		return failure("cannot resolve message: %v", err)
	}

	if content := params.String("content"); content != "" {
		original, err := d.ops.Reply(folder, id, content)
		if err != nil {
			return failure("reply failed: %v", err)
		}
		return success(fmt.Sprintf("replied to %s", original.From), map[string]any{
			"to":      original.From,
			"subject": mutations.ReplySubject(original.Subject),
		})
	}
	return d.stageGeneratedReply(ctx, folder, id, params.String("instruction"))
}

func (d *Dispatcher) generateReply(ctx context.Context, params Params) Result {
	folder := folderOf(params)
	id, err := d.resolver.Resolve(tokenOf(params), folder, params.Int("count", 10))
	if err != nil {
		return failure("cannot resolve message: %v", err)
	}
	instruction := params.String("instruction")
	if instruction == "" {
		instruction = params.String("content")
	}
	return d.stageGeneratedReply(ctx, folder, id, instruction)
}

func (d *Dispatcher) stageGeneratedReply(ctx context.Context, folder string, id message.StableID, instruction string) Result {
	if d.assistant == nil {
		return failure("no reply text given and no assistant configured")
	}
	original, err := d.store.Fetch(folder, id, true)
	if err != nil {
		return failure("cannot fetch message: %v", err)
	}
	if original.From == "" {
		return failure("message has no sender to reply to")
	}

	body, err := d.assistant.GenerateReply(ctx, original, instruction)
	if err != nil {
		return failure("draft generation failed: %v", err)
	}
	staged := draft.Draft{
		ID:      id,
		To:      original.From,
		Subject: mutations.ReplySubject(original.Subject),
		Body:    body,
	}
	if err := d.drafts.Stage(staged); err != nil {
		return failure("staging draft failed: %v", err)
	}
	return success("reply drafted; confirm to send", map[string]any{
		"id":    string(id),
		"to":    staged.To,
		"draft": body,
	})
}

func (d *Dispatcher) confirmReply(ctx context.Context, params Params) Result {
	var id message.StableID
	if token := params.String("email_id"); token != "" {
		id = message.StableID(token)
	}

	sent, err := d.drafts.Confirm(id, func(dr draft.Draft) error {
		return d.ops.SendEmail([]string{dr.To}, dr.Subject, dr.Body)
	})
	if err != nil {
		return failure("confirm failed: %v", err)
	}
	return success(fmt.Sprintf("reply sent to %s", sent.To), map[string]any{
		"to":      sent.To,
		"subject": sent.Subject,
	})
}

func (d *Dispatcher) forwardEmail(ctx context.Context, params Params) Result {
	recipients := params.StringSlice("to")
	if len(recipients) == 0 {
		recipients = params.StringSlice("recipient")
	}
	if len(recipients) == 0 {
		return failure("forward needs at least one recipient")
	}

	folder := folderOf(params)

	tokens, isBatch, err := d.batchTokens(params, folder)
	if err != nil {
		return failure("forward failed: %v", err)
	}
	if isBatch {
		if len(tokens) == 0 {
			return failure("no messages found")
		}
		if len(recipients) != 1 {
			return failure("batch forwarding supports exactly one recipient")
		}
		report := batch.Run(d.logger, tokens, func(token string) error {
			defer d.ops.ResetSubmission()
			id, err := d.resolver.Resolve(token, folder, params.Int("count", 10))
			if err != nil {
				return err
			}
			return d.ops.Forward(folder, id, recipients[0])
		})
		return batchResult(report, "forwarded")
	}

	id, err := d.resolver.Resolve(tokenOf(params), folder, params.Int("count", 10))
	if err != nil {
		return failure("cannot resolve message: %v", err)
	}

	if len(recipients) == 1 {
		if err := d.ops.Forward(folder, id, recipients[0]); err != nil {
			return failure("forward failed: %v", err)
		}
		return success(fmt.Sprintf("forwarded to %s", recipients[0]), nil)
	}

	report, err := d.ops.ForwardMany(folder, id, recipients)
	if err != nil {
		return failure("forward failed: %v", err)
	}
	return batchResult(report, "forwarded")
}

func (d *Dispatcher) sendEmail(ctx context.Context, params Params) Result {
	to := params.StringSlice("to")
	if len(to) == 0 {
		return failure("send needs at least one recipient")
	}
	subject := params.String("subject")
	if subject == "" {
		subject = "(no subject)"
	}
	if err := d.ops.SendEmail(to, subject, params.String("content")); err != nil {
		return failure("send failed: %v", err)
	}
	return success(fmt.Sprintf("sent to %d recipients", len(to)), nil)
}

// mutate builds a handler applying op to one message or, in batch mode, to
// each target with per-item failure isolation.
func (d *Dispatcher) mutate(verb string, op func(folder string, id message.StableID) error) handlerFunc {
	return func(ctx context.Context, params Params) Result {
		folder := folderOf(params)

		tokens, isBatch, err := d.batchTokens(params, folder)
		if err != nil {
			return failure("%s failed: %v", verb, err)
		}
		if isBatch {
			if len(tokens) == 0 {
				return failure("no messages found")
			}
			report := batch.Run(d.logger, tokens, func(token string) error {
				id, err := d.resolver.Resolve(token, folder, params.Int("count", 10))
				if err != nil {
					return err
				}
				return op(folder, id)
			})
			return batchResult(report, verb)
		}

		id, err := d.resolver.Resolve(tokenOf(params), folder, params.Int("count", 10))
		if err != nil {
			return failure("cannot resolve message: %v", err)
		}
		// Grab the headers before applying op so the result can describe a
		// message that the operation may have removed.
		m, err := d.store.Fetch(folder, id, false)
		if err != nil {
			return failure("cannot fetch message: %v", err)
		}
		if err := op(folder, id); err != nil {
			return failure("%s failed: %v", verb, err)
		}
		return success(fmt.Sprintf("message %s", verb), map[string]any{
			"id":      string(id),
			"subject": m.Subject,
			"from":    m.From,
		})
	}
}

// batchTokens returns the batch targets and whether batch mode applies.
// Explicit email_ids win; otherwise the batch flag selects the most recent
// count messages, resolved once into stable identities.
func (d *Dispatcher) batchTokens(params Params, folder string) ([]string, bool, error) {
	if ids := params.StringSlice("email_ids"); len(ids) > 0 {
		return ids, true, nil
	}
	if !params.Bool("batch") {
		return nil, false, nil
	}

	msgs, err := d.store.ListRecent(folder, params.Int("count", 10), params.Int("days", 0))
	if err != nil {
		return nil, true, err
	}
	tokens := make([]string, len(msgs))
	for i, m := range msgs {
		tokens[i] = string(m.ID)
	}
	return tokens, true, nil
}

func (d *Dispatcher) moveEmail(ctx context.Context, params Params) Result {
	target := params.String("target_folder")
	if target == "" {
		target = params.String("target")
	}
	if target == "" {
		return failure("move needs a target folder")
	}
	handler := d.mutate("moved", func(folder string, id message.StableID) error {
		return d.ops.Move(folder, id, target)
	})
	return handler(ctx, params)
}

func (d *Dispatcher) summarizeEmail(ctx context.Context, params Params) Result {
	if d.assistant == nil {
		return failure("no assistant configured")
	}
	folder := folderOf(params)

	if params.Bool("batch") || (params.String("email_id") == "" && params.Int("count", 0) > 0) {
		msgs, err := d.store.ListRecent(folder, params.Int("count", 10), params.Int("days", 0))
		if err != nil {
			return failure("summary failed: %v", err)
		}
		if len(msgs) == 0 {
			return failure("no messages found")
		}
		tokens := make([]string, len(msgs))
		for i, m := range msgs {
			tokens[i] = string(m.ID)
		}
		summaries := make([]map[string]any, 0, len(tokens))
		report := batch.Run(d.logger, tokens, func(token string) error {
			m, err := d.store.Fetch(folder, message.StableID(token), true)
			if err != nil {
				return err
			}
			summary, err := d.assistant.Summarize(ctx, m)
			if err != nil {
				return err
			}
			summaries = append(summaries, map[string]any{
				"id":      token,
				"subject": m.Subject,
				"summary": summary,
			})
			return nil
		})
		res := batchResult(report, "summarized")
		res.Data["summaries"] = summaries
		return res
	}

	id, err := d.resolver.Resolve(tokenOf(params), folder, params.Int("count", 10))
	if err != nil {
		return failure("cannot resolve message: %v", err)
	}
	m, err := d.store.Fetch(folder, id, true)
	if err != nil {
		return failure("cannot fetch message: %v", err)
	}
	summary, err := d.assistant.Summarize(ctx, m)
	if err != nil {
		return failure("summary failed: %v", err)
	}
	return success(summary, map[string]any{
		"id":      string(id),
		"subject": m.Subject,
		"summary": summary,
	})
}

func (d *Dispatcher) analyzePriority(ctx context.Context, params Params) Result {
	if d.assistant == nil {
		return failure("no assistant configured")
	}
	folder := folderOf(params)
	id, err := d.resolver.Resolve(tokenOf(params), folder, params.Int("count", 10))
	if err != nil {
		return failure("cannot resolve message: %v", err)
	}
	m, err := d.store.Fetch(folder, id, true)
	if err != nil {
		return failure("cannot fetch message: %v", err)
	}
	p, err := d.assistant.AnalyzePriority(ctx, m)
	if err != nil {
		return failure("triage failed: %v", err)
	}
	return success(fmt.Sprintf("priority: %s", p.Priority), map[string]any{
		"id":       string(id),
		"priority": p.Priority,
		"reason":   p.Reason,
	})
}

func batchResult(report batch.Report, verb string) Result {
	data := map[string]any{
		"total":   report.Total,
		"success": report.Success,
		"failed":  report.Failed,
		"results": report.Results,
	}
	return Result{
		Success: report.Ok(),
		Message: report.Summary(verb),
		Data:    data,
	}
}
