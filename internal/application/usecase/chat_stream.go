package usecase

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ragforge/ragforge/backend/internal/domain/valueobject"
	"github.com/ragforge/ragforge/backend/pkg/safego"
)

// SSE 帧类型, 写入 event: 行并作为 data 里的 type 判别字段
const (
	SpeechSearchGuid = "searchGuid"
	SpeechContext    = "context"
	SpeechReasoner   = "reasoner"
	SpeechThink      = "think"
	SpeechText       = "text"
	SpeechFinished   = "finished"
)

const contextQuoteLimit = 500

// StreamEvent 一帧流式输出
type StreamEvent struct {
	Type string
	Data any
}

type searchGuidPayload struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

type contextPayload struct {
	Type            string `json:"type"`
	Index           int    `json:"index"`
	DocID           uint   `json:"docId"`
	Title           string `json:"title"`
	URL             string `json:"url"`
	SourceType      string `json:"sourceType"`
	Quote           string `json:"quote"`
	PublishTime     string `json:"publish_time"`
	IconURL         string `json:"icon_url"`
	WebSiteName     string `json:"web_site_name"`
	RefSourceWeight int    `json:"ref_source_weight"`
	Content         string `json:"content"`
}

type reasonerPayload struct {
	Type string `json:"type"`
}

type thinkPayload struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	IconType string `json:"iconType"`
	Content  string `json:"content"`
	Status   int    `json:"status"` // 1 进行中 2 结束
}

type textPayload struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

type finishedPayload struct {
	Type                 string                 `json:"type"`
	SessionID            string                 `json:"session_id"`
	TokenUsage           valueobject.TokenUsage `json:"token_usage"`
	FullAnswer           string                 `json:"full_answer"`
	FullReasoningContent string                 `json:"full_reasoning_content"`
}

// 发射机状态: Idle → SentContexts → (Reasoning | Text) → Text → Finished
const (
	emitIdle = iota
	emitSentContexts
	emitReasoning
	emitText
	emitFinished
)

// streamEmitter 把提供商增量翻译成前端事件序列
// 纯状态机, 不做 I/O; 同时累积完整回答与推理内容供落库
type streamEmitter struct {
	state        int
	sentReasoner bool
	sentTextHead bool
	sawReasoning bool

	answer    strings.Builder
	reasoning strings.Builder
	usage     valueobject.TokenUsage
}

func newStreamEmitter() *streamEmitter {
	return &streamEmitter{state: emitIdle}
}

// Open 开场帧: 一条 searchGuid + 每个召回块一条 context
func (e *streamEmitter) Open(question string, contexts []valueobject.RetrievedChunk) []StreamEvent {
	events := make([]StreamEvent, 0, len(contexts)+1)
	events = append(events, StreamEvent{Type: SpeechSearchGuid, Data: searchGuidPayload{
		Type:  SpeechSearchGuid,
		Title: question,
	}})
	for i, c := range contexts {
		events = append(events, StreamEvent{Type: SpeechContext, Data: contextPayload{
			Type:            SpeechContext,
			Index:           i + 1,
			DocID:           c.DocumentID,
			Title:           c.FileName,
			SourceType:      c.Source,
			Quote:           truncateRunes(c.Content, contextQuoteLimit),
			RefSourceWeight: int(c.Score * 5),
			Content:         c.Content,
		}})
	}
	e.state = emitSentContexts
	return events
}

// OnChunk 消化一个提供商增量
func (e *streamEmitter) OnChunk(chunk valueobject.StreamChunk) []StreamEvent {
	var events []StreamEvent
	if chunk.Usage != nil {
		e.usage = *chunk.Usage
	}

	if chunk.ReasoningDelta != "" {
		if !e.sentReasoner {
			e.sentReasoner = true
			events = append(events, StreamEvent{Type: SpeechReasoner, Data: reasonerPayload{Type: SpeechReasoner}})
		}
		e.sawReasoning = true
		e.state = emitReasoning
		e.reasoning.WriteString(chunk.ReasoningDelta)
		events = append(events, StreamEvent{Type: SpeechThink, Data: thinkPayload{
			Type:     SpeechThink,
			Title:    "深度思考",
			IconType: "thinking",
			Content:  chunk.ReasoningDelta,
			Status:   1,
		}})
	}

	if chunk.ContentDelta != "" {
		if e.sawReasoning {
			if !e.sentReasoner {
				e.sentReasoner = true
				events = append(events, StreamEvent{Type: SpeechReasoner, Data: reasonerPayload{Type: SpeechReasoner}})
			}
		} else if !e.sentTextHead {
			e.sentTextHead = true
			events = append(events, StreamEvent{Type: SpeechText, Data: textPayload{Type: SpeechText}})
		}
		e.state = emitText
		e.answer.WriteString(chunk.ContentDelta)
		events = append(events, StreamEvent{Type: SpeechText, Data: textPayload{
			Type: SpeechText,
			Msg:  chunk.ContentDelta,
		}})
	}

	if chunk.FinishReason != "" && e.sawReasoning {
		events = append(events, StreamEvent{Type: SpeechThink, Data: thinkPayload{
			Type:     SpeechThink,
			Title:    "深度思考",
			IconType: "thinking",
			Status:   2,
		}})
	}
	return events
}

// OnError 上游失败以 text 帧透出, 后续仍会发 finished
func (e *streamEmitter) OnError(err error) StreamEvent {
	msg := "抱歉，生成回答时出错: " + err.Error()
	e.answer.WriteString(msg)
	return StreamEvent{Type: SpeechText, Data: textPayload{Type: SpeechText, Msg: msg}}
}

// Finish 收尾帧, 携带完整回答与用量
func (e *streamEmitter) Finish(sessionID string) StreamEvent {
	e.state = emitFinished
	return StreamEvent{Type: SpeechFinished, Data: finishedPayload{
		Type:                 SpeechFinished,
		SessionID:            sessionID,
		TokenUsage:           e.usage,
		FullAnswer:           e.answer.String(),
		FullReasoningContent: e.reasoning.String(),
	}}
}

func (e *streamEmitter) Answer() string               { return e.answer.String() }
func (e *streamEmitter) Usage() valueobject.TokenUsage { return e.usage }

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// AskStream 流式对话
// 返回事件通道, 上游结束或出错后通道关闭; 落库在流结束后执行,
// 客户端中途断开不影响助手消息持久化
func (uc *ChatUseCase) AskStream(ctx context.Context, userID uint, in ChatInput) (<-chan StreamEvent, error) {
	turn, err := uc.prepareTurn(ctx, userID, in)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent, 64)
	uc.monitor.StreamStarted()
	safego.Go(uc.logger, "chat-stream", func() {
		defer close(out)
		defer uc.monitor.StreamFinished()
		defer uc.releaseLock(turn.session.ID())
		uc.runStream(ctx, turn, out)
	})
	return out, nil
}

func (uc *ChatUseCase) runStream(ctx context.Context, turn *chatTurn, out chan<- StreamEvent) {
	em := newStreamEmitter()
	send := func(events ...StreamEvent) {
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				// 客户端已断开, 事件丢弃但状态机继续累积
			}
		}
	}

	send(em.Open(lastUserQuestion(turn.messages), turn.contexts)...)

	genStart := time.Now()
	uc.monitor.IncProviderCall()

	deltaCh := make(chan valueobject.StreamChunk, 32)
	type streamResult struct {
		resp *valueobject.ChatResponse
		err  error
	}
	resultCh := make(chan streamResult, 1)
	safego.Go(uc.logger, "chat-stream-provider", func() {
		resp, err := turn.client.ChatStream(ctx, uc.buildRequest(turn, true), deltaCh)
		resultCh <- streamResult{resp: resp, err: err}
	})

	for chunk := range deltaCh {
		send(em.OnChunk(chunk)...)
	}
	result := <-resultCh

	if result.err != nil {
		uc.monitor.IncProviderFailure()
		uc.logger.Error("chat stream failed",
			zap.String("session_id", turn.session.ID()), zap.Error(result.err))
		send(em.OnError(result.err))
	} else if result.resp != nil && result.resp.Usage.TotalTokens > 0 {
		// 个别提供商只在最终响应里带用量
		if em.Usage().TotalTokens == 0 {
			em.usage = result.resp.Usage
		}
	}
	send(em.Finish(turn.session.ID()))

	usage := em.Usage()
	uc.monitor.AddTokensUsed(usage.TotalTokens)
	timing := ChatTiming{
		RetrievalMS:  turn.retrievalMS,
		GenerationMS: float64(time.Since(genStart).Milliseconds()),
		TotalMS:      float64(time.Since(turn.started).Milliseconds()),
	}
	uc.persistAssistant(ctx, turn, em.Answer(), usage, timing)
}

// lastUserQuestion 取消息序列末尾的用户问题(searchGuid 标题用)
func lastUserQuestion(messages []valueobject.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
