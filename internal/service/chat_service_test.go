package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"parley/internal/ai"
	"parley/internal/config"
	"parley/internal/model"
	"parley/internal/pkg/apperr"
)

// fakeStore 内存版存储，覆盖协调器需要的全部操作
type fakeStore struct {
	mu    sync.Mutex
	convs map[string]*model.Conversation
	msgs  map[string][]model.Message
	usage []model.UsageRecord

	failAssistantAppend bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		convs: make(map[string]*model.Conversation),
		msgs:  make(map[string][]model.Message),
	}
}

func (s *fakeStore) LoadConversation(ctx context.Context, id, ownerID string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok || conv.UserID != ownerID {
		return nil, apperr.NotFound("Conversation not found")
	}
	cp := *conv
	return &cp, nil
}

func (s *fakeStore) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv.ID = primitive.NewObjectID()
	conv.CreatedAt = time.Now()
	conv.UpdatedAt = conv.CreatedAt
	cp := *conv
	s.convs[conv.ID.Hex()] = &cp
	return nil
}

func (s *fakeStore) AppendMessage(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAssistantAppend && msg.Role == model.RoleAssistant {
		return apperr.Internal(errors.New("write failed"))
	}
	msg.ID = primitive.NewObjectID()
	msg.CreatedAt = time.Now()
	key := msg.ConversationID.Hex()
	s.msgs[key] = append(s.msgs[key], *msg)
	return nil
}

func (s *fakeStore) LoadRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.msgs[conversationID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]model.Message, len(all))
	copy(out, all)
	return out, nil
}

func (s *fakeStore) UpdateConversationSummary(ctx context.Context, id, lastMessage string, lastMessageAt time.Time, messageDelta, durationDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return apperr.NotFound("Conversation not found")
	}
	conv.LastMessage = lastMessage
	conv.LastMessageAt = &lastMessageAt
	conv.MessageCount += messageDelta
	conv.Duration += durationDelta
	return nil
}

func (s *fakeStore) RecordUsage(ctx context.Context, rec *model.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, *rec)
	return nil
}

func (s *fakeStore) messages(conversationID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.msgs[conversationID]))
	copy(out, s.msgs[conversationID])
	return out
}

// fakeGenerator 可编排的生成器
type fakeGenerator struct {
	reply     string
	chunks    []string
	usage     *model.TokenUsage
	err       error
	delay     time.Duration
	inflight  int32
	overlap   int32
	lastTurns []ai.Turn
	lastOpts  *ai.ChatOptions
	mu        sync.Mutex
}

func (g *fakeGenerator) Provider() string { return "openai" }

func (g *fakeGenerator) record(req *ai.ChatRequest) {
	g.mu.Lock()
	g.lastTurns = append([]ai.Turn(nil), req.Turns...)
	g.lastOpts = req.Options
	g.mu.Unlock()
}

func (g *fakeGenerator) Chat(ctx context.Context, req *ai.ChatRequest) (*ai.ChatResponse, error) {
	g.record(req)
	if n := atomic.AddInt32(&g.inflight, 1); n > 1 {
		atomic.AddInt32(&g.overlap, 1)
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	atomic.AddInt32(&g.inflight, -1)
	if g.err != nil {
		return nil, g.err
	}
	return &ai.ChatResponse{Content: g.reply, Usage: g.usage}, nil
}

func (g *fakeGenerator) ChatStream(ctx context.Context, req *ai.ChatRequest) (<-chan *model.ChatChunk, <-chan error) {
	g.record(req)
	chunks := make(chan *model.ChatChunk, len(g.chunks)+1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for _, c := range g.chunks {
			chunks <- &model.ChatChunk{Content: c}
		}
		if g.err != nil {
			errs <- g.err
			return
		}
		chunks <- &model.ChatChunk{Done: true, Usage: g.usage}
	}()
	return chunks, errs
}

// fakeSink 收集推送的片段，可在指定片段后开始报错
type fakeSink struct {
	mu       sync.Mutex
	got      []string
	failFrom int // 从第几个片段开始失败，-1 表示不失败
}

func (s *fakeSink) Chunk(content string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFrom >= 0 && index >= s.failFrom {
		return errors.New("client gone")
	}
	s.got = append(s.got, content)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		AI: config.AIConfig{
			Provider:        "openai",
			Model:           "gpt-4o-mini",
			GenerateTimeout: 5 * time.Second,
			Options:         config.AIOptionsConfig{Temperature: 0.7, MaxTokens: 1024},
		},
		Chat: config.ChatConfig{
			MaxMessageLength: 100,
			ContextWindow:    20,
			DefaultTitle:     "New Conversation",
		},
	}
}

func TestChatService_Exchange(t *testing.T) {
	Convey("ChatService 交换测试", t, func() {
		store := newFakeStore()
		gen := &fakeGenerator{reply: "你好，我是助手", usage: &model.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
		svc := NewChatService(testConfig(), store, gen)
		ctx := context.Background()

		Convey("新对话完整交换", func() {
			resp, err := svc.Exchange(ctx, "user_001", &model.ChatRequest{Message: "你好"}, nil)
			So(err, ShouldBeNil)
			So(resp.Reply, ShouldEqual, "你好，我是助手")
			So(resp.ConversationID, ShouldNotBeEmpty)
			So(resp.Usage.TotalTokens, ShouldEqual, 15)

			Convey("用户发言和助手回复按序落库", func() {
				msgs := store.messages(resp.ConversationID)
				So(len(msgs), ShouldEqual, 2)
				So(msgs[0].Role, ShouldEqual, model.RoleUser)
				So(msgs[0].Content, ShouldEqual, "你好")
				So(msgs[1].Role, ShouldEqual, model.RoleAssistant)
				So(msgs[1].TokensUsed, ShouldEqual, 15)
				So(msgs[1].CreatedAt, ShouldHappenOnOrAfter, msgs[0].CreatedAt)
			})

			Convey("对话统计和用量记录已更新", func() {
				conv, err := store.LoadConversation(ctx, resp.ConversationID, "user_001")
				So(err, ShouldBeNil)
				So(conv.MessageCount, ShouldEqual, 2)
				So(conv.LastMessage, ShouldEqual, "你好，我是助手")
				So(len(store.usage), ShouldEqual, 1)
				So(store.usage[0].Service, ShouldEqual, "openai")
				So(store.usage[0].TokensUsed, ShouldEqual, 15)
			})

			Convey("后续交换携带历史上下文", func() {
				_, err := svc.Exchange(ctx, "user_001", &model.ChatRequest{
					Message:        "还在吗",
					ConversationID: resp.ConversationID,
				}, nil)
				So(err, ShouldBeNil)
				So(len(gen.lastTurns), ShouldEqual, 3)
				So(gen.lastTurns[2].Role, ShouldEqual, model.RoleUser)
				So(gen.lastTurns[2].Content, ShouldEqual, "还在吗")
			})
		})

		Convey("校验失败时不写入任何状态", func() {
			Convey("空消息", func() {
				_, err := svc.Exchange(ctx, "user_001", &model.ChatRequest{Message: "   "}, nil)
				So(apperr.KindOf(err), ShouldEqual, apperr.KindValidation)
				So(len(store.convs), ShouldEqual, 0)
			})

			Convey("超长消息", func() {
				_, err := svc.Exchange(ctx, "user_001", &model.ChatRequest{Message: strings.Repeat("a", 101)}, nil)
				So(apperr.KindOf(err), ShouldEqual, apperr.KindValidation)
				So(len(store.convs), ShouldEqual, 0)
			})
		})

		Convey("对话不存在或属于他人时返回 NotFound", func() {
			_, err := svc.Exchange(ctx, "user_001", &model.ChatRequest{
				Message:        "你好",
				ConversationID: primitive.NewObjectID().Hex(),
			}, nil)
			So(apperr.KindOf(err), ShouldEqual, apperr.KindNotFound)

			resp, err := svc.Exchange(ctx, "user_001", &model.ChatRequest{Message: "你好"}, nil)
			So(err, ShouldBeNil)
			_, err = svc.Exchange(ctx, "user_002", &model.ChatRequest{
				Message:        "你好",
				ConversationID: resp.ConversationID,
			}, nil)
			So(apperr.KindOf(err), ShouldEqual, apperr.KindNotFound)
		})

		Convey("生成失败时用户发言保留", func() {
			gen.err = apperr.Provider("AI service temporarily unavailable", errors.New("boom"))
			_, err := svc.Exchange(ctx, "user_001", &model.ChatRequest{Message: "你好"}, nil)
			So(apperr.KindOf(err), ShouldEqual, apperr.KindProvider)

			var convID string
			for id := range store.convs {
				convID = id
			}
			msgs := store.messages(convID)
			So(len(msgs), ShouldEqual, 1)
			So(msgs[0].Role, ShouldEqual, model.RoleUser)

			Convey("重发追加新的用户发言，不去重", func() {
				gen.err = nil
				resp, err := svc.Exchange(ctx, "user_001", &model.ChatRequest{
					Message:        "你好",
					ConversationID: convID,
				}, nil)
				So(err, ShouldBeNil)
				msgs := store.messages(convID)
				So(len(msgs), ShouldEqual, 3)
				So(msgs[0].Role, ShouldEqual, model.RoleUser)
				So(msgs[1].Role, ShouldEqual, model.RoleUser)
				So(resp.Reply, ShouldNotBeEmpty)
			})
		})

		Convey("空回复视为 Provider 错误", func() {
			gen.reply = "  "
			_, err := svc.Exchange(ctx, "user_001", &model.ChatRequest{Message: "你好"}, nil)
			So(apperr.KindOf(err), ShouldEqual, apperr.KindProvider)
		})

		Convey("助手回复落库失败时返回错误且用户发言保留", func() {
			store.failAssistantAppend = true
			_, err := svc.Exchange(ctx, "user_001", &model.ChatRequest{Message: "你好"}, nil)
			So(apperr.KindOf(err), ShouldEqual, apperr.KindInternal)

			var convID string
			for id := range store.convs {
				convID = id
			}
			msgs := store.messages(convID)
			So(len(msgs), ShouldEqual, 1)
			So(msgs[0].Role, ShouldEqual, model.RoleUser)
		})

		Convey("请求级参数覆写对话级参数", func() {
			resp, err := svc.Exchange(ctx, "user_001", &model.ChatRequest{
				Message: "你好",
				Options: &model.ChatOptions{Model: "gpt-4o", Temperature: 0.2},
			}, nil)
			So(err, ShouldBeNil)
			So(resp.Model, ShouldEqual, "gpt-4o")
			So(gen.lastOpts.Model, ShouldEqual, "gpt-4o")
			So(gen.lastOpts.Temperature, ShouldEqual, 0.2)
			So(gen.lastOpts.MaxTokens, ShouldEqual, 1024)
		})

		Convey("语音消息记录时长并计入对话统计", func() {
			resp, err := svc.Exchange(ctx, "user_001", &model.ChatRequest{
				Message:       "帮我记一下",
				AudioURL:      "https://cdn.example.com/a.mp3",
				AudioDuration: 12,
			}, nil)
			So(err, ShouldBeNil)

			msgs := store.messages(resp.ConversationID)
			So(msgs[0].ContentType, ShouldEqual, model.ContentAudio)
			So(msgs[0].AudioDuration, ShouldEqual, 12)

			conv, _ := store.LoadConversation(ctx, resp.ConversationID, "user_001")
			So(conv.Duration, ShouldEqual, 12)
		})
	})
}

func TestChatService_ExchangeStream(t *testing.T) {
	Convey("ChatService 流式交换测试", t, func() {
		store := newFakeStore()
		gen := &fakeGenerator{
			chunks: []string{"你好", "，我是", "助手"},
			usage:  &model.TokenUsage{TotalTokens: 9},
		}
		svc := NewChatService(testConfig(), store, gen)
		ctx := context.Background()

		Convey("片段按序推送且完整落库", func() {
			sink := &fakeSink{failFrom: -1}
			resp, err := svc.Exchange(ctx, "user_001", &model.ChatRequest{Message: "你好"}, sink)
			So(err, ShouldBeNil)
			So(resp.Reply, ShouldEqual, "你好，我是助手")
			So(sink.got, ShouldResemble, []string{"你好", "，我是", "助手"})

			msgs := store.messages(resp.ConversationID)
			So(msgs[1].Content, ShouldEqual, "你好，我是助手")
			So(msgs[1].TokensUsed, ShouldEqual, 9)
		})

		Convey("sink 中途失败不影响生成和落库", func() {
			sink := &fakeSink{failFrom: 1}
			resp, err := svc.Exchange(ctx, "user_001", &model.ChatRequest{Message: "你好"}, sink)
			So(err, ShouldBeNil)
			So(resp.Reply, ShouldEqual, "你好，我是助手")
			So(sink.got, ShouldResemble, []string{"你好"})

			msgs := store.messages(resp.ConversationID)
			So(len(msgs), ShouldEqual, 2)
			So(msgs[1].Content, ShouldEqual, "你好，我是助手")
		})

		Convey("流中途出错时不落库助手回复", func() {
			gen.err = apperr.Provider("AI service temporarily unavailable", errors.New("stream broken"))
			sink := &fakeSink{failFrom: -1}
			_, err := svc.Exchange(ctx, "user_001", &model.ChatRequest{Message: "你好"}, sink)
			So(apperr.KindOf(err), ShouldEqual, apperr.KindProvider)

			var convID string
			for id := range store.convs {
				convID = id
			}
			msgs := store.messages(convID)
			So(len(msgs), ShouldEqual, 1)
			So(msgs[0].Role, ShouldEqual, model.RoleUser)
		})
	})
}

func TestChatService_ConversationSerialized(t *testing.T) {
	Convey("同一对话内交换串行执行", t, func() {
		store := newFakeStore()
		gen := &fakeGenerator{reply: "好的", delay: 10 * time.Millisecond}
		svc := NewChatService(testConfig(), store, gen)
		ctx := context.Background()

		resp, err := svc.Exchange(ctx, "user_001", &model.ChatRequest{Message: "开始"}, nil)
		So(err, ShouldBeNil)

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = svc.Exchange(ctx, "user_001", &model.ChatRequest{
					Message:        "并发消息",
					ConversationID: resp.ConversationID,
				}, nil)
			}()
		}
		wg.Wait()

		So(atomic.LoadInt32(&gen.overlap), ShouldEqual, 0)
		So(len(store.messages(resp.ConversationID)), ShouldEqual, 10)
	})
}
