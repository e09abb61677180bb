package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	. "github.com/smartystreets/goconvey/convey"

	"parley/internal/model"
	"parley/internal/pkg/apperr"
)

// fakeConvManager 记录调用的对话管理服务
type fakeConvManager struct {
	convs   []*model.Conversation
	msgs    []model.Message
	err     error
	cleared []string
}

func (f *fakeConvManager) List(ctx context.Context, userID string, limit, offset int64) ([]*model.Conversation, error) {
	return f.convs, f.err
}

func (f *fakeConvManager) Get(ctx context.Context, id, userID string) (*model.Conversation, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.convs) == 0 {
		return nil, apperr.NotFound("Conversation not found")
	}
	return f.convs[0], nil
}

func (f *fakeConvManager) Archive(ctx context.Context, id, userID string) error { return f.err }
func (f *fakeConvManager) Delete(ctx context.Context, id, userID string) error  { return f.err }

func (f *fakeConvManager) Clear(ctx context.Context, id, userID string) error {
	if f.err != nil {
		return f.err
	}
	f.cleared = append(f.cleared, id)
	return nil
}

func (f *fakeConvManager) Transcript(ctx context.Context, id, userID string, limit int) ([]model.Message, error) {
	return f.msgs, f.err
}

func newConvRouter(svc ConversationManager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(withUser("user_001"))
	h := NewConversationHandler(svc)
	r.GET("/api/v1/conversations", h.List)
	r.GET("/api/v1/conversations/:id", h.Get)
	r.POST("/api/v1/conversations/:id/archive", h.Archive)
	r.DELETE("/api/v1/conversations/:id", h.Delete)
	r.POST("/api/v1/conversations/:id/clear", h.Clear)
	r.GET("/api/v1/conversations/:id/messages", h.Messages)
	return r
}

func TestConversationHandler(t *testing.T) {
	Convey("对话管理接口测试", t, func() {
		svc := &fakeConvManager{
			convs: []*model.Conversation{
				{UserID: "user_001", Title: "第一个对话"},
			},
			msgs: []model.Message{
				{Role: model.RoleUser, Content: "你好"},
				{Role: model.RoleAssistant, Content: "你好，有什么可以帮你"},
			},
		}
		r := newConvRouter(svc)

		Convey("列表返回对话和总数", func() {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"total":1`)
			So(w.Body.String(), ShouldContainSubstring, "第一个对话")
		})

		Convey("详情返回单个对话", func() {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/conversations/abc123", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "第一个对话")
		})

		Convey("不存在的对话返回 404", func() {
			svc.err = apperr.NotFound("Conversation not found")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/conversations/missing", nil))
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(w.Body.String(), ShouldContainSubstring, `"code":40401`)
		})

		Convey("清空上下文", func() {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/conversations/abc123/clear", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(svc.cleared, ShouldResemble, []string{"abc123"})
		})

		Convey("消息记录按正序返回", func() {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/conversations/abc123/messages", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"total":2`)
		})

		Convey("归档和删除", func() {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/conversations/abc123/archive", nil))
			So(w.Code, ShouldEqual, http.StatusOK)

			w = httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/conversations/abc123", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
		})
	})
}
