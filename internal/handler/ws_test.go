package handler

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"parley/internal/model"
	"parley/internal/pkg/apperr"
	"parley/internal/pkg/ratelimit"
)

func newWSServer(svc Exchanger, policy ratelimit.Policy) (*httptest.Server, *ratelimit.Registry) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(withUser("user_001"))

	registry := ratelimit.NewRegistry(policy)
	h := NewWSHandler(svc, registry)
	r.GET("/api/v1/chat/ws", h.Serve)

	return httptest.NewServer(r), registry
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestWSHandler(t *testing.T) {
	Convey("WebSocket 双工对话测试", t, func() {
		policy := ratelimit.Policy{Name: "expensive", MaxRequests: 100, Window: time.Minute}

		Convey("一条连接顺序承载多轮交换", func() {
			svc := &fakeExchanger{
				resp: &model.ChatResponse{Reply: "好的", ConversationID: "abc123"},
			}
			srv, _ := newWSServer(svc, policy)
			defer srv.Close()

			conn := dialWS(t, srv)
			defer conn.Close()

			for i := 0; i < 3; i++ {
				So(conn.WriteJSON(&model.ChatRequest{Message: "你好"}), ShouldBeNil)

				var frame model.WSFrame
				So(conn.ReadJSON(&frame), ShouldBeNil)
				So(frame.Type, ShouldEqual, "message")
				So(frame.Data.Reply, ShouldEqual, "好的")
				So(frame.Data.ConversationID, ShouldEqual, "abc123")
			}
		})

		Convey("交换失败时推送错误帧且连接保持", func() {
			svc := &fakeExchanger{
				err: apperr.Provider("AI service temporarily unavailable", nil),
			}
			srv, _ := newWSServer(svc, policy)
			defer srv.Close()

			conn := dialWS(t, srv)
			defer conn.Close()

			So(conn.WriteJSON(&model.ChatRequest{Message: "你好"}), ShouldBeNil)

			var frame model.WSFrame
			So(conn.ReadJSON(&frame), ShouldBeNil)
			So(frame.Type, ShouldEqual, "error")
			So(frame.Message, ShouldContainSubstring, "AI service")

			// 连接未断开，后续帧正常处理
			svc.err = nil
			svc.resp = &model.ChatResponse{Reply: "恢复了", ConversationID: "abc123"}
			So(conn.WriteJSON(&model.ChatRequest{Message: "再试一次"}), ShouldBeNil)
			So(conn.ReadJSON(&frame), ShouldBeNil)
			So(frame.Type, ShouldEqual, "message")
		})

		Convey("每个入站帧独立限流", func() {
			svc := &fakeExchanger{
				resp: &model.ChatResponse{Reply: "好的", ConversationID: "abc123"},
			}
			tight := ratelimit.Policy{Name: "expensive", MaxRequests: 2, Window: time.Minute}
			srv, _ := newWSServer(svc, tight)
			defer srv.Close()

			conn := dialWS(t, srv)
			defer conn.Close()

			var frame model.WSFrame
			for i := 0; i < 2; i++ {
				So(conn.WriteJSON(&model.ChatRequest{Message: "你好"}), ShouldBeNil)
				So(conn.ReadJSON(&frame), ShouldBeNil)
				So(frame.Type, ShouldEqual, "message")
			}

			// 令牌耗尽，第三帧被拒绝但连接保持
			So(conn.WriteJSON(&model.ChatRequest{Message: "你好"}), ShouldBeNil)
			So(conn.ReadJSON(&frame), ShouldBeNil)
			So(frame.Type, ShouldEqual, "error")
			So(frame.RetryAfter, ShouldBeGreaterThan, 0)
		})
	})
}
