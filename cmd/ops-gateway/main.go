// cmd/ops-gateway/main.go
package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"circuitbay/internal/pkg/bootstrap"
	"circuitbay/internal/pkg/logger"
	"circuitbay/internal/pkg/mq"
	"circuitbay/internal/service/order/domain"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
)

const (
	serviceName       = "ops-gateway"
	notificationTopic = "notifications"
	consumerGroup     = "ops-gateway"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// operationsRecipient 是运营告警的保留收件人，saga_parked 等 critical
// 事件都投到这里，由在线的运营客户端实时接收。
const operationsRecipient = "operations"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// delivery 是一条待分发的事件：信封决定路由，raw 原样推给客户端。
type delivery struct {
	envelope domain.Envelope
	raw      []byte
}

// Hub 维护所有活跃连接并按收件人分发通知。
type Hub struct {
	clients    map[string]map[*Client]struct{} // recipientID -> 该用户的所有连接
	register   chan *Client
	unregister chan *Client
	deliver    chan delivery
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan delivery, 256),
	}
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			if h.clients[client.recipientID] == nil {
				h.clients[client.recipientID] = make(map[*Client]struct{})
			}
			h.clients[client.recipientID][client] = struct{}{}
			logger.Logger.Info().Str("recipient", client.recipientID).Msg("client connected")
		case client := <-h.unregister:
			if conns, ok := h.clients[client.recipientID]; ok {
				if _, ok := conns[client]; ok {
					delete(conns, client)
					close(client.send)
					if len(conns) == 0 {
						delete(h.clients, client.recipientID)
					}
				}
			}
		case d := <-h.deliver:
			h.dispatch(d)
		case <-ctx.Done():
			return
		}
	}
}

// dispatch 把事件推给收件人的所有连接；critical 级别额外抄送运营。
func (h *Hub) dispatch(d delivery) {
	targets := map[string]struct{}{d.envelope.RecipientID: {}}
	if d.envelope.Priority == "critical" {
		targets[operationsRecipient] = struct{}{}
	}
	for recipient := range targets {
		for client := range h.clients[recipient] {
			select {
			case client.send <- d.raw:
			default:
				// 写缓冲打满说明客户端已经跟不上，断开由 writePump 兜底
			}
		}
	}
}

// Client 是一条 WebSocket 连接。
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	recipientID string
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		// 入站只用于心跳，消息内容直接丢弃
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	recipientID := r.URL.Query().Get("recipientId")
	if recipientID == "" {
		http.Error(w, "recipientId is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 64), recipientID: recipientID}
	hub.register <- client

	go client.writePump()
	go client.readPump()
}

// consume 从通知主题读消息并交给 Hub 分发。
// 推送是尽力而为的：解码失败、类型未登记或无人在线都直接提交 offset。
func consume(ctx context.Context, reader *kafka.Reader, hub *Hub, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Logger.Error().Err(err).Msg("could not read notification, retrying")
			time.Sleep(time.Second)
			continue
		}

		env, _, err := domain.UnwrapEvent(msg.Value)
		if err != nil {
			logger.Logger.Warn().Err(err).Msg("malformed notification skipped")
			continue
		}
		select {
		case hub.deliver <- delivery{envelope: env, raw: msg.Value}:
		case <-ctx.Done():
			return
		}
	}
}

func main() {
	cfg := bootstrap.GetCurrentConfig()

	reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, notificationTopic, consumerGroup)
	hub := newHub()

	runCtx, cancel := context.WithCancel(context.Background())
	go hub.run(runCtx)

	var wg sync.WaitGroup
	wg.Add(1)
	go consume(runCtx, reader, hub, &wg)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8088,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
				serveWs(hub, w, r)
			})
		},
		OnShutdown: func(ctx context.Context) {
			cancel()
			reader.Close()
			wg.Wait()
		},
	})
}
