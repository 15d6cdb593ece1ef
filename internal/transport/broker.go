// Package transport is the in-process publish/subscribe bus and its
// websocket rendezvous endpoint for remote nodes.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"simhost/server/internal/observability"
	"simhost/server/internal/telemetry"
	"simhost/server/logging"
	loggingtransport "simhost/server/logging/transport"
)

var (
	// ErrBrokerNotRunning is returned by bus operations before RunThread or
	// after Stop.
	ErrBrokerNotRunning = errors.New("transport: broker not running")
	// ErrBrokerInitialized is returned by a second Init.
	ErrBrokerInitialized = errors.New("transport: broker already initialized")
)

const (
	// BusPath is where remote nodes open their websocket.
	BusPath = "/bus"

	brokerPublishMetricKey  = "transport_published_total"
	brokerRemotesMetricKey  = "transport_remote_connections"
	brokerRejectedMetricKey = "transport_remote_rejected_total"
)

// BrokerConfig tunes the rendezvous endpoint.
type BrokerConfig struct {
	Host string
	// Secret enables HS256 bearer authentication for remote nodes.
	Secret string
	// InboundRate limits frames per second per remote connection. Zero
	// disables limiting.
	InboundRate        float64
	InboundBurst       int
	SubscriptionBuffer int
	Observability      observability.Config
	Logger             telemetry.Logger
	Publisher          logging.Publisher
	Metrics            telemetry.Metrics
}

// Broker matches publishers and subscribers by topic name, locally and for
// remote nodes attached over websocket.
type Broker struct {
	cfg       BrokerConfig
	logger    telemetry.Logger
	publisher logging.Publisher
	metrics   telemetry.Metrics
	auth      *Authenticator
	upgrader  websocket.Upgrader

	mu       sync.RWMutex
	listener net.Listener
	server   *nethttp.Server
	topics   map[string]*topic
	remotes  map[*remoteConn]struct{}

	running  atomic.Bool
	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

type topic struct {
	name       string
	advertised int
	local      map[*Subscription]struct{}
	remote     map[*remoteConn]struct{}
}

type remoteConn struct {
	id      string
	subject string
	addr    string
	conn    *websocket.Conn
	writeMu sync.Mutex
	limiter *rate.Limiter
}

func NewBroker(cfg BrokerConfig) *Broker {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Broker{
		cfg:       cfg,
		logger:    telemetry.WithPrefix(telemetry.OrDefault(cfg.Logger), "[broker] "),
		publisher: publisher,
		metrics:   cfg.Metrics,
		auth:      NewAuthenticator(cfg.Secret),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
		topics:  make(map[string]*topic),
		remotes: make(map[*remoteConn]struct{}),
		done:    make(chan struct{}),
	}
}

// Init binds the rendezvous endpoint. Port zero picks a free port.
func (b *Broker) Init(port int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener != nil {
		return ErrBrokerInitialized
	}
	addr := net.JoinHostPort(b.cfg.Host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind broker on %s: %w", addr, err)
	}

	mux := nethttp.NewServeMux()
	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/topics", b.handleTopics)
	mux.HandleFunc(BusPath, b.handleBus)
	if observability.Register(mux, b.cfg.Observability) {
		b.logger.Printf("pprof handlers enabled")
	}

	b.listener = listener
	b.server = &nethttp.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return nil
}

// RunThread starts serving on a dedicated goroutine. Calling it again, or
// before Init, does nothing.
func (b *Broker) RunThread() {
	b.mu.RLock()
	server, listener := b.server, b.listener
	b.mu.RUnlock()
	if server == nil || b.stopped.Load() || !b.started.CompareAndSwap(false, true) {
		return
	}
	b.running.Store(true)
	b.logger.Printf("listening on %s", listener.Addr())
	go func() {
		defer close(b.done)
		if err := server.Serve(listener); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			b.logger.Printf("serve failed: %v", err)
			b.running.Store(false)
		}
	}()
}

// Running reports whether the broker accepts bus traffic.
func (b *Broker) Running() bool {
	return b != nil && b.running.Load()
}

// Addr is the bound address, or empty before Init.
func (b *Broker) Addr() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Stop closes the listener and every remote connection. It does not wait.
func (b *Broker) Stop() {
	b.stopped.Store(true)
	b.running.Store(false)
	b.stopOnce.Do(func() {
		b.mu.Lock()
		server, listener := b.server, b.listener
		remotes := make([]*remoteConn, 0, len(b.remotes))
		for rc := range b.remotes {
			remotes = append(remotes, rc)
		}
		b.mu.Unlock()

		if server != nil && b.started.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := server.Shutdown(ctx); err != nil {
				server.Close()
			}
			cancel()
		} else if listener != nil {
			listener.Close()
		}
		for _, rc := range remotes {
			rc.conn.Close()
		}
	})
}

// Fini stops the broker, joins the serve goroutine and closes every local
// subscription.
func (b *Broker) Fini() {
	b.Stop()
	if b.started.Load() {
		<-b.done
	}
	b.mu.Lock()
	var subs []*Subscription
	for _, t := range b.topics {
		for sub := range t.local {
			subs = append(subs, sub)
		}
	}
	b.topics = make(map[string]*topic)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}

// Publish fans data out to every subscriber of name.
func (b *Broker) Publish(name string, data []byte) error {
	if !b.Running() {
		return ErrBrokerNotRunning
	}
	b.mu.RLock()
	t := b.topics[name]
	var locals []*Subscription
	var remotes []*remoteConn
	if t != nil {
		for sub := range t.local {
			locals = append(locals, sub)
		}
		for rc := range t.remote {
			remotes = append(remotes, rc)
		}
	}
	b.mu.RUnlock()

	for _, sub := range locals {
		sub.deliver(data)
	}
	if len(remotes) > 0 {
		msg := frame{Op: opMessage, Topic: name, Data: json.RawMessage(data)}
		for _, rc := range remotes {
			if err := rc.write(msg); err != nil {
				b.logger.Printf("failed to forward %s to %s: %v", name, rc.id, err)
			}
		}
	}
	if b.metrics != nil {
		b.metrics.Add(brokerPublishMetricKey, 1)
	}
	return nil
}

// Topics lists every known topic name in order.
func (b *Broker) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.topics))
	for name := range b.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Broker) topicLocked(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{
			name:   name,
			local:  make(map[*Subscription]struct{}),
			remote: make(map[*remoteConn]struct{}),
		}
		b.topics[name] = t
	}
	return t
}

func (b *Broker) advertise(name string) error {
	if !b.Running() {
		return ErrBrokerNotRunning
	}
	b.mu.Lock()
	b.topicLocked(name).advertised++
	b.mu.Unlock()
	return nil
}

func (b *Broker) subscribe(name string, handler func([]byte)) (*Subscription, error) {
	if !b.Running() {
		return nil, ErrBrokerNotRunning
	}
	sub := newSubscription(uuid.NewString(), name, b.cfg.SubscriptionBuffer, handler, b.recordDrop)
	b.mu.Lock()
	b.topicLocked(name).local[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

func (b *Broker) unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if t, ok := b.topics[sub.topic]; ok {
		delete(t.local, sub)
	}
	b.mu.Unlock()
	sub.close()
}

func (b *Broker) recordDrop() {
	if b.metrics != nil {
		b.metrics.Add(subscriptionDropMetricKey, 1)
	}
}

func (b *Broker) handleTopics(w nethttp.ResponseWriter, r *nethttp.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Topics []string `json:"topics"`
	}{Topics: b.Topics()})
}

func (b *Broker) handleBus(w nethttp.ResponseWriter, r *nethttp.Request) {
	ctx := r.Context()
	if !b.Running() {
		nethttp.Error(w, "broker stopping", nethttp.StatusServiceUnavailable)
		return
	}
	subject, err := b.auth.Verify(bearerToken(r.Header.Get("Authorization"), r.URL.Query().Get("token")))
	if err != nil {
		if b.metrics != nil {
			b.metrics.Add(brokerRejectedMetricKey, 1)
		}
		loggingtransport.ClientRejected(ctx, b.publisher, loggingtransport.ClientPayload{RemoteAddr: r.RemoteAddr, Reason: err.Error()})
		nethttp.Error(w, "unauthorized", nethttp.StatusUnauthorized)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Printf("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	rc := &remoteConn{id: uuid.NewString(), subject: subject, addr: r.RemoteAddr, conn: conn}
	if b.cfg.InboundRate > 0 {
		burst := b.cfg.InboundBurst
		if burst <= 0 {
			burst = 1
		}
		rc.limiter = rate.NewLimiter(rate.Limit(b.cfg.InboundRate), burst)
	}

	b.mu.Lock()
	b.remotes[rc] = struct{}{}
	remoteCount := len(b.remotes)
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.Store(brokerRemotesMetricKey, uint64(remoteCount))
	}
	loggingtransport.ClientConnected(ctx, b.publisher, rc.id, loggingtransport.ClientPayload{RemoteAddr: rc.addr})

	defer b.dropRemote(ctx, rc)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg frame
		if err := json.Unmarshal(payload, &msg); err != nil {
			b.logger.Printf("discarding malformed frame from %s: %v", rc.id, err)
			continue
		}
		if rc.limiter != nil && !rc.limiter.Allow() {
			rc.write(frame{Op: opError, Topic: msg.Topic, Error: "rate limited"})
			continue
		}
		b.handleFrame(rc, msg)
	}
}

func (b *Broker) handleFrame(rc *remoteConn, msg frame) {
	if msg.Topic == "" {
		rc.write(frame{Op: opError, Error: "missing topic"})
		return
	}
	switch msg.Op {
	case opAdvertise:
		if err := b.advertise(msg.Topic); err != nil {
			rc.write(frame{Op: opError, Topic: msg.Topic, Error: err.Error()})
		}
	case opSubscribe:
		b.mu.Lock()
		b.topicLocked(msg.Topic).remote[rc] = struct{}{}
		b.mu.Unlock()
	case opUnsubscribe:
		b.mu.Lock()
		if t, ok := b.topics[msg.Topic]; ok {
			delete(t.remote, rc)
		}
		b.mu.Unlock()
	case opPublish:
		if err := b.Publish(msg.Topic, msg.Data); err != nil {
			rc.write(frame{Op: opError, Topic: msg.Topic, Error: err.Error()})
		}
	default:
		rc.write(frame{Op: opError, Topic: msg.Topic, Error: fmt.Sprintf("unknown op %q", msg.Op)})
	}
}

func (b *Broker) dropRemote(ctx context.Context, rc *remoteConn) {
	b.mu.Lock()
	delete(b.remotes, rc)
	for _, t := range b.topics {
		delete(t.remote, rc)
	}
	remoteCount := len(b.remotes)
	b.mu.Unlock()
	rc.conn.Close()
	if b.metrics != nil {
		b.metrics.Store(brokerRemotesMetricKey, uint64(remoteCount))
	}
	loggingtransport.ClientDisconnected(ctx, b.publisher, rc.id, loggingtransport.ClientPayload{RemoteAddr: rc.addr})
}

func (rc *remoteConn) write(msg frame) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	rc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return rc.conn.WriteMessage(websocket.TextMessage, data)
}
