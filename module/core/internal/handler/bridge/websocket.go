package bridge

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
)

const (
	writeWait = 10 * time.Second

	// maxPostbackSize bounds one surface message. Larger frames fail the
	// session.
	maxPostbackSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsInjector queues commands for one websocket and writes them from a
// single goroutine.
type wsInjector struct {
	conn  *websocket.Conn
	queue chan Command
	done  chan struct{}
	once  sync.Once
}

func newWSInjector(conn *websocket.Conn, queueSize int) *wsInjector {
	return &wsInjector{
		conn:  conn,
		queue: make(chan Command, queueSize),
		done:  make(chan struct{}),
	}
}

func (w *wsInjector) Inject(cmd Command) bool {
	select {
	case <-w.done:
		return false
	default:
	}
	select {
	case w.queue <- cmd:
		return true
	default:
		return false
	}
}

func (w *wsInjector) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}

func (w *wsInjector) writeLoop(onError func(error)) {
	for {
		select {
		case cmd := <-w.queue:
			data, err := EncodeCommand(cmd)
			if err != nil {
				onError(err)
				continue
			}
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				onError(fmt.Errorf("%w: write: %v", domain.ErrSurfaceLoad, err))
				return
			}
		case <-w.done:
			return
		}
	}
}

// ServeSurface upgrades the request and runs the surface's read loop until
// the connection ends.
func (b *Bridge) ServeSurface(c *gin.Context) {
	surfaceID := c.Param("surface")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		b.log.WithError(err).WithField("surface", surfaceID).Warn("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPostbackSize)

	inj := newWSInjector(conn, b.cfg.QueueSize)
	sess := b.Attach(surfaceID, inj)
	go inj.writeLoop(func(err error) {
		sess.log.WithError(err).Warn("surface write failed")
		if errors.Is(err, domain.ErrSurfaceLoad) {
			b.Fail(surfaceID, inj, err)
		}
	})

	ctx := c.Request.Context()
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.Detach(surfaceID, inj)
				_ = inj.Close()
			} else {
				b.Fail(surfaceID, inj, fmt.Errorf("%w: %v", domain.ErrSurfaceLoad, err))
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		_ = b.HandlePostback(ctx, surfaceID, data)
	}
}
