package notify

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/blackmichael/drops-backend/internal/domain"
	"github.com/blackmichael/drops-backend/internal/metrics"
	"github.com/blackmichael/drops-backend/internal/push"
)

// Gateway delivers a push message to one device.
type Gateway interface {
	Send(ctx context.Context, msg push.Message) error
}

// Config tunes the dispatcher.
type Config struct {
	Workers     int
	QueueSize   int
	PushTimeout time.Duration
}

type job struct {
	userID       string
	notification domain.Notification
}

// Dispatcher delivers notifications in the background. Notify never blocks
// the caller: work is queued on a bounded channel and drained by a fixed
// pool of workers.
type Dispatcher struct {
	devices   domain.DeviceRegistry
	gateway   Gateway
	templates *Templates
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cfg       Config

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Call Start to begin delivering.
func NewDispatcher(devices domain.DeviceRegistry, gateway Gateway, templates *Templates, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 5 * time.Second
	}
	return &Dispatcher{
		devices:   devices,
		gateway:   gateway,
		templates: templates,
		logger:    logger,
		metrics:   m,
		cfg:       cfg,
		queue:     make(chan job, cfg.QueueSize),
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for j := range d.queue {
				d.deliver(j)
			}
		}()
	}
}

// Notify queues a notification for userID. When the queue is full or the
// dispatcher is closed the notification is dropped.
func (d *Dispatcher) Notify(userID string, n domain.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.metrics.Notification(n.Category, metrics.NotificationDropped)
		return
	}
	select {
	case d.queue <- job{userID: userID, notification: n}:
	default:
		d.logger.Warn("notification queue full, dropping", "user_id", userID, "category", n.Category)
		d.metrics.Notification(n.Category, metrics.NotificationDropped)
	}
}

// Close stops accepting notifications and waits for queued ones to be
// delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) deliver(j job) {
	n := j.notification
	title, body := n.Title, n.Body
	if title == "" || body == "" {
		t, b, err := d.templates.Render(n.Category, n.Data)
		if err != nil {
			d.logger.Error("failed to render notification", "category", n.Category, "error", err)
		}
		if title == "" {
			title = t
		}
		if body == "" {
			body = b
		}
	}

	lookupCtx, cancel := context.WithTimeout(context.Background(), d.cfg.PushTimeout)
	devices, err := d.devices.ActiveDevices(lookupCtx, j.userID)
	cancel()
	if err != nil {
		d.logger.Error("failed to load devices", "user_id", j.userID, "error", err)
		d.metrics.Notification(n.Category, metrics.NotificationFailed)
		return
	}
	if len(devices) == 0 {
		d.metrics.Notification(n.Category, metrics.NotificationNoDevices)
		return
	}

	data := make(map[string]string, len(n.Data)+1)
	maps.Copy(data, n.Data)
	data["type"] = n.Category

	for _, dev := range devices {
		d.sendToDevice(dev, push.Message{
			Token:    dev.Token,
			Platform: dev.Platform,
			Title:    title,
			Body:     body,
			Data:     data,
		}, n.Category)
	}
}

func (d *Dispatcher) sendToDevice(dev domain.Device, msg push.Message, category string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PushTimeout)
	defer cancel()

	err := d.gateway.Send(ctx, msg)
	switch {
	case err == nil:
		d.metrics.Notification(category, metrics.NotificationSent)
	case errors.Is(err, push.ErrUnregistered):
		d.logger.Info("deactivating unregistered device", "device_id", dev.ID, "user_id", dev.UserID)
		if err := d.devices.DeactivateDevice(ctx, dev.ID); err != nil {
			d.logger.Error("failed to deactivate device", "device_id", dev.ID, "error", err)
		}
		d.metrics.Notification(category, metrics.NotificationDeactivated)
	default:
		d.logger.Warn("push delivery failed", "device_id", dev.ID, "category", category, "error", err)
		d.metrics.Notification(category, metrics.NotificationFailed)
	}
}
