package media

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/example/chatroom-coordinator/domain/chat"
	"github.com/example/chatroom-coordinator/events"
	"github.com/go-monolith/mono"
)

// Module owns the media store and announces finished video uploads.
type Module struct {
	store    *Store
	eventBus mono.EventBus
	root     string
	workers  int
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.EventBusAwareModule = (*Module)(nil)
var _ mono.EventEmitterModule = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates a media module storing files under root.
func NewModule(root string, videoWorkers int) *Module {
	if root == "" {
		root = "./media"
	}
	return &Module{
		root:    root,
		workers: videoWorkers,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "media"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.MediaUploadedV1.ToBase(),
	}
}

// Start creates the media root.
func (m *Module) Start(_ context.Context) error {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return fmt.Errorf("failed to create media root: %w", err)
	}
	m.store = NewStore(m.root, m.workers)
	log.Printf("[media] Module started (root: %s, video workers: %d)", m.root, m.workers)
	return nil
}

// Stop waits for in-flight video writes.
func (m *Module) Stop(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Close(ctx); err != nil {
		log.Printf("[media] Abandoned pending video uploads: %v", err)
	}
	log.Println("[media] Module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	if m.store == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "media store not initialized",
		}
	}
	if _, err := os.Stat(m.root); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("media root unavailable: %v", err),
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"root":          m.root,
			"video_workers": m.workers,
		},
	}
}

// Store returns the media store.
func (m *Module) Store() *Store {
	return m.store
}

// SaveImage stores an image synchronously and returns its item number.
func (m *Module) SaveImage(username, filename string, src io.Reader) (int64, error) {
	return m.store.SaveImage(username, filename, src)
}

// Retrieve returns the file path of a stored item.
func (m *Module) Retrieve(kind chat.MediaKind, username string, itemNumber int64) (string, error) {
	return m.store.Retrieve(kind, username, itemNumber)
}

// UploadVideo starts an asynchronous video write. When it finishes, a
// MediaUploaded event addressed to appSessionID is published.
func (m *Module) UploadVideo(appSessionID, username, filename string, src io.ReadCloser) (int64, error) {
	return m.store.SaveVideo(username, filename, src, func(n int64, err error) {
		if err != nil {
			return
		}
		m.publishUploaded(appSessionID, username, n, chat.MediaVideo)
	})
}

func (m *Module) publishUploaded(appSessionID, username string, n int64, kind chat.MediaKind) {
	if m.eventBus == nil {
		return
	}
	event := events.MediaUploadedEvent{
		AppSessionID: appSessionID,
		Username:     username,
		ItemNumber:   n,
		Kind:         kind.String(),
		Timestamp:    time.Now(),
	}
	if err := events.MediaUploadedV1.Publish(m.eventBus, event, nil); err != nil {
		log.Printf("[media] Failed to publish MediaUploaded for %s: %v", username, err)
	}
}
