package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"

	defaultHistory = 1000
)

// Notification is one delivery attempt and its outcome.
type Notification struct {
	ID         string            `json:"id"`
	Channel    Channel           `json:"channel"`
	Recipient  string            `json:"recipient"`
	Subject    string            `json:"subject,omitempty"`
	Body       string            `json:"body"`
	TemplateID string            `json:"template_id,omitempty"`
	Status     string            `json:"status"`
	Attempts   int               `json:"attempts"`
	CreatedAt  time.Time         `json:"created_at"`
	SentAt     *time.Time        `json:"sent_at,omitempty"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Manager sends notifications and keeps a bounded in-memory history of
// recent attempts for inspection and retry.
type Manager struct {
	email     EmailSender
	whatsapp  WhatsAppSender
	templates *TemplateEngine
	log       zerolog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	history map[string]*Notification
	order   []string
	max     int
}

func NewManager(email EmailSender, whatsapp WhatsAppSender, tpl *TemplateEngine, log zerolog.Logger) *Manager {
	return &Manager{
		email:     email,
		whatsapp:  whatsapp,
		templates: tpl,
		log:       log.With().Str("component", "notification").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		history:   make(map[string]*Notification),
		max:       defaultHistory,
	}
}

// Send delivers n and records the attempt. The returned error is the
// sender's; n is recorded either way.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = m.now()
	err := m.deliver(ctx, n)
	m.remember(n)
	return err
}

// SendTemplate renders template id for ch and sends it to recipient.
func (m *Manager) SendTemplate(ctx context.Context, id string, ch Channel, recipient string, data map[string]string) (*Notification, error) {
	subject, body, err := m.templates.Render(id, ch, data)
	if err != nil {
		return nil, err
	}
	n := &Notification{
		Channel:    ch,
		Recipient:  recipient,
		Subject:    subject,
		Body:       body,
		TemplateID: id,
	}
	return n, m.Send(ctx, n)
}

func (m *Manager) deliver(ctx context.Context, n *Notification) error {
	var err error
	switch n.Channel {
	case ChannelEmail:
		err = m.email.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	case ChannelWhatsApp:
		err = m.whatsapp.SendWhatsApp(ctx, n.Recipient, n.Body)
	default:
		err = fmt.Errorf("unsupported channel %q", n.Channel)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n.Attempts++
	if err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
		m.log.Warn().Err(err).Str("notification_id", n.ID).Str("channel", string(n.Channel)).Msg("notification failed")
		return err
	}
	sentAt := m.now()
	n.Status, n.Error, n.SentAt = StatusSent, "", &sentAt
	return nil
}

func (m *Manager) remember(n *Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.history[n.ID]; !ok {
		m.order = append(m.order, n.ID)
	}
	m.history[n.ID] = n
	for len(m.order) > m.max {
		delete(m.history, m.order[0])
		m.order = m.order[1:]
	}
}

func (m *Manager) Get(id string) (*Notification, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.history[id]
	return n, ok
}

// Retry re-sends a failed notification.
func (m *Manager) Retry(ctx context.Context, id string) (*Notification, error) {
	n, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("notification %q not found", id)
	}
	m.mu.RLock()
	status := n.Status
	m.mu.RUnlock()
	if status != StatusFailed {
		return nil, fmt.Errorf("notification %q is %s, only failed notifications can be retried", id, status)
	}
	return n, m.deliver(ctx, n)
}

// Stats counts recorded notifications by status.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]int)
	for _, n := range m.history {
		stats[n.Status]++
	}
	return stats
}
