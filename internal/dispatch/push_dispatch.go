package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-booking/internal/models"
)

const pushTimeout = 3 * time.Second

// PushNotifier delivers over the user's websocket when one is open and falls
// back to an HTTP push gateway otherwise.
type PushNotifier struct {
	Endpoint string
	Token    string
	Client   *http.Client
	WS       *WSRegistry
}

func NewPushNotifier(endpoint, token string, ws *WSRegistry) *PushNotifier {
	return &PushNotifier{Endpoint: endpoint, Token: token, Client: &http.Client{Timeout: pushTimeout}, WS: ws}
}

func (p *PushNotifier) Send(userID string, ev models.BookingEvent) error {
	if p.WS != nil {
		err := p.WS.Send(userID, ev)
		if err == nil || p.Endpoint == "" {
			return err
		}
		// No session or a broken one (already dropped): use the gateway.
	}
	if p.Endpoint == "" {
		return ErrNoSession
	}
	return p.post(userID, ev)
}

func (p *PushNotifier) post(userID string, ev models.BookingEvent) error {
	b, err := json.Marshal(map[string]any{"user_id": userID, "event": ev})
	if err != nil {
		return fmt.Errorf("encode push: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("push gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push gateway returned %d", resp.StatusCode)
	}
	return nil
}
