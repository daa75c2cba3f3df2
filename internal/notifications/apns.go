package notifications

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// APNsConfig holds configuration for Apple Push Notification service
type APNsConfig struct {
	KeyPath    string // Path to .p8 key file
	KeyID      string // Key ID from Apple Developer Portal
	TeamID     string // Team ID from Apple Developer Portal
	BundleID   string // Operator app bundle ID
	Production bool   // Use production environment
}

type pusher interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// APNsClient sends push notifications to the operator app
type APNsClient struct {
	client   pusher
	bundleID string
	logger   *log.Logger
	mu       sync.Mutex
}

// NewAPNsClient creates a new APNs client. Missing configuration yields a
// nil client, on which every send is a no-op.
func NewAPNsClient(cfg APNsConfig, logger *log.Logger) (*APNsClient, error) {
	if cfg.KeyPath == "" || cfg.KeyID == "" || cfg.TeamID == "" || cfg.BundleID == "" {
		logger.Println("APNs: missing configuration, push notifications disabled")
		return nil, nil
	}

	keyBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read APNs key file: %w", err)
	}

	block, _ := pem.Decode(keyBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode APNs key PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs key: %w", err)
	}

	ecdsaKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("APNs key is not an ECDSA private key")
	}

	authToken := &token.Token{
		AuthKey: ecdsaKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	var client *apns2.Client
	if cfg.Production {
		client = apns2.NewTokenClient(authToken).Production()
	} else {
		client = apns2.NewTokenClient(authToken).Development()
	}

	logger.Printf("APNs: client initialized (production=%v, bundle=%s)", cfg.Production, cfg.BundleID)

	return &APNsClient{
		client:   client,
		bundleID: cfg.BundleID,
		logger:   logger,
	}, nil
}

func (c *APNsClient) push(n *apns2.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.client.Push(n)
	if err != nil {
		return err
	}
	if res.StatusCode != 200 {
		return fmt.Errorf("APNs rejected notification (status=%d): %s", res.StatusCode, res.Reason)
	}
	return nil
}

// SendEscalation alerts an operator that a caller needs a human.
func (c *APNsClient) SendEscalation(deviceToken string, e Escalation) error {
	if c == nil || c.client == nil {
		return nil
	}

	p := payload.NewPayload().
		AlertTitle("Потрібен оператор").
		AlertBody(e.summary()).
		Sound("default").
		ThreadID("escalations").
		Custom("session_id", e.SessionID).
		Custom("urgency", e.Urgency)

	err := c.push(&apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       c.bundleID,
		Payload:     p,
		Expiration:  time.Now().Add(1 * time.Hour),
	})
	if err != nil {
		c.logger.Printf("APNs: failed to send escalation: %v", err)
		return err
	}

	c.logger.Printf("APNs: escalation sent to %s...", shortToken(deviceToken))
	return nil
}

// SendTestNotification sends a test notification
func (c *APNsClient) SendTestNotification(deviceToken, message string) error {
	if c == nil || c.client == nil {
		return nil
	}

	p := payload.NewPayload().
		AlertTitle("Гаряча лінія").
		AlertBody(message).
		Sound("default")

	return c.push(&apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       c.bundleID,
		Payload:     p,
		Expiration:  time.Now().Add(1 * time.Hour),
	})
}

func shortToken(t string) string {
	if len(t) > 16 {
		return t[:16]
	}
	return t
}
